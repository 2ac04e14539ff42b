// ABOUTME: Streaming adapters that bridge hub subscriptions to live client connections
// ABOUTME: SSE with periodic keepalive comments, plus a WebSocket variant

package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/woodstock-ai/inbox-gateway/internal/hub"
)

// DefaultKeepaliveInterval is how often an idle stream emits a keepalive
// frame so proxies don't reap the connection.
const DefaultKeepaliveInterval = 30 * time.Second

// connState tracks a stream connection's lifecycle.
type connState int

const (
	stateConnecting connState = iota
	stateStreaming
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnecting:
		return "connecting"
	case stateStreaming:
		return "streaming"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Streamer serves live event streams backed by hub subscriptions. Each
// connection holds exactly one subscription, released on every exit path.
type Streamer struct {
	hub       *hub.Hub
	keepalive time.Duration
	logger    *slog.Logger
}

// NewStreamer creates a streamer. A zero keepalive falls back to the
// default, nil logger to slog.Default().
func NewStreamer(h *hub.Hub, keepalive time.Duration, logger *slog.Logger) *Streamer {
	if keepalive <= 0 {
		keepalive = DefaultKeepaliveInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Streamer{
		hub:       h,
		keepalive: keepalive,
		logger:    logger.With("component", "stream"),
	}
}

// ServeSSE streams hub events for topic to the client as Server-Sent
// Events until the request context is cancelled or the subscription is
// closed. Frames are data-only JSON objects with a "type" field; idle
// periods are bridged with ": keepalive" comment frames. The first frame
// is always a synthetic connected acknowledgment.
func (s *Streamer) ServeSSE(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	state := stateConnecting
	logger := s.logger.With("topic", topic, "remote", r.RemoteAddr)
	logger.Debug("stream opened", "state", state)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	events, subID := s.hub.Subscribe(ctx, topic)
	defer func() {
		s.hub.Unsubscribe(topic, subID)
		logger.Debug("stream closed", "state", stateClosed)
	}()

	if err := writeSSEData(w, connectedFrame(topic)); err != nil {
		return
	}
	flusher.Flush()
	state = stateStreaming
	logger.Debug("stream connected", "state", state, "sub_id", subID)

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, open := <-events:
			if !open {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warn("failed to marshal stream event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// connectedFrame builds the synthetic acknowledgment sent before any
// broadcast events.
func connectedFrame(topic string) map[string]any {
	frame := map[string]any{
		"type":      "connected",
		"timestamp": time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if topic == hub.GlobalTopic {
		frame["topic"] = hub.GlobalTopic
	} else {
		frame["conversation_id"] = topic
	}
	return frame
}

func writeSSEData(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
