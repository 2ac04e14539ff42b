// ABOUTME: WebSocket stream variant for clients that can't use SSE
// ABOUTME: Same hub subscription lifecycle, ping control frames as keepalive

package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Streams carry no client input and sit behind the gateway's routing,
	// so cross-origin dials are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS streams hub events for topic over a WebSocket connection. The
// client is not expected to send anything; its read side is drained only
// to detect disconnects. Keepalive uses ping control frames instead of
// SSE comments.
func (s *Streamer) ServeWS(w http.ResponseWriter, r *http.Request, topic string) {
	logger := s.logger.With("topic", topic, "remote", r.RemoteAddr)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, subID := s.hub.Subscribe(ctx, topic)
	defer s.hub.Unsubscribe(topic, subID)
	logger.Debug("websocket stream connected", "sub_id", subID)

	// Read pump: discard inbound frames, cancel on disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeWS(conn, connectedFrame(topic)); err != nil {
		return
	}

	keepalive := time.NewTicker(s.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case msg, open := <-events:
			if !open {
				return
			}
			if err := s.writeWS(conn, msg); err != nil {
				return
			}
		}
	}
}

func (s *Streamer) writeWS(conn *websocket.Conn, payload any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(payload)
}
