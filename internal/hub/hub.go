// ABOUTME: In-memory topic-based fan-out hub for live conversation events
// ABOUTME: Publishes ephemeral messages to all subscribers of a conversation or the global topic

package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// GlobalTopic is the reserved topic for cross-conversation sidebar
	// notifications (new conversation, status change).
	GlobalTopic = "global"

	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Message is an ephemeral broadcast event. It is never persisted; a topic
// with no subscribers drops it, and late subscribers never see it.
type Message struct {
	Topic     string
	Type      string
	Payload   map[string]any
	Timestamp time.Time
}

// MarshalJSON flattens the payload into the top-level object alongside
// type and timestamp, matching the wire format stream clients expect.
func (m *Message) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Payload)+2)
	for k, v := range m.Payload {
		out[k] = v
	}
	out["type"] = m.Type
	if !m.Timestamp.IsZero() {
		out["timestamp"] = m.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	return json.Marshal(out)
}

// Hub provides in-memory pub/sub keyed by conversation id, plus the
// reserved global topic. Topics exist only while they have subscribers:
// the entry is created on first subscribe and removed when the last
// subscriber leaves.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Message // topic -> subID -> ch
	logger      *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subscribers: make(map[string]map[string]chan *Message),
		logger:      logger.With("component", "hub"),
	}
}

// Subscribe registers a subscriber for events on the given topic. Returns
// a channel that receives events and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (h *Hub) Subscribe(ctx context.Context, topic string) (<-chan *Message, string) {
	subID := uuid.New().String()
	ch := make(chan *Message, subscriberBufferSize)

	h.mu.Lock()
	if _, ok := h.subscribers[topic]; !ok {
		h.subscribers[topic] = make(map[string]chan *Message)
	}
	h.subscribers[topic][subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		h.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers the message to every subscriber registered under topic
// at the time of the call. Delivery is best-effort and at-most-once: a
// subscriber whose buffer is full has this event dropped, and a topic with
// no subscribers drops the event entirely.
//
// Sends happen under the read lock. Unsubscribe closes channels under the
// write lock, so a racing unsubscribe can never close a channel while a
// delivery pass is iterating over it. Sends are non-blocking, so the lock
// is held only briefly and a slow consumer never stalls the publisher.
func (h *Hub) Publish(topic string, msg *Message) {
	msg.Topic = topic
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	subs, ok := h.subscribers[topic]
	if !ok || len(subs) == 0 {
		h.mu.RUnlock()
		return
	}

	delivered := 0
	for _, ch := range subs {
		select {
		case ch <- msg:
			delivered++
		default:
			// Subscriber buffer full — drop event for this subscriber
			h.logger.Debug("dropped event for slow subscriber",
				"topic", topic, "event_type", msg.Type)
		}
	}
	h.mu.RUnlock()

	h.logger.Debug("event published",
		"topic", topic, "event_type", msg.Type, "delivered", delivered)
}

// PublishGlobal delivers the message to every subscriber of the reserved
// global topic. Used for sidebar notifications that span conversations.
func (h *Hub) PublishGlobal(msg *Message) {
	h.Publish(GlobalTopic, msg)
}

// Unsubscribe removes a subscription and closes its channel. Idempotent:
// unsubscribing twice, or after the topic has already been pruned, is a
// no-op. The topic entry is removed when its last subscriber leaves.
func (h *Hub) Unsubscribe(topic, subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(h.subscribers, topic)
	}

	h.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// SubscriberCount returns the number of subscribers currently registered
// under topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[topic])
}

// Close shuts down the hub and closes all subscriber channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for topic, subs := range h.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(h.subscribers, topic)
	}

	h.logger.Debug("hub closed")
}
