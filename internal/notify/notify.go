// ABOUTME: Outbound webhook notifier that pushes new-message events to the inbox console
// ABOUTME: Fire-and-forget: a dead or slow webhook never disturbs the conversation path

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultTimeout = 5 * time.Second

// Notification describes one inbox webhook delivery.
type Notification struct {
	ConversationID    string
	MessageID         string
	Content           string
	Author            string
	SenderID          string
	SenderName        string
	Timestamp         time.Time
	IsNewConversation bool
}

// Notifier posts notifications to the configured inbox webhook. An empty
// URL disables it entirely.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

// NewNotifier creates a notifier for webhookURL. A zero timeout falls
// back to the default.
func NewNotifier(webhookURL string, timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With("component", "notify"),
	}
}

// Enabled reports whether a webhook URL is configured.
func (n *Notifier) Enabled() bool {
	return n.webhookURL != ""
}

// Send delivers one notification. Callers run it from a background task;
// the returned error is for logging, not retrying.
func (n *Notifier) Send(ctx context.Context, note Notification) error {
	if !n.Enabled() {
		return nil
	}

	ts := note.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	payload := map[string]any{
		"conversation_id": note.ConversationID,
		"message_id":      note.MessageID,
		"message":         note.Content,
		"content":         note.Content,
		"author":          note.Author,
		"sender": map[string]any{
			"id":   note.SenderID,
			"name": note.SenderName,
			"type": note.Author,
		},
		"timestamp":           ts.UTC().Format(time.RFC3339),
		"is_new_conversation": note.IsNewConversation,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Debug("webhook delivered",
		"conversation_id", note.ConversationID, "status", resp.StatusCode)
	return nil
}
