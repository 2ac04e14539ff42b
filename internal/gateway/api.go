// ABOUTME: HTTP API handlers for the inbox console and the producer runtime
// ABOUTME: Conversation listing, message injection, read/AI toggles, and session CRUD

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/woodstock-ai/inbox-gateway/internal/hub"
	"github.com/woodstock-ai/inbox-gateway/internal/notify"
	"github.com/woodstock-ai/inbox-gateway/internal/store"
)

// aiPausedMarker is the internal event content the producer injects when
// the AI is paused; it never reaches operators or end users.
const aiPausedMarker = "__AI_PAUSED__"

const previewMaxLen = 100

// ConversationSummary is one row in the inbox sidebar.
type ConversationSummary struct {
	ID                 string `json:"conversation_id"`
	UserID             string `json:"user_id"`
	UserName           string `json:"user_name,omitempty"`
	LastMessagePreview string `json:"last_message_preview"`
	MessageCount       int    `json:"message_count"`
	IsRead             bool   `json:"is_read"`
	AIPaused           bool   `json:"ai_paused"`
	EscalationReason   string `json:"escalation_reason,omitempty"`
	UpdatedAt          string `json:"updated_at"`
}

// MessageResponse is one displayable message within a conversation.
type MessageResponse struct {
	ID        string `json:"id"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// SendMessageRequest is the JSON body for POST /api/inbox/messages.
type SendMessageRequest struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Author         string `json:"author"`
}

// ToggleAIRequest is the JSON body for POST /api/inbox/toggle-ai.
type ToggleAIRequest struct {
	ConversationID string `json:"conversation_id"`
	Paused         bool   `json:"paused"`
	Reason         string `json:"reason"`
}

// CreateSessionRequest is the JSON body for POST /api/sessions.
type CreateSessionRequest struct {
	ID      string         `json:"id"`
	AppName string         `json:"app_name"`
	UserID  string         `json:"user_id"`
	State   map[string]any `json:"state"`
}

// SaveSessionRequest is the JSON body for PUT /api/sessions/{id}, the
// producer's end-of-turn save.
type SaveSessionRequest struct {
	AppName string         `json:"app_name"`
	UserID  string         `json:"user_id"`
	Events  []store.Event  `json:"events"`
	State   map[string]any `json:"state"`
}

func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// displayable reports whether an event should be shown to operators.
// Empty events and the internal AI-paused marker are hidden.
func displayable(e store.Event) bool {
	return e.Content != "" && e.Content != aiPausedMarker
}

func summarize(sess *store.Session) ConversationSummary {
	preview := ""
	count := 0
	for _, e := range sess.Events {
		if !displayable(e) {
			continue
		}
		count++
		preview = e.Content
	}
	if len(preview) > previewMaxLen {
		preview = preview[:previewMaxLen]
	}

	return ConversationSummary{
		ID:                 sess.ID,
		UserID:             sess.UserID,
		UserName:           sess.StateString("user_name"),
		LastMessagePreview: preview,
		MessageCount:       count,
		IsRead:             sess.StateBool("is_read", true),
		AIPaused:           sess.StateBool("ai_paused", false),
		EscalationReason:   sess.StateString("escalation_reason"),
		UpdatedAt:          formatTimestamp(sess.UpdatedAt),
	}
}

// handleListConversations handles GET /api/inbox/conversations.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	sessions, err := g.sessions.List(r.Context(), g.appName)
	if err != nil {
		g.logger.Error("failed to list conversations", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ConversationSummary, 0, len(sessions))
	for _, sess := range sessions {
		response = append(response, summarize(sess))
	}
	g.sendJSON(w, http.StatusOK, response)
}

// handleConversationMessages handles GET /api/inbox/conversations/{id}/messages.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.fetchSession(w, r)
	if !ok {
		return
	}

	messages := make([]MessageResponse, 0, len(sess.Events))
	for _, e := range sess.Events {
		if !displayable(e) {
			continue
		}
		messages = append(messages, MessageResponse{
			ID:        e.ID,
			Author:    e.Author,
			Content:   e.Content,
			Timestamp: formatTimestamp(e.Timestamp),
		})
	}

	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversation_id": sess.ID,
		"messages":        messages,
	})
}

// handleSendMessage handles POST /api/inbox/messages: a human operator
// injects a reply into the conversation.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" || req.Content == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id and content are required")
		return
	}
	if req.Author == "" {
		req.Author = "agent"
	}

	sess, err := g.sessions.Get(r.Context(), req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to load conversation", "conversation_id", req.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	event := store.Event{
		ID:        uuid.New().String(),
		Author:    req.Author,
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	}
	sess.Events = append(sess.Events, event)

	if err := g.sessions.Save(r.Context(), sess); err != nil {
		g.logger.Error("failed to save conversation", "conversation_id", sess.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.publishNewMessage(sess.ID, event)
	g.publishConversationUpdate(sess)
	g.scheduleNotification(sess, event, false)

	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversation_id": sess.ID,
		"message_id":      event.ID,
		"status":          "sent",
	})
}

// handleMarkRead handles POST /api/inbox/conversations/{id}/read.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	g.setReadFlag(w, r, true)
}

// handleMarkUnread handles POST /api/inbox/conversations/{id}/unread.
func (g *Gateway) handleMarkUnread(w http.ResponseWriter, r *http.Request) {
	g.setReadFlag(w, r, false)
}

func (g *Gateway) setReadFlag(w http.ResponseWriter, r *http.Request, read bool) {
	sess, ok := g.fetchSession(w, r)
	if !ok {
		return
	}

	sess.State["is_read"] = read
	if err := g.sessions.Save(r.Context(), sess); err != nil {
		g.logger.Error("failed to save conversation", "conversation_id", sess.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.publishConversationUpdate(sess)
	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversation_id": sess.ID,
		"is_read":         read,
	})
}

// handleToggleAI handles POST /api/inbox/toggle-ai: pause or resume the
// AI for one conversation. Pausing records the escalation reason; resuming
// clears it.
func (g *Gateway) handleToggleAI(w http.ResponseWriter, r *http.Request) {
	var req ToggleAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ConversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	sess, err := g.sessions.Get(r.Context(), req.ConversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return
		}
		g.logger.Error("failed to load conversation", "conversation_id", req.ConversationID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	sess.State["ai_paused"] = req.Paused
	if req.Paused {
		sess.State["escalation_reason"] = req.Reason
		sess.State["escalation_time"] = formatTimestamp(time.Now())
	} else {
		delete(sess.State, "escalation_reason")
		delete(sess.State, "escalation_time")
	}

	if err := g.sessions.Save(r.Context(), sess); err != nil {
		g.logger.Error("failed to save conversation", "conversation_id", sess.ID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.hub.Publish(sess.ID, &hub.Message{
		Type: "ai_status_changed",
		Payload: map[string]any{
			"conversation_id": sess.ID,
			"ai_paused":       req.Paused,
			"reason":          req.Reason,
		},
	})
	g.hub.PublishGlobal(&hub.Message{
		Type: "ai_status_change",
		Payload: map[string]any{
			"conversation_id": sess.ID,
			"ai_paused":       req.Paused,
		},
	})

	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversation_id": sess.ID,
		"ai_paused":       req.Paused,
	})
}

// handleConversationStatus handles GET /api/inbox/conversation-status/{id}.
func (g *Gateway) handleConversationStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.fetchSession(w, r)
	if !ok {
		return
	}

	g.sendJSON(w, http.StatusOK, map[string]any{
		"conversation_id":   sess.ID,
		"ai_paused":         sess.StateBool("ai_paused", false),
		"is_read":           sess.StateBool("is_read", true),
		"escalation_reason": sess.StateString("escalation_reason"),
	})
}

// handleCreateSession handles POST /api/sessions.
func (g *Gateway) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.AppName == "" {
		req.AppName = g.appName
	}

	sess, err := g.sessions.Create(r.Context(), req.AppName, req.UserID, req.ID, req.State)
	if err != nil {
		g.sendJSONError(w, http.StatusConflict, err.Error())
		return
	}
	g.sendJSON(w, http.StatusCreated, sess)
}

// handleGetSession handles GET /api/sessions/{id}.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.fetchSession(w, r)
	if !ok {
		return
	}
	g.sendJSON(w, http.StatusOK, sess)
}

// handleSaveSession handles PUT /api/sessions/{id}: the producer's
// end-of-turn save. The body replaces the session's events and state; the
// gateway marks the conversation unread and fans the new activity out to
// streams and the webhook.
func (g *Gateway) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	isNew := false
	sess, err := g.sessions.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			g.logger.Error("failed to load session", "session_id", id, "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		isNew = true
		sess = &store.Session{ID: id, State: map[string]any{}}
	}

	if req.AppName != "" {
		sess.AppName = req.AppName
	} else if sess.AppName == "" {
		sess.AppName = g.appName
	}
	if req.UserID != "" {
		sess.UserID = req.UserID
	}
	sess.Events = req.Events

	// The producer's state replaces ours, but inbox-owned flags survive a
	// save that omits them.
	state := req.State
	if state == nil {
		state = map[string]any{}
	}
	if _, ok := state["ai_paused"]; !ok {
		if paused := sess.StateBool("ai_paused", false); paused {
			state["ai_paused"] = true
			state["escalation_reason"] = sess.StateString("escalation_reason")
		}
	}
	state["is_read"] = false
	sess.State = state

	if err := g.sessions.Save(r.Context(), sess); err != nil {
		g.logger.Error("failed to save session", "session_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var lastEvent *store.Event
	for i := len(sess.Events) - 1; i >= 0; i-- {
		if displayable(sess.Events[i]) {
			lastEvent = &sess.Events[i]
			break
		}
	}

	if lastEvent != nil {
		g.publishNewMessage(sess.ID, *lastEvent)
	}
	if isNew {
		g.hub.PublishGlobal(&hub.Message{
			Type:    "new_conversation",
			Payload: map[string]any{"conversation": summarize(sess)},
		})
	} else {
		g.publishConversationUpdate(sess)
	}
	if lastEvent != nil {
		g.scheduleNotification(sess, *lastEvent, isNew)
	}

	g.sendJSON(w, http.StatusOK, sess)
}

// fetchSession loads the session named by the {id} path value, writing
// the error response itself when the lookup fails.
func (g *Gateway) fetchSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id := r.PathValue("id")
	sess, err := g.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "conversation not found")
			return nil, false
		}
		g.logger.Error("failed to load conversation", "conversation_id", id, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return sess, true
}

func (g *Gateway) publishNewMessage(conversationID string, e store.Event) {
	g.hub.Publish(conversationID, &hub.Message{
		Type: "new_message",
		Payload: map[string]any{
			"conversation_id": conversationID,
			"message": MessageResponse{
				ID:        e.ID,
				Author:    e.Author,
				Content:   e.Content,
				Timestamp: formatTimestamp(e.Timestamp),
			},
		},
	})
}

func (g *Gateway) publishConversationUpdate(sess *store.Session) {
	g.hub.PublishGlobal(&hub.Message{
		Type:    "conversation_update",
		Payload: map[string]any{"conversation": summarize(sess)},
	})
}

// scheduleNotification fires the inbox webhook from a background task.
// Failures are logged and dropped.
func (g *Gateway) scheduleNotification(sess *store.Session, e store.Event, isNew bool) {
	if !g.notifier.Enabled() {
		return
	}

	note := notify.Notification{
		ConversationID:    sess.ID,
		MessageID:         e.ID,
		Content:           e.Content,
		Author:            e.Author,
		SenderID:          sess.UserID,
		SenderName:        sess.StateString("user_name"),
		Timestamp:         e.Timestamp,
		IsNewConversation: isNew,
	}

	g.tasks.Schedule("inbox-webhook", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.notifier.Send(ctx, note); err != nil {
			g.logger.Error("inbox webhook delivery failed",
				"conversation_id", note.ConversationID, "error", err)
		}
	})
}
