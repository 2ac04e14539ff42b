// ABOUTME: Tests for the gateway HTTP API
// ABOUTME: Covers session CRUD, inbox operations, event fan-out, auth, and webhook wiring

package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woodstock-ai/inbox-gateway/internal/config"
	"github.com/woodstock-ai/inbox-gateway/internal/hub"
)

func newTestGateway(t *testing.T, mutate func(*config.Config)) (*Gateway, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{}
	cfg.App.Name = "woodstock"
	cfg.Server.HTTPAddr = ":0"
	cfg.Database.Path = ":memory:"
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = gw.store.Close() })

	srv := httptest.NewServer(gw.httpServer.Handler)
	t.Cleanup(srv.Close)
	return gw, srv
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &decoded)
	}
	return resp, decoded
}

func producerSave(t *testing.T, srv *httptest.Server, id string, events []map[string]any, state map[string]any) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPut, srv.URL+"/api/sessions/"+id, map[string]any{
		"app_name": "woodstock",
		"user_id":  "u1",
		"events":   events,
		"state":    state,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}

func TestAPI_SessionCreateAndGet(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	resp, created := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", map[string]any{
		"id":      "s1",
		"user_id": "u1",
		"state":   map[string]any{"user_name": "Snoopy"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "s1", created["id"])
	assert.Equal(t, "woodstock", created["app_name"])

	resp, got := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", got["user_id"])

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ProducerSaveMarksUnreadAndLists(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	producerSave(t, srv, "s1", []map[string]any{
		{"id": "e1", "author": "user", "content": "help me", "timestamp": "2025-03-01T12:00:00Z"},
	}, map[string]any{"user_name": "Snoopy"})

	resp, err := http.Get(srv.URL + "/api/inbox/conversations")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Len(t, summaries, 1)

	assert.Equal(t, "s1", summaries[0]["conversation_id"])
	assert.Equal(t, false, summaries[0]["is_read"])
	assert.Equal(t, "Snoopy", summaries[0]["user_name"])
	assert.Equal(t, "help me", summaries[0]["last_message_preview"])
	assert.Equal(t, float64(1), summaries[0]["message_count"])
}

func TestAPI_MessagesFilterInternalEvents(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	producerSave(t, srv, "s1", []map[string]any{
		{"id": "e1", "author": "user", "content": "hello", "timestamp": "2025-03-01T12:00:00Z"},
		{"id": "e2", "author": "agent", "content": "", "timestamp": "2025-03-01T12:00:01Z"},
		{"id": "e3", "author": "agent", "content": "__AI_PAUSED__", "timestamp": "2025-03-01T12:00:02Z"},
		{"id": "e4", "author": "agent", "content": "hi!", "timestamp": "2025-03-01T12:00:03Z"},
	}, nil)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversations/s1/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)

	first := messages[0].(map[string]any)
	assert.Equal(t, "hello", first["content"])
	assert.Equal(t, "2025-03-01T12:00:00Z", first["timestamp"])
}

func TestAPI_SendMessageAppendsAndBroadcasts(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	producerSave(t, srv, "s1", []map[string]any{
		{"id": "e1", "author": "user", "content": "anyone there?", "timestamp": "2025-03-01T12:00:00Z"},
	}, nil)

	convCh, _ := gw.hub.Subscribe(t.Context(), "s1")
	globalCh, _ := gw.hub.Subscribe(t.Context(), hub.GlobalTopic)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/inbox/messages", map[string]any{
		"conversation_id": "s1",
		"content":         "yes, reading now",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "sent", body["status"])

	select {
	case msg := <-convCh:
		assert.Equal(t, "new_message", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no conversation event broadcast")
	}
	select {
	case msg := <-globalCh:
		assert.Equal(t, "conversation_update", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no global event broadcast")
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversations/s1/messages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	messages := body["messages"].([]any)
	require.Len(t, messages, 2)
	last := messages[1].(map[string]any)
	assert.Equal(t, "agent", last["author"])
	assert.Equal(t, "yes, reading now", last["content"])
}

func TestAPI_SendMessageToUnknownConversation(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/inbox/messages", map[string]any{
		"conversation_id": "nope",
		"content":         "hello?",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_NewConversationBroadcastsGlobally(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	globalCh, _ := gw.hub.Subscribe(t.Context(), hub.GlobalTopic)

	producerSave(t, srv, "fresh", []map[string]any{
		{"id": "e1", "author": "user", "content": "hi", "timestamp": "2025-03-01T12:00:00Z"},
	}, nil)

	select {
	case msg := <-globalCh:
		assert.Equal(t, "new_conversation", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("no new_conversation event")
	}
}

func TestAPI_ReadUnreadToggle(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	producerSave(t, srv, "s1", nil, nil)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/inbox/conversations/s1/read", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_read"])

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversation-status/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["is_read"])

	resp, body = doJSON(t, http.MethodPost, srv.URL+"/api/inbox/conversations/s1/unread", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["is_read"])
}

func TestAPI_ToggleAIPauseAndResume(t *testing.T) {
	gw, srv := newTestGateway(t, nil)

	producerSave(t, srv, "s1", nil, nil)
	convCh, _ := gw.hub.Subscribe(t.Context(), "s1")

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/inbox/toggle-ai", map[string]any{
		"conversation_id": "s1",
		"paused":          true,
		"reason":          "customer asked for a human",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ai_paused"])

	select {
	case msg := <-convCh:
		assert.Equal(t, "ai_status_changed", msg.Type)
		assert.Equal(t, true, msg.Payload["ai_paused"])
	case <-time.After(time.Second):
		t.Fatal("no ai_status_changed event")
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversation-status/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ai_paused"])
	assert.Equal(t, "customer asked for a human", body["escalation_reason"])

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/inbox/toggle-ai", map[string]any{
		"conversation_id": "s1",
		"paused":          false,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversation-status/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["ai_paused"])
	assert.Equal(t, "", body["escalation_reason"])
}

func TestAPI_ProducerSavePreservesPausedState(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	producerSave(t, srv, "s1", nil, nil)
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/inbox/toggle-ai", map[string]any{
		"conversation_id": "s1",
		"paused":          true,
		"reason":          "escalated",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A producer save that doesn't mention ai_paused must not resume the AI
	producerSave(t, srv, "s1", []map[string]any{
		{"id": "e1", "author": "user", "content": "still waiting", "timestamp": "2025-03-01T12:00:00Z"},
	}, map[string]any{"user_name": "Snoopy"})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversation-status/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["ai_paused"])
	assert.Equal(t, "escalated", body["escalation_reason"])
}

func TestAPI_WebhookFiresOnProducerSave(t *testing.T) {
	var calls atomic.Int64
	var captured map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewDecoder(r.Body).Decode(&captured)
	}))
	defer hook.Close()

	gw, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.Inbox.WebhookURL = hook.URL
	})

	producerSave(t, srv, "s1", []map[string]any{
		{"id": "e1", "author": "user", "content": "ping", "timestamp": "2025-03-01T12:00:00Z"},
	}, nil)

	require.NoError(t, gw.sessions.Flush(t.Context()))
	require.Equal(t, int64(1), calls.Load())
	assert.Equal(t, "s1", captured["conversation_id"])
	assert.Equal(t, "ping", captured["content"])
	assert.Equal(t, true, captured["is_new_conversation"])
}

func TestAPI_AuthGuardsAPIButNotHealthOrStreams(t *testing.T) {
	_, srv := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.APIKey = "sekrit"
	})

	// API rejects missing credentials
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/inbox/conversations", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Health stays open
	healthResp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	healthResp.Body.Close()
	assert.Equal(t, http.StatusOK, healthResp.StatusCode)

	// With the key, the API responds
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/inbox/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer sekrit")
	authResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	authResp.Body.Close()
	assert.Equal(t, http.StatusOK, authResp.StatusCode)
}

func TestAPI_HealthReady(t *testing.T) {
	_, srv := newTestGateway(t, nil)

	resp, err := http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
