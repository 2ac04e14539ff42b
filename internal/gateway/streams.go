// ABOUTME: Stream endpoint handlers delegating to the stream adapters
// ABOUTME: SSE for the sidebar and per-conversation views, WebSocket as a fallback

package gateway

import (
	"net/http"

	"github.com/woodstock-ai/inbox-gateway/internal/hub"
)

// handleListenGlobal handles GET /api/inbox/listen/global: the sidebar's
// cross-conversation event stream.
func (g *Gateway) handleListenGlobal(w http.ResponseWriter, r *http.Request) {
	g.streamer.ServeSSE(w, r, hub.GlobalTopic)
}

// handleListenConversation handles GET /api/inbox/listen/{id}.
func (g *Gateway) handleListenConversation(w http.ResponseWriter, r *http.Request) {
	g.streamer.ServeSSE(w, r, r.PathValue("id"))
}

// handleWSConversation handles GET /api/inbox/ws/{id}.
func (g *Gateway) handleWSConversation(w http.ResponseWriter, r *http.Request) {
	g.streamer.ServeWS(w, r, r.PathValue("id"))
}
