package mcp

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Header names used by the HTTP transports.
const (
	HeaderSessionID = "Mcp-Session-Id"
	HeaderUserID    = "X-User-Id"
)

// StreamableHandler implements the MCP Streamable HTTP transport: a single
// POST endpoint that returns the JSON-RPC response inline.
type StreamableHandler struct {
	server *Server
}

// NewStreamableHandler creates a new Streamable HTTP handler.
func NewStreamableHandler(server *Server) *StreamableHandler {
	return &StreamableHandler{server: server}
}

// ServeHTTP handles POST requests with JSON-RPC MCP messages.
func (h *StreamableHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		h.writeCORS(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	defer r.Body.Close()

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Debug().Err(err).Msg("Failed to decode Streamable HTTP MCP request")
		h.writeCORS(w)
		writeJSONError(w, nil, CodeParseError, "Parse error")
		return
	}

	sessionID := strings.TrimSpace(r.Header.Get(HeaderSessionID))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	ctx := WithIdentity(r.Context(), Identity{
		SessionID: sessionID,
		UserID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
	})

	response := h.server.handleRequest(ctx, &req)

	h.writeCORS(w)
	w.Header().Set(HeaderSessionID, sessionID)

	// Notifications return nil: no response to send, return 202 Accepted.
	if response == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("Failed to encode Streamable HTTP MCP response")
	}
}

func (h *StreamableHandler) writeCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Mcp-Session-Id, X-User-Id")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id")
}

func writeJSONError(w http.ResponseWriter, id any, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
	_ = json.NewEncoder(w).Encode(resp)
}
