package mcp

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// sseKeepAlive is the interval between comment lines on an idle stream.
const sseKeepAlive = 25 * time.Second

type sseSession struct {
	responses chan *Response
	done      chan struct{}
	userID    string
	closeOnce sync.Once
}

func (s *sseSession) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// deliver queues resp unless the session is gone or its buffer is full.
func (s *sseSession) deliver(resp *Response) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.responses <- resp:
		return true
	case <-s.done:
		return false
	default:
		return false
	}
}

// SSEHandler implements the legacy MCP SSE transport: GET /sse opens a stream
// and announces a message endpoint; POST /message?sessionId= feeds requests
// whose responses are written to that stream.
type SSEHandler struct {
	server   *Server
	sessions sync.Map // sessionID -> *sseSession
}

// NewSSEHandler creates a new SSE handler.
func NewSSEHandler(server *Server) *SSEHandler {
	return &SSEHandler{server: server}
}

// ServeHTTP routes GET /sse -> handleSSE, POST /message -> handleMessage, OPTIONS -> CORS preflight
func (h *SSEHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-User-Id")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/sse"):
		h.handleSSE(w, r)
	case strings.HasSuffix(r.URL.Path, "/message"):
		h.handleMessage(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *SSEHandler) getSession(sessionID string) (*sseSession, bool) {
	value, ok := h.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	session, ok := value.(*sseSession)
	return session, ok
}

// SessionCount returns the number of open SSE streams.
func (h *SSEHandler) SessionCount() int {
	n := 0
	h.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (h *SSEHandler) writeSSEEvent(w http.ResponseWriter, event string, payload string) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleSSE opens SSE stream, emits endpoint event, and forwards session responses.
func (h *SSEHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := uuid.NewString()
	session := &sseSession{
		responses: make(chan *Response, 32),
		done:      make(chan struct{}),
		userID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
	}
	h.sessions.Store(sessionID, session)
	defer func() {
		h.sessions.Delete(sessionID)
		session.close()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type,X-User-Id")

	endpoint := strings.TrimSuffix(r.URL.Path, "/sse") + "/message?sessionId=" + sessionID
	if err := h.writeSSEEvent(w, "endpoint", endpoint); err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to write MCP SSE endpoint")
		return
	}
	log.Debug().Str("sessionId", sessionID).Msg("MCP SSE session opened")

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-session.done:
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if flusher, ok := w.(http.Flusher); ok {
				flusher.Flush()
			}
		case response := <-session.responses:
			responseJSON, err := json.Marshal(response)
			if err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to marshal MCP SSE response")
				continue
			}
			if err := h.writeSSEEvent(w, "message", string(responseJSON)); err != nil {
				log.Error().Err(err).Str("sessionId", sessionID).Msg("Failed to write MCP SSE response")
				return
			}
		}
	}
}

// handleMessage decodes a request and dispatches it to server.handleRequest.
func (h *SSEHandler) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		http.Error(w, "missing sessionId", http.StatusBadRequest)
		return
	}

	session, ok := h.getSession(sessionID)
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	defer r.Body.Close()
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		log.Debug().Err(err).Str("sessionId", sessionID).Msg("Failed to decode MCP SSE message")
		return
	}

	userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if userID == "" {
		userID = session.userID
	}
	ctx := WithIdentity(r.Context(), Identity{SessionID: sessionID, UserID: userID})
	response := h.server.handleRequest(ctx, &req)

	if response != nil && !session.deliver(response) {
		log.Warn().Str("sessionId", sessionID).Msg("SSE session closed or full, dropping response")
	}

	w.WriteHeader(http.StatusAccepted)
}

// Close ends every open stream.
func (h *SSEHandler) Close() {
	h.sessions.Range(func(key, value any) bool {
		if session, ok := value.(*sseSession); ok {
			session.close()
		}
		h.sessions.Delete(key)
		return true
	})
}
