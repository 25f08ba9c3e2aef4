// Package mcp provides the MCP (Model Context Protocol) server exposing the
// PRIDE Archive tools over stdio, Streamable HTTP and SSE.
package mcp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/ai"
	"github.com/thebtf/pride-mcp/internal/archive"
	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/internal/search"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// ProtocolVersion is the MCP protocol revision announced on initialize.
const ProtocolVersion = "2024-11-05"

// ServerName is announced in serverInfo.
const ServerName = "pride-mcp"

// Archive is the backend for the archive tools.
type Archive interface {
	Facets(ctx context.Context, pageSize, page int) (*models.FacetSet, error)
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	ProjectDetails(ctx context.Context, accession string) (*models.ProjectDetail, error)
	ProjectFiles(ctx context.Context, accession, fileType string) ([]models.ProjectFile, error)
}

// Analyzer is the backend for analyze_with_ai.
type Analyzer interface {
	Enabled() bool
	Provider() string
	Analyze(ctx context.Context, req ai.Request) (string, error)
}

// Recorder receives one record per tool call.
type Recorder interface {
	Record(ctx context.Context, q *models.Question) (int64, error)
}

// Options wires the server's collaborators. Analyzer and Recorder may be nil.
type Options struct {
	Archive     Archive
	Analyzer    Analyzer
	Recorder    Recorder
	EndpointURL func(path string) string
	Version     string
}

// Server is the MCP server that exposes the archive tools.
type Server struct {
	stdin       io.Reader
	stdout      io.Writer
	archive     Archive
	analyzer    Analyzer
	recorder    Recorder
	endpointURL func(path string) string
	version     string
	sessionID   string
	clientName  string
	clientMu    sync.RWMutex
	writeMu     sync.Mutex
}

// NewServer creates a new MCP server.
func NewServer(opts Options) *Server {
	endpointURL := opts.EndpointURL
	if endpointURL == nil {
		endpointURL = func(path string) string {
			return archive.DefaultBaseURL + "/" + strings.TrimLeft(path, "/")
		}
	}
	return &Server{
		archive:     opts.Archive,
		analyzer:    opts.Analyzer,
		recorder:    opts.Recorder,
		endpointURL: endpointURL,
		version:     opts.Version,
		stdin:       os.Stdin,
		stdout:      os.Stdout,
		sessionID:   uuid.NewString(),
	}
}

// Request represents a JSON-RPC request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response.
type Response struct {
	ID      any    `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	JSONRPC string `json:"jsonrpc"`
}

// Error represents a JSON-RPC error.
type Error struct {
	Data    any    `json:"data,omitempty"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ToolCallParams represents parameters for tools/call method.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool represents an MCP tool definition.
type Tool struct {
	InputSchema map[string]any `json:"inputSchema"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

// Run serves line-delimited JSON-RPC on stdin/stdout until EOF.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.stdin)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	ctx = WithIdentity(ctx, Identity{SessionID: s.sessionID})
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.sendError(nil, CodeParseError, "Parse error", err.Error())
			continue
		}

		if resp := s.handleRequest(ctx, &req); resp != nil {
			s.sendResponse(resp)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}
	return nil
}

// handleRequest dispatches the request to the appropriate handler.
// Notifications yield a nil response.
func (s *Server) handleRequest(ctx context.Context, req *Request) *Response {
	if strings.HasPrefix(req.Method, "notifications/") {
		return nil
	}

	switch req.Method {
	case "initialize":
		return s.handleInitialize(ctx, req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &Error{
				Code:    CodeMethodNotFound,
				Message: "Method not found",
				Data:    req.Method,
			},
		}
	}
}

type initializeParams struct {
	ClientInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// handleInitialize handles the initialize request.
func (s *Server) handleInitialize(ctx context.Context, req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}
	if name := params.ClientInfo.Name; name != "" {
		s.clientMu.Lock()
		s.clientName = name
		s.clientMu.Unlock()
		log.Debug().
			Str("client", name).
			Str("client_version", params.ClientInfo.Version).
			Str("session", IdentityFrom(ctx).SessionID).
			Msg("MCP client initialized")
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": s.version,
			},
		},
	}
}

// handleToolsList returns the list of available tools.
func (s *Server) handleToolsList(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"tools": toolDefinitions(),
		},
	}
}

// handleToolsCall runs one tool and records the invocation.
func (s *Server) handleToolsCall(ctx context.Context, req *Request) *Response {
	var params ToolCallParams
	if len(req.Params) == 0 {
		return invalidParams(req.ID, "missing params")
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return invalidParams(req.ID, err.Error())
	}
	if params.Name == "" {
		return invalidParams(req.ID, "missing tool name")
	}

	label := params.Name
	if !isKnownTool(label) {
		label = "unknown"
	}

	start := time.Now()
	spanCtx, span := observability.StartToolSpan(ctx, label)
	text, err := s.callTool(spanCtx, params.Name, params.Arguments)
	observability.EndSpan(span, err)
	elapsed := time.Since(start)

	observability.ToolCallsTotal.WithLabelValues(label, observability.StatusLabel(err)).Inc()
	observability.ToolDuration.WithLabelValues(label).Observe(elapsed.Seconds())
	s.record(ctx, params, text, err, elapsed)

	if err != nil {
		log.Debug().Err(err).Str("tool", params.Name).Msg("Tool call failed")
		return &Response{JSONRPC: "2.0", ID: req.ID, Error: toolError(err)}
	}

	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"content": []map[string]any{
				{
					"type": "text",
					"text": text,
				},
			},
		},
	}
}

func invalidParams(id any, detail string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    CodeInvalidParams,
			Message: "Invalid params",
			Data:    detail,
		},
	}
}

// record stores the invocation. Failures are logged by the recorder and never
// change the tool result.
func (s *Server) record(ctx context.Context, params ToolCallParams, text string, callErr error, elapsed time.Duration) {
	if s.recorder == nil {
		return
	}

	id := IdentityFrom(ctx)
	if id.UserID == "" {
		s.clientMu.RLock()
		id.UserID = s.clientName
		s.clientMu.RUnlock()
	}

	ms := elapsed.Milliseconds()
	length := int64(len(text))
	q := &models.Question{
		Question:       describeCall(params.Name, params.Arguments),
		UserID:         id.UserID,
		SessionID:      id.SessionID,
		Timestamp:      time.Now().UTC(),
		ResponseTimeMs: &ms,
		ResponseLength: &length,
		ToolsCalled:    models.JSONStringArray{params.Name},
		Success:        callErr == nil,
		Metadata:       models.JSONMap{"tool": params.Name},
	}
	if args := argumentMap(params.Arguments); args != nil {
		q.Metadata["arguments"] = args
	}
	if callErr != nil {
		q.ErrorMessage = callErr.Error()
		q.Metadata["error_kind"] = string(models.KindOf(callErr))
	}

	_, _ = s.recorder.Record(ctx, q)
}

// sendResponse writes a JSON-RPC response line to stdout.
func (s *Server) sendResponse(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	fmt.Fprintln(s.stdout, string(data))
}

// sendError sends a JSON-RPC error response.
func (s *Server) sendError(id any, code int, message string, data any) {
	resp := &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	s.sendResponse(resp)
}
