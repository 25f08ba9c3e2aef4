package mcp

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/pride-mcp/internal/ai"
	"github.com/thebtf/pride-mcp/internal/search"
	"github.com/thebtf/pride-mcp/pkg/models"
)

type fakeArchive struct {
	facets     *models.FacetSet
	facetsErr  error
	result     *search.Result
	searchErr  error
	detail     *models.ProjectDetail
	detailErr  error
	files      []models.ProjectFile
	filesErr   error
	lastSearch search.Request
	lastFacets [2]int
	lastFile   string
	calls      []string
	mu         sync.Mutex
}

func (f *fakeArchive) call(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeArchive) Facets(_ context.Context, pageSize, page int) (*models.FacetSet, error) {
	f.call("facets")
	f.lastFacets = [2]int{pageSize, page}
	return f.facets, f.facetsErr
}

func (f *fakeArchive) Search(_ context.Context, req search.Request) (*search.Result, error) {
	f.call("search")
	f.lastSearch = req
	return f.result, f.searchErr
}

func (f *fakeArchive) ProjectDetails(_ context.Context, accession string) (*models.ProjectDetail, error) {
	f.call("details:" + accession)
	return f.detail, f.detailErr
}

func (f *fakeArchive) ProjectFiles(_ context.Context, accession, fileType string) ([]models.ProjectFile, error) {
	f.call("files:" + accession)
	f.lastFile = fileType
	return f.files, f.filesErr
}

type fakeAnalyzer struct {
	err     error
	out     string
	got     ai.Request
	enabled bool
}

func (a *fakeAnalyzer) Enabled() bool    { return a.enabled }
func (a *fakeAnalyzer) Provider() string { return "fake" }

func (a *fakeAnalyzer) Analyze(_ context.Context, req ai.Request) (string, error) {
	a.got = req
	return a.out, a.err
}

type fakeRecorder struct {
	records []*models.Question
	mu      sync.Mutex
}

func (r *fakeRecorder) Record(_ context.Context, q *models.Question) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, q)
	return int64(len(r.records)), nil
}

// ServerSuite is a test suite for MCP Server operations.
type ServerSuite struct {
	suite.Suite
	archive  *fakeArchive
	analyzer *fakeAnalyzer
	recorder *fakeRecorder
	server   *Server
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

func (s *ServerSuite) SetupTest() {
	s.archive = &fakeArchive{}
	s.analyzer = &fakeAnalyzer{}
	s.recorder = &fakeRecorder{}
	s.server = NewServer(Options{
		Archive:     s.archive,
		Analyzer:    s.analyzer,
		Recorder:    s.recorder,
		EndpointURL: func(path string) string { return "https://archive.test/v3/" + path },
		Version:     "1.0.0",
	})
}

func (s *ServerSuite) call(name, args string) *Response {
	params, err := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	s.Require().NoError(err)
	return s.server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
}

func (s *ServerSuite) envelope(resp *Response) map[string]any {
	s.Require().NotNil(resp)
	s.Require().Nil(resp.Error, "unexpected error: %+v", resp.Error)
	content := resp.Result.(map[string]any)["content"].([]map[string]any)
	s.Require().Len(content, 1)
	s.Equal("text", content[0]["type"])

	var env map[string]any
	s.Require().NoError(json.Unmarshal([]byte(content[0]["text"].(string)), &env))
	return env
}

func (s *ServerSuite) errorData(resp *Response, code int) ErrorData {
	s.Require().NotNil(resp.Error)
	s.Equal(code, resp.Error.Code)
	data, ok := resp.Error.Data.(ErrorData)
	s.Require().True(ok)
	return data
}

func (s *ServerSuite) TestToolsList() {
	resp := s.server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", ID: 1, Method: "tools/list"})
	tools := resp.Result.(map[string]any)["tools"].([]Tool)

	names := make([]string, len(tools))
	byName := map[string]Tool{}
	for i, t := range tools {
		names[i] = t.Name
		byName[t.Name] = t
	}
	s.Equal([]string{ToolGetFacets, ToolFetchProjects, ToolProjectDetails, ToolProjectFiles, ToolAnalyzeWithAI}, names)

	s.Equal([]string{"keyword"}, byName[ToolFetchProjects].InputSchema["required"])
	s.Equal([]string{"project_accession"}, byName[ToolProjectDetails].InputSchema["required"])
	s.Equal([]string{"project_accession"}, byName[ToolProjectFiles].InputSchema["required"])
	s.Equal([]string{"data"}, byName[ToolAnalyzeWithAI].InputSchema["required"])
	s.Nil(byName[ToolGetFacets].InputSchema["required"])

	props := byName[ToolFetchProjects].InputSchema["properties"].(map[string]any)
	s.Equal(25, props["page_size"].(map[string]any)["default"])
	s.Equal(0, props["page"].(map[string]any)["default"])
	s.Equal("DESC", props["sort_direction"].(map[string]any)["default"])
	s.Equal("downloadCount", props["sort_fields"].(map[string]any)["default"])
	s.Equal("", props["filters"].(map[string]any)["default"])

	facetProps := byName[ToolGetFacets].InputSchema["properties"].(map[string]any)
	s.Equal(100, facetProps["facet_page_size"].(map[string]any)["default"])

	aiProps := byName[ToolAnalyzeWithAI].InputSchema["properties"].(map[string]any)
	s.Equal("general", aiProps["analysis_type"].(map[string]any)["default"])
}

func (s *ServerSuite) TestInitialize() {
	resp := s.server.handleRequest(context.Background(), &Request{
		JSONRPC: "2.0", ID: 1, Method: "initialize",
		Params: json.RawMessage(`{"clientInfo":{"name":"claude-desktop","version":"1.2"}}`),
	})
	result := resp.Result.(map[string]any)
	s.Equal(ProtocolVersion, result["protocolVersion"])
	s.Equal("1.0.0", result["serverInfo"].(map[string]any)["version"])

	s.archive.facets = models.NewFacetSet(nil)
	s.envelope(s.call(ToolGetFacets, `{}`))
	s.Require().Len(s.recorder.records, 1)
	s.Equal("claude-desktop", s.recorder.records[0].UserID)
}

func (s *ServerSuite) TestNotificationHasNoResponse() {
	resp := s.server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", Method: "notifications/initialized"})
	s.Nil(resp)
}

func (s *ServerSuite) TestMethodNotFound() {
	resp := s.server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", ID: 7, Method: "resources/list"})
	s.Require().NotNil(resp.Error)
	s.Equal(CodeMethodNotFound, resp.Error.Code)
	s.Equal(7, resp.ID)
}

func (s *ServerSuite) TestGetFacets_Defaults() {
	s.archive.facets = models.NewFacetSet(map[string]map[string]int64{
		"organisms":       {"Homo sapiens (human)": 9000, "Mus musculus (mouse)": 3000},
		"experimentTypes": {"Bottom-up proteomics": 100},
		"diseases":        {"Breast cancer": 50},
	})

	env := s.envelope(s.call(ToolGetFacets, ``))
	s.Equal([2]int{100, 0}, s.archive.lastFacets)
	s.Equal(ToolGetFacets, env["tool"])
	s.Equal("https://archive.test/v3/facet/projects", env["endpoint_url"])
	s.Equal(map[string]any{"facetPageSize": float64(100), "facetPage": float64(0)}, env["parameters"])

	h := env["highlights"].(map[string]any)
	s.Equal(float64(3), h["total_facets"])
	s.Equal(float64(2), h["organisms_count"])
	s.Equal(float64(0), h["instruments_count"])
	s.Equal(float64(1), h["diseases_count"])
	s.Equal(map[string]any{"Homo sapiens (human)": float64(9000), "Mus musculus (mouse)": float64(3000)}, h["top_organisms"])

	data := env["data"].(map[string]any)
	first := data["organisms"].([]any)[0].(map[string]any)
	s.Equal("Homo sapiens (human)", first["value"])
}

func (s *ServerSuite) TestGetFacets_NumericStrings() {
	s.archive.facets = models.NewFacetSet(nil)
	s.envelope(s.call(ToolGetFacets, `{"facet_page_size":"20","facet_page":2}`))
	s.Equal([2]int{20, 2}, s.archive.lastFacets)
}

func (s *ServerSuite) TestGetFacets_InvalidArguments() {
	resp := s.call(ToolGetFacets, `{"facet_page_size":-1}`)
	s.errorData(resp, CodeInvalidParams)
	s.Empty(s.archive.calls)

	resp = s.call(ToolGetFacets, `{"facet_page_size":"lots"}`)
	s.errorData(resp, CodeInvalidParams)
	s.Empty(s.archive.calls)
}

func (s *ServerSuite) TestFetchProjects_MissingKeyword() {
	for _, args := range []string{`{}`, `{"keyword":"   "}`, ``} {
		resp := s.call(ToolFetchProjects, args)
		data := s.errorData(resp, CodeInvalidParams)
		s.Equal(models.KindValidation, data.Kind)
		s.Contains(data.Message, "keyword")
	}
	s.Empty(s.archive.calls, "validation precedes any network call")
	s.Require().Len(s.recorder.records, 3)
	s.False(s.recorder.records[0].Success)
}

func (s *ServerSuite) TestFetchProjects_InvalidPaging() {
	resp := s.call(ToolFetchProjects, `{"keyword":"cancer","page_size":500}`)
	data := s.errorData(resp, CodeInvalidParams)
	s.Equal("cancer", data.Parameters["keyword"])
	s.Equal(500, data.Parameters["page_size"])

	resp = s.call(ToolFetchProjects, `{"keyword":"cancer","sort_direction":"sideways"}`)
	s.errorData(resp, CodeInvalidParams)

	for _, args := range []string{
		`{"keyword":"cancer","page_size":0}`,
		`{"keyword":"cancer","page_size":"0"}`,
		`{"keyword":"cancer","page_size":-1}`,
	} {
		resp = s.call(ToolFetchProjects, args)
		s.errorData(resp, CodeInvalidParams)
	}
	s.Empty(s.archive.calls)
}

func (s *ServerSuite) TestFetchProjects_Envelope() {
	s.archive.result = &search.Result{
		Criteria: search.Criteria{
			Keyword: "cancer", Filters: "organisms==Homo sapiens (human)",
			SortDirection: "DESC", SortFields: "downloadCount", PageSize: 25,
		},
		Accessions:     []string{"PXD000001", "PXD000002"},
		Projects:       []search.EnrichedProject{{Accession: "PXD000001", Enriched: true}, {Accession: "PXD000002", Error: "boom"}},
		AppliedFilters: []models.FilterClause{{Key: "organisms", Value: "Homo sapiens (human)"}},
		Warnings:       []string{"details for PXD000002 unavailable"},
		Trace:          []string{"facets", "search", "details:PXD000001", "details:PXD000002"},
		Total:          2,
		EnrichLimit:    10,
	}

	env := s.envelope(s.call(ToolFetchProjects, `{"keyword":"cancer","filters":"organisms==Homo sapiens (human)"}`))

	s.Equal(search.Request{Keyword: "cancer", Filters: "organisms==Homo sapiens (human)", PageSize: 25}, s.archive.lastSearch)
	s.Equal("Successfully found 2 projects matching 'cancer'.", env["reasoning"])
	s.Equal("https://archive.test/v3/search/projects", env["endpoint_url"])

	params := env["parameters"].(map[string]any)
	s.Equal("cancer", params["keyword"])
	s.Equal("25", params["pageSize"])
	s.Equal("organisms==Homo sapiens (human)", params["filter"])

	h := env["highlights"].(map[string]any)
	s.Equal(float64(2), h["total_projects"])
	s.Equal("organisms==Homo sapiens (human)", h["filters_applied"])
	s.Equal([]any{"PXD000001", "PXD000002"}, h["project_accessions"])
	s.Equal(float64(1), h["enriched_projects"])

	s.Equal("cancer", env["search_criteria"].(map[string]any)["keyword"])
	s.Equal([]any{"details for PXD000002 unavailable"}, env["warnings"])

	flags := env["flags"].(map[string]any)
	s.Equal(false, flags["degraded"])
	s.Equal(false, flags["no_results"])
	s.Len(flags["upstream_calls"], 4)

	s.Require().Len(s.recorder.records, 1)
	rec := s.recorder.records[0]
	s.Equal("fetch_projects: cancer [organisms==Homo sapiens (human)]", rec.Question)
	s.True(rec.Success)
	s.Equal(models.JSONStringArray{ToolFetchProjects}, rec.ToolsCalled)
	s.NotNil(rec.ResponseTimeMs)
	s.Positive(*rec.ResponseLength)
}

func (s *ServerSuite) TestFetchProjects_NoResults() {
	s.archive.result = &search.Result{
		Criteria:  search.Criteria{Keyword: "zzzz", SortDirection: "DESC", SortFields: "downloadCount", PageSize: 25},
		NoResults: true,
	}

	env := s.envelope(s.call(ToolFetchProjects, `{"keyword":"zzzz"}`))
	s.Contains(env["reasoning"], "No projects found matching 'zzzz'")
	s.Equal([]any{}, env["data"])
	s.Equal(true, env["flags"].(map[string]any)["no_results"])
	s.Equal("None", env["highlights"].(map[string]any)["filters_applied"])
	s.Equal("zzzz", env["search_criteria"].(map[string]any)["keyword"])
}

func (s *ServerSuite) TestFetchProjects_UpstreamUnavailable() {
	s.archive.searchErr = models.NewError(models.KindUpstreamUnavailable, "search failed").
		WithParameters(map[string]any{"keyword": "cancer", "filter": ""})

	data := s.errorData(s.call(ToolFetchProjects, `{"keyword":"cancer"}`), CodeUpstreamUnavailable)
	s.Equal(models.KindUpstreamUnavailable, data.Kind)
	s.Equal("cancer", data.Parameters["keyword"])
	s.Equal("search failed", data.Message)

	rec := s.recorder.records[0]
	s.False(rec.Success)
	s.Equal("upstream_unavailable", rec.Metadata["error_kind"])
}

func (s *ServerSuite) TestProjectDetails() {
	s.archive.detail = &models.ProjectDetail{
		Accession:      "PXD000001",
		Title:          "TMT spikes",
		SubmissionDate: "2012-03-07",
		Organisms:      []models.CvParam{{Name: "Erwinia carotovora"}},
		References:     []json.RawMessage{json.RawMessage(`{}`)},
		FilesCount:     12,
		Raw:            json.RawMessage(`{"accession":"PXD000001","title":"TMT spikes","extra":1}`),
	}

	env := s.envelope(s.call(ToolProjectDetails, `{"project_accession":" PXD000001 "}`))
	s.Equal([]string{"details:PXD000001"}, s.archive.calls)
	s.Equal("https://archive.test/v3/projects/PXD000001", env["endpoint_url"])
	s.Equal(float64(1), env["data"].(map[string]any)["extra"])

	h := env["highlights"].(map[string]any)
	s.Equal("TMT spikes", h["title"])
	s.Equal("N/A", h["publication_date"])
	s.Equal([]any{"Erwinia carotovora"}, h["organisms"])
	s.Equal(float64(1), h["publications"])
	s.Equal(float64(12), h["files_count"])
}

func (s *ServerSuite) TestProjectDetails_Validation() {
	tests := []struct {
		name string
		args string
	}{
		{"missing", `{}`},
		{"empty", `{"project_accession":""}`},
		{"bad pattern", `{"project_accession":"PXD1"}`},
		{"path injection", `{"project_accession":"../admin"}`},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.errorData(s.call(ToolProjectDetails, tt.args), CodeInvalidParams)
		})
	}
	s.Empty(s.archive.calls)
}

func (s *ServerSuite) TestProjectDetails_NotFound() {
	s.archive.detailErr = models.NewError(models.KindNotFound, "project PXD999999 not found")

	data := s.errorData(s.call(ToolProjectDetails, `{"project_accession":"PXD999999"}`), CodeNotFound)
	s.Equal(models.KindNotFound, data.Kind)
	s.Equal("PXD999999", data.Parameters["project_accession"])
}

func (s *ServerSuite) TestProjectFiles() {
	s.archive.files = []models.ProjectFile{
		{FileName: "a.raw", FileCategory: &models.CvParam{Value: "RAW"}, FileSizeBytes: 1024 * 1024},
		{FileName: "b.raw", FileCategory: &models.CvParam{Value: "RAW"}, FileSizeBytes: 1024 * 1024},
		{FileName: "c.mzid", FileCategory: &models.CvParam{Value: "RESULT"}, FileSizeBytes: 512 * 1024},
		{FileName: "d.txt", FileSize: 10},
	}

	env := s.envelope(s.call(ToolProjectFiles, `{"project_accession":"PXD000001"}`))
	s.Empty(s.archive.lastFile)
	s.Equal(map[string]any{}, env["parameters"])
	s.Equal("https://archive.test/v3/projects/PXD000001/files", env["endpoint_url"])

	h := env["highlights"].(map[string]any)
	s.Equal(float64(4), h["total_files"])
	s.Equal(map[string]any{"RAW": float64(2), "RESULT": float64(1), "Unknown": float64(1)}, h["file_types"])
	s.Equal(2.5, h["total_size_mb"])
	s.Equal([]any{"a.raw", "b.raw", "c.mzid"}, h["sample_files"])
	s.Equal("None", h["filter_applied"])
}

func (s *ServerSuite) TestProjectFiles_TypeFilterPassedThrough() {
	s.archive.files = nil
	env := s.envelope(s.call(ToolProjectFiles, `{"project_accession":"PRD000123","file_type":"RAW"}`))
	s.Equal("RAW", s.archive.lastFile)
	s.Equal(map[string]any{"fileType": "RAW"}, env["parameters"])
	s.Equal([]any{}, env["data"])
	s.Equal("RAW", env["highlights"].(map[string]any)["filter_applied"])
}

func (s *ServerSuite) TestAnalyze_Disabled() {
	data := s.errorData(s.call(ToolAnalyzeWithAI, `{"data":"some results"}`), CodeAIDisabled)
	s.Equal(models.KindAIDisabled, data.Kind)
	s.Empty(s.analyzer.got.Data, "no backend call when disabled")

	server := NewServer(Options{Archive: s.archive})
	params, _ := json.Marshal(ToolCallParams{Name: ToolAnalyzeWithAI, Arguments: json.RawMessage(`{"data":"x"}`)})
	resp := server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})
	s.Equal(CodeAIDisabled, resp.Error.Code)
}

func (s *ServerSuite) TestAnalyze_MissingData() {
	s.analyzer.enabled = true
	for _, args := range []string{`{}`, `{"data":""}`, `{"data":null}`} {
		s.errorData(s.call(ToolAnalyzeWithAI, args), CodeInvalidParams)
	}
}

func (s *ServerSuite) TestAnalyze_Success() {
	s.analyzer.enabled = true
	s.analyzer.out = "  Verbatim **model** output\n"

	env := s.envelope(s.call(ToolAnalyzeWithAI, `{"data":{"projects": [1, 2]},"context":"find cancer data"}`))
	s.Equal("  Verbatim **model** output\n", env["data"])
	s.Equal(`{"projects":[1,2]}`, s.analyzer.got.Data)
	s.Equal("general", s.analyzer.got.AnalysisType)
	s.Equal("find cancer data", s.analyzer.got.Context)
	s.Equal("fake", env["highlights"].(map[string]any)["provider"])
}

func (s *ServerSuite) TestAnalyze_BackendFailure() {
	s.analyzer.enabled = true
	s.analyzer.err = models.NewError(models.KindUpstreamRejected, "bad request")

	data := s.errorData(s.call(ToolAnalyzeWithAI, `{"data":"x","analysis_type":"search_results"}`), CodeUpstreamRejected)
	s.Equal("search_results", data.Parameters["analysis_type"])
}

func (s *ServerSuite) TestUnknownTool() {
	data := s.errorData(s.call("drop_tables", `{}`), CodeInvalidParams)
	s.Equal("drop_tables", data.Parameters["tool"])
}

func (s *ServerSuite) TestInvalidCallParams() {
	resp := s.server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: json.RawMessage(`[1]`)})
	s.Equal(CodeInvalidParams, resp.Error.Code)

	resp = s.server.handleRequest(context.Background(), &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call"})
	s.Equal(CodeInvalidParams, resp.Error.Code)
}

func (s *ServerSuite) TestIdentityFromContext() {
	s.archive.facets = models.NewFacetSet(nil)
	ctx := WithIdentity(context.Background(), Identity{SessionID: "sess-1", UserID: "alice"})
	params, _ := json.Marshal(ToolCallParams{Name: ToolGetFacets})
	s.server.handleRequest(ctx, &Request{JSONRPC: "2.0", ID: 1, Method: "tools/call", Params: params})

	s.Require().Len(s.recorder.records, 1)
	s.Equal("sess-1", s.recorder.records[0].SessionID)
	s.Equal("alice", s.recorder.records[0].UserID)
}

func TestCodeForKind(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		code int
	}{
		{models.KindValidation, -32602},
		{models.KindAIDisabled, -32001},
		{models.KindUpstreamUnavailable, -32002},
		{models.KindUpstreamRejected, -32003},
		{models.KindNotFound, -32004},
		{models.KindInternal, -32000},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.code, CodeForKind(tt.kind))
		})
	}
}

func TestDescribeCall(t *testing.T) {
	tests := []struct {
		name     string
		tool     string
		args     string
		expected string
	}{
		{"facets", ToolGetFacets, `{}`, "get_pride_facets"},
		{"keyword", ToolFetchProjects, `{"keyword":"cancer"}`, "fetch_projects: cancer"},
		{"files with type", ToolProjectFiles, `{"project_accession":"PXD000001","file_type":"RAW"}`, "get_project_files: PXD000001 (RAW)"},
		{"analysis default", ToolAnalyzeWithAI, `{"data":"x"}`, "analyze_with_ai: general"},
		{"garbage", ToolFetchProjects, `not json`, "fetch_projects"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, describeCall(tt.tool, json.RawMessage(tt.args)))
		})
	}
}

// TestRun_ParseError tests Run with invalid JSON input.
func TestRun_ParseError(t *testing.T) {
	var stdout bytes.Buffer
	server := NewServer(Options{})
	server.stdin = strings.NewReader("invalid json\n")
	server.stdout = &stdout

	require.NoError(t, server.Run(context.Background()))

	output := stdout.String()
	assert.Contains(t, output, `-32700`)
	assert.Contains(t, output, `"Parse error"`)
}

// TestRun_Session runs a short stdio session.
func TestRun_Session(t *testing.T) {
	var stdout bytes.Buffer
	server := NewServer(Options{Version: "1.0.0"})
	server.stdin = strings.NewReader(strings.Join([]string{
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		``,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
	}, "\n") + "\n")
	server.stdout = &stdout

	require.NoError(t, server.Run(context.Background()))

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2, "empty lines and notifications produce no output")
	assert.Contains(t, lines[0], `"protocolVersion":"2024-11-05"`)
	assert.Contains(t, lines[1], `"fetch_projects"`)
}
