package mcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/pride-mcp/internal/ai"
	"github.com/thebtf/pride-mcp/internal/archive"
	"github.com/thebtf/pride-mcp/internal/filter"
	"github.com/thebtf/pride-mcp/internal/search"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// Envelope is the JSON document returned as the text content of every tool result.
type Envelope struct {
	Highlights     map[string]any   `json:"highlights"`
	Data           any              `json:"data"`
	Parameters     map[string]any   `json:"parameters"`
	SearchCriteria *search.Criteria `json:"search_criteria,omitempty"`
	Flags          *Flags           `json:"flags,omitempty"`
	Tool           string           `json:"tool"`
	Reasoning      string           `json:"reasoning"`
	EndpointURL    string           `json:"endpoint_url"`
	Warnings       []string         `json:"warnings,omitempty"`
}

// Flags reports how a project search ran.
type Flags struct {
	UpstreamCalls []string `json:"upstream_calls"`
	EnrichLimit   int      `json:"enrich_limit"`
	Degraded      bool     `json:"degraded"`
	NoResults     bool     `json:"no_results"`
	Truncated     bool     `json:"truncated"`
}

// callTool dispatches to the appropriate tool handler and encodes its envelope.
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	var (
		env *Envelope
		err error
	)
	switch name {
	case ToolGetFacets:
		env, err = s.handleGetFacets(ctx, args)
	case ToolFetchProjects:
		env, err = s.handleFetchProjects(ctx, args)
	case ToolProjectDetails:
		env, err = s.handleProjectDetails(ctx, args)
	case ToolProjectFiles:
		env, err = s.handleProjectFiles(ctx, args)
	case ToolAnalyzeWithAI:
		env, err = s.handleAnalyze(ctx, args)
	default:
		return "", models.ValidationError("unknown tool: %s", name).
			WithParameters(map[string]any{"tool": name})
	}
	if err != nil {
		return "", err
	}

	env.Tool = name
	if env.Parameters == nil {
		env.Parameters = map[string]any{}
	}
	output, err := json.Marshal(env)
	if err != nil {
		return "", models.WrapError(models.KindInternal, "marshal result", err)
	}
	return string(output), nil
}

func (s *Server) requireArchive() error {
	if s.archive == nil {
		return models.NewError(models.KindUpstreamUnavailable, "archive backend is not configured")
	}
	return nil
}

func (s *Server) handleGetFacets(ctx context.Context, raw json.RawMessage) (*Envelope, error) {
	var args facetsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	pageSize := args.FacetPageSize.or(DefaultFacetPageSize)
	page := args.FacetPage.or(DefaultFacetPage)
	params := map[string]any{"facetPageSize": pageSize, "facetPage": page}

	if pageSize <= 0 || page < 0 {
		return nil, models.ValidationError("facet_page_size must be positive and facet_page non-negative").
			WithParameters(params)
	}
	if err := s.requireArchive(); err != nil {
		return nil, err
	}

	facets, err := s.archive.Facets(ctx, pageSize, page)
	if err != nil {
		return nil, withParameters(err, params)
	}

	data := make(map[string][]models.FacetValue, len(facets.Names()))
	for _, name := range facets.Names() {
		data[name] = facets.Values(name)
	}

	return &Envelope{
		Reasoning:   fmt.Sprintf("Successfully retrieved %d facet categories from PRIDE Archive.", len(data)),
		Highlights:  facetHighlights(facets),
		Data:        data,
		EndpointURL: s.endpointURL("facet/projects"),
		Parameters:  params,
	}, nil
}

// facetHighlights summarises the major facets with value counts and their top five values.
func facetHighlights(fs *models.FacetSet) map[string]any {
	return map[string]any{
		"total_facets":           len(fs.Names()),
		"organisms_count":        len(fs.Values("organisms")),
		"instruments_count":      len(fs.Values("instruments")),
		"experiment_types_count": len(fs.Values("experimentTypes")),
		"keywords_count":         len(fs.Values("keywords")),
		"diseases_count":         len(fs.Values("diseases")),
		"top_organisms":          fs.Top("organisms", 5),
		"top_experiment_types":   fs.Top("experimentTypes", 5),
		"top_keywords":           fs.Top("keywords", 5),
	}
}

func (s *Server) handleFetchProjects(ctx context.Context, raw json.RawMessage) (*Envelope, error) {
	var args fetchProjectsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	req := search.Request{
		Keyword:       strings.TrimSpace(args.Keyword),
		Filters:       args.Filters,
		SortDirection: args.SortDirection,
		SortFields:    args.SortFields,
		Page:          args.Page.or(DefaultPage),
		PageSize:      args.PageSize.or(DefaultPageSize),
	}
	if req.Keyword == "" {
		return nil, models.ValidationError("keyword is required").
			WithParameters(map[string]any{"keyword": args.Keyword})
	}
	criteria, err := search.Normalize(req)
	if err != nil {
		return nil, withParameters(err, criteria.AsMap())
	}
	if err := s.requireArchive(); err != nil {
		return nil, err
	}

	res, err := s.archive.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	params := queryParams(res, criteria)
	projects := res.Projects
	if projects == nil {
		projects = []search.EnrichedProject{}
	}
	accessions := res.Accessions
	if accessions == nil {
		accessions = []string{}
	}
	enriched := 0
	for _, p := range projects {
		if p.Enriched {
			enriched++
		}
	}
	applied := filter.Encode(res.AppliedFilters)
	if applied == "" {
		applied = "None"
	}

	reasoning := fmt.Sprintf("Successfully found %d projects matching '%s'.", res.Total, criteria.Keyword)
	switch {
	case res.NoResults:
		reasoning = fmt.Sprintf("No projects found matching '%s'. Try a broader keyword or fewer filters.", criteria.Keyword)
	case res.Truncated:
		reasoning += fmt.Sprintf(" Enrichment was interrupted after %d projects.", enriched)
	}
	if res.Degraded {
		reasoning += " Facets were unavailable, so filters were not validated."
	}

	return &Envelope{
		Reasoning: reasoning,
		Highlights: map[string]any{
			"total_projects":     res.Total,
			"keyword":            criteria.Keyword,
			"filters_applied":    applied,
			"page":               criteria.Page,
			"page_size":          criteria.PageSize,
			"project_accessions": accessions,
			"enriched_projects":  enriched,
		},
		Data:           projects,
		EndpointURL:    s.endpointURL("search/projects"),
		Parameters:     params,
		SearchCriteria: &res.Criteria,
		Warnings:       res.Warnings,
		Flags: &Flags{
			Degraded:      res.Degraded,
			NoResults:     res.NoResults,
			Truncated:     res.Truncated,
			EnrichLimit:   res.EnrichLimit,
			UpstreamCalls: res.Trace,
		},
	}, nil
}

// queryParams renders the upstream query string of a search as a flat map.
func queryParams(res *search.Result, c search.Criteria) map[string]any {
	values := archive.SearchParams(models.SearchQuery{
		Keyword:       c.Keyword,
		SortFields:    c.SortFields,
		SortDirection: c.SortDirection,
		Filters:       res.AppliedFilters,
		Page:          c.Page,
		PageSize:      c.PageSize,
	})
	params := make(map[string]any, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return params
}

func (s *Server) accessionArgs(raw json.RawMessage) (projectArgs, error) {
	var args projectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return args, err
	}
	args.ProjectAccession = strings.TrimSpace(args.ProjectAccession)
	params := map[string]any{"project_accession": args.ProjectAccession}
	if args.ProjectAccession == "" {
		return args, models.ValidationError("project_accession is required").WithParameters(params)
	}
	if !models.ValidAccession(args.ProjectAccession) {
		return args, models.ValidationError("invalid project accession %q, expected PXD or PRD followed by six digits", args.ProjectAccession).
			WithParameters(params)
	}
	return args, s.requireArchive()
}

func (s *Server) handleProjectDetails(ctx context.Context, raw json.RawMessage) (*Envelope, error) {
	args, err := s.accessionArgs(raw)
	if err != nil {
		return nil, err
	}
	acc := args.ProjectAccession

	detail, err := s.archive.ProjectDetails(ctx, acc)
	if err != nil {
		return nil, withParameters(err, map[string]any{"project_accession": acc})
	}

	var data any = detail
	if len(detail.Raw) > 0 {
		data = json.RawMessage(detail.Raw)
	}

	return &Envelope{
		Reasoning:   fmt.Sprintf("Successfully retrieved detailed information for project %s.", acc),
		Highlights:  detailHighlights(acc, detail),
		Data:        data,
		EndpointURL: s.endpointURL("projects/" + acc),
		Parameters:  map[string]any{},
	}, nil
}

func detailHighlights(acc string, d *models.ProjectDetail) map[string]any {
	keywords := d.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	return map[string]any{
		"project_id":       acc,
		"title":            orNA(d.Title),
		"submission_date":  orNA(d.SubmissionDate),
		"publication_date": orNA(d.PublicationDate),
		"organisms":        d.OrganismNames(),
		"instruments":      d.InstrumentNames(),
		"keywords":         keywords,
		"publications":     len(d.References),
		"files_count":      d.FilesCount,
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func (s *Server) handleProjectFiles(ctx context.Context, raw json.RawMessage) (*Envelope, error) {
	args, err := s.accessionArgs(raw)
	if err != nil {
		return nil, err
	}
	acc := args.ProjectAccession
	fileType := strings.TrimSpace(args.FileType)

	params := map[string]any{}
	if fileType != "" {
		params["fileType"] = fileType
	}

	files, err := s.archive.ProjectFiles(ctx, acc, fileType)
	if err != nil {
		return nil, withParameters(err, map[string]any{"project_accession": acc, "file_type": fileType})
	}
	if files == nil {
		files = []models.ProjectFile{}
	}

	return &Envelope{
		Reasoning:   fmt.Sprintf("Successfully retrieved file information for project %s.", acc),
		Highlights:  fileHighlights(acc, fileType, files),
		Data:        files,
		EndpointURL: s.endpointURL("projects/" + acc + "/files"),
		Parameters:  params,
	}, nil
}

// fileHighlights counts files per category, totals their size and samples the first three names.
func fileHighlights(acc, fileType string, files []models.ProjectFile) map[string]any {
	categories := make(map[string]int)
	var total int64
	for _, f := range files {
		categories[f.Category()]++
		total += f.Size()
	}
	sample := make([]string, 0, 3)
	for _, f := range files[:min(3, len(files))] {
		name := f.FileName
		if name == "" {
			name = "Unknown"
		}
		sample = append(sample, name)
	}
	applied := fileType
	if applied == "" {
		applied = "None"
	}
	return map[string]any{
		"project_id":     acc,
		"total_files":    len(files),
		"file_types":     categories,
		"total_size_mb":  math.Round(float64(total)/(1024*1024)*100) / 100,
		"filter_applied": applied,
		"sample_files":   sample,
	}
}

func (s *Server) handleAnalyze(ctx context.Context, raw json.RawMessage) (*Envelope, error) {
	var args analyzeArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}
	data := analysisData(args.Data)
	analysisType := strings.TrimSpace(args.AnalysisType)
	if analysisType == "" {
		analysisType = DefaultAnalysisType
	}
	params := map[string]any{"analysis_type": analysisType, "has_context": args.Context != ""}

	if data == "" {
		return nil, models.ValidationError("data is required").WithParameters(params)
	}
	if s.analyzer == nil || !s.analyzer.Enabled() {
		return nil, models.ErrAIDisabled.WithParameters(params)
	}

	text, err := s.analyzer.Analyze(ctx, ai.Request{Data: data, AnalysisType: analysisType, Context: args.Context})
	if err != nil {
		return nil, withParameters(err, params)
	}

	return &Envelope{
		Reasoning: fmt.Sprintf("Completed %s analysis with %s.", analysisType, s.analyzer.Provider()),
		Highlights: map[string]any{
			"analysis_type": analysisType,
			"provider":      s.analyzer.Provider(),
			"input_length":  len(data),
			"output_length": len(text),
		},
		Data:       text,
		Parameters: params,
	}, nil
}

// analysisData accepts either a JSON string or any other JSON value, which is passed on as compact JSON text.
func analysisData(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

// withParameters attaches params to err unless it already carries some.
func withParameters(err error, params map[string]any) error {
	if models.ParametersOf(err) != nil {
		return err
	}
	var e *models.Error
	if errors.As(err, &e) {
		return e.WithParameters(params)
	}
	return models.WrapError(models.KindInternal, "tool failed", err).WithParameters(params)
}
