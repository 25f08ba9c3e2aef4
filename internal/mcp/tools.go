package mcp

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/thebtf/pride-mcp/internal/ai"
	"github.com/thebtf/pride-mcp/internal/search"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// Tool names.
const (
	ToolGetFacets      = "get_pride_facets"
	ToolFetchProjects  = "fetch_projects"
	ToolProjectDetails = "get_project_details"
	ToolProjectFiles   = "get_project_files"
	ToolAnalyzeWithAI  = "analyze_with_ai"
)

// Defaults applied to omitted tool arguments.
const (
	DefaultFacetPageSize = search.DefaultFacetPageSize
	DefaultFacetPage     = 0
	DefaultPageSize      = search.DefaultPageSize
	DefaultPage          = 0
	DefaultSortDirection = search.DefaultSortDirection
	DefaultSortFields    = search.DefaultSortFields
	DefaultAnalysisType  = ai.AnalysisGeneral
)

var knownTools = map[string]bool{
	ToolGetFacets:      true,
	ToolFetchProjects:  true,
	ToolProjectDetails: true,
	ToolProjectFiles:   true,
	ToolAnalyzeWithAI:  true,
}

func isKnownTool(name string) bool {
	return knownTools[name]
}

func prop(typ, description string, extra ...any) map[string]any {
	p := map[string]any{"type": typ, "description": description}
	for i := 0; i+1 < len(extra); i += 2 {
		p[extra[i].(string)] = extra[i+1]
	}
	return p
}

// toolDefinitions returns the tool surface advertised by tools/list.
func toolDefinitions() []Tool {
	return []Tool{
		{
			Name: ToolGetFacets,
			Description: "Get the facet values available for filtering PRIDE Archive projects " +
				"(organisms, instruments, diseases, keywords and more). Call this first to find valid filter keys and values.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"facet_page_size": prop("integer", "Number of values per facet", "default", DefaultFacetPageSize, "minimum", 1),
					"facet_page":      prop("integer", "Facet page number", "default", DefaultFacetPage, "minimum", 0),
				},
			},
		},
		{
			Name: ToolFetchProjects,
			Description: "Search PRIDE Archive projects by keyword with optional facet filters. " +
				"Returns matching accessions and project details for the first results.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"keyword":        prop("string", "Search keyword, e.g. cancer or PXD000001"),
					"filters":        prop("string", "Comma-separated key==value filters, e.g. organisms==Homo sapiens (human),diseases==Breast cancer", "default", ""),
					"page_size":      prop("integer", "Results per page", "default", DefaultPageSize, "minimum", 1, "maximum", search.MaxPageSize),
					"page":           prop("integer", "Page number, starting at 0", "default", DefaultPage, "minimum", 0),
					"sort_direction": prop("string", "Sort direction", "default", DefaultSortDirection, "enum", []string{models.SortAscending, models.SortDescending}),
					"sort_fields":    prop("string", "Field to sort by", "default", DefaultSortFields),
				},
				"required": []string{"keyword"},
			},
		},
		{
			Name:        ToolProjectDetails,
			Description: "Get the full metadata of one PRIDE Archive project.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_accession": prop("string", "Project accession, e.g. PXD000001", "pattern", `^P[XR]D\d{6}$`),
				},
				"required": []string{"project_accession"},
			},
		},
		{
			Name:        ToolProjectFiles,
			Description: "List the files of one PRIDE Archive project, optionally restricted to a file type.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"project_accession": prop("string", "Project accession, e.g. PXD000001", "pattern", `^P[XR]D\d{6}$`),
					"file_type":         prop("string", "File category or extension to keep, e.g. RAW, RESULT or mzML"),
				},
				"required": []string{"project_accession"},
			},
		},
		{
			Name:        ToolAnalyzeWithAI,
			Description: "Analyze PRIDE data with an AI model: summarize search results, explain projects or suggest research directions.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"data": prop("string", "Data to analyze, usually the output of another tool"),
					"analysis_type": prop("string", "Kind of analysis", "default", DefaultAnalysisType,
						"enum", []string{ai.AnalysisGeneral, ai.AnalysisSearchResults, ai.AnalysisResearchSuggestions}),
					"context": prop("string", "Original question or extra context"),
				},
				"required": []string{"data"},
			},
		},
	}
}

// intArg accepts a JSON number or a numeric string and remembers whether it was supplied.
type intArg struct {
	value int
	set   bool
}

func (a *intArg) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) {
			return fmt.Errorf("expected integer, got %s", b)
		}
		n = int(f)
	}
	a.value, a.set = n, true
	return nil
}

func (a intArg) or(def int) int {
	if a.set {
		return a.value
	}
	return def
}

type facetsArgs struct {
	FacetPageSize intArg `json:"facet_page_size"`
	FacetPage     intArg `json:"facet_page"`
}

type fetchProjectsArgs struct {
	Keyword       string `json:"keyword"`
	Filters       string `json:"filters"`
	SortDirection string `json:"sort_direction"`
	SortFields    string `json:"sort_fields"`
	PageSize      intArg `json:"page_size"`
	Page          intArg `json:"page"`
}

type projectArgs struct {
	ProjectAccession string `json:"project_accession"`
	FileType         string `json:"file_type"`
}

type analyzeArgs struct {
	AnalysisType string          `json:"analysis_type"`
	Context      string          `json:"context"`
	Data         json.RawMessage `json:"data"`
}

// decodeArgs decodes tool arguments; absent or null arguments leave v untouched.
func decodeArgs(raw json.RawMessage, v any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return models.ValidationError("invalid arguments: %v", err)
	}
	return nil
}

// argumentMap returns the arguments as a generic map for usage metadata.
func argumentMap(raw json.RawMessage) map[string]any {
	var m map[string]any
	if err := decodeArgs(raw, &m); err != nil {
		return nil
	}
	if d, ok := m["data"].(string); ok {
		if r := []rune(d); len(r) > 200 {
			m["data"] = string(r[:200]) + "..."
		}
	}
	return m
}

// describeCall renders the question text stored for a call, e.g. "fetch_projects: cancer".
func describeCall(name string, raw json.RawMessage) string {
	args := argumentMap(raw)
	var subject string
	switch name {
	case ToolFetchProjects:
		subject, _ = args["keyword"].(string)
		if f, _ := args["filters"].(string); f != "" {
			subject += " [" + f + "]"
		}
	case ToolProjectDetails:
		subject, _ = args["project_accession"].(string)
	case ToolProjectFiles:
		subject, _ = args["project_accession"].(string)
		if ft, _ := args["file_type"].(string); ft != "" {
			subject += " (" + ft + ")"
		}
	case ToolAnalyzeWithAI:
		subject, _ = args["analysis_type"].(string)
		if subject == "" {
			subject = DefaultAnalysisType
		}
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return name
	}
	return name + ": " + subject
}
