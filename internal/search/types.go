package search

import (
	"github.com/thebtf/pride-mcp/pkg/models"
)

// Request is a project search as received from a tool call. Zero values are
// replaced by the defaults before validation.
type Request struct {
	Keyword       string `json:"keyword"`
	Filters       string `json:"filters"`
	SortDirection string `json:"sort_direction"`
	SortFields    string `json:"sort_fields"`
	Page          int    `json:"page"`
	PageSize      int    `json:"page_size"`
}

// Criteria echoes the effective search parameters back to the caller.
type Criteria struct {
	Keyword       string `json:"keyword"`
	Filters       string `json:"filters"`
	SortDirection string `json:"sort_direction"`
	SortFields    string `json:"sort_fields"`
	Page          int    `json:"page"`
	PageSize      int    `json:"page_size"`
}

// AsMap renders the criteria as error parameters.
func (c Criteria) AsMap() map[string]any {
	return map[string]any{
		"keyword":        c.Keyword,
		"filters":        c.Filters,
		"sort_direction": c.SortDirection,
		"sort_fields":    c.SortFields,
		"page":           c.Page,
		"page_size":      c.PageSize,
	}
}

// EnrichedProject is one search hit with its detail document, if the
// enrichment lookup succeeded.
type EnrichedProject struct {
	Detail    *models.ProjectDetail `json:"detail,omitempty"`
	Accession string                `json:"accession"`
	Title     string                `json:"title,omitempty"`
	Error     string                `json:"error,omitempty"`
	Enriched  bool                  `json:"enriched"`
}

// Result is the assembled outcome of a project search.
type Result struct {
	Criteria       Criteria              `json:"search_criteria"`
	Accessions     []string              `json:"accessions"`
	Projects       []EnrichedProject     `json:"projects"`
	AppliedFilters []models.FilterClause `json:"applied_filters"`
	Warnings       []string              `json:"warnings,omitempty"`
	Trace          []string              `json:"trace"`
	Total          int                   `json:"total"`
	EnrichLimit    int                   `json:"enrich_limit"`
	Degraded       bool                  `json:"degraded"`
	NoResults      bool                  `json:"no_results"`
	Truncated      bool                  `json:"truncated"`
}
