// Package filter parses the comma-separated key==value filter syntax of
// project searches into ordered clauses.
package filter

import (
	"fmt"
	"strings"

	"github.com/thebtf/pride-mcp/pkg/models"
)

const (
	clauseSeparator = ","
	keyValueSep     = "=="
)

// Result is the outcome of parsing a raw filter string. Warnings describe
// tokens that were dropped; they never abort a search.
type Result struct {
	Clauses  []models.FilterClause `json:"clauses"`
	Warnings []string              `json:"warnings,omitempty"`
}

// Parse splits raw into filter clauses. When facets is non-nil, each key must
// name a known facet (present in facets or in the fixed vocabulary); unknown
// keys are dropped with a warning. Values are never validated. Caller order is
// preserved and duplicate keys are kept.
func Parse(raw string, facets *models.FacetSet) Result {
	res := Result{Clauses: []models.FilterClause{}}
	if strings.TrimSpace(raw) == "" {
		return res
	}

	for _, token := range strings.Split(raw, clauseSeparator) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		key, value, ok := strings.Cut(token, keyValueSep)
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("ignored filter %q: expected key==value", token))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("ignored filter %q: empty key or value", token))
			continue
		}

		if facets != nil && !knownKey(key, facets) {
			res.Warnings = append(res.Warnings, fmt.Sprintf("ignored filter %q: unknown facet %q", token, key))
			continue
		}

		res.Clauses = append(res.Clauses, models.FilterClause{Key: key, Value: value})
	}

	return res
}

// Encode renders clauses back into archive filter syntax.
func Encode(clauses []models.FilterClause) string {
	parts := make([]string, 0, len(clauses))
	for _, c := range clauses {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, clauseSeparator)
}

func knownKey(key string, facets *models.FacetSet) bool {
	return facets.Has(key) || models.IsFacetName(key)
}
