package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/pride-mcp/pkg/models"
)

func testFacets() *models.FacetSet {
	return models.NewFacetSet(map[string]map[string]int64{
		"organisms":     {"Homo sapiens (human)": 100},
		"organismsPart": {"Breast": 10},
		"customFacet":   {"x": 1},
	})
}

func TestParse(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		facets       *models.FacetSet
		wantClauses  []models.FilterClause
		wantWarnings int
	}{
		{
			name:        "empty",
			raw:         "   ",
			wantClauses: []models.FilterClause{},
		},
		{
			name: "single clause with spaces in value",
			raw:  "organisms==Homo sapiens (human)",
			wantClauses: []models.FilterClause{
				{Key: "organisms", Value: "Homo sapiens (human)"},
			},
		},
		{
			name: "splits on first separator only",
			raw:  "keywords==a==b",
			wantClauses: []models.FilterClause{
				{Key: "keywords", Value: "a==b"},
			},
		},
		{
			name: "duplicate keys kept in order",
			raw:  "submissionDate==2023,organisms==Mus musculus (mouse),submissionDate==2024",
			wantClauses: []models.FilterClause{
				{Key: "submissionDate", Value: "2023"},
				{Key: "organisms", Value: "Mus musculus (mouse)"},
				{Key: "submissionDate", Value: "2024"},
			},
		},
		{
			name: "trailing comma is ignored",
			raw:  "organisms==Homo sapiens (human),",
			wantClauses: []models.FilterClause{
				{Key: "organisms", Value: "Homo sapiens (human)"},
			},
		},
		{
			name:         "empty key and empty value rejected",
			raw:          "==Breast,organismsPart==",
			wantClauses:  []models.FilterClause{},
			wantWarnings: 2,
		},
		{
			name:   "unknown key rejected with facets",
			raw:    "organisms==Homo sapiens (human),colour==blue",
			facets: testFacets(),
			wantClauses: []models.FilterClause{
				{Key: "organisms", Value: "Homo sapiens (human)"},
			},
			wantWarnings: 1,
		},
		{
			name:   "fetched facet and static vocabulary both accepted",
			raw:    "customFacet==x,diseases==Breast cancer",
			facets: testFacets(),
			wantClauses: []models.FilterClause{
				{Key: "customFacet", Value: "x"},
				{Key: "diseases", Value: "Breast cancer"},
			},
		},
		{
			name: "unknown key accepted without facets",
			raw:  "colour==blue",
			wantClauses: []models.FilterClause{
				{Key: "colour", Value: "blue"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Parse(tt.raw, tt.facets)
			assert.Equal(t, tt.wantClauses, res.Clauses)
			assert.Len(t, res.Warnings, tt.wantWarnings)
		})
	}
}

func TestParse_MalformedTokensBecomeWarningsAndValidOrderIsKept(t *testing.T) {
	res := Parse("a==1,garbage,b==2", nil)

	require.Len(t, res.Clauses, 2)
	assert.Equal(t, models.FilterClause{Key: "a", Value: "1"}, res.Clauses[0])
	assert.Equal(t, models.FilterClause{Key: "b", Value: "2"}, res.Clauses[1])
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "garbage")
}

func TestEncode(t *testing.T) {
	res := Parse("organisms==Homo sapiens (human), organismsPart==Breast", nil)
	assert.Equal(t, "organisms==Homo sapiens (human),organismsPart==Breast", Encode(res.Clauses))
	assert.Equal(t, "", Encode(nil))
}
