// Package models holds the data types shared by the archive client, the
// search orchestrator, the tool layer and the telemetry store.
package models

import (
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

// Sort directions accepted by the archive search endpoint.
const (
	SortAscending  = "ASC"
	SortDescending = "DESC"
)

// accessionPattern matches PRIDE project (PXD) and reprocessed (PRD) accessions.
var accessionPattern = regexp.MustCompile(`^P[XR]D\d{6}$`)

// ValidAccession reports whether s looks like an archive project accession.
func ValidAccession(s string) bool {
	return accessionPattern.MatchString(s)
}

// FacetNames is the fixed facet vocabulary understood by the archive filter syntax.
var FacetNames = []string{
	"organisms",
	"organismsPart",
	"instruments",
	"experimentTypes",
	"keywords",
	"diseases",
	"quantificationMethods",
	"softwares",
	"projectTags",
	"submissionDate",
	"publicationDate",
	"otherOmicsLinks",
}

// IsFacetName reports whether name belongs to the fixed facet vocabulary.
func IsFacetName(name string) bool {
	for _, n := range FacetNames {
		if n == name {
			return true
		}
	}
	return false
}

// FacetValue is one value of a facet dimension with its project count.
type FacetValue struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// FacetSet maps facet names to their values, ordered by descending count.
type FacetSet struct {
	Facets map[string][]FacetValue `json:"facets"`
}

// NewFacetSet builds a FacetSet from the archive's name -> value -> count payload.
func NewFacetSet(raw map[string]map[string]int64) *FacetSet {
	fs := &FacetSet{Facets: make(map[string][]FacetValue, len(raw))}
	for name, values := range raw {
		list := make([]FacetValue, 0, len(values))
		for v, c := range values {
			list = append(list, FacetValue{Value: v, Count: c})
		}
		sort.Slice(list, func(i, j int) bool {
			if list[i].Count != list[j].Count {
				return list[i].Count > list[j].Count
			}
			return list[i].Value < list[j].Value
		})
		fs.Facets[name] = list
	}
	return fs
}

// Has reports whether the set contains the named facet.
func (fs *FacetSet) Has(name string) bool {
	if fs == nil {
		return false
	}
	_, ok := fs.Facets[name]
	return ok
}

// Values returns the values of a facet, or nil.
func (fs *FacetSet) Values(name string) []FacetValue {
	if fs == nil {
		return nil
	}
	return fs.Facets[name]
}

// Top returns at most n values of a facet as a value -> count map.
func (fs *FacetSet) Top(name string, n int) map[string]int64 {
	values := fs.Values(name)
	if len(values) > n {
		values = values[:n]
	}
	out := make(map[string]int64, len(values))
	for _, v := range values {
		out[v.Value] = v.Count
	}
	return out
}

// Names returns the facet names in sorted order.
func (fs *FacetSet) Names() []string {
	if fs == nil {
		return nil
	}
	names := make([]string, 0, len(fs.Facets))
	for n := range fs.Facets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// FilterClause is one key==value constraint of a project search.
type FilterClause struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// String renders the clause in archive filter syntax.
func (c FilterClause) String() string {
	return c.Key + "==" + c.Value
}

// SearchQuery is a validated project search request.
type SearchQuery struct {
	Keyword       string         `json:"keyword"`
	SortFields    string         `json:"sort_fields"`
	SortDirection string         `json:"sort_direction"`
	Filters       []FilterClause `json:"filters,omitempty"`
	Page          int            `json:"page"`
	PageSize      int            `json:"page_size"`
}

// FilterString joins the query's clauses in archive filter syntax.
func (q SearchQuery) FilterString() string {
	parts := make([]string, 0, len(q.Filters))
	for _, c := range q.Filters {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

// ProjectSummary is one hit of a project search.
type ProjectSummary struct {
	Accession string `json:"accession"`
	Title     string `json:"title,omitempty"`
}

// SearchResult is the decoded response of a project search.
type SearchResult struct {
	Projects []ProjectSummary `json:"projects"`
	Total    int              `json:"total"`
}

// Accessions returns the accessions of the hits in search order.
func (r *SearchResult) Accessions() []string {
	out := make([]string, 0, len(r.Projects))
	for _, p := range r.Projects {
		out = append(out, p.Accession)
	}
	return out
}

// CvParam is a controlled-vocabulary term as used throughout the archive documents.
type CvParam struct {
	Accession string `json:"accession,omitempty"`
	Name      string `json:"name,omitempty"`
	Value     string `json:"value,omitempty"`
}

// ProjectDetail is the metadata of one archive project. Raw keeps the full
// upstream document so nothing the archive returns is lost.
type ProjectDetail struct {
	Raw               json.RawMessage   `json:"-"`
	Accession         string            `json:"accession"`
	Title             string            `json:"title"`
	Description       string            `json:"projectDescription,omitempty"`
	SubmissionDate    string            `json:"submissionDate,omitempty"`
	PublicationDate   string            `json:"publicationDate,omitempty"`
	Keywords          []string          `json:"keywords,omitempty"`
	Organisms         []CvParam         `json:"organisms,omitempty"`
	Instruments       []CvParam         `json:"instruments,omitempty"`
	References        []json.RawMessage `json:"references,omitempty"`
	SubmissionType    string            `json:"submissionType,omitempty"`
	ExperimentTypes   []CvParam         `json:"experimentTypes,omitempty"`
	QuantificationIDs []CvParam         `json:"quantificationMethods,omitempty"`
	FilesCount        int               `json:"filesCount"`
}

// OrganismNames returns the organism names of the project.
func (d *ProjectDetail) OrganismNames() []string {
	return cvNames(d.Organisms)
}

// InstrumentNames returns the instrument names of the project.
func (d *ProjectDetail) InstrumentNames() []string {
	return cvNames(d.Instruments)
}

func cvNames(params []CvParam) []string {
	out := make([]string, 0, len(params))
	for _, p := range params {
		if p.Name != "" {
			out = append(out, p.Name)
		}
	}
	return out
}

// ProjectFile describes one file attached to a project.
type ProjectFile struct {
	FileCategory        *CvParam  `json:"fileCategory,omitempty"`
	FileName            string    `json:"fileName"`
	FileType            string    `json:"fileType,omitempty"`
	Checksum            string    `json:"checksum,omitempty"`
	PublicFileLocations []CvParam `json:"publicFileLocations,omitempty"`
	FileSizeBytes       int64     `json:"fileSizeBytes,omitempty"`
	FileSize            int64     `json:"fileSize,omitempty"`
}

// Category returns the file category, falling back to the legacy fileType field.
func (f ProjectFile) Category() string {
	if f.FileCategory != nil && f.FileCategory.Value != "" {
		return f.FileCategory.Value
	}
	if f.FileType != "" {
		return f.FileType
	}
	return "Unknown"
}

// Size returns the file size in bytes.
func (f ProjectFile) Size() int64 {
	if f.FileSizeBytes > 0 {
		return f.FileSizeBytes
	}
	return f.FileSize
}

// Extension returns the file extension without the leading dot.
func (f ProjectFile) Extension() string {
	return strings.TrimPrefix(path.Ext(f.FileName), ".")
}

// MatchesType reports whether the file matches a file-type filter. The match is
// exact and case-sensitive against the category or the extension.
func (f ProjectFile) MatchesType(fileType string) bool {
	if fileType == "" {
		return true
	}
	return f.Category() == fileType || f.FileType == fileType || f.Extension() == fileType
}
