// Package search orchestrates facet-aware project searches against the archive.
package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/pride-mcp/internal/filter"
	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// Defaults applied to search requests and facet lookups.
const (
	DefaultPageSize          = 25
	DefaultSortDirection     = models.SortDescending
	DefaultSortFields        = "downloadCount"
	DefaultFacetPageSize     = 100
	DefaultEnrichLimit       = 10
	DefaultEnrichConcurrency = 4
	MaxPageSize              = 100

	recentQueryCap = 50
)

// Archive is the subset of the archive client the manager needs.
type Archive interface {
	Facets(ctx context.Context, pageSize, page int) (*models.FacetSet, error)
	Search(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error)
	ProjectDetails(ctx context.Context, accession string) (*models.ProjectDetail, error)
	ProjectFiles(ctx context.Context, accession, fileType string) ([]models.ProjectFile, error)
}

// Options tunes the manager.
type Options struct {
	EnrichLimit       int
	EnrichConcurrency int
	FacetPageSize     int
}

// SearchMetrics tracks orchestration statistics.
type SearchMetrics struct {
	TotalSearches      int64
	DegradedSearches   int64
	NoResultSearches   int64
	TruncatedSearches  int64
	SearchErrors       int64
	EnrichedProjects   int64
	EnrichmentFailures int64
	TotalLatencyNs     int64
}

// GetStats returns the current search statistics.
func (m *SearchMetrics) GetStats() map[string]any {
	total := atomic.LoadInt64(&m.TotalSearches)
	avgLatencyMs := float64(0)
	if total > 0 {
		avgLatencyMs = float64(atomic.LoadInt64(&m.TotalLatencyNs)) / float64(total) / 1e6
	}
	return map[string]any{
		"total_searches":      total,
		"degraded_searches":   atomic.LoadInt64(&m.DegradedSearches),
		"no_result_searches":  atomic.LoadInt64(&m.NoResultSearches),
		"truncated_searches":  atomic.LoadInt64(&m.TruncatedSearches),
		"search_errors":       atomic.LoadInt64(&m.SearchErrors),
		"enriched_projects":   atomic.LoadInt64(&m.EnrichedProjects),
		"enrichment_failures": atomic.LoadInt64(&m.EnrichmentFailures),
		"avg_latency_ms":      avgLatencyMs,
	}
}

// RecentQuery is a search recently executed through the manager.
type RecentQuery struct {
	LastUsed time.Time `json:"last_used"`
	Criteria Criteria  `json:"criteria"`
	Count    int64     `json:"count"`
}

// Manager runs the facets -> normalize -> search -> enrich pipeline.
type Manager struct {
	archive     Archive
	metrics     *SearchMetrics
	logger      zerolog.Logger
	facetGroup  singleflight.Group
	recent      map[string]*RecentQuery
	opts        Options
	recentOrder []string
	recentMu    sync.Mutex
}

// NewManager creates a new search manager.
func NewManager(archive Archive, opts Options) *Manager {
	if opts.EnrichLimit <= 0 {
		opts.EnrichLimit = DefaultEnrichLimit
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = DefaultEnrichConcurrency
	}
	if opts.FacetPageSize <= 0 {
		opts.FacetPageSize = DefaultFacetPageSize
	}
	return &Manager{
		archive: archive,
		opts:    opts,
		metrics: &SearchMetrics{},
		logger:  log.With().Str("component", "search").Logger(),
		recent:  make(map[string]*RecentQuery),
	}
}

// Metrics returns the manager's statistics.
func (m *Manager) Metrics() *SearchMetrics {
	return m.metrics
}

// Facets fetches the facet set. Concurrent identical lookups share one
// upstream call; nothing is retained once the call completes.
func (m *Manager) Facets(ctx context.Context, pageSize, page int) (*models.FacetSet, error) {
	if pageSize <= 0 {
		return nil, models.ValidationError("facet_page_size must be positive, got %d", pageSize)
	}
	if page < 0 {
		return nil, models.ValidationError("facet_page must not be negative, got %d", page)
	}

	key := strconv.Itoa(pageSize) + ":" + strconv.Itoa(page)
	ch := m.facetGroup.DoChan(key, func() (any, error) {
		return m.archive.Facets(context.WithoutCancel(ctx), pageSize, page)
	})

	select {
	case <-ctx.Done():
		return nil, models.WrapError(models.KindUpstreamUnavailable, "facet lookup canceled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.FacetSet), nil
	}
}

// ProjectDetails fetches one project's metadata.
func (m *Manager) ProjectDetails(ctx context.Context, accession string) (*models.ProjectDetail, error) {
	return m.archive.ProjectDetails(ctx, accession)
}

// ProjectFiles lists one project's files.
func (m *Manager) ProjectFiles(ctx context.Context, accession, fileType string) ([]models.ProjectFile, error) {
	return m.archive.ProjectFiles(ctx, accession, fileType)
}

// Normalize applies the sort defaults to req and validates it. Page sizes
// are never defaulted here; callers decide what an omitted page_size means.
func Normalize(req Request) (Criteria, error) {
	c := Criteria{
		Keyword:       strings.TrimSpace(req.Keyword),
		Filters:       strings.TrimSpace(req.Filters),
		SortDirection: strings.ToUpper(strings.TrimSpace(req.SortDirection)),
		SortFields:    strings.TrimSpace(req.SortFields),
		Page:          req.Page,
		PageSize:      req.PageSize,
	}
	if c.SortDirection == "" {
		c.SortDirection = DefaultSortDirection
	}
	if c.SortFields == "" {
		c.SortFields = DefaultSortFields
	}

	switch {
	case c.Keyword == "":
		return c, models.ValidationError("keyword is required and must not be empty")
	case c.PageSize < 1 || c.PageSize > MaxPageSize:
		return c, models.ValidationError("page_size must be between 1 and %d, got %d", MaxPageSize, c.PageSize)
	case c.Page < 0:
		return c, models.ValidationError("page must not be negative, got %d", c.Page)
	case c.SortDirection != models.SortAscending && c.SortDirection != models.SortDescending:
		return c, models.ValidationError("sort_direction must be ASC or DESC, got %q", req.SortDirection)
	}
	return c, nil
}

// Search runs the full pipeline: facets first, then filter normalization,
// the keyword search, and bounded enrichment of the first hits.
func (m *Manager) Search(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	atomic.AddInt64(&m.metrics.TotalSearches, 1)
	defer func() {
		atomic.AddInt64(&m.metrics.TotalLatencyNs, time.Since(start).Nanoseconds())
	}()

	criteria, err := Normalize(req)
	if err != nil {
		atomic.AddInt64(&m.metrics.SearchErrors, 1)
		return nil, withCriteria(err, criteria)
	}

	ctx, span := observability.StartInternalSpan(ctx, "search.pipeline",
		attribute.String("search.keyword", criteria.Keyword),
		attribute.Int("search.page_size", criteria.PageSize),
	)

	res, err := m.run(ctx, criteria)
	observability.EndSpan(span, err)
	if err != nil {
		atomic.AddInt64(&m.metrics.SearchErrors, 1)
		return nil, err
	}

	m.trackQuery(criteria)
	return res, nil
}

func (m *Manager) run(ctx context.Context, criteria Criteria) (*Result, error) {
	res := &Result{
		Criteria:       criteria,
		Accessions:     []string{},
		Projects:       []EnrichedProject{},
		AppliedFilters: []models.FilterClause{},
		Trace:          []string{},
	}
	var traceMu sync.Mutex
	trace := func(step string) {
		traceMu.Lock()
		res.Trace = append(res.Trace, step)
		traceMu.Unlock()
	}

	// 1. Facets. A failure degrades validation but never aborts the search.
	trace("facets")
	facets, err := m.Facets(ctx, m.opts.FacetPageSize, 0)
	if err != nil {
		facets = nil
		res.Degraded = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("facet lookup failed, filters were not validated: %v", err))
		atomic.AddInt64(&m.metrics.DegradedSearches, 1)
		observability.DegradedSearchesTotal.Inc()
		m.logger.Warn().Err(err).Str("keyword", criteria.Keyword).Msg("Searching in degraded mode")
	}

	// 2. Filters.
	parsed := filter.Parse(criteria.Filters, facets)
	res.AppliedFilters = parsed.Clauses
	res.Warnings = append(res.Warnings, parsed.Warnings...)

	// 3. Search.
	trace("search")
	query := models.SearchQuery{
		Keyword:       criteria.Keyword,
		Page:          criteria.Page,
		PageSize:      criteria.PageSize,
		SortDirection: criteria.SortDirection,
		SortFields:    criteria.SortFields,
		Filters:       parsed.Clauses,
	}
	found, err := m.archive.Search(ctx, query)
	if err != nil {
		params := criteria.AsMap()
		params["filter"] = query.FilterString()
		return nil, withParams(err, params)
	}

	res.Accessions = found.Accessions()
	res.Total = found.Total
	if len(found.Projects) == 0 {
		res.NoResults = true
		atomic.AddInt64(&m.metrics.NoResultSearches, 1)
		return res, nil
	}

	// 4. Enrichment.
	limit := min(criteria.PageSize, m.opts.EnrichLimit)
	res.EnrichLimit = limit
	m.enrich(ctx, found.Projects, limit, res, trace)
	return res, nil
}

// enrich fetches project details for the first limit hits with bounded
// concurrency. Per-item failures become warnings; cancellation truncates.
func (m *Manager) enrich(ctx context.Context, hits []models.ProjectSummary, limit int, res *Result, trace func(string)) {
	if limit > len(hits) {
		limit = len(hits)
	}
	res.Projects = make([]EnrichedProject, limit)
	for i := 0; i < limit; i++ {
		res.Projects[i] = EnrichedProject{Accession: hits[i].Accession, Title: hits[i].Title}
	}

	attempted := make([]bool, limit)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.EnrichConcurrency)

	for i := 0; i < limit; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p := &res.Projects[i]
			if gctx.Err() != nil {
				return nil
			}
			attempted[i] = true
			detail, err := m.archive.ProjectDetails(gctx, p.Accession)
			if err != nil {
				if gctx.Err() == nil {
					p.Error = err.Error()
				}
				return nil
			}
			p.Detail = detail
			p.Enriched = true
			if p.Title == "" {
				p.Title = detail.Title
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, ok := range attempted {
		if ok {
			trace("project_details:" + res.Projects[i].Accession)
		}
	}

	enriched := 0
	for _, p := range res.Projects {
		switch {
		case p.Enriched:
			enriched++
		case p.Error != "":
			res.Warnings = append(res.Warnings, fmt.Sprintf("could not load details for %s: %s", p.Accession, p.Error))
			atomic.AddInt64(&m.metrics.EnrichmentFailures, 1)
			observability.EnrichmentFailuresTotal.Inc()
		}
	}
	atomic.AddInt64(&m.metrics.EnrichedProjects, int64(enriched))

	if ctx.Err() != nil {
		res.Truncated = true
		atomic.AddInt64(&m.metrics.TruncatedSearches, 1)
		res.Warnings = append(res.Warnings, fmt.Sprintf("enrichment interrupted: %d of %d projects enriched", enriched, limit))
	}
}

// trackQuery records a search in the recent-query list.
func (m *Manager) trackQuery(c Criteria) {
	key := fmt.Sprintf("%s|%s|%d|%d|%s|%s", strings.ToLower(c.Keyword), c.Filters, c.Page, c.PageSize, c.SortDirection, c.SortFields)

	m.recentMu.Lock()
	defer m.recentMu.Unlock()

	if q, ok := m.recent[key]; ok {
		q.Count++
		q.LastUsed = time.Now()
		return
	}
	if len(m.recentOrder) >= recentQueryCap {
		oldest := m.recentOrder[0]
		m.recentOrder = m.recentOrder[1:]
		delete(m.recent, oldest)
	}
	m.recent[key] = &RecentQuery{Criteria: c, Count: 1, LastUsed: time.Now()}
	m.recentOrder = append(m.recentOrder, key)
}

// GetRecentQueries returns up to limit recent searches, newest first.
func (m *Manager) GetRecentQueries(limit int) []RecentQuery {
	m.recentMu.Lock()
	defer m.recentMu.Unlock()

	out := make([]RecentQuery, 0, min(limit, len(m.recentOrder)))
	for i := len(m.recentOrder) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.recent[m.recentOrder[i]])
	}
	return out
}

func withCriteria(err error, c Criteria) error {
	return withParams(err, c.AsMap())
}

func withParams(err error, params map[string]any) error {
	var e *models.Error
	if errors.As(err, &e) {
		return e.WithParameters(params)
	}
	return models.WrapError(models.KindInternal, "search failed", err).WithParameters(params)
}
