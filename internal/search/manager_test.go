package search

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/thebtf/pride-mcp/pkg/models"
)

// fakeArchive is an in-memory Archive that records the order of calls.
type fakeArchive struct {
	facets      *models.FacetSet
	facetsErr   error
	searchErr   error
	details     map[string]*models.ProjectDetail
	detailErr   map[string]error
	detailDelay time.Duration
	hits        []models.ProjectSummary
	lastQuery   models.SearchQuery
	calls       []string
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	mu          sync.Mutex
}

func (f *fakeArchive) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeArchive) Facets(ctx context.Context, pageSize, page int) (*models.FacetSet, error) {
	f.record("facets")
	return f.facets, f.facetsErr
}

func (f *fakeArchive) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error) {
	f.record("search")
	f.mu.Lock()
	f.lastQuery = q
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &models.SearchResult{Projects: f.hits, Total: len(f.hits)}, nil
}

func (f *fakeArchive) ProjectDetails(ctx context.Context, accession string) (*models.ProjectDetail, error) {
	f.record("details:" + accession)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.detailDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.detailDelay):
		}
	}
	if err := f.detailErr[accession]; err != nil {
		return nil, err
	}
	if d, ok := f.details[accession]; ok {
		return d, nil
	}
	return &models.ProjectDetail{Accession: accession, Title: "Project " + accession}, nil
}

func (f *fakeArchive) ProjectFiles(ctx context.Context, accession, fileType string) ([]models.ProjectFile, error) {
	f.record("files:" + accession)
	return nil, nil
}

func (f *fakeArchive) detailCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > 8 && c[:8] == "details:" {
			n++
		}
	}
	return n
}

func hits(n int) []models.ProjectSummary {
	out := make([]models.ProjectSummary, n)
	for i := range out {
		out[i] = models.ProjectSummary{Accession: fmt.Sprintf("PXD%06d", i+1)}
	}
	return out
}

func defaultFacets() *models.FacetSet {
	return models.NewFacetSet(map[string]map[string]int64{
		"organisms": {"Homo sapiens (human)": 100},
	})
}

// ManagerSuite is a test suite for search Manager operations.
type ManagerSuite struct {
	suite.Suite
	archive *fakeArchive
	manager *Manager
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.archive = &fakeArchive{facets: defaultFacets()}
	s.manager = NewManager(s.archive, Options{EnrichLimit: 10, EnrichConcurrency: 3})
}

func (s *ManagerSuite) TestFacetsAreFetchedBeforeSearch() {
	s.archive.hits = hits(1)

	res, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", PageSize: DefaultPageSize})
	s.Require().NoError(err)

	s.Require().GreaterOrEqual(len(s.archive.calls), 2)
	s.Equal("facets", s.archive.calls[0])
	s.Equal("search", s.archive.calls[1])
	s.Equal([]string{"facets", "search"}, res.Trace[:2])
}

func (s *ManagerSuite) TestDegradedModeWhenFacetsFail() {
	s.archive.facetsErr = models.NewError(models.KindUpstreamUnavailable, "down")
	s.archive.hits = hits(1)

	res, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", Filters: "anything==goes", PageSize: DefaultPageSize})
	s.Require().NoError(err)
	s.True(res.Degraded)
	s.Equal([]models.FilterClause{{Key: "anything", Value: "goes"}}, res.AppliedFilters, "filters are not validated in degraded mode")
	s.NotEmpty(res.Warnings)
	s.EqualValues(1, s.manager.Metrics().DegradedSearches)
}

func (s *ManagerSuite) TestUnknownFilterKeyIsWarnedAndDropped() {
	s.archive.hits = hits(1)

	res, err := s.manager.Search(context.Background(), Request{
		Keyword:  "cancer",
		Filters:  "organisms==Homo sapiens (human),bogus==1,garbage",
		PageSize: DefaultPageSize,
	})
	s.Require().NoError(err)
	s.Equal([]models.FilterClause{{Key: "organisms", Value: "Homo sapiens (human)"}}, res.AppliedFilters)
	s.Len(res.Warnings, 2)
	s.Equal("organisms==Homo sapiens (human)", s.archive.lastQuery.FilterString())
}

func (s *ManagerSuite) TestNoResultsEchoesCriteria() {
	res, err := s.manager.Search(context.Background(), Request{
		Keyword:  "nothing-matches",
		Filters:  "organisms==Homo sapiens (human)",
		PageSize: DefaultPageSize,
	})
	s.Require().NoError(err)
	s.True(res.NoResults)
	s.Empty(res.Projects)
	s.Equal("nothing-matches", res.Criteria.Keyword)
	s.Equal("organisms==Homo sapiens (human)", res.Criteria.Filters)
	s.Equal(DefaultPageSize, res.Criteria.PageSize)
	s.Zero(s.archive.detailCalls())
}

func (s *ManagerSuite) TestEnrichmentIsCappedByPageSizeAndLimit() {
	s.archive.hits = hits(30)

	res, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", PageSize: 30})
	s.Require().NoError(err)
	s.Equal(10, s.archive.detailCalls())
	s.Len(res.Projects, 10)
	s.Len(res.Accessions, 30)
	s.Equal(10, res.EnrichLimit)

	s.SetupTest()
	s.archive.hits = hits(30)
	res, err = s.manager.Search(context.Background(), Request{Keyword: "cancer", PageSize: 4})
	s.Require().NoError(err)
	s.Equal(4, s.archive.detailCalls())
	s.Len(res.Projects, 4)
}

func (s *ManagerSuite) TestEnrichmentConcurrencyIsBounded() {
	s.archive.hits = hits(10)
	s.archive.detailDelay = 20 * time.Millisecond

	_, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", PageSize: 10})
	s.Require().NoError(err)
	s.LessOrEqual(s.archive.maxInFlight.Load(), int32(3))
}

func (s *ManagerSuite) TestPerItemEnrichmentFailureIsAWarning() {
	s.archive.hits = hits(3)
	s.archive.detailErr = map[string]error{
		"PXD000002": models.NewError(models.KindUpstreamUnavailable, "timeout"),
	}

	res, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", PageSize: DefaultPageSize})
	s.Require().NoError(err)
	s.Require().Len(res.Projects, 3)
	s.True(res.Projects[0].Enriched)
	s.False(res.Projects[1].Enriched)
	s.NotEmpty(res.Projects[1].Error)
	s.True(res.Projects[2].Enriched)
	s.Require().Len(res.Warnings, 1)
	s.Contains(res.Warnings[0], "PXD000002")
	s.Equal([]string{"PXD000001", "PXD000002", "PXD000003"}, res.Accessions)
}

func (s *ManagerSuite) TestTraceFollowsSearchOrder() {
	s.archive.hits = hits(4)
	s.archive.detailDelay = 5 * time.Millisecond

	res, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", PageSize: 4})
	s.Require().NoError(err)
	s.Equal([]string{
		"facets",
		"search",
		"project_details:PXD000001",
		"project_details:PXD000002",
		"project_details:PXD000003",
		"project_details:PXD000004",
	}, res.Trace)
}

func (s *ManagerSuite) TestSearchFailureIsFatalAndEchoesParameters() {
	s.archive.searchErr = models.NewError(models.KindUpstreamRejected, "bad request")

	_, err := s.manager.Search(context.Background(), Request{Keyword: "cancer", Filters: "organisms==Homo sapiens (human)", PageSize: DefaultPageSize})
	s.Require().Error(err)
	s.True(models.IsKind(err, models.KindUpstreamRejected))
	params := models.ParametersOf(err)
	s.Equal("cancer", params["keyword"])
	s.Equal("organisms==Homo sapiens (human)", params["filter"])
}

func (s *ManagerSuite) TestCancellationDuringEnrichmentTruncates() {
	s.archive.hits = hits(5)
	s.archive.detailDelay = 500 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := s.manager.Search(ctx, Request{Keyword: "cancer", PageSize: DefaultPageSize})
	s.Require().NoError(err)
	s.True(res.Truncated)
	for _, p := range res.Projects {
		s.False(p.Enriched)
		s.Empty(p.Error)
	}
}

func (s *ManagerSuite) TestValidationHappensBeforeAnyCall() {
	_, err := s.manager.Search(context.Background(), Request{Keyword: "   "})
	s.True(models.IsKind(err, models.KindValidation))
	s.Empty(s.archive.calls)
}

func (s *ManagerSuite) TestRecentQueries() {
	s.archive.hits = hits(1)
	for _, kw := range []string{"cancer", "liver", "cancer"} {
		_, err := s.manager.Search(context.Background(), Request{Keyword: kw, PageSize: DefaultPageSize})
		s.Require().NoError(err)
	}

	recent := s.manager.GetRecentQueries(10)
	s.Require().Len(recent, 2)
	s.Equal("liver", recent[0].Criteria.Keyword)
	s.Equal(int64(2), recent[1].Count)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr bool
		check   func(t *testing.T, c Criteria)
	}{
		{
			name: "defaults",
			req:  Request{Keyword: " cancer ", PageSize: 25},
			check: func(t *testing.T, c Criteria) {
				assert.Equal(t, "cancer", c.Keyword)
				assert.Equal(t, 25, c.PageSize)
				assert.Equal(t, 0, c.Page)
				assert.Equal(t, "DESC", c.SortDirection)
				assert.Equal(t, "downloadCount", c.SortFields)
			},
		},
		{
			name: "lower-case direction accepted",
			req:  Request{Keyword: "x", SortDirection: "asc", PageSize: 1},
			check: func(t *testing.T, c Criteria) {
				assert.Equal(t, "ASC", c.SortDirection)
			},
		},
		{name: "empty keyword", req: Request{}, wantErr: true},
		{name: "negative page", req: Request{Keyword: "x", Page: -1, PageSize: 25}, wantErr: true},
		{name: "zero page size", req: Request{Keyword: "x", PageSize: 0}, wantErr: true},
		{name: "negative page size", req: Request{Keyword: "x", PageSize: -5}, wantErr: true},
		{name: "page size too large", req: Request{Keyword: "x", PageSize: MaxPageSize + 1}, wantErr: true},
		{name: "bad direction", req: Request{Keyword: "x", SortDirection: "UP", PageSize: 25}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Normalize(tt.req)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, models.IsKind(err, models.KindValidation))
				return
			}
			require.NoError(t, err)
			tt.check(t, c)
		})
	}
}
