// Package archive is the HTTP client for the PRIDE Archive REST API (v3).
package archive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/pride-mcp/internal/observability"
	"github.com/thebtf/pride-mcp/pkg/models"
)

// DefaultBaseURL is the public PRIDE Archive v3 endpoint.
const DefaultBaseURL = "https://www.ebi.ac.uk/pride/ws/archive/v3"

// Upstream operation names, used for spans, metrics and call traces.
const (
	OpFacets         = "facets"
	OpSearch         = "search"
	OpProjectDetails = "project_details"
	OpProjectFiles   = "project_files"
)

// Config configures the archive client.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Retry     RetryConfig
}

// Client talks to the archive. It is safe for concurrent use.
type Client struct {
	http    *resty.Client
	baseURL string
	retry   RetryConfig
}

// NewClient creates an archive client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "pride-mcp/1.0"
	}

	transport := &http.Transport{
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
	}

	httpClient := resty.New().
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout).
		SetRetryCount(0).
		SetTransport(transport)

	return &Client{http: httpClient, baseURL: baseURL, retry: cfg.Retry}
}

// BaseURL returns the configured archive base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// URL returns the absolute URL for an archive path.
func (c *Client) URL(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Facets fetches the facet dimensions and their values.
func (c *Client) Facets(ctx context.Context, pageSize, page int) (*models.FacetSet, error) {
	params := url.Values{}
	params.Set("facetPageSize", strconv.Itoa(pageSize))
	params.Set("facetPage", strconv.Itoa(page))

	body, err := c.get(ctx, OpFacets, "facet/projects", params)
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed(OpFacets, err)
	}

	facets := make(map[string]map[string]int64, len(raw))
	for name, msg := range raw {
		var values map[string]int64
		if err := json.Unmarshal(msg, &values); err != nil {
			log.Debug().Str("facet", name).Msg("Skipping non-map facet entry")
			continue
		}
		facets[name] = values
	}
	return models.NewFacetSet(facets), nil
}

// Search runs a keyword project search. The keyword must be non-empty.
func (c *Client) Search(ctx context.Context, q models.SearchQuery) (*models.SearchResult, error) {
	if strings.TrimSpace(q.Keyword) == "" {
		return nil, models.ValidationError("keyword must not be empty")
	}

	body, err := c.get(ctx, OpSearch, "search/projects", SearchParams(q))
	if err != nil {
		return nil, err
	}

	var items []models.ProjectSummary
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, malformed(OpSearch, err)
	}

	result := &models.SearchResult{Projects: make([]models.ProjectSummary, 0, len(items))}
	for _, item := range items {
		if item.Accession == "" {
			continue
		}
		result.Projects = append(result.Projects, item)
	}
	result.Total = len(result.Projects)
	return result, nil
}

// SearchParams builds the upstream query string for a search.
func SearchParams(q models.SearchQuery) url.Values {
	params := url.Values{}
	params.Set("keyword", q.Keyword)
	params.Set("pageSize", strconv.Itoa(q.PageSize))
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("sortDirection", q.SortDirection)
	params.Set("sortFields", q.SortFields)
	if f := q.FilterString(); f != "" {
		params.Set("filter", f)
	}
	return params
}

// ProjectDetails fetches the metadata of one project.
func (c *Client) ProjectDetails(ctx context.Context, accession string) (*models.ProjectDetail, error) {
	if err := checkAccession(accession); err != nil {
		return nil, err
	}

	body, err := c.get(ctx, OpProjectDetails, "projects/"+accession, nil)
	if err != nil {
		return nil, err
	}

	var detail models.ProjectDetail
	if err := json.Unmarshal(body, &detail); err != nil {
		return nil, malformed(OpProjectDetails, err)
	}
	if detail.Accession == "" {
		detail.Accession = accession
	}
	detail.Raw = body
	return &detail, nil
}

// ProjectFiles lists the files of one project. A non-empty fileType is sent
// upstream and also applied locally as an exact, case-sensitive match.
func (c *Client) ProjectFiles(ctx context.Context, accession, fileType string) ([]models.ProjectFile, error) {
	if err := checkAccession(accession); err != nil {
		return nil, err
	}

	var params url.Values
	if fileType != "" {
		params = url.Values{}
		params.Set("fileType", fileType)
	}

	body, err := c.get(ctx, OpProjectFiles, "projects/"+accession+"/files", params)
	if err != nil {
		return nil, err
	}

	var files []models.ProjectFile
	if err := json.Unmarshal(body, &files); err != nil {
		return nil, malformed(OpProjectFiles, err)
	}

	if fileType == "" {
		return files, nil
	}
	filtered := make([]models.ProjectFile, 0, len(files))
	for _, f := range files {
		if f.MatchesType(fileType) {
			filtered = append(filtered, f)
		}
	}
	return filtered, nil
}

// get performs a GET with retry, tracing and metrics and returns the body of
// a 2xx response.
func (c *Client) get(ctx context.Context, operation, path string, params url.Values) ([]byte, error) {
	endpoint := c.URL(path)

	ctx, span := observability.StartUpstreamSpan(ctx, operation, endpoint)
	start := time.Now()

	body, err := withRetry(ctx, c.retry, operation, func() ([]byte, error) {
		return c.doGet(ctx, operation, endpoint, params)
	})

	observability.UpstreamLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	observability.UpstreamRequestsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	observability.EndSpan(span, err)

	if err != nil {
		log.Debug().Err(err).Str("operation", operation).Str("url", endpoint).Msg("Archive request failed")
	}
	return body, err
}

func (c *Client) doGet(ctx context.Context, operation, endpoint string, params url.Values) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParamsFromValues(params)
	}

	resp, err := req.Get(endpoint)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, models.WrapError(models.KindUpstreamUnavailable, operation+" canceled", ctxErr)
		}
		return nil, models.WrapError(models.KindUpstreamUnavailable, operation+" request failed", err)
	}

	return classify(operation, resp.StatusCode(), resp.Body())
}

// classify maps an HTTP status to the error taxonomy.
func classify(operation string, status int, body []byte) ([]byte, error) {
	switch {
	case status >= 200 && status < 300:
		return body, nil
	case status == http.StatusNotFound:
		e := models.NewError(models.KindNotFound, operation+": resource not found")
		e.StatusCode = status
		return nil, e
	case status == http.StatusTooManyRequests || status >= 500:
		e := models.NewError(models.KindUpstreamUnavailable, fmt.Sprintf("%s: archive returned HTTP %d", operation, status))
		e.StatusCode = status
		return nil, e
	default:
		e := models.NewError(models.KindUpstreamRejected, fmt.Sprintf("%s: archive rejected request with HTTP %d: %s", operation, status, snippet(body)))
		e.StatusCode = status
		return nil, e
	}
}

func checkAccession(accession string) error {
	if accession == "" {
		return models.ValidationError("project_accession is required")
	}
	if !models.ValidAccession(accession) {
		return models.ValidationError("project_accession %q does not match the archive accession format (e.g. PXD000001)", accession)
	}
	return nil
}

func malformed(operation string, err error) error {
	return models.WrapError(models.KindUpstreamUnavailable, operation+": malformed archive response", err)
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func statusLabel(err error) string {
	if err == nil {
		return "success"
	}
	var e *models.Error
	if errors.As(err, &e) {
		return string(e.Kind)
	}
	return "error"
}
