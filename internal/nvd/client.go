// Package nvd is a thin client for the NVD CVE API 2.0.
package nvd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ortelius/cvefeed-backend/model"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public NVD CVE endpoint
	DefaultBaseURL = "https://services.nvd.nist.gov/rest/json/cves/2.0"
	// MaxResultsPerPage is the largest page NVD serves
	MaxResultsPerPage = 2000
	// MaxDateRange is the widest lastModStartDate/lastModEndDate window NVD accepts
	MaxDateRange = 120 * 24 * time.Hour

	apiKeyHeader = "apiKey"
)

var (
	// ErrUpstreamUnavailable covers transport errors and non-200 responses
	ErrUpstreamUnavailable = errors.New("nvd api unavailable")
	// ErrMalformedPage is returned when the body lacks the expected top level shape
	ErrMalformedPage = errors.New("malformed nvd page")
)

// PageRequest selects one page of the feed
type PageRequest struct {
	StartIndex       int
	ResultsPerPage   int
	LastModStartDate string // optional, passed through verbatim
	LastModEndDate   string // optional, passed through verbatim
}

// Page is one decoded response
type Page struct {
	StartIndex      int
	ResultsPerPage  int
	TotalResults    int
	HasTotal        bool // false when the response omitted totalResults
	Vulnerabilities []model.Vulnerability
}

type pageResponse struct {
	ResultsPerPage  int                    `json:"resultsPerPage"`
	StartIndex      int                    `json:"startIndex"`
	TotalResults    *int                   `json:"totalResults"`
	Vulnerabilities *[]model.Vulnerability `json:"vulnerabilities"`
}

// Client issues paged requests against the NVD API. It does not retry; pacing
// between requests is the caller's job.
type Client struct {
	*options
}

type options struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client
type Option func(*options)

// WithBaseURL overrides the API endpoint
func WithBaseURL(baseURL string) Option {
	return func(opts *options) { opts.baseURL = baseURL }
}

// WithAPIKey attaches an NVD API key to every request
func WithAPIKey(apiKey string) Option {
	return func(opts *options) { opts.apiKey = apiKey }
}

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(opts *options) { opts.httpClient = c }
}

// WithLogger sets the logger used for request tracing
func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) { opts.logger = logger }
}

// NewClient builds a client with defaults overridden by opts
func NewClient(opts ...Option) *Client {
	o := &options{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Client{options: o}
}

// HasAPIKey reports whether requests are authenticated (higher rate ceiling)
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// Fetch retrieves a single page
func (c *Client) Fetch(ctx context.Context, req PageRequest) (*Page, error) {
	pageURL, err := c.pageURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to build request for %q: %w", pageURL, err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set(apiKeyHeader, c.apiKey)
	}

	c.logger.Debug("Fetching NVD page", zap.String("url", pageURL))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d: %s", ErrUpstreamUnavailable, resp.StatusCode, truncate(body, 256))
	}

	var decoded pageResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPage, err)
	}
	if decoded.Vulnerabilities == nil {
		return nil, fmt.Errorf("%w: missing vulnerabilities", ErrMalformedPage)
	}

	page := &Page{
		StartIndex:      decoded.StartIndex,
		ResultsPerPage:  decoded.ResultsPerPage,
		Vulnerabilities: *decoded.Vulnerabilities,
	}
	if decoded.TotalResults != nil {
		page.TotalResults = *decoded.TotalResults
		page.HasTotal = true
	}
	return page, nil
}

func (c *Client) pageURL(req PageRequest) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("unable to parse %q base url: %w", c.baseURL, err)
	}

	q := u.Query()
	q.Set("startIndex", strconv.Itoa(req.StartIndex))
	q.Set("resultsPerPage", strconv.Itoa(req.ResultsPerPage))
	if req.LastModStartDate != "" {
		q.Set("lastModStartDate", req.LastModStartDate)
	}
	if req.LastModEndDate != "" {
		q.Set("lastModEndDate", req.LastModEndDate)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
