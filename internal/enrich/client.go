// Package enrich looks up work metadata in an external scholarly
// catalog. Lookups feed the enrichment stage; keyword searches feed
// the pipeline with new candidates.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/tlawson/papyrus/internal/normalize"
	"github.com/tlawson/papyrus/internal/ratelimit"
)

const (
	// BaseURL is the scholarly catalog API base URL.
	BaseURL = "https://api.openalex.org"

	// Service is the rate limiter key for catalog calls.
	Service = "catalog"

	// DefaultInterval is the minimum spacing between catalog calls
	// per the catalog's polite-use policy.
	DefaultInterval = 100 * time.Millisecond

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultSearchLimit is the default page size for keyword search.
	DefaultSearchLimit = 25
)

// Client is a rate-limited HTTP client for the scholarly catalog.
type Client struct {
	httpClient *http.Client
	limits     *ratelimit.Registry
	baseURL    string
	mailto     string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLimiter shares an existing limiter registry. The registry must
// have the Service name registered.
func WithLimiter(r *ratelimit.Registry) ClientOption {
	return func(c *Client) {
		c.limits = r
	}
}

// WithMailto sets the contact address sent with each request, which
// the catalog uses to route traffic to its polite pool.
func WithMailto(addr string) ClientOption {
	return func(c *Client) {
		c.mailto = addr
	}
}

// NewClient creates a new catalog client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    BaseURL,
	}

	if addr := os.Getenv("PAPYRUS_MAILTO"); addr != "" {
		c.mailto = addr
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.limits == nil {
		c.limits = ratelimit.NewRegistry()
		c.limits.Register(Service, DefaultInterval, 1)
	}

	return c
}

// LookupDOI fetches the catalog record for a DOI.
func (c *Client) LookupDOI(ctx context.Context, doi string) (*Record, error) {
	norm := normalize.DOI(doi)
	if norm == "" {
		return nil, fmt.Errorf("%w: %q is not a DOI", ErrNotFound, doi)
	}
	return c.getWork(ctx, "/works/doi:"+url.PathEscape(norm))
}

// LookupCatalogID fetches the catalog record by its own identifier.
func (c *Client) LookupCatalogID(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty catalog id", ErrNotFound)
	}
	return c.getWork(ctx, "/works/"+url.PathEscape(id))
}

// LookupTitle finds the best catalog record for a title, optionally
// narrowed by year. It returns ErrNotFound when nothing matches.
func (c *Client) LookupTitle(ctx context.Context, title string, year int) (*Record, error) {
	q := url.Values{}
	filter := "title.search:" + title
	if year != 0 {
		filter += fmt.Sprintf(",publication_year:%d", year)
	}
	q.Set("filter", filter)
	q.Set("per-page", "1")

	records, err := c.listWorks(ctx, "/works?"+q.Encode())
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: title %q", ErrNotFound, title)
	}
	return records[0], nil
}

// Search runs a keyword relevance search and returns up to limit
// records.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := url.Values{}
	q.Set("search", query)
	q.Set("per-page", fmt.Sprintf("%d", limit))

	return c.listWorks(ctx, "/works?"+q.Encode())
}

// getWork fetches a single work endpoint.
func (c *Client) getWork(ctx context.Context, path string) (*Record, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var cw catalogWork
	if err := json.Unmarshal(body, &cw); err != nil {
		return nil, fmt.Errorf("%w: parsing work: %v", ErrInvalidResponse, err)
	}
	if cw.ID == "" {
		return nil, ErrNotFound
	}
	return cw.toRecord(body), nil
}

// listWorks fetches a results-list endpoint.
func (c *Client) listWorks(ctx context.Context, path string) ([]*Record, error) {
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: parsing results: %v", ErrInvalidResponse, err)
	}

	records := make([]*Record, 0, len(wrapper.Results))
	for _, raw := range wrapper.Results {
		var cw catalogWork
		if err := json.Unmarshal(raw, &cw); err != nil {
			return nil, fmt.Errorf("%w: parsing result: %v", ErrInvalidResponse, err)
		}
		if cw.ID == "" {
			continue
		}
		records = append(records, cw.toRecord(raw))
	}
	return records, nil
}

// get performs one rate-limited GET against the catalog.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	if err := c.limits.Wait(ctx, Service); err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if c.mailto != "" {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "mailto=" + url.QueryEscape(c.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if err := checkHTTPErrors(resp); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrNetworkError, err)
	}
	return body, nil
}

// checkHTTPErrors returns an error if the HTTP response indicates a problem.
func checkHTTPErrors(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthError, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400:
		return &APIError{
			StatusCode: resp.StatusCode,
			Code:       "api_error",
			Message:    fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}
	return nil
}
