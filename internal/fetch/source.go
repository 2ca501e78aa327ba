package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tlawson/papyrus/internal/enrich"
	"github.com/tlawson/papyrus/internal/ratelimit"
	"github.com/tlawson/papyrus/internal/work"
)

// maxDownloadSize caps a single document download at 128 MiB.
const maxDownloadSize = 128 << 20

// Source is one way of obtaining a document for a record. Fetch
// returns the raw bytes or an error; it never touches the store.
type Source interface {
	Name() string
	Fetch(ctx context.Context, w *work.Work) ([]byte, error)
}

// download performs one rate-limited GET and returns the body.
func download(ctx context.Context, hc *http.Client, limits *ratelimit.Registry, service, u string) ([]byte, error) {
	if err := limits.Wait(ctx, service); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf, */*")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, u)
	}
	// A declared HTML body is a landing page, never a document. The
	// byte-level checks still run on whatever passes here.
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "text/html") {
		return nil, fmt.Errorf("non-document content type %q from %s", ct, u)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return data, nil
}

// DirectDOI resolves the record's DOI through the resolver network,
// following redirects to the publisher's copy.
type DirectDOI struct {
	Client  *http.Client
	Limits  *ratelimit.Registry
	Service string
	BaseURL string // default https://doi.org
}

// NewDirectDOI creates the direct DOI source against the public
// resolver.
func NewDirectDOI(limits *ratelimit.Registry) *DirectDOI {
	return &DirectDOI{
		Client:  &http.Client{Timeout: 2 * time.Minute},
		Limits:  limits,
		Service: "doi",
		BaseURL: "https://doi.org",
	}
}

func (s *DirectDOI) Name() string { return "direct-doi" }

func (s *DirectDOI) Fetch(ctx context.Context, w *work.Work) ([]byte, error) {
	if w.DOINorm == "" {
		return nil, &SourceError{Source: s.Name(), Reason: "record has no DOI", Err: ErrNoLocation}
	}
	data, err := download(ctx, s.Client, s.Limits, s.Service, s.BaseURL+"/"+w.DOINorm)
	if err != nil {
		return nil, &SourceError{Source: s.Name(), Reason: "resolver fetch failed", Err: err}
	}
	return data, nil
}

// OpenAccess downloads the open-access location recorded during
// enrichment, carried in the record's source metadata.
type OpenAccess struct {
	Client  *http.Client
	Limits  *ratelimit.Registry
	Service string
}

// NewOpenAccess creates the open-access source.
func NewOpenAccess(limits *ratelimit.Registry) *OpenAccess {
	return &OpenAccess{
		Client:  &http.Client{Timeout: 2 * time.Minute},
		Limits:  limits,
		Service: "oa",
	}
}

func (s *OpenAccess) Name() string { return "open-access" }

func (s *OpenAccess) Fetch(ctx context.Context, w *work.Work) ([]byte, error) {
	loc := oaLocation(w)
	if loc == "" {
		return nil, &SourceError{Source: s.Name(), Reason: "no open-access location", Err: ErrNoLocation}
	}
	data, err := download(ctx, s.Client, s.Limits, s.Service, loc)
	if err != nil {
		return nil, &SourceError{Source: s.Name(), Reason: "open-access fetch failed", Err: err}
	}
	return data, nil
}

// oaLocation digs the open-access URL out of the enrichment payload
// stored as source metadata.
func oaLocation(w *work.Work) string {
	if w.SourceMeta == "" {
		return ""
	}
	var meta struct {
		OALocation string `json:"oa_location"`
	}
	if err := json.Unmarshal([]byte(w.SourceMeta), &meta); err != nil {
		return ""
	}
	return meta.OALocation
}

// SearchFallback re-queries the catalog by title and tries the best
// hit's open-access location. Useful when enrichment predates the
// document becoming openly available.
type SearchFallback struct {
	Catalog *enrich.Client
	Client  *http.Client
	Limits  *ratelimit.Registry
	Service string
}

// NewSearchFallback creates the search fallback source.
func NewSearchFallback(catalog *enrich.Client, limits *ratelimit.Registry) *SearchFallback {
	return &SearchFallback{
		Catalog: catalog,
		Client:  &http.Client{Timeout: 2 * time.Minute},
		Limits:  limits,
		Service: "oa",
	}
}

func (s *SearchFallback) Name() string { return "search-fallback" }

func (s *SearchFallback) Fetch(ctx context.Context, w *work.Work) ([]byte, error) {
	rec, err := s.Catalog.LookupTitle(ctx, w.Title, w.Year)
	if err != nil {
		return nil, &SourceError{Source: s.Name(), Reason: "catalog search failed", Err: err}
	}
	if rec.OALocation == "" {
		return nil, &SourceError{Source: s.Name(), Reason: "best hit has no open-access location", Err: ErrNoLocation}
	}
	data, err := download(ctx, s.Client, s.Limits, s.Service, rec.OALocation)
	if err != nil {
		return nil, &SourceError{Source: s.Name(), Reason: "fallback fetch failed", Err: err}
	}
	return data, nil
}

// Mirror fetches documents from a mirror site keyed by DOI. Mirrors
// bounce requests through interstitial redirects; when the redirect
// chain delivers something other than a document, the final location
// is retried once directly.
type Mirror struct {
	MirrorName string
	BaseURL    string
	Client     *http.Client
	Limits     *ratelimit.Registry
	Service    string
	RetryDelay time.Duration
}

// NewMirror creates a mirror source with its own rate limiter key so
// mirrors are paced independently.
func NewMirror(name, baseURL string, limits *ratelimit.Registry) *Mirror {
	return &Mirror{
		MirrorName: name,
		BaseURL:    baseURL,
		Client:     &http.Client{Timeout: 2 * time.Minute},
		Limits:     limits,
		Service:    "mirror:" + name,
		RetryDelay: 2 * time.Second,
	}
}

func (s *Mirror) Name() string { return "mirror:" + s.MirrorName }

func (s *Mirror) Fetch(ctx context.Context, w *work.Work) ([]byte, error) {
	if w.DOINorm == "" {
		return nil, &SourceError{Source: s.Name(), Reason: "record has no DOI", Err: ErrNoLocation}
	}

	u := s.BaseURL + "/" + url.PathEscape(w.DOINorm)
	data, finalURL, err := s.get(ctx, u)
	if err != nil {
		return nil, &SourceError{Source: s.Name(), Reason: "mirror fetch failed", Err: err}
	}
	if isPDF(data) || finalURL == u {
		return data, nil
	}

	// The chain landed on an interstitial page. One retry against the
	// final location, after a pause, usually yields the document.
	select {
	case <-ctx.Done():
		return nil, &SourceError{Source: s.Name(), Reason: "canceled during retry", Err: ctx.Err()}
	case <-time.After(s.RetryDelay):
	}

	data, _, err = s.get(ctx, finalURL)
	if err != nil {
		return nil, &SourceError{Source: s.Name(), Reason: "retry after redirect failed", Err: err}
	}
	return data, nil
}

// get downloads a URL and reports where the redirect chain ended.
func (s *Mirror) get(ctx context.Context, u string) ([]byte, string, error) {
	if err := s.Limits.Wait(ctx, s.Service); err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/pdf, */*")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, u)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, "", fmt.Errorf("reading body: %w", err)
	}
	return data, resp.Request.URL.String(), nil
}
