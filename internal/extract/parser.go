package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tlawson/papyrus/internal/ratelimit"
	"github.com/tlawson/papyrus/internal/work"
)

const (
	// ParserService is the rate limiter key for reference parsing calls.
	ParserService = "refparser"

	// DefaultParserInterval spaces out calls to the parsing service.
	DefaultParserInterval = 500 * time.Millisecond

	// DefaultParserTimeout allows for large bibliography payloads.
	DefaultParserTimeout = 2 * time.Minute
)

// Parser client errors.
var (
	// ErrParserUnavailable indicates the parsing service could not be
	// reached or refused the request.
	ErrParserUnavailable = errors.New("reference parser unavailable")

	// ErrParserResponse indicates the service returned a payload the
	// client could not interpret.
	ErrParserResponse = errors.New("invalid parser response")
)

// Parser consumes a remote reference-parsing service as a black box:
// bibliography text in, structured references out. Whatever model or
// grammar the service runs is its business.
type Parser struct {
	httpClient *http.Client
	limits     *ratelimit.Registry
	baseURL    string
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithParserHTTPClient sets a custom HTTP client.
func WithParserHTTPClient(hc *http.Client) ParserOption {
	return func(p *Parser) {
		p.httpClient = hc
	}
}

// WithParserLimiter shares an existing limiter registry. The registry
// must have ParserService registered.
func WithParserLimiter(r *ratelimit.Registry) ParserOption {
	return func(p *Parser) {
		p.limits = r
	}
}

// NewParser creates a parser client for the service at baseURL.
func NewParser(baseURL string, opts ...ParserOption) *Parser {
	p := &Parser{
		httpClient: &http.Client{Timeout: DefaultParserTimeout},
		baseURL:    baseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.limits == nil {
		p.limits = ratelimit.NewRegistry()
		p.limits.Register(ParserService, DefaultParserInterval, 1)
	}
	return p
}

// parsedReference is the service's wire format for one reference.
type parsedReference struct {
	Title   string `json:"title"`
	Authors []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"authors"`
	Editors []struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"editors"`
	DOI  string `json:"doi"`
	Year int    `json:"year"`
	Raw  string `json:"raw"`
}

// ParseReferences sends bibliography text to the service and returns
// the parsed entries as candidates with the given origin. Entries the
// service could not make anything of are dropped, not errored: one
// garbled line must not sink a four-hundred-entry bibliography.
func (p *Parser) ParseReferences(ctx context.Context, text string, origin work.Origin) ([]*work.Candidate, error) {
	if text == "" {
		return nil, nil
	}
	if err := p.limits.Wait(ctx, ParserService); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("marshaling parse request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/parse", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParserUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d", ErrParserUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrParserUnavailable, err)
	}

	var wrapper struct {
		References []parsedReference `json:"references"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParserResponse, err)
	}

	var candidates []*work.Candidate
	for _, ref := range wrapper.References {
		cand := &work.Candidate{
			Title:   ref.Title,
			DOI:     ref.DOI,
			Year:    ref.Year,
			Excerpt: ref.Raw,
			Origin:  origin,
		}
		for _, a := range ref.Authors {
			cand.Authors = append(cand.Authors, work.Author{Given: a.Given, Family: a.Family})
		}
		for _, e := range ref.Editors {
			cand.Editors = append(cand.Editors, work.Author{Given: e.Given, Family: e.Family})
		}
		if cand.Validate() != nil {
			continue
		}
		candidates = append(candidates, cand)
	}
	return candidates, nil
}
