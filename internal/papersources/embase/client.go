// Package embase implements the PaperSource interface for the Elsevier
// Embase search API.
package embase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/papersources"
)

const (
	sourceName  = "embase"
	displayName = "Embase"

	defaultBaseURL = "https://api.elsevier.com/content/search/embase"

	maxResponseBytes = 10 << 20 // 10MB
)

// Config holds the Embase client configuration.
type Config struct {
	// BaseURL is the search endpoint URL.
	BaseURL string

	// APIKey is the Elsevier API key sent as X-ELS-APIKey. A per-request
	// key in SearchParams takes precedence.
	APIKey string

	// InstToken is the optional institutional token (X-ELS-Insttoken).
	InstToken string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RateLimit is the sustained requests per second.
	RateLimit float64
}

// applyDefaults fills in zero-valued configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 2
	}
}

// Client is an Elsevier Embase search client.
type Client struct {
	config Config
	http   *papersources.HTTPClient
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// New creates an Embase client.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		config: cfg,
		http: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Timeout:   cfg.Timeout,
			RateLimit: cfg.RateLimit,
		}),
	}
}

// NewWithHTTPClient creates an Embase client with a custom HTTP client.
// Used in tests to point the client at a local server.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config: cfg,
		http:   httpClient,
	}
}

// Name implements papersources.PaperSource.
func (c *Client) Name() string { return sourceName }

// DisplayName implements papersources.PaperSource.
func (c *Client) DisplayName() string { return displayName }

// Search implements papersources.PaperSource. The year restriction is folded
// into the query as a PUBYEAR clause because the Embase API has no separate
// date parameter.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) ([]domain.Article, error) {
	query := params.Query
	if params.Years > 0 {
		startYear := time.Now().Year() - params.Years
		query = fmt.Sprintf("%s AND PUBYEAR > %d", query, startYear-1)
	}

	values := url.Values{}
	values.Set("query", query)
	values.Set("count", fmt.Sprintf("%d", params.MaxResults))
	values.Set("sort", "relevance")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("embase: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = c.config.APIKey
	}
	req.Header.Set("X-ELS-APIKey", apiKey)
	if c.config.InstToken != "" {
		req.Header.Set("X-ELS-Insttoken", c.config.InstToken)
	}

	resp, err := c.http.Do(sourceName, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("embase: read response body: %w", err)
	}

	var result searchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("embase: decode search response: %w", err)
	}

	articles := make([]domain.Article, 0, len(result.SearchResults.Entries))
	for _, e := range result.SearchResults.Entries {
		articles = append(articles, mapEntry(e))
	}
	return articles, nil
}

// mapEntry converts one search result entry into a domain article.
func mapEntry(e entry) domain.Article {
	article := domain.Article{
		Title:       strings.TrimSpace(e.Title),
		Journal:     strings.TrimSpace(e.PublicationName),
		Year:        coverYear(e.CoverDate),
		Volume:      strings.TrimSpace(e.Volume),
		Issue:       strings.TrimSpace(e.IssueID),
		Pages:       strings.TrimSpace(e.PageRange),
		Authors:     joinCreators(e.Creators),
		DOI:         strings.TrimSpace(e.DOI),
		Abstract:    strings.TrimSpace(e.Description),
		ArticleType: strings.TrimSpace(e.SubType),
		ISSN:        strings.TrimSpace(e.ISSN),
		EISSN:       strings.TrimSpace(e.EISSN),
		URL:         entryURL(e),
		PMID:        entryIdentifier(e),
	}
	return article
}

// coverYear extracts the year from a prism:coverDate like "2024-01-15".
func coverYear(coverDate string) string {
	coverDate = strings.TrimSpace(coverDate)
	if coverDate == "" {
		return ""
	}
	return strings.SplitN(coverDate, "-", 2)[0]
}

func joinCreators(names creators) string {
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if name = strings.TrimSpace(name); name != "" {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, " and ")
}

// entryURL prefers prism:url and falls back to the first link element.
func entryURL(e entry) string {
	if u := strings.TrimSpace(e.URL); u != "" {
		return u
	}
	for _, l := range e.Links {
		if href := strings.TrimSpace(l.Href); href != "" {
			return href
		}
	}
	return ""
}

// entryIdentifier returns the record identifier with any "MEDLINE:" or
// "EMBASE:" prefix stripped, falling back to the EID. It lands in the PMID
// slot so cite keys and dedup have a stable identifier to work with.
func entryIdentifier(e entry) string {
	id := strings.TrimSpace(e.Identifier)
	if id != "" {
		if idx := strings.LastIndex(id, ":"); idx >= 0 {
			id = id[idx+1:]
		}
		return id
	}
	return strings.TrimSpace(e.EID)
}
