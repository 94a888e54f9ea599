// Package pubmed implements the PaperSource interface for the NCBI PubMed
// E-utilities API (esearch + efetch).
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
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
	sourceName  = "pubmed"
	displayName = "PubMed"

	defaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// maxResponseBytes limits response body reads to protect against
	// unbounded memory usage.
	maxResponseBytes = 10 << 20 // 10MB
)

// Config holds the PubMed client configuration.
type Config struct {
	// BaseURL is the E-utilities base URL (without trailing slash).
	BaseURL string

	// Email is sent with every request per NCBI usage policy. A per-request
	// email in SearchParams takes precedence.
	Email string

	// APIKey raises the NCBI rate limit from 3 to 10 requests per second.
	// A per-request key in SearchParams takes precedence.
	APIKey string

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
		c.RateLimit = 3
		if c.APIKey != "" {
			c.RateLimit = 10
		}
	}
}

// Client is a PubMed E-utilities client. A search is an esearch call for
// PMIDs followed by an efetch call for the full records.
type Client struct {
	config Config
	http   *papersources.HTTPClient
}

// Compile-time check that Client implements papersources.PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// New creates a PubMed client.
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

// NewWithHTTPClient creates a PubMed client with a custom HTTP client.
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

// Search implements papersources.PaperSource. A query that matches nothing
// returns an empty slice and no error.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) ([]domain.Article, error) {
	ids, err := c.searchIDs(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return c.fetchArticles(ctx, ids, params)
}

// searchIDs executes the esearch call and returns the matching PMIDs ranked
// by relevance.
func (c *Client) searchIDs(ctx context.Context, params papersources.SearchParams) ([]string, error) {
	values := url.Values{}
	values.Set("db", "pubmed")
	values.Set("term", params.Query)
	values.Set("retmode", "json")
	values.Set("retmax", fmt.Sprintf("%d", params.MaxResults))
	values.Set("sort", "best match")

	if params.Years > 0 {
		now := time.Now()
		values.Set("datetype", "pdat")
		values.Set("mindate", now.AddDate(-params.Years, 0, 0).Format("2006/01/02"))
		values.Set("maxdate", now.Format("2006/01/02"))
	}
	c.setIdentification(values, params)

	body, err := c.get(ctx, "/esearch.fcgi", values)
	if err != nil {
		return nil, err
	}

	var result esearchResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("pubmed: decode esearch response: %w", err)
	}
	return result.Result.IDList, nil
}

// fetchArticles executes the efetch call for the given PMIDs and maps the
// XML records to articles.
func (c *Client) fetchArticles(ctx context.Context, ids []string, params papersources.SearchParams) ([]domain.Article, error) {
	values := url.Values{}
	values.Set("db", "pubmed")
	values.Set("id", strings.Join(ids, ","))
	values.Set("retmode", "xml")
	c.setIdentification(values, params)

	body, err := c.get(ctx, "/efetch.fcgi", values)
	if err != nil {
		return nil, err
	}

	var result fetchResponse
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("pubmed: decode efetch response: %w", err)
	}

	articles := make([]domain.Article, 0, len(result.Articles))
	for _, record := range result.Articles {
		articles = append(articles, mapArticle(record))
	}
	return articles, nil
}

// setIdentification adds the email and api_key parameters, preferring
// per-request values over the client configuration.
func (c *Client) setIdentification(values url.Values, params papersources.SearchParams) {
	email := params.Email
	if email == "" {
		email = c.config.Email
	}
	if email != "" {
		values.Set("email", email)
	}

	apiKey := params.APIKey
	if apiKey == "" {
		apiKey = c.config.APIKey
	}
	if apiKey != "" {
		values.Set("api_key", apiKey)
	}
}

// get performs one GET request against an E-utilities endpoint and returns
// the response body.
func (c *Client) get(ctx context.Context, path string, values url.Values) ([]byte, error) {
	endpoint := c.config.BaseURL + path + "?" + values.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("pubmed: create request: %w", err)
	}

	resp, err := c.http.Do(sourceName, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("pubmed: read response body: %w", err)
	}
	return body, nil
}

// mapArticle converts one efetch XML record into a domain article.
func mapArticle(record pubmedArticle) domain.Article {
	citation := record.MedlineCitation
	art := citation.Article
	pmid := strings.TrimSpace(citation.PMID)

	article := domain.Article{
		PMID:        pmid,
		Title:       strings.TrimSpace(art.Title),
		Journal:     strings.TrimSpace(art.Journal.Title),
		Year:        pubYear(art.Journal.JournalIssue.PubDate),
		Volume:      strings.TrimSpace(art.Journal.JournalIssue.Volume),
		Issue:       strings.TrimSpace(art.Journal.JournalIssue.Issue),
		Pages:       strings.TrimSpace(art.Pagination),
		Authors:     formatAuthors(art.Authors),
		Abstract:    joinAbstract(art.AbstractTexts),
		Keywords:    joinUnique(keywordValues(citation.KeywordLists), "; "),
		MeshTerms:   joinUnique(meshValues(citation.MeshHeadings), "; "),
		Language:    joinUnique(art.Languages, ", "),
		ArticleType: joinUnique(art.PublicationTypes, "; "),
		Affiliation: joinUnique(affiliationValues(art.Authors), " | "),
	}

	article.ISSN, article.EISSN = pickISSNs(art.Journal.ISSNs, citation.MedlineJournalInfo.ISSNLinking)
	article.DOI, article.PMCID = pickIdentifiers(record.PubmedData.ArticleIDs, art.ELocationIDs)

	if pmid != "" {
		article.URL = fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/%s/", pmid)
	}
	return article
}

// pubYear extracts a four-digit year from the publication date, falling back
// to the leading year of a MedlineDate range like "2019 Nov-Dec".
func pubYear(date pubDate) string {
	if year := strings.TrimSpace(date.Year); year != "" {
		return year
	}
	medline := strings.TrimSpace(date.MedlineDate)
	if len(medline) >= 4 {
		return medline[:4]
	}
	return ""
}

// formatAuthors renders the author list as BibTeX-style "Last, Initials"
// entries joined with " and ".
func formatAuthors(authors []author) string {
	parts := make([]string, 0, len(authors))
	for _, a := range authors {
		switch {
		case a.CollectiveName != "":
			parts = append(parts, strings.TrimSpace(a.CollectiveName))
		case a.LastName != "" && a.Initials != "":
			parts = append(parts, fmt.Sprintf("%s, %s", strings.TrimSpace(a.LastName), strings.TrimSpace(a.Initials)))
		case a.LastName != "":
			parts = append(parts, strings.TrimSpace(a.LastName))
		}
	}
	return strings.Join(parts, " and ")
}

// joinAbstract concatenates abstract sections, prefixing labeled sections
// ("METHODS: ...") so structured abstracts stay readable.
func joinAbstract(sections []abstractText) string {
	parts := make([]string, 0, len(sections))
	for _, section := range sections {
		text := strings.TrimSpace(section.Text)
		if text == "" {
			continue
		}
		if label := strings.TrimSpace(section.Label); label != "" {
			text = label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

func keywordValues(lists []keywordList) []string {
	var values []string
	for _, list := range lists {
		values = append(values, list.Keywords...)
	}
	return values
}

func meshValues(headings []meshHeading) []string {
	values := make([]string, 0, len(headings))
	for _, heading := range headings {
		values = append(values, heading.DescriptorName)
	}
	return values
}

func affiliationValues(authors []author) []string {
	var values []string
	for _, a := range authors {
		for _, info := range a.Affiliations {
			values = append(values, info.Affiliation)
		}
	}
	return values
}

// joinUnique joins trimmed, non-empty values with sep, dropping duplicates
// while keeping first-seen order.
func joinUnique(values []string, sep string) string {
	seen := make(map[string]struct{}, len(values))
	parts := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		parts = append(parts, value)
	}
	return strings.Join(parts, sep)
}

// pickISSNs selects the print and electronic ISSNs, falling back to the
// MedlineJournalInfo linking ISSN for the print slot.
func pickISSNs(entries []issnEntry, linking string) (issn, eissn string) {
	for _, entry := range entries {
		value := strings.TrimSpace(entry.Value)
		if value == "" {
			continue
		}
		switch strings.ToLower(entry.Type) {
		case "print":
			if issn == "" {
				issn = value
			}
		case "electronic":
			if eissn == "" {
				eissn = value
			}
		default:
			if issn == "" {
				issn = value
			}
		}
	}
	if issn == "" {
		issn = strings.TrimSpace(linking)
	}
	return issn, eissn
}

// pickIdentifiers extracts the DOI and PMCID from the PubmedData article ID
// list, falling back to the in-article ELocationID for the DOI.
func pickIdentifiers(ids []articleID, locations []eLocationID) (doi, pmcid string) {
	for _, id := range ids {
		value := strings.TrimSpace(id.Value)
		if value == "" {
			continue
		}
		switch strings.ToLower(id.Type) {
		case "doi":
			if doi == "" {
				doi = value
			}
		case "pmc":
			if pmcid == "" {
				pmcid = value
			}
		}
	}
	if doi == "" {
		for _, loc := range locations {
			if strings.EqualFold(loc.Type, "doi") {
				if value := strings.TrimSpace(loc.Value); value != "" {
					doi = value
					break
				}
			}
		}
	}
	return doi, pmcid
}
