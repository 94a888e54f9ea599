package domain

// Article is one bibliographic record normalized from a paper source.
// All fields are plain strings because sources disagree on formats; empty
// means the source did not provide the field.
type Article struct {
	PMID        string `json:"pmid,omitempty"`
	Title       string `json:"title"`
	Journal     string `json:"journal,omitempty"`
	Year        string `json:"year,omitempty"`
	Volume      string `json:"volume,omitempty"`
	Issue       string `json:"issue,omitempty"`
	Pages       string `json:"pages,omitempty"`
	Authors     string `json:"authors,omitempty"`
	DOI         string `json:"doi,omitempty"`
	Abstract    string `json:"abstract,omitempty"`
	Keywords    string `json:"keywords,omitempty"`
	MeshTerms   string `json:"mesh_terms,omitempty"`
	Language    string `json:"language,omitempty"`
	ArticleType string `json:"article_type,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
	ISSN        string `json:"issn,omitempty"`
	EISSN       string `json:"eissn,omitempty"`
	URL         string `json:"url,omitempty"`
	PMCID       string `json:"pmcid,omitempty"`

	// Annotation holds the AI summary payload when summarization ran. It is
	// emitted verbatim into the BibTeX annote field.
	Annotation string `json:"annote,omitempty"`
	// Summary and Usage are the parsed halves of Annotation for API clients.
	Summary string `json:"summary,omitempty"`
	Usage   string `json:"usage,omitempty"`

	// CiteKey is the BibTeX citation key assigned during rendering.
	CiteKey string `json:"key,omitempty"`
	// Direction labels which extracted research direction produced this
	// article. Empty for single-query searches.
	Direction string `json:"direction,omitempty"`
}
