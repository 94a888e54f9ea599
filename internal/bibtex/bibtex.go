// Package bibtex renders article records as BibTeX entries.
package bibtex

import (
	"fmt"
	"strings"

	"github.com/litforge/bibliography-service/internal/domain"
)

// escaper handles the characters that break BibTeX fields. Backslash first so
// the escapes themselves survive.
var escaper = strings.NewReplacer(
	`\`, `\\`,
	`{`, `\{`,
	`}`, `\}`,
	`%`, `\%`,
)

// fieldOrder fixes the order fields appear in an entry so output is stable
// across runs.
var fieldOrder = []string{
	"author", "title", "journal", "year", "volume", "number", "pages",
	"doi", "pmid", "abstract", "keywords", "mesh_terms", "language",
	"article_type", "affiliation", "issn", "eissn", "url", "pmcid", "annote",
}

// Escape escapes a value for use inside a braced BibTeX field.
func Escape(value string) string {
	return escaper.Replace(value)
}

// CiteKey joins the non-empty parts with underscores into a citation key,
// dropping characters BibTeX keys cannot carry. With nothing usable it
// returns "citation".
func CiteKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		part = sanitizeKeyPart(part)
		if part != "" {
			cleaned = append(cleaned, part)
		}
	}
	if len(cleaned) == 0 {
		return "citation"
	}
	return strings.Join(cleaned, "_")
}

// sanitizeKeyPart keeps letters, digits, dots, and hyphens; everything else
// is dropped.
func sanitizeKeyPart(part string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(part) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// ArticleEntry renders one @article entry using the article's CiteKey.
// Empty fields are omitted. The annote field carries the AI annotation JSON
// verbatim, so it is not escaped.
func ArticleEntry(article domain.Article) string {
	fields := map[string]string{
		"author":       Escape(article.Authors),
		"title":        Escape(article.Title),
		"journal":      Escape(article.Journal),
		"year":         Escape(article.Year),
		"volume":       Escape(article.Volume),
		"number":       Escape(article.Issue),
		"pages":        Escape(article.Pages),
		"doi":          Escape(article.DOI),
		"pmid":         Escape(article.PMID),
		"abstract":     Escape(article.Abstract),
		"keywords":     Escape(article.Keywords),
		"mesh_terms":   Escape(article.MeshTerms),
		"language":     Escape(article.Language),
		"article_type": Escape(article.ArticleType),
		"affiliation":  Escape(article.Affiliation),
		"issn":         Escape(article.ISSN),
		"eissn":        Escape(article.EISSN),
		"url":          Escape(article.URL),
		"pmcid":        Escape(article.PMCID),
		"annote":       article.Annotation,
	}

	lines := make([]string, 0, len(fieldOrder))
	for _, name := range fieldOrder {
		if value := fields[name]; value != "" {
			lines = append(lines, fmt.Sprintf("  %s = {%s},", name, value))
		}
	}
	if len(lines) > 0 {
		// No trailing comma on the last field.
		last := len(lines) - 1
		lines[last] = strings.TrimSuffix(lines[last], ",")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "@article{%s,\n", article.CiteKey)
	sb.WriteString(strings.Join(lines, "\n"))
	sb.WriteString("\n}")
	return sb.String()
}

// Build assigns citation keys and renders the articles as BibTeX, returning
// the joined entries and the article count. Keys are
// <firstAuthorLastName>_<year>_<pmid> with duplicates suffixed _2, _3, ...;
// a missing year renders as "n.d.". The articles are mutated in place so
// callers see the assigned keys.
func Build(articles []domain.Article) (string, int) {
	seen := make(map[string]int, len(articles))
	entries := make([]string, 0, len(articles))

	for i := range articles {
		key := CiteKey(firstAuthorLastName(articles[i].Authors), yearOrND(articles[i].Year), articles[i].PMID)
		seen[key]++
		if n := seen[key]; n > 1 {
			key = fmt.Sprintf("%s_%d", key, n)
		}
		articles[i].CiteKey = key
		entries = append(entries, ArticleEntry(articles[i]))
	}

	return strings.Join(entries, "\n\n"), len(articles)
}

// firstAuthorLastName extracts the surname of the first author from a
// "Last, Initials and Last, Initials" author string.
func firstAuthorLastName(authors string) string {
	first := authors
	if idx := strings.Index(first, " and "); idx >= 0 {
		first = first[:idx]
	}
	if idx := strings.Index(first, ","); idx >= 0 {
		first = first[:idx]
	}
	return strings.TrimSpace(first)
}

func yearOrND(year string) string {
	if strings.TrimSpace(year) == "" {
		return "n.d."
	}
	return year
}
