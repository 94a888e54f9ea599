package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/litforge/bibliography-service/internal/domain"
)

// codeFencePattern matches a fenced block so fenced JSON replies can be
// unwrapped before parsing.
var codeFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")

// annotationPayload is the JSON object the summarizer asks the model for and
// the shape it re-serializes into the BibTeX annote field.
type annotationPayload struct {
	Summary string `json:"summary"`
	Usage   string `json:"usage"`
}

// Summarizer produces per-article JSON annotations (a short summary plus a
// note on how the article serves the research direction).
type Summarizer struct {
	client Client
}

// NewSummarizer creates a summarizer backed by client.
func NewSummarizer(client Client) *Summarizer {
	return &Summarizer{client: client}
}

// Annotate fills the article's Annotation, Summary, and Usage fields.
// Articles without an abstract are skipped. The caller treats failures as
// best-effort: the search result stands without the annotation.
func (s *Summarizer) Annotate(ctx context.Context, article *domain.Article) error {
	if strings.TrimSpace(article.Abstract) == "" {
		return nil
	}

	reply, err := s.client.Complete(ctx, summarySystemPrompt, buildSummaryPrompt(article), 512)
	if err != nil {
		return fmt.Errorf("annotate article: %w", err)
	}

	annotation, summary, usage := NormalizeAnnotation(reply)
	if annotation == "" {
		return fmt.Errorf("annotate article: model returned an empty reply")
	}

	article.Annotation = annotation
	article.Summary = summary
	article.Usage = usage
	return nil
}

const summarySystemPrompt = `You summarize medical research articles for a
bibliography. Reply with a single JSON object and nothing else:
{"summary": "...", "usage": "..."}
"summary" is 2-3 sentences on what the article found. "usage" is one sentence
on how the article can support the stated research direction.`

// buildSummaryPrompt renders the article metadata the model summarizes from.
func buildSummaryPrompt(article *domain.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\n", article.Title)
	if article.Journal != "" {
		fmt.Fprintf(&sb, "Journal: %s (%s)\n", article.Journal, article.Year)
	}
	if article.Direction != "" {
		fmt.Fprintf(&sb, "Research direction: %s\n", article.Direction)
	}
	fmt.Fprintf(&sb, "Abstract: %s\n", article.Abstract)
	return sb.String()
}

// NormalizeAnnotation coerces a model reply into the canonical annotation
// JSON. It tries, in order: the raw reply, the contents of the first code
// fence, and the first {...} object. On success it returns compact JSON with
// only the summary and usage keys plus the two values. When nothing parses,
// the fence-stripped text itself becomes the annotation with empty halves.
func NormalizeAnnotation(raw string) (annotation, summary, usage string) {
	trimmed := strings.TrimSpace(raw)

	candidates := []string{trimmed}
	if m := codeFencePattern.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, strings.TrimSpace(m[1]))
	}
	if start, end := strings.Index(trimmed, "{"), strings.LastIndex(trimmed, "}"); start >= 0 && end > start {
		candidates = append(candidates, trimmed[start:end+1])
	}

	for _, candidate := range candidates {
		var payload annotationPayload
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}
		if payload.Summary == "" && payload.Usage == "" {
			continue
		}
		normalized, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		return string(normalized), payload.Summary, payload.Usage
	}

	if m := codeFencePattern.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}
	return trimmed, "", ""
}
