package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// pubmedSyntaxHint is appended to query-generation prompts when the target
// source is PubMed.
const pubmedSyntaxHint = `Use PubMed search syntax: combine concepts with AND,
synonyms with OR, quote multi-word phrases, and restrict terms with
[Title/Abstract]. Return only the query, nothing else.`

// genericSyntaxHint is used for sources without a dedicated hint.
const genericSyntaxHint = `Use boolean operators (AND, OR) and quote multi-word
phrases. Return only the query, nothing else.`

var (
	// andGroupPattern splits a research intent into concept groups on
	// Chinese or Western sentence punctuation.
	andGroupPattern = regexp.MustCompile(`[；;，。,.]+`)
	// orTermPattern splits a concept group into synonyms.
	orTermPattern = regexp.MustCompile(`\s+(?i:or)\s+|或|/|\|`)
)

// QueryGenerator turns a search direction into a source-specific query,
// either via the configured LLM or via deterministic rules.
type QueryGenerator struct {
	// client may be nil, in which case only rule-based generation runs.
	client Client
}

// NewQueryGenerator creates a query generator. A nil client selects pure
// rule-based generation.
func NewQueryGenerator(client Client) *QueryGenerator {
	return &QueryGenerator{client: client}
}

// Generate builds a query for intent against the named source. Without a
// configured client the deterministic rules produce the query; with one, a
// provider failure or an empty reply is an error so the caller stops the
// direction instead of searching with a query nobody asked for.
func (g *QueryGenerator) Generate(ctx context.Context, intent, source string) (query, message string, err error) {
	if g.client == nil {
		query, message = g.ruleBased(intent, source)
		return query, message, nil
	}

	reply, err := g.client.Complete(ctx, buildQueryPrompt(source), intent, 256)
	if err != nil {
		return "", "", fmt.Errorf("generate query: %s: %w", g.client.Provider(), err)
	}

	query = cleanQueryReply(reply)
	if query == "" {
		return "", "", fmt.Errorf("generate query: %s returned an empty query", g.client.Provider())
	}
	return query, fmt.Sprintf("AI generated %s query via %s", source, g.client.Provider()), nil
}

// Rewrite asks the LLM for a revised query after a failed search. The
// returned query is empty when the model had nothing usable to offer.
func (g *QueryGenerator) Rewrite(ctx context.Context, direction, failedQuery, source string) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("rewrite query: no AI provider configured")
	}

	reply, err := g.client.Complete(ctx, buildQueryPrompt(source), RewritePrompt(direction, failedQuery), 256)
	if err != nil {
		return "", fmt.Errorf("rewrite query: %w", err)
	}
	return cleanQueryReply(reply), nil
}

// RewritePrompt builds the rewrite instruction sent after a query found
// nothing.
func RewritePrompt(direction, failedQuery string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The original query found nothing: %s\n", failedQuery)
	fmt.Fprintf(&sb, "The research direction is: %s\n", direction)
	sb.WriteString("Adjust or broaden the keywords without drifting from the topic.")
	return sb.String()
}

// ruleBased produces the deterministic query used when no AI provider is
// configured.
func (g *QueryGenerator) ruleBased(intent, source string) (string, string) {
	if source == "pubmed" {
		return BuildPubMedQueryByRules(intent), "no AI provider configured; built rule-based PubMed query"
	}
	return strings.TrimSpace(intent), "no AI provider configured; using the direction text as the query"
}

// buildQueryPrompt assembles the system prompt for query generation against
// the named source.
func buildQueryPrompt(source string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert at composing literature search queries. ")
	fmt.Fprintf(&sb, "Turn the user's research direction into one %s search query.\n", source)
	if source == "pubmed" {
		sb.WriteString(pubmedSyntaxHint)
	} else {
		sb.WriteString(genericSyntaxHint)
	}
	return sb.String()
}

// cleanQueryReply strips whitespace and stray code fences from a model reply.
func cleanQueryReply(reply string) string {
	reply = strings.TrimSpace(reply)
	reply = strings.TrimPrefix(reply, "```")
	reply = strings.TrimSuffix(reply, "```")
	return strings.TrimSpace(reply)
}

// BuildPubMedQueryByRules builds a PubMed query without AI assistance:
// sentence punctuation separates AND groups, and "or"/"或"/"/"/"|" inside a
// group separates OR synonyms, each restricted to [Title/Abstract]. Phrases
// with spaces are quoted.
func BuildPubMedQueryByRules(intent string) string {
	var andParts []string
	for _, group := range andGroupPattern.Split(intent, -1) {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}

		var orParts []string
		for _, term := range orTermPattern.Split(group, -1) {
			term = strings.TrimSpace(term)
			if term == "" {
				continue
			}
			if strings.ContainsAny(term, " \t") {
				orParts = append(orParts, fmt.Sprintf("(%q[Title/Abstract])", term))
			} else {
				orParts = append(orParts, fmt.Sprintf("(%s[Title/Abstract])", term))
			}
		}

		switch len(orParts) {
		case 0:
		case 1:
			andParts = append(andParts, orParts[0])
		default:
			andParts = append(andParts, "("+strings.Join(orParts, " OR ")+")")
		}
	}

	if len(andParts) == 0 {
		return strings.TrimSpace(intent)
	}
	return strings.Join(andParts, " AND ")
}
