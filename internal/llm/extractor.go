package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/litforge/bibliography-service/internal/domain"
)

// MaxDirections caps how many search directions a single workflow may fan
// out to, regardless of what the model returns or the caller requests.
const MaxDirections = 12

// listMarkerPattern strips leading list decorations the model tends to add
// despite being told not to (numbers, dots, dashes, CJK bullets).
var listMarkerPattern = regexp.MustCompile(`^[\s\d.\-:：•、]+`)

// DirectionExtractor asks an LLM to break a research intent into distinct
// search directions, one per line.
type DirectionExtractor struct {
	client Client
}

// NewDirectionExtractor creates a direction extractor backed by client.
func NewDirectionExtractor(client Client) *DirectionExtractor {
	return &DirectionExtractor{client: client}
}

// DirectionResult is the outcome of a direction extraction.
type DirectionResult struct {
	// Directions are the cleaned direction lines, at most MaxDirections.
	Directions []string
	// Message is the human-readable summary shown in the status log.
	Message string
}

// Extract derives search directions from the research intent. When desired is
// positive the model is asked for exactly that many (capped at MaxDirections);
// otherwise it may return three to six. An empty result is reported as
// domain.ErrNoDirections.
func (e *DirectionExtractor) Extract(ctx context.Context, intent string, desired int) (*DirectionResult, error) {
	if desired > MaxDirections {
		desired = MaxDirections
	}

	system := buildDirectionPrompt(desired)
	reply, err := e.client.Complete(ctx, system, intent, 512)
	if err != nil {
		return nil, fmt.Errorf("extract directions: %w", err)
	}

	directions := parseDirections(reply)
	if len(directions) == 0 {
		return nil, fmt.Errorf("extract directions: model returned no usable lines: %w", domain.ErrNoDirections)
	}

	limit := desired
	if limit <= 0 {
		limit = MaxDirections
	}
	if len(directions) > limit {
		directions = directions[:limit]
	}

	message := fmt.Sprintf("extracted %d search directions", len(directions))
	if desired > 0 && len(directions) < desired {
		message += fmt.Sprintf(" (fewer than the requested %d)", desired)
	}

	return &DirectionResult{Directions: directions, Message: message}, nil
}

// buildDirectionPrompt assembles the system prompt for direction extraction.
func buildDirectionPrompt(desired int) string {
	var sb strings.Builder
	sb.WriteString("You are a medical literature research assistant. ")
	sb.WriteString("From the user's research intent, extract ")
	if desired > 0 {
		fmt.Fprintf(&sb, "exactly %d distinct search directions", desired)
	} else {
		sb.WriteString("3 to 6 distinct search directions")
	}
	sb.WriteString(", each narrow enough to search on its own.\n")
	sb.WriteString("Output one direction per line. ")
	sb.WriteString("No numbering, no bullets, no explanations.")
	return sb.String()
}

// parseDirections splits the model reply into cleaned direction lines.
func parseDirections(reply string) []string {
	var directions []string
	for _, line := range strings.Split(reply, "\n") {
		line = listMarkerPattern.ReplaceAllString(strings.TrimSpace(line), "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		directions = append(directions, line)
	}
	return directions
}
