package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/recall/internal/index"
)

// DefaultSummaryLength caps generated and fallback summaries.
const DefaultSummaryLength = 200

// Summarizer produces a short summary of a piece of content. sourceType
// is one of the Source constants and may shape the prompt.
type Summarizer interface {
	Summarize(ctx context.Context, content, sourceType string) (string, error)
}

const summaryPrompt = `Summarize the following %s in at most two sentences.
Reply with the summary only, no preamble.

%s`

// GenkitSummarizer summarizes through a Genkit model.
type GenkitSummarizer struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitSummarizer creates a summarizer using the named model.
func NewGenkitSummarizer(g *genkit.Genkit, model string) *GenkitSummarizer {
	return &GenkitSummarizer{g: g, model: model}
}

func (s *GenkitSummarizer) Summarize(ctx context.Context, content, sourceType string) (string, error) {
	resp, err := genkit.Generate(ctx, s.g,
		ai.WithModelName(s.model),
		ai.WithPrompt(fmt.Sprintf(summaryPrompt, sourceType, content)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", fmt.Errorf("model returned empty summary")
	}
	return summary, nil
}

// FallbackSummary derives a summary from the content itself, used when
// no model summary is available. The heuristic depends on the source
// type: conversations keep their first non-empty lines, documents their
// first paragraph, workflows a step-count digest. Results never exceed
// maxLen runes; maxLen <= 0 uses DefaultSummaryLength.
func FallbackSummary(content, sourceType string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSummaryLength
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ""
	}

	var summary string
	switch sourceType {
	case index.SourceConversation:
		summary = firstLines(content, 3)
	case index.SourceDocument:
		summary = firstParagraph(content)
	case index.SourceWorkflow:
		summary = workflowDigest(content)
	default:
		summary = content
	}

	return Truncate(summary, maxLen)
}

// firstLines joins up to n non-empty lines.
func firstLines(content string, n int) string {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return strings.Join(lines, " ")
}

func firstParagraph(content string) string {
	if idx := strings.Index(content, "\n\n"); idx > 0 {
		return strings.TrimSpace(content[:idx])
	}
	return content
}

// workflowDigest summarizes workflow JSON as a step count plus the
// first and last step names. Content that is not the expected shape
// falls through to plain truncation.
func workflowDigest(content string) string {
	var wf struct {
		Name  string `json:"name"`
		Steps []struct {
			Name string `json:"name"`
		} `json:"steps"`
	}
	if err := json.Unmarshal([]byte(content), &wf); err != nil || len(wf.Steps) == 0 {
		return content
	}

	first := wf.Steps[0].Name
	last := wf.Steps[len(wf.Steps)-1].Name
	name := wf.Name
	if name == "" {
		name = "Workflow"
	}
	if len(wf.Steps) == 1 {
		return fmt.Sprintf("%s: 1 step (%s)", name, first)
	}
	return fmt.Sprintf("%s: %d steps, from %q to %q", name, len(wf.Steps), first, last)
}

// Truncate caps s at maxLen runes, marking the cut with an ellipsis.
// Model summaries pass through here too; nothing stored as a summary
// may exceed the cap.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
