package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Answerer generates an answer to a question grounded on retrieved
// context passages.
type Answerer interface {
	Answer(ctx context.Context, question string, passages []string) (string, error)
}

const answerPrompt = `Answer the question using only the context below.
If the context does not contain the answer, say so.

Context:
%s

Question: %s`

// GenkitAnswerer answers through a Genkit model.
type GenkitAnswerer struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitAnswerer creates an answerer using the named model.
func NewGenkitAnswerer(g *genkit.Genkit, model string) *GenkitAnswerer {
	return &GenkitAnswerer{g: g, model: model}
}

func (a *GenkitAnswerer) Answer(ctx context.Context, question string, passages []string) (string, error) {
	resp, err := genkit.Generate(ctx, a.g,
		ai.WithModelName(a.model),
		ai.WithPrompt(fmt.Sprintf(answerPrompt, joinPassages(passages), question)),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("model returned empty answer")
	}
	return answer, nil
}

func joinPassages(passages []string) string {
	if len(passages) == 0 {
		return "(no context retrieved)"
	}
	var b strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, strings.TrimSpace(p))
	}
	return b.String()
}
