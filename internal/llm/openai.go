package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is the slice of the OpenAI API the adapters use.
type OpenAIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAISummarizer implements Summarizer over the OpenAI chat API, for
// deployments that do not run a Genkit model.
type OpenAISummarizer struct {
	client OpenAIClient
	model  string
}

// NewOpenAISummarizer creates a summarizer using the given chat model.
func NewOpenAISummarizer(client OpenAIClient, model string) *OpenAISummarizer {
	return &OpenAISummarizer{client: client, model: model}
}

func (s *OpenAISummarizer) Summarize(ctx context.Context, content, sourceType string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(summaryPrompt, sourceType, content),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}
	return chatText(resp)
}

// OpenAIAnswerer implements Answerer over the OpenAI chat API.
type OpenAIAnswerer struct {
	client OpenAIClient
	model  string
}

// NewOpenAIAnswerer creates an answerer using the given chat model.
func NewOpenAIAnswerer(client OpenAIClient, model string) *OpenAIAnswerer {
	return &OpenAIAnswerer{client: client, model: model}
}

func (a *OpenAIAnswerer) Answer(ctx context.Context, question string, passages []string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(answerPrompt, joinPassages(passages), question),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return chatText(resp)
}

func chatText(resp openai.ChatCompletionResponse) (string, error) {
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("model returned empty response")
	}
	return text, nil
}
