package llm

import (
	"context"
	"errors"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/koopa0/recall/internal/index"
)

type fakeChatClient struct {
	reply   string
	err     error
	lastReq openai.ChatCompletionRequest
}

func (f *fakeChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.lastReq = req
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.reply}},
		},
	}, nil
}

func TestOpenAISummarizer(t *testing.T) {
	client := &fakeChatClient{reply: "  A short summary.  "}
	s := NewOpenAISummarizer(client, "gpt-4o-mini")

	got, err := s.Summarize(context.Background(), "long document text", index.SourceDocument)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "A short summary." {
		t.Errorf("Summarize() = %q", got)
	}
	if client.lastReq.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", client.lastReq.Model)
	}
	if !strings.Contains(client.lastReq.Messages[0].Content, "long document text") {
		t.Error("prompt should carry the content")
	}
}

func TestOpenAISummarizerError(t *testing.T) {
	wantErr := errors.New("rate limited")
	s := NewOpenAISummarizer(&fakeChatClient{err: wantErr}, "gpt-4o-mini")

	if _, err := s.Summarize(context.Background(), "text", index.SourceDocument); !errors.Is(err, wantErr) {
		t.Errorf("Summarize() error = %v, want wrapped %v", err, wantErr)
	}
}

func TestOpenAIAnswerer(t *testing.T) {
	client := &fakeChatClient{reply: "The key rotates daily."}
	a := NewOpenAIAnswerer(client, "gpt-4o-mini")

	got, err := a.Answer(context.Background(), "how often does the key rotate?",
		[]string{"keys rotate daily", "rotation is automatic"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "The key rotates daily." {
		t.Errorf("Answer() = %q", got)
	}

	prompt := client.lastReq.Messages[0].Content
	if !strings.Contains(prompt, "[1] keys rotate daily") || !strings.Contains(prompt, "[2] rotation is automatic") {
		t.Errorf("prompt missing numbered passages:\n%s", prompt)
	}
}

func TestOpenAIAnswererEmptyChoices(t *testing.T) {
	client := &fakeChatClient{reply: ""}
	a := NewOpenAIAnswerer(client, "gpt-4o-mini")

	if _, err := a.Answer(context.Background(), "q", nil); err == nil {
		t.Error("Answer() should reject an empty model response")
	}
}
