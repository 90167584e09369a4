package llm

import (
	"strings"
	"testing"

	"github.com/koopa0/recall/internal/index"
)

func TestFallbackSummaryConversation(t *testing.T) {
	content := "user: how do I rotate the key?\n\nassistant: use the rotate command\n\nuser: thanks\nextra line"

	got := FallbackSummary(content, index.SourceConversation, 0)
	want := "user: how do I rotate the key? assistant: use the rotate command user: thanks"
	if got != want {
		t.Errorf("FallbackSummary() = %q, want %q", got, want)
	}
}

func TestFallbackSummaryDocument(t *testing.T) {
	content := "The first paragraph describes the system.\nSecond line of it.\n\nThe second paragraph goes deeper."

	got := FallbackSummary(content, index.SourceDocument, 0)
	want := "The first paragraph describes the system.\nSecond line of it."
	if got != want {
		t.Errorf("FallbackSummary() = %q, want %q", got, want)
	}
}

func TestFallbackSummaryWorkflow(t *testing.T) {
	content := `{"name":"Deploy","steps":[{"name":"build"},{"name":"test"},{"name":"release"}]}`

	got := FallbackSummary(content, index.SourceWorkflow, 0)
	want := `Deploy: 3 steps, from "build" to "release"`
	if got != want {
		t.Errorf("FallbackSummary() = %q, want %q", got, want)
	}
}

func TestFallbackSummaryWorkflowSingleStep(t *testing.T) {
	content := `{"steps":[{"name":"build"}]}`

	got := FallbackSummary(content, index.SourceWorkflow, 0)
	if got != "Workflow: 1 step (build)" {
		t.Errorf("FallbackSummary() = %q", got)
	}
}

func TestFallbackSummaryWorkflowMalformed(t *testing.T) {
	// Non-JSON workflow content falls back to truncation.
	got := FallbackSummary("just some text", index.SourceWorkflow, 0)
	if got != "just some text" {
		t.Errorf("FallbackSummary() = %q, want raw content", got)
	}
}

func TestFallbackSummaryTruncation(t *testing.T) {
	long := strings.Repeat("a", 500)

	got := FallbackSummary(long, index.SourceDocument, 0)
	if len([]rune(got)) != DefaultSummaryLength+3 {
		t.Errorf("truncated length = %d, want %d", len([]rune(got)), DefaultSummaryLength+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated summary should end with ellipsis, got %q", got[len(got)-10:])
	}
}

func TestFallbackSummaryEmpty(t *testing.T) {
	if got := FallbackSummary("   \n  ", index.SourceDocument, 0); got != "" {
		t.Errorf("FallbackSummary(blank) = %q, want empty", got)
	}
}
