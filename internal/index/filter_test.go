package index

import (
	"strings"
	"testing"
	"time"
)

func TestFilterIsZero(t *testing.T) {
	if !(Filter{}).IsZero() {
		t.Error("empty filter should be zero")
	}

	carrier := true
	nonZero := []Filter{
		{SourceID: "s1"},
		{SourceType: "document"},
		{SessionID: "sess"},
		{TopicID: "3"},
		{SummaryCarrier: &carrier},
		{Since: time.Now()},
		{Until: time.Now()},
		{Extra: map[string]string{"lang": "go"}},
	}
	for i, f := range nonZero {
		if f.IsZero() {
			t.Errorf("filter %d should not be zero", i)
		}
	}
}

func TestFilterWhereClauseEmpty(t *testing.T) {
	args := []any{"seed"}
	where, err := (Filter{}).whereClause(&args)
	if err != nil {
		t.Fatalf("whereClause() error = %v", err)
	}
	if where != "" {
		t.Errorf("empty filter rendered %q, want empty", where)
	}
	if len(args) != 1 {
		t.Errorf("empty filter appended args, got %d", len(args))
	}
}

func TestFilterWhereClausePlaceholders(t *testing.T) {
	// Placeholders must continue numbering from the seeded args.
	args := []any{"vec", "collection"}
	f := Filter{SourceID: "doc-1", SessionID: "sess-9"}

	where, err := f.whereClause(&args)
	if err != nil {
		t.Fatalf("whereClause() error = %v", err)
	}

	want := "source_id = $3 AND session_id = $4"
	if where != want {
		t.Errorf("whereClause() = %q, want %q", where, want)
	}
	if len(args) != 4 {
		t.Fatalf("got %d args, want 4", len(args))
	}
	if args[2] != "doc-1" || args[3] != "sess-9" {
		t.Errorf("args = %v, want values appended in predicate order", args[2:])
	}
}

func TestFilterWhereClauseAllFields(t *testing.T) {
	carrier := false
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	f := Filter{
		SourceID:       "s",
		SourceType:     "conversation",
		SessionID:      "sess",
		TopicID:        "7",
		SummaryCarrier: &carrier,
		Since:          since,
		Until:          until,
		Extra:          map[string]string{"lang": "go"},
	}

	var args []any
	where, err := f.whereClause(&args)
	if err != nil {
		t.Fatalf("whereClause() error = %v", err)
	}

	for _, pred := range []string{
		"source_id = $1",
		"source_type = $2",
		"session_id = $3",
		"topic_id = $4",
		"summary_carrier = $5",
		"created_at >= $6",
		"created_at < $7",
		"extra @> $8",
	} {
		if !strings.Contains(where, pred) {
			t.Errorf("whereClause() = %q, missing %q", where, pred)
		}
	}
	if len(args) != 8 {
		t.Errorf("got %d args, want 8", len(args))
	}
	if got := string(args[7].([]byte)); got != `{"lang":"go"}` {
		t.Errorf("extra arg = %s, want marshaled containment object", got)
	}
}
