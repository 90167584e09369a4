package index

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Filter is a conjunction of exact-match and range constraints over
// point metadata. The zero value matches everything.
type Filter struct {
	SourceID   string
	SourceType string
	SessionID  string
	TopicID    string

	// SummaryCarrier, when non-nil, matches only points with (or
	// without) the summary prefix on their text.
	SummaryCarrier *bool

	// Since and Until bound CreatedAt: Since <= CreatedAt < Until.
	// Zero values leave the corresponding side unbounded.
	Since time.Time
	Until time.Time

	// Extra holds exact-match constraints on extension metadata.
	Extra map[string]string
}

// IsZero reports whether the filter has no constraints.
func (f Filter) IsZero() bool {
	return f.SourceID == "" && f.SourceType == "" && f.SessionID == "" &&
		f.TopicID == "" && f.SummaryCarrier == nil &&
		f.Since.IsZero() && f.Until.IsZero() && len(f.Extra) == 0
}

// whereClause renders the filter as SQL predicates appended to args.
// Argument placeholders continue from the current length of args. An
// empty filter yields an empty string.
func (f Filter) whereClause(args *[]any) (string, error) {
	var preds []string

	add := func(expr string, value any) {
		*args = append(*args, value)
		preds = append(preds, fmt.Sprintf(expr, len(*args)))
	}

	if f.SourceID != "" {
		add("source_id = $%d", f.SourceID)
	}
	if f.SourceType != "" {
		add("source_type = $%d", f.SourceType)
	}
	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.TopicID != "" {
		add("topic_id = $%d", f.TopicID)
	}
	if f.SummaryCarrier != nil {
		add("summary_carrier = $%d", *f.SummaryCarrier)
	}
	if !f.Since.IsZero() {
		add("created_at >= $%d", f.Since)
	}
	if !f.Until.IsZero() {
		add("created_at < $%d", f.Until)
	}
	if len(f.Extra) > 0 {
		// JSONB containment keeps extension-field matching a single
		// indexable predicate. Values are marshaled, never
		// interpolated.
		extraJSON, err := json.Marshal(f.Extra)
		if err != nil {
			return "", fmt.Errorf("failed to marshal extra filter: %w", err)
		}
		add("extra @> $%d", extraJSON)
	}

	if len(preds) == 0 {
		return "", nil
	}
	return strings.Join(preds, " AND "), nil
}
