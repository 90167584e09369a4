package index

import (
	"sort"
	"strings"
)

// ReconstructText rebuilds a source's original text from its stored
// chunks. Chunks are ordered by chunk index; the summary prefix that
// ingestion prepends to the carrier chunk is stripped so the result
// matches the ingested text.
func ReconstructText(points []Point) string {
	if len(points) == 0 {
		return ""
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Meta.ChunkIndex < sorted[j].Meta.ChunkIndex
	})

	parts := make([]string, 0, len(sorted))
	for _, p := range sorted {
		text := p.Text
		if p.Meta.SummaryCarrier && p.Meta.Summary != "" {
			text = strings.TrimPrefix(text, p.Meta.Summary+"\n\n")
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, "\n")
}
