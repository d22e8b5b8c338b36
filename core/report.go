package core

import (
	"fmt"
	"strings"
)

// ExportRecord is the flat per-event row used by the export boundary and
// report generation.
type ExportRecord struct {
	Start       float64  `json:"start"`
	End         float64  `json:"end"`
	Modality    Modality `json:"modality"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
}

// Export flattens the timeline into a plain ordered event list.
func (t *Timeline) Export() []ExportRecord {
	out := make([]ExportRecord, 0, len(t.Events))
	for _, e := range t.Events {
		out = append(out, ExportRecord{
			Start:       e.Span.Start,
			End:         e.Span.End,
			Modality:    e.Modality,
			Kind:        e.Kind,
			Description: e.Description,
			Confidence:  e.Confidence,
		})
	}
	return out
}

// MarkdownReport renders the timeline as a chronological analysis document:
// header with duration and coverage, then one timestamped section per event
// with a confidence rating.
func (t *Timeline) MarkdownReport() string {
	var b strings.Builder

	b.WriteString("# Video Analysis Report\n\n")
	fmt.Fprintf(&b, "**Duration:** %s\n\n", FormatTime(t.Duration))
	fmt.Fprintf(&b, "**Events:** %d\n\n", len(t.Events))
	if t.PartialCoverage {
		fmt.Fprintf(&b, "**Coverage:** partial (%d segment failures)\n\n", len(t.Failures))
	}
	b.WriteString("---\n\n")

	if len(t.Events) == 0 {
		b.WriteString("*No events detected*\n")
		return b.String()
	}

	for i, e := range t.Events {
		timeRange := fmt.Sprintf("%s - %s", FormatTime(e.Span.Start), FormatTime(e.Span.End))
		fmt.Fprintf(&b, "### [%s] %s\n\n", timeRange, headline(e, i))
		fmt.Fprintf(&b, "**Modality:** %s | **Confidence:** %s (%.2f)\n\n", e.Modality, confidenceStars(e.Confidence), e.Confidence)
		b.WriteString(e.Description)
		b.WriteString("\n\n")
	}
	return b.String()
}

func headline(e Event, i int) string {
	if e.Kind != "" {
		return e.Kind
	}
	return fmt.Sprintf("Event %d", i+1)
}

func confidenceStars(c float64) string {
	n := int(c * 5)
	if n > 5 {
		n = 5
	}
	if n < 0 {
		n = 0
	}
	return strings.Repeat("*", n)
}
