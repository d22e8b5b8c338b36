package index

import (
	"sort"

	"vidcrawl/core"
)

// TemporalIndex answers range queries over a timeline's events. Events are
// held sorted by span start with a prefix max-end augmentation: everything
// before the first position whose prefix max-end reaches the query start is
// provably disjoint, so a lookup binary-searches both cut points and scans
// only the candidates in between.
type TemporalIndex struct {
	events []core.Event
	maxEnd []float64
}

func NewTemporalIndex(events []core.Event) *TemporalIndex {
	evs := make([]core.Event, len(events))
	copy(evs, events)
	sort.SliceStable(evs, func(i, j int) bool {
		return evs[i].Span.Start < evs[j].Span.Start
	})

	maxEnd := make([]float64, len(evs))
	running := 0.0
	for i, e := range evs {
		if i == 0 || e.Span.End > running {
			running = e.Span.End
		}
		maxEnd[i] = running
	}
	return &TemporalIndex{events: evs, maxEnd: maxEnd}
}

// RangeQuery returns the events whose spans intersect the query span, in
// timeline order.
func (ix *TemporalIndex) RangeQuery(span core.TimeSpan) []core.Event {
	n := len(ix.events)
	// First event that can still reach span.Start.
	lo := sort.Search(n, func(i int) bool { return ix.maxEnd[i] >= span.Start })
	// First event starting past span.End; nothing at or beyond intersects.
	hi := sort.Search(n, func(i int) bool { return ix.events[i].Span.Start > span.End })

	var out []core.Event
	for i := lo; i < hi; i++ {
		if ix.events[i].Span.Intersects(span) {
			out = append(out, ix.events[i])
		}
	}
	return out
}

func (ix *TemporalIndex) Len() int { return len(ix.events) }
