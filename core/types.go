package core

import "sort"

// Modality is the analysis channel an event originated from.
type Modality string

const (
	ModalityAudio  Modality = "audio"
	ModalityVisual Modality = "visual"
	ModalityFused  Modality = "fused"
)

// Precedence orders modalities for tie-breaking: fused carries the richest
// synthesis, then visual, then audio. Lower sorts first.
func (m Modality) Precedence() int {
	switch m {
	case ModalityFused:
		return 0
	case ModalityVisual:
		return 1
	case ModalityAudio:
		return 2
	}
	return 3
}

// TimeSpan is a closed interval in seconds within the video's duration.
// Value semantics keep spans immutable once created.
type TimeSpan struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func (s TimeSpan) Valid() bool { return s.Start >= 0 && s.End >= s.Start }

func (s TimeSpan) Duration() float64 { return s.End - s.Start }

// Intersects reports whether the closed intervals share at least a point.
func (s TimeSpan) Intersects(o TimeSpan) bool {
	return s.Start <= o.End && o.Start <= s.End
}

// Overlap returns the length of the shared interval; negative when the
// spans are disjoint.
func (s TimeSpan) Overlap(o TimeSpan) float64 {
	lo := s.Start
	if o.Start > lo {
		lo = o.Start
	}
	hi := s.End
	if o.End < hi {
		hi = o.End
	}
	return hi - lo
}

func (s TimeSpan) Union(o TimeSpan) TimeSpan {
	u := s
	if o.Start < u.Start {
		u.Start = o.Start
	}
	if o.End > u.End {
		u.End = o.End
	}
	return u
}

// RawDetection is a pre-fusion, un-deduplicated analyzer output. Detections
// are immutable; fused Events reference them by ID, never the other way
// around, so the provenance chain stays acyclic.
type RawDetection struct {
	ID          string   `json:"id"`
	Span        TimeSpan `json:"span"`
	Modality    Modality `json:"modality"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
}

// Event is the atomic unit of understanding on a Timeline.
type Event struct {
	ID          string   `json:"id"`
	Span        TimeSpan `json:"span"`
	Modality    Modality `json:"modality"`
	Kind        string   `json:"kind"`
	Description string   `json:"description"`
	Confidence  float64  `json:"confidence"`
	SourceRefs  []string `json:"source_refs"`
}

// SegmentFailure records a per-segment analyzer failure that was absorbed
// rather than aborting the whole video.
type SegmentFailure struct {
	Span     TimeSpan `json:"span"`
	Modality Modality `json:"modality"`
	Cause    string   `json:"cause"`
}

// DiscardRecord explains why a detection was dropped during fusion. Every
// input detection lands either in exactly one Event's SourceRefs or here.
type DiscardRecord struct {
	DetectionID string `json:"detection_id"`
	Reason      string `json:"reason"`
}

// Timeline is the ordered, deduplicated event sequence for one video. It
// owns its Events exclusively and is immutable once published.
type Timeline struct {
	VideoID         string           `json:"video_id"`
	Duration        float64          `json:"duration"`
	Events          []Event          `json:"events"`
	PartialCoverage bool             `json:"partial_coverage"`
	Failures        []SegmentFailure `json:"failures,omitempty"`
	Discards        []DiscardRecord  `json:"discards,omitempty"`
}

// EventByID returns the event with the given id, if present.
func (t *Timeline) EventByID(id string) (Event, bool) {
	for _, e := range t.Events {
		if e.ID == id {
			return e, true
		}
	}
	return Event{}, false
}

// SortEvents orders events by (start, end, modality precedence, id) — the
// canonical Timeline order.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		if a.Modality.Precedence() != b.Modality.Precedence() {
			return a.Modality.Precedence() < b.Modality.Precedence()
		}
		return a.ID < b.ID
	})
}

// Query is a stateless, one-shot question against one video's timeline.
type Query struct {
	VideoID   string    `json:"video_id"`
	Text      string    `json:"text"`
	TimeRange *TimeSpan `json:"time_range,omitempty"`
	TopK      int       `json:"top_k,omitempty"`
}

// Citation anchors an answer to one timeline event.
type Citation struct {
	EventID string   `json:"event_id"`
	Span    TimeSpan `json:"span"`
}

// Answer is text plus the ordered evidence it was grounded on. Citations
// reference only events present in the timeline that produced the answer.
type Answer struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}
