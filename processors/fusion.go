package processors

import (
	"fmt"
	"sort"
	"strings"

	"vidcrawl/core"
)

// FusionConfig tunes the merge decision. OverlapThreshold is the minimum
// overlap (seconds, exclusive) two spans need to land in the same cluster;
// 0 means any positive overlap. Detections below MinConfidence go to the
// discard log.
type FusionConfig struct {
	OverlapThreshold float64
	MinConfidence    float64
}

// Fuse merges completed detection streams into one Timeline. The output is
// deterministic: detections are sorted by (start, end, modality, id) before
// the sweep, so the wall-clock order in which pipelines finished never
// shows through. Fusion creates new Events and leaves the input detections
// untouched; SourceRefs carry the provenance back to them.
func Fuse(videoID string, duration float64, results []PipelineResult, cfg FusionConfig) (*core.Timeline, error) {
	if len(results) > 0 {
		want := results[0].Fingerprint
		for _, r := range results[1:] {
			if r.Fingerprint != want {
				return nil, &core.FusionInputMismatchError{VideoID: videoID, Want: want, Got: r.Fingerprint}
			}
		}
	}

	tl := &core.Timeline{VideoID: videoID, Duration: duration}

	var dets []core.RawDetection
	for _, r := range results {
		tl.Failures = append(tl.Failures, r.Failures...)
		if len(r.Failures) > 0 || len(r.Detections) == 0 {
			// A modality contributed no data for part or all of the video.
			tl.PartialCoverage = true
		}
		dets = append(dets, r.Detections...)
	}
	sort.SliceStable(tl.Failures, func(i, j int) bool {
		a, b := tl.Failures[i], tl.Failures[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		return a.Modality < b.Modality
	})

	kept := make([]core.RawDetection, 0, len(dets))
	for _, d := range dets {
		switch {
		case strings.TrimSpace(d.Description) == "":
			tl.Discards = append(tl.Discards, core.DiscardRecord{DetectionID: d.ID, Reason: "empty description"})
		case !d.Span.Valid() || d.Span.End > duration:
			tl.Discards = append(tl.Discards, core.DiscardRecord{DetectionID: d.ID, Reason: "span outside video duration"})
		case d.Confidence < cfg.MinConfidence:
			tl.Discards = append(tl.Discards, core.DiscardRecord{
				DetectionID: d.ID,
				Reason:      fmt.Sprintf("confidence %.2f below minimum %.2f", d.Confidence, cfg.MinConfidence),
			})
		default:
			kept = append(kept, d)
		}
	}
	sort.Slice(tl.Discards, func(i, j int) bool {
		return tl.Discards[i].DetectionID < tl.Discards[j].DetectionID
	})

	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Span.Start != b.Span.Start {
			return a.Span.Start < b.Span.Start
		}
		if a.Span.End != b.Span.End {
			return a.Span.End < b.Span.End
		}
		if a.Modality != b.Modality {
			return a.Modality < b.Modality
		}
		return a.ID < b.ID
	})

	// Interval-merge sweep over the sorted detections: the cluster span
	// grows to the union of its members, and a detection joins while its
	// overlap with that span exceeds the threshold.
	var clusters [][]core.RawDetection
	var cur []core.RawDetection
	var curSpan core.TimeSpan
	for _, d := range kept {
		if len(cur) > 0 && curSpan.Overlap(d.Span) > cfg.OverlapThreshold {
			cur = append(cur, d)
			curSpan = curSpan.Union(d.Span)
			continue
		}
		if len(cur) > 0 {
			clusters = append(clusters, cur)
		}
		cur = []core.RawDetection{d}
		curSpan = d.Span
	}
	if len(cur) > 0 {
		clusters = append(clusters, cur)
	}

	var events []core.Event
	for _, cl := range clusters {
		modalities := map[core.Modality]bool{}
		for _, d := range cl {
			modalities[d.Modality] = true
		}
		if len(modalities) > 1 {
			events = append(events, fuseCluster(cl))
			continue
		}
		// Single-modality cluster: pass members through unchanged — the
		// absence of corroboration loses no information.
		for _, d := range cl {
			events = append(events, core.Event{
				Span:        d.Span,
				Modality:    d.Modality,
				Kind:        d.Kind,
				Description: d.Description,
				Confidence:  d.Confidence,
				SourceRefs:  []string{d.ID},
			})
		}
	}

	core.SortEvents(events)
	for i := range events {
		events[i].ID = fmt.Sprintf("evt-%04d", i+1)
	}
	tl.Events = events
	return tl, nil
}

// fuseCluster synthesizes one fused event from a cross-modal cluster: span
// union, audio-then-visual description, precedence-resolved kind, maximum
// member confidence (corroboration across modalities is not penalized).
func fuseCluster(cl []core.RawDetection) core.Event {
	span := cl[0].Span
	conf := 0.0
	refs := make([]string, 0, len(cl))
	kinds := make([]string, 0, len(cl))
	var audioParts, visualParts, otherParts []string

	for _, d := range cl {
		span = span.Union(d.Span)
		if d.Confidence > conf {
			conf = d.Confidence
		}
		refs = append(refs, d.ID)
		kinds = append(kinds, d.Kind)
		switch d.Modality {
		case core.ModalityAudio:
			audioParts = append(audioParts, d.Description)
		case core.ModalityVisual:
			visualParts = append(visualParts, d.Description)
		default:
			otherParts = append(otherParts, d.Description)
		}
	}
	sort.Strings(refs)

	var blocks []string
	if len(audioParts) > 0 {
		blocks = append(blocks, strings.Join(audioParts, "; "))
	}
	if len(visualParts) > 0 {
		blocks = append(blocks, strings.Join(visualParts, "; "))
	}
	if len(otherParts) > 0 {
		blocks = append(blocks, strings.Join(otherParts, "; "))
	}

	return core.Event{
		Span:        span,
		Modality:    core.ModalityFused,
		Kind:        ResolveKind(kinds),
		Description: strings.Join(blocks, " | "),
		Confidence:  conf,
		SourceRefs:  refs,
	}
}
