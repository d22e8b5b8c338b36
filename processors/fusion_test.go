package processors

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"vidcrawl/core"
)

func audioDet(id string, start, end float64, text string, conf float64) core.RawDetection {
	return core.RawDetection{
		ID: id, Span: core.TimeSpan{Start: start, End: end},
		Modality: core.ModalityAudio, Kind: "dialogue", Description: text, Confidence: conf,
	}
}

func visualDet(id string, start, end float64, kind, text string, conf float64) core.RawDetection {
	return core.RawDetection{
		ID: id, Span: core.TimeSpan{Start: start, End: end},
		Modality: core.ModalityVisual, Kind: kind, Description: text, Confidence: conf,
	}
}

func TestFuseCrossModalGoal(t *testing.T) {
	results := []PipelineResult{
		{
			Modality:    core.ModalityAudio,
			Fingerprint: "fp",
			Detections:  []core.RawDetection{audioDet("a1", 24.8, 25.3, "Messi scores", 0.9)},
		},
		{
			Modality:    core.ModalityVisual,
			Fingerprint: "fp",
			Detections:  []core.RawDetection{visualDet("v1", 25.0, 25.6, "Goal", "player shoots and ball enters net", 0.8)},
		},
	}

	tl, err := Fuse("vid1", 90, results, FusionConfig{})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	if len(tl.Events) != 1 {
		t.Fatalf("expected 1 fused event, got %d", len(tl.Events))
	}
	e := tl.Events[0]
	if e.Modality != core.ModalityFused {
		t.Errorf("expected fused modality, got %s", e.Modality)
	}
	if e.Kind != "Goal" {
		t.Errorf("expected kind Goal, got %q", e.Kind)
	}
	if e.Span.Start != 24.8 || e.Span.End != 25.6 {
		t.Errorf("expected span [24.8, 25.6], got %v", e.Span)
	}
	if e.Confidence != 0.9 {
		t.Errorf("expected max confidence 0.9, got %v", e.Confidence)
	}
	audioPos := strings.Index(e.Description, "Messi scores")
	visualPos := strings.Index(e.Description, "player shoots and ball enters net")
	if audioPos < 0 || visualPos < 0 || audioPos > visualPos {
		t.Errorf("description must contain both fragments in audio-then-visual order: %q", e.Description)
	}
	if len(e.SourceRefs) != 2 {
		t.Errorf("expected 2 source refs, got %v", e.SourceRefs)
	}
	if tl.PartialCoverage {
		t.Error("both modalities contributed; timeline should not be partial")
	}
}

func TestFuseDeterministicUnderArrivalOrder(t *testing.T) {
	audio := []core.RawDetection{
		audioDet("a1", 5, 8, "commentary on the buildup", 0.7),
		audioDet("a2", 24.8, 25.3, "Messi scores", 0.9),
		audioDet("a3", 40, 42, "crowd noise subsides", 0.6),
	}
	visual := []core.RawDetection{
		visualDet("v1", 6, 9, "Pass", "long ball forward", 0.8),
		visualDet("v2", 25.0, 25.6, "Goal", "ball enters net", 0.85),
	}

	forward := []PipelineResult{
		{Modality: core.ModalityAudio, Fingerprint: "fp", Detections: audio},
		{Modality: core.ModalityVisual, Fingerprint: "fp", Detections: visual},
	}
	reversedAudio := []core.RawDetection{audio[2], audio[0], audio[1]}
	reversedVisual := []core.RawDetection{visual[1], visual[0]}
	backward := []PipelineResult{
		{Modality: core.ModalityVisual, Fingerprint: "fp", Detections: reversedVisual},
		{Modality: core.ModalityAudio, Fingerprint: "fp", Detections: reversedAudio},
	}

	t1, err := Fuse("vid1", 60, forward, FusionConfig{})
	if err != nil {
		t.Fatalf("Fuse forward failed: %v", err)
	}
	t2, err := Fuse("vid1", 60, backward, FusionConfig{})
	if err != nil {
		t.Fatalf("Fuse backward failed: %v", err)
	}

	b1, _ := json.Marshal(t1)
	b2, _ := json.Marshal(t2)
	if string(b1) != string(b2) {
		t.Errorf("fusion is order dependent:\nforward:  %s\nbackward: %s", b1, b2)
	}
}

func TestFuseAccounting(t *testing.T) {
	results := []PipelineResult{
		{
			Modality:    core.ModalityAudio,
			Fingerprint: "fp",
			Detections: []core.RawDetection{
				audioDet("a1", 1, 2, "first line", 0.9),
				audioDet("a2", 10, 12, "", 0.9),         // discarded: empty description
				audioDet("a3", 20, 22, "low talk", 0.1), // discarded: below min confidence
			},
		},
		{
			Modality:    core.ModalityVisual,
			Fingerprint: "fp",
			Detections: []core.RawDetection{
				visualDet("v1", 1.5, 3, "Pass", "short pass", 0.8),
				visualDet("v2", 30, 31, "Scene", "wide shot of the stadium", 0.9),
			},
		},
	}

	tl, err := Fuse("vid1", 60, results, FusionConfig{MinConfidence: 0.5})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}

	seen := map[string]int{}
	for _, e := range tl.Events {
		for _, ref := range e.SourceRefs {
			seen[ref]++
		}
	}
	for _, d := range tl.Discards {
		seen[d.DetectionID]++
	}
	for _, id := range []string{"a1", "a2", "a3", "v1", "v2"} {
		if seen[id] != 1 {
			t.Errorf("detection %s accounted for %d times, want exactly 1", id, seen[id])
		}
	}
	if len(tl.Discards) != 2 {
		t.Errorf("expected 2 discards, got %v", tl.Discards)
	}
}

func TestFuseSingleModalityPassthrough(t *testing.T) {
	results := []PipelineResult{
		{
			Modality:    core.ModalityAudio,
			Fingerprint: "fp",
			Detections: []core.RawDetection{
				audioDet("a1", 0, 5, "opening commentary", 0.9),
				audioDet("a2", 3, 8, "still talking", 0.8),
			},
		},
		{Modality: core.ModalityVisual, Fingerprint: "fp"},
	}

	tl, err := Fuse("vid1", 60, results, FusionConfig{})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	// Overlapping but same modality: both pass through unchanged.
	if len(tl.Events) != 2 {
		t.Fatalf("expected 2 passthrough events, got %d", len(tl.Events))
	}
	for _, e := range tl.Events {
		if e.Modality != core.ModalityAudio {
			t.Errorf("expected audio modality, got %s", e.Modality)
		}
		if len(e.SourceRefs) != 1 {
			t.Errorf("passthrough event should carry one source ref, got %v", e.SourceRefs)
		}
	}
	if !tl.PartialCoverage {
		t.Error("visual pipeline contributed nothing; timeline must be flagged partial")
	}
}

func TestFuseFingerprintMismatch(t *testing.T) {
	results := []PipelineResult{
		{Modality: core.ModalityAudio, Fingerprint: "fp-a"},
		{Modality: core.ModalityVisual, Fingerprint: "fp-b"},
	}
	_, err := Fuse("vid1", 60, results, FusionConfig{})
	var mismatch *core.FusionInputMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected FusionInputMismatchError, got %v", err)
	}
}

func TestFuseBoundaryTouchDoesNotCluster(t *testing.T) {
	results := []PipelineResult{
		{
			Modality:    core.ModalityAudio,
			Fingerprint: "fp",
			Detections:  []core.RawDetection{audioDet("a1", 0, 10, "first half", 0.9)},
		},
		{
			Modality:    core.ModalityVisual,
			Fingerprint: "fp",
			Detections:  []core.RawDetection{visualDet("v1", 10, 20, "Scene", "second half", 0.9)},
		},
	}
	tl, err := Fuse("vid1", 60, results, FusionConfig{})
	if err != nil {
		t.Fatalf("Fuse failed: %v", err)
	}
	// Shared boundary point is zero overlap, below the default threshold.
	if len(tl.Events) != 2 {
		t.Fatalf("expected 2 separate events, got %d", len(tl.Events))
	}
}

func TestResolveKind(t *testing.T) {
	cases := []struct {
		name  string
		kinds []string
		want  string
	}{
		{"substantive beats ambient", []string{"dialogue", "Goal"}, "Goal"},
		{"alias canonicalized", []string{"score"}, "Goal"},
		{"conflict retained compound", []string{"Save", "Goal"}, "Goal/Save"},
		{"ambient only", []string{"dialogue", "commentary"}, "Commentary/Dialogue"},
		{"empty kinds", []string{"", ""}, ""},
		{"unknown passes through", []string{"Interview"}, "Interview"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveKind(tc.kinds); got != tc.want {
				t.Errorf("ResolveKind(%v) = %q, want %q", tc.kinds, got, tc.want)
			}
		})
	}
}
