package processors

import (
	"crypto/sha256"
	"fmt"
	"math"
	"sort"
	"strings"

	"vidcrawl/core"
)

// SegmentConfig controls how a video is partitioned. When SceneCuts is
// non-empty the cut timestamps define window boundaries (shot-detection
// hints); otherwise fixed windows of WindowSec are used.
type SegmentConfig struct {
	WindowSec float64
	SceneCuts []float64
}

// SegmentVideo partitions [0, duration] into an ordered, non-overlapping,
// duration-covering sequence of spans. Deterministic: the same duration and
// config always produce the same segmentation, which is what lets the audio
// and visual pipelines be fused by time alignment.
func SegmentVideo(duration float64, cfg SegmentConfig) ([]core.TimeSpan, error) {
	if duration <= 0 {
		return nil, &core.SegmentationError{Duration: duration, Window: cfg.WindowSec, Reason: "duration must be positive"}
	}

	if len(cfg.SceneCuts) > 0 {
		return segmentByCuts(duration, cfg.SceneCuts), nil
	}

	w := cfg.WindowSec
	if w <= 0 {
		return nil, &core.SegmentationError{Duration: duration, Window: w, Reason: "window size must be positive"}
	}

	n := int(math.Ceil(duration / w))
	spans := make([]core.TimeSpan, 0, n)
	for start := 0.0; start < duration; start += w {
		end := start + w
		if end > duration {
			end = duration
		}
		spans = append(spans, core.TimeSpan{Start: start, End: end})
	}
	return spans, nil
}

func segmentByCuts(duration float64, cuts []float64) []core.TimeSpan {
	boundaries := make([]float64, 0, len(cuts)+2)
	boundaries = append(boundaries, 0)
	for _, c := range cuts {
		if c > 0 && c < duration {
			boundaries = append(boundaries, c)
		}
	}
	boundaries = append(boundaries, duration)
	sort.Float64s(boundaries)

	spans := make([]core.TimeSpan, 0, len(boundaries)-1)
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] == boundaries[i-1] {
			continue
		}
		spans = append(spans, core.TimeSpan{Start: boundaries[i-1], End: boundaries[i]})
	}
	return spans
}

// SegmentationFingerprint hashes the boundary list. Pipelines carry it with
// their detections so fusion can reject streams produced from disagreeing
// segmentations.
func SegmentationFingerprint(spans []core.TimeSpan) string {
	var b strings.Builder
	for _, s := range spans {
		fmt.Fprintf(&b, "%.6f:%.6f;", s.Start, s.End)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:8])
}
