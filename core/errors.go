package core

import "fmt"

// SegmentationError means the duration or window configuration was invalid.
// Fatal: the job aborts before any analysis starts.
type SegmentationError struct {
	Duration float64
	Window   float64
	Reason   string
}

func (e *SegmentationError) Error() string {
	return fmt.Sprintf("segmentation failed (duration=%.3fs window=%.3fs): %s", e.Duration, e.Window, e.Reason)
}

// SegmentAnalysisError is a per-segment analyzer failure. Non-fatal: the
// pipeline records it and moves on, preferring partial coverage over total
// failure.
type SegmentAnalysisError struct {
	Span     TimeSpan
	Modality Modality
	Cause    error
}

func (e *SegmentAnalysisError) Error() string {
	return fmt.Sprintf("%s analysis failed for [%.2f, %.2f]: %v", e.Modality, e.Span.Start, e.Span.End, e.Cause)
}

func (e *SegmentAnalysisError) Unwrap() error { return e.Cause }

// FusionInputMismatchError means the detection streams were produced from
// disagreeing segmentations — a Segmenter contract violation upstream.
// Fatal for the video's job.
type FusionInputMismatchError struct {
	VideoID string
	Want    string
	Got     string
}

func (e *FusionInputMismatchError) Error() string {
	return fmt.Sprintf("fusion input mismatch for video %s: segmentation fingerprint %s != %s", e.VideoID, e.Got, e.Want)
}

// EmptyTimelineError is returned when a query arrives before fusion and
// indexing have completed for the target video. Retryable.
type EmptyTimelineError struct {
	VideoID string
}

func (e *EmptyTimelineError) Error() string {
	return fmt.Sprintf("no timeline published for video %s", e.VideoID)
}

// IndexStaleError is returned when a query pins an index version that has
// since been superseded by a rebuild; callers retry against Current.
type IndexStaleError struct {
	VideoID   string
	Requested int
	Current   int
}

func (e *IndexStaleError) Error() string {
	return fmt.Sprintf("index version %d for video %s is stale (current %d)", e.Requested, e.VideoID, e.Current)
}
