package processors

import (
	"context"
	"log"
	"sync"

	"vidcrawl/core"
)

// PipelineResult is one modality's terminal state for a video: every
// segment attempted, detections collected, failures recorded. The
// fingerprint ties the stream back to the segmentation it was produced
// from.
type PipelineResult struct {
	Modality    core.Modality
	Detections  []core.RawDetection
	Failures    []core.SegmentFailure
	Fingerprint string
}

// RunAnalysis runs every analyzer over the shared segmentation. Pipelines
// run as independent concurrent tasks; within a pipeline, per-segment calls
// run concurrently up to the workers cap, in no particular order. A
// per-segment failure is recorded and skipped; it never aborts the video.
// Returns only when every pipeline has reached a terminal state, so the
// caller can fuse without ever seeing a partial stream. On cancellation all
// in-flight calls are cancelled and every collected detection is discarded.
func RunAnalysis(ctx context.Context, video VideoRef, segments []core.TimeSpan, analyzers []SegmentAnalyzer, workers int) ([]PipelineResult, error) {
	if workers <= 0 {
		workers = 4
	}
	fp := SegmentationFingerprint(segments)

	results := make([]PipelineResult, len(analyzers))
	var wg sync.WaitGroup
	for i, an := range analyzers {
		wg.Add(1)
		go func(i int, an SegmentAnalyzer) {
			defer wg.Done()
			results[i] = runPipeline(ctx, video, segments, an, workers, fp)
		}(i, an)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		// Cancelled: nothing collected so far may be published.
		return nil, err
	}
	return results, nil
}

func runPipeline(ctx context.Context, video VideoRef, segments []core.TimeSpan, an SegmentAnalyzer, workers int, fp string) PipelineResult {
	res := PipelineResult{Modality: an.Modality(), Fingerprint: fp}

	sem := make(chan struct{}, workers)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(seg core.TimeSpan) {
			defer wg.Done()
			defer func() { <-sem }()

			dets, err := an.Analyze(ctx, video, seg)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failures = append(res.Failures, core.SegmentFailure{
					Span:     seg,
					Modality: an.Modality(),
					Cause:    err.Error(),
				})
				return
			}
			res.Detections = append(res.Detections, dets...)
		}(seg)
	}
	wg.Wait()

	log.Printf("pipeline %s finished for video %s: %d detections, %d failed segments",
		res.Modality, video.VideoID, len(res.Detections), len(res.Failures))
	return res
}
