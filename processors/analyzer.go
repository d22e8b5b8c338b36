package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
)

// VideoRef identifies the video being analyzed at the ingestion boundary.
// The media itself lives behind the external analyzer services; the service
// only carries identity and duration metadata.
type VideoRef struct {
	VideoID  string  `json:"video_id"`
	Duration float64 `json:"duration"`
	Source   string  `json:"source,omitempty"`
}

// SegmentAnalyzer is the capability both pipelines implement. Segments may
// be analyzed out of order and concurrently; implementations must not
// assume anything about sibling segments. Fusion depends only on this
// contract, so further modalities (on-screen text, etc.) slot in without
// touching fusion logic.
type SegmentAnalyzer interface {
	Modality() core.Modality
	Analyze(ctx context.Context, video VideoRef, segment core.TimeSpan) ([]core.RawDetection, error)
}

func openaiClient(cfg *config.Config) *openai.Client {
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(conf)
}

// detectionJSON is the wire shape both analyzer prompts ask the model for.
type detectionJSON struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Kind        string  `json:"kind,omitempty"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// parseDetections decodes the model's JSON array, tolerating markdown code
// fences, then clamps spans into the segment and applies defaults.
func parseDetections(raw string, modality core.Modality, defaultKind string, segment core.TimeSpan) ([]core.RawDetection, error) {
	raw = strings.TrimSpace(raw)
	if i := strings.Index(raw, "["); i >= 0 {
		if j := strings.LastIndex(raw, "]"); j > i {
			raw = raw[i : j+1]
		}
	}

	var rows []detectionJSON
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("parse analyzer output: %w", err)
	}

	dets := make([]core.RawDetection, 0, len(rows))
	for _, r := range rows {
		if strings.TrimSpace(r.Description) == "" {
			continue
		}
		span := clampSpan(core.TimeSpan{Start: r.Start, End: r.End}, segment)
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = 1.0
		}
		kind := strings.TrimSpace(r.Kind)
		if kind == "" {
			kind = defaultKind
		}
		dets = append(dets, core.RawDetection{
			ID:          fmt.Sprintf("%s-%s", modality, core.NewID()),
			Span:        span,
			Modality:    modality,
			Kind:        kind,
			Description: strings.TrimSpace(r.Description),
			Confidence:  conf,
		})
	}
	return dets, nil
}

func clampSpan(s, within core.TimeSpan) core.TimeSpan {
	if s.Start < within.Start {
		s.Start = within.Start
	}
	if s.End > within.End {
		s.End = within.End
	}
	if s.End < s.Start {
		s.End = s.Start
	}
	return s
}
