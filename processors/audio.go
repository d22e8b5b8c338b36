package processors

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
)

// AudioAnalyzer obtains utterance-level transcripts for one window from the
// speech service. The service is opaque: we send the window reference and
// get back structured detections with per-utterance time spans.
type AudioAnalyzer struct {
	cfg *config.Config
	cli *openai.Client
}

func NewAudioAnalyzer(cfg *config.Config) *AudioAnalyzer {
	return &AudioAnalyzer{cfg: cfg, cli: openaiClient(cfg)}
}

func (a *AudioAnalyzer) Modality() core.Modality { return core.ModalityAudio }

func (a *AudioAnalyzer) Analyze(ctx context.Context, video VideoRef, segment core.TimeSpan) ([]core.RawDetection, error) {
	if !a.cfg.HasValidAPI() {
		return nil, fmt.Errorf("audio analyzer not configured (missing API key)")
	}

	prompt := fmt.Sprintf(`Transcribe the speech in video %q between %.2fs and %.2fs.
Return a JSON array of utterances, each: {"start": <sec>, "end": <sec>, "kind": "dialogue"|"commentary", "description": "<spoken text>", "confidence": <0..1>}.
Spans must lie within [%.2f, %.2f]. Return [] if there is no speech. JSON only, no prose.`,
		video.Source, segment.Start, segment.End, segment.Start, segment.End)

	resp, err := a.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   2000,
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("transcription returned no choices")
	}

	return parseDetections(resp.Choices[0].Message.Content, core.ModalityAudio, "dialogue", segment)
}
