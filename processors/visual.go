package processors

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"vidcrawl/config"
	"vidcrawl/core"
)

// VisualAnalyzer asks the vision service for timestamped event captions
// over one window's keyframes. Prompting follows the sports-analyst shape:
// a typed vocabulary of significant moments plus a free-text description.
type VisualAnalyzer struct {
	cfg *config.Config
	cli *openai.Client
}

func NewVisualAnalyzer(cfg *config.Config) *VisualAnalyzer {
	return &VisualAnalyzer{cfg: cfg, cli: openaiClient(cfg)}
}

func (v *VisualAnalyzer) Modality() core.Modality { return core.ModalityVisual }

func (v *VisualAnalyzer) Analyze(ctx context.Context, video VideoRef, segment core.TimeSpan) ([]core.RawDetection, error) {
	if !v.cfg.HasValidAPI() {
		return nil, fmt.Errorf("visual analyzer not configured (missing API key)")
	}

	prompt := fmt.Sprintf(`You are a professional sports video analyst. Analyze the frames of video %q between %.2fs and %.2fs and list each significant moment you observe.
Event types: Goal, Save, Pass, Tackle, Attack, Corner Kick, Throw-in, Scene Change.
Return a JSON array, each element: {"start": <sec>, "end": <sec>, "kind": "<event type>", "description": "<specific details: action, players, outcome>", "confidence": <0..1>}.
Spans must lie within [%.2f, %.2f]. Return [] if nothing significant happens. JSON only, no prose.`,
		video.Source, segment.Start, segment.End, segment.Start, segment.End)

	resp, err := v.cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: v.cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   2000,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, fmt.Errorf("visual analysis call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("visual analysis returned no choices")
	}

	return parseDetections(resp.Choices[0].Message.Content, core.ModalityVisual, "Scene", segment)
}
