// Package script turns a free-form idea or source-video summary into a shot
// script and parses the provider's JSON reply into character and scene lists.
package script

import (
	"context"
	"fmt"
	"strings"

	"server/internal/providers/genai"
)

// Request describes one script generation call.
type Request struct {
	Idea           string
	SourceVideoURL string
	Style          string
	SceneCount     int
	WorkflowID     string
}

// Generator produces the raw script text for a request.
type Generator interface {
	GenerateScript(ctx context.Context, req Request) (string, error)
}

// GenAIGenerator implements Generator on the genai client.
type GenAIGenerator struct {
	client *genai.Client
}

func NewGenAIGenerator(client *genai.Client) *GenAIGenerator {
	return &GenAIGenerator{client: client}
}

const systemPrompt = `You are a short-form video director. Reply with a single JSON object:
{
  "title": string,
  "characters": [{"name": string, "prompt": string}],
  "scenes": [{"imagePrompt": string, "videoPrompt": string, "durationSecs": number}]
}
Character prompts describe a reference sheet for a consistent look across scenes.
Scene image prompts describe the first frame; video prompts describe the motion.`

func (g *GenAIGenerator) GenerateScript(ctx context.Context, req Request) (string, error) {
	var b strings.Builder
	if idea := strings.TrimSpace(req.Idea); idea != "" {
		b.WriteString("Idea: ")
		b.WriteString(idea)
		b.WriteString("\n")
	}
	if src := strings.TrimSpace(req.SourceVideoURL); src != "" {
		b.WriteString("Source video to adapt: ")
		b.WriteString(src)
		b.WriteString("\n")
	}
	if style := strings.TrimSpace(req.Style); style != "" {
		b.WriteString("Visual style: ")
		b.WriteString(style)
		b.WriteString("\n")
	}
	if req.SceneCount > 0 {
		fmt.Fprintf(&b, "Number of scenes: %d\n", req.SceneCount)
	}

	return g.client.GenerateText(ctx, genai.TextRequest{
		Prompt:    b.String(),
		System:    systemPrompt,
		JSON:      true,
		RequestID: req.WorkflowID,
	})
}

var _ Generator = (*GenAIGenerator)(nil)
