package image

import (
	"context"

	"server/internal/providers/genai"
)

// GenAIGenerator adapts the genai client to the image Generator contract.
type GenAIGenerator struct {
	client *genai.Client
}

func NewGenAIGenerator(client *genai.Client) *GenAIGenerator {
	return &GenAIGenerator{client: client}
}

func (g *GenAIGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := g.client.GenerateImage(ctx, genai.ImageRequest{
		Prompt:        req.Prompt,
		AspectRatio:   req.AspectRatio,
		ReferenceURLs: req.ReferenceURLs,
		RequestID:     req.RequestID,
	})
	if err != nil {
		return nil, err
	}
	return &Result{Data: res.Data, URL: res.URL, Format: res.Format}, nil
}

var _ Generator = (*GenAIGenerator)(nil)
