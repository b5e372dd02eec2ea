package video

import (
	"context"

	"server/internal/providers/genai"
)

// GenAIGenerator adapts the genai client's long-running video operations to
// the Generator and StatusEndpoint contracts.
type GenAIGenerator struct {
	client *genai.Client
}

func NewGenAIGenerator(client *genai.Client) *GenAIGenerator {
	return &GenAIGenerator{client: client}
}

func (g *GenAIGenerator) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	return g.client.StartVideo(ctx, genai.VideoRequest{
		Prompt:        req.Prompt,
		FirstFrameURL: req.FirstFrameURL,
		LastFrameURL:  req.LastFrameURL,
		DurationSecs:  req.DurationSecs,
		Model:         req.Model,
		RequestID:     req.RequestID,
	})
}

func (g *GenAIGenerator) Status(ctx context.Context, handle string) (*StatusResult, error) {
	op, err := g.client.GetOperation(ctx, handle)
	if err != nil {
		return nil, err
	}
	return &StatusResult{
		State:       mapState(op.State),
		ArtifactURL: op.ArtifactURL,
		Message:     op.Message,
	}, nil
}

func mapState(s genai.OperationState) TaskState {
	switch s {
	case genai.OperationSucceeded:
		return TaskSucceeded
	case genai.OperationFailed:
		return TaskFailed
	case genai.OperationUnavailable:
		return TaskUnavailable
	default:
		return TaskPending
	}
}

var (
	_ Generator      = (*GenAIGenerator)(nil)
	_ StatusEndpoint = (*GenAIGenerator)(nil)
)
