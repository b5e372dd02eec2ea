package domain

import "context"

// WorkflowRepository persists whole aggregates keyed by workflow id. Save is a
// single last-writer-wins write; a crash mid-save must never leave a partial
// aggregate visible.
type WorkflowRepository interface {
	Save(ctx context.Context, w *Workflow) error
	Load(ctx context.Context, id string) (*Workflow, error)
	ListActive(ctx context.Context) ([]*Workflow, error)
	ListActiveForOwner(ctx context.Context, ownerKey string) ([]*Workflow, error)
	ListForOwner(ctx context.Context, ownerKey string) ([]*Workflow, error)
	Delete(ctx context.Context, id string) error
}

// ObjectStore re-hosts ephemeral provider artifacts onto durable storage and
// returns the durable URL.
type ObjectStore interface {
	PutBytes(ctx context.Context, key string, data []byte, contentType string) (string, error)
	PutURL(ctx context.Context, key string, sourceURL string) (string, error)
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Merger concatenates the ordered scene clips into one output. Implementations
// fail over to progressively degraded strategies internally; callers only see
// success or failure.
type Merger interface {
	Merge(ctx context.Context, workflowID string, videoURLs []string) (string, error)
}
