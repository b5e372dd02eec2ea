package video

import "context"

// SubmitRequest describes one image-to-video job submission.
type SubmitRequest struct {
	Prompt        string
	FirstFrameURL string
	LastFrameURL  string
	DurationSecs  int
	Model         string
	RequestID     string
}

// TaskState is the normalized provider job status.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	// TaskUnavailable is the provider's no-resource answer: the job never ran
	// and may be resubmitted by the user. It is deliberately distinct from
	// TaskFailed.
	TaskUnavailable TaskState = "unavailable"
)

// Terminal reports whether the state ends polling.
func (s TaskState) Terminal() bool {
	return s != TaskPending
}

// StatusResult is one poll outcome for a task handle.
type StatusResult struct {
	State       TaskState
	ArtifactURL string
	Message     string
}

// Generator submits an asynchronous generation job and returns its opaque
// task handle.
type Generator interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

// StatusEndpoint performs one status check against a task handle.
type StatusEndpoint interface {
	Status(ctx context.Context, handle string) (*StatusResult, error)
}
