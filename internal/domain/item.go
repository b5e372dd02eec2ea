package domain

import "time"

// ItemKind identifies which ordered collection of a workflow an item belongs to.
type ItemKind string

const (
	KindCharacter ItemKind = "character"
	KindScene     ItemKind = "scene"
	KindVideo     ItemKind = "video"
)

// ItemStatus enumerates the per-item generation lifecycle states.
type ItemStatus string

const (
	ItemPending     ItemStatus = "pending"
	ItemGenerating  ItemStatus = "generating"
	ItemSubmitting  ItemStatus = "submitting"
	ItemPolling     ItemStatus = "polling"
	ItemUploading   ItemStatus = "uploading"
	ItemDone        ItemStatus = "done"
	ItemError       ItemStatus = "error"
	ItemInterrupted ItemStatus = "interrupted"
)

// Terminal reports whether the status is a resting state that ends a job.
func (s ItemStatus) Terminal() bool {
	switch s {
	case ItemDone, ItemError:
		return true
	default:
		return false
	}
}

// InFlight reports whether an interrupted process may have abandoned work in
// this state. Used by resume reclassification.
func (s ItemStatus) InFlight() bool {
	switch s {
	case ItemGenerating, ItemSubmitting, ItemPolling, ItemUploading:
		return true
	default:
		return false
	}
}

// Lifecycle carries the generation state shared by every item kind. Artifact
// URLs returned by providers are ephemeral; StorageURL is the durable copy and
// the only reference that survives a session.
type Lifecycle struct {
	Status      ItemStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	TaskHandle  string     `json:"taskHandle,omitempty"`
	ArtifactURL string     `json:"artifactUrl,omitempty"`
	StorageURL  string     `json:"storageUrl,omitempty"`
	StartedAt   time.Time  `json:"startedAt,omitempty"`
}

// Character is a reference-image subject parsed from the script or added by
// the user. Never deleted implicitly.
type Character struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
	Lifecycle
}

// Scene owns the per-shot image generation. Its video counterpart is the Video
// item bound by SceneID; splitting the two lifecycles keeps a single source of
// truth for each job.
type Scene struct {
	ID          string    `json:"id"`
	ImagePrompt string    `json:"imagePrompt"`
	VideoPrompt string    `json:"videoPrompt"`
	Model       string    `json:"model,omitempty"`
	Duration    int       `json:"duration,omitempty"`
	Image       Lifecycle `json:"image"`
}

// Video is the image-to-video job for one scene. FirstFrameURL is required at
// submission time; LastFrameURL is optional and model-dependent.
type Video struct {
	ID            string `json:"id"`
	SceneID       string `json:"sceneId"`
	SceneIndex    int    `json:"sceneIndex"`
	Prompt        string `json:"prompt"`
	Model         string `json:"model,omitempty"`
	Duration      int    `json:"duration,omitempty"`
	FirstFrameURL string `json:"firstFrameUrl"`
	LastFrameURL  string `json:"lastFrameUrl,omitempty"`
	Lifecycle
}

// ItemOverrides carries optional replacement parameters supplied with a user
// retry. Non-empty fields overwrite the stored ones before re-dispatch.
type ItemOverrides struct {
	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`
	Aspect string `json:"aspect,omitempty"`
}
