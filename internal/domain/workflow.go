package domain

import (
	"fmt"
	"time"
)

// Stage is the workflow-level progress marker. It is never assigned directly
// by a command; ComputeStage derives it from the aggregate after every item
// transition.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageScript         Stage = "script"
	StageScriptDone     Stage = "script_done"
	StageParsingDone    Stage = "parsing_done"
	StageCharactersDone Stage = "characters_done"
	StageScenesDone     Stage = "scenes_done"
	StageVideosDone     Stage = "videos_done"
	StageMerging        Stage = "merging"
	StageCompleted      Stage = "completed"
	StageFailed         Stage = "failed"
)

// WorkflowStatus is the overall run state of a workflow.
type WorkflowStatus string

const (
	WorkflowIdle        WorkflowStatus = "idle"
	WorkflowRunning     WorkflowStatus = "running"
	WorkflowWaiting     WorkflowStatus = "waiting"
	WorkflowCompleted   WorkflowStatus = "completed"
	WorkflowPartial     WorkflowStatus = "partial"
	WorkflowInterrupted WorkflowStatus = "interrupted"
	WorkflowStopped     WorkflowStatus = "stopped"
	WorkflowFailed      WorkflowStatus = "failed"
)

// Active reports whether a workflow still has resumable state.
func (s WorkflowStatus) Active() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowStopped:
		return false
	default:
		return true
	}
}

// ChatRole labels transcript entries.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
	ChatRoleSystem    ChatRole = "system"
)

type ChatMessage struct {
	Role      ChatRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Workflow is the aggregate root of one production run. It is owned by a
// single orchestrator while active and mirrored as a whole to the persistence
// store after every state-affecting transition.
type Workflow struct {
	ID             string         `json:"id"`
	OwnerKey       string         `json:"ownerKey"`
	Title          string         `json:"title"`
	Idea           string         `json:"idea,omitempty"`
	SourceVideoURL string         `json:"sourceVideoUrl,omitempty"`
	Script         string         `json:"script,omitempty"`
	Parsed         bool           `json:"parsed"`
	Stage          Stage          `json:"stage"`
	Status         WorkflowStatus `json:"status"`
	StageFailure   string         `json:"stageFailure,omitempty"`

	Characters []*Character `json:"characters"`
	Scenes     []*Scene     `json:"scenes"`
	Videos     []*Video     `json:"videos"`

	Merge     Lifecycle `json:"merge"`
	MergedURL string    `json:"mergedUrl,omitempty"`
	CoverURL  string    `json:"coverUrl,omitempty"`

	Chat []ChatMessage `json:"chat"`

	// Epochs increase monotonically per item kind on every batch dispatch so
	// completions from a superseded batch can be discarded.
	Epochs map[ItemKind]uint64 `json:"epochs,omitempty"`

	// NextSeq feeds id assignment for manually added items; ids are assigned
	// once and never reused, even after deletion.
	NextSeq int `json:"nextSeq"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NextID assigns the next item id under the given prefix. Ids are assigned
// once and never reused, even after deletion.
func (w *Workflow) NextID(prefix string) string {
	w.NextSeq++
	return fmt.Sprintf("%s-%d", prefix, w.NextSeq)
}

// Epoch returns the current dispatch epoch for a kind.
func (w *Workflow) Epoch(kind ItemKind) uint64 {
	if w.Epochs == nil {
		return 0
	}
	return w.Epochs[kind]
}

// BumpEpoch advances the dispatch epoch for a kind and returns the new value.
func (w *Workflow) BumpEpoch(kind ItemKind) uint64 {
	if w.Epochs == nil {
		w.Epochs = make(map[ItemKind]uint64)
	}
	w.Epochs[kind]++
	return w.Epochs[kind]
}

// CharacterByID returns the character with the given id, or nil.
func (w *Workflow) CharacterByID(id string) *Character {
	for _, c := range w.Characters {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// SceneByID returns the scene with the given id, or nil.
func (w *Workflow) SceneByID(id string) *Scene {
	for _, s := range w.Scenes {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// VideoByID returns the video with the given id, or nil.
func (w *Workflow) VideoByID(id string) *Video {
	for _, v := range w.Videos {
		if v.ID == id {
			return v
		}
	}
	return nil
}

// VideoForScene returns the video item bound to the given scene, or nil.
func (w *Workflow) VideoForScene(sceneID string) *Video {
	for _, v := range w.Videos {
		if v.SceneID == sceneID {
			return v
		}
	}
	return nil
}

// AddChat appends a transcript entry.
func (w *Workflow) AddChat(role ChatRole, content string) {
	w.Chat = append(w.Chat, ChatMessage{Role: role, Content: content, CreatedAt: time.Now().UTC()})
}
