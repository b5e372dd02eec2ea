package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"server/internal/domain"
	"server/internal/providers/script"
)

// Commands mutate the aggregate. Additions, reorders, retries, and chat are
// rejected while a run is active; deletes and batch regeneration may land
// mid-run and rely on the epoch and item-id guards to discard superseded
// results. The engine is the only writer either way.

// guardIdle rejects a command while a run is in progress.
func (e *Engine) guardIdle() error {
	if e.Running() {
		return domain.ErrWorkflowActive
	}
	return nil
}

// RetryItem resets one failed, interrupted, or finished item back to pending,
// applies any overrides, and resumes the run. The rest of the aggregate keeps
// its finished work.
func (e *Engine) RetryItem(ctx context.Context, kind domain.ItemKind, itemID string, ov domain.ItemOverrides) error {
	if err := e.guardIdle(); err != nil {
		return err
	}
	err := e.mutate(func(w *domain.Workflow) error {
		it := findItem(w, kind, itemID)
		if it == nil {
			return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, itemID)
		}
		if err := fire(it.lifecycle, triggerReset); err != nil {
			return err
		}
		*it.lifecycle = domain.Lifecycle{Status: domain.ItemPending}
		applyOverrides(w, kind, itemID, ov)
		invalidateMerge(w)
		w.Status = domain.WorkflowWaiting
		return nil
	})
	if err != nil {
		return err
	}
	return e.Start(ctx)
}

// BatchRegenerate discards every item of one kind and reruns the batch under
// a new epoch. Allowed mid-run: results still in flight from the old epoch are
// discarded on arrival, and the active run sweeps the reset items up on its
// next pass.
func (e *Engine) BatchRegenerate(ctx context.Context, kind domain.ItemKind) error {
	err := e.mutate(func(w *domain.Workflow) error {
		items := itemsOfKind(w, kind)
		if len(items) == 0 {
			return fmt.Errorf("%w: no %s items", domain.ErrNotFound, kind)
		}
		w.BumpEpoch(kind)
		for _, it := range items {
			*it.lifecycle = domain.Lifecycle{Status: domain.ItemPending}
		}
		invalidateMerge(w)
		if !e.running {
			w.Status = domain.WorkflowWaiting
		}
		return nil
	})
	if err != nil {
		return err
	}
	if e.Running() {
		return nil
	}
	return e.Start(ctx)
}

// AddCharacter appends a user-defined character.
func (e *Engine) AddCharacter(name, prompt string) error {
	if err := e.guardIdle(); err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" {
		return domain.ErrMissingPrompt
	}
	return e.mutate(func(w *domain.Workflow) error {
		w.Characters = append(w.Characters, &domain.Character{
			ID:     w.NextID("chr"),
			Name:   name,
			Prompt: prompt,
		})
		return nil
	})
}

// AddSceneParams describes a user-inserted scene. Position is the index the
// scene lands at; out-of-range appends.
type AddSceneParams struct {
	ImagePrompt string
	VideoPrompt string
	Duration    int
	Position    int
}

// AddScene inserts a scene. The derived video item appears on the next run.
func (e *Engine) AddScene(p AddSceneParams) error {
	if err := e.guardIdle(); err != nil {
		return err
	}
	if strings.TrimSpace(p.ImagePrompt) == "" || strings.TrimSpace(p.VideoPrompt) == "" {
		return domain.ErrMissingPrompt
	}
	return e.mutate(func(w *domain.Workflow) error {
		s := &domain.Scene{
			ID:          w.NextID("scn"),
			ImagePrompt: p.ImagePrompt,
			VideoPrompt: p.VideoPrompt,
			Duration:    p.Duration,
		}
		if p.Position < 0 || p.Position >= len(w.Scenes) {
			w.Scenes = append(w.Scenes, s)
		} else {
			w.Scenes = append(w.Scenes[:p.Position], append([]*domain.Scene{s}, w.Scenes[p.Position:]...)...)
		}
		reindexVideos(w)
		invalidateMerge(w)
		return nil
	})
}

// DeleteItem removes an item. Deleting a scene also removes its video.
// Allowed mid-run: a job still in flight for the item discards its completion
// when it finds the item gone.
func (e *Engine) DeleteItem(kind domain.ItemKind, itemID string) error {
	return e.mutate(func(w *domain.Workflow) error {
		switch kind {
		case domain.KindCharacter:
			for i, c := range w.Characters {
				if c.ID == itemID {
					w.Characters = append(w.Characters[:i], w.Characters[i+1:]...)
					return nil
				}
			}
		case domain.KindScene:
			for i, s := range w.Scenes {
				if s.ID == itemID {
					w.Scenes = append(w.Scenes[:i], w.Scenes[i+1:]...)
					if v := w.VideoForScene(itemID); v != nil {
						deleteVideo(w, v.ID)
					}
					reindexVideos(w)
					invalidateMerge(w)
					return nil
				}
			}
		case domain.KindVideo:
			if w.VideoByID(itemID) != nil {
				deleteVideo(w, itemID)
				invalidateMerge(w)
				return nil
			}
		}
		return fmt.Errorf("%w: %s %s", domain.ErrNotFound, kind, itemID)
	})
}

// ReorderScenes rearranges scenes to the given id order. The order must be a
// permutation of the current scene ids.
func (e *Engine) ReorderScenes(order []string) error {
	if err := e.guardIdle(); err != nil {
		return err
	}
	return e.mutate(func(w *domain.Workflow) error {
		if len(order) != len(w.Scenes) {
			return fmt.Errorf("order lists %d scenes, workflow has %d", len(order), len(w.Scenes))
		}
		next := make([]*domain.Scene, 0, len(order))
		for _, id := range order {
			s := w.SceneByID(id)
			if s == nil {
				return fmt.Errorf("%w: scene %s", domain.ErrNotFound, id)
			}
			for _, seen := range next {
				if seen.ID == id {
					return fmt.Errorf("duplicate scene id %s", id)
				}
			}
			next = append(next, s)
		}
		w.Scenes = next
		reindexVideos(w)
		invalidateMerge(w)
		return nil
	})
}

// Chat records a user message. Before any generation work has started the
// message is treated as script feedback and the script is regenerated with
// the full transcript; afterwards it is only recorded.
func (e *Engine) Chat(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return domain.ErrMissingPrompt
	}
	if err := e.guardIdle(); err != nil {
		return err
	}

	var req script.Request
	var revisable bool
	err := e.mutate(func(w *domain.Workflow) error {
		w.AddChat(domain.ChatRoleUser, message)
		revisable = w.Script != "" && !workStarted(w)
		if revisable {
			req = script.Request{
				Idea:           w.Idea + "\n" + transcriptFeedback(w),
				SourceVideoURL: w.SourceVideoURL,
				WorkflowID:     w.ID,
			}
		}
		return nil
	})
	if err != nil || !revisable {
		return err
	}

	var raw string
	err = e.policy().call(ctx, func(ctx context.Context) error {
		var gerr error
		raw, gerr = e.deps.Script.GenerateScript(ctx, req)
		return gerr
	})
	if err != nil {
		return fmt.Errorf("script revision: %w", err)
	}
	return e.mutate(func(w *domain.Workflow) error {
		w.Script = raw
		w.Parsed = false
		w.Characters = nil
		w.Scenes = nil
		w.Videos = nil
		w.AddChat(domain.ChatRoleAssistant, raw)
		return nil
	})
}

func applyOverrides(w *domain.Workflow, kind domain.ItemKind, itemID string, ov domain.ItemOverrides) {
	switch kind {
	case domain.KindCharacter:
		if c := w.CharacterByID(itemID); c != nil && ov.Prompt != "" {
			c.Prompt = ov.Prompt
		}
	case domain.KindScene:
		s := w.SceneByID(itemID)
		if s == nil {
			return
		}
		if ov.Prompt != "" {
			s.ImagePrompt = ov.Prompt
		}
		if ov.Model != "" {
			s.Model = ov.Model
		}
	case domain.KindVideo:
		v := w.VideoByID(itemID)
		if v == nil {
			return
		}
		if ov.Prompt != "" {
			v.Prompt = ov.Prompt
		}
		if ov.Model != "" {
			v.Model = ov.Model
		}
	}
}

// invalidateMerge clears a merged output after a structural edit; the next
// successful run rebuilds it.
func invalidateMerge(w *domain.Workflow) {
	w.MergedURL = ""
	w.Merge = domain.Lifecycle{}
	if w.Status == domain.WorkflowCompleted {
		w.Status = domain.WorkflowWaiting
	}
}

func reindexVideos(w *domain.Workflow) {
	for i, s := range w.Scenes {
		if v := w.VideoForScene(s.ID); v != nil {
			v.SceneIndex = i
		}
	}
}

func deleteVideo(w *domain.Workflow, videoID string) {
	for i, v := range w.Videos {
		if v.ID == videoID {
			w.Videos = append(w.Videos[:i], w.Videos[i+1:]...)
			return
		}
	}
}

// workStarted reports whether any item has left the pending state.
func workStarted(w *domain.Workflow) bool {
	for _, kind := range []domain.ItemKind{domain.KindCharacter, domain.KindScene, domain.KindVideo} {
		for _, it := range itemsOfKind(w, kind) {
			if it.lifecycle.Status != "" && it.lifecycle.Status != domain.ItemPending {
				return true
			}
		}
	}
	return false
}

// transcriptFeedback flattens the user side of the chat for script revision.
func transcriptFeedback(w *domain.Workflow) string {
	var b strings.Builder
	for _, m := range w.Chat {
		if m.Role == domain.ChatRoleUser {
			b.WriteString("Feedback: ")
			b.WriteString(m.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}
