package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"server/internal/domain"
	"server/internal/providers/image"
	"server/internal/providers/video"
)

// errStale marks a job whose batch epoch was superseded. The job's result is
// discarded and never written back to the aggregate.
var errStale = errors.New("stale batch epoch")

// errGone marks a job whose item was deleted while the job was queued or in
// flight. Treated exactly like a stale epoch.
var errGone = errors.New("item deleted")

// discarded reports whether a job outcome must be dropped without touching
// the aggregate.
func discarded(err error) bool {
	return err == errStale || err == errGone
}

// imageJob runs one synchronous image generation through its lifecycle:
// generate, upload to durable storage, done. Characters render standalone;
// scene images attach the finished character references.
func (e *Engine) imageJob(ctx context.Context, kind domain.ItemKind, itemID string, epoch uint64) error {
	var req image.Request
	var wfID string
	err := e.mutate(func(w *domain.Workflow) error {
		if w.Epoch(kind) != epoch {
			return errStale
		}
		it := findItem(w, kind, itemID)
		if it == nil {
			return errGone
		}
		if it.lifecycle.Status == domain.ItemInterrupted {
			if err := fire(it.lifecycle, triggerReset); err != nil {
				return err
			}
		}
		if err := fire(it.lifecycle, triggerGenerate); err != nil {
			return err
		}
		it.lifecycle.Error = ""
		it.lifecycle.StartedAt = time.Now().UTC()

		wfID = w.ID
		req = image.Request{RequestID: itemID, AspectRatio: "9:16"}
		switch kind {
		case domain.KindCharacter:
			req.Prompt = w.CharacterByID(itemID).Prompt
		case domain.KindScene:
			req.Prompt = w.SceneByID(itemID).ImagePrompt
			for _, c := range w.Characters {
				if c.StorageURL != "" {
					req.ReferenceURLs = append(req.ReferenceURLs, c.StorageURL)
				}
			}
		}
		return nil
	})
	if err != nil {
		if discarded(err) {
			return nil
		}
		return err
	}
	if req.Prompt == "" {
		return e.failItem(kind, itemID, epoch, domain.ErrMissingPrompt)
	}

	var res *image.Result
	err = e.policy().call(ctx, func(ctx context.Context) error {
		var gerr error
		res, gerr = e.deps.Images.Generate(ctx, req)
		return gerr
	})
	if err != nil {
		if cerr := cancelCause(ctx); cerr != nil {
			return e.interruptItem(kind, itemID, epoch, cerr)
		}
		return e.failItem(kind, itemID, epoch, err)
	}
	if len(res.Data) == 0 && res.URL == "" {
		return e.failItem(kind, itemID, epoch, fmt.Errorf("%w: image result carries no artifact", domain.ErrProviderFailure))
	}

	if err := e.transitionItem(kind, itemID, epoch, triggerUpload, nil); err != nil {
		return err
	}

	key := fmt.Sprintf("workflows/%s/%ss/%s.png", wfID, kind, itemID)
	var storageURL string
	if len(res.Data) > 0 {
		storageURL, err = e.deps.Store.PutBytes(ctx, key, res.Data, res.Format)
	} else {
		storageURL, err = e.deps.Store.PutURL(ctx, key, res.URL)
	}
	if err != nil {
		if cerr := cancelCause(ctx); cerr != nil {
			return e.interruptItem(kind, itemID, epoch, cerr)
		}
		return e.failItem(kind, itemID, epoch, err)
	}

	return e.transitionItem(kind, itemID, epoch, triggerFinish, func(lc *domain.Lifecycle) {
		lc.ArtifactURL = res.URL
		lc.StorageURL = storageURL
	})
}

// videoJob runs one asynchronous video generation: submit for a task handle,
// poll it to completion, re-host the clip. An interrupted item that already
// holds a handle re-attaches to polling and never submits twice.
func (e *Engine) videoJob(ctx context.Context, itemID string, epoch uint64) error {
	kind := domain.KindVideo
	var req video.SubmitRequest
	var wfID, handle string
	err := e.mutate(func(w *domain.Workflow) error {
		if w.Epoch(kind) != epoch {
			return errStale
		}
		v := w.VideoByID(itemID)
		if v == nil {
			return errGone
		}
		scene := w.SceneByID(v.SceneID)
		if scene != nil && scene.Image.StorageURL != "" {
			v.FirstFrameURL = scene.Image.StorageURL
		}

		switch v.Status {
		case domain.ItemInterrupted:
			if v.TaskHandle != "" {
				// Outcome of the abandoned submission is unknown; re-attach.
				handle = v.TaskHandle
				return fire(&v.Lifecycle, triggerPoll)
			}
			if err := fire(&v.Lifecycle, triggerReset); err != nil {
				return err
			}
			fallthrough
		default:
			if err := fire(&v.Lifecycle, triggerSubmit); err != nil {
				return err
			}
		}
		v.Error = ""
		v.StartedAt = time.Now().UTC()
		wfID = w.ID
		req = video.SubmitRequest{
			Prompt:        v.Prompt,
			FirstFrameURL: v.FirstFrameURL,
			LastFrameURL:  v.LastFrameURL,
			DurationSecs:  v.Duration,
			Model:         v.Model,
			RequestID:     itemID,
		}
		return nil
	})
	if err != nil {
		if discarded(err) {
			return nil
		}
		return err
	}

	if handle == "" {
		err = e.policy().call(ctx, func(ctx context.Context) error {
			var serr error
			handle, serr = e.deps.Videos.Submit(ctx, req)
			return serr
		})
		if err != nil {
			if cerr := cancelCause(ctx); cerr != nil {
				return e.interruptItem(kind, itemID, epoch, cerr)
			}
			return e.failItem(kind, itemID, epoch, err)
		}
		// Persist the handle before the first poll so a crash here can still
		// re-attach instead of resubmitting.
		if err := e.transitionItem(kind, itemID, epoch, triggerPoll, func(lc *domain.Lifecycle) {
			lc.TaskHandle = handle
		}); err != nil {
			return err
		}
	}

	artifactURL, err := e.poller().wait(ctx, handle)
	if err != nil {
		switch {
		case cancelCause(ctx) != nil:
			return e.interruptItem(kind, itemID, epoch, cancelCause(ctx))
		case errors.Is(err, domain.ErrPollTimeout):
			// Unknown outcome, keep the handle for a later re-attach.
			return e.interruptItem(kind, itemID, epoch, err)
		default:
			return e.failItem(kind, itemID, epoch, err)
		}
	}

	if err := e.transitionItem(kind, itemID, epoch, triggerUpload, func(lc *domain.Lifecycle) {
		lc.ArtifactURL = artifactURL
	}); err != nil {
		return err
	}

	key := fmt.Sprintf("workflows/%s/videos/%s.mp4", wfID, itemID)
	storageURL, err := e.deps.Store.PutURL(ctx, key, artifactURL)
	if err != nil {
		if cerr := cancelCause(ctx); cerr != nil {
			return e.interruptItem(kind, itemID, epoch, cerr)
		}
		return e.failItem(kind, itemID, epoch, err)
	}

	return e.transitionItem(kind, itemID, epoch, triggerFinish, func(lc *domain.Lifecycle) {
		lc.StorageURL = storageURL
	})
}

// transitionItem fires one lifecycle trigger and applies an optional update,
// under the stale-epoch and deleted-item guards.
func (e *Engine) transitionItem(kind domain.ItemKind, itemID string, epoch uint64, trigger string, update func(lc *domain.Lifecycle)) error {
	err := e.mutate(func(w *domain.Workflow) error {
		if w.Epoch(kind) != epoch {
			return errStale
		}
		it := findItem(w, kind, itemID)
		if it == nil {
			return errGone
		}
		if err := fire(it.lifecycle, trigger); err != nil {
			return err
		}
		if update != nil {
			update(it.lifecycle)
		}
		return nil
	})
	if discarded(err) {
		return nil
	}
	return err
}

// failItem records a terminal item error and returns jobErr.
func (e *Engine) failItem(kind domain.ItemKind, itemID string, epoch uint64, jobErr error) error {
	e.log.Warn().Err(jobErr).Str("kind", string(kind)).Str("item_id", itemID).Msg("item failed")
	if terr := e.transitionItem(kind, itemID, epoch, triggerFail, func(lc *domain.Lifecycle) {
		lc.Error = jobErr.Error()
		lc.TaskHandle = ""
	}); terr != nil {
		return terr
	}
	return jobErr
}

// interruptItem parks an item whose job was cancelled or timed out. The task
// handle, when present, survives for resume.
func (e *Engine) interruptItem(kind domain.ItemKind, itemID string, epoch uint64, cause error) error {
	if terr := e.transitionItem(kind, itemID, epoch, triggerInterrupt, func(lc *domain.Lifecycle) {
		lc.Error = cause.Error()
	}); terr != nil {
		return terr
	}
	return cause
}

func findItem(w *domain.Workflow, kind domain.ItemKind, itemID string) *itemRef {
	for _, it := range itemsOfKind(w, kind) {
		if it.id == itemID {
			ref := it
			return &ref
		}
	}
	return nil
}
