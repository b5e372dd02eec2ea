// Package orchestrator owns the background production run of a workflow:
// script generation, reference images, scene images, video clips, and the
// final merge. One engine is the single writer of its aggregate; every
// state-affecting transition is checkpointed to the repository as a whole.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/providers/image"
	"server/internal/providers/script"
	"server/internal/providers/video"
)

// Tunables are the orchestration knobs shared by every engine.
type Tunables struct {
	PollInterval   time.Duration
	PollBudget     int
	RetryMax       uint64 // total provider-call attempts, not extra retries
	RetryBaseDelay time.Duration
}

// Deps wires one engine. The dispatcher is shared process-wide so class
// ceilings hold across workflows.
type Deps struct {
	Repo       domain.WorkflowRepository
	Store      domain.ObjectStore
	Script     script.Generator
	Images     image.Generator
	Videos     video.Generator
	Status     video.StatusEndpoint
	Merger     domain.Merger
	Dispatcher *Dispatcher
	Tunables   Tunables
	Logger     zerolog.Logger
}

// Engine drives one workflow. All aggregate access goes through mu; provider
// calls never run under the lock.
type Engine struct {
	deps Deps
	log  zerolog.Logger

	mu      sync.Mutex
	w       *domain.Workflow
	cancel  context.CancelCauseFunc
	running bool

	subMu   sync.Mutex
	subs    map[int]chan *domain.Workflow
	nextSub int
}

func newEngine(w *domain.Workflow, deps Deps) *Engine {
	return &Engine{
		deps: deps,
		log:  deps.Logger.With().Str("workflow_id", w.ID).Logger(),
		w:    w,
		subs: make(map[int]chan *domain.Workflow),
	}
}

// ID returns the workflow id. Immutable, safe without the lock.
func (e *Engine) ID() string { return e.w.ID }

// Snapshot returns a deep copy of the aggregate for read-only use.
func (e *Engine) Snapshot() *domain.Workflow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneWorkflow(e.w)
}

// Subscribe registers a snapshot feed. Every checkpoint publishes a fresh
// deep copy; slow consumers drop intermediate snapshots rather than stall the
// run. The returned func cancels the subscription.
func (e *Engine) Subscribe() (<-chan *domain.Workflow, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan *domain.Workflow, 1)
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if _, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(ch)
		}
	}
}

func (e *Engine) publish(snap *domain.Workflow) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			// Drain the stale snapshot and replace it with the latest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

// mutate applies fn to the aggregate under the lock, recomputes the stage,
// checkpoints, and publishes a snapshot. Persistence uses a detached context
// so a cancelled run still records its final state.
func (e *Engine) mutate(fn func(w *domain.Workflow) error) error {
	e.mu.Lock()
	if err := fn(e.w); err != nil {
		e.mu.Unlock()
		return err
	}
	domain.Recompute(e.w)
	e.w.UpdatedAt = time.Now().UTC()
	snap := cloneWorkflow(e.w)
	e.mu.Unlock()

	ctx, cancelPersist := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPersist()
	if err := e.deps.Repo.Save(ctx, snap); err != nil {
		e.log.Error().Err(err).Msg("checkpoint failed")
	}
	e.publish(snap)
	return nil
}

// read runs fn with the aggregate under the lock without checkpointing.
func (e *Engine) read(fn func(w *domain.Workflow)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.w)
}

// Start launches the background run. Exactly one run per engine at a time.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return domain.ErrWorkflowActive
	}
	if e.w.Status == domain.WorkflowCompleted {
		e.mu.Unlock()
		return domain.ErrWorkflowFinished
	}
	if e.w.Idea == "" && e.w.SourceVideoURL == "" {
		e.mu.Unlock()
		return fmt.Errorf("%w: workflow has no idea or source video", domain.ErrMissingPrompt)
	}
	runCtx, cancel := context.WithCancelCause(context.Background())
	e.cancel = cancel
	e.running = true
	e.w.Status = domain.WorkflowRunning
	e.mu.Unlock()

	if err := e.mutate(func(*domain.Workflow) error { return nil }); err != nil {
		return err
	}
	go e.run(runCtx)
	return nil
}

// Stop cancels the current run. In-flight provider jobs unwind to the
// interrupted state within one poll interval.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return fmt.Errorf("%w: workflow is not running", domain.ErrInvalidTransition)
	}
	e.cancel(domain.ErrStopped)
	return nil
}

// Running reports whether a background run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) run(ctx context.Context) {
	err := e.advance(ctx)

	e.mu.Lock()
	e.running = false
	if e.cancel != nil {
		e.cancel(nil)
		e.cancel = nil
	}
	e.mu.Unlock()

	e.finalize(err)
}

// finalize settles the workflow status once the run goroutine exits.
func (e *Engine) finalize(runErr error) {
	_ = e.mutate(func(w *domain.Workflow) error {
		switch {
		case errors.Is(runErr, domain.ErrStopped):
			w.Status = domain.WorkflowStopped
		case runErr != nil && w.StageFailure != "":
			w.Status = domain.WorkflowFailed
		case runErr != nil:
			w.Status = domain.WorkflowPartial
		default:
			w.Status = domain.Outcome(w)
		}
		return nil
	})
	snap := e.Snapshot()
	e.log.Info().
		Str("status", string(snap.Status)).
		Str("stage", string(snap.Stage)).
		Msg("run finished")
}

// advance walks the pipeline from wherever the aggregate currently stands.
// Each stage is idempotent: finished work is skipped, pending and interrupted
// items are picked up. The run halts without error when a batch leaves items
// in the error state; the user decides whether to retry.
func (e *Engine) advance(ctx context.Context) error {
	if err := e.ensureScript(ctx); err != nil {
		return err
	}
	if err := e.ensureParsed(ctx); err != nil {
		return err
	}

	for _, kind := range []domain.ItemKind{domain.KindCharacter, domain.KindScene} {
		halted, err := e.runImageBatch(ctx, kind)
		if err != nil || halted {
			return err
		}
	}

	e.ensureVideos()
	if halted, err := e.runVideoBatch(ctx); err != nil || halted {
		return err
	}

	if err := e.runMerge(ctx); err != nil {
		return err
	}
	return nil
}

// ensureScript generates the shot script when missing.
func (e *Engine) ensureScript(ctx context.Context) error {
	var req script.Request
	var have bool
	e.read(func(w *domain.Workflow) {
		have = w.Script != ""
		req = script.Request{
			Idea:           w.Idea,
			SourceVideoURL: w.SourceVideoURL,
			WorkflowID:     w.ID,
		}
	})
	if have {
		return nil
	}

	e.log.Info().Msg("generating script")
	var raw string
	err := e.policy().call(ctx, func(ctx context.Context) error {
		var gerr error
		raw, gerr = e.deps.Script.GenerateScript(ctx, req)
		return gerr
	})
	if err != nil {
		if cerr := cancelCause(ctx); cerr != nil {
			return cerr
		}
		ferr := e.mutate(func(w *domain.Workflow) error {
			w.StageFailure = fmt.Sprintf("script generation: %v", err)
			return nil
		})
		if ferr != nil {
			return ferr
		}
		return fmt.Errorf("script generation: %w", err)
	}

	return e.mutate(func(w *domain.Workflow) error {
		w.Script = raw
		w.AddChat(domain.ChatRoleAssistant, raw)
		return nil
	})
}

// ensureParsed materializes characters, scenes, and the title from the script.
func (e *Engine) ensureParsed(ctx context.Context) error {
	var raw string
	var parsed bool
	e.read(func(w *domain.Workflow) {
		raw = w.Script
		parsed = w.Parsed
	})
	if parsed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return cancelCause(ctx)
	}

	s, err := script.Parse(raw)
	if err != nil {
		ferr := e.mutate(func(w *domain.Workflow) error {
			w.StageFailure = fmt.Sprintf("script parsing: %v", err)
			return nil
		})
		if ferr != nil {
			return ferr
		}
		return err
	}

	return e.mutate(func(w *domain.Workflow) error {
		if w.Title == "" {
			w.Title = s.Title
		}
		for _, c := range s.Characters {
			w.Characters = append(w.Characters, &domain.Character{
				ID:     w.NextID("chr"),
				Name:   c.Name,
				Prompt: c.Prompt,
			})
		}
		for _, sc := range s.Scenes {
			w.Scenes = append(w.Scenes, &domain.Scene{
				ID:          w.NextID("scn"),
				ImagePrompt: sc.ImagePrompt,
				VideoPrompt: sc.VideoPrompt,
				Duration:    sc.DurationSecs,
			})
		}
		w.Parsed = true
		return nil
	})
}

// ensureVideos derives one video item per scene that lacks one. First frames
// are resolved at submit time, so items created here before their scene image
// exists are still correct.
func (e *Engine) ensureVideos() {
	_ = e.mutate(func(w *domain.Workflow) error {
		for i, s := range w.Scenes {
			if v := w.VideoForScene(s.ID); v != nil {
				v.SceneIndex = i
				continue
			}
			w.Videos = append(w.Videos, &domain.Video{
				ID:         w.NextID("vid"),
				SceneID:    s.ID,
				SceneIndex: i,
				Prompt:     s.VideoPrompt,
				Model:      s.Model,
				Duration:   s.Duration,
			})
		}
		return nil
	})
}

// runImageBatch dispatches every non-done item of the kind and waits for the
// batch. Items reset to pending under a new epoch while the batch was in
// flight are swept up by another pass; interrupted items are only picked up on
// the first pass, since later ones can only see interruptions the batch itself
// produced. Returns halted=true when items ended outside done and progression
// should pause for user action.
func (e *Engine) runImageBatch(ctx context.Context, kind domain.ItemKind) (bool, error) {
	first := true
	for {
		var ids []string
		var epoch uint64
		e.read(func(w *domain.Workflow) {
			epoch = w.Epoch(kind)
			for _, lc := range itemsOfKind(w, kind) {
				switch lc.lifecycle.Status {
				case domain.ItemPending, "":
					ids = append(ids, lc.id)
				case domain.ItemInterrupted:
					if first {
						ids = append(ids, lc.id)
					}
				}
			}
		})
		if len(ids) == 0 {
			break
		}
		first = false
		e.log.Info().Str("kind", string(kind)).Int("count", len(ids)).Msg("dispatching image batch")
		e.deps.Dispatcher.runBatch(ctx, classFor(kind), ids, func(ctx context.Context, itemID string) error {
			return e.imageJob(ctx, kind, itemID, epoch)
		})
		if err := cancelCause(ctx); err != nil {
			return true, err
		}
	}

	halted := false
	e.read(func(w *domain.Workflow) {
		for _, it := range itemsOfKind(w, kind) {
			if it.lifecycle.Status != domain.ItemDone {
				halted = true
			}
		}
	})
	return halted, nil
}

// runVideoBatch dispatches every unfinished video item, sweeping like
// runImageBatch does. Items interrupted with a live task handle re-attach to
// polling instead of resubmitting.
func (e *Engine) runVideoBatch(ctx context.Context) (bool, error) {
	first := true
	for {
		var ids []string
		var epoch uint64
		e.read(func(w *domain.Workflow) {
			epoch = w.Epoch(domain.KindVideo)
			for _, v := range w.Videos {
				switch v.Status {
				case domain.ItemPending, "":
					ids = append(ids, v.ID)
				case domain.ItemInterrupted:
					if first {
						ids = append(ids, v.ID)
					}
				}
			}
		})
		if len(ids) == 0 {
			break
		}
		first = false
		e.log.Info().Int("count", len(ids)).Msg("dispatching video batch")
		e.deps.Dispatcher.runBatch(ctx, classVideo, ids, func(ctx context.Context, itemID string) error {
			return e.videoJob(ctx, itemID, epoch)
		})
		if err := cancelCause(ctx); err != nil {
			return true, err
		}
	}

	halted := false
	e.read(func(w *domain.Workflow) {
		for _, v := range w.Videos {
			if v.Status != domain.ItemDone {
				halted = true
			}
		}
	})
	return halted, nil
}

// runMerge concatenates the finished clips. A single clip still runs through
// the merger so the output container is normalized. The first scene image
// doubles as the cover.
func (e *Engine) runMerge(ctx context.Context) error {
	var id string
	var clips []string
	var done bool
	e.read(func(w *domain.Workflow) {
		id = w.ID
		done = w.MergedURL != ""
		for _, s := range w.Scenes {
			if v := w.VideoForScene(s.ID); v != nil && v.StorageURL != "" {
				clips = append(clips, v.StorageURL)
			}
		}
	})
	if done {
		return nil
	}
	if len(clips) == 0 {
		return fmt.Errorf("merge: no clips")
	}

	if err := e.mutate(func(w *domain.Workflow) error {
		if w.Merge.Status == domain.ItemInterrupted || w.Merge.Status == domain.ItemError {
			if err := fire(&w.Merge, triggerReset); err != nil {
				return err
			}
		}
		w.Merge.Error = ""
		return fire(&w.Merge, triggerGenerate)
	}); err != nil {
		return err
	}

	url, err := e.deps.Merger.Merge(ctx, id, clips)
	if err != nil {
		if cerr := cancelCause(ctx); cerr != nil {
			_ = e.mutate(func(w *domain.Workflow) error {
				return fire(&w.Merge, triggerInterrupt)
			})
			return cerr
		}
		_ = e.mutate(func(w *domain.Workflow) error {
			w.Merge.Error = err.Error()
			return fire(&w.Merge, triggerFail)
		})
		return fmt.Errorf("merge: %w", err)
	}

	return e.mutate(func(w *domain.Workflow) error {
		if err := fire(&w.Merge, triggerUpload); err != nil {
			return err
		}
		if err := fire(&w.Merge, triggerFinish); err != nil {
			return err
		}
		w.Merge.StorageURL = url
		w.MergedURL = url
		if w.CoverURL == "" && len(w.Scenes) > 0 {
			w.CoverURL = w.Scenes[0].Image.StorageURL
		}
		return nil
	})
}

func (e *Engine) policy() retryPolicy {
	return retryPolicy{Max: e.deps.Tunables.RetryMax, Base: e.deps.Tunables.RetryBaseDelay}
}

func (e *Engine) poller() *poller {
	return &poller{
		status:   e.deps.Status,
		interval: e.deps.Tunables.PollInterval,
		budget:   e.deps.Tunables.PollBudget,
		retry:    e.policy(),
	}
}

// itemRef pairs an item id with its lifecycle for kind-generic iteration.
type itemRef struct {
	id        string
	lifecycle *domain.Lifecycle
}

func itemsOfKind(w *domain.Workflow, kind domain.ItemKind) []itemRef {
	var out []itemRef
	switch kind {
	case domain.KindCharacter:
		for _, c := range w.Characters {
			out = append(out, itemRef{id: c.ID, lifecycle: &c.Lifecycle})
		}
	case domain.KindScene:
		for _, s := range w.Scenes {
			out = append(out, itemRef{id: s.ID, lifecycle: &s.Image})
		}
	case domain.KindVideo:
		for _, v := range w.Videos {
			out = append(out, itemRef{id: v.ID, lifecycle: &v.Lifecycle})
		}
	}
	return out
}

func cloneWorkflow(w *domain.Workflow) *domain.Workflow {
	raw, err := json.Marshal(w)
	if err != nil {
		// The aggregate is plain data; marshalling cannot fail in practice.
		panic(fmt.Sprintf("clone workflow: %v", err))
	}
	var out domain.Workflow
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("clone workflow: %v", err))
	}
	return &out
}
