package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"server/internal/domain"
)

// Manager owns the engines of a process. Engines are created lazily from the
// repository and cached; the class ceilings of the shared dispatcher apply
// across every workflow the manager runs.
type Manager struct {
	deps Deps
	log  zerolog.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:    deps,
		log:     deps.Logger,
		engines: make(map[string]*Engine),
	}
}

// CreateParams describes a new workflow. Exactly one of Idea and
// SourceVideoURL must be set for the run to start.
type CreateParams struct {
	OwnerKey       string
	Title          string
	Idea           string
	SourceVideoURL string
}

// Create registers a new workflow aggregate and returns its engine.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Engine, error) {
	if strings.TrimSpace(p.OwnerKey) == "" {
		return nil, fmt.Errorf("%w: owner key is required", domain.ErrUnauthorized)
	}
	if strings.TrimSpace(p.Idea) == "" && strings.TrimSpace(p.SourceVideoURL) == "" {
		return nil, fmt.Errorf("%w: an idea or source video is required", domain.ErrMissingPrompt)
	}

	now := time.Now().UTC()
	w := &domain.Workflow{
		ID:             uuid.NewString(),
		OwnerKey:       p.OwnerKey,
		Title:          p.Title,
		Idea:           strings.TrimSpace(p.Idea),
		SourceVideoURL: strings.TrimSpace(p.SourceVideoURL),
		Status:         domain.WorkflowIdle,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if w.Idea != "" {
		w.AddChat(domain.ChatRoleUser, w.Idea)
	}
	domain.Recompute(w)

	if err := m.deps.Repo.Save(ctx, w); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e := newEngine(w, m.deps)
	m.engines[w.ID] = e
	return e, nil
}

// Get returns the engine for a workflow the owner may touch, loading the
// aggregate from the repository when the process has not seen it yet.
func (m *Manager) Get(ctx context.Context, id, ownerKey string) (*Engine, error) {
	m.mu.Lock()
	if e, ok := m.engines[id]; ok {
		m.mu.Unlock()
		if e.Snapshot().OwnerKey != ownerKey {
			return nil, domain.ErrUnauthorized
		}
		return e, nil
	}
	m.mu.Unlock()

	w, err := m.deps.Repo.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.OwnerKey != ownerKey {
		return nil, domain.ErrUnauthorized
	}
	reclassifyInterrupted(w)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[id]; ok {
		return e, nil
	}
	e := newEngine(w, m.deps)
	m.engines[id] = e
	return e, nil
}

// List returns snapshots of the owner's workflows, cached state preferred.
// With activeOnly set, workflows in a terminal status are filtered out.
func (m *Manager) List(ctx context.Context, ownerKey string, activeOnly bool) ([]*domain.Workflow, error) {
	var ws []*domain.Workflow
	var err error
	if activeOnly {
		ws, err = m.deps.Repo.ListActiveForOwner(ctx, ownerKey)
	} else {
		ws, err = m.deps.Repo.ListForOwner(ctx, ownerKey)
	}
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range ws {
		if e, ok := m.engines[w.ID]; ok {
			ws[i] = e.Snapshot()
		}
	}
	return ws, nil
}

// Delete removes a workflow. Running workflows must be stopped first.
func (m *Manager) Delete(ctx context.Context, id, ownerKey string) error {
	e, err := m.Get(ctx, id, ownerKey)
	if err != nil {
		return err
	}
	if e.Running() {
		return domain.ErrWorkflowActive
	}
	if err := m.deps.Repo.Delete(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.engines, id)
	m.mu.Unlock()
	return nil
}

// Resume rebuilds engines for every workflow that was active when the
// previous process exited. Items abandoned mid-flight are reclassified as
// interrupted; runs that were in progress restart, re-attaching to live task
// handles rather than resubmitting.
func (m *Manager) Resume(ctx context.Context) error {
	ws, err := m.deps.Repo.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	for _, w := range ws {
		wasRunning := w.Status == domain.WorkflowRunning
		changed := reclassifyInterrupted(w)
		if wasRunning {
			w.Status = domain.WorkflowInterrupted
			changed = true
		}
		if changed {
			if err := m.deps.Repo.Save(ctx, w); err != nil {
				m.log.Error().Err(err).Str("workflow_id", w.ID).Msg("resume checkpoint failed")
				continue
			}
		}

		m.mu.Lock()
		e, ok := m.engines[w.ID]
		if !ok {
			e = newEngine(w, m.deps)
			m.engines[w.ID] = e
		}
		m.mu.Unlock()

		if wasRunning {
			if err := e.Start(ctx); err != nil {
				m.log.Warn().Err(err).Str("workflow_id", w.ID).Msg("resume start failed")
			} else {
				m.log.Info().Str("workflow_id", w.ID).Msg("workflow resumed")
			}
		}
	}
	m.log.Info().Int("count", len(ws)).Msg("resume scan complete")
	return nil
}

// StopAll cancels every running engine, for graceful shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.engines {
		if e.Running() {
			_ = e.Stop()
		}
	}
}

// reclassifyInterrupted converts in-flight item states left behind by a dead
// process into interrupted. Task handles survive so polling can re-attach.
func reclassifyInterrupted(w *domain.Workflow) bool {
	changed := false
	for _, kind := range []domain.ItemKind{domain.KindCharacter, domain.KindScene, domain.KindVideo} {
		for _, it := range itemsOfKind(w, kind) {
			if it.lifecycle.Status.InFlight() {
				it.lifecycle.Status = domain.ItemInterrupted
				changed = true
			}
		}
	}
	if w.Merge.Status.InFlight() {
		w.Merge.Status = domain.ItemInterrupted
		changed = true
	}
	return changed
}
