package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/orchestrator"
)

type createWorkflowRequest struct {
	Title          string `json:"title"`
	Idea           string `json:"idea"`
	SourceVideoURL string `json:"sourceVideoUrl"`
	AutoStart      bool   `json:"autoStart"`
}

// CreateWorkflow registers a workflow and optionally kicks off the run.
func (a *App) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createWorkflowRequest
	if err := a.decode(r, &req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	e, err := a.Manager.Create(r.Context(), orchestrator.CreateParams{
		OwnerKey:       a.ownerKey(r),
		Title:          req.Title,
		Idea:           req.Idea,
		SourceVideoURL: req.SourceVideoURL,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if req.AutoStart {
		if err := e.Start(r.Context()); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	a.json(w, http.StatusCreated, e.Snapshot())
}

// ListWorkflows returns the caller's workflows. ?active=true filters out
// workflows in a terminal status.
func (a *App) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	ws, err := a.Manager.List(r.Context(), a.ownerKey(r), activeOnly)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if ws == nil {
		ws = []*domain.Workflow{}
	}
	a.json(w, http.StatusOK, ws)
}

// GetWorkflow returns one aggregate snapshot.
func (a *App) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, e.Snapshot())
}

// DeleteWorkflow removes a stopped or finished workflow.
func (a *App) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	if err := a.Manager.Delete(r.Context(), chi.URLParam(r, "id"), a.ownerKey(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// StartWorkflow launches the background run.
func (a *App) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.Start(r.Context()); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, e.Snapshot())
}

// StopWorkflow cancels the background run.
func (a *App) StopWorkflow(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.Stop(); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, e.Snapshot())
}

type chatRequest struct {
	Message string `json:"message"`
}

// ChatWorkflow records a user message; before item work has started the
// message revises the script.
func (a *App) ChatWorkflow(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := a.decode(r, &req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.Chat(r.Context(), req.Message); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, e.Snapshot())
}

type retryItemRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	Aspect string `json:"aspect"`
}

// RetryItem resets one item and resumes the run.
func (a *App) RetryItem(w http.ResponseWriter, r *http.Request) {
	var req retryItemRequest
	if r.ContentLength > 0 {
		if err := a.decode(r, &req); err != nil {
			a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
			return
		}
	}
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	kind, err := itemKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	ov := domain.ItemOverrides{Prompt: req.Prompt, Model: req.Model, Aspect: req.Aspect}
	if err := e.RetryItem(r.Context(), kind, chi.URLParam(r, "itemID"), ov); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, e.Snapshot())
}

// RegenerateBatch discards and reruns every item of one kind.
func (a *App) RegenerateBatch(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	kind, err := itemKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.BatchRegenerate(r.Context(), kind); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, e.Snapshot())
}

type addCharacterRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// AddCharacter appends a user-defined character.
func (a *App) AddCharacter(w http.ResponseWriter, r *http.Request) {
	var req addCharacterRequest
	if err := a.decode(r, &req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.AddCharacter(req.Name, req.Prompt); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, e.Snapshot())
}

type addSceneRequest struct {
	ImagePrompt string `json:"imagePrompt"`
	VideoPrompt string `json:"videoPrompt"`
	Duration    int    `json:"duration"`
	Position    int    `json:"position"`
}

// AddScene inserts a scene at the requested position.
func (a *App) AddScene(w http.ResponseWriter, r *http.Request) {
	var req addSceneRequest
	if err := a.decode(r, &req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.AddScene(orchestrator.AddSceneParams{
		ImagePrompt: req.ImagePrompt,
		VideoPrompt: req.VideoPrompt,
		Duration:    req.Duration,
		Position:    req.Position,
	}); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, e.Snapshot())
}

// DeleteItem removes one item from the aggregate.
func (a *App) DeleteItem(w http.ResponseWriter, r *http.Request) {
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	kind, err := itemKind(chi.URLParam(r, "kind"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.DeleteItem(kind, chi.URLParam(r, "itemID")); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, e.Snapshot())
}

type reorderRequest struct {
	Order []string `json:"order"`
}

// ReorderScenes rearranges scenes to the posted id order.
func (a *App) ReorderScenes(w http.ResponseWriter, r *http.Request) {
	var req reorderRequest
	if err := a.decode(r, &req); err != nil {
		a.json(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	e, err := a.engine(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := e.ReorderScenes(req.Order); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, e.Snapshot())
}

func (a *App) engine(r *http.Request) (*orchestrator.Engine, error) {
	return a.Manager.Get(r.Context(), chi.URLParam(r, "id"), a.ownerKey(r))
}

func itemKind(raw string) (domain.ItemKind, error) {
	switch domain.ItemKind(raw) {
	case domain.KindCharacter, domain.KindScene, domain.KindVideo:
		return domain.ItemKind(raw), nil
	default:
		return "", fmt.Errorf("%w: item kind %q", domain.ErrNotFound, raw)
	}
}
