package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/middleware"
	"server/internal/orchestrator"
)

// App carries the handler dependencies.
type App struct {
	Manager *orchestrator.Manager
	Store   domain.ObjectStore
	Log     zerolog.Logger
}

func NewApp(manager *orchestrator.Manager, store domain.ObjectStore, log zerolog.Logger) *App {
	return &App{Manager: manager, Store: store, Log: log}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// fail maps domain sentinels onto HTTP status codes.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		code = http.StatusForbidden
	case errors.Is(err, domain.ErrMissingPrompt), errors.Is(err, domain.ErrMalformedScript):
		code = http.StatusBadRequest
	case errors.Is(err, domain.ErrWorkflowActive),
		errors.Is(err, domain.ErrWorkflowFinished),
		errors.Is(err, domain.ErrInvalidTransition):
		code = http.StatusConflict
	case errors.Is(err, domain.ErrProviderBusy):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		a.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	a.json(w, code, map[string]string{"error": err.Error()})
}

func (a *App) ownerKey(r *http.Request) string {
	return middleware.OwnerKeyFromContext(r.Context())
}

func (a *App) decode(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
