package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/middleware"
)

// RouterOptions carries the wiring the router needs beyond handlers.
type RouterOptions struct {
	AllowedOrigins []string
	// RequestsPerMinute caps per-client request rates when positive.
	RequestsPerMinute int
	// StaticDir, when set, is served under /static for filesystem storage.
	StaticDir string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(app.Log),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}
	if opts.RequestsPerMinute > 0 {
		r.Use(middleware.RateLimit(opts.RequestsPerMinute, time.Minute))
	}

	r.Get("/v1/healthz", app.Health)

	if opts.StaticDir != "" {
		r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(opts.StaticDir))))
	}

	r.Route("/v1/workflows", func(r chi.Router) {
		r.Use(middleware.OwnerKey)

		r.Post("/", app.CreateWorkflow)
		r.Get("/", app.ListWorkflows)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", app.GetWorkflow)
			r.Delete("/", app.DeleteWorkflow)

			r.Post("/start", app.StartWorkflow)
			r.Post("/stop", app.StopWorkflow)
			r.Post("/chat", app.ChatWorkflow)

			r.Post("/characters", app.AddCharacter)
			r.Post("/scenes", app.AddScene)
			r.Post("/scenes/reorder", app.ReorderScenes)

			r.Post("/items/{kind}/{itemID}/retry", app.RetryItem)
			r.Delete("/items/{kind}/{itemID}", app.DeleteItem)
			r.Post("/regenerate/{kind}", app.RegenerateBatch)

			r.Get("/export", app.ExportWorkflow)
			r.Get("/watch", app.WatchWorkflow)
		})
	})

	return r
}
