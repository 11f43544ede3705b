package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"lightwork/internal/http/handlers"
	"lightwork/internal/middleware"
)

// Options tunes the router. ProcessPerMinute of zero leaves /v1/process unthrottled.
type Options struct {
	ProcessPerMinute int
	AllowedOrigins   []string
}

func NewRouter(app *handlers.App, logger zerolog.Logger, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		if opts.ProcessPerMinute > 0 {
			r.Use(middleware.RateLimit(opts.ProcessPerMinute, time.Minute))
		}
		r.Post("/v1/process", app.Process)
	})

	r.Route("/v1/jobs", func(r chi.Router) {
		// Registered before /{id} so "cleanup" is never read as a job id.
		r.Delete("/cleanup", app.Cleanup)
		r.Get("/{id}", app.GetJob)
		r.Patch("/{id}", app.PatchJob)
		r.Delete("/{id}", app.DeleteJob)
	})

	return r
}
