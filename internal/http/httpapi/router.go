package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lumina/internal/http/handlers"
	"lumina/internal/middleware"
)

// Config carries the middleware settings the router needs.
type Config struct {
	AllowedOrigins []string
	DefaultLocale  string
	RateLimit      int
	CountryLookup  middleware.CountryLookup
	// Events serves the websocket feed; nil disables the route.
	Events http.Handler
}

func NewRouter(app *handlers.App, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		chimw.RealIP,
		middleware.RequestID,
		middleware.Logger(app.Logger),
		chimw.Recoverer,
		middleware.CORS(cfg.AllowedOrigins),
		middleware.I18N(cfg.DefaultLocale, cfg.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	if cfg.Events != nil {
		r.Handle("/v1/events", cfg.Events)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimit, time.Minute))

		r.Route("/v1/images", func(r chi.Router) {
			r.Get("/", app.ListImages)
			r.Post("/", app.UploadImages)
			r.Delete("/", app.ClearImages)
			r.Delete("/selection", app.ClearSelection)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GetImage)
				r.Delete("/", app.RemoveImage)
				r.Put("/selected", app.SetSelected)
				r.Post("/retry", app.RetryImage)
				r.Post("/revert", app.RevertImage)
				r.Get("/original", app.OriginalBlob)
				r.Get("/enhanced", app.EnhancedBlob)
				r.Get("/versions/{version_id}", app.VersionBlob)
				r.Get("/thumbnail", app.Thumbnail)
			})
		})

		r.Get("/v1/options", app.GetOptions)
		r.Put("/v1/options", app.PutOptions)

		r.Get("/v1/queue", app.QueueState)
		r.Post("/v1/queue/run", app.RunQueue)

		r.Get("/v1/export", app.Export)

		r.Get("/v1/credentials/gemini", app.CredentialStatus)
		r.Post("/v1/credentials/gemini", app.SelectCredential)
		r.Delete("/v1/credentials/gemini", app.ForgetCredential)

		r.Get("/v1/attempts", app.ListAttempts)
	})

	return r
}
