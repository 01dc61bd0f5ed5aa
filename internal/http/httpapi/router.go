package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"inkrelay/internal/http/handlers"
	"inkrelay/internal/middleware"
)

func NewRouter(app *handlers.App, allowedOrigins []string, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
		middleware.CORS(allowedOrigins),
	)

	r.Get("/health", app.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/generate", app.Generate)
	r.Get("/progress/{projectId}", app.Progress)
	r.Get("/cancel/{projectId}", app.Cancel)
	r.Get("/result/{projectId}/{jobId}", app.Result)

	return r
}
