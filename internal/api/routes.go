package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/voiceclone-go/voiceclone-go/internal/config"
)

// NewRouter constructs the HTTP router with middleware and routes.
func NewRouter(cfg *config.Config, deps Deps, logger zerolog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(CORSMiddleware)
	r.Use(BodyLimitMiddleware(cfg.Limits.MaxUploadBytes))

	h := NewHandler(deps, logger)

	r.Get("/v1/health", h.HandleHealthGet)
	r.Post("/v1/health", h.HandleHealthPost)
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.APIKey != "" {
			r.Use(AuthMiddleware(cfg.Auth.APIKey))
		}

		r.Post("/v1/analyze", h.HandleAnalyze)

		r.Get("/v1/voices", h.HandleListVoices)
		r.Get("/v1/voices/{id}", h.HandleGetVoice)
		r.Get("/v1/voices/{id}/audio", h.HandleVoiceAudio)

		r.Route("/v1/session", func(r chi.Router) {
			r.Get("/", h.HandleGetSession)
			r.Post("/select", h.HandleSelectVoice)

			r.Get("/recording", h.HandleGetRecording)
			r.Put("/recording", h.HandlePutRecording)
			r.Delete("/recording", h.HandleDeleteRecording)

			r.Post("/voices", h.HandleCreateVoice)
			r.Put("/voice", h.HandleReRecord)
			r.Delete("/voice", h.HandleDeleteVoice)

			r.Post("/generate", h.HandleGenerate)
			r.Get("/progress", h.HandleProgress)
		})

		r.Get("/v1/settings/default-script", h.HandleGetDefaultScript)
		r.Put("/v1/settings/default-script", h.HandlePutDefaultScript)
	})

	return r
}
