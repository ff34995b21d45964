package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"guidance-backend/internal/handlers"
	"guidance-backend/internal/middleware"
	"guidance-backend/internal/websocket"
)

func New(
	tokens *middleware.SessionTokens,
	submitLimiter *middleware.RateLimiter,
	sessionHandler *handlers.SessionHandler,
	chatHandler *handlers.ChatHandler,
	attachmentHandler *handlers.AttachmentHandler,
	wsHub *websocket.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Session Routes ────
		r.Post("/sessions", sessionHandler.Create)

		r.Route("/sessions/me", func(r chi.Router) {
			r.Use(tokens.Middleware)
			r.Get("/", sessionHandler.Get)
			r.Put("/input", chatHandler.SetInput)
			r.Post("/cancel", chatHandler.Cancel)
			r.Post("/reset", chatHandler.Reset)

			r.Group(func(r chi.Router) {
				r.Use(submitLimiter.Middleware)
				r.Post("/messages", chatHandler.Submit)
			})

			r.Post("/attachments", attachmentHandler.Upload)
			r.Delete("/attachments/{index}", attachmentHandler.Remove)
		})

		// ──── Blob Routes (public, unguessable ids) ────
		r.Get("/blobs/{id}", attachmentHandler.ServeBlob)

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
