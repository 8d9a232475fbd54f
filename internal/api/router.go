package api

import (
	"net/http"
	"time"

	// Registers the generated OpenAPI description with swag.
	_ "arena-ai/backend/docs"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

// NewRouter creates and configures a new chi router with all the application's routes.
func NewRouter(sessionHandler *SessionHandler, providerHandler *ProviderHandler, eventsHandler *EventsHandler) *chi.Mux {
	r := chi.NewRouter()

	// --- Global Middleware ---
	r.Use(middleware.RequestID) // Request ID for correlating logs across a fan-out.
	r.Use(middleware.RealIP)    // Remote address from proxy headers.
	r.Use(middleware.Logger)    // Logs the start and end of each request.
	r.Use(middleware.Recoverer) // Turns a handler panic into a 500.

	// --- Public Routes ---

	// Swagger UI for the generated API description.
	r.Get("/api/swagger/*", httpSwagger.WrapHandler)

	// Liveness and readiness probe; only the 200 matters.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// --- API Version 1 Routes ---
	r.Route("/api/v1", func(r chi.Router) {
		// JSON routes. A synchronous prompt waits for every provider, so the
		// timeout must stay above the provider timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(120 * time.Second))

			// --- Providers ---
			r.Get("/providers", providerHandler.HandleListProviders)

			// --- Sessions ---
			r.Post("/sessions", sessionHandler.HandleCreateSession)
			r.Get("/sessions/{sessionID}", sessionHandler.HandleGetSession)
			r.Post("/sessions/{sessionID}/prompts", sessionHandler.HandleSubmitPrompt)
			r.Post("/sessions/{sessionID}/select", sessionHandler.HandleSelectResponse)
			r.Post("/sessions/{sessionID}/reset", sessionHandler.HandleResetSession)
			r.Get("/sessions/{sessionID}/conversations", sessionHandler.HandleListConversations)

			// --- Per-provider actions within a session ---
			r.Post("/sessions/{sessionID}/providers/{providerID}/toggle", sessionHandler.HandleToggleProvider)
			r.Post("/sessions/{sessionID}/providers/{providerID}/retry", sessionHandler.HandleRetryProvider)
		})

		// Streaming routes hold the connection open and must not time out.
		r.Group(func(r chi.Router) {
			r.Get("/sessions/{sessionID}/events", eventsHandler.HandleSessionEvents)
		})
	})

	return r
}
