package routes

import (
	"github.com/go-chi/chi"

	"github.com/yshr-dev/felica-agent/internal/status/handlers"
	"github.com/yshr-dev/felica-agent/internal/status/ws"
)

// SetRoutes mounts the local status API.
func SetRoutes(r *chi.Mux, hub *ws.Hub, provider handlers.StatusProvider) {
	h := handlers.NewHandler(hub, provider)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Get("/ws", h.HandleWebSocket)
	})
}
