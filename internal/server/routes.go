package server

import (
	"net/http"

	"storyloom/internal/event"
)

func NewMux(h *Handler, hub *event.Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/runs", h.handleStartRun)
	mux.HandleFunc("GET /api/runs/{id}", h.handleRunStatus)
	mux.HandleFunc("POST /api/runs/{id}/cancel", h.handleCancelRun)

	mux.HandleFunc("GET /api/document", h.handleGetDocument)
	mux.HandleFunc("POST /api/sections", h.handleInsertSection)
	mux.HandleFunc("PUT /api/sections/{id}/content", h.handleUpdateContent)
	mux.HandleFunc("DELETE /api/sections/{id}", h.handleDeleteSection)

	mux.HandleFunc("POST /api/intent", h.handleIntent)
	mux.HandleFunc("GET /ws/events", h.handleEventsWS(hub))

	return cors(mux)
}
