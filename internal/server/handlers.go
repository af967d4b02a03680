package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"storyloom/internal/document"
	"storyloom/internal/engine"
	"storyloom/internal/intent"
	"storyloom/internal/structure"
)

// Handler adapts the engine to the REST surface. Errors map to status
// codes here; the engine never sees HTTP.
type Handler struct {
	engine   *engine.Engine
	analyzer *intent.Analyzer
}

func NewHandler(e *engine.Engine, analyzer *intent.Analyzer) *Handler {
	return &Handler{engine: e, analyzer: analyzer}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrLoading),
		errors.Is(err, engine.ErrRunActive):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrNoDocument),
		errors.Is(err, engine.ErrUnknownRun),
		errors.Is(err, structure.ErrUnknownSection):
		status = http.StatusNotFound
	case errors.Is(err, structure.ErrRootRequired),
		errors.Is(err, structure.ErrUnknownParent),
		errors.Is(err, structure.ErrDuplicateID):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type startRunRequest struct {
	Prompt   string `json:"prompt"`
	Format   string `json:"format,omitempty"`
	Template string `json:"template,omitempty"`
}

func (h *Handler) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var in startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Prompt) == "" {
		http.Error(w, "prompt is required", http.StatusBadRequest)
		return
	}
	runID, err := h.engine.StartGeneration(r.Context(), in.Prompt, in.Format, in.Template)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"runId": runID})
}

func (h *Handler) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.RunStatus(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelRun(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	payload, err := h.engine.Document()
	if err != nil {
		writeError(w, err)
		return
	}
	items, err := h.engine.Structure()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Structure []structure.Item `json:"structure"`
		Document  document.Payload `json:"document"`
	}{items, payload})
}

type updateContentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) handleUpdateContent(w http.ResponseWriter, r *http.Request) {
	var in updateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	payload, err := h.engine.UpdateSectionContent(r.Context(), r.PathValue("id"), in.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) handleDeleteSection(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.RemoveSection(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type insertSectionRequest struct {
	Item     structure.Item `json:"item"`
	ParentID string         `json:"parentId"`
	Position int            `json:"position"`
}

func (h *Handler) handleInsertSection(w http.ResponseWriter, r *http.Request) {
	var in insertSectionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Item.ID) == "" {
		http.Error(w, "item.id is required", http.StatusBadRequest)
		return
	}
	if err := h.engine.InsertSection(r.Context(), in.Item, in.ParentID, in.Position); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
}

type intentRequest struct {
	Message         string `json:"message"`
	ActiveSectionID string `json:"activeSectionId,omitempty"`
	DocumentOpen    bool   `json:"documentOpen,omitempty"`
	DocumentFormat  string `json:"documentFormat,omitempty"`
}

func (h *Handler) handleIntent(w http.ResponseWriter, r *http.Request) {
	var in intentRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(in.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}
	res, err := h.analyzer.Analyze(r.Context(), in.Message, intent.Context{
		ActiveSectionID: in.ActiveSectionID,
		DocumentOpen:    in.DocumentOpen,
		DocumentFormat:  in.DocumentFormat,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
