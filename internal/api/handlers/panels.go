package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/api/responses"
	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// PanelHandler serves panel editing and panel data endpoints. Every route
// loads the dashboard first so panels of stored dashboards can be edited
// directly.
type PanelHandler struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewPanelHandler creates a panel handler.
func NewPanelHandler(eng *engine.Engine, logger *logrus.Logger) *PanelHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PanelHandler{engine: eng, logger: logger}
}

// Add appends a panel.
func (h *PanelHandler) Add(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var spec engine.PanelSpec
	if err := decodeJSON(r, &spec); err != nil {
		responses.BadRequest(w, "invalid panel", err)
		return
	}
	if !h.load(w, r, uid) {
		return
	}

	p, err := h.engine.AddPanel(r.Context(), uid, spec)
	if err != nil {
		responses.Error(w, err)
		return
	}
	h.respondPanel(w, http.StatusCreated, uid, p.ID)
}

// Get returns one panel.
func (h *PanelHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}
	h.respondPanel(w, http.StatusOK, uid, id)
}

// Update applies a partial panel update.
func (h *PanelHandler) Update(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var upd engine.PanelUpdate
	if err := decodeJSON(r, &upd); err != nil {
		responses.BadRequest(w, "invalid panel update", err)
		return
	}

	if _, err := h.engine.UpdatePanel(r.Context(), uid, id, upd); err != nil {
		responses.Error(w, err)
		return
	}
	h.respondPanel(w, http.StatusOK, uid, id)
}

// Remove deletes a panel.
func (h *PanelHandler) Remove(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.engine.RemovePanel(r.Context(), uid, id); err != nil {
		responses.Error(w, err)
		return
	}
	responses.NoContent(w)
}

// Move places a panel at the grid position in the body.
func (h *PanelHandler) Move(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var pos models.GridPos
	if err := decodeJSON(r, &pos); err != nil {
		responses.BadRequest(w, "invalid grid position", err)
		return
	}

	if _, err := h.engine.MovePanel(r.Context(), uid, id, pos); err != nil {
		responses.Error(w, err)
		return
	}
	h.respondPanel(w, http.StatusOK, uid, id)
}

// Refresh queries one panel.
func (h *PanelHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}
	data, err := h.engine.RefreshPanel(r.Context(), uid, id)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, data)
}

// Data returns the latest data recorded for a panel.
func (h *PanelHandler) Data(w http.ResponseWriter, r *http.Request) {
	uid, id, ok := h.target(w, r)
	if !ok {
		return
	}
	data, found := h.engine.PanelData(uid, id)
	if !found {
		e := errors.NewNotFoundError("panel data", strconv.Itoa(id))
		responses.Error(w, e.WithDetails("the panel has not been queried yet"))
		return
	}
	responses.OK(w, data)
}

func (h *PanelHandler) target(w http.ResponseWriter, r *http.Request) (string, int, bool) {
	uid := mux.Vars(r)["uid"]
	id, err := pathInt(r, "id")
	if err != nil {
		responses.Error(w, err)
		return "", 0, false
	}
	if !h.load(w, r, uid) {
		return "", 0, false
	}
	return uid, id, true
}

func (h *PanelHandler) load(w http.ResponseWriter, r *http.Request, uid string) bool {
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return false
	}
	return true
}

func (h *PanelHandler) respondPanel(w http.ResponseWriter, status int, uid string, id int) {
	d, err := h.engine.Snapshot(uid)
	if err != nil {
		responses.Error(w, err)
		return
	}
	p, err := findPanel(d, id)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.JSON(w, status, p)
}
