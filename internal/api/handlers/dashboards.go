package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/api/responses"
	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/models"
)

// DashboardHandler serves dashboard lifecycle and time endpoints.
type DashboardHandler struct {
	engine *engine.Engine
	logger *logrus.Logger
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(eng *engine.Engine, logger *logrus.Logger) *DashboardHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &DashboardHandler{engine: eng, logger: logger}
}

type createDashboardRequest struct {
	UID         string             `json:"uid,omitempty"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Tags        []string           `json:"tags,omitempty"`
	Timezone    string             `json:"timezone,omitempty"`
	Time        *models.TimeRange  `json:"time,omitempty"`
	Refresh     *string            `json:"refresh,omitempty"`
	Panels      []*models.Panel    `json:"panels,omitempty"`
	Templating  *models.Templating `json:"templating,omitempty"`
}

type duplicateRequest struct {
	Title string `json:"title,omitempty"`
}

type refreshIntervalRequest struct {
	Refresh string `json:"refresh"`
}

// Search lists stored dashboards matching ?query=, repeated ?tag= and ?limit=.
func (h *DashboardHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := &models.SearchQuery{
		Query: q.Get("query"),
		Tags:  q["tag"],
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			responses.Error(w, errors.NewValidationError("limit", "limit must be a non-negative number"))
			return
		}
		query.Limit = limit
	}

	results, err := h.engine.Search(r.Context(), query)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.List(w, results, len(results))
}

// Create builds a new dashboard. It is cached and active but not stored
// until saved.
func (h *DashboardHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createDashboardRequest
	if err := decodeJSON(r, &req); err != nil {
		responses.BadRequest(w, "invalid dashboard", err)
		return
	}

	opts := engine.CreateOptions{
		UID:         req.UID,
		Description: req.Description,
		Tags:        req.Tags,
		Timezone:    req.Timezone,
		Time:        req.Time,
		Refresh:     req.Refresh,
		Panels:      req.Panels,
	}
	if req.Templating != nil {
		opts.Variables = req.Templating.List
	}

	d, err := h.engine.Create(r.Context(), req.Title, opts)
	if err != nil {
		responses.Error(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusCreated, d.UID)
}

// Import stores a complete dashboard document given as JSON or, with
// ?format=yaml, as YAML.
func (h *DashboardHandler) Import(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.BadRequest(w, "could not read body", err)
		return
	}
	d, err := models.UnmarshalDashboard(body, format)
	if err != nil {
		responses.BadRequest(w, "invalid dashboard document", err)
		return
	}

	saved, err := h.engine.Save(r.Context(), d)
	if err != nil {
		responses.Error(w, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"dashboard_uid": saved.UID,
		"format":        format,
	}).Info("Dashboard imported")
	h.respondSnapshot(w, http.StatusCreated, saved.UID)
}

// Get loads a dashboard.
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, uid)
}

// Put replaces a dashboard with the document in the body and saves it.
func (h *DashboardHandler) Put(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	body, err := io.ReadAll(r.Body)
	if err != nil {
		responses.BadRequest(w, "could not read body", err)
		return
	}
	d, err := models.DecodeDashboard(body)
	if err != nil {
		responses.BadRequest(w, "invalid dashboard document", err)
		return
	}
	if d.UID != "" && d.UID != uid {
		responses.Error(w, errors.NewValidationError("uid", "uid in body does not match the path"))
		return
	}
	d.UID = uid

	if _, err := h.engine.Save(r.Context(), d); err != nil {
		responses.Error(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, uid)
}

// Save persists the cached state of a dashboard.
func (h *DashboardHandler) Save(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	d, err := h.engine.Load(r.Context(), uid)
	if err != nil {
		responses.Error(w, err)
		return
	}
	if _, err := h.engine.Save(r.Context(), d); err != nil {
		responses.Error(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, uid)
}

// Delete removes a dashboard.
func (h *DashboardHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Delete(r.Context(), mux.Vars(r)["uid"]); err != nil {
		responses.Error(w, err)
		return
	}
	responses.NoContent(w)
}

// Duplicate stores a copy of a dashboard under a new uid.
func (h *DashboardHandler) Duplicate(w http.ResponseWriter, r *http.Request) {
	var req duplicateRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			responses.BadRequest(w, "invalid duplicate request", err)
			return
		}
	}

	copied, err := h.engine.Duplicate(r.Context(), mux.Vars(r)["uid"], req.Title)
	if err != nil {
		responses.Error(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusCreated, copied.UID)
}

// Export renders a dashboard as an attachment, JSON by default.
func (h *DashboardHandler) Export(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	format := r.URL.Query().Get("format")
	if format == "" {
		format = constants.FormatJSON
	}

	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}
	d, err := h.engine.Snapshot(uid)
	if err != nil {
		responses.Error(w, err)
		return
	}
	data, err := models.MarshalDashboard(d, format)
	if err != nil {
		responses.Error(w, errors.NewValidationError("format", err.Error()))
		return
	}

	contentType := constants.ContentTypeJSON
	if format == constants.FormatYAML {
		contentType = constants.ContentTypeYAML
	}
	w.Header().Set(constants.HeaderContentType, contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+uid+"."+format+"\"")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Refresh queries every panel of a dashboard.
func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}
	result, err := h.engine.RefreshDashboard(r.Context(), uid)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, result)
}

// SetTimeRange changes the time range and refreshes the dashboard.
func (h *DashboardHandler) SetTimeRange(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var tr models.TimeRange
	if err := decodeJSON(r, &tr); err != nil {
		responses.BadRequest(w, "invalid time range", err)
		return
	}
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}
	result, err := h.engine.SetTimeRange(r.Context(), uid, tr)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, result)
}

// SetRefreshInterval changes the auto-refresh interval.
func (h *DashboardHandler) SetRefreshInterval(w http.ResponseWriter, r *http.Request) {
	uid := mux.Vars(r)["uid"]
	var req refreshIntervalRequest
	if err := decodeJSON(r, &req); err != nil {
		responses.BadRequest(w, "invalid refresh interval", err)
		return
	}
	if _, err := h.engine.Load(r.Context(), uid); err != nil {
		responses.Error(w, err)
		return
	}
	if err := h.engine.SetRefreshInterval(uid, req.Refresh); err != nil {
		responses.Error(w, err)
		return
	}
	h.respondSnapshot(w, http.StatusOK, uid)
}

func (h *DashboardHandler) respondSnapshot(w http.ResponseWriter, status int, uid string) {
	d, err := h.engine.Snapshot(uid)
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.JSON(w, status, d)
}
