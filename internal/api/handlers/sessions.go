package handlers

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/api/responses"
	"github.com/inferloop/dashengine/internal/session"
	"github.com/inferloop/dashengine/pkg/errors"
	"github.com/inferloop/dashengine/pkg/interfaces"
	"github.com/inferloop/dashengine/pkg/models"
)

// SessionHandler serves viewing sessions. Each session opened over HTTP is
// bound to an in-memory URL bridge; clients read the URL query it holds and
// push their own edits through PATCH.
type SessionHandler struct {
	manager *session.Manager
	logger  *logrus.Logger

	mu      sync.RWMutex
	bridges map[string]*session.MemoryBridge
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *session.Manager, logger *logrus.Logger) *SessionHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionHandler{
		manager: manager,
		logger:  logger,
		bridges: make(map[string]*session.MemoryBridge),
	}
}

type openSessionRequest struct {
	DashboardUID string `json:"dashboardUid"`
	// URL is the query string the view was opened with, e.g.
	// "from=now-1h&to=now&var-env=prod".
	URL string `json:"url,omitempty"`
}

type updateSessionRequest struct {
	URL            *string             `json:"url,omitempty"`
	TimeRange      *models.TimeRange   `json:"timeRange,omitempty"`
	Refresh        *string             `json:"refresh,omitempty"`
	Variables      map[string][]string `json:"variables,omitempty"`
	SelectedPanel  *int                `json:"selectedPanel,omitempty"`
	ClearSelection bool                `json:"clearSelection,omitempty"`
}

// SessionResponse is a session state plus the URL query it is synced to.
type SessionResponse struct {
	session.State
	URL string `json:"url"`
}

// Open opens a session on a dashboard.
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		responses.BadRequest(w, "invalid session request", err)
		return
	}
	if req.DashboardUID == "" {
		responses.Error(w, errors.NewValidationError("dashboardUid", errors.ErrMissingUID.Error()))
		return
	}
	initial, err := parseQuery(req.URL)
	if err != nil {
		responses.Error(w, err)
		return
	}

	bridge := session.NewMemoryBridge(initial)
	s, err := h.manager.Open(r.Context(), req.DashboardUID, bridge)
	if err != nil {
		responses.Error(w, err)
		return
	}

	id := s.ID()
	h.mu.Lock()
	h.bridges[id] = bridge
	h.mu.Unlock()
	s.Subscribe(func(st session.State) {
		if st.Closed {
			h.forget(id)
		}
	})

	h.logger.WithFields(logrus.Fields{
		"session_id":    id,
		"dashboard_uid": req.DashboardUID,
	}).Info("Session opened")
	responses.Created(w, h.describe(s))
}

// List returns every open session.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	states := h.manager.List()
	responses.List(w, states, len(states))
}

// Get returns one session.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, h.describe(s))
}

// Update applies view changes. A url is applied first, as an edit made
// outside the session; explicit fields follow.
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		responses.Error(w, err)
		return
	}
	var req updateSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		responses.BadRequest(w, "invalid session update", err)
		return
	}
	ctx := r.Context()

	if req.URL != nil {
		st, err := parseQuery(*req.URL)
		if err != nil {
			responses.Error(w, err)
			return
		}
		bridge := h.bridge(s.ID())
		if bridge == nil {
			responses.Error(w, errors.ErrSessionClosed)
			return
		}
		bridge.Push(st)
	}
	if req.TimeRange != nil {
		if _, err := s.SetTimeRange(ctx, *req.TimeRange); err != nil {
			responses.Error(w, err)
			return
		}
	}
	if req.Refresh != nil {
		if err := s.SetRefreshInterval(*req.Refresh); err != nil {
			responses.Error(w, err)
			return
		}
	}
	names := make([]string, 0, len(req.Variables))
	for name := range req.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := s.SetVariableValue(ctx, name, req.Variables[name]); err != nil {
			responses.Error(w, err)
			return
		}
	}
	if req.ClearSelection {
		s.ClearSelection()
	}
	if req.SelectedPanel != nil {
		if err := s.SelectPanel(*req.SelectedPanel); err != nil {
			responses.Error(w, err)
			return
		}
	}

	responses.OK(w, h.describe(s))
}

// Refresh queries every panel of the session's dashboard.
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		responses.Error(w, err)
		return
	}
	result, err := s.Refresh(r.Context())
	if err != nil {
		responses.Error(w, err)
		return
	}
	responses.OK(w, result)
}

// Close closes a session.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.manager.Close(id); err != nil {
		responses.Error(w, err)
		return
	}
	h.forget(id)
	responses.NoContent(w)
}

// Session returns the open session with the given id.
func (h *SessionHandler) Session(id string) (*session.Session, error) {
	return h.manager.Get(id)
}

func (h *SessionHandler) describe(s *session.Session) SessionResponse {
	resp := SessionResponse{State: s.State()}
	if bridge := h.bridge(s.ID()); bridge != nil {
		resp.URL = session.EncodeURLState(bridge.GetURLState()).Encode()
	}
	return resp
}

func (h *SessionHandler) bridge(id string) *session.MemoryBridge {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.bridges[id]
}

func (h *SessionHandler) forget(id string) {
	h.mu.Lock()
	delete(h.bridges, id)
	h.mu.Unlock()
}

func parseQuery(raw string) (interfaces.URLState, error) {
	q, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return interfaces.URLState{}, errors.NewValidationError("url", "invalid query string: "+err.Error())
	}
	return session.ParseURLState(q), nil
}
