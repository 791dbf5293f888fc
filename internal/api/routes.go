// Package api wires the HTTP handlers of the dashboard engine into a router
// and streams engine events to websocket clients.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/dashengine/internal/api/handlers"
	"github.com/inferloop/dashengine/internal/api/responses"
	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/observability/health"
	"github.com/inferloop/dashengine/internal/session"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/errors"
)

// Dependencies are the services the API exposes.
type Dependencies struct {
	Engine    *engine.Engine
	Sessions  *session.Manager
	Health    *health.HealthMonitor
	Hub       *Hub
	Version   string
	GitCommit string
	Logger    *logrus.Logger
}

// Router holds the handlers of every API area.
type Router struct {
	dashboardHandler *handlers.DashboardHandler
	panelHandler     *handlers.PanelHandler
	variableHandler  *handlers.VariableHandler
	sessionHandler   *handlers.SessionHandler
	healthHandler    *handlers.HealthHandler
	hub              *Hub
}

// NewRouter creates the handlers. Health and Hub may be nil.
func NewRouter(deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
	}
	monitor := deps.Health
	if monitor == nil {
		monitor = health.NewHealthMonitor(deps.Version, deps.Engine.Clock(), logger)
	}

	return &Router{
		dashboardHandler: handlers.NewDashboardHandler(deps.Engine, logger),
		panelHandler:     handlers.NewPanelHandler(deps.Engine, logger),
		variableHandler:  handlers.NewVariableHandler(deps.Engine, logger),
		sessionHandler:   handlers.NewSessionHandler(deps.Sessions, logger),
		healthHandler:    handlers.NewHealthHandler(monitor, deps.Version, deps.GitCommit),
		hub:              deps.Hub,
	}
}

// SetupRoutes registers every endpoint under the API prefix.
func (router *Router) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(notFound)

	// Preflight requests for any path reach the CORS middleware.
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api := r.PathPrefix(constants.APIPrefix).Subrouter()

	// Health endpoints
	healthRoutes := api.PathPrefix("/health").Subrouter()
	healthRoutes.HandleFunc("", router.healthHandler.GetHealth).Methods("GET")
	healthRoutes.HandleFunc("/live", router.healthHandler.GetLiveness).Methods("GET")
	healthRoutes.HandleFunc("/ready", router.healthHandler.GetReadiness).Methods("GET")
	healthRoutes.HandleFunc("/version", router.healthHandler.GetVersion).Methods("GET")

	// Dashboard endpoints
	dashboards := api.PathPrefix("/dashboards").Subrouter()
	dashboards.HandleFunc("", router.dashboardHandler.Search).Methods("GET")
	dashboards.HandleFunc("", router.dashboardHandler.Create).Methods("POST")
	dashboards.HandleFunc("/import", router.dashboardHandler.Import).Methods("POST")
	dashboards.HandleFunc("/{uid}", router.dashboardHandler.Get).Methods("GET")
	dashboards.HandleFunc("/{uid}", router.dashboardHandler.Put).Methods("PUT")
	dashboards.HandleFunc("/{uid}", router.dashboardHandler.Delete).Methods("DELETE")
	dashboards.HandleFunc("/{uid}/save", router.dashboardHandler.Save).Methods("POST")
	dashboards.HandleFunc("/{uid}/duplicate", router.dashboardHandler.Duplicate).Methods("POST")
	dashboards.HandleFunc("/{uid}/export", router.dashboardHandler.Export).Methods("GET")
	dashboards.HandleFunc("/{uid}/refresh", router.dashboardHandler.Refresh).Methods("POST")
	dashboards.HandleFunc("/{uid}/time", router.dashboardHandler.SetTimeRange).Methods("PUT")
	dashboards.HandleFunc("/{uid}/refresh-interval", router.dashboardHandler.SetRefreshInterval).Methods("PUT")
	dashboards.HandleFunc("/{uid}/ws", router.serveDashboardEvents).Methods("GET")

	// Panel endpoints
	dashboards.HandleFunc("/{uid}/panels", router.panelHandler.Add).Methods("POST")
	dashboards.HandleFunc("/{uid}/panels/{id:[0-9]+}", router.panelHandler.Get).Methods("GET")
	dashboards.HandleFunc("/{uid}/panels/{id:[0-9]+}", router.panelHandler.Update).Methods("PATCH")
	dashboards.HandleFunc("/{uid}/panels/{id:[0-9]+}", router.panelHandler.Remove).Methods("DELETE")
	dashboards.HandleFunc("/{uid}/panels/{id:[0-9]+}/position", router.panelHandler.Move).Methods("PUT")
	dashboards.HandleFunc("/{uid}/panels/{id:[0-9]+}/refresh", router.panelHandler.Refresh).Methods("POST")
	dashboards.HandleFunc("/{uid}/panels/{id:[0-9]+}/data", router.panelHandler.Data).Methods("GET")

	// Template variable endpoints
	dashboards.HandleFunc("/{uid}/variables", router.variableHandler.List).Methods("GET")
	dashboards.HandleFunc("/{uid}/variables", router.variableHandler.Add).Methods("POST")
	dashboards.HandleFunc("/{uid}/variables/{name}", router.variableHandler.Update).Methods("PUT")
	dashboards.HandleFunc("/{uid}/variables/{name}/value", router.variableHandler.SetValue).Methods("PUT")

	// Session endpoints
	sessions := api.PathPrefix("/sessions").Subrouter()
	sessions.HandleFunc("", router.sessionHandler.List).Methods("GET")
	sessions.HandleFunc("", router.sessionHandler.Open).Methods("POST")
	sessions.HandleFunc("/{id}", router.sessionHandler.Get).Methods("GET")
	sessions.HandleFunc("/{id}", router.sessionHandler.Update).Methods("PATCH")
	sessions.HandleFunc("/{id}", router.sessionHandler.Close).Methods("DELETE")
	sessions.HandleFunc("/{id}/refresh", router.sessionHandler.Refresh).Methods("POST")
	sessions.HandleFunc("/{id}/ws", router.serveSessionState).Methods("GET")

	return r
}

func (router *Router) serveDashboardEvents(w http.ResponseWriter, r *http.Request) {
	if router.hub == nil {
		responses.Error(w, errors.NewConfigurationError("websocket streaming is disabled"))
		return
	}
	router.hub.ServeDashboard(w, r, mux.Vars(r)["uid"])
}

func (router *Router) serveSessionState(w http.ResponseWriter, r *http.Request) {
	if router.hub == nil {
		responses.Error(w, errors.NewConfigurationError("websocket streaming is disabled"))
		return
	}
	s, err := router.sessionHandler.Session(mux.Vars(r)["id"])
	if err != nil {
		responses.Error(w, err)
		return
	}
	router.hub.ServeSession(w, r, s)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	responses.Error(w, errors.NewNotFoundError("route", r.URL.Path))
}
