package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dashengine/internal/engine"
	"github.com/inferloop/dashengine/internal/observability/health"
	"github.com/inferloop/dashengine/internal/query"
	"github.com/inferloop/dashengine/internal/query/implementations/synthetic"
	"github.com/inferloop/dashengine/internal/session"
	memstore "github.com/inferloop/dashengine/internal/storage/implementations/memory"
	"github.com/inferloop/dashengine/pkg/constants"
	"github.com/inferloop/dashengine/pkg/models"
)

const serviceDashboard = `{
	"uid": "svc",
	"title": "Service",
	"tags": ["prod"],
	"time": {"from": "now-6h", "to": "now"},
	"refresh": "off",
	"templating": {"list": [{"name": "env", "type": "custom", "query": "a,b,c", "refresh": 1}]},
	"panels": [
		{"id": 1, "type": "timeseries", "gridPos": {"x": 0, "y": 0, "w": 12, "h": 9}, "targets": [{"refId": "A", "scenarioId": "random_walk", "alias": "$env"}]},
		{"id": 2, "type": "stat", "gridPos": {"x": 12, "y": 0, "w": 12, "h": 9}, "targets": [{"refId": "A", "scenarioId": "random_walk"}]}
	]
}`

type fixture struct {
	engine   *engine.Engine
	sessions *session.Manager
	hub      *Hub
	handler  *mux.Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC))

	store := memstore.NewMemoryStorage(logger)
	require.NoError(t, store.Save(context.Background(), "svc", []byte(serviceDashboard)))

	router := query.NewRouter(constants.ExecutorTestData, logger)
	router.Register(constants.ExecutorTestData, synthetic.NewExecutor(logger))

	cfg := engine.DefaultConfig()
	cfg.AutoRefresh = false
	eng, err := engine.NewEngine(cfg, engine.Dependencies{
		Store:    store,
		Executor: router,
		Options:  router,
		Clock:    mock,
	}, logger)
	require.NoError(t, err)

	sessions := session.NewManager(eng, session.Options{Clock: mock}, nil, logger)

	monitor := health.NewHealthMonitor("test", mock, logger)
	monitor.RegisterCheck(health.NewBasicHealthCheck("storage", store.Ping, true, time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, logger)
	go hub.Run(ctx)
	detach := hub.Attach(eng.Bus())

	t.Cleanup(func() {
		detach()
		cancel()
		sessions.CloseAll()
		eng.Close()
	})

	r := NewRouter(Dependencies{
		Engine:   eng,
		Sessions: sessions,
		Health:   monitor,
		Hub:      hub,
		Version:  "test",
		Logger:   logger,
	})
	return &fixture{engine: eng, sessions: sessions, hub: hub, handler: r.SetupRoutes()}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, constants.APIPrefix+path, reader)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]interface{})
	require.True(t, ok, rec.Body.String())
	return e["code"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = f.do(t, "GET", "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode(t, rec)["status"])

	rec = f.do(t, "GET", "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, "GET", "/health/version", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "test", decode(t, rec)["version"])
}

func TestDashboardLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/dashboards", map[string]interface{}{"uid": "ops", "title": "Ops", "tags": []string{"team"}})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["version"])

	rec = f.do(t, "POST", "/dashboards/ops/save", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["version"])

	rec = f.do(t, "GET", "/dashboards?query=ops", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(t, "GET", "/dashboards/ops/export?format=yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, constants.ContentTypeYAML, rec.Header().Get(constants.HeaderContentType))
	assert.Contains(t, rec.Body.String(), "uid: ops")

	rec = f.do(t, "POST", "/dashboards/ops/duplicate", map[string]string{"title": "Ops copy"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	copied := decode(t, rec)
	assert.Equal(t, "Ops copy", copied["title"])
	assert.NotEqual(t, "ops", copied["uid"])

	rec = f.do(t, "DELETE", "/dashboards/ops", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "GET", "/dashboards/ops", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))
}

func TestDashboardPutAndImport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "PUT", "/dashboards/other", serviceDashboard)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_INPUT", errorCode(t, rec))

	doc := strings.Replace(serviceDashboard, `"title": "Service"`, `"title": "Service v2"`, 1)
	rec = f.do(t, "PUT", "/dashboards/svc", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Service v2", decode(t, rec)["title"])

	yamlDoc := "uid: imported\ntitle: Imported\npanels: []\n"
	req := httptest.NewRequest("POST", constants.APIPrefix+"/dashboards/import?format=yaml", strings.NewReader(yamlDoc))
	out := httptest.NewRecorder()
	f.handler.ServeHTTP(out, req)
	require.Equal(t, http.StatusCreated, out.Code, out.Body.String())
	assert.Equal(t, "Imported", decode(t, out)["title"])

	rec = f.do(t, "POST", "/dashboards/import", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimeAndRefresh(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "PUT", "/dashboards/svc/time", map[string]string{"from": "now-1h", "to": "now"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode(t, rec)
	assert.Len(t, result["panels"], 2)

	rec = f.do(t, "PUT", "/dashboards/svc/time", map[string]string{"from": "now", "to": "now-1h"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "PUT", "/dashboards/svc/refresh-interval", map[string]string{"refresh": "1m"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1m", decode(t, rec)["refresh"])

	rec = f.do(t, "POST", "/dashboards/svc/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["panels"], 2)
}

func TestPanelEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/dashboards/svc/panels", map[string]interface{}{
		"type":    "timeseries",
		"title":   "Latency",
		"targets": []map[string]string{{"refId": "A", "scenarioId": "random_walk"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	panel := decode(t, rec)
	assert.Equal(t, float64(3), panel["id"])

	rec = f.do(t, "GET", "/dashboards/svc/panels/3/data", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/dashboards/svc/panels/3/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, "GET", "/dashboards/svc/panels/3/data", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["frames"])

	rec = f.do(t, "PATCH", "/dashboards/svc/panels/3", map[string]string{"title": "P99 latency"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "P99 latency", decode(t, rec)["title"])

	rec = f.do(t, "PUT", "/dashboards/svc/panels/3/position", map[string]int{"x": 0, "y": 0, "w": 12, "h": 9})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "overlaps panel 1")

	rec = f.do(t, "PUT", "/dashboards/svc/panels/3/position", map[string]int{"x": 0, "y": 30, "w": 24, "h": 6})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, "DELETE", "/dashboards/svc/panels/3", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "GET", "/dashboards/svc/panels/3", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVariableEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/dashboards/svc/variables", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(t, "PUT", "/dashboards/svc/variables/env/value", map[string]string{"value": "b"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	refreshed := decode(t, rec)["panels"].(map[string]interface{})
	assert.Contains(t, refreshed, "1")
	assert.NotContains(t, refreshed, "2")

	rec = f.do(t, "PUT", "/dashboards/svc/variables/env/value", map[string]interface{}{"values": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, "PUT", "/dashboards/svc/variables/nope/value", map[string]string{"value": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/dashboards/svc/variables", map[string]interface{}{
		"name": "region", "type": "custom", "query": "eu,us",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decode(t, rec)["options"], 2)

	rec = f.do(t, "POST", "/dashboards/svc/variables", map[string]interface{}{"name": "region", "type": "custom"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "POST", "/sessions", map[string]string{
		"dashboardUid": "svc",
		"url":          "?from=now-1h&to=now&var-env=b",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	opened := decode(t, rec)
	id := opened["id"].(string)
	assert.Equal(t, "now-1h", opened["timeRange"].(map[string]interface{})["from"])
	assert.Equal(t, []interface{}{"b"}, opened["variables"].(map[string]interface{})["env"])

	rec = f.do(t, "PATCH", "/sessions/"+id, map[string]interface{}{
		"timeRange":     map[string]string{"from": "now-24h", "to": "now"},
		"selectedPanel": 2,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode(t, rec)
	assert.Equal(t, float64(2), updated["selectedPanel"])
	assert.Contains(t, updated["url"], "from=now-24h")

	rec = f.do(t, "PATCH", "/sessions/"+id, map[string]interface{}{"url": "from=now-7d&to=now&var-env=c"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated = decode(t, rec)
	assert.Equal(t, "now-7d", updated["timeRange"].(map[string]interface{})["from"])

	rec = f.do(t, "GET", "/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["count"])

	rec = f.do(t, "DELETE", "/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, "GET", "/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, "POST", "/sessions", map[string]string{"dashboardUid": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, "GET", "/nothing-here", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, rec))

	rec = f.do(t, "GET", "/dashboards/svc/panels/abc", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboardEventStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + constants.APIPrefix + "/dashboards/svc/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	_, err = f.engine.Load(context.Background(), "svc")
	require.NoError(t, err)
	_, err = f.engine.SetTimeRange(context.Background(), "svc", models.TimeRange{From: "now-2h", To: "now"})
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := map[string]bool{}
	for !seen["time-range-changed"] {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		assert.Equal(t, "svc", msg.DashboardUID)
		seen[msg.Type] = true
	}
}

func TestSessionStateStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	rec := f.do(t, "POST", "/sessions", map[string]string{"dashboardUid": "svc"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decode(t, rec)["id"].(string)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + constants.APIPrefix + "/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "session-state", msg.Type)
	assert.Equal(t, id, msg.SessionID)

	require.NoError(t, f.sessions.Close(id))
	for {
		var next struct {
			Type string        `json:"type"`
			Data session.State `json:"data"`
		}
		require.NoError(t, conn.ReadJSON(&next))
		if next.Data.Closed {
			break
		}
	}
}
