package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/econfeed/internal/fetch"
	"github.com/sells-group/econfeed/internal/model"
	"github.com/sells-group/econfeed/internal/monitoring"
	"github.com/sells-group/econfeed/internal/registry"
	"github.com/sells-group/econfeed/internal/remediation"
	"github.com/sells-group/econfeed/internal/service"
	"github.com/sells-group/econfeed/internal/store"
)

func newTestEnv(t *testing.T) *appEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "econfeed.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	reg := registry.NewConnectorRegistry()
	alerts := monitoring.NewAlertManager(st)
	tracker := monitoring.NewTracker(alerts, st)
	require.NoError(t, tracker.Bootstrap(ctx, reg.All()))

	fetcher := fetch.NewService(reg, tracker, st, fetch.HTTPOptions{
		UserAgent: "econfeed-test/1.0",
		Timeout:   time.Second,
	})

	engine, err := remediation.NewEngine(ctx, st, reg, tracker, alerts, fetcher, remediation.NewTimerScheduler())
	require.NoError(t, err)

	return &appEnv{
		Store:   st,
		Service: service.New(reg, st, tracker, alerts, fetcher, engine),
		Engine:  engine,
		Tracker: tracker,
	}
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestServeHealthEndpoint(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServeConnectorHealth(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodGet, "/connectors/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []model.HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&statuses))
	require.NotEmpty(t, statuses)
	for _, hs := range statuses {
		assert.Equal(t, model.StatusHealthy, hs.Status)
		assert.Equal(t, model.BreakerClosed, hs.CircuitBreakerState)
	}
}

func TestServeFetchRejectsBadRequest(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodPost, "/fetch", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/fetch", `{"region":"US"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeFetchUnknownConnector(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodPost, "/fetch",
		`{"connector_id":"nope","item_id":"gasoline-gallon","region":"US","start":"2025-01-01T00:00:00Z","end":"2025-06-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServeAlertsEmpty(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodGet, "/alerts", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []model.MonitoringAlert
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alerts))
	assert.Empty(t, alerts)
}

func TestServeAlertAckUnknown(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodPost, "/alerts/nonexistent/ack", `{"by":"ops"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, mux, http.MethodPost, "/alerts/nonexistent/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeScorecard(t *testing.T) {
	env := newTestEnv(t)
	mux := newMux(env)

	connectorID := env.Service.Connectors()[0].ID
	rec := doRequest(t, mux, http.MethodGet, "/scorecard?connector="+connectorID+"&period=7d", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var card model.QualityScorecard
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&card))
	assert.Equal(t, model.Period7d, card.Period)

	rec = doRequest(t, mux, http.MethodGet, "/scorecard", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, mux, http.MethodGet, "/scorecard?connector=nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeJobsSurface(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var jobs []model.RemediationJob
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&jobs))
	assert.Empty(t, jobs)

	rec = doRequest(t, mux, http.MethodPost, "/jobs/nonexistent/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, mux, http.MethodDelete, "/jobs/completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cleared map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&cleared))
	assert.Equal(t, 0, cleared["cleared"])
}

func TestServeRemediationConfig(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodGet, "/remediation/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rc model.RemediationConfig
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rc))
	assert.Equal(t, 5, rc.MaxRetries)

	rc.MaxRetries = 3
	buf, err := json.Marshal(rc)
	require.NoError(t, err)
	rec = doRequest(t, mux, http.MethodPut, "/remediation/config", string(buf))
	require.Equal(t, http.StatusOK, rec.Code)

	var updated model.RemediationConfig
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, 3, updated.MaxRetries)

	rc.MaxRetries = 0
	buf, err = json.Marshal(rc)
	require.NoError(t, err)
	rec = doRequest(t, mux, http.MethodPut, "/remediation/config", string(buf))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServeRemediationConfigPartialUpdate(t *testing.T) {
	mux := newMux(newTestEnv(t))

	rec := doRequest(t, mux, http.MethodPut, "/remediation/config", `{"max_retries":7}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated model.RemediationConfig
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&updated))
	assert.Equal(t, 7, updated.MaxRetries)

	// Fields omitted from the body keep their current values.
	def := model.DefaultRemediationConfig()
	assert.Equal(t, def.Enabled, updated.Enabled)
	assert.Equal(t, def.InitialBackoff, updated.InitialBackoff)
	assert.InDelta(t, def.Multiplier, updated.Multiplier, 0.001)
	assert.Equal(t, def.NotificationsEnabled, updated.NotificationsEnabled)
}
