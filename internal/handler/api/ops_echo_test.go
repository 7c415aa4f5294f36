package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"FixedTime/internal/domain/repository"
	"FixedTime/internal/domain/service"
	persist "FixedTime/internal/repository"
	"FixedTime/internal/service/connector"
	"FixedTime/internal/service/ratelimit"
	"FixedTime/internal/services/ensemble"
	"FixedTime/internal/services/risk"
	"FixedTime/internal/services/strategy"
	"FixedTime/internal/usecase"
	xhttp "FixedTime/pkg/http"
	"FixedTime/pkg/logger"
	"FixedTime/pkg/metrics"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct{ m *connector.Mock }

func (s mockSource) Get(context.Context, string) (repository.Connector, error) { return s.m, nil }

type apiFixture struct {
	srv    *xhttp.Server
	engine *risk.Engine
	sched  *usecase.Scheduler
	ens    *ensemble.Ensemble
}

func newAPIFixture(t *testing.T, rl *ratelimit.Limiter) *apiFixture {
	t.Helper()
	store, err := persist.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	engine := risk.NewEngine(risk.Limits{MaxDailyLoss: 100}, risk.Sizing{Mode: risk.ModeFixed, FixedAmount: 1}, nil)
	registry := strategy.NewDefaultRegistry()
	ens := ensemble.New()
	mock := connector.NewMock(connector.WithFixedPayout(90))
	source := mockSource{mock}

	factory := func(key usecase.WorkerKey) (*usecase.Worker, error) {
		cfg := usecase.DefaultWorkerConfig()
		cfg.TickInterval = 10 * time.Millisecond
		return usecase.NewWorker(key, cfg, source, []service.StrategyProvider{}, ens, nil, metrics.Nop{}, logger.Nop()), nil
	}
	sched := usecase.NewScheduler(factory, nil, metrics.Nop{}, logger.Nop())
	t.Cleanup(sched.StopAll)

	newRisk := func(now func() time.Time) *risk.Engine {
		return risk.NewEngine(risk.Limits{MaxDailyLoss: 100}, risk.Sizing{Mode: risk.ModeFixed, FixedAmount: 1, AMin: 1, ACap: 10}, nil, risk.WithClock(now))
	}
	bt := usecase.NewBacktester(factory, source, newRisk, false, 200, logger.Nop())
	ops := usecase.NewOpsService(sched, engine, ens, registry, logger.Nop(), usecase.WithBacktester(bt))
	reconciler := usecase.NewReconciler(store, source, engine, metrics.Nop{}, logger.Nop(), false, nil)
	h := NewOpsEchoHandler(logger.Nop(), ops, store, reconciler, nil, rl)

	reg := prometheus.NewRegistry()
	srv := xhttp.NewServer(logger.Nop(), []xhttp.Handler{h}, xhttp.WithPrometheus(reg, reg))
	return &apiFixture{srv: srv, engine: engine, sched: sched, ens: ens}
}

func (f *apiFixture) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, xhttp.APIResponse) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	f.srv.Echo().ServeHTTP(rec, req)

	var resp xhttp.APIResponse
	if strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestWorkerStartStopRoundTrip(t *testing.T) {
	f := newAPIFixture(t, nil)
	key := usecase.WorkerKey{Account: "acc-1", Product: "EURUSD", Timeframe: 1}

	rec, _ := f.do(t, http.MethodPost, "/api/workers/start", `{"account":"acc-1","product":"EURUSD"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.True(t, f.sched.IsRunning(key), "timeframe defaults to 1")

	rec, resp := f.do(t, http.MethodGet, "/api/workers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := resp.Data.([]interface{})
	require.Len(t, list, 1)

	rec, _ = f.do(t, http.MethodPost, "/api/workers/stop", `{"account":"acc-1","product":"EURUSD","timeframe":1}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.sched.IsRunning(key))

	rec, _ = f.do(t, http.MethodPost, "/api/workers/stop", `{"account":"acc-1","product":"EURUSD","timeframe":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkerStartValidation(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, resp := f.do(t, http.MethodPost, "/api/workers/start", `{"account":"acc-1","timeframe":7}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := resp.Data.([]interface{})
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.(map[string]interface{})["code"].(string))
	}
	assert.ElementsMatch(t, []string{"ERR_REQUIRED", "ERR_ONEOF"}, codes)
}

func TestKillSwitchAndStatus(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/killswitch", `{"enabled":true,"reason":"drill"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.engine.Guardrails().KillSwitch())

	rec, resp := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := resp.Data.(map[string]interface{})
	assert.Equal(t, true, status["kill_switch"])
	assert.Contains(t, status, "ensemble")

	rec, _ = f.do(t, http.MethodPost, "/api/killswitch", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "enabled is required")
	assert.True(t, f.engine.Guardrails().KillSwitch())
}

func TestResetDailyAndStats(t *testing.T) {
	f := newAPIFixture(t, nil)
	f.engine.Hydrate("acc-1", -30, 2)

	rec, _ := f.do(t, http.MethodPost, "/api/risk/reset-daily", `{"account":"acc-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, f.engine.DailyPnL("acc-1"))

	rec, resp := f.do(t, http.MethodGet, "/api/stats?account=acc-1&product=EURUSD&tf=1&n=20", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 20, stats["last_n"])
	assert.EqualValues(t, 0, stats["consecutive_losses"])
}

func TestStrategiesAndMetrics(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, resp := f.do(t, http.MethodGet, "/api/strategies", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data.([]interface{}), 3)

	rec, _ = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fixedtime_http_requests_total")
}

func TestCalibrate(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, _ := f.do(t, http.MethodPost, "/api/calibrate", `{"scores":[1,-1],"outcomes":[1,0]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "two samples are not enough")
	a, _ := f.ens.Calibration()
	assert.Equal(t, 1.0, a)

	rec, _ = f.do(t, http.MethodPost, "/api/calibrate", `{"scores":[1],"outcomes":[2]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "outcomes are 0 or 1")

	scores, outcomes := make([]string, 0, 20), make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		scores = append(scores, "1", "-1")
		outcomes = append(outcomes, "1", "0")
	}
	body := `{"scores":[` + strings.Join(scores, ",") + `],"outcomes":[` + strings.Join(outcomes, ",") + `]}`
	rec, resp := f.do(t, http.MethodPost, "/api/calibrate", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 20, rep["samples"])
	a, _ = f.ens.Calibration()
	assert.Greater(t, a, 1.0)
}

func TestBacktest(t *testing.T) {
	f := newAPIFixture(t, nil)

	rec, resp := f.do(t, http.MethodPost, "/api/backtest", `{"account":"acc-1","product":"EURUSD","bars":40}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rep := resp.Data.(map[string]interface{})
	assert.EqualValues(t, 40, rep["bars"])
	assert.EqualValues(t, 90, rep["payout_pct"])
	assert.EqualValues(t, 0, rep["total_trades"], "no providers means no direction")
	assert.EqualValues(t, 10, rep["skips"].(map[string]interface{})[usecase.ReasonNoDirection])
	assert.Zero(t, f.engine.DailyPnL("acc-1"))

	rec, _ = f.do(t, http.MethodPost, "/api/backtest", `{"account":"acc-1","product":"EURUSD","timeframe":7}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/backtest", `{"account":"acc-1","product":"EURUSD","bars":500}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "above the bar cap")
}

func TestMutatingRoutesAreRateLimited(t *testing.T) {
	f := newAPIFixture(t, ratelimit.New(1))

	rec, _ := f.do(t, http.MethodPost, "/api/risk/reset-daily", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/api/risk/reset-daily", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/workers", "")
	assert.Equal(t, http.StatusOK, rec.Code, "reads are not throttled")
}
