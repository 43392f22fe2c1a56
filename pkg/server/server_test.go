package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/hub"
	"github.com/gridpilot/gridpilot/pkg/loadmgr"
	"github.com/gridpilot/gridpilot/pkg/planner"
	"github.com/gridpilot/gridpilot/pkg/prices"
	"github.com/gridpilot/gridpilot/pkg/scheduler"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage/storagemock"
	"github.com/gridpilot/gridpilot/pkg/types"
)

type stubPrices struct {
	series types.PriceSeries
	err    error
}

var _ prices.Provider = stubPrices{}

func (p stubPrices) GetDay(context.Context, time.Time) (types.PriceSeries, error) {
	return p.series, p.err
}

func (p stubPrices) Validate() error { return nil }

type stubSolar struct {
	series types.SolarSeries
}

var _ solar.Provider = stubSolar{}

func (p stubSolar) GetDay(context.Context, time.Time) (types.SolarSeries, error) {
	return p.series, nil
}

func (p stubSolar) Validate() error { return nil }

func testSeries(t *testing.T) (types.PriceSeries, types.SolarSeries) {
	t.Helper()
	date := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	pp := make([]types.PricePoint, types.HoursPerDay)
	sp := make([]types.SolarPoint, types.HoursPerDay)
	for h := 0; h < types.HoursPerDay; h++ {
		pp[h] = types.PricePoint{Hour: h, EURPerKWH: 0.10 + float64(h)*0.01}
		sp[h] = types.SolarPoint{Hour: h}
	}
	ps, err := types.NewPriceSeries(date, pp)
	require.NoError(t, err)
	ss, err := types.NewSolarSeries(date, sp)
	require.NoError(t, err)
	return ps, ss
}

func testConfig() *config.Config {
	return &config.Config{
		Thresholds: types.Thresholds{
			PriceLowPercentile:  25,
			PriceHighPercentile: 75,
			MinSOC:              20,
			MaxSOC:              95,
			TargetSOC:           80,
			EmergencySOC:        10,
		},
		Battery: types.BatteryConfig{
			CapacityWh:        10000,
			MaxChargeRateW:    3000,
			MaxDischargeRateW: 3000,
			BaselineLoadW:     500,
		},
		LoadManager:  types.LoadManagerConfig{MaxInverterPowerW: 5000, SafetyMarginPercent: 10},
		TickInterval: 5 * time.Minute,
	}
}

type testEnv struct {
	srv *Server
	hub *hub.Mock
	db  *storagemock.MockDatabase
	web *httptest.Server
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, string, string) error { return nil }

func testLoadDevices() []types.LoadDevice {
	return []types.LoadDevice{{
		ID:            "poolpump",
		Name:          "Pool Pump",
		Entity:        "switch.poolpump",
		Priority:      types.LoadPriorityAccessory,
		PowerWatts:    800,
		CanShed:       true,
		MinOffMinutes: 10,
	}}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ps, ss := testSeries(t)
	h := &hub.Mock{}
	db := &storagemock.MockDatabase{}
	cfg := testConfig()
	eng := engine.New()

	sched := scheduler.New(scheduler.Deps{
		Config:   cfg,
		Hub:      h,
		DB:       db,
		Engine:   eng,
		Prices:   stubPrices{series: ps},
		Solar:    stubSolar{series: ss},
		Notifier: noopNotifier{},
	})

	srv := New(Deps{
		Config:  cfg,
		Hub:     h,
		DB:      db,
		Sched:   sched,
		Planner: planner.New(eng),
		Prices:  stubPrices{series: ps},
		Solar:   stubSolar{series: ss},
		Loads:   loadmgr.New(cfg.LoadManager, testLoadDevices(), h, db),
	})
	web := httptest.NewServer(srv.setupHandler())
	t.Cleanup(web.Close)
	return &testEnv{srv: srv, hub: h, db: db, web: web}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.web.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t)
	env.srv.apiToken = "secret"
	env.hub.On("Ping", mock.Anything).Return(nil)

	resp, err := http.Get(env.web.URL + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, _ := http.NewRequest("GET", env.web.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// healthz and metrics stay open
	resp, err = http.Get(env.web.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.hub.On("Ping", mock.Anything).Return(nil)

	resp, err := http.Get(env.web.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status statusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.HubOK)
	assert.Equal(t, scheduler.StateStopped, status.Scheduler.State)
}

func TestLastDecision(t *testing.T) {
	env := newTestEnv(t)
	env.db.On("GetLastDecision", mock.Anything).
		Return(types.Decision{ID: "d-1", Action: types.ActionIdle}, true, nil).Once()

	resp, err := http.Get(env.web.URL + "/api/decision")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var d types.Decision
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&d))
	assert.Equal(t, "d-1", d.ID)
}

func TestLastDecisionMissing(t *testing.T) {
	env := newTestEnv(t)
	env.db.On("GetLastDecision", mock.Anything).
		Return(types.Decision{}, false, nil).Once()

	resp, err := http.Get(env.web.URL + "/api/decision")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlan(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.web.URL + "/api/plan?date=2026-02-03")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var plan types.ChargingPlan
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plan))
	assert.Len(t, plan.Hours, 24)
	for _, h := range plan.Hours {
		assert.GreaterOrEqual(t, h.ExpectedSOC, 20.0)
		assert.LessOrEqual(t, h.ExpectedSOC, 95.0)
	}
}

func TestPlanBadDate(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.web.URL + "/api/plan?date=tomorrow")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoadsReportsShedDuration(t *testing.T) {
	env := newTestEnv(t)
	shedSince := time.Now().Add(-20 * time.Minute)

	env.hub.On("IsOn", mock.Anything, "switch.poolpump").Return(false, nil)
	env.db.On("GetLoadStates", mock.Anything).Return(map[string]types.LoadState{
		"poolpump": {DeviceID: "poolpump", IsShed: true, ShedSince: shedSince},
	}, nil)
	env.db.On("GetShedDuration", mock.Anything, "poolpump", mock.Anything).
		Return(20*time.Minute, nil).Once()

	resp, err := http.Get(env.web.URL + "/api/loads")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var loads []loadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&loads))
	require.Len(t, loads, 1)
	assert.Equal(t, "poolpump", loads[0].Device.ID)
	assert.False(t, loads[0].IsOn)
	assert.True(t, loads[0].State.IsShed)
	assert.InDelta(t, (20 * time.Minute).Seconds(), loads[0].ShedDurationSeconds, 0.001)
	env.db.AssertExpectations(t)
}

func TestSchedulerControls(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.web.URL+"/api/scheduler/pause", "application/json",
		strings.NewReader(`{"reason":"testing"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap scheduler.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, scheduler.StatePaused, snap.State)
	assert.Equal(t, "testing", snap.PausedReason)

	resp, err = http.Post(env.web.URL+"/api/scheduler/resume", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.NotEqual(t, scheduler.StatePaused, snap.State)
}

func TestForceTickEndpoint(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC)

	env.hub.On("Ping", mock.Anything).Return(nil)
	env.hub.On("ReadTelemetry", mock.Anything).Return(types.Telemetry{
		Timestamp:    now,
		SOC:          85,
		LoadWatts:    600,
		CurrentPrice: 0.21,
		Hour:         12,
	}, nil)
	env.hub.On("ApplyAction", mock.Anything, mock.Anything).Return(nil)
	env.db.On("InsertDecision", mock.Anything, mock.Anything).Return(nil)
	env.db.On("InsertHourlyStat", mock.Anything, mock.Anything).Return(nil).Maybe()

	resp, err := http.Post(env.web.URL+"/api/scheduler/tick", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var snap scheduler.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, int64(1), snap.TickCount)
	require.NotNil(t, snap.LastDecision)
}

func TestWebsocketFeed(t *testing.T) {
	env := newTestEnv(t)
	now := time.Date(2026, 2, 3, 12, 30, 0, 0, time.UTC)

	env.hub.On("Ping", mock.Anything).Return(nil)
	env.hub.On("ReadTelemetry", mock.Anything).Return(types.Telemetry{
		Timestamp:    now,
		SOC:          85,
		LoadWatts:    600,
		CurrentPrice: 0.21,
		Hour:         12,
	}, nil)
	env.hub.On("ApplyAction", mock.Anything, mock.Anything).Return(nil)
	env.db.On("InsertDecision", mock.Anything, mock.Anything).Return(nil)
	env.db.On("InsertHourlyStat", mock.Anything, mock.Anything).Return(nil).Maybe()

	wsURL := "ws" + strings.TrimPrefix(env.web.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// first message is the current snapshot
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env1 wsEnvelope
	require.NoError(t, conn.ReadJSON(&env1))
	assert.Equal(t, "tick", env1.Type)

	require.NoError(t, env.srv.sched.ForceTick(context.Background()))

	var env2 wsEnvelope
	require.NoError(t, conn.ReadJSON(&env2))
	assert.Equal(t, "tick", env2.Type)
	payload, err := json.Marshal(env2.Payload)
	require.NoError(t, err)
	var snap scheduler.Snapshot
	require.NoError(t, json.Unmarshal(payload, &snap))
	assert.Equal(t, int64(1), snap.TickCount)
}
