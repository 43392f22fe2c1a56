package loadmgr

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/hub"
	"github.com/gridpilot/gridpilot/pkg/storage/storagemock"
	"github.com/gridpilot/gridpilot/pkg/types"
)

func testConfig() types.LoadManagerConfig {
	return types.LoadManagerConfig{
		Enabled:             true,
		MaxInverterPowerW:   5000,
		SafetyMarginPercent: 10,
	}
}

func testDevices() []types.LoadDevice {
	return []types.LoadDevice{
		{
			ID:            "fridge",
			Name:          "Fridge",
			Entity:        "switch.fridge",
			Priority:      types.LoadPriorityCritical,
			PowerWatts:    150,
			CanShed:       false,
			MinOffMinutes: 0,
		},
		{
			ID:            "heatpump",
			Name:          "Heat Pump",
			Entity:        "switch.heatpump",
			Priority:      types.LoadPriorityComfort,
			PowerWatts:    2000,
			CanShed:       true,
			MinOffMinutes: 15,
		},
		{
			ID:            "evcharger",
			Name:          "EV Charger",
			Entity:        "switch.evcharger",
			Priority:      types.LoadPriorityAccessory,
			PowerWatts:    3000,
			CanShed:       true,
			MinOffMinutes: 5,
		},
		{
			ID:            "poolpump",
			Name:          "Pool Pump",
			Entity:        "switch.poolpump",
			Priority:      types.LoadPriorityAccessory,
			PowerWatts:    800,
			CanShed:       true,
			MinOffMinutes: 10,
		},
	}
}

func statusAllOn(devices []types.LoadDevice) []DeviceStatus {
	out := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceStatus{Device: d, IsOn: true})
	}
	return out
}

func TestEvaluateNeverShedsCritical(t *testing.T) {
	now := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	in := Input{
		Now:             now,
		SOC:             10,
		PricePercentile: 95,
		LoadWatts:       9000,
		Devices:         statusAllOn(testDevices()),
	}
	evals := Evaluate(context.Background(), in, testConfig())
	require.NotEmpty(t, evals)
	for _, e := range evals {
		assert.NotEqual(t, "fridge", e.DeviceID)
	}
}

func TestEvaluateOverload(t *testing.T) {
	now := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	cfg := testConfig()
	// ceiling is 4500W; 5300W load is 800W over, the EV charger alone
	// covers it (accessory tier, biggest first)
	in := Input{
		Now:             now,
		SOC:             60,
		PricePercentile: 40,
		LoadWatts:       5300,
		Devices:         statusAllOn(testDevices()),
	}
	evals := Evaluate(context.Background(), in, cfg)
	require.Len(t, evals, 1)
	assert.Equal(t, "evcharger", evals[0].DeviceID)
	assert.Equal(t, OpShed, evals[0].Op)
	assert.Equal(t, "overload", evals[0].Rule)

	// far over the ceiling both accessories and then comfort go
	in.LoadWatts = 10000
	evals = Evaluate(context.Background(), in, cfg)
	require.Len(t, evals, 3)
	assert.Equal(t, "evcharger", evals[0].DeviceID)
	assert.Equal(t, "poolpump", evals[1].DeviceID)
	assert.Equal(t, "heatpump", evals[2].DeviceID)
}

func TestEvaluateLowSOCTiers(t *testing.T) {
	now := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	in := Input{
		Now:             now,
		SOC:             18,
		PricePercentile: 80,
		LoadWatts:       1000,
		Devices:         statusAllOn(testDevices()),
	}
	evals := Evaluate(context.Background(), in, testConfig())
	ids := map[string]bool{}
	for _, e := range evals {
		require.Equal(t, OpShed, e.Op)
		ids[e.DeviceID] = true
	}
	assert.True(t, ids["evcharger"])
	assert.True(t, ids["poolpump"])
	assert.False(t, ids["heatpump"], "comfort stays on above the critical floor")

	in.SOC = 12
	evals = Evaluate(context.Background(), in, testConfig())
	ids = map[string]bool{}
	for _, e := range evals {
		ids[e.DeviceID] = true
	}
	assert.True(t, ids["heatpump"], "comfort sheds below the critical floor")
}

func TestEvaluateHysteresis(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 50; i++ {
		offMinutes := rng.Intn(30)
		devices := statusAllOn(testDevices())
		for j := range devices {
			if devices[j].Device.ID == "poolpump" {
				devices[j].IsOn = false
				devices[j].State = types.LoadState{
					DeviceID:  "poolpump",
					IsShed:    true,
					ShedSince: now.Add(-time.Duration(offMinutes) * time.Minute),
				}
			}
		}
		in := Input{
			Now:             now,
			SOC:             70,
			PricePercentile: 10,
			LoadWatts:       500,
			Devices:         devices,
		}
		evals := Evaluate(context.Background(), in, testConfig())
		restored := false
		for _, e := range evals {
			if e.DeviceID == "poolpump" && e.Op == OpRestore {
				restored = true
			}
		}
		if offMinutes >= 10 {
			assert.True(t, restored, "off %dm should restore", offMinutes)
		} else {
			assert.False(t, restored, "off %dm is inside the hysteresis window", offMinutes)
		}
	}
}

func TestEvaluateExcessSolarBudget(t *testing.T) {
	now := time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)
	devices := statusAllOn(testDevices())
	for j := range devices {
		switch devices[j].Device.ID {
		case "poolpump", "evcharger":
			devices[j].IsOn = false
			devices[j].State = types.LoadState{
				DeviceID:  devices[j].Device.ID,
				IsShed:    true,
				ShedSince: now.Add(-time.Hour),
			}
		}
	}
	// 1500W excess, budget 1200W: pool pump (800W) fits, EV charger
	// (3000W) does not
	in := Input{
		Now:             now,
		SOC:             35,
		PricePercentile: 60,
		SolarWatts:      2500,
		LoadWatts:       1000,
		Devices:         devices,
	}
	evals := Evaluate(context.Background(), in, testConfig())
	require.Len(t, evals, 1)
	assert.Equal(t, "poolpump", evals[0].DeviceID)
	assert.Equal(t, OpRestore, evals[0].Op)
	assert.Equal(t, "excessSolar", evals[0].Rule)
}

func TestEvaluateGradualRecovery(t *testing.T) {
	now := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)
	devices := statusAllOn(testDevices())
	for j := range devices {
		switch devices[j].Device.ID {
		case "heatpump", "poolpump":
			devices[j].IsOn = false
			devices[j].State = types.LoadState{
				DeviceID:  devices[j].Device.ID,
				IsShed:    true,
				ShedSince: now.Add(-time.Hour),
			}
		}
	}
	in := Input{
		Now:             now,
		SOC:             45,
		PricePercentile: 40,
		LoadWatts:       1000,
		Devices:         devices,
	}
	evals := Evaluate(context.Background(), in, testConfig())
	require.Len(t, evals, 1)
	// comfort tier outranks accessory on the way back
	assert.Equal(t, "heatpump", evals[0].DeviceID)
	assert.Equal(t, OpRestore, evals[0].Op)
	assert.Equal(t, "gradualRecovery", evals[0].Rule)
}

func TestEvaluateGradualRecoveryFirstCandidateOnly(t *testing.T) {
	now := time.Date(2026, 1, 10, 14, 0, 0, 0, time.UTC)
	devices := statusAllOn(testDevices())
	for j := range devices {
		switch devices[j].Device.ID {
		case "heatpump", "poolpump":
			devices[j].IsOn = false
			devices[j].State = types.LoadState{
				DeviceID:  devices[j].Device.ID,
				IsShed:    true,
				ShedSince: now.Add(-time.Hour),
			}
		}
	}
	// headroom 1500W, budget 1200W: the heat pump (2000W) outranks the
	// pool pump (800W) but does not fit, so nothing restores
	in := Input{
		Now:             now,
		SOC:             45,
		PricePercentile: 40,
		LoadWatts:       3000,
		Devices:         devices,
	}
	evals := Evaluate(context.Background(), in, testConfig())
	assert.Empty(t, evals, "no fallback to a smaller candidate")
}

func TestEvaluatePure(t *testing.T) {
	now := time.Date(2026, 1, 10, 18, 0, 0, 0, time.UTC)
	in := Input{
		Now:             now,
		SOC:             18,
		PricePercentile: 80,
		LoadWatts:       6000,
		Devices:         statusAllOn(testDevices()),
	}
	a := Evaluate(context.Background(), in, testConfig())
	b := Evaluate(context.Background(), in, testConfig())
	assert.Equal(t, a, b)
}

func TestExecuteCriticalRefused(t *testing.T) {
	h := &hub.Mock{}
	db := &storagemock.MockDatabase{}
	m := New(testConfig(), testDevices(), h, db)

	results := m.Execute(context.Background(), time.Now(), []Evaluation{
		{DeviceID: "fridge", Entity: "switch.fridge", Op: OpShed, Rule: "overload"},
	})
	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.ErrorIs(t, results[0].Err, types.ErrDeviceNotShedable)
	h.AssertNotCalled(t, "TurnOff", mock.Anything, mock.Anything)
}

func TestExecuteLastWriterWins(t *testing.T) {
	now := time.Now()
	h := &hub.Mock{}
	db := &storagemock.MockDatabase{}
	m := New(testConfig(), testDevices(), h, db)

	h.On("TurnOn", mock.Anything, "switch.poolpump").Return(nil).Once()
	db.On("MarkLoadRestored", mock.Anything, "poolpump").Return(nil).Once()

	results := m.Execute(context.Background(), now, []Evaluation{
		{DeviceID: "poolpump", Entity: "switch.poolpump", Op: OpShed, Rule: "lowSOC"},
		{DeviceID: "poolpump", Entity: "switch.poolpump", Op: OpRestore, Rule: "excessSolar"},
	})
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.Equal(t, OpRestore, results[0].Evaluation.Op)
	h.AssertExpectations(t)
	db.AssertExpectations(t)
}

func TestExecuteFailureIsolation(t *testing.T) {
	now := time.Now()
	h := &hub.Mock{}
	db := &storagemock.MockDatabase{}
	m := New(testConfig(), testDevices(), h, db)

	h.On("TurnOff", mock.Anything, "switch.evcharger").Return(errors.New("unreachable")).Once()
	h.On("TurnOff", mock.Anything, "switch.poolpump").Return(nil).Once()
	db.On("MarkLoadShed", mock.Anything, "poolpump", "Load high", now).Return(nil).Once()

	results := m.Execute(context.Background(), now, []Evaluation{
		{DeviceID: "evcharger", Entity: "switch.evcharger", Op: OpShed, Rule: "overload", Reason: "Load high"},
		{DeviceID: "poolpump", Entity: "switch.poolpump", Op: OpShed, Rule: "overload", Reason: "Load high"},
	})
	require.Len(t, results, 2)
	assert.False(t, results[0].OK)
	assert.Error(t, results[0].Err)
	assert.True(t, results[1].OK)
	h.AssertExpectations(t)
	db.AssertExpectations(t)
}

func TestRestoreHysteresisScenario(t *testing.T) {
	t0 := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	devices := []types.LoadDevice{{
		ID:            "d1",
		Name:          "Device One",
		Entity:        "switch.d1",
		Priority:      types.LoadPriorityAccessory,
		PowerWatts:    500,
		CanShed:       true,
		MinOffMinutes: 10,
	}}
	shedState := types.LoadState{DeviceID: "d1", IsShed: true, ShedSince: t0}

	restoreInput := func(now time.Time) Input {
		return Input{
			Now:             now,
			SOC:             70,
			PricePercentile: 10,
			LoadWatts:       300,
			Devices:         []DeviceStatus{{Device: devices[0], IsOn: false, State: shedState}},
		}
	}

	evals := Evaluate(context.Background(), restoreInput(t0.Add(5*time.Minute)), testConfig())
	assert.Empty(t, evals, "5 minutes in, the hysteresis window still holds")

	evals = Evaluate(context.Background(), restoreInput(t0.Add(11*time.Minute)), testConfig())
	require.Len(t, evals, 1)
	assert.Equal(t, OpRestore, evals[0].Op)

	h := &hub.Mock{}
	db := &storagemock.MockDatabase{}
	m := New(testConfig(), devices, h, db)
	now := t0.Add(11 * time.Minute)
	h.On("TurnOn", mock.Anything, "switch.d1").Return(nil).Once()
	db.On("MarkLoadRestored", mock.Anything, "d1").Return(nil).Once()

	results := m.Execute(context.Background(), now, evals)
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	h.AssertExpectations(t)
	db.AssertExpectations(t)
}
