package loadmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/hub"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Manager executes evaluations against the hub and records shed state.
type Manager struct {
	cfg     types.LoadManagerConfig
	devices map[string]types.LoadDevice
	control hub.LoadControl
	db      storage.Database
}

// Result is the outcome of one executed evaluation. A failed actuation is
// reported here rather than aborting the batch.
type Result struct {
	Evaluation Evaluation
	OK         bool
	Err        error
}

// Configured returns a Manager whose device list resolves once flags are
// parsed.
func Configured(cfg *config.Config, control hub.LoadControl, db storage.Database) *Manager {
	m := &Manager{
		devices: make(map[string]types.LoadDevice),
		control: control,
		db:      db,
	}
	lflag.Do(func() {
		m.cfg = cfg.LoadManager
		for _, d := range cfg.Devices {
			m.devices[d.ID] = d
		}
	})
	return m
}

// New returns a Manager over the configured devices.
func New(cfg types.LoadManagerConfig, devices []types.LoadDevice, control hub.LoadControl, db storage.Database) *Manager {
	m := &Manager{
		cfg:     cfg,
		devices: make(map[string]types.LoadDevice, len(devices)),
		control: control,
		db:      db,
	}
	for _, d := range devices {
		m.devices[d.ID] = d
	}
	return m
}

// Devices returns the configured device list.
func (m *Manager) Devices() []types.LoadDevice {
	out := make([]types.LoadDevice, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

// Status builds the per-device snapshot Evaluate consumes, combining the
// configured devices with live hub state and persisted shed records.
func (m *Manager) Status(ctx context.Context) ([]DeviceStatus, error) {
	states, err := m.db.GetLoadStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading shed states: %w", err)
	}
	out := make([]DeviceStatus, 0, len(m.devices))
	for _, d := range m.devices {
		on, err := m.control.IsOn(ctx, d.Entity)
		if err != nil {
			return nil, fmt.Errorf("reading state of %s: %w", d.ID, err)
		}
		out = append(out, DeviceStatus{Device: d, IsOn: on, State: states[d.ID]})
	}
	return out, nil
}

// Execute applies evaluations against the hub. When a device appears more
// than once the last evaluation wins. Failures are isolated per device:
// one device refusing to switch does not block the others. Attempting to
// shed a critical device is never actuated and comes back as a failed
// Result.
func (m *Manager) Execute(ctx context.Context, now time.Time, evals []Evaluation) []Result {
	// last writer wins per device, first mention keeps the slot
	lastIdx := make(map[string]int, len(evals))
	var order []string
	for i, e := range evals {
		if _, ok := lastIdx[e.DeviceID]; !ok {
			order = append(order, e.DeviceID)
		}
		lastIdx[e.DeviceID] = i
	}

	results := make([]Result, 0, len(order))
	for _, id := range order {
		results = append(results, m.execute(ctx, now, evals[lastIdx[id]]))
	}
	return results
}

func (m *Manager) execute(ctx context.Context, now time.Time, e Evaluation) Result {
	l := log.Ctx(ctx).With(
		slog.String("deviceID", e.DeviceID),
		slog.String("op", string(e.Op)),
		slog.String("rule", e.Rule),
	)

	d, ok := m.devices[e.DeviceID]
	if !ok {
		return Result{Evaluation: e, Err: fmt.Errorf("%w: %s", types.ErrDeviceNotFound, e.DeviceID)}
	}

	switch e.Op {
	case OpShed:
		if d.Priority == types.LoadPriorityCritical {
			l.WarnContext(ctx, "refusing to shed critical device")
			return Result{Evaluation: e, Err: fmt.Errorf("%w: %s", types.ErrDeviceNotShedable, e.DeviceID)}
		}
		if err := m.control.TurnOff(ctx, d.Entity); err != nil {
			l.ErrorContext(ctx, "shed failed", slog.Any("error", err))
			return Result{Evaluation: e, Err: fmt.Errorf("shedding %s: %w", e.DeviceID, err)}
		}
		if err := m.db.MarkLoadShed(ctx, e.DeviceID, e.Reason, now); err != nil {
			return Result{Evaluation: e, Err: fmt.Errorf("recording shed of %s: %w", e.DeviceID, err)}
		}
		l.InfoContext(ctx, "device shed", slog.String("reason", e.Reason))
		return Result{Evaluation: e, OK: true}
	case OpRestore:
		if err := m.control.TurnOn(ctx, d.Entity); err != nil {
			l.ErrorContext(ctx, "restore failed", slog.Any("error", err))
			return Result{Evaluation: e, Err: fmt.Errorf("restoring %s: %w", e.DeviceID, err)}
		}
		if err := m.db.MarkLoadRestored(ctx, e.DeviceID); err != nil {
			return Result{Evaluation: e, Err: fmt.Errorf("recording restore of %s: %w", e.DeviceID, err)}
		}
		l.InfoContext(ctx, "device restored", slog.String("reason", e.Reason))
		return Result{Evaluation: e, OK: true}
	default:
		return Result{Evaluation: e, Err: fmt.Errorf("unknown op %q for %s", e.Op, e.DeviceID)}
	}
}
