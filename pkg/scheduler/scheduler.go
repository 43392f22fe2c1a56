// Package scheduler owns the autonomous control loop: it ticks on an
// interval, drives the decision engine against live telemetry and
// forecasts, applies actions through the hub and pauses itself when the
// system looks unhealthy.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridpilot/gridpilot/pkg/config"
	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/hub"
	"github.com/gridpilot/gridpilot/pkg/loadmgr"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/metrics"
	"github.com/gridpilot/gridpilot/pkg/notify"
	"github.com/gridpilot/gridpilot/pkg/prices"
	"github.com/gridpilot/gridpilot/pkg/solar"
	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// maxConsecutiveErrors is the run of failed ticks that pauses the loop.
const maxConsecutiveErrors = 5

// reassertEvery re-applies the current action after this many successful
// ticks even when the decision did not change, in case the hub was
// reconfigured behind our back.
const reassertEvery = 4

// hourlyStatWindowMinutes bounds how late into the hour a stat is still
// written for that hour.
const hourlyStatWindowMinutes = 15

// State is the lifecycle state of the loop.
type State string

const (
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Snapshot is a point-in-time view of the loop for status APIs and
// websocket broadcasts.
type Snapshot struct {
	State             State           `json:"state"`
	PausedReason      string          `json:"pausedReason,omitempty"`
	AutoPaused        bool            `json:"autoPaused,omitempty"`
	TickCount         int64           `json:"tickCount"`
	ConsecutiveErrors int             `json:"consecutiveErrors"`
	LastTick          time.Time       `json:"lastTick,omitzero"`
	LastError         string          `json:"lastError,omitempty"`
	LastDecision      *types.Decision `json:"lastDecision,omitempty"`
	LastTelemetry     *types.Telemetry `json:"lastTelemetry,omitempty"`
}

// Deps are the collaborators one Scheduler needs.
type Deps struct {
	Config   *config.Config
	Hub      hub.System
	DB       storage.Database
	Engine   *engine.Engine
	Prices   prices.Provider
	Solar    solar.Provider
	Loads    *loadmgr.Manager
	Notifier notify.Notifier
}

// Scheduler runs the control loop. Ticks are single-flight: the next
// timer is armed only after the previous tick fully settles.
type Scheduler struct {
	deps Deps
	now  func() time.Time

	tickMu sync.Mutex

	mu                sync.Mutex
	state             State
	pausedReason      string
	autoPaused        bool
	tickCount         int64
	consecutiveErrors int
	successSinceApply int
	lastAppliedAction types.BatteryAction
	lastStatHourStart time.Time
	lastTick          time.Time
	lastError         string
	lastDecision      *types.Decision
	lastTelemetry     *types.Telemetry
	listeners         []func(Snapshot)
}

// New returns a stopped Scheduler; call Run to start ticking.
func New(deps Deps) *Scheduler {
	return &Scheduler{
		deps:  deps,
		now:   time.Now,
		state: StateStopped,
	}
}

// OnTick registers a listener called with a snapshot after every tick
// attempt. Listeners must not block.
func (s *Scheduler) OnTick(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns the current loop state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() Snapshot {
	return Snapshot{
		State:             s.state,
		PausedReason:      s.pausedReason,
		AutoPaused:        s.autoPaused,
		TickCount:         s.tickCount,
		ConsecutiveErrors: s.consecutiveErrors,
		LastTick:          s.lastTick,
		LastError:         s.lastError,
		LastDecision:      s.lastDecision,
		LastTelemetry:     s.lastTelemetry,
	}
}

// Pause stops automatic ticks until Resume. Manual ticks still work.
func (s *Scheduler) Pause(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StatePaused {
		return
	}
	s.state = StatePaused
	s.pausedReason = reason
	s.autoPaused = false
}

// Resume restarts automatic ticks and clears the error run, giving the
// loop a fresh window before it would pause itself again.
func (s *Scheduler) Resume(ctx context.Context) {
	s.mu.Lock()
	wasAuto := s.autoPaused
	if s.state == StatePaused {
		s.state = StateRunning
	}
	s.pausedReason = ""
	s.autoPaused = false
	s.consecutiveErrors = 0
	s.mu.Unlock()

	metrics.ConsecutiveErrors.Set(0)
	if wasAuto {
		if err := s.deps.Notifier.Notify(ctx, "GridPilot resumed", "Control loop resumed by operator after auto-pause"); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to send resume notification", slog.Any("error", err))
		}
	}
}

// ForceTick runs one tick immediately, even while paused. It blocks until
// the tick settles and returns its error.
func (s *Scheduler) ForceTick(ctx context.Context) error {
	return s.runTick(ctx, true)
}

// Run ticks until ctx is cancelled. The first tick fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.state = StateRunning
	}
	interval := s.deps.Config.TickInterval
	s.mu.Unlock()

	ctx, l := log.Component(ctx, "scheduler")
	l.InfoContext(ctx, "scheduler started", slog.Duration("interval", interval))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.state = StateStopped
			s.mu.Unlock()
			log.Ctx(ctx).InfoContext(ctx, "scheduler stopped")
			return ctx.Err()
		case <-timer.C:
			if err := s.runTick(ctx, false); err != nil && !errors.Is(err, errPaused) {
				log.Ctx(ctx).ErrorContext(ctx, "tick failed", slog.Any("error", err))
			}
			timer.Reset(interval)
		}
	}
}

var errPaused = errors.New("scheduler is paused")

// runTick serializes tick execution. forced ticks bypass the paused
// check but still hold the tick mutex.
func (s *Scheduler) runTick(ctx context.Context, forced bool) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	if s.state == StatePaused && !forced {
		s.mu.Unlock()
		return errPaused
	}
	s.mu.Unlock()

	now := s.now()
	err := s.tick(ctx, now)

	s.mu.Lock()
	s.tickCount++
	s.lastTick = now
	if err != nil {
		s.lastError = err.Error()
		s.consecutiveErrors++
		metrics.ConsecutiveErrors.Set(float64(s.consecutiveErrors))
		metrics.TicksTotal.WithLabelValues("error").Inc()
		metrics.TickErrors.WithLabelValues(errorKind(err)).Inc()
		shouldPause := s.consecutiveErrors >= maxConsecutiveErrors && s.state != StatePaused
		if shouldPause {
			s.state = StatePaused
			s.autoPaused = true
			s.pausedReason = fmt.Sprintf("%d consecutive tick failures, last: %v", s.consecutiveErrors, err)
		}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		if shouldPause {
			log.Ctx(ctx).ErrorContext(ctx, "auto-pausing after consecutive failures",
				slog.Int("consecutiveErrors", snap.ConsecutiveErrors),
				slog.Any("error", err),
			)
			if nerr := s.deps.Notifier.Notify(ctx, "GridPilot paused", snap.PausedReason); nerr != nil {
				log.Ctx(ctx).WarnContext(ctx, "failed to send pause notification", slog.Any("error", nerr))
			}
		}
		s.emit(snap)
		return err
	}

	s.lastError = ""
	s.consecutiveErrors = 0
	metrics.ConsecutiveErrors.Set(0)
	metrics.TicksTotal.WithLabelValues("ok").Inc()
	metrics.LastTickTimestamp.Set(float64(now.Unix()))
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.emit(snap)
	return nil
}

func (s *Scheduler) emit(snap Snapshot) {
	s.mu.Lock()
	listeners := append([]func(Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

// tick is one full control cycle: connectivity check, telemetry read,
// forecast fetch, decision, actuation, load management, bookkeeping.
func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	l := log.Ctx(ctx)

	if err := s.deps.Hub.Ping(ctx); err != nil {
		return fmt.Errorf("hub ping: %w", err)
	}

	tel, err := s.deps.Hub.ReadTelemetry(ctx)
	if err != nil {
		return fmt.Errorf("reading telemetry: %w", err)
	}
	metrics.BatterySOC.Set(tel.SOC)

	priceDay, err := s.deps.Prices.GetDay(ctx, now)
	if err != nil {
		return fmt.Errorf("fetching prices: %w", err)
	}
	solarDay, err := s.deps.Solar.GetDay(ctx, now)
	if err != nil {
		return fmt.Errorf("fetching solar forecast: %w", err)
	}

	// The hub exposes no price sensor; the current-hour price always
	// comes from the day-ahead series.
	tel.CurrentPrice = priceDay.Price(tel.Hour)

	decision := s.deps.Engine.Decide(ctx, engine.Input{
		Telemetry:  tel,
		Thresholds: s.deps.Config.Thresholds,
		Prices:     priceDay,
		Solar:      solarDay,
	})
	decision.ID = uuid.NewString()
	metrics.DecisionsTotal.WithLabelValues(string(decision.Action)).Inc()
	metrics.PricePercentile.Set(float64(decision.PricePercentile))

	applyErr := s.maybeApply(ctx, &decision)

	if err := s.deps.DB.InsertDecision(ctx, decision); err != nil {
		return fmt.Errorf("persisting decision: %w", err)
	}

	s.mu.Lock()
	s.lastDecision = &decision
	s.lastTelemetry = &tel
	s.mu.Unlock()

	// An actuation failure is carried on the persisted decision record;
	// it does not abort the tick and does not count toward auto-pause.
	if applyErr != nil {
		metrics.TickErrors.WithLabelValues("actuation").Inc()
		l.WarnContext(ctx, "failed to apply action",
			slog.String("action", string(decision.Action)),
			slog.Any("error", applyErr),
		)
	}

	if err := s.manageLoads(ctx, now, tel, decision); err != nil {
		return fmt.Errorf("managing loads: %w", err)
	}

	if err := s.maybeWriteHourlyStat(ctx, now, tel, decision); err != nil {
		return fmt.Errorf("writing hourly stat: %w", err)
	}

	l.InfoContext(ctx, "tick completed",
		slog.String("decisionID", decision.ID),
		slog.String("action", string(decision.Action)),
		slog.String("reason", decision.Reason),
		slog.Bool("applied", decision.Applied),
		slog.Float64("soc", tel.SOC),
		slog.Int("pricePercentile", decision.PricePercentile),
	)
	return nil
}

// maybeApply sends the decision's action to the hub when it differs from
// the last applied action, and re-asserts an unchanged action every few
// successful ticks. The decision's Applied/Error fields record the
// outcome before it is persisted.
func (s *Scheduler) maybeApply(ctx context.Context, d *types.Decision) error {
	s.mu.Lock()
	changed := d.Action != s.lastAppliedAction
	reassert := s.successSinceApply >= reassertEvery-1
	s.mu.Unlock()

	if !changed && !reassert {
		s.mu.Lock()
		s.successSinceApply++
		s.mu.Unlock()
		return nil
	}

	if err := s.deps.Hub.ApplyAction(ctx, d.Action); err != nil {
		d.Error = err.Error()
		return err
	}
	d.Applied = true
	metrics.ActionsApplied.WithLabelValues(string(d.Action)).Inc()

	s.mu.Lock()
	s.lastAppliedAction = d.Action
	s.successSinceApply = 0
	s.mu.Unlock()
	return nil
}

// manageLoads evaluates and executes the shed/restore rules when the
// load manager is enabled. Individual device failures are logged but do
// not fail the tick; losing one switch should not stall battery control.
func (s *Scheduler) manageLoads(ctx context.Context, now time.Time, tel types.Telemetry, d types.Decision) error {
	if s.deps.Loads == nil || !s.deps.Config.LoadManager.Enabled {
		return nil
	}

	statuses, err := s.deps.Loads.Status(ctx)
	if err != nil {
		return err
	}
	evals := loadmgr.Evaluate(ctx, loadmgr.Input{
		Now:             now,
		SOC:             tel.SOC,
		PricePercentile: d.PricePercentile,
		SolarWatts:      tel.SolarWatts,
		LoadWatts:       tel.LoadWatts,
		Devices:         statuses,
	}, s.deps.Config.LoadManager)

	results := s.deps.Loads.Execute(ctx, now, evals)
	for _, r := range results {
		if !r.OK {
			log.Ctx(ctx).WarnContext(ctx, "load action failed",
				slog.String("deviceID", r.Evaluation.DeviceID),
				slog.String("op", string(r.Evaluation.Op)),
				slog.Any("error", r.Err),
			)
		}
	}

	states, err := s.deps.DB.GetLoadStates(ctx)
	if err != nil {
		return err
	}
	var shed int
	for _, st := range states {
		if st.IsShed {
			shed++
		}
	}
	metrics.LoadsShed.Set(float64(shed))
	return nil
}

// maybeWriteHourlyStat records one stat row for the first tick of each
// hour. Ticks landing late in the hour skip the row rather than write a
// misleading snapshot.
func (s *Scheduler) maybeWriteHourlyStat(ctx context.Context, now time.Time, tel types.Telemetry, d types.Decision) error {
	if now.Minute() >= hourlyStatWindowMinutes {
		return nil
	}
	hourStart := now.Truncate(time.Hour)

	s.mu.Lock()
	done := s.lastStatHourStart.Equal(hourStart)
	s.mu.Unlock()
	if done {
		return nil
	}

	if err := s.deps.DB.InsertHourlyStat(ctx, types.HourlyStat{
		TSHourStart: hourStart,
		SOC:         tel.SOC,
		Price:       tel.CurrentPrice,
		SolarWatts:  tel.SolarWatts,
		LoadWatts:   tel.LoadWatts,
		Action:      d.Action,
	}); err != nil {
		return err
	}

	s.mu.Lock()
	s.lastStatHourStart = hourStart
	s.mu.Unlock()
	return nil
}

// errorKind buckets a tick error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, types.ErrConnectivity):
		return "connectivity"
	case errors.Is(err, types.ErrDataUnavailable):
		return "data_unavailable"
	case errors.Is(err, types.ErrActuationFailed):
		return "actuation"
	default:
		return "internal"
	}
}
