package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Input is everything a single evaluation needs. The caller is responsible
// for validating telemetry and thresholds before calling Decide.
type Input struct {
	Telemetry  types.Telemetry
	Thresholds types.Thresholds
	Prices     types.PriceSeries
	Solar      types.SolarSeries
}

// Engine is the rule-based decision engine. Decide is a total function: it
// always returns a decision and never errors. The engine holds no mutable
// state, so it is safe to call from any number of goroutines.
type Engine struct {
	heur Heuristics
}

// New returns an Engine with the default heuristics.
func New() *Engine {
	return NewWithHeuristics(DefaultHeuristics())
}

// NewWithHeuristics returns an Engine with the given tuning constants.
func NewWithHeuristics(h Heuristics) *Engine {
	return &Engine{heur: h}
}

// evalState carries derived values and fall-through notes between rules so
// the default rule can explain which guards were not met.
type evalState struct {
	pct      int
	deferred bool
	// deferredToHour is only meaningful when deferred is set
	deferredToHour int
	notes          []string
}

// rule is one predicate/action pair in the chain. It returns a decision
// and true when it fires; otherwise the chain falls through to the next
// rule. The order of the rules IS the control policy.
type rule struct {
	name string
	eval func(ctx context.Context, in Input, st *evalState) (types.Decision, bool)
}

func (e *Engine) rules() []rule {
	return []rule{
		{name: "emergency", eval: e.evalEmergency},
		{name: "solar", eval: e.evalSolar},
		{name: "cheapPrice", eval: e.evalCheapPrice},
		{name: "expensivePrice", eval: e.evalExpensivePrice},
		{name: "nightPrecharge", eval: e.evalNightPrecharge},
	}
}

// Decide evaluates the rule chain in priority order, first match wins.
func (e *Engine) Decide(ctx context.Context, in Input) types.Decision {
	tel := in.Telemetry
	st := &evalState{pct: in.Prices.PercentileRank(tel.CurrentPrice)}

	log.Ctx(ctx).DebugContext(ctx, "engine decide started",
		slog.Float64("soc", tel.SOC),
		slog.Float64("currentPrice", tel.CurrentPrice),
		slog.Int("pricePercentile", st.pct),
		slog.Float64("solarWatts", tel.SolarWatts),
		slog.Float64("loadWatts", tel.LoadWatts),
		slog.Int("hour", tel.Hour),
	)

	for _, r := range e.rules() {
		if d, ok := r.eval(ctx, in, st); ok {
			log.Ctx(ctx).DebugContext(ctx, "rule fired",
				slog.String("rule", r.name),
				slog.String("action", string(d.Action)),
				slog.String("reason", d.Reason),
			)
			return e.finalize(in, st, d)
		}
	}
	return e.finalize(in, st, e.defaultIdle(in, st))
}

func (e *Engine) evalEmergency(ctx context.Context, in Input, st *evalState) (types.Decision, bool) {
	tel := in.Telemetry
	if tel.SOC >= in.Thresholds.EmergencySOC {
		return types.Decision{}, false
	}
	// keep charging until safe regardless of price and solar, so no next
	// review hour is set
	return types.Decision{
		Action:     types.ActionChargeFromGrid,
		Reason:     fmt.Sprintf("Battery critically low (%.0f%% < %.0f%%). Charging from grid.", tel.SOC, in.Thresholds.EmergencySOC),
		Confidence: 1.0,
	}, true
}

func (e *Engine) evalSolar(ctx context.Context, in Input, st *evalState) (types.Decision, bool) {
	tel := in.Telemetry
	if tel.SolarWatts < in.Thresholds.MinSolarWattsForCharge {
		st.notes = append(st.notes, "solar insufficient")
		return types.Decision{}, false
	}
	excess := tel.SolarWatts - tel.LoadWatts
	if excess > 0 && tel.SOC < in.Thresholds.MaxSOC {
		return types.Decision{
			Action:     types.ActionChargeFromSolar,
			Reason:     fmt.Sprintf("Solar excess %.0fW available. Charging from solar.", excess),
			Confidence: 0.9,
		}, true
	}
	if excess >= -e.heur.SolarDeficitToleranceW {
		return types.Decision{
			Action:     types.ActionIdle,
			Reason:     fmt.Sprintf("Solar roughly covering load (excess %.0fW). Idle.", excess),
			Confidence: 0.7,
		}, true
	}
	log.Ctx(ctx).DebugContext(ctx, "solar deficit too large, falling through",
		slog.Float64("excess", excess),
	)
	return types.Decision{}, false
}

func (e *Engine) evalCheapPrice(ctx context.Context, in Input, st *evalState) (types.Decision, bool) {
	tel := in.Telemetry
	thr := in.Thresholds
	if st.pct > thr.PriceLowPercentile || tel.SOC >= thr.TargetSOC {
		return types.Decision{}, false
	}

	// look ahead at other low-percentile hours; a materially cheaper one
	// means we wait for it unless the battery is already low
	if cheaperHour, ok := e.findCheaperUpcomingHour(in); ok && tel.SOC >= e.heur.DeferMinSOC {
		st.deferred = true
		st.deferredToHour = cheaperHour
		st.notes = append(st.notes, fmt.Sprintf("waiting for cheaper hour %02d:00", cheaperHour))
		log.Ctx(ctx).DebugContext(ctx, "cheap hour deferred",
			slog.Int("cheaperHour", cheaperHour),
			slog.Float64("soc", tel.SOC),
		)
		return types.Decision{}, false
	}

	return types.Decision{
		Action:     types.ActionChargeFromGrid,
		Reason:     fmt.Sprintf("Price in cheapest %d%% (percentile %d) and SOC %.0f%% below target %.0f%%. Charging from grid.", thr.PriceLowPercentile, st.pct, tel.SOC, thr.TargetSOC),
		Confidence: 0.8,
	}, true
}

// findCheaperUpcomingHour returns the first upcoming low-percentile hour
// whose price undercuts the current price by at least DeferCheaperFraction.
func (e *Engine) findCheaperUpcomingHour(in Input) (int, bool) {
	tel := in.Telemetry
	cutoff := tel.CurrentPrice * (1 - e.heur.DeferCheaperFraction)
	for h := tel.Hour + 1; h < types.HoursPerDay; h++ {
		p := in.Prices.Price(h)
		if in.Prices.PercentileRank(p) <= in.Thresholds.PriceLowPercentile && p <= cutoff {
			return h, true
		}
	}
	return 0, false
}

func (e *Engine) evalExpensivePrice(ctx context.Context, in Input, st *evalState) (types.Decision, bool) {
	tel := in.Telemetry
	thr := in.Thresholds
	if st.pct < thr.PriceHighPercentile {
		return types.Decision{}, false
	}
	if tel.SOC <= thr.MinSOC+e.heur.ExpensiveSOCMargin {
		st.notes = append(st.notes, "battery too low to discharge")
		return types.Decision{}, false
	}

	// don't burn the battery right before the sun takes over
	if next, ok := in.Solar.NextProductiveHour(tel.Hour, thr.MinSolarWattsForCharge); ok && next-tel.Hour <= e.heur.SolarSoonHours {
		st.notes = append(st.notes, fmt.Sprintf("solar expected at %02d:00", next))
		log.Ctx(ctx).DebugContext(ctx, "discharge skipped, solar soon",
			slog.Int("solarHour", next),
		)
		return types.Decision{}, false
	}

	// protect the night reserve: below the reserve SOC, only discharge if
	// a cheap overnight hour is coming to refill
	if tel.SOC <= e.heur.DischargeReserveSOC && !e.cheapNightHourUpcoming(in) {
		st.notes = append(st.notes, "preserving night reserve")
		return types.Decision{}, false
	}

	return types.Decision{
		Action:     types.ActionDischarge,
		Reason:     fmt.Sprintf("Price in most expensive %d%% (percentile %d) and SOC %.0f%% has margin. Discharging.", 100-thr.PriceHighPercentile, st.pct, tel.SOC),
		Confidence: 0.8,
	}, true
}

// cheapNightHourUpcoming reports whether a low-percentile hour inside the
// overnight window is still ahead of us today.
func (e *Engine) cheapNightHourUpcoming(in Input) bool {
	for h := in.Telemetry.Hour + 1; h < types.HoursPerDay; h++ {
		if h < e.heur.NightWindowStartHour && h > e.heur.NightWindowEndHour {
			continue
		}
		if in.Prices.PercentileRank(in.Prices.Price(h)) <= in.Thresholds.PriceLowPercentile {
			return true
		}
	}
	return false
}

func (e *Engine) evalNightPrecharge(ctx context.Context, in Input, st *evalState) (types.Decision, bool) {
	tel := in.Telemetry
	thr := in.Thresholds
	if tel.Hour > e.heur.NightPrechargeLastHour {
		return types.Decision{}, false
	}
	if st.pct > thr.PriceLowPercentile+e.heur.NightPercentileSlack {
		return types.Decision{}, false
	}
	if tel.SOC >= thr.TargetSOC {
		return types.Decision{}, false
	}
	review := e.heur.NightPrechargeLastHour + 1
	return types.Decision{
		Action:         types.ActionChargeFromGrid,
		Reason:         fmt.Sprintf("Night pre-charge window (hour %d, percentile %d). Charging from grid.", tel.Hour, st.pct),
		Confidence:     0.7,
		NextReviewHour: &review,
	}, true
}

// defaultIdle synthesizes the catch-all decision, explaining which guards
// kept the other rules from firing. The text is diagnostic only.
func (e *Engine) defaultIdle(in Input, st *evalState) types.Decision {
	tel := in.Telemetry
	thr := in.Thresholds

	notes := st.notes
	if tel.SOC >= thr.MaxSOC {
		notes = append(notes, "battery full")
	}
	if st.pct > thr.PriceLowPercentile && st.pct < thr.PriceHighPercentile {
		notes = append(notes, "price mid-range")
	}
	if len(notes) == 0 {
		notes = append(notes, "no action needed")
	}

	// review at the next cheap hour if one is known, otherwise next hour;
	// the next hour always comes first within the same day
	review := (tel.Hour + 1) % types.HoursPerDay
	if next, ok := e.nextCheapHour(in); ok && next < review {
		review = next
	}

	return types.Decision{
		Action:         types.ActionIdle,
		Reason:         "Idle: " + strings.Join(notes, "; ") + ".",
		Confidence:     0.5,
		NextReviewHour: &review,
	}
}

// nextCheapHour returns the first upcoming low-percentile hour today.
func (e *Engine) nextCheapHour(in Input) (int, bool) {
	for h := in.Telemetry.Hour + 1; h < types.HoursPerDay; h++ {
		if in.Prices.PercentileRank(in.Prices.Price(h)) <= in.Thresholds.PriceLowPercentile {
			return h, true
		}
	}
	return 0, false
}

// finalize stamps the shared fields onto a rule's decision.
func (e *Engine) finalize(in Input, st *evalState, d types.Decision) types.Decision {
	tel := in.Telemetry
	d.Timestamp = tel.Timestamp
	d.PricePercentile = st.pct
	d.Factors = e.factors(in, st)
	return d
}

// factors builds the explainability list attached to every decision. These
// are reported, never used for control.
func (e *Engine) factors(in Input, st *evalState) []types.Factor {
	tel := in.Telemetry
	thr := in.Thresholds
	return []types.Factor{
		{
			Name:      "pricePercentile",
			Value:     float64(st.pct),
			Weight:    0.4,
			Favorable: st.pct <= thr.PriceLowPercentile,
		},
		{
			Name:      "soc",
			Value:     tel.SOC,
			Weight:    0.3,
			Favorable: tel.SOC >= thr.TargetSOC,
		},
		{
			Name:      "solarExcessWatts",
			Value:     tel.SolarWatts - tel.LoadWatts,
			Weight:    0.2,
			Favorable: tel.SolarWatts-tel.LoadWatts > 0,
		},
		{
			Name:      "priceVsAverage",
			Value:     tel.CurrentPrice - in.Prices.Average(),
			Weight:    0.1,
			Favorable: tel.CurrentPrice <= in.Prices.Average(),
		},
	}
}
