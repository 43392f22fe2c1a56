package planner

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Planner simulates the decision engine across a full day to produce a
// charging plan with a savings estimate. It is a pure function of its
// request: no I/O, no mutable state.
type Planner struct {
	engine *engine.Engine
}

// New returns a Planner driving the given engine.
func New(e *engine.Engine) *Planner {
	return &Planner{engine: e}
}

// Request is everything one plan generation needs.
type Request struct {
	Date       time.Time
	Prices     types.PriceSeries
	Solar      types.SolarSeries
	Thresholds types.Thresholds
	Battery    types.BatteryConfig
	InitialSOC float64
}

// GeneratePlan walks hours 0-23 in order, feeding the engine a per-hour
// snapshot built from that hour's price/solar and the carried-forward
// simulated SOC, then applies a simplified energy balance. ExpectedSOC is
// clamped to [MinSOC, MaxSOC] at every step.
func (p *Planner) GeneratePlan(ctx context.Context, req Request) types.ChargingPlan {
	bat := req.Battery
	thr := req.Thresholds

	plan := types.ChargingPlan{
		Date:  req.Date.Format("2006-01-02"),
		Hours: make([]types.HourPlan, 0, types.HoursPerDay),
	}

	soc := clampSOC(req.InitialSOC, thr)
	for hour := 0; hour < types.HoursPerDay; hour++ {
		price := req.Prices.Price(hour)
		solarW := req.Solar.Watts(hour)

		d := p.engine.Decide(ctx, engine.Input{
			Telemetry: types.Telemetry{
				SOC:          soc,
				CurrentPrice: price,
				SolarWatts:   solarW,
				LoadWatts:    bat.BaselineLoadW,
				Hour:         hour,
			},
			Thresholds: thr,
			Prices:     req.Prices,
			Solar:      req.Solar,
		})

		surplus := solarW - bat.BaselineLoadW
		switch d.Action {
		case types.ActionChargeFromGrid:
			headroomWh := (thr.MaxSOC - soc) / 100 * bat.CapacityWh
			chargeWh := math.Min(bat.MaxChargeRateW, headroomWh)
			soc += chargeWh / bat.CapacityWh * 100
			plan.GridChargeHours++
			plan.GridChargeCost += price * chargeWh / 1000

		case types.ActionChargeFromSolar:
			headroomWh := (thr.MaxSOC - soc) / 100 * bat.CapacityWh
			chargeWh := math.Min(math.Min(surplus, bat.MaxChargeRateW), headroomWh)
			if chargeWh > 0 {
				soc += chargeWh / bat.CapacityWh * 100
				plan.SolarChargeWh += chargeWh
			}
			if leftover := surplus - math.Max(chargeWh, 0); leftover > 0 {
				plan.GridExportWh += leftover
			}

		case types.ActionDischarge:
			availableWh := (soc - thr.MinSOC) / 100 * bat.CapacityWh
			dischargeWh := math.Min(math.Min(bat.BaselineLoadW, bat.MaxDischargeRateW), availableWh)
			if dischargeWh > 0 {
				soc -= dischargeWh / bat.CapacityWh * 100
			}

		case types.ActionIdle:
			// battery holds; solar the house cannot absorb is exported
			if surplus > 0 {
				plan.GridExportWh += surplus
			}
		}

		soc = clampSOC(soc, thr)
		plan.Hours = append(plan.Hours, types.HourPlan{
			Hour:        hour,
			Price:       price,
			SolarWatts:  solarW,
			Action:      d.Action,
			Reason:      d.Reason,
			ExpectedSOC: soc,
		})
	}

	naive := p.naiveBaselineCost(req)
	plan.Savings = math.Max(0, naive-plan.GridChargeCost)

	log.Ctx(ctx).DebugContext(ctx, "charging plan generated",
		slog.String("date", plan.Date),
		slog.Int("gridChargeHours", plan.GridChargeHours),
		slog.Float64("gridChargeCost", plan.GridChargeCost),
		slog.Float64("solarChargeWh", plan.SolarChargeWh),
		slog.Float64("gridExportWh", plan.GridExportWh),
		slog.Float64("savings", plan.Savings),
	)
	return plan
}

// naiveBaselineCost simulates the strategy the plan is compared against:
// charge from the grid whenever SOC is below target, ignoring price.
func (p *Planner) naiveBaselineCost(req Request) float64 {
	bat := req.Battery
	thr := req.Thresholds

	soc := clampSOC(req.InitialSOC, thr)
	var cost float64
	for hour := 0; hour < types.HoursPerDay; hour++ {
		if soc >= thr.TargetSOC {
			continue
		}
		headroomWh := (thr.TargetSOC - soc) / 100 * bat.CapacityWh
		chargeWh := math.Min(bat.MaxChargeRateW, headroomWh)
		soc += chargeWh / bat.CapacityWh * 100
		cost += req.Prices.Price(hour) * chargeWh / 1000
	}
	return cost
}

func clampSOC(soc float64, thr types.Thresholds) float64 {
	return math.Max(thr.MinSOC, math.Min(thr.MaxSOC, soc))
}
