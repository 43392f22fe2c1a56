package loadmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
)

// Rule thresholds for the shed/restore policy. These bound when each rule
// fires; the power-budget fractions keep restores conservative so a
// restore can not immediately re-trigger the overload rule.
const (
	lowSOC          = 20
	criticalSOC     = 15
	goodSOC         = 50
	recoverySOC     = 40
	elevatedPricePct = 50
	cheapPricePct    = 30
	recoveryPricePct = 50
	excessSolarWatts = 1000
	// fraction of solar excess / headroom a restore may consume
	restoreBudgetFraction = 0.8
)

// Op is a proposed load action.
type Op string

const (
	OpShed    Op = "shed"
	OpRestore Op = "restore"
)

// DeviceStatus pairs a configured device with its live and persisted
// state for one evaluation.
type DeviceStatus struct {
	Device types.LoadDevice
	IsOn   bool
	State  types.LoadState
}

// Input is one evaluation's view of the world.
type Input struct {
	Now             time.Time
	SOC             float64
	PricePercentile int
	SolarWatts      float64
	LoadWatts       float64
	Devices         []DeviceStatus
}

// Evaluation is one proposed shed or restore. Conflicts between rules are
// resolved at execution time, last writer wins per device.
type Evaluation struct {
	DeviceID   string  `json:"deviceID"`
	Entity     string  `json:"entity"`
	Op         Op      `json:"op"`
	Rule       string  `json:"rule"`
	Reason     string  `json:"reason"`
	PowerWatts float64 `json:"powerWatts"`
}

func newEvaluation(d types.LoadDevice, op Op, rule, reason string) Evaluation {
	return Evaluation{
		DeviceID:   d.ID,
		Entity:     d.Entity,
		Op:         op,
		Rule:       rule,
		Reason:     reason,
		PowerWatts: d.PowerWatts,
	}
}

// sheddable returns devices eligible for shedding: non-critical, allowed
// to shed, currently on and not already shed.
func sheddable(devices []DeviceStatus) []DeviceStatus {
	var out []DeviceStatus
	for _, d := range devices {
		if d.Device.Priority == types.LoadPriorityCritical {
			continue
		}
		if !d.Device.CanShed || !d.IsOn || d.State.IsShed {
			continue
		}
		out = append(out, d)
	}
	return out
}

// restorable returns shed devices past their hysteresis floor.
func restorable(devices []DeviceStatus, now time.Time) []DeviceStatus {
	var out []DeviceStatus
	for _, d := range devices {
		if !d.State.IsShed {
			continue
		}
		if d.State.ShedDuration(now) < time.Duration(d.Device.MinOffMinutes)*time.Minute {
			continue
		}
		out = append(out, d)
	}
	return out
}

// sortForShed orders shed candidates by priority tier (accessory first)
// then by descending power, so the cheapest-to-lose, biggest loads go
// first.
func sortForShed(devices []DeviceStatus) {
	sort.SliceStable(devices, func(i, j int) bool {
		ri, rj := devices[i].Device.Priority.ShedRank(), devices[j].Device.Priority.ShedRank()
		if ri != rj {
			return ri < rj
		}
		return devices[i].Device.PowerWatts > devices[j].Device.PowerWatts
	})
}

// sortForRestore orders restore candidates by priority tier (comfort
// before accessory) then by ascending power.
func sortForRestore(devices []DeviceStatus) {
	sort.SliceStable(devices, func(i, j int) bool {
		ri, rj := devices[i].Device.Priority.ShedRank(), devices[j].Device.Priority.ShedRank()
		if ri != rj {
			return ri > rj
		}
		return devices[i].Device.PowerWatts < devices[j].Device.PowerWatts
	})
}

// Evaluate runs every shed/restore rule against the snapshot and returns
// the proposed actions. It is pure: identical inputs yield identical
// results, and it never touches the hub or storage. The rules are
// evaluated independently: more than one may fire in a tick.
func Evaluate(ctx context.Context, in Input, cfg types.LoadManagerConfig) []Evaluation {
	var out []Evaluation

	shedSet := sheddable(in.Devices)
	restoreSet := restorable(in.Devices, in.Now)

	log.Ctx(ctx).DebugContext(ctx, "load evaluation started",
		slog.Float64("soc", in.SOC),
		slog.Int("pricePercentile", in.PricePercentile),
		slog.Float64("loadWatts", in.LoadWatts),
		slog.Float64("solarWatts", in.SolarWatts),
		slog.Int("sheddable", len(shedSet)),
		slog.Int("restorable", len(restoreSet)),
	)

	// Overload: shed until the excess over the power ceiling is covered.
	if ceiling := cfg.PowerCeiling(); in.LoadWatts > ceiling {
		excess := in.LoadWatts - ceiling
		candidates := append([]DeviceStatus(nil), shedSet...)
		sortForShed(candidates)
		var covered float64
		for _, d := range candidates {
			if covered >= excess {
				break
			}
			out = append(out, newEvaluation(d.Device, OpShed, "overload",
				fmt.Sprintf("Load %.0fW over ceiling %.0fW", in.LoadWatts, ceiling)))
			covered += d.Device.PowerWatts
		}
	}

	// Low SOC at an elevated price: accessories go.
	if in.SOC < lowSOC && in.PricePercentile > elevatedPricePct {
		for _, d := range shedSet {
			if d.Device.Priority == types.LoadPriorityAccessory {
				out = append(out, newEvaluation(d.Device, OpShed, "lowSOC",
					fmt.Sprintf("SOC %.0f%% with price percentile %d", in.SOC, in.PricePercentile)))
			}
		}
	}

	// Critical SOC: comfort goes too.
	if in.SOC < criticalSOC {
		for _, d := range shedSet {
			if d.Device.Priority == types.LoadPriorityComfort {
				out = append(out, newEvaluation(d.Device, OpShed, "criticalSOC",
					fmt.Sprintf("SOC %.0f%% critically low", in.SOC)))
			}
		}
	}

	// Good SOC and cheap power: bring everything eligible back.
	if in.SOC > goodSOC && in.PricePercentile < cheapPricePct {
		for _, d := range restoreSet {
			out = append(out, newEvaluation(d.Device, OpRestore, "goodSOC",
				fmt.Sprintf("SOC %.0f%% with price percentile %d", in.SOC, in.PricePercentile)))
		}
	}

	// Excess solar: restore greedily, smallest loads first, within the
	// restore budget so the excess is not overcommitted.
	if excess := in.SolarWatts - in.LoadWatts; excess > excessSolarWatts {
		budget := excess * restoreBudgetFraction
		candidates := append([]DeviceStatus(nil), restoreSet...)
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Device.PowerWatts < candidates[j].Device.PowerWatts
		})
		var committed float64
		for _, d := range candidates {
			if committed+d.Device.PowerWatts > budget {
				break
			}
			out = append(out, newEvaluation(d.Device, OpRestore, "excessSolar",
				fmt.Sprintf("Solar excess %.0fW", excess)))
			committed += d.Device.PowerWatts
		}
	}

	// Gradual recovery: only the first candidate is considered, and only
	// restored if it fits the headroom; otherwise nothing restores this
	// tick.
	if in.SOC > recoverySOC && in.PricePercentile < recoveryPricePct && len(restoreSet) > 0 {
		headroom := cfg.PowerCeiling() - in.LoadWatts
		candidates := append([]DeviceStatus(nil), restoreSet...)
		sortForRestore(candidates)
		if d := candidates[0]; d.Device.PowerWatts <= headroom*restoreBudgetFraction {
			out = append(out, newEvaluation(d.Device, OpRestore, "gradualRecovery",
				fmt.Sprintf("SOC %.0f%% recovered, %.0fW headroom", in.SOC, headroom)))
		}
	}

	return out
}
