package types

import "fmt"

// Thresholds bound every decision branch. The ordering invariants are a
// configuration contract: violating them fails at load time, never at
// decision time.
type Thresholds struct {
	MinSOC                 float64 `json:"minSOC"`
	MaxSOC                 float64 `json:"maxSOC"`
	EmergencySOC           float64 `json:"emergencySOC"`
	TargetSOC              float64 `json:"targetSOC"`
	PriceLowPercentile     int     `json:"priceLowPercentile"`
	PriceHighPercentile    int     `json:"priceHighPercentile"`
	MinSolarWattsForCharge float64 `json:"minSolarWattsForCharge"`
}

// Validate enforces the threshold ordering invariants.
func (t Thresholds) Validate() error {
	if t.MinSOC < 0 || t.MaxSOC > 100 || t.MinSOC >= t.MaxSOC {
		return fmt.Errorf("%w: minSOC %.1f and maxSOC %.1f must satisfy 0 <= min < max <= 100", ErrConfigInvalid, t.MinSOC, t.MaxSOC)
	}
	if t.EmergencySOC > t.MinSOC {
		return fmt.Errorf("%w: emergencySOC %.1f must not exceed minSOC %.1f", ErrConfigInvalid, t.EmergencySOC, t.MinSOC)
	}
	if t.TargetSOC > t.MaxSOC {
		return fmt.Errorf("%w: targetSOC %.1f must not exceed maxSOC %.1f", ErrConfigInvalid, t.TargetSOC, t.MaxSOC)
	}
	if t.PriceLowPercentile < 0 || t.PriceHighPercentile > 100 || t.PriceLowPercentile >= t.PriceHighPercentile {
		return fmt.Errorf("%w: price percentiles %d/%d must satisfy 0 <= low < high <= 100", ErrConfigInvalid, t.PriceLowPercentile, t.PriceHighPercentile)
	}
	if t.MinSolarWattsForCharge < 0 {
		return fmt.Errorf("%w: minSolarWattsForCharge must be non-negative", ErrConfigInvalid)
	}
	return nil
}

// BatteryConfig describes the physical battery for plan simulation.
type BatteryConfig struct {
	CapacityWh        float64 `json:"capacityWh"`
	MaxChargeRateW    float64 `json:"maxChargeRateW"`
	MaxDischargeRateW float64 `json:"maxDischargeRateW"`
	// BaselineLoadW is the assumed household draw during plan simulation.
	BaselineLoadW float64 `json:"baselineLoadW"`
}

// Validate checks the battery description.
func (b BatteryConfig) Validate() error {
	if b.CapacityWh <= 0 {
		return fmt.Errorf("%w: battery capacity must be positive", ErrConfigInvalid)
	}
	if b.MaxChargeRateW <= 0 {
		return fmt.Errorf("%w: max charge rate must be positive", ErrConfigInvalid)
	}
	if b.MaxDischargeRateW <= 0 {
		return fmt.Errorf("%w: max discharge rate must be positive", ErrConfigInvalid)
	}
	if b.BaselineLoadW < 0 {
		return fmt.Errorf("%w: baseline load must be non-negative", ErrConfigInvalid)
	}
	return nil
}

// LoadManagerConfig bounds the load manager's overload rule.
type LoadManagerConfig struct {
	Enabled             bool    `json:"enabled"`
	MaxInverterPowerW   float64 `json:"maxInverterPowerW"`
	SafetyMarginPercent float64 `json:"safetyMarginPercent"`
}

// PowerCeiling returns the inverter power minus the safety margin, the
// level above which the overload rule triggers.
func (c LoadManagerConfig) PowerCeiling() float64 {
	return c.MaxInverterPowerW * (1 - c.SafetyMarginPercent/100)
}

// Validate checks the load manager bounds.
func (c LoadManagerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.MaxInverterPowerW <= 0 {
		return fmt.Errorf("%w: max inverter power must be positive", ErrConfigInvalid)
	}
	if c.SafetyMarginPercent < 0 || c.SafetyMarginPercent >= 100 {
		return fmt.Errorf("%w: safety margin must be within [0, 100)", ErrConfigInvalid)
	}
	return nil
}
