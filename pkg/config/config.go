// Package config assembles the operator-supplied control configuration
// from flags and validates it before the controller starts.
package config

import (
	"fmt"
	"time"

	"github.com/gridpilot/gridpilot/pkg/engine"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Config is the validated control configuration.
type Config struct {
	Thresholds   types.Thresholds
	Battery      types.BatteryConfig
	LoadManager  types.LoadManagerConfig
	Devices      []types.LoadDevice
	Heuristics   engine.Heuristics
	TickInterval time.Duration
}

func defaultThresholds() types.Thresholds {
	return types.Thresholds{
		PriceLowPercentile:  25,
		PriceHighPercentile: 75,
		MinSOC:              20,
		MaxSOC:              95,
		TargetSOC:           80,
		EmergencySOC:        10,
	}
}

func defaultBattery() types.BatteryConfig {
	return types.BatteryConfig{
		CapacityWh:        10000,
		MaxChargeRateW:    3000,
		MaxDischargeRateW: 3000,
		BaselineLoadW:     500,
	}
}

func defaultLoadManager() types.LoadManagerConfig {
	return types.LoadManagerConfig{
		Enabled:             false,
		MaxInverterPowerW:   5000,
		SafetyMarginPercent: 10,
	}
}

// Configured registers the control flags and returns the config, resolved
// once flags are parsed. Invalid configuration panics at startup.
func Configured() *Config {
	c := &Config{
		Thresholds:  defaultThresholds(),
		Battery:     defaultBattery(),
		LoadManager: defaultLoadManager(),
		Heuristics:  engine.DefaultHeuristics(),
	}

	lflag.JSON(&c.Thresholds, "thresholds", c.Thresholds, "JSON object with the decision thresholds (percentiles and SOC bounds)")
	lflag.JSON(&c.Battery, "battery", c.Battery, "JSON object describing the battery (capacityWh, charge/discharge rates, baseline load)")
	lflag.JSON(&c.LoadManager, "load-manager", c.LoadManager, "JSON object with the load manager limits")
	lflag.JSON(&c.Devices, "load-devices", c.Devices, "JSON array of switchable load devices")
	lflag.JSON(&c.Heuristics, "heuristics", c.Heuristics, "JSON object overriding the engine tuning constants")
	interval := lflag.Duration("tick-interval", 5*time.Minute, "Interval between control ticks")

	lflag.Do(func() {
		c.TickInterval = *interval
		if err := c.Validate(); err != nil {
			panic(fmt.Errorf("invalid configuration: %w", err))
		}
	})

	return c
}

// Validate checks the whole configuration, including cross-field
// constraints flags can not express.
func (c *Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if err := c.Battery.Validate(); err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	if err := c.LoadManager.Validate(); err != nil {
		return fmt.Errorf("load-manager: %w", err)
	}
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("load-devices[%d]: %w", i, err)
		}
		if seen[d.ID] {
			return fmt.Errorf("load-devices: %w: duplicate device id %s", types.ErrConfigInvalid, d.ID)
		}
		seen[d.ID] = true
	}
	if c.LoadManager.Enabled && len(c.Devices) == 0 {
		return fmt.Errorf("load-devices: %w: load manager enabled with no devices", types.ErrConfigInvalid)
	}
	if c.TickInterval < time.Minute {
		return fmt.Errorf("tick-interval: %w: must be at least 1m", types.ErrConfigInvalid)
	}
	return nil
}
