package types

import "time"

// BatteryAction is the closed set of actions the decision engine can pick.
type BatteryAction string

const (
	ActionChargeFromGrid  BatteryAction = "charge_from_grid"
	ActionChargeFromSolar BatteryAction = "charge_from_solar"
	ActionDischarge       BatteryAction = "discharge"
	ActionIdle            BatteryAction = "idle"
)

// Telemetry is a live snapshot read from the hub each tick. The core does
// not own it; callers validate it before handing it to the engine.
type Telemetry struct {
	Timestamp    time.Time `json:"timestamp"`
	SOC          float64   `json:"soc"`
	BatteryWatts float64   `json:"batteryWatts"`
	SolarWatts   float64   `json:"solarWatts"`
	GridWatts    float64   `json:"gridWatts"`
	LoadWatts    float64   `json:"loadWatts"`
	CurrentPrice float64   `json:"currentPrice"`
	Hour         int       `json:"hour"`
}

// Factor is an explainability datum attached to a Decision. Factors are
// never used for control.
type Factor struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Weight    float64 `json:"weight"`
	Favorable bool    `json:"favorable"`
}

// Decision is the engine's output for one evaluation. It is a value
// object, created fresh every evaluation and never mutated.
type Decision struct {
	ID              string        `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	Action          BatteryAction `json:"action"`
	Reason          string        `json:"reason"`
	Confidence      float64       `json:"confidence"`
	PricePercentile int           `json:"pricePercentile"`
	NextReviewHour  *int          `json:"nextReviewHour,omitempty"`
	Factors         []Factor      `json:"factors,omitempty"`

	// Set by the scheduler when persisting, not by the engine.
	Applied bool   `json:"applied,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HourPlan is one simulated hour inside a ChargingPlan.
type HourPlan struct {
	Hour        int           `json:"hour"`
	Price       float64       `json:"price"`
	SolarWatts  float64       `json:"solarWatts"`
	Action      BatteryAction `json:"action"`
	Reason      string        `json:"reason"`
	ExpectedSOC float64       `json:"expectedSOC"`
}

// ChargingPlan is the optimizer's 24-hour forecast for one day. ExpectedSOC
// is clamped to [MinSOC, MaxSOC] at every hour.
type ChargingPlan struct {
	Date           string     `json:"date"`
	Hours          []HourPlan `json:"hours"`
	GridChargeHours int       `json:"gridChargeHours"`
	GridChargeCost float64    `json:"gridChargeCost"`
	SolarChargeWh  float64    `json:"solarChargeWh"`
	GridExportWh   float64    `json:"gridExportWh"`
	Savings        float64    `json:"savings"`
}

// HourlyStat is a periodic snapshot written on the first tick of each hour.
type HourlyStat struct {
	TSHourStart time.Time     `json:"tsHourStart"`
	SOC         float64       `json:"soc"`
	Price       float64       `json:"price"`
	SolarWatts  float64       `json:"solarWatts"`
	LoadWatts   float64       `json:"loadWatts"`
	Action      BatteryAction `json:"action"`
}
