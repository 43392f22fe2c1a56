package engine

// Heuristics are the soft tuning constants inside the rule chain. They are
// deliberately kept as named, overridable values rather than re-derived:
// the defaults come from operating the loop against real tariffs.
type Heuristics struct {
	// DeferCheaperFraction is how much cheaper an upcoming low-percentile
	// hour must be before charging is deferred to it.
	DeferCheaperFraction float64

	// DeferMinSOC is the floor below which charging is never deferred,
	// even when a cheaper hour is coming.
	DeferMinSOC float64

	// DischargeReserveSOC is the level above which discharging at an
	// expensive hour is always allowed. Below it, a cheap night hour must
	// be coming so the battery can be refilled.
	DischargeReserveSOC float64

	// SolarSoonHours blocks discharging when solar production is expected
	// within this many hours.
	SolarSoonHours int

	// ExpensiveSOCMargin is added to MinSOC to form the floor for the
	// expensive-price discharge rule.
	ExpensiveSOCMargin float64

	// SolarDeficitToleranceW is how far solar may fall short of the house
	// load while still counting as covering it.
	SolarDeficitToleranceW float64

	// NightWindowStartHour and NightWindowEndHour bound the overnight
	// window in which a cheap hour protects the discharge reserve.
	NightWindowStartHour int
	NightWindowEndHour   int

	// NightPrechargeLastHour is the last hour of the night pre-charge
	// window (hours 0 through this value inclusive).
	NightPrechargeLastHour int

	// NightPercentileSlack widens the low-percentile threshold during the
	// night pre-charge window.
	NightPercentileSlack int
}

// DefaultHeuristics returns the tuned defaults.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		DeferCheaperFraction:   0.10,
		DeferMinSOC:            30,
		DischargeReserveSOC:    40,
		SolarSoonHours:         2,
		ExpensiveSOCMargin:     15,
		SolarDeficitToleranceW: 100,
		NightWindowStartHour:   22,
		NightWindowEndHour:     6,
		NightPrechargeLastHour: 6,
		NightPercentileSlack:   10,
	}
}
