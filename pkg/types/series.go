package types

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// HoursPerDay is the number of hourly slots in a daily series.
const HoursPerDay = 24

// PricePoint is a single hourly electricity price.
type PricePoint struct {
	Hour      int     `json:"hour"`
	EURPerKWH float64 `json:"eurPerKWH"`
}

// PriceSeries holds the 24 hourly prices for one calendar day.
// It is immutable once constructed; all derived values are computed
// against a sorted copy taken at construction time.
type PriceSeries struct {
	date   time.Time
	prices [HoursPerDay]float64
	sorted [HoursPerDay]float64
}

// NewPriceSeries builds a PriceSeries from exactly one price per hour.
// Prices must be non-negative and every hour 0-23 must appear exactly once.
func NewPriceSeries(date time.Time, points []PricePoint) (PriceSeries, error) {
	if len(points) != HoursPerDay {
		return PriceSeries{}, fmt.Errorf("%w: expected %d price points, got %d", ErrDataUnavailable, HoursPerDay, len(points))
	}
	s := PriceSeries{date: date.Truncate(24 * time.Hour)}
	seen := [HoursPerDay]bool{}
	for _, p := range points {
		if p.Hour < 0 || p.Hour >= HoursPerDay {
			return PriceSeries{}, fmt.Errorf("%w: hour %d out of range", ErrDataUnavailable, p.Hour)
		}
		if seen[p.Hour] {
			return PriceSeries{}, fmt.Errorf("%w: duplicate price for hour %d", ErrDataUnavailable, p.Hour)
		}
		if p.EURPerKWH < 0 {
			return PriceSeries{}, fmt.Errorf("%w: negative price %.4f for hour %d", ErrDataUnavailable, p.EURPerKWH, p.Hour)
		}
		seen[p.Hour] = true
		s.prices[p.Hour] = p.EURPerKWH
	}
	s.sorted = s.prices
	sort.Float64s(s.sorted[:])
	return s, nil
}

// Date returns the calendar day this series covers.
func (s PriceSeries) Date() time.Time {
	return s.date
}

// Price returns the price for the given hour. Hours outside 0-23 wrap.
func (s PriceSeries) Price(hour int) float64 {
	return s.prices[((hour%HoursPerDay)+HoursPerDay)%HoursPerDay]
}

// Average returns the mean of all 24 hourly prices.
func (s PriceSeries) Average() float64 {
	var sum float64
	for _, p := range s.prices {
		sum += p
	}
	return sum / HoursPerDay
}

// Min returns the cheapest hourly price of the day.
func (s PriceSeries) Min() float64 {
	return s.sorted[0]
}

// Max returns the most expensive hourly price of the day.
func (s PriceSeries) Max() float64 {
	return s.sorted[HoursPerDay-1]
}

// PercentileRank returns the rank of the given price among the day's 24
// hourly prices as an integer 0-100. The rank is the position of the first
// sorted price at or above the given price, scaled so that an untied
// maximum ranks exactly 100. A price above every entry ranks 100.
func (s PriceSeries) PercentileRank(price float64) int {
	idx := sort.SearchFloat64s(s.sorted[:], price)
	if idx >= HoursPerDay {
		return 100
	}
	return int(math.Round(float64(idx) * 100.0 / float64(HoursPerDay-1)))
}

// HoursAtOrBelowPercentile returns the hours (ascending) whose price ranks
// at or below the given percentile.
func (s PriceSeries) HoursAtOrBelowPercentile(pct int) []int {
	var hours []int
	for h, p := range s.prices {
		if s.PercentileRank(p) <= pct {
			hours = append(hours, h)
		}
	}
	return hours
}

// HoursAtOrAbovePercentile returns the hours (ascending) whose price ranks
// at or above the given percentile.
func (s PriceSeries) HoursAtOrAbovePercentile(pct int) []int {
	var hours []int
	for h, p := range s.prices {
		if s.PercentileRank(p) >= pct {
			hours = append(hours, h)
		}
	}
	return hours
}

// Points returns a copy of the hourly prices in hour order.
func (s PriceSeries) Points() []PricePoint {
	points := make([]PricePoint, HoursPerDay)
	for h, p := range s.prices {
		points[h] = PricePoint{Hour: h, EURPerKWH: p}
	}
	return points
}

// SolarPoint is a single hourly solar production forecast.
type SolarPoint struct {
	Hour  int     `json:"hour"`
	Watts float64 `json:"watts"`
}

// SolarSeries holds the 24 hourly solar forecast values for one day.
// Immutable once constructed, like PriceSeries.
type SolarSeries struct {
	date  time.Time
	watts [HoursPerDay]float64
}

// NewSolarSeries builds a SolarSeries from exactly one forecast per hour.
func NewSolarSeries(date time.Time, points []SolarPoint) (SolarSeries, error) {
	if len(points) != HoursPerDay {
		return SolarSeries{}, fmt.Errorf("%w: expected %d solar points, got %d", ErrDataUnavailable, HoursPerDay, len(points))
	}
	s := SolarSeries{date: date.Truncate(24 * time.Hour)}
	seen := [HoursPerDay]bool{}
	for _, p := range points {
		if p.Hour < 0 || p.Hour >= HoursPerDay {
			return SolarSeries{}, fmt.Errorf("%w: hour %d out of range", ErrDataUnavailable, p.Hour)
		}
		if seen[p.Hour] {
			return SolarSeries{}, fmt.Errorf("%w: duplicate forecast for hour %d", ErrDataUnavailable, p.Hour)
		}
		if p.Watts < 0 {
			return SolarSeries{}, fmt.Errorf("%w: negative forecast %.1fW for hour %d", ErrDataUnavailable, p.Watts, p.Hour)
		}
		seen[p.Hour] = true
		s.watts[p.Hour] = p.Watts
	}
	return s, nil
}

// Date returns the calendar day this series covers.
func (s SolarSeries) Date() time.Time {
	return s.date
}

// Watts returns the forecast production for the given hour.
func (s SolarSeries) Watts(hour int) float64 {
	return s.watts[((hour%HoursPerDay)+HoursPerDay)%HoursPerDay]
}

// TotalWh returns the total forecast energy for the day in watt-hours,
// assuming each hourly value holds for the full hour.
func (s SolarSeries) TotalWh() float64 {
	var total float64
	for _, w := range s.watts {
		total += w
	}
	return total
}

// Peak returns the highest forecast value of the day and the hour it
// occurs in. Ties resolve to the earliest hour.
func (s SolarSeries) Peak() (watts float64, hour int) {
	for h, w := range s.watts {
		if w > watts {
			watts = w
			hour = h
		}
	}
	return watts, hour
}

// NextProductiveHour returns the first hour at or after the given hour
// whose forecast meets minWatts, and true if one exists before midnight.
func (s SolarSeries) NextProductiveHour(from int, minWatts float64) (int, bool) {
	for h := from; h < HoursPerDay; h++ {
		if s.watts[h] >= minWatts {
			return h, true
		}
	}
	return 0, false
}

// Points returns a copy of the hourly forecasts in hour order.
func (s SolarSeries) Points() []SolarPoint {
	points := make([]SolarPoint, HoursPerDay)
	for h, w := range s.watts {
		points[h] = SolarPoint{Hour: h, Watts: w}
	}
	return points
}
