package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPricePoints(prices [HoursPerDay]float64) []PricePoint {
	points := make([]PricePoint, 0, HoursPerDay)
	for h, p := range prices {
		points = append(points, PricePoint{Hour: h, EURPerKWH: p})
	}
	return points
}

func TestNewPriceSeries(t *testing.T) {
	date := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)

	t.Run("valid", func(t *testing.T) {
		var prices [HoursPerDay]float64
		for h := range prices {
			prices[h] = 0.10 + float64(h)*0.01
		}
		s, err := NewPriceSeries(date, testPricePoints(prices))
		require.NoError(t, err)
		assert.InDelta(t, 0.10, s.Min(), 0.0001)
		assert.InDelta(t, 0.33, s.Max(), 0.0001)
		assert.InDelta(t, 0.215, s.Average(), 0.0001)
		assert.InDelta(t, 0.15, s.Price(5), 0.0001)
	})

	t.Run("wrong count", func(t *testing.T) {
		_, err := NewPriceSeries(date, []PricePoint{{Hour: 0, EURPerKWH: 0.1}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("duplicate hour", func(t *testing.T) {
		var prices [HoursPerDay]float64
		points := testPricePoints(prices)
		points[5].Hour = 4
		_, err := NewPriceSeries(date, points)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDataUnavailable)
	})

	t.Run("negative price", func(t *testing.T) {
		var prices [HoursPerDay]float64
		prices[3] = -0.01
		_, err := NewPriceSeries(date, testPricePoints(prices))
		require.Error(t, err)
	})
}

func TestPercentileRank(t *testing.T) {
	date := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	var prices [HoursPerDay]float64
	for h := range prices {
		prices[h] = 0.10 + float64(h)*0.01
	}
	s, err := NewPriceSeries(date, testPricePoints(prices))
	require.NoError(t, err)

	t.Run("min ranks 0", func(t *testing.T) {
		assert.Equal(t, 0, s.PercentileRank(s.Min()))
	})

	t.Run("untied max ranks 100", func(t *testing.T) {
		assert.Equal(t, 100, s.PercentileRank(s.Max()))
	})

	t.Run("above all ranks 100", func(t *testing.T) {
		assert.Equal(t, 100, s.PercentileRank(s.Max()+1))
	})

	t.Run("monotonically non-decreasing", func(t *testing.T) {
		last := -1
		for p := 0.0; p < 0.40; p += 0.001 {
			rank := s.PercentileRank(p)
			require.GreaterOrEqual(t, rank, last, "rank regressed at price %.3f", p)
			last = rank
		}
	})

	t.Run("ties resolve to first index at or above", func(t *testing.T) {
		var flat [HoursPerDay]float64
		for h := range flat {
			flat[h] = 0.20
		}
		fs, err := NewPriceSeries(date, testPricePoints(flat))
		require.NoError(t, err)
		assert.Equal(t, 0, fs.PercentileRank(0.20))
		assert.Equal(t, 100, fs.PercentileRank(0.21))
	})
}

func TestHourSets(t *testing.T) {
	date := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	var prices [HoursPerDay]float64
	for h := range prices {
		prices[h] = 0.10 + float64(h)*0.01
	}
	s, err := NewPriceSeries(date, testPricePoints(prices))
	require.NoError(t, err)

	cheap := s.HoursAtOrBelowPercentile(25)
	require.NotEmpty(t, cheap)
	for _, h := range cheap {
		assert.LessOrEqual(t, s.PercentileRank(s.Price(h)), 25)
	}

	expensive := s.HoursAtOrAbovePercentile(75)
	require.NotEmpty(t, expensive)
	for _, h := range expensive {
		assert.GreaterOrEqual(t, s.PercentileRank(s.Price(h)), 75)
	}
}

func TestSolarSeries(t *testing.T) {
	date := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	points := make([]SolarPoint, 0, HoursPerDay)
	for h := 0; h < HoursPerDay; h++ {
		var w float64
		if h >= 8 && h <= 18 {
			w = float64(h-7) * 500
		}
		points = append(points, SolarPoint{Hour: h, Watts: w})
	}
	s, err := NewSolarSeries(date, points)
	require.NoError(t, err)

	peakW, peakH := s.Peak()
	assert.Equal(t, 18, peakH)
	assert.InDelta(t, 5500, peakW, 0.1)
	assert.InDelta(t, 33000, s.TotalWh(), 0.1)

	h, ok := s.NextProductiveHour(0, 400)
	require.True(t, ok)
	assert.Equal(t, 8, h)

	_, ok = s.NextProductiveHour(19, 400)
	assert.False(t, ok)
}

func TestThresholdsValidate(t *testing.T) {
	valid := Thresholds{
		MinSOC:                 20,
		MaxSOC:                 95,
		EmergencySOC:           10,
		TargetSOC:              80,
		PriceLowPercentile:     25,
		PriceHighPercentile:    75,
		MinSolarWattsForCharge: 500,
	}
	require.NoError(t, valid.Validate())

	t.Run("emergency above min", func(t *testing.T) {
		bad := valid
		bad.EmergencySOC = 30
		err := bad.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfigInvalid)
	})

	t.Run("target above max", func(t *testing.T) {
		bad := valid
		bad.TargetSOC = 99
		assert.ErrorIs(t, bad.Validate(), ErrConfigInvalid)
	})

	t.Run("percentiles inverted", func(t *testing.T) {
		bad := valid
		bad.PriceLowPercentile = 80
		assert.ErrorIs(t, bad.Validate(), ErrConfigInvalid)
	})
}
