package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridpilot/gridpilot/pkg/types"
)

func marketdataHandler(t *testing.T, loc *time.Location, hours int, hits *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			*hits++
		}
		require.NotEmpty(t, r.URL.Query().Get("start"))
		require.NotEmpty(t, r.URL.Query().Get("end"))

		day := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
		var entries []awattarEntry
		for h := 0; h < hours; h++ {
			start := day.Add(time.Duration(h) * time.Hour)
			price := 50.0 + float64(h)*2 // EUR/MWh
			if h == 3 {
				price = -12.5
			}
			entries = append(entries, awattarEntry{
				StartTimestamp: start.UnixMilli(),
				EndTimestamp:   start.Add(time.Hour).UnixMilli(),
				Marketprice:    price,
				Unit:           "Eur/MWh",
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(awattarResponse{Data: entries})
	})
}

func TestAWATTarGetDay(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	var hits int
	srv := httptest.NewServer(marketdataHandler(t, loc, 24, &hits))
	defer srv.Close()

	a := NewAWATTar(srv.URL, loc, srv.Client())
	date := time.Date(2026, 3, 10, 14, 30, 0, 0, loc)

	series, err := a.GetDay(context.Background(), date)
	require.NoError(t, err)

	// EUR/MWh converted to EUR/kWh
	assert.InDelta(t, 0.050, series.Price(0), 1e-9)
	assert.InDelta(t, 0.060, series.Price(5), 1e-9)
	// negative market hours floor at zero
	assert.Equal(t, 0.0, series.Price(3))

	// second call for the same date is served from cache
	_, err = a.GetDay(context.Background(), date)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestAWATTarDayNotPublished(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	srv := httptest.NewServer(marketdataHandler(t, loc, 13, nil))
	defer srv.Close()

	a := NewAWATTar(srv.URL, loc, srv.Client())
	_, err = a.GetDay(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, loc))
	assert.ErrorIs(t, err, types.ErrDataUnavailable)
}

func TestAWATTarConnectivity(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	a := NewAWATTar(srv.URL, loc, http.DefaultClient)
	_, err = a.GetDay(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, loc))
	assert.ErrorIs(t, err, types.ErrConnectivity)
}

func TestAWATTarBadStatus(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broken", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAWATTar(srv.URL, loc, srv.Client())
	_, err = a.GetDay(context.Background(), time.Date(2026, 3, 10, 0, 0, 0, 0, loc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprint(http.StatusBadGateway))
}
