package solar

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/patrickmn/go-cache"
)

// ForecastSolar implements the Provider interface for the forecast.solar
// public estimate API.
type ForecastSolar struct {
	apiURL      string
	latitude    float64
	longitude   float64
	declination float64
	azimuth     float64
	kwp         float64
	location    *time.Location
	client      *http.Client

	// forecasts shift during the day so the cache TTL stays short
	days *cache.Cache
}

// Site describes the panel installation forecast.solar needs to model
// production.
type Site struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Declination float64 `json:"declination"`
	Azimuth     float64 `json:"azimuth"`
	KWP         float64 `json:"kwp"`
}

// configuredForecastSolar sets up flags for forecast.solar and returns
// the instance.
func configuredForecastSolar() *ForecastSolar {
	f := &ForecastSolar{
		client: common.HTTPClient(15 * time.Second),
		days:   cache.New(30*time.Minute, 10*time.Minute),
	}
	apiURL := lflag.String("solar-api-url", "https://api.forecast.solar/estimate", "URL for the forecast.solar estimate API")
	site := Site{Declination: 30}
	lflag.JSON(&site, "solar-site", site, "JSON object describing the installation (latitude, longitude, declination, azimuth, kwp)")
	tz := lflag.String("solar-timezone", "Europe/Berlin", "IANA timezone of the installation")

	lflag.Do(func() {
		f.apiURL = *apiURL
		f.latitude = site.Latitude
		f.longitude = site.Longitude
		f.declination = site.Declination
		f.azimuth = site.Azimuth
		f.kwp = site.KWP
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Errorf("failed to load solar-timezone (%s): %w", *tz, err))
		}
		f.location = loc
	})

	return f
}

// NewForecastSolar creates an instance without flags, primarily for
// testing.
func NewForecastSolar(apiURL string, lat, lon, kwp float64, location *time.Location, client *http.Client) *ForecastSolar {
	return &ForecastSolar{
		apiURL:      apiURL,
		latitude:    lat,
		longitude:   lon,
		declination: 30,
		kwp:         kwp,
		location:    location,
		client:      client,
		days:        cache.New(30*time.Minute, 10*time.Minute),
	}
}

// Validate ensures the configuration is valid.
func (f *ForecastSolar) Validate() error {
	if f.apiURL == "" {
		return fmt.Errorf("solar-api-url is required")
	}
	if _, err := url.Parse(f.apiURL); err != nil {
		return fmt.Errorf("failed to parse solar url (%s): %w", f.apiURL, err)
	}
	if f.kwp <= 0 {
		return fmt.Errorf("solar-kwp must be positive")
	}
	if f.latitude < -90 || f.latitude > 90 {
		return fmt.Errorf("solar-latitude out of range: %f", f.latitude)
	}
	if f.longitude < -180 || f.longitude > 180 {
		return fmt.Errorf("solar-longitude out of range: %f", f.longitude)
	}
	if f.location == nil {
		return fmt.Errorf("solar-timezone is required")
	}
	return nil
}

type forecastSolarResponse struct {
	Result struct {
		Watts map[string]float64 `json:"watts"`
	} `json:"result"`
}

// GetDay returns the 24 hourly forecasts for the given local date,
// serving repeat calls within the cache TTL from memory.
func (f *ForecastSolar) GetDay(ctx context.Context, date time.Time) (types.SolarSeries, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, f.location)
	key := dayStart.Format("2006-01-02")

	if cached, ok := f.days.Get(key); ok {
		return cached.(types.SolarSeries), nil
	}

	series, err := f.fetchDay(ctx, dayStart)
	if err != nil {
		return types.SolarSeries{}, err
	}

	f.days.SetDefault(key, series)
	return series, nil
}

func (f *ForecastSolar) fetchDay(ctx context.Context, dayStart time.Time) (types.SolarSeries, error) {
	u := fmt.Sprintf("%s/%g/%g/%g/%g/%g",
		f.apiURL, f.latitude, f.longitude, f.declination, f.azimuth, f.kwp)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return types.SolarSeries{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	log.Ctx(ctx).DebugContext(ctx, "fetching solar forecast", slog.String("url", u))

	resp, err := f.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch solar forecast", slog.Any("error", err))
		return types.SolarSeries{}, fmt.Errorf("%w: fetching solar forecast: %v", types.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return types.SolarSeries{}, fmt.Errorf("%w: solar api rate limited", types.ErrDataUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return types.SolarSeries{}, fmt.Errorf("solar api returned status: %d", resp.StatusCode)
	}

	var data forecastSolarResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.SolarSeries{}, fmt.Errorf("failed to decode response: %w", err)
	}

	dayEnd := dayStart.AddDate(0, 0, 1)
	watts := [types.HoursPerDay]float64{}
	var matched int
	for stamp, w := range data.Result.Watts {
		ts, err := time.ParseInLocation("2006-01-02 15:04:05", stamp, f.location)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse solar timestamp",
				slog.String("value", stamp), slog.Any("error", err))
			continue
		}
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}
		if w < 0 {
			w = 0
		}
		// the API reports sub-hourly points near sunrise/sunset, keep
		// the highest value seen within each hour
		if w > watts[ts.Hour()] {
			watts[ts.Hour()] = w
		}
		matched++
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched solar forecast",
		slog.String("date", dayStart.Format("2006-01-02")),
		slog.Int("matched", matched),
	)

	if matched == 0 {
		return types.SolarSeries{}, fmt.Errorf("%w: no solar forecast for %s",
			types.ErrDataUnavailable, dayStart.Format("2006-01-02"))
	}

	points := make([]types.SolarPoint, types.HoursPerDay)
	for h, w := range watts {
		points[h] = types.SolarPoint{Hour: h, Watts: w}
	}
	series, err := types.NewSolarSeries(dayStart, points)
	if err != nil {
		return types.SolarSeries{}, fmt.Errorf("invalid solar forecast data: %w", err)
	}
	return series, nil
}
