package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gridpilot/gridpilot/pkg/common"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/patrickmn/go-cache"
)

// AWATTar implements the Provider interface for the aWATTar day-ahead
// market data API.
type AWATTar struct {
	apiURL   string
	location *time.Location
	client   *http.Client

	// day-ahead prices are immutable once published so a long TTL is fine
	days *cache.Cache
}

// configuredAWATTar sets up flags for aWATTar and returns the instance.
func configuredAWATTar() *AWATTar {
	a := &AWATTar{
		client: common.HTTPClient(10 * time.Second),
		days:   cache.New(6*time.Hour, time.Hour),
	}
	apiURL := lflag.String("awattar-api-url", "https://api.awattar.de/v1/marketdata", "URL for the aWATTar market data API")
	tz := lflag.String("prices-timezone", "Europe/Berlin", "IANA timezone the market day boundaries live in")

	lflag.Do(func() {
		a.apiURL = *apiURL
		loc, err := time.LoadLocation(*tz)
		if err != nil {
			panic(fmt.Errorf("failed to load prices-timezone (%s): %w", *tz, err))
		}
		a.location = loc
	})

	return a
}

// NewAWATTar creates an instance without flags, primarily for testing.
func NewAWATTar(apiURL string, location *time.Location, client *http.Client) *AWATTar {
	return &AWATTar{
		apiURL:   apiURL,
		location: location,
		client:   client,
		days:     cache.New(6*time.Hour, time.Hour),
	}
}

// Validate ensures the configuration is valid.
func (a *AWATTar) Validate() error {
	if a.apiURL == "" {
		return fmt.Errorf("awattar-api-url is required")
	}
	if _, err := url.Parse(a.apiURL); err != nil {
		return fmt.Errorf("failed to parse awattar url (%s): %w", a.apiURL, err)
	}
	if a.location == nil {
		return fmt.Errorf("prices-timezone is required")
	}
	return nil
}

type awattarEntry struct {
	StartTimestamp int64   `json:"start_timestamp"`
	EndTimestamp   int64   `json:"end_timestamp"`
	Marketprice    float64 `json:"marketprice"`
	Unit           string  `json:"unit"`
}

type awattarResponse struct {
	Data []awattarEntry `json:"data"`
}

// GetDay returns the 24 hourly prices for the given local date, fetching
// once per date and serving later calls from the cache.
func (a *AWATTar) GetDay(ctx context.Context, date time.Time) (types.PriceSeries, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, a.location)
	key := dayStart.Format("2006-01-02")

	if cached, ok := a.days.Get(key); ok {
		return cached.(types.PriceSeries), nil
	}

	series, err := a.fetchDay(ctx, dayStart)
	if err != nil {
		return types.PriceSeries{}, err
	}

	a.days.SetDefault(key, series)
	return series, nil
}

func (a *AWATTar) fetchDay(ctx context.Context, dayStart time.Time) (types.PriceSeries, error) {
	dayEnd := dayStart.AddDate(0, 0, 1)

	u, err := url.Parse(a.apiURL)
	if err != nil {
		return types.PriceSeries{}, fmt.Errorf("invalid api url: %w", err)
	}
	params := url.Values{}
	params.Set("start", strconv.FormatInt(dayStart.UnixMilli(), 10))
	params.Set("end", strconv.FormatInt(dayEnd.UnixMilli(), 10))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return types.PriceSeries{}, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching prices from awattar", slog.String("url", u.String()))

	resp, err := a.client.Do(req)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch prices", slog.Any("error", err))
		return types.PriceSeries{}, fmt.Errorf("%w: fetching prices: %v", types.ErrConnectivity, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.PriceSeries{}, fmt.Errorf("awattar api returned status: %d", resp.StatusCode)
	}

	var data awattarResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.PriceSeries{}, fmt.Errorf("failed to decode response: %w", err)
	}

	points := make([]types.PricePoint, 0, types.HoursPerDay)
	for _, e := range data.Data {
		ts := time.UnixMilli(e.StartTimestamp).In(a.location)
		if ts.Before(dayStart) || !ts.Before(dayEnd) {
			continue
		}
		// marketprice is EUR/MWh; negative market hours are floored to
		// zero since a stored price can not go below free
		eurPerKWH := e.Marketprice / 1000.0
		if eurPerKWH < 0 {
			eurPerKWH = 0
		}
		points = append(points, types.PricePoint{
			Hour:      ts.Hour(),
			EURPerKWH: eurPerKWH,
		})
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"fetched awattar prices",
		slog.String("date", dayStart.Format("2006-01-02")),
		slog.Int("count", len(points)),
	)

	if len(points) < types.HoursPerDay {
		return types.PriceSeries{}, fmt.Errorf("%w: awattar returned %d of %d hours for %s",
			types.ErrDataUnavailable, len(points), types.HoursPerDay, dayStart.Format("2006-01-02"))
	}

	series, err := types.NewPriceSeries(dayStart, points)
	if err != nil {
		return types.PriceSeries{}, fmt.Errorf("invalid awattar price data: %w", err)
	}
	return series, nil
}
