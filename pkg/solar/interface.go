package solar

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Provider returns hourly solar production forecasts.
type Provider interface {
	// GetDay returns the 24 hourly production forecasts for the given
	// local date. Hours without forecast data (night) come back as zero.
	GetDay(ctx context.Context, date time.Time) (types.SolarSeries, error)

	// Validate ensures the provider configuration is valid.
	Validate() error
}
