package prices

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Provider returns day-ahead hourly electricity prices.
type Provider interface {
	// GetDay returns the 24 hourly prices for the given local date. If the
	// market has not published the day yet it returns ErrDataUnavailable.
	GetDay(ctx context.Context, date time.Time) (types.PriceSeries, error)

	// Validate ensures the provider configuration is valid.
	Validate() error
}
