package solar

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the solar forecast provider based on flags.
func Configured() Provider {
	provider := lflag.String("solar-provider", "forecastsolar", "Solar forecast provider to use (available: forecastsolar)")

	fs := configuredForecastSolar()

	var p struct{ Provider }

	lflag.Do(func() {
		switch *provider {
		case "forecastsolar":
			p.Provider = fs
		default:
			panic(fmt.Sprintf("unknown solar provider: %s", *provider))
		}
		if err := p.Validate(); err != nil {
			panic(fmt.Errorf("invalid solar provider config: %w", err))
		}
	})

	return &p
}
