package prices

import (
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Configured sets up the price provider based on flags.
func Configured() Provider {
	provider := lflag.String("prices-provider", "awattar", "Day-ahead price provider to use (available: awattar)")

	aw := configuredAWATTar()

	var p struct{ Provider }

	lflag.Do(func() {
		switch *provider {
		case "awattar":
			p.Provider = aw
		default:
			panic(fmt.Sprintf("unknown prices provider: %s", *provider))
		}
		if err := p.Validate(); err != nil {
			panic(fmt.Errorf("invalid prices provider config: %w", err))
		}
	})

	return &p
}
