package hub

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Telemetry reads the live battery/solar/grid snapshot from the hub.
type Telemetry interface {
	// ReadTelemetry returns the current snapshot. A hub that is reachable
	// but missing entities returns ErrDataUnavailable; an unreachable hub
	// returns ErrConnectivity.
	ReadTelemetry(ctx context.Context) (types.Telemetry, error)
}

// Actuation applies battery actions to the hub.
type Actuation interface {
	// ApplyAction asserts the given battery action. The hub either
	// confirms the command or the call returns ErrActuationFailed; there
	// are no partial states.
	ApplyAction(ctx context.Context, action types.BatteryAction) error
}

// LoadControl switches individual load entities.
type LoadControl interface {
	TurnOn(ctx context.Context, entity string) error
	TurnOff(ctx context.Context, entity string) error
	IsOn(ctx context.Context, entity string) (bool, error)
	IsAvailable(ctx context.Context, entity string) (bool, error)
}

// System is the full control surface of the automation hub.
type System interface {
	Telemetry
	Actuation
	LoadControl

	// Ping verifies connectivity; it is called at the top of every tick.
	Ping(ctx context.Context) error
}
