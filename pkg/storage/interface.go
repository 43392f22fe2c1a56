package storage

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Database defines the persistence contract for decisions, hourly stats
// and load shed state. Implementations serialize writes; the control loop
// assumes a single-writer store.
type Database interface {
	// Decisions
	InsertDecision(ctx context.Context, d types.Decision) error
	// GetLastDecision returns the most recently persisted decision. The
	// bool is false when none has been stored yet.
	GetLastDecision(ctx context.Context) (types.Decision, bool, error)
	GetDecisionHistory(ctx context.Context, start, end time.Time) ([]types.Decision, error)

	// Hourly statistics
	InsertHourlyStat(ctx context.Context, stat types.HourlyStat) error
	GetHourlyStats(ctx context.Context, start, end time.Time) ([]types.HourlyStat, error)

	// Load shed lifecycle. MarkLoadShed creates the state implicitly on
	// first shed; MarkLoadRestored clears it.
	MarkLoadShed(ctx context.Context, deviceID, reason string, at time.Time) error
	MarkLoadRestored(ctx context.Context, deviceID string) error
	GetLoadStates(ctx context.Context) (map[string]types.LoadState, error)
	GetShedDuration(ctx context.Context, deviceID string, now time.Time) (time.Duration, error)

	// Lifecycle
	Close() error
}
