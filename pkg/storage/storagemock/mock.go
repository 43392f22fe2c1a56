package storagemock

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/storage"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

// MockDatabase is a testify mock of storage.Database.
type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertDecision(ctx context.Context, d types.Decision) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDatabase) GetLastDecision(ctx context.Context) (types.Decision, bool, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Decision), args.Bool(1), args.Error(2)
}

func (m *MockDatabase) GetDecisionHistory(ctx context.Context, start, end time.Time) ([]types.Decision, error) {
	args := m.Called(ctx, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.Decision), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) InsertHourlyStat(ctx context.Context, stat types.HourlyStat) error {
	args := m.Called(ctx, stat)
	return args.Error(0)
}

func (m *MockDatabase) GetHourlyStats(ctx context.Context, start, end time.Time) ([]types.HourlyStat, error) {
	args := m.Called(ctx, start, end)
	if v := args.Get(0); v != nil {
		return v.([]types.HourlyStat), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) MarkLoadShed(ctx context.Context, deviceID, reason string, at time.Time) error {
	args := m.Called(ctx, deviceID, reason, at)
	return args.Error(0)
}

func (m *MockDatabase) MarkLoadRestored(ctx context.Context, deviceID string) error {
	args := m.Called(ctx, deviceID)
	return args.Error(0)
}

func (m *MockDatabase) GetLoadStates(ctx context.Context) (map[string]types.LoadState, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.(map[string]types.LoadState), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetShedDuration(ctx context.Context, deviceID string, now time.Time) (time.Duration, error) {
	args := m.Called(ctx, deviceID, now)
	return args.Get(0).(time.Duration), args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
