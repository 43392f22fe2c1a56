package hub

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/mock"
)

// Mock is a testify mock of the full hub System, used by the scheduler
// and load manager tests.
type Mock struct {
	mock.Mock
}

var _ System = (*Mock)(nil)

func (m *Mock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *Mock) ReadTelemetry(ctx context.Context) (types.Telemetry, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.Telemetry), args.Error(1)
}

func (m *Mock) ApplyAction(ctx context.Context, action types.BatteryAction) error {
	args := m.Called(ctx, action)
	return args.Error(0)
}

func (m *Mock) TurnOn(ctx context.Context, entity string) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

func (m *Mock) TurnOff(ctx context.Context, entity string) error {
	args := m.Called(ctx, entity)
	return args.Error(0)
}

func (m *Mock) IsOn(ctx context.Context, entity string) (bool, error) {
	args := m.Called(ctx, entity)
	return args.Bool(0), args.Error(1)
}

func (m *Mock) IsAvailable(ctx context.Context, entity string) (bool, error) {
	args := m.Called(ctx, entity)
	return args.Bool(0), args.Error(1)
}
