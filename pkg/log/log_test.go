package log

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	l1 := Ctx(ctx)
	require.NotNil(t, l1, "Ctx returned nil instead of default logger")
	assert.Equal(t, defaultLogger, l1, "Ctx should return defaultLogger")

	customLogger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	require.NotEqual(t, defaultLogger, customLogger)

	ctxWithLogger := With(ctx, customLogger)
	l2 := Ctx(ctxWithLogger)
	require.NotNil(t, l2)
	assert.Equal(t, customLogger, l2, "Ctx should return the logger stored in the context")
}

func TestComponent(t *testing.T) {
	ctx, l := Component(context.Background(), "scheduler")
	require.NotNil(t, l)
	assert.Equal(t, l, Ctx(ctx), "derived context should carry the component logger")
	assert.NotEqual(t, defaultLogger, l)
}
