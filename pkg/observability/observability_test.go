package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDisabledProviderIsSafe(t *testing.T) {
	ctx := context.Background()
	p, err := New(ctx, &Config{Enabled: false})
	require.NoError(t, err)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	// Every recording path must be a no-op, not a panic.
	p.RecordRequest(ctx)
	p.RecordError(ctx, errors.New("boom"))

	opCtx, done := p.TrackOperation(ctx, "compile", attribute.String("ruleset", "x"))
	assert.NotNil(t, opCtx)
	done(errors.New("boom"))
	done2Ctx, done2 := p.TrackOperation(ctx, "publish")
	assert.NotNil(t, done2Ctx)
	done2(nil)

	require.NoError(t, p.Shutdown(ctx))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "rulegov", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
}
