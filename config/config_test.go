package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gnostr-org/signerd/internal/ratelimit"
)

func TestReadConfigDefaults(t *testing.T) {
	cfg, err := ReadConfig("no-such-config")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, int64(8080), cfg.Server.Port)
	assert.Equal(t, int64(300), cfg.Signing.TimeoutSeconds)
	assert.Equal(t, int64(900), cfg.Signer.SessionTTLSeconds)
}

func TestRateLimitSectionFeedsLimiter(t *testing.T) {
	cfg, err := ReadConfig("no-such-config")
	require.NoError(t, err)

	// The section must assign directly into the limiter config.
	l := ratelimit.New(ratelimit.Config{
		MaxAttempts:        cfg.RateLimit.MaxAttempts,
		WindowSeconds:      cfg.RateLimit.WindowSeconds,
		BaseLockoutSeconds: cfg.RateLimit.BaseLockoutSeconds,
		StateFile:          cfg.RateLimit.StateFile,
	})
	require.NotNil(t, l)
}
