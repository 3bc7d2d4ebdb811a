package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)

	require.Equal(t, EnvDevelopment, cfg.Env)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, ArtifactDriverLocal, cfg.Artifacts.Driver)
	require.Equal(t, 15*time.Minute, cfg.Artifacts.SignedURLTTL)
	require.Equal(t, uint32(5), cfg.Artifacts.BreakerMaxFailure)
	require.Equal(t, 10, cfg.Rollout.StepPercent)
	require.Equal(t, time.Hour, cfg.Rollout.StepInterval)
	require.Zero(t, cfg.Rollout.TickInterval)
	require.Equal(t, int64(100), cfg.Safety.MediumImpactThreshold)
	require.Equal(t, int64(1000), cfg.Safety.HighImpactThreshold)
	require.Equal(t, uint32(5), cfg.Safety.BreakerMaxFailure)
	require.Equal(t, 30*time.Second, cfg.Safety.BreakerTimeout)
	require.Equal(t, NotifierDriverLog, cfg.Notifier.Driver)
	require.True(t, cfg.Versions.CacheEnabled)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("ARTIFACT_STORE_DRIVER", "S3")
	v.Set("S3_PREFIX", "/releases/")
	v.Set("ROLLOUT_STEP_INTERVAL", "not-a-duration")
	v.Set("TELEMETRY_BREAKER_MAX_FAILURES", 2)
	v.Set("TELEMETRY_BREAKER_TIMEOUT", "1m")
	v.Set("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	cfg := fromViper(v)

	require.Equal(t, ArtifactDriverS3, cfg.Artifacts.Driver)
	require.Equal(t, uint32(2), cfg.Safety.BreakerMaxFailure)
	require.Equal(t, time.Minute, cfg.Safety.BreakerTimeout)
	require.Equal(t, "releases", cfg.Artifacts.S3.Prefix)
	require.Equal(t, time.Hour, cfg.Rollout.StepInterval)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}
