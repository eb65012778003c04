package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/creatorsync?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, time.Second, cfg.Worker.BackoffInitial)
	assert.Equal(t, 24*time.Hour, cfg.Broker.MessageTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.RefreshThreshold)
	assert.Equal(t, "http://localhost:8000", cfg.Collector.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Collector.Timeout)
	assert.Equal(t, 5, cfg.Admission.RateLimitMax)
	assert.Equal(t, time.Hour, cfg.Admission.RateLimitWindow)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/creatorsync?sslmode=disable")
	t.Setenv("WORKER_MAX_RETRIES", "5")
	t.Setenv("SECURITY_TEMPLATES", " otp_login , ,magic_link")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Worker.MaxRetries)
	assert.Equal(t, map[string]struct{}{"otp_login": {}, "magic_link": {}}, cfg.Admission.SecurityTemplateSet())
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/creatorsync?sslmode=disable")
	t.Setenv("MAIL_PROVIDER", "carrier-pigeon")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.Error(t, err)
}
