package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"APP_ENV", "PORTAL_API_TIMEOUT", "TOGGLE_CONCURRENCY", "MARKER_ROLES", "VIEW_IDLE_TTL"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, "dev", cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 15*time.Second, cfg.PortalAPITimeout)
	assert.Equal(t, 8, cfg.ToggleConcurrency)
	assert.Equal(t, 30*time.Minute, cfg.ViewIdleTTL)
	assert.Equal(t, []string{"admin", "trainer"}, cfg.MarkerRoles)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("PORTAL_API_TIMEOUT", "3s")
	t.Setenv("TOGGLE_CONCURRENCY", "2")
	t.Setenv("MARKER_ROLES", " admin , ,coordinator")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VIEW_IDLE_TTL", "not-a-duration")

	cfg := Load()
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 3*time.Second, cfg.PortalAPITimeout)
	assert.Equal(t, 2, cfg.ToggleConcurrency)
	assert.Equal(t, []string{"admin", "coordinator"}, cfg.MarkerRoles)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Minute, cfg.ViewIdleTTL)
}

func TestIntEnvFallback(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	assert.Equal(t, 30, intEnv("RATE_LIMIT_PER_MIN", 30))
}
