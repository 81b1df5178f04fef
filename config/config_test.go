package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("POWERWATCH_USERNAME", "owner@example.com")
	t.Setenv("POWERWATCH_PASSWORD", "hunter2")
	t.Setenv("POWERWATCH_BASE_URL", "https://monitor.example.com")
	t.Setenv("POWERWATCH_TARGET_PATH", "/sites/42/flow")
	t.Setenv("POWERWATCH_TARGET_NAME", "Home")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg := Load()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Browser.Headless)
	assert.True(t, cfg.Browser.Stealth)
	assert.Equal(t, []string{"Image", "Font", "Media"}, cfg.Browser.BlockedResources)
	assert.Equal(t, []string{"login", "signin", "sign-in", "auth"}, cfg.Session.LoginRoutes)
	assert.Equal(t, 30*time.Second, cfg.Session.NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Scraper.RetryBackoff)
	assert.Equal(t, []string{"Load:"}, cfg.Scraper.DataMarkers)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.IdleTimeout)
	assert.Equal(t, "powerwatch.snapshot", cfg.Publish.NATSSubject)
	assert.False(t, cfg.Auth.Enabled)

	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("POWERWATCH_SCRAPE_INTERVAL", "1m")
	t.Setenv("POWERWATCH_READY_MARKERS", " Solar , Grid ,, ")
	t.Setenv("POWERWATCH_HEADLESS", "false")
	t.Setenv("POWERWATCH_RATE_RPS", "0.5")
	t.Setenv("POWERWATCH_PORT", "not-a-number")

	cfg := Load()

	assert.Equal(t, time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"Solar", "Grid"}, cfg.Target.ReadyMarkers)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 0.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 8080, cfg.Server.Port, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing credentials", func(c *Config) { c.Session.Password = "" }, "POWERWATCH_PASSWORD"},
		{"relative base url", func(c *Config) { c.Session.BaseURL = "/app" }, "POWERWATCH_BASE_URL"},
		{"missing target", func(c *Config) { c.Target.Path = "" }, "POWERWATCH_TARGET_PATH"},
		{"missing target name", func(c *Config) { c.Target.Name = " " }, "POWERWATCH_TARGET_NAME"},
		{"bad selector", func(c *Config) { c.Session.PasswordSelector = "input[type=" }, "POWERWATCH_SEL_PASSWORD"},
		{"unknown resource", func(c *Config) { c.Browser.BlockedResources = []string{"Script"} }, "Script"},
		{"webhook without secret", func(c *Config) { c.Publish.WebhookURL = "https://hooks.example.com" }, "POWERWATCH_WEBHOOK_SECRET"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestTargetAndListURL(t *testing.T) {
	setRequired(t)
	cfg := Load()

	assert.Equal(t, "https://monitor.example.com/sites/42/flow", cfg.TargetURL())
	assert.Equal(t, "https://monitor.example.com/", cfg.ListURL())
}
