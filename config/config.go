package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/cascadia"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Session   SessionConfig
	Target    TargetConfig
	Scraper   ScraperConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Publish   PublishConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	Proxy string

	// Stealth injects go-rod/stealth into every new document.
	Stealth bool // default: true

	// AcceptLanguage pins the UI language so the text markers stay stable.
	AcceptLanguage string // default: "en-US,en;q=0.9"

	// BlockedResources lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResources []string
}

// SessionConfig controls login and session verification.
type SessionConfig struct {
	// BaseURL is the application root; login starts here.
	BaseURL  string
	Username string
	Password string

	IdentifierSelector    string
	PasswordSelector      string
	PrimarySubmitSelector string
	SubmitSelector        string

	// ErrorSelector marks a rendered login error.
	ErrorSelector string

	// LoginRoutes are path segments that denote the login view.
	LoginRoutes []string // default: login, signin, sign-in, auth

	NavigationTimeout time.Duration // default: 30s
	FormTimeout       time.Duration // default: 15s
	LoginTimeout      time.Duration // default: 20s
	LoginSettle       time.Duration // default: 2s
}

// TargetConfig describes the power-flow view and how to find it.
type TargetConfig struct {
	// Path is the deep-link route of the target view, relative to the base URL.
	Path string

	// Name is the human-readable name shown in the list view.
	Name string

	ListPath         string // default: "/"
	ListItemSelector string // default: "a, button, [role=button], li"

	// ReadyMarkers are tokens whose presence means the view rendered data.
	ReadyMarkers []string // default: Solar, Grid, Battery

	RouteSettle  time.Duration // default: 2s
	ReadyTimeout time.Duration // default: 10s
}

// ScraperConfig controls the scrape cycle.
type ScraperConfig struct {
	// DataMarkers are awaited before extraction.
	DataMarkers []string // default: ["Load:"]

	DataTimeout time.Duration // default: 15s

	// RetryBackoff is the pause between the failed cycle and its single retry.
	RetryBackoff time.Duration // default: 5s

	// ScreenshotDir receives diagnostic screenshots.
	ScreenshotDir string // default: os.TempDir()
}

// SchedulerConfig controls the activity-gated scrape loop.
type SchedulerConfig struct {
	Interval       time.Duration // default: 30s
	IdleTimeout    time.Duration // default: 5m
	PublishTimeout time.Duration // default: 10s
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: false

	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 2

	// Burst is the maximum burst size per API key.
	Burst int // default: 5
}

// PublishConfig controls the snapshot consumers. Empty values disable a consumer.
type PublishConfig struct {
	NATSURL       string
	NATSSubject   string // default: "powerwatch.snapshot"
	WebhookURL    string
	WebhookSecret string
}

// TelemetryConfig controls OpenTelemetry metric export.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector; empty installs a no-op provider.
	OTLPEndpoint string
	ServiceName  string // default: "powerwatch"
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("POWERWATCH_HOST", "0.0.0.0"),
			Port: envIntOr("POWERWATCH_PORT", 8080),
			Mode: envOr("POWERWATCH_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:       envBoolOr("POWERWATCH_HEADLESS", true),
			NoSandbox:      envBoolOr("POWERWATCH_NO_SANDBOX", false),
			BrowserBin:     os.Getenv("POWERWATCH_BROWSER_BIN"),
			Proxy:          os.Getenv("POWERWATCH_PROXY"),
			Stealth:        envBoolOr("POWERWATCH_STEALTH", true),
			AcceptLanguage: envOr("POWERWATCH_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			BlockedResources: envSliceOr("POWERWATCH_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Session: SessionConfig{
			BaseURL:               os.Getenv("POWERWATCH_BASE_URL"),
			Username:              os.Getenv("POWERWATCH_USERNAME"),
			Password:              os.Getenv("POWERWATCH_PASSWORD"),
			IdentifierSelector:    envOr("POWERWATCH_SEL_IDENTIFIER", `input[type="email"], input[name="email"], input[name="username"]`),
			PasswordSelector:      envOr("POWERWATCH_SEL_PASSWORD", `input[type="password"]`),
			PrimarySubmitSelector: envOr("POWERWATCH_SEL_PRIMARY_SUBMIT", `button[type="submit"].primary, button[type="submit"][data-variant="primary"]`),
			SubmitSelector:        envOr("POWERWATCH_SEL_SUBMIT", `button[type="submit"]:not([role="tab"])`),
			ErrorSelector:         envOr("POWERWATCH_SEL_ERROR", `[role="alert"], .error-message`),
			LoginRoutes:           envSliceOr("POWERWATCH_LOGIN_ROUTES", []string{"login", "signin", "sign-in", "auth"}),
			NavigationTimeout:     envDurationOr("POWERWATCH_NAV_TIMEOUT", 30*time.Second),
			FormTimeout:           envDurationOr("POWERWATCH_FORM_TIMEOUT", 15*time.Second),
			LoginTimeout:          envDurationOr("POWERWATCH_LOGIN_TIMEOUT", 20*time.Second),
			LoginSettle:           envDurationOr("POWERWATCH_LOGIN_SETTLE", 2*time.Second),
		},
		Target: TargetConfig{
			Path:             os.Getenv("POWERWATCH_TARGET_PATH"),
			Name:             os.Getenv("POWERWATCH_TARGET_NAME"),
			ListPath:         envOr("POWERWATCH_LIST_PATH", "/"),
			ListItemSelector: envOr("POWERWATCH_LIST_ITEM_SELECTOR", `a, button, [role="button"], li`),
			ReadyMarkers:     envSliceOr("POWERWATCH_READY_MARKERS", []string{"Solar", "Grid", "Battery"}),
			RouteSettle:      envDurationOr("POWERWATCH_ROUTE_SETTLE", 2*time.Second),
			ReadyTimeout:     envDurationOr("POWERWATCH_READY_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			DataMarkers:   envSliceOr("POWERWATCH_DATA_MARKERS", []string{"Load:"}),
			DataTimeout:   envDurationOr("POWERWATCH_DATA_TIMEOUT", 15*time.Second),
			RetryBackoff:  envDurationOr("POWERWATCH_RETRY_BACKOFF", 5*time.Second),
			ScreenshotDir: envOr("POWERWATCH_SCREENSHOT_DIR", os.TempDir()),
		},
		Scheduler: SchedulerConfig{
			Interval:       envDurationOr("POWERWATCH_SCRAPE_INTERVAL", 30*time.Second),
			IdleTimeout:    envDurationOr("POWERWATCH_IDLE_TIMEOUT", 5*time.Minute),
			PublishTimeout: envDurationOr("POWERWATCH_PUBLISH_TIMEOUT", 10*time.Second),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("POWERWATCH_AUTH_ENABLED", false),
			APIKeys: envSliceOr("POWERWATCH_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("POWERWATCH_RATE_RPS", 2.0),
			Burst:             envIntOr("POWERWATCH_RATE_BURST", 5),
		},
		Publish: PublishConfig{
			NATSURL:       os.Getenv("POWERWATCH_NATS_URL"),
			NATSSubject:   envOr("POWERWATCH_NATS_SUBJECT", "powerwatch.snapshot"),
			WebhookURL:    os.Getenv("POWERWATCH_WEBHOOK_URL"),
			WebhookSecret: os.Getenv("POWERWATCH_WEBHOOK_SECRET"),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("POWERWATCH_OTLP_ENDPOINT"),
			ServiceName:  envOr("POWERWATCH_SERVICE_NAME", "powerwatch"),
		},
		Log: LogConfig{
			Level:  envOr("POWERWATCH_LOG_LEVEL", "info"),
			Format: envOr("POWERWATCH_LOG_FORMAT", "json"),
		},
	}
}

var blockableResources = map[string]struct{}{
	"Image": {}, "Stylesheet": {}, "Font": {}, "Media": {},
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Session.Username == "" || c.Session.Password == "" {
		errs = append(errs, errors.New("POWERWATCH_USERNAME and POWERWATCH_PASSWORD are required"))
	}
	if u, err := url.Parse(c.Session.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("POWERWATCH_BASE_URL %q must be an absolute URL", c.Session.BaseURL))
	}
	if c.Target.Path == "" {
		errs = append(errs, errors.New("POWERWATCH_TARGET_PATH is required"))
	}
	if strings.TrimSpace(c.Target.Name) == "" {
		errs = append(errs, errors.New("POWERWATCH_TARGET_NAME is required for the list-view navigation fallback"))
	}

	selectors := map[string]string{
		"POWERWATCH_SEL_IDENTIFIER":     c.Session.IdentifierSelector,
		"POWERWATCH_SEL_PASSWORD":       c.Session.PasswordSelector,
		"POWERWATCH_SEL_PRIMARY_SUBMIT": c.Session.PrimarySubmitSelector,
		"POWERWATCH_SEL_SUBMIT":         c.Session.SubmitSelector,
		"POWERWATCH_SEL_ERROR":          c.Session.ErrorSelector,
		"POWERWATCH_LIST_ITEM_SELECTOR": c.Target.ListItemSelector,
	}
	for key, sel := range selectors {
		if _, err := cascadia.ParseGroup(sel); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid selector %q: %w", key, sel, err))
		}
	}

	for _, r := range c.Browser.BlockedResources {
		if _, ok := blockableResources[r]; !ok {
			errs = append(errs, fmt.Errorf("POWERWATCH_BLOCKED_RESOURCES: unknown resource type %q", r))
		}
	}

	if c.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("POWERWATCH_SCRAPE_INTERVAL must be positive"))
	}
	if c.Publish.WebhookURL != "" && c.Publish.WebhookSecret == "" {
		errs = append(errs, errors.New("POWERWATCH_WEBHOOK_SECRET is required when POWERWATCH_WEBHOOK_URL is set"))
	}

	return errors.Join(errs...)
}

// TargetURL resolves the target deep link against the base URL.
func (c *Config) TargetURL() string {
	return Resolve(c.Session.BaseURL, c.Target.Path)
}

// ListURL resolves the list view against the base URL.
func (c *Config) ListURL() string {
	return Resolve(c.Session.BaseURL, c.Target.ListPath)
}

// Resolve resolves ref against base, falling back to concatenation when
// either does not parse.
func Resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return base + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return base + ref
	}
	return b.ResolveReference(r).String()
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
