package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/powerwatch/cache"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/session"
)

type fakeSource struct {
	latest *cache.Latest
	state  session.State

	mu      sync.Mutex
	next    *models.Snapshot
	err     error
	scrapes int
}

func (f *fakeSource) Scrape(context.Context) (*models.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrapes++
	if f.next != nil {
		f.latest.Store(f.next)
	}
	return f.latest.Load(), f.err
}

func (f *fakeSource) LatestData() *models.Snapshot { return f.latest.Load() }
func (f *fakeSource) SessionState() session.State  { return f.state }

type counter struct{ n atomic.Int32 }

func (c *counter) Touch() { c.n.Add(1) }

func testConfig() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
}

type env struct {
	router   *gin.Engine
	source   *fakeSource
	activity *counter
}

func newEnv(t *testing.T, cfg *config.Config) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	latest := &cache.Latest{}
	src := &fakeSource{latest: latest, state: session.Unstarted}
	act := &counter{}
	r := NewRouter(ctx, Deps{
		Source:    src,
		Latest:    latest,
		Activity:  act,
		Version:   "test",
		StartTime: time.Now(),
	}, cfg)
	return &env{router: r, source: src, activity: act}
}

func (e *env) do(method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) models.DataResponse {
	t.Helper()
	var resp models.DataResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp
}

func snapshotAt(ts time.Time) *models.Snapshot {
	return &models.Snapshot{
		Timestamp: ts,
		Solar:     models.Reading{Load: models.Int(2300)},
	}
}

func TestData_NotReady(t *testing.T) {
	e := newEnv(t, testConfig())

	rr := e.do(http.MethodGet, "/api/v1/data", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	resp := decode(t, rr)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrCodeNotReady, resp.Error.Code)
	assert.Equal(t, int32(1), e.activity.n.Load(), "reads count as activity")
	assert.Equal(t, 0, e.source.scrapes, "reads never scrape")
}

func TestData_ServesLatest(t *testing.T) {
	e := newEnv(t, testConfig())
	e.source.latest.Store(snapshotAt(time.Now().Add(-5 * time.Second)))

	rr := e.do(http.MethodGet, "/api/v1/data", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Data)
	assert.Equal(t, 2300, *resp.Data.Solar.Load)
	assert.GreaterOrEqual(t, resp.AgeMs, int64(5000))
	assert.Nil(t, resp.Timing)
}

func TestData_MaxAge(t *testing.T) {
	e := newEnv(t, testConfig())
	e.source.latest.Store(snapshotAt(time.Now().Add(-2 * time.Minute)))

	rr := e.do(http.MethodGet, "/api/v1/data?max_age=10m", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/data?max_age=30s", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, models.ErrCodeNotReady, decode(t, rr).Error.Code)

	rr = e.do(http.MethodGet, "/api/v1/data?max_age=soon", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, models.ErrCodeInvalidInput, decode(t, rr).Error.Code)
}

func TestRefresh(t *testing.T) {
	e := newEnv(t, testConfig())
	e.source.next = snapshotAt(time.Now())

	rr := e.do(http.MethodPost, "/api/v1/refresh", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode(t, rr)
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.NotNil(t, resp.Timing)
	assert.Equal(t, 1, e.source.scrapes)
	assert.Equal(t, int32(1), e.activity.n.Load())
}

func TestRefresh_NothingCaptured(t *testing.T) {
	e := newEnv(t, testConfig())

	rr := e.do(http.MethodPost, "/api/v1/refresh", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, models.ErrCodeNotReady, decode(t, rr).Error.Code)
}

func TestRefresh_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"initialization", models.NewScrapeError(models.ErrCodeInitialization, "no browser", nil), http.StatusInternalServerError, models.ErrCodeInitialization},
		{"timeout", models.NewScrapeError(models.ErrCodeTimeout, "slow", nil), http.StatusGatewayTimeout, models.ErrCodeTimeout},
		{"caller gone", context.DeadlineExceeded, http.StatusGatewayTimeout, models.ErrCodeTimeout},
		{"login", models.NewScrapeError(models.ErrCodeLoginFailed, "rejected", nil), http.StatusBadGateway, models.ErrCodeLoginFailed},
		{"session", models.NewScrapeError(models.ErrCodeSessionExpired, "expired", nil), http.StatusBadGateway, models.ErrCodeSessionExpired},
		{"closed", models.NewScrapeError(models.ErrCodeInternal, "scraper closed", nil), http.StatusInternalServerError, models.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, testConfig())
			e.source.err = tt.err

			rr := e.do(http.MethodPost, "/api/v1/refresh", nil)
			assert.Equal(t, tt.status, rr.Code)
			resp := decode(t, rr)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.NotNil(t, resp.Timing)
		})
	}
}

func TestHealth(t *testing.T) {
	e := newEnv(t, testConfig())

	read := func() models.HealthResponse {
		rr := e.do(http.MethodGet, "/api/v1/health", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		var resp models.HealthResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		return resp
	}

	resp := read()
	assert.Equal(t, "starting", resp.Status)
	assert.Equal(t, "unstarted", resp.Session)
	assert.Nil(t, resp.LastUpdate)
	assert.Equal(t, "test", resp.Version)

	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	e.source.latest.Store(snapshotAt(ts))
	e.source.state = session.Authenticated
	resp = read()
	assert.Equal(t, "healthy", resp.Status)
	require.NotNil(t, resp.LastUpdate)
	assert.True(t, ts.Equal(*resp.LastUpdate))

	e.source.state = session.Expired
	assert.Equal(t, "degraded", read().Status)
	assert.Equal(t, int32(0), e.activity.n.Load(), "health probes are not activity")
}

func TestAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKeys: []string{"k1", "k2"}}
	e := newEnv(t, cfg)
	e.source.latest.Store(snapshotAt(time.Now()))

	rr := e.do(http.MethodGet, "/api/v1/data", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decode(t, rr).Error.Code)

	rr = e.do(http.MethodGet, "/api/v1/data", map[string]string{"X-API-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/data", map[string]string{"X-API-Key": "k2"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/data", map[string]string{"Authorization": "Bearer k1"})
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "health needs no key")
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.5, Burst: 2}
	e := newEnv(t, cfg)

	for i := range 2 {
		rr := e.do(http.MethodGet, "/api/v1/data", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, "request %d within burst", i)
	}
	rr := e.do(http.MethodGet, "/api/v1/data", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, models.ErrCodeRateLimited, decode(t, rr).Error.Code)
	assert.Equal(t, "2", rr.Header().Get("Retry-After"))
}
