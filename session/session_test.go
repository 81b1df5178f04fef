package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/powerwatch/browser/browsertest"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/session"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newSession(site *browsertest.Site, rec *browsertest.Recorder) *session.Session {
	return session.New(site.Launcher(rec), site.SessionConfig(),
		session.WithSleep(noSleep),
		session.WithPollInterval(time.Millisecond),
	)
}

func TestEnsureAuthenticated_LogsIn(t *testing.T) {
	site := browsertest.NewSite()
	rec := &browsertest.Recorder{}
	s := newSession(site, rec)
	ctx := context.Background()

	assert.Equal(t, session.Unstarted, s.State())
	require.NoError(t, s.Init(ctx))
	assert.Equal(t, session.Initializing, s.State())

	require.NoError(t, s.EnsureAuthenticated(ctx))
	assert.Equal(t, session.Authenticated, s.State())
	assert.Equal(t, 1, site.LoginAttempts())

	page := s.Page().(*browsertest.Page)
	assert.Equal(t, site.Username, page.InputValue(browsertest.SelIdentifier))
	assert.Equal(t, site.Password, page.InputValue(browsertest.SelPassword))

	nav := rec.Index("navigate " + site.BaseURL)
	ident := rec.Index("input " + browsertest.SelIdentifier)
	pass := rec.Index("input " + browsertest.SelPassword)
	submit := rec.Index("click " + browsertest.SelPrimarySubmit)
	require.True(t, nav >= 0 && ident >= 0 && pass >= 0 && submit >= 0, "log: %v", rec.Entries())
	assert.True(t, nav < ident && ident < pass && pass < submit, "log: %v", rec.Entries())
}

func TestEnsureAuthenticated_Idempotent(t *testing.T) {
	site := browsertest.NewSite()
	rec := &browsertest.Recorder{}
	s := newSession(site, rec)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.EnsureAuthenticated(ctx))
	require.NoError(t, s.EnsureAuthenticated(ctx))
	require.NoError(t, s.Init(ctx))

	assert.Equal(t, 1, rec.Count("navigate"))
	assert.Equal(t, 1, rec.Count("launch"))
	assert.Equal(t, 1, site.LoginAttempts())
}

func TestEnsureAuthenticated_SubmitFallback(t *testing.T) {
	tests := []struct {
		name      string
		noPrimary bool
		noSubmit  bool
		want      string
	}{
		{"primary submit", false, false, "click " + browsertest.SelPrimarySubmit},
		{"any submit", true, false, "click " + browsertest.SelSubmit},
		{"enter key", true, true, "press-enter " + browsertest.SelPassword},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := browsertest.NewSite()
			site.NoPrimarySubmit = tt.noPrimary
			site.NoSubmit = tt.noSubmit
			rec := &browsertest.Recorder{}
			s := newSession(site, rec)

			require.NoError(t, s.Init(context.Background()))
			require.NoError(t, s.EnsureAuthenticated(context.Background()))

			assert.GreaterOrEqual(t, rec.Index(tt.want), 0, "log: %v", rec.Entries())
			assert.Equal(t, 1, rec.Count("click ")+rec.Count("press-enter "), "exactly one submit")
		})
	}
}

func TestEnsureAuthenticated_FailureReasons(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason error
	}{
		{"wrong password", "Wrong password", session.ErrWrongPassword},
		{"invalid email", "Invalid email or password", session.ErrInvalidCredentials},
		{"error marker", "Something went wrong", session.ErrErrorMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			site := browsertest.NewSite()
			site.RejectLogins = 1
			site.RejectText = tt.text
			s := newSession(site, nil)

			require.NoError(t, s.Init(context.Background()))
			err := s.EnsureAuthenticated(context.Background())

			require.Error(t, err)
			assert.Equal(t, models.ErrCodeLoginFailed, models.CodeOf(err))
			assert.ErrorIs(t, err, tt.reason)
			assert.True(t, models.IsSessionFatal(err))
			assert.Equal(t, session.Expired, s.State())
		})
	}
}

// loginPage renders a login form whose submit button does nothing.
func loginPage(rec *browsertest.Recorder, showForm bool) *browsertest.Page {
	p := browsertest.NewPage(rec)
	p.OnNavigate = func(p *browsertest.Page, _ string) error {
		p.SetURL("https://monitor.test/auth/login")
		p.SetText("Sign in")
		if showForm {
			p.Show(browsertest.SelIdentifier, browsertest.SelPassword, browsertest.SelSubmit)
		}
		return nil
	}
	return p
}

func TestEnsureAuthenticated_StayedOnLogin(t *testing.T) {
	rec := &browsertest.Recorder{}
	site := browsertest.NewSite()
	l := browsertest.NewLauncher(rec, func() *browsertest.Page { return loginPage(rec, true) })
	s := session.New(l, site.SessionConfig(), session.WithSleep(noSleep), session.WithPollInterval(time.Millisecond))

	require.NoError(t, s.Init(context.Background()))
	err := s.EnsureAuthenticated(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrStayedOnLogin)
	assert.Equal(t, session.Expired, s.State())
}

func TestEnsureAuthenticated_FormNotFound(t *testing.T) {
	rec := &browsertest.Recorder{}
	site := browsertest.NewSite()
	l := browsertest.NewLauncher(rec, func() *browsertest.Page { return loginPage(rec, false) })
	s := session.New(l, site.SessionConfig(), session.WithSleep(noSleep))

	require.NoError(t, s.Init(context.Background()))
	err := s.EnsureAuthenticated(context.Background())

	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLoginFailed, models.CodeOf(err))
	assert.ErrorIs(t, err, session.ErrLoginFormNotFound)
	assert.Equal(t, 0, rec.Count("input "), "nothing typed without a form")
}

func TestEnsureAuthenticated_FreshSessionOffLoginRouteWithoutForm(t *testing.T) {
	rec := &browsertest.Recorder{}
	site := browsertest.NewSite()
	l := browsertest.NewLauncher(rec, func() *browsertest.Page {
		p := browsertest.NewPage(rec)
		p.OnNavigate = func(p *browsertest.Page, _ string) error {
			p.SetURL("https://monitor.test/maintenance")
			p.SetText("Service temporarily unavailable")
			return nil
		}
		return p
	})
	cfg := site.SessionConfig()
	cfg.FormTimeout = 10 * time.Millisecond
	s := session.New(l, cfg, session.WithSleep(noSleep))

	require.NoError(t, s.Init(context.Background()))
	err := s.EnsureAuthenticated(context.Background())

	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLoginFailed, models.CodeOf(err))
	assert.ErrorIs(t, err, session.ErrLoginFormNotFound)
	assert.Equal(t, session.Expired, s.State())
	assert.Equal(t, 0, rec.Count("input "))
}

func TestEnsureAuthenticated_NavigationTimeout(t *testing.T) {
	rec := &browsertest.Recorder{}
	site := browsertest.NewSite()
	l := browsertest.NewLauncher(rec, func() *browsertest.Page {
		p := browsertest.NewPage(rec)
		p.OnNavigate = func(*browsertest.Page, string) error {
			return models.NewScrapeError(models.ErrCodeTimeout, "navigation timed out", context.DeadlineExceeded)
		}
		return p
	})
	s := session.New(l, site.SessionConfig(), session.WithSleep(noSleep))

	require.NoError(t, s.Init(context.Background()))
	err := s.EnsureAuthenticated(context.Background())

	assert.Equal(t, models.ErrCodeLoginFailed, models.CodeOf(err))
	assert.ErrorIs(t, err, session.ErrNavigationTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestEnsureAuthenticated_DegradedRecovers(t *testing.T) {
	site := browsertest.NewSite()
	s := newSession(site, nil)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.EnsureAuthenticated(ctx))

	// The app bounced to its login route but the cookie is still valid.
	page := s.Page().(*browsertest.Page)
	page.SetURL(site.BaseURL + "/login")

	require.NoError(t, s.EnsureAuthenticated(ctx))
	assert.Equal(t, session.Authenticated, s.State())
	assert.Equal(t, 1, site.LoginAttempts(), "valid cookie needs no second login")
}

func TestEnsureAuthenticated_ExpiredNeedsRebuild(t *testing.T) {
	site := browsertest.NewSite()
	rec := &browsertest.Recorder{}
	s := newSession(site, rec)
	ctx := context.Background()

	require.NoError(t, s.Init(ctx))
	s.MarkExpired()

	err := s.EnsureAuthenticated(ctx)
	assert.Equal(t, models.ErrCodeSessionExpired, models.CodeOf(err))
	assert.Equal(t, 0, rec.Count("navigate"))

	require.NoError(t, s.Teardown())
	assert.Equal(t, session.Expired, s.State())
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.EnsureAuthenticated(ctx))
	assert.Equal(t, 2, rec.Count("launch"))
}

func TestEnsureAuthenticated_NotInitialised(t *testing.T) {
	s := newSession(browsertest.NewSite(), nil)
	err := s.EnsureAuthenticated(context.Background())
	assert.True(t, models.IsInitialization(err))
}

func TestInit_LaunchFailure(t *testing.T) {
	l := browsertest.NewLauncher(nil, nil)
	l.Err = errors.New("chromium not found")
	s := session.New(l, browsertest.NewSite().SessionConfig())

	err := s.Init(context.Background())
	require.Error(t, err)
	assert.True(t, models.IsInitialization(err))
	assert.Equal(t, session.Unstarted, s.State())
	assert.Nil(t, s.Page())
}

func TestTeardown(t *testing.T) {
	site := browsertest.NewSite()
	l := site.Launcher(nil)
	s := session.New(l, site.SessionConfig(), session.WithSleep(noSleep))

	require.NoError(t, s.Teardown(), "teardown before init")

	require.NoError(t, s.Init(context.Background()))
	page := s.Page().(*browsertest.Page)

	require.NoError(t, s.Teardown())
	require.NoError(t, s.Teardown())

	assert.True(t, page.Closed())
	require.Len(t, l.Browsers(), 1)
	assert.True(t, l.Browsers()[0].Closed())
	assert.Nil(t, s.Page())
	assert.Equal(t, session.Unstarted, s.State())
}

func TestIsLoginRoute(t *testing.T) {
	routes := []string{"login", "signin", "sign-in", "auth"}
	tests := []struct {
		url  string
		want bool
	}{
		{"https://monitor.test/login", true},
		{"https://monitor.test/auth/callback", true},
		{"https://monitor.test/Sign-In?next=/x", true},
		{"https://monitor.test/#/login", true},
		{"https://monitor.test/sites/42/flow", false},
		{"https://monitor.test/loginhelp", false},
		{"https://monitor.test/", false},
		{"about:blank", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, session.IsLoginRoute(tt.url, routes), tt.url)
	}
}
