// Package session owns the single browser session of the process: the
// browser and page lifecycle, the login sequence, and the liveness probe
// that decides whether an authenticated session can still be trusted.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/use-agent/powerwatch/browser"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/models"
)

// State is the lifecycle position of a Session.
type State int32

const (
	Unstarted State = iota
	Initializing
	Authenticating
	Authenticated
	Degraded
	Expired
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Initializing:
		return "initializing"
	case Authenticating:
		return "authenticating"
	case Authenticated:
		return "authenticated"
	case Degraded:
		return "degraded"
	case Expired:
		return "expired"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Login failure reasons. They are logged and wrapped inside a LOGIN_FAILED
// ScrapeError; callers only branch on the code.
var (
	ErrNavigationTimeout  = errors.New("login page did not load")
	ErrLoginFormNotFound  = errors.New("login form not found")
	ErrInvalidCredentials = errors.New("invalid email")
	ErrWrongPassword      = errors.New("wrong password")
	ErrErrorMarker        = errors.New("login error shown")
	ErrStayedOnLogin      = errors.New("stayed on login page")
)

// errStillOnLogin drives the post-submit poll.
var errStillOnLogin = errors.New("still on login view")

const defaultPollInterval = 250 * time.Millisecond

// Session is the process's single authenticated browser context. It is not
// safe to drive from more than one goroutine; State may be read concurrently.
type Session struct {
	launcher browser.Launcher
	cfg      config.SessionConfig

	poll  time.Duration
	sleep func(ctx context.Context, d time.Duration) error

	state atomic.Int32

	mu      sync.Mutex
	browser browser.Browser
	page    browser.Page
}

// Option customises a Session.
type Option func(*Session)

// WithPollInterval sets how often the login view is re-checked after submit.
func WithPollInterval(d time.Duration) Option {
	return func(s *Session) { s.poll = d }
}

// WithSleep replaces the settle delay, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Session) { s.sleep = fn }
}

// New returns an unstarted session. No browser is launched until Init.
func New(launcher browser.Launcher, cfg config.SessionConfig, opts ...Option) *Session {
	s := &Session{
		launcher: launcher,
		cfg:      cfg,
		poll:     defaultPollInterval,
		sleep:    Sleep,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Page returns the live page, or nil when no browser is running.
func (s *Session) Page() browser.Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Init launches the browser and opens the page if none is running.
// Any failure is an InitializationFailure.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.page != nil {
		return nil
	}
	s.setState(Initializing)

	b, err := s.launcher.Launch(ctx)
	if err != nil {
		s.setState(Unstarted)
		return asInitFailure(err, "failed to launch browser")
	}
	p, err := b.NewPage(ctx)
	if err != nil {
		_ = b.Close()
		s.setState(Unstarted)
		return asInitFailure(err, "failed to open page")
	}

	s.browser, s.page = b, p
	slog.InfoContext(ctx, "browser session initialised")
	return nil
}

func asInitFailure(err error, msg string) error {
	if models.IsInitialization(err) {
		return err
	}
	return models.NewScrapeError(models.ErrCodeInitialization, msg, err)
}

// EnsureAuthenticated returns immediately when the session is authenticated
// and the liveness probe agrees; otherwise it runs the login sequence.
// Every login failure is reported as LOGIN_FAILED and leaves the session
// Expired; the caller has to tear it down and start over.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	page := s.Page()
	if page == nil {
		return models.NewScrapeError(models.ErrCodeInitialization, "session not initialised", nil)
	}

	degraded := false
	switch s.State() {
	case Expired:
		return models.NewScrapeError(models.ErrCodeSessionExpired, "session expired, rebuild required", nil)
	case Authenticated:
		if s.alive(ctx, page) {
			return nil
		}
		s.setState(Degraded)
		degraded = true
		slog.WarnContext(ctx, "liveness probe failed, logging in again")
	}

	s.setState(Authenticating)
	if err := s.login(ctx, page, degraded); err != nil {
		s.setState(Expired)
		slog.WarnContext(ctx, "login failed", "reason", err)
		return models.NewScrapeError(models.ErrCodeLoginFailed, "login failed", err)
	}
	s.setState(Authenticated)
	slog.InfoContext(ctx, "session authenticated")
	return nil
}

// MarkExpired flags the session as no longer authenticated.
func (s *Session) MarkExpired() {
	s.setState(Expired)
}

// Teardown closes the page and the browser so the next Init starts a
// fresh one. An Expired session stays Expired until then; anything else
// returns to Unstarted. Safe to call repeatedly and on a session that
// never started.
func (s *Session) Teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.page != nil {
		errs = append(errs, s.page.Close())
		s.page = nil
	}
	if s.browser != nil {
		errs = append(errs, s.browser.Close())
		s.browser = nil
	}
	if s.State() != Expired {
		s.setState(Unstarted)
	}
	return errors.Join(errs...)
}

// login drives the login form from the application root. A missing form
// is only accepted when resuming a degraded session whose cookie may still
// be valid; a session that never logged in has no such cookie.
func (s *Session) login(ctx context.Context, page browser.Page, resume bool) error {
	// ── 1. Application root ───────────────────────────────────────────
	if err := page.Navigate(ctx, s.cfg.BaseURL, s.cfg.NavigationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrNavigationTimeout, err)
	}

	// ── 2. Login form ─────────────────────────────────────────────────
	if err := s.waitForForm(ctx, page); err != nil {
		if resume && s.alive(ctx, page) {
			slog.DebugContext(ctx, "no login form, existing session still valid")
			return nil
		}
		return err
	}

	// ── 3. Credentials ────────────────────────────────────────────────
	if err := page.Input(ctx, s.cfg.IdentifierSelector, s.cfg.Username); err != nil {
		return fmt.Errorf("%w: identifier: %w", ErrLoginFormNotFound, err)
	}
	if err := page.Input(ctx, s.cfg.PasswordSelector, s.cfg.Password); err != nil {
		return fmt.Errorf("%w: password: %w", ErrLoginFormNotFound, err)
	}

	// ── 4. Submit ─────────────────────────────────────────────────────
	if err := s.submit(ctx, page); err != nil {
		return err
	}

	// ── 5. Leave the login view ───────────────────────────────────────
	if err := s.waitLeftLogin(ctx, page); err != nil {
		slog.DebugContext(ctx, "login view did not clear in time", "error", err)
	}
	if err := s.sleep(ctx, s.cfg.LoginSettle); err != nil {
		return err
	}

	// ── 6. Verify ─────────────────────────────────────────────────────
	return s.verify(ctx, page)
}

func (s *Session) waitForForm(ctx context.Context, page browser.Page) error {
	if err := page.WaitSelector(ctx, s.cfg.IdentifierSelector, browser.Visible, s.cfg.FormTimeout); err != nil {
		return fmt.Errorf("%w: identifier input: %w", ErrLoginFormNotFound, err)
	}
	if err := page.WaitSelector(ctx, s.cfg.PasswordSelector, browser.Visible, s.cfg.FormTimeout); err != nil {
		return fmt.Errorf("%w: password input: %w", ErrLoginFormNotFound, err)
	}
	return nil
}

// submit prefers the primary submit control, then any non-tab submit
// control, and finally sends Enter from the password field.
func (s *Session) submit(ctx context.Context, page browser.Page) error {
	for _, sel := range []string{s.cfg.PrimarySubmitSelector, s.cfg.SubmitSelector} {
		if sel == "" {
			continue
		}
		ok, err := page.Has(ctx, sel)
		if err != nil || !ok {
			continue
		}
		slog.DebugContext(ctx, "submitting login form", "via", sel)
		if err := page.Click(ctx, sel); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return nil
	}

	slog.DebugContext(ctx, "no submit control, pressing Enter in password field")
	if err := page.PressEnter(ctx, s.cfg.PasswordSelector); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}

// waitLeftLogin polls until the route is no longer a login route or the
// password input is gone, bounded by LoginTimeout.
func (s *Session) waitLeftLogin(ctx context.Context, page browser.Page) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if u, err := page.URL(ctx); err == nil && !IsLoginRoute(u, s.cfg.LoginRoutes) {
			return struct{}{}, nil
		}
		if has, err := page.Has(ctx, s.cfg.PasswordSelector); err == nil && !has {
			return struct{}{}, nil
		}
		return struct{}{}, errStillOnLogin
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.poll)),
		backoff.WithMaxElapsedTime(s.cfg.LoginTimeout),
	)
	return err
}

// verify confirms the password input is gone and otherwise classifies the
// failure from the visible text.
func (s *Session) verify(ctx context.Context, page browser.Page) error {
	has, err := page.Has(ctx, s.cfg.PasswordSelector)
	if err == nil && !has {
		return nil
	}

	text, _ := page.Text(ctx)
	switch {
	case strings.Contains(text, "Invalid email"):
		return ErrInvalidCredentials
	case strings.Contains(text, "Wrong password"):
		return ErrWrongPassword
	}
	if s.cfg.ErrorSelector != "" {
		if marker, err := page.Has(ctx, s.cfg.ErrorSelector); err == nil && marker {
			return ErrErrorMarker
		}
	}
	return ErrStayedOnLogin
}

// alive is the liveness probe: off any login route and no password input.
func (s *Session) alive(ctx context.Context, page browser.Page) bool {
	u, err := page.URL(ctx)
	if err != nil || IsLoginRoute(u, s.cfg.LoginRoutes) {
		return false
	}
	has, err := page.Has(ctx, s.cfg.PasswordSelector)
	return err == nil && !has
}

// IsLoginRoute reports whether any path segment of rawURL names one of the
// login routes, compared case-insensitively.
func IsLoginRoute(rawURL string, routes []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := u.Path
	if u.Fragment != "" {
		// Hash-routed apps keep the route in the fragment.
		path += "/" + u.Fragment
	}
	for _, seg := range strings.Split(path, "/") {
		for _, r := range routes {
			if seg != "" && strings.EqualFold(seg, r) {
				return true
			}
		}
	}
	return false
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
