// Package scraper is the scrape orchestrator: it composes the session, the
// navigator and the extractor into one cycle, applies the rebuild-and-retry
// policy, and maintains the latest snapshot.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/use-agent/powerwatch/browser"
	"github.com/use-agent/powerwatch/cache"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/extract"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/navigator"
	"github.com/use-agent/powerwatch/session"
	"golang.org/x/sync/singleflight"
)

// maxAttempts is the first cycle plus one retry on a fresh session.
const maxAttempts = 2

// ErrClosed is returned by Scrape after Close.
var ErrClosed = models.NewScrapeError(models.ErrCodeInternal, "scraper closed", nil)

// Scraper owns the process's single session and is the only writer of the
// latest snapshot. It is safe for concurrent use: overlapping Scrape calls
// join the cycle already in flight.
type Scraper struct {
	session   *session.Session
	navigator *navigator.Navigator
	latest    *cache.Latest
	cfg       config.ScraperConfig

	group   singleflight.Group
	mu      sync.Mutex
	closed  bool
	metrics *metrics
	now     func() time.Time
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithClock overrides the clock used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Scraper) { s.now = now }
}

// New wires an orchestrator. Nothing is launched until the first Scrape.
func New(sess *session.Session, nav *navigator.Navigator, latest *cache.Latest, cfg config.ScraperConfig, opts ...Option) *Scraper {
	if latest == nil {
		latest = &cache.Latest{}
	}
	s := &Scraper{
		session:   sess,
		navigator: nav,
		latest:    latest,
		cfg:       cfg,
		metrics:   newMetrics(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scrape runs one scrape cycle and returns the new snapshot. When the
// cycle fails it returns the previously cached snapshot instead, which is
// nil if no cycle ever succeeded. The only errors returned are
// InitializationFailure, ErrClosed and ctx's error; all of them still come
// with the cached snapshot.
//
// A cycle is never interrupted once started: ctx cancellation only stops
// the caller from waiting for it.
func (s *Scraper) Scrape(ctx context.Context) (*models.Snapshot, error) {
	ch := s.group.DoChan("scrape", func() (any, error) {
		return s.scrape(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		snap, _ := res.Val.(*models.Snapshot)
		return snap, res.Err
	case <-ctx.Done():
		return s.latest.Load(), ctx.Err()
	}
}

func (s *Scraper) scrape(ctx context.Context) (*models.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.latest.Load(), ErrClosed
	}

	start := time.Now()
	snap, err := backoff.Retry(ctx, func() (*models.Snapshot, error) {
		snap, err := s.cycle(ctx)
		if err == nil {
			return snap, nil
		}
		if !models.IsSessionFatal(err) {
			return nil, backoff.Permanent(err)
		}
		// Never patch a broken session in place.
		s.session.MarkExpired()
		if tErr := s.session.Teardown(); tErr != nil {
			slog.WarnContext(ctx, "session teardown failed", "error", tErr)
		}
		s.metrics.rebuild(ctx, models.CodeOf(err))
		return nil, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.cfg.RetryBackoff)),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "scrape cycle failed, retrying on a fresh session",
				"code", models.CodeOf(err), "error", err, "retryIn", next)
		}),
	)
	elapsed := time.Since(start)

	if err == nil {
		s.latest.Store(snap)
		s.metrics.cycle(ctx, outcomeFresh, elapsed)
		slog.InfoContext(ctx, "scrape cycle complete", "durationMs", elapsed.Milliseconds())
		return snap, nil
	}

	cached := s.latest.Load()
	if cached == nil {
		s.metrics.cycle(ctx, outcomeEmpty, elapsed)
	} else {
		s.metrics.cycle(ctx, outcomeStale, elapsed)
	}

	if models.IsInitialization(err) {
		slog.ErrorContext(ctx, "browser session could not be created", "error", err)
		return cached, err
	}
	slog.WarnContext(ctx, "scrape cycle failed, serving cached snapshot",
		"code", models.CodeOf(err), "error", err, "hasCached", cached != nil)
	return cached, nil
}

// cycle is one attempt on the current (or a freshly created) session.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Session        – launch lazily, then log in or verify liveness
//  2. Navigate       – tiered navigation onto the target view
//  3. Data wait      – bounded; on timeout screenshot and carry on
//  4. Extract        – element texts, with an HTML fallback
func (s *Scraper) cycle(ctx context.Context) (*models.Snapshot, error) {
	// ── 1. Session ───────────────────────────────────────────────────
	if err := s.session.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.session.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}
	page := s.session.Page()

	// ── 2. Navigate ──────────────────────────────────────────────────
	tier, err := s.navigator.GoToTarget(ctx, page)
	if err != nil {
		s.screenshot(ctx, page, "navigation")
		return nil, err
	}
	s.metrics.tier(ctx, tier)

	// ── 3. Data wait ─────────────────────────────────────────────────
	if err := page.WaitText(ctx, s.cfg.DataMarkers, s.cfg.DataTimeout); err != nil {
		slog.WarnContext(ctx, "data markers did not appear, extracting anyway", "error", err)
		s.screenshot(ctx, page, "data-timeout")
	}

	// ── 4. Extract ───────────────────────────────────────────────────
	texts, err := s.elementTexts(ctx, page)
	if err != nil {
		return nil, err
	}
	return extract.Snapshot(texts, s.now()), nil
}

// elementTexts reads the element texts from the live page, falling back to
// deriving them from the serialised HTML.
func (s *Scraper) elementTexts(ctx context.Context, page browser.Page) ([]string, error) {
	texts, err := page.ElementTexts(ctx)
	if err == nil {
		return texts, nil
	}
	slog.WarnContext(ctx, "reading element texts failed, parsing HTML instead", "error", err)

	html, htmlErr := page.HTML(ctx)
	if htmlErr != nil {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, "page text unreadable", errors.Join(err, htmlErr))
	}
	texts, parseErr := extract.ElementTexts(html)
	if parseErr != nil {
		return nil, models.NewScrapeError(models.ErrCodeExtraction, "page HTML unparsable", parseErr)
	}
	return texts, nil
}

func (s *Scraper) screenshot(ctx context.Context, page browser.Page, reason string) {
	if s.cfg.ScreenshotDir == "" || page == nil {
		return
	}
	path := filepath.Join(s.cfg.ScreenshotDir, fmt.Sprintf("powerwatch-%s-%d.png", reason, s.now().Unix()))
	if err := page.Screenshot(ctx, path); err != nil {
		slog.WarnContext(ctx, "diagnostic screenshot failed", "reason", reason, "error", err)
		return
	}
	slog.InfoContext(ctx, "diagnostic screenshot saved", "reason", reason, "path", path)
}

// LatestData returns the newest snapshot, or nil before the first success.
func (s *Scraper) LatestData() *models.Snapshot {
	return s.latest.Load()
}

// SessionState reports the state of the underlying session.
func (s *Scraper) SessionState() session.State {
	return s.session.State()
}

// Close waits for any in-flight cycle and releases the browser. It is
// idempotent and safe to call before the first Scrape.
func (s *Scraper) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	slog.Info("scraper shutting down: closing browser session")
	return s.session.Teardown()
}
