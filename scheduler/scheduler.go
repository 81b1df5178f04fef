// Package scheduler drives the scrape orchestrator on a fixed interval
// while consumers are active, and hands every new snapshot to the
// configured publishers.
package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/publish"
)

const defaultInterval = 30 * time.Second

// Scraper is the orchestrator contract the scheduler relies on.
type Scraper interface {
	Scrape(ctx context.Context) (*models.Snapshot, error)
}

// Scheduler is an activity-gated scrape loop.
//
// Run ticks immediately and then every Interval. When nothing has called
// Touch for IdleTimeout the loop suspends without scraping; the next Touch
// resumes it with an immediate tick.
type Scheduler struct {
	scraper    Scraper
	publishers []publish.Publisher
	cfg        config.SchedulerConfig
	now        func() time.Time

	lastActive atomic.Int64 // unix nanos
	wake       chan struct{}

	// owned by the Run goroutine
	lastPublished time.Time
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the clock used for idle detection.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New returns a scheduler for scraper. Publishers may be empty.
func New(scraper Scraper, cfg config.SchedulerConfig, publishers []publish.Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		scraper:    scraper,
		publishers: publishers,
		cfg:        cfg,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.lastActive.Store(s.now().UnixNano())
	return s
}

// Touch records consumer activity and resumes a suspended loop.
func (s *Scheduler) Touch() {
	s.lastActive.Store(s.now().UnixNano())
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Idle reports whether the loop is, or is about to be, suspended.
func (s *Scheduler) Idle() bool {
	if s.cfg.IdleTimeout <= 0 {
		return false
	}
	last := time.Unix(0, s.lastActive.Load())
	return s.now().Sub(last) >= s.cfg.IdleTimeout
}

// Run blocks until ctx is done. It returns nil on cancellation and the
// error of a tick whose session could not be initialised.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "scheduler started",
		"interval", interval, "idleTimeout", s.cfg.IdleTimeout, "publishers", len(s.publishers))

	for {
		if s.Idle() {
			slog.InfoContext(ctx, "no recent activity, scheduler suspended")
			for s.Idle() {
				select {
				case <-ctx.Done():
					return nil
				case <-s.wake:
				}
			}
			slog.InfoContext(ctx, "activity resumed, scheduler running")
			ticker.Reset(interval)
		}

		if err := s.tick(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) error {
	snap, err := s.scraper.Scrape(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if models.IsInitialization(err) {
			return err
		}
		slog.WarnContext(ctx, "scheduled scrape failed", "error", err)
	}
	if snap == nil || !snap.Timestamp.After(s.lastPublished) {
		return nil
	}
	s.lastPublished = snap.Timestamp
	s.publish(ctx, snap)
	return nil
}

// publish fans snap out to every publisher concurrently, each bounded by
// the publish timeout. Failures are logged and never stop the loop.
func (s *Scheduler) publish(ctx context.Context, snap *models.Snapshot) {
	if len(s.publishers) == 0 {
		return
	}
	p := pool.New().WithErrors()
	for _, pub := range s.publishers {
		p.Go(func() error {
			pctx := ctx
			if s.cfg.PublishTimeout > 0 {
				var cancel context.CancelFunc
				pctx, cancel = context.WithTimeout(ctx, s.cfg.PublishTimeout)
				defer cancel()
			}
			if err := pub.Publish(pctx, snap); err != nil {
				slog.WarnContext(ctx, "publish failed", "publisher", pub.Name(), "error", err)
				return err
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		slog.DebugContext(ctx, "snapshot published with errors", "error", err)
	}
}
