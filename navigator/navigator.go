// Package navigator gets an authenticated page onto the power-flow view.
//
// The view is reached through an ordered list of tiers, each more expensive
// than the last:
//
//	0 reload   already on the target route, reload in place
//	1 direct   navigate to the deep link
//	2 retry    the client router bounced us; navigate to the deep link again
//	3 list     open the list view and click the entry named like the target
//
// Landing on a login route at any point ends the attempt with
// SESSION_EXPIRED, since no tier can succeed without a session.
package navigator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/use-agent/powerwatch/browser"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/models"
	"github.com/use-agent/powerwatch/session"
)

// Tier identifies the strategy that reached the target view.
type Tier int

const (
	TierReload Tier = iota
	TierDirect
	TierRetry
	TierList
)

func (t Tier) String() string {
	switch t {
	case TierReload:
		return "reload"
	case TierDirect:
		return "direct"
	case TierRetry:
		return "retry"
	case TierList:
		return "list"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Navigator moves a page onto the target view. It holds no page state
// and may be reused across sessions.
type Navigator struct {
	cfg         config.TargetConfig
	targetURL   string
	targetPath  string
	listURL     string
	loginRoutes []string
	navTimeout  time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customises a Navigator.
type Option func(*Navigator)

// WithSleep replaces the route-settle delay, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(n *Navigator) { n.sleep = fn }
}

// New builds a navigator for target, resolving its routes against the
// session's base URL.
func New(target config.TargetConfig, sess config.SessionConfig, opts ...Option) *Navigator {
	n := &Navigator{
		cfg:         target,
		targetURL:   config.Resolve(sess.BaseURL, target.Path),
		listURL:     config.Resolve(sess.BaseURL, target.ListPath),
		loginRoutes: sess.LoginRoutes,
		navTimeout:  sess.NavigationTimeout,
		sleep:       session.Sleep,
	}
	n.targetPath = routeOf(n.targetURL)
	for _, o := range opts {
		o(n)
	}
	return n
}

// TargetURL is the resolved deep link of the target view.
func (n *Navigator) TargetURL() string { return n.targetURL }

// GoToTarget leaves page on the target view and reports which tier got it
// there. It fails with NAVIGATION_FAILED, carrying the final location,
// when no tier succeeds.
func (n *Navigator) GoToTarget(ctx context.Context, page browser.Page) (Tier, error) {
	// ── Tier 0: reload in place ──────────────────────────────────────
	on, err := n.onTarget(ctx, page)
	if err != nil {
		return 0, err
	}
	if on {
		if err := page.Reload(ctx, n.navTimeout); err != nil {
			slog.WarnContext(ctx, "reload failed, navigating instead", "error", err)
		} else if on, err = n.onTarget(ctx, page); err != nil {
			return 0, err
		} else if on {
			return n.reached(ctx, page, TierReload), nil
		}
	}

	// ── Tier 1 and 2: direct deep link, retried once ─────────────────
	for _, tier := range []Tier{TierDirect, TierRetry} {
		if err := page.Navigate(ctx, n.targetURL, n.navTimeout); err != nil {
			slog.WarnContext(ctx, "direct navigation failed", "tier", tier.String(), "error", err)
			continue
		}
		if err := n.sleep(ctx, n.cfg.RouteSettle); err != nil {
			return 0, err
		}
		on, err := n.onTarget(ctx, page)
		if err != nil {
			return 0, err
		}
		if on {
			return n.reached(ctx, page, tier), nil
		}
		slog.InfoContext(ctx, "redirected away from target", "tier", tier.String(), "url", n.location(ctx, page))
	}

	// ── Tier 3: list view ────────────────────────────────────────────
	if n.cfg.Name != "" {
		ok, err := n.viaList(ctx, page)
		if err != nil {
			return 0, err
		}
		if ok {
			return n.reached(ctx, page, TierList), nil
		}
	}

	// ── Terminal ─────────────────────────────────────────────────────
	loc := n.location(ctx, page)
	return 0, models.NewScrapeError(models.ErrCodeNavigation,
		fmt.Sprintf("target view unreachable after all tiers, last location %s", loc), nil)
}

// viaList opens the list view and clicks the entry whose text equals the
// target name, or failing that, contains it.
func (n *Navigator) viaList(ctx context.Context, page browser.Page) (bool, error) {
	if err := page.Navigate(ctx, n.listURL, n.navTimeout); err != nil {
		slog.WarnContext(ctx, "list navigation failed", "error", err)
		return false, nil
	}
	if _, err := n.onTarget(ctx, page); err != nil {
		return false, err
	}

	for _, match := range []browser.TextMatch{browser.MatchExact, browser.MatchContains} {
		clicked, err := page.ClickText(ctx, n.cfg.ListItemSelector, n.cfg.Name, match)
		if err != nil {
			slog.WarnContext(ctx, "list entry click failed", "error", err)
			continue
		}
		if !clicked {
			continue
		}
		if err := n.sleep(ctx, n.cfg.RouteSettle); err != nil {
			return false, err
		}
		return n.onTarget(ctx, page)
	}
	return false, nil
}

// onTarget reports whether page is on the target route. A login route is
// a SESSION_EXPIRED error.
func (n *Navigator) onTarget(ctx context.Context, page browser.Page) (bool, error) {
	u, err := page.URL(ctx)
	if err != nil {
		return false, err
	}
	if session.IsLoginRoute(u, n.loginRoutes) {
		return false, models.NewScrapeError(models.ErrCodeSessionExpired,
			"redirected to login at "+u, nil)
	}
	return routeOf(u) == n.targetPath, nil
}

// reached runs the readiness wait. The route can change before the data
// renders, but a slow render is not a navigation failure.
func (n *Navigator) reached(ctx context.Context, page browser.Page, tier Tier) Tier {
	slog.DebugContext(ctx, "on target view", "tier", tier.String())
	if err := page.WaitText(ctx, n.cfg.ReadyMarkers, n.cfg.ReadyTimeout); err != nil {
		slog.WarnContext(ctx, "target view shows no data markers yet", "error", err)
	}
	return tier
}

func (n *Navigator) location(ctx context.Context, page browser.Page) string {
	u, err := page.URL(ctx)
	if err != nil {
		return "unknown"
	}
	return u
}

// routeOf reduces a URL to its route: path (without trailing slash) plus
// any hash route.
func routeOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	route := strings.TrimSuffix(u.Path, "/")
	if strings.HasPrefix(u.Fragment, "/") {
		route += "#" + strings.TrimSuffix(u.Fragment, "/")
	}
	return route
}
