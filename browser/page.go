package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
	"github.com/use-agent/powerwatch/extract"
	"github.com/use-agent/powerwatch/models"
)

const (
	// domStableWindow is how long the DOM must stay unchanged to count as settled.
	domStableWindow = 300 * time.Millisecond

	// defaultStepTimeout bounds element operations that take no explicit timeout.
	defaultStepTimeout = 10 * time.Second
)

const (
	jsBodyText = `() => document.body ? document.body.innerText : ''`

	jsElementTexts = `(skip) => Array.from(document.querySelectorAll('body *'))
		.filter(e => !e.closest(skip))
		.map(e => (typeof e.innerText === 'string' ? e.innerText : e.textContent) || '')`

	jsHasAnyToken = `(tokens) => {
		const t = document.body ? document.body.innerText : '';
		return tokens.some(k => t.includes(k));
	}`

	jsHidden = `(sel) => {
		const e = document.querySelector(sel);
		if (!e) return true;
		const s = window.getComputedStyle(e);
		return s.display === 'none' || s.visibility === 'hidden' || e.getClientRects().length === 0;
	}`
)

type rodPage struct {
	page   *rod.Page
	router *rod.HijackRouter
}

// bind returns the page bound to ctx with the given deadline.
func (p *rodPage) bind(ctx context.Context, timeout time.Duration) (*rod.Page, context.CancelFunc) {
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return p.page.Context(ctx), cancel
}

// Navigate loads url and waits until the page settles.
//
// WaitRequestIdle uses the Fetch domain, which conflicts with HijackRequests
// on Chromium 145+, so WaitDOMStable is used whenever a hijack router is
// mounted.
func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg, cancel := p.bind(ctx, timeout)
	defer cancel()

	var waitIdle func()
	if p.router == nil {
		waitIdle = pg.WaitRequestIdle(domStableWindow, nil, nil, nil)
	}

	if err := pg.Navigate(url); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "navigation to "+url+" failed")
	}
	if err := pg.WaitLoad(); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "page load did not complete")
	}

	if waitIdle != nil {
		waitIdle()
	} else if err := pg.WaitDOMStable(domStableWindow, 0.1); err != nil {
		slog.DebugContext(ctx, "WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

func (p *rodPage) Reload(ctx context.Context, timeout time.Duration) error {
	pg, cancel := p.bind(ctx, timeout)
	defer cancel()

	if err := pg.Reload(); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "reload failed")
	}
	if err := pg.WaitLoad(); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "reload did not complete")
	}
	if err := pg.WaitDOMStable(domStableWindow, 0.1); err != nil {
		slog.DebugContext(ctx, "WaitDOMStable did not converge after reload", "error", err)
	}
	return nil
}

func (p *rodPage) URL(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	info, err := pg.Info()
	if err != nil {
		return "", categorizeError(err, models.ErrCodeNavigation, "failed to read page location")
	}
	return info.URL, nil
}

func (p *rodPage) WaitSelector(ctx context.Context, selector string, state State, timeout time.Duration) error {
	pg, cancel := p.bind(ctx, timeout)
	defer cancel()

	var err error
	if state == Hidden {
		err = pg.Wait(rod.Eval(jsHidden, selector))
	} else {
		var el *rod.Element
		if el, err = pg.Element(selector); err == nil {
			err = el.WaitVisible()
		}
	}
	if err != nil {
		return categorizeError(err, models.ErrCodeNavigation,
			fmt.Sprintf("selector %q did not become %s", selector, state))
	}
	return nil
}

func (p *rodPage) WaitText(ctx context.Context, tokens []string, timeout time.Duration) error {
	if len(tokens) == 0 {
		return nil
	}
	pg, cancel := p.bind(ctx, timeout)
	defer cancel()

	if err := pg.Wait(rod.Eval(jsHasAnyToken, tokens)); err != nil {
		return categorizeError(err, models.ErrCodeNavigation,
			fmt.Sprintf("none of %q appeared in the page", tokens))
	}
	return nil
}

func (p *rodPage) Has(ctx context.Context, selector string) (bool, error) {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	ok, _, err := pg.Has(selector)
	if err != nil {
		return false, categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("query %q failed", selector))
	}
	return ok, nil
}

func (p *rodPage) Click(ctx context.Context, selector string) error {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	el, err := pg.Element(selector)
	if err != nil {
		return categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("element %q not found", selector))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("click on %q failed", selector))
	}
	return nil
}

func (p *rodPage) ClickText(ctx context.Context, selector, text string, match TextMatch) (bool, error) {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	els, err := pg.Elements(selector)
	if err != nil {
		return false, categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("query %q failed", selector))
	}
	for _, el := range els {
		t, err := el.Text()
		if err != nil {
			continue
		}
		t = strings.TrimSpace(t)
		if (match == MatchExact && t == text) || (match == MatchContains && strings.Contains(t, text)) {
			if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
				return false, categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("click on %q failed", t))
			}
			return true, nil
		}
	}
	return false, nil
}

func (p *rodPage) Input(ctx context.Context, selector, value string) error {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	el, err := pg.Element(selector)
	if err != nil {
		return categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("input %q not found", selector))
	}
	if err := el.SelectAllText(); err != nil {
		slog.DebugContext(ctx, "could not select existing input text", "selector", selector, "error", err)
	}
	if err := el.Input(value); err != nil {
		// value is deliberately not included, it may be a credential.
		return categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("typing into %q failed", selector))
	}
	return nil
}

func (p *rodPage) PressEnter(ctx context.Context, selector string) error {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	el, err := pg.Element(selector)
	if err != nil {
		return categorizeError(err, models.ErrCodeNavigation, fmt.Sprintf("element %q not found", selector))
	}
	if err := el.Type(input.Enter); err != nil {
		return categorizeError(err, models.ErrCodeNavigation, "sending Enter failed")
	}
	return nil
}

func (p *rodPage) Text(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	res, err := pg.Eval(jsBodyText)
	if err != nil {
		return "", categorizeError(err, models.ErrCodeExtraction, "failed to read page text")
	}
	return res.Value.Str(), nil
}

func (p *rodPage) ElementTexts(ctx context.Context) ([]string, error) {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	res, err := pg.Eval(jsElementTexts, extract.SkipSelector())
	if err != nil {
		return nil, categorizeError(err, models.ErrCodeExtraction, "failed to read element texts")
	}
	arr := res.Value.Arr()
	texts := make([]string, 0, len(arr))
	for _, v := range arr {
		texts = append(texts, v.Str())
	}
	return texts, nil
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	html, err := pg.HTML()
	if err != nil {
		return "", categorizeError(err, models.ErrCodeExtraction, "failed to extract page HTML")
	}
	return html, nil
}

func (p *rodPage) Screenshot(ctx context.Context, path string) error {
	pg, cancel := p.bind(ctx, defaultStepTimeout)
	defer cancel()

	img, err := pg.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		return categorizeError(err, models.ErrCodeInternal, "screenshot failed")
	}
	return os.WriteFile(path, img, 0o644)
}

// Close stops the hijack router and closes the tab.
func (p *rodPage) Close() error {
	if p.router != nil {
		_ = p.router.Stop()
		p.router = nil
	}
	return p.page.Close()
}

// categorizeError wraps raw driver errors into typed ScrapeErrors so no
// go-rod error type leaks past this package. Deadlines always map to
// SCRAPE_TIMEOUT; everything else gets the caller's code.
func categorizeError(err error, code, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "operation canceled", err)
	default:
		return models.NewScrapeError(code, msg, err)
	}
}
