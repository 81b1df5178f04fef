// Package browsertest provides in-memory fakes of the browser package
// interfaces. Every call is recorded so tests can assert on ordering.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/powerwatch/browser"
	"github.com/use-agent/powerwatch/models"
)

// Recorder is an ordered, concurrency-safe call log shared by a launcher,
// its browsers and their pages.
type Recorder struct {
	mu      sync.Mutex
	entries []string
}

func (r *Recorder) Record(entry string) {
	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
}

// Entries returns a copy of the log.
func (r *Recorder) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...)
}

// Index returns the position of the first entry starting with prefix, or -1.
func (r *Recorder) Index(prefix string) int {
	for i, e := range r.Entries() {
		if strings.HasPrefix(e, prefix) {
			return i
		}
	}
	return -1
}

// Count returns how many entries start with prefix.
func (r *Recorder) Count(prefix string) int {
	n := 0
	for _, e := range r.Entries() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// CountExact returns how many entries equal entry.
func (r *Recorder) CountExact(entry string) int {
	n := 0
	for _, e := range r.Entries() {
		if e == entry {
			n++
		}
	}
	return n
}

// Page is a scriptable browser.Page. Without hooks it behaves like a
// static document: Navigate changes the URL and selectors are present only
// when shown.
type Page struct {
	Rec *Recorder

	OnNavigate   func(p *Page, url string) error
	OnReload     func(p *Page) error
	OnClick      func(p *Page, selector string) error
	OnClickText  func(p *Page, selector, text string, match browser.TextMatch) (bool, error)
	OnPressEnter func(p *Page, selector string) error

	ElementTextsErr error
	HTMLErr         error

	mu          sync.Mutex
	url         string
	present     map[string]bool
	text        string
	texts       []string
	html        string
	inputs      map[string]string
	screenshots []string
	closed      bool
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a blank page recording into rec.
func NewPage(rec *Recorder) *Page {
	if rec == nil {
		rec = &Recorder{}
	}
	return &Page{Rec: rec, url: "about:blank"}
}

// SetURL moves the page to url without recording a call.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Show marks selectors as present and visible.
func (p *Page) Show(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.present == nil {
		p.present = make(map[string]bool)
	}
	for _, s := range selectors {
		p.present[s] = true
	}
}

// Hide removes selectors from the document.
func (p *Page) Hide(selectors ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range selectors {
		delete(p.present, s)
	}
}

// SetText sets the document text returned by Text.
func (p *Page) SetText(text string) {
	p.mu.Lock()
	p.text = text
	p.mu.Unlock()
}

// SetElementTexts sets the per-element texts; Text falls back to their
// concatenation when no document text was set.
func (p *Page) SetElementTexts(texts []string) {
	p.mu.Lock()
	p.texts = append([]string(nil), texts...)
	p.mu.Unlock()
}

// SetHTML sets the markup returned by HTML.
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
}

// InputValue returns the last value typed into selector.
func (p *Page) InputValue(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inputs[selector]
}

// Screenshots returns the paths passed to Screenshot.
func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) isPresent(selector string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.present[selector]
}

func (p *Page) documentText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.text != "" {
		return p.text
	}
	return strings.Join(p.texts, "\n")
}

func timeoutError(what string) error {
	return models.NewScrapeError(models.ErrCodeTimeout, what, context.DeadlineExceeded)
}

func (p *Page) Navigate(_ context.Context, url string, _ time.Duration) error {
	p.Rec.Record("navigate " + url)
	if p.OnNavigate != nil {
		return p.OnNavigate(p, url)
	}
	p.SetURL(url)
	return nil
}

func (p *Page) Reload(_ context.Context, _ time.Duration) error {
	p.Rec.Record("reload")
	if p.OnReload != nil {
		return p.OnReload(p)
	}
	return nil
}

func (p *Page) URL(_ context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) WaitSelector(_ context.Context, selector string, state browser.State, _ time.Duration) error {
	p.Rec.Record(fmt.Sprintf("wait-selector %s %s", selector, state))
	if p.isPresent(selector) == (state == browser.Visible) {
		return nil
	}
	return timeoutError(fmt.Sprintf("selector %q did not become %s", selector, state))
}

func (p *Page) WaitText(_ context.Context, tokens []string, _ time.Duration) error {
	p.Rec.Record("wait-text " + strings.Join(tokens, ","))
	if len(tokens) == 0 {
		return nil
	}
	text := p.documentText()
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return nil
		}
	}
	return timeoutError(fmt.Sprintf("none of %q appeared in the page", tokens))
}

func (p *Page) Has(_ context.Context, selector string) (bool, error) {
	return p.isPresent(selector), nil
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.Rec.Record("click " + selector)
	if !p.isPresent(selector) {
		return models.NewScrapeError(models.ErrCodeNavigation, fmt.Sprintf("element %q not found", selector), nil)
	}
	if p.OnClick != nil {
		return p.OnClick(p, selector)
	}
	return nil
}

func (p *Page) ClickText(_ context.Context, selector, text string, match browser.TextMatch) (bool, error) {
	kind := "exact"
	if match == browser.MatchContains {
		kind = "contains"
	}
	p.Rec.Record(fmt.Sprintf("click-text %s %q", kind, text))
	if p.OnClickText != nil {
		return p.OnClickText(p, selector, text, match)
	}
	return false, nil
}

func (p *Page) Input(_ context.Context, selector, value string) error {
	p.Rec.Record("input " + selector)
	if !p.isPresent(selector) {
		return models.NewScrapeError(models.ErrCodeNavigation, fmt.Sprintf("input %q not found", selector), nil)
	}
	p.mu.Lock()
	if p.inputs == nil {
		p.inputs = make(map[string]string)
	}
	p.inputs[selector] = value
	p.mu.Unlock()
	return nil
}

func (p *Page) PressEnter(_ context.Context, selector string) error {
	p.Rec.Record("press-enter " + selector)
	if p.OnPressEnter != nil {
		return p.OnPressEnter(p, selector)
	}
	return nil
}

func (p *Page) Text(_ context.Context) (string, error) {
	return p.documentText(), nil
}

func (p *Page) ElementTexts(_ context.Context) ([]string, error) {
	p.Rec.Record("element-texts")
	if p.ElementTextsErr != nil {
		return nil, p.ElementTextsErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...), nil
}

func (p *Page) HTML(_ context.Context) (string, error) {
	p.Rec.Record("html")
	if p.HTMLErr != nil {
		return "", p.HTMLErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) Screenshot(_ context.Context, path string) error {
	p.Rec.Record("screenshot " + path)
	p.mu.Lock()
	p.screenshots = append(p.screenshots, path)
	p.mu.Unlock()
	return nil
}

func (p *Page) Close() error {
	p.Rec.Record("page-close")
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Browser is a fake browser.Browser handing out pages from a factory.
type Browser struct {
	rec     *Recorder
	newPage func() *Page

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

var _ browser.Browser = (*Browser)(nil)

func (b *Browser) NewPage(_ context.Context) (browser.Page, error) {
	b.rec.Record("new-page")
	p := b.newPage()
	if p.Rec == nil {
		p.Rec = b.rec
	}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) Close() error {
	b.rec.Record("browser-close")
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Launcher is a fake browser.Launcher.
type Launcher struct {
	Rec *Recorder

	// NewPage builds the page for every NewPage call. Defaults to a blank page.
	NewPage func() *Page

	// Err, when set, is returned by every Launch.
	Err error

	mu       sync.Mutex
	browsers []*Browser
}

var _ browser.Launcher = (*Launcher)(nil)

// NewLauncher returns a launcher whose browsers open pages built by newPage.
func NewLauncher(rec *Recorder, newPage func() *Page) *Launcher {
	return &Launcher{Rec: rec, NewPage: newPage}
}

func (l *Launcher) Launch(_ context.Context) (browser.Browser, error) {
	if l.Rec == nil {
		l.Rec = &Recorder{}
	}
	l.Rec.Record("launch")
	if l.Err != nil {
		return nil, l.Err
	}
	newPage := l.NewPage
	if newPage == nil {
		rec := l.Rec
		newPage = func() *Page { return NewPage(rec) }
	}
	b := &Browser{rec: l.Rec, newPage: newPage}
	l.mu.Lock()
	l.browsers = append(l.browsers, b)
	l.mu.Unlock()
	return b, nil
}

// Browsers returns every browser launched so far.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Browser(nil), l.browsers...)
}
