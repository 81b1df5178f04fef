// Package browser is the page-driver surface the scrape engine consumes,
// together with its go-rod implementation.
package browser

import (
	"context"
	"time"
)

// State is the visibility condition awaited by WaitSelector.
type State int

const (
	Visible State = iota
	Hidden
)

func (s State) String() string {
	if s == Hidden {
		return "hidden"
	}
	return "visible"
}

// TextMatch selects how ClickText compares element text.
type TextMatch int

const (
	MatchExact TextMatch = iota
	MatchContains
)

// Page is a single controllable browser tab. All waits are bounded by the
// given timeout; implementations return a *models.ScrapeError so callers
// never see a driver-specific error type.
type Page interface {
	// Navigate loads url and waits for the network to settle.
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	// Reload reloads the current document in place.
	Reload(ctx context.Context, timeout time.Duration) error
	// URL returns the current location.
	URL(ctx context.Context) (string, error)

	WaitSelector(ctx context.Context, selector string, state State, timeout time.Duration) error
	// WaitText waits until the document text contains any of tokens.
	WaitText(ctx context.Context, tokens []string, timeout time.Duration) error

	// Has reports whether selector currently matches an element, without waiting.
	Has(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	// ClickText clicks the first element matching selector whose text
	// satisfies match against text. It reports whether one was found.
	ClickText(ctx context.Context, selector, text string, match TextMatch) (bool, error)
	Input(ctx context.Context, selector, value string) error
	// PressEnter sends the Enter key to the element matching selector.
	PressEnter(ctx context.Context, selector string) error

	// Text returns the rendered text of the whole document.
	Text(ctx context.Context) (string, error)
	// ElementTexts returns the rendered text of every element in document order.
	ElementTexts(ctx context.Context) ([]string, error)
	HTML(ctx context.Context) (string, error)
	Screenshot(ctx context.Context, path string) error

	Close() error
}

// Browser is a running browser process that can open pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts browsers.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}
