package browsertest

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/use-agent/powerwatch/browser"
	"github.com/use-agent/powerwatch/config"
)

// Selectors rendered by Site.
const (
	SelIdentifier    = "#email"
	SelPassword      = "#password"
	SelPrimarySubmit = "button.primary"
	SelSubmit        = "button[type=submit]"
	SelError         = ".alert"
	SelListItem      = "a.site"
)

// FlowTexts is a rendered power-flow view, as element texts in document order.
var FlowTexts = []string{
	"Solar\nProducing\nLoad: 2300 W",
	"Grid\nExporting\nLoad: -800 W",
	"Battery\nCharging\nLoad: 450 W\nSoC: 78%",
	"Car\nIdle\nLoad: 0 W",
	"Consumption\nLoad: 1050 W",
	"mFRR: € 45.67",
}

// Site simulates the monitored web application: a login view guarding a
// dashboard, a site list, and the power-flow view. Each page opened from it
// starts logged out, like a fresh browser profile.
type Site struct {
	BaseURL    string
	TargetPath string
	ListPath   string

	// TargetName is what the navigator searches for; ListLabel is what the
	// list renders. They differ when only a contains-match should succeed.
	TargetName string
	ListLabel  string

	Username string
	Password string

	// Flow is the element texts of the target view.
	Flow []string

	// RejectLogins rejects that many upcoming login attempts with RejectText.
	RejectLogins int
	RejectText   string

	// RedirectTarget bounces that many upcoming direct target navigations to the list.
	RedirectTarget int

	// ExpireSession drops the login cookie on the next navigation or reload.
	ExpireSession bool

	NoPrimarySubmit bool
	NoSubmit        bool

	mu            sync.Mutex
	loginAttempts int
	targetViews   int
}

// NewSite returns a site with a working login and a populated flow view.
func NewSite() *Site {
	return &Site{
		BaseURL:    "https://monitor.test",
		TargetPath: "/sites/42/flow",
		ListPath:   "/sites",
		TargetName: "Home",
		ListLabel:  "Home",
		Username:   "owner@example.com",
		Password:   "correct horse",
		Flow:       FlowTexts,
		RejectText: "Wrong password",
	}
}

// SessionConfig returns a session configuration matching the site with
// timeouts short enough for tests.
func (s *Site) SessionConfig() config.SessionConfig {
	return config.SessionConfig{
		BaseURL:               s.BaseURL,
		Username:              s.Username,
		Password:              s.Password,
		IdentifierSelector:    SelIdentifier,
		PasswordSelector:      SelPassword,
		PrimarySubmitSelector: SelPrimarySubmit,
		SubmitSelector:        SelSubmit,
		ErrorSelector:         SelError,
		LoginRoutes:           []string{"login", "signin", "sign-in", "auth"},
		NavigationTimeout:     time.Second,
		FormTimeout:           time.Second,
		LoginTimeout:          50 * time.Millisecond,
	}
}

// TargetConfig returns the navigator configuration for the site.
func (s *Site) TargetConfig() config.TargetConfig {
	return config.TargetConfig{
		Path:             s.TargetPath,
		Name:             s.TargetName,
		ListPath:         s.ListPath,
		ListItemSelector: SelListItem,
		ReadyMarkers:     []string{"Solar", "Grid", "Battery"},
		ReadyTimeout:     time.Second,
	}
}

// TargetURL is the absolute deep link of the flow view.
func (s *Site) TargetURL() string { return s.BaseURL + s.TargetPath }

// ListURL is the absolute URL of the site list.
func (s *Site) ListURL() string { return s.BaseURL + s.ListPath }

// LoginAttempts counts submitted login forms across all pages.
func (s *Site) LoginAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginAttempts
}

// TargetViews counts renders of the flow view across all pages.
func (s *Site) TargetViews() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.targetViews
}

// Launcher returns a fake launcher whose pages are served by the site.
func (s *Site) Launcher(rec *Recorder) *Launcher {
	return NewLauncher(rec, func() *Page { return s.NewPage(rec) })
}

// NewPage opens a logged-out page on the site.
func (s *Site) NewPage(rec *Recorder) *Page {
	p := NewPage(rec)
	var loggedIn bool

	p.OnNavigate = func(p *Page, rawURL string) error {
		s.mu.Lock()
		if s.ExpireSession {
			s.ExpireSession = false
			loggedIn = false
		}
		authed := loggedIn
		redirect := false
		path := pathOf(rawURL)
		if authed && path == s.TargetPath && s.RedirectTarget > 0 {
			s.RedirectTarget--
			redirect = true
		}
		s.mu.Unlock()

		switch {
		case !authed:
			s.showLogin(p)
		case path == s.TargetPath && !redirect:
			s.showFlow(p)
		case path == s.ListPath || redirect:
			s.showList(p)
		default:
			s.showDashboard(p)
		}
		return nil
	}

	submit := func(p *Page) error {
		s.mu.Lock()
		s.loginAttempts++
		reject := s.RejectLogins > 0
		if reject {
			s.RejectLogins--
		}
		s.mu.Unlock()

		if !reject && (p.InputValue(SelIdentifier) != s.Username || p.InputValue(SelPassword) != s.Password) {
			reject = true
		}
		if reject {
			text := s.RejectText
			if text == "" {
				text = "Invalid email or password"
			}
			p.SetText("Sign in\n" + text)
			p.Show(SelError)
			return nil
		}

		s.mu.Lock()
		loggedIn = true
		s.mu.Unlock()
		s.showDashboard(p)
		return nil
	}

	p.OnClick = func(p *Page, selector string) error {
		if selector == SelPrimarySubmit || selector == SelSubmit {
			return submit(p)
		}
		return nil
	}
	p.OnPressEnter = func(p *Page, selector string) error {
		if selector == SelPassword {
			return submit(p)
		}
		return nil
	}
	p.OnReload = func(p *Page) error {
		s.mu.Lock()
		if s.ExpireSession {
			s.ExpireSession = false
			loggedIn = false
		}
		authed := loggedIn
		s.mu.Unlock()

		u, _ := p.URL(context.Background())
		switch {
		case !authed:
			s.showLogin(p)
		case pathOf(u) == s.TargetPath:
			s.showFlow(p)
		}
		return nil
	}
	p.OnClickText = func(p *Page, _ string, text string, match browser.TextMatch) (bool, error) {
		u, _ := p.URL(context.Background())
		if pathOf(u) != s.ListPath {
			return false, nil
		}
		hit := s.ListLabel == text
		if match == browser.MatchContains {
			hit = strings.Contains(s.ListLabel, text)
		}
		if hit {
			s.showFlow(p)
		}
		return hit, nil
	}
	return p
}

func (s *Site) showLogin(p *Page) {
	p.SetURL(s.BaseURL + "/login")
	p.Hide(SelError, SelListItem)
	p.Show(SelIdentifier, SelPassword)
	if !s.NoSubmit {
		p.Show(SelSubmit)
		if !s.NoPrimarySubmit {
			p.Show(SelPrimarySubmit)
		}
	}
	p.SetText("Sign in")
	p.SetElementTexts([]string{"Sign in"})
}

func (s *Site) hideLogin(p *Page) {
	p.Hide(SelIdentifier, SelPassword, SelPrimarySubmit, SelSubmit, SelError)
}

func (s *Site) showDashboard(p *Page) {
	s.hideLogin(p)
	p.Hide(SelListItem)
	p.SetURL(s.BaseURL + "/")
	p.SetText("Dashboard")
	p.SetElementTexts([]string{"Dashboard"})
}

func (s *Site) showList(p *Page) {
	s.hideLogin(p)
	p.SetURL(s.ListURL())
	p.Show(SelListItem)
	p.SetText("Sites\n" + s.ListLabel)
	p.SetElementTexts([]string{"Sites", s.ListLabel})
}

func (s *Site) showFlow(p *Page) {
	s.hideLogin(p)
	p.Hide(SelListItem)
	p.SetURL(s.TargetURL())
	p.SetText("")
	p.SetElementTexts(s.Flow)

	s.mu.Lock()
	s.targetViews++
	s.mu.Unlock()
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}
