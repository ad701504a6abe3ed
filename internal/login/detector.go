package login

import (
	"context"
	"net/url"
	"strings"

	"github.com/dgnsrekt/RemoteLoginCore/internal/driver"
	"github.com/dgnsrekt/RemoteLoginCore/internal/protocol"
)

// Rules describe the provider's login surface and authentication cookies.
type Rules struct {
	LoginURL       string   `yaml:"login_url"`
	AuthCookie     string   `yaml:"auth_cookie"`
	OptionalCookie string   `yaml:"optional_cookie"`
	Hosts          []string `yaml:"hosts"`
	LoginSurfaces  []string `yaml:"login_surfaces"`
}

// DefaultRules targets LinkedIn.
func DefaultRules() Rules {
	return Rules{
		LoginURL:       "https://www.linkedin.com/login",
		AuthCookie:     "li_at",
		OptionalCookie: "li_a",
		Hosts:          []string{"linkedin.com"},
		LoginSurfaces: []string{
			"/login",
			"/uas/login",
			"/checkpoint",
			"/authwall",
			"/signup",
			"/uas/",
			"/m/login",
		},
	}
}

// Decision is the outcome of one detector evaluation.
type Decision struct {
	Confirmed bool
	Reason    string
}

// Detector decides whether authentication completed. It is stateless; the
// one-shot LoggedIn transition is owned by the session.
type Detector struct {
	rules Rules
}

func NewDetector(rules Rules) *Detector {
	def := DefaultRules()
	if rules.AuthCookie == "" {
		rules.AuthCookie = def.AuthCookie
	}
	if rules.LoginURL == "" {
		rules.LoginURL = def.LoginURL
	}
	if len(rules.LoginSurfaces) == 0 {
		rules.LoginSurfaces = def.LoginSurfaces
	}
	return &Detector{rules: rules}
}

// LoginURL is where a new session navigates.
func (d *Detector) LoginURL() string { return d.rules.LoginURL }

// Evaluate requires the auth cookie AND a URL off the login/challenge surface.
// Challenge pages can set partial cookies, so the cookie alone is not enough.
func (d *Detector) Evaluate(pageURL string, cookies []driver.Cookie) Decision {
	if !hasCookie(cookies, d.rules.AuthCookie) {
		return Decision{Reason: "auth cookie absent"}
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return Decision{Reason: "url not on provider"}
	}
	if !d.onProvider(u.Hostname()) {
		return Decision{Reason: "url not on provider"}
	}
	if d.OnLoginSurface(pageURL) {
		return Decision{Reason: "still on login surface"}
	}
	return Decision{Confirmed: true, Reason: "authenticated"}
}

// OnLoginSurface reports whether pageURL is a login or challenge page.
func (d *Detector) OnLoginSurface(pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return true
	}
	path := strings.ToLower(u.Path)
	for _, prefix := range d.rules.LoginSurfaces {
		if strings.HasPrefix(path, strings.ToLower(prefix)) {
			return true
		}
	}
	return false
}

func (d *Detector) onProvider(host string) bool {
	if len(d.rules.Hosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, h := range d.rules.Hosts {
		h = strings.ToLower(strings.TrimPrefix(h, "."))
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// Bundle extracts the credential pair from a cookie jar.
func (d *Detector) Bundle(cookies []driver.Cookie) (protocol.CredentialBundle, error) {
	var b protocol.CredentialBundle
	for _, c := range cookies {
		switch {
		case c.Name == d.rules.AuthCookie && c.Value != "":
			b.LiAt = c.Value
		case d.rules.OptionalCookie != "" && c.Name == d.rules.OptionalCookie && c.Value != "":
			b.LiA = c.Value
		}
	}
	if b.LiAt == "" {
		return protocol.CredentialBundle{}, protocol.NewError(protocol.CodeValidation, "auth cookie missing from jar", nil)
	}
	return b, nil
}

// Page is the driver surface the detector inspects.
type Page interface {
	URL(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]driver.Cookie, error)
}

// Check reads the page state and, when authentication is confirmed, returns
// the credential bundle built from the full cookie jar.
func (d *Detector) Check(ctx context.Context, p Page) (protocol.CredentialBundle, Decision, error) {
	pageURL, err := p.URL(ctx)
	if err != nil {
		return protocol.CredentialBundle{}, Decision{}, err
	}
	cookies, err := p.Cookies(ctx)
	if err != nil {
		return protocol.CredentialBundle{}, Decision{}, err
	}
	dec := d.Evaluate(pageURL, cookies)
	if !dec.Confirmed {
		return protocol.CredentialBundle{}, dec, nil
	}
	bundle, err := d.Bundle(cookies)
	if err != nil {
		return protocol.CredentialBundle{}, Decision{Reason: err.Error()}, nil
	}
	return bundle, dec, nil
}

func hasCookie(cookies []driver.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name && c.Value != "" {
			return true
		}
	}
	return false
}
