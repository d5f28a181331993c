// File: internal/driver/session.go
package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xkilldash9x/approval-probe/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Credential identifies one actor of the application under test.
type Credential struct {
	Name       string
	Identifier string
	Secret     string
}

// String never includes the secret.
func (c Credential) String() string {
	if c.Name == "" {
		return c.Identifier
	}
	return c.Name + " <" + c.Identifier + ">"
}

// Session is one browser bound to at most one authenticated identity.
// Operations on a Session must not run concurrently; Release is safe to call
// from any goroutine, any number of times.
type Session struct {
	id     string
	page   Page
	target config.TargetConfig
	waits  config.WaitConfig
	logger *zap.Logger

	mu       sync.Mutex
	identity *Credential
	released bool
}

// Acquire launches an isolated browser and returns an unauthenticated Session.
// It fails with ErrDriverUnavailable when the browser cannot be found or started.
func Acquire(ctx context.Context, browser config.BrowserConfig, target config.TargetConfig, waits config.WaitConfig, logger *zap.Logger) (*Session, error) {
	page, err := launch(ctx, browser, logger.Named("browser"))
	if err != nil {
		return nil, err
	}
	s := NewSession(page, target, waits, logger)
	s.logger.Info("Browser session acquired.", zap.Bool("headless", browser.Headless))
	return s, nil
}

// NewSession wraps an existing Page.
func NewSession(page Page, target config.TargetConfig, waits config.WaitConfig, logger *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:     id,
		page:   page,
		target: target,
		waits:  waits,
		logger: logger.Named("driver").With(zap.String("session_id", id)),
	}
}

// ID returns the unique session identifier used in log lines.
func (s *Session) ID() string { return s.id }

// Identity returns the bound credential, or nil when unauthenticated.
func (s *Session) Identity() *Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	c := *s.identity
	return &c
}

func (s *Session) bind(cred Credential) {
	s.mu.Lock()
	s.identity = &cred
	s.mu.Unlock()
}

func (s *Session) unbind() {
	s.mu.Lock()
	s.identity = nil
	s.mu.Unlock()
}

func (s *Session) checkLive(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return newError(ErrSessionReleased, op, nil)
	}
	return nil
}

// Release terminates the browser. Only the first call does anything.
func (s *Session) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	s.identity = nil
	s.mu.Unlock()

	if err := s.page.Close(); err != nil {
		s.logger.Warn("Browser did not shut down cleanly.", zap.Error(err))
		return err
	}
	s.logger.Debug("Browser session released.")
	return nil
}

// Navigate loads path, resolved against the configured base URL unless it is
// already absolute.
func (s *Session) Navigate(ctx context.Context, path string) error {
	if err := s.checkLive("navigate"); err != nil {
		return err
	}
	url := path
	if !strings.Contains(path, "://") && !strings.HasPrefix(path, "about:") {
		url = s.target.URL(path)
	}
	navCtx, cancel := withTimeout(ctx, s.waits.PageLoadWait)
	defer cancel()
	if err := s.page.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// Location returns the current document URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	if err := s.checkLive("location"); err != nil {
		return "", err
	}
	return s.page.Location(ctx)
}

// Await waits up to timeout for loc to become visible.
func (s *Session) Await(ctx context.Context, loc Locator, timeout time.Duration) error {
	if err := s.checkLive("await"); err != nil {
		return err
	}
	if err := s.waitVisible(ctx, loc, timeout); err != nil {
		return newError(ErrElementNotFound, "await "+loc.String(), err)
	}
	return nil
}

// Login authenticates cred through the login form and waits for the landing
// page. The form is submitted the way SubmitForm does it.
func (s *Session) Login(ctx context.Context, cred Credential) error {
	if err := s.checkLive("login"); err != nil {
		return err
	}
	if bound := s.Identity(); bound != nil {
		return newError(ErrSessionBound, "login", fmt.Errorf("logged in as %s", bound))
	}

	logger := s.logger.With(zap.String("actor", cred.String()))
	logger.Info("Logging in.")

	if err := s.Navigate(ctx, s.target.LoginPath); err != nil {
		return err
	}

	fields := []Field{
		{Name: "identifier", Locator: Name(s.target.IdentifierField), Value: cred.Identifier},
		{Name: "secret", Locator: Name(s.target.SecretField), Value: cred.Secret},
	}
	// SubmitForm escalates when an overlay swallows the click on the submit control.
	if _, err := s.SubmitForm(ctx, fields, ParseLocator(s.target.SubmitSelector)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var missing *FormFieldMissingError
		if errors.As(err, &missing) {
			return newError(ErrElementNotFound, "login", err)
		}
		return err
	}

	loc, err := s.waitForLocation(ctx, s.waits.MaxWait, func(url string) bool {
		return strings.Contains(url, s.target.LandingMarker)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(ErrAuthenticationTimeout, "login",
			fmt.Errorf("still at %q after %s: %w", loc, s.waits.MaxWait, err))
	}

	s.bind(cred)
	logger.Info("Logged in.", zap.String("location", loc))
	return nil
}

// logoutFormLocator targets a logout form directly when no control is clickable.
var logoutFormLocator = CSS("form[action*='logout']")

// Logout ends the bound identity's session on a best-effort basis and reports
// whether the browser is confirmed to be back at the login page. The identity
// is only unbound on confirmation. Failures are logged, never returned.
func (s *Session) Logout(ctx context.Context) bool {
	if err := s.checkLive("logout"); err != nil {
		return false
	}
	if s.Identity() == nil {
		return true
	}

	// All fallbacks share one MaxWait budget; each confirmation gets a third of it.
	logoutCtx, cancel := withTimeout(ctx, s.waits.MaxWait)
	defer cancel()
	step := s.waits.MaxWait / 3

	atLogin := func(url string) bool { return strings.Contains(url, s.target.LoginPath) }
	confirmed := func(name string) bool {
		loc, err := s.waitForLocation(logoutCtx, step, atLogin)
		if err != nil {
			s.logger.Debug("Logout step not confirmed.", zap.String("step", name), zap.String("location", loc), zap.Error(err))
			return false
		}
		s.unbind()
		s.logger.Info("Logged out.", zap.String("step", name))
		return true
	}

	if s.clickLogoutControl(logoutCtx) && confirmed("control") {
		return true
	}
	if logoutCtx.Err() != nil {
		return false
	}

	if err := s.Navigate(logoutCtx, s.target.LogoutPath); err != nil {
		s.logger.Warn("Logout navigation failed.", zap.Error(err))
	} else if confirmed("logout path") {
		return true
	}
	if logoutCtx.Err() != nil {
		return false
	}

	// Without the server's cooperation the browser can still forget the session.
	if err := s.page.ClearCookies(logoutCtx); err != nil {
		s.logger.Warn("Could not clear cookies.", zap.Error(err))
		return false
	}
	if err := s.Navigate(logoutCtx, s.target.LoginPath); err != nil {
		s.logger.Warn("Could not return to the login page.", zap.Error(err))
		return false
	}
	return confirmed("cleared cookies")
}

// clickLogoutControl acts on the first visible logout control and reports whether it did.
func (s *Session) clickLogoutControl(ctx context.Context) bool {
	for _, selector := range s.target.LogoutSelectors {
		loc := ParseLocator(selector)
		if visible, err := s.page.Visible(ctx, loc); err != nil || !visible {
			continue
		}
		if err := s.click(ctx, loc); err != nil {
			s.logger.Debug("Logout control not clickable.", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		return true
	}

	// Logout forms are often tucked into a collapsed menu; they submit regardless.
	return s.page.SubmitForm(ctx, logoutFormLocator) == nil
}

// bound returns d, or MaxWait when d is not positive, so that no wait is unbounded.
func (s *Session) bound(d time.Duration) time.Duration {
	if d <= 0 {
		return s.waits.MaxWait
	}
	return d
}

func (s *Session) waitVisible(ctx context.Context, loc Locator, timeout time.Duration) error {
	waitCtx, cancel := withTimeout(ctx, s.bound(timeout))
	defer cancel()
	return s.page.WaitVisible(waitCtx, loc)
}

func (s *Session) fill(ctx context.Context, loc Locator, value string) error {
	fillCtx, cancel := withTimeout(ctx, s.waits.MaxWait)
	defer cancel()
	if err := s.page.Fill(fillCtx, loc, value); err != nil {
		return fmt.Errorf("failed to fill %s: %w", loc, err)
	}
	return nil
}

// click tries a native click first and falls back to a script click.
func (s *Session) click(ctx context.Context, loc Locator) error {
	clickCtx, cancel := withTimeout(ctx, s.waits.MaxWait)
	defer cancel()
	err := s.page.Click(clickCtx, loc)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug("Native click failed, dispatching script click.", zap.Stringer("locator", loc), zap.Error(err))
	if scriptErr := s.page.ScriptClick(ctx, loc); scriptErr != nil {
		return fmt.Errorf("failed to click %s: %w", loc, errors.Join(err, scriptErr))
	}
	return nil
}

// waitForLocation polls the location at PollInterval until match accepts it or
// timeout elapses. It returns the last location seen.
func (s *Session) waitForLocation(ctx context.Context, timeout time.Duration, match func(string) bool) (string, error) {
	waitCtx, cancel := withTimeout(ctx, s.bound(timeout))
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(s.waits.PollInterval), 1)
	var last string
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			return last, err
		}
		loc, err := s.page.Location(waitCtx)
		if err == nil {
			last = loc
			if match(loc) {
				return loc, nil
			}
		}
		if waitCtx.Err() != nil {
			return last, waitCtx.Err()
		}
	}
}
