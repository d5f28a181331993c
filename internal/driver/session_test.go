// File: internal/driver/session_test.go
package driver_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/approval-probe/internal/config"
	"github.com/xkilldash9x/approval-probe/internal/driver"
	"github.com/xkilldash9x/approval-probe/internal/driver/drivertest"
)

var (
	admin    = driver.Credential{Name: "admin", Identifier: "admin@example.test", Secret: "password"}
	approver = driver.Credential{Name: "manager", Identifier: "manager@example.test", Secret: "password"}
)

// testConfig shrinks every wait so that failure paths finish quickly.
func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Waits.MaxWait = 300 * time.Millisecond
	cfg.Waits.PollInterval = 10 * time.Millisecond
	cfg.Waits.ClickSettle = 50 * time.Millisecond
	cfg.Waits.FindRetries = 2
	cfg.Waits.FindInterval = 20 * time.Millisecond
	cfg.Waits.ModalWait = 200 * time.Millisecond
	cfg.Waits.PageLoadWait = time.Second
	return cfg
}

type fixture struct {
	cfg     *config.Config
	app     *drivertest.App
	page    *drivertest.Page
	session *driver.Session
}

func newFixture(t *testing.T, tweak func(*drivertest.Page)) *fixture {
	t.Helper()
	cfg := testConfig()
	app := drivertest.NewApp(cfg.Target)
	app.AddUser(drivertest.User{Identifier: admin.Identifier, Secret: admin.Secret})
	app.AddUser(drivertest.User{Identifier: approver.Identifier, Secret: approver.Secret, Approver: true})

	page := app.NewPage()
	if tweak != nil {
		tweak(page)
	}
	s := driver.NewSession(page, cfg.Target, cfg.Waits, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = s.Release() })
	return &fixture{cfg: cfg, app: app, page: page, session: s}
}

func (f *fixture) createForm(title string) []driver.Field {
	form := f.cfg.Target.Form
	return []driver.Field{
		{Name: "title", Locator: driver.Name(form.TitleField), Value: title},
		{Name: "description", Locator: driver.Name(form.DescriptionField), Value: "created by test"},
		{Name: "type", Locator: driver.Name(form.TypeField), Value: form.DefaultType, Optional: true},
		{Name: "priority", Locator: driver.Name(form.PriorityField), Value: form.DefaultPriority, Optional: true},
	}
}

func (f *fixture) pendingTarget() driver.Target {
	return driver.Target{Container: f.cfg.Target.Pending.CardSelector, Trigger: f.cfg.Target.Pending.TriggerSelector}
}

// -- Lifecycle --

func TestLoginLogoutRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.session.Login(ctx, admin))
	require.NotNil(t, f.session.Identity())
	assert.Equal(t, admin.Identifier, f.session.Identity().Identifier)
	assert.Equal(t, admin.Identifier, f.page.User())

	err := f.session.Login(ctx, approver)
	require.Error(t, err)
	assert.True(t, errors.Is(err, driver.ErrSessionBound))

	assert.True(t, f.session.Logout(ctx))
	assert.Nil(t, f.session.Identity())
	assert.Equal(t, f.cfg.Target.LoginPath, f.page.Path())
	assert.Empty(t, f.page.User())

	// The session can be rebound once the first identity is gone.
	require.NoError(t, f.session.Login(ctx, approver))
	assert.Equal(t, approver.Identifier, f.page.User())
}

func TestLoginFailures(t *testing.T) {
	t.Run("wrong secret times out", func(t *testing.T) {
		f := newFixture(t, nil)
		err := f.session.Login(context.Background(), driver.Credential{Identifier: admin.Identifier, Secret: "nope"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, driver.ErrAuthenticationTimeout))

		var derr *driver.Error
		require.True(t, errors.As(err, &derr))
		assert.Equal(t, "login", derr.Op)
		assert.Nil(t, f.session.Identity())
	})

	t.Run("landing page never reached", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.LoginStuck = true })
		err := f.session.Login(context.Background(), admin)
		assert.True(t, errors.Is(err, driver.ErrAuthenticationTimeout))
	})

	t.Run("login form never renders", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.Missing["email"] = true })
		err := f.session.Login(context.Background(), admin)
		require.Error(t, err)
		assert.True(t, errors.Is(err, driver.ErrElementNotFound))
		assert.False(t, errors.Is(err, driver.ErrAuthenticationTimeout))
	})

	t.Run("wrong secret with swallowed clicks still times out", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.SwallowClicks = true })
		err := f.session.Login(context.Background(), driver.Credential{Identifier: admin.Identifier, Secret: "nope"})
		assert.True(t, errors.Is(err, driver.ErrAuthenticationTimeout))
		assert.Empty(t, f.page.User())
	})

	t.Run("canceled context is reported as such", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.LoginStuck = true })
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := f.session.Login(ctx, admin)
		assert.Error(t, err)
		assert.Nil(t, f.session.Identity())
	})
}

func TestLoginEscalatesSwallowedSubmit(t *testing.T) {
	cases := []struct {
		name  string
		tweak func(*drivertest.Page)
	}{
		{name: "script click", tweak: func(p *drivertest.Page) { p.SwallowClicks = true }},
		{name: "form submit", tweak: func(p *drivertest.Page) {
			p.SwallowClicks = true
			p.BrokenScriptClick = true
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.tweak)
			require.NoError(t, f.session.Login(context.Background(), admin))
			assert.Equal(t, admin.Identifier, f.page.User())
			assert.Equal(t, f.cfg.Target.LandingMarker, f.page.Path())
		})
	}
}

func TestLogoutFallbacks(t *testing.T) {
	t.Run("hidden logout form", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.HideLogoutControls = true })
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, admin))

		assert.True(t, f.session.Logout(ctx))
		assert.Empty(t, f.page.User())
	})

	t.Run("server ignores logout", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.IgnoreLogout = true })
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, admin))

		assert.True(t, f.session.Logout(ctx), "clearing cookies must still end the session")
		assert.Empty(t, f.page.User())
		assert.Nil(t, f.session.Identity())
	})

	t.Run("unconfirmed logout is bounded by one max wait", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) {
			p.IgnoreLogout = true
			p.KeepCookies = true
		})
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, admin))

		start := time.Now()
		assert.False(t, f.session.Logout(ctx))
		elapsed := time.Since(start)

		assert.Less(t, elapsed, 2*f.cfg.Waits.MaxWait)
		assert.NotNil(t, f.session.Identity(), "the identity stays bound until logout is confirmed")
	})

	t.Run("unbound session is already logged out", func(t *testing.T) {
		f := newFixture(t, nil)
		assert.True(t, f.session.Logout(context.Background()))
	})
}

func TestReleaseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.session.Login(ctx, admin))

	assert.NoError(t, f.session.Release())
	assert.NoError(t, f.session.Release())
	assert.Equal(t, 1, f.page.Closed(), "the browser is terminated exactly once")
	assert.Nil(t, f.session.Identity())

	err := f.session.Login(ctx, admin)
	assert.True(t, errors.Is(err, driver.ErrSessionReleased))
	assert.False(t, f.session.Logout(ctx))
	_, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, 0, 0)
	assert.False(t, ok)
	_, err = f.session.SubmitForm(ctx, nil, driver.CSS("button"))
	assert.True(t, errors.Is(err, driver.ErrSessionReleased))
}

func TestSessionIDsAreUnique(t *testing.T) {
	a := newFixture(t, nil)
	b := newFixture(t, nil)
	assert.NotEmpty(t, a.session.ID())
	assert.NotEqual(t, a.session.ID(), b.session.ID())
}

// -- Forms --

func TestSubmitForm(t *testing.T) {
	submit := driver.ParseLocator(config.NewDefaultConfig().Target.SubmitSelector)

	cases := []struct {
		name  string
		tweak func(*drivertest.Page)
	}{
		{name: "native click", tweak: nil},
		{name: "script click after swallowed click", tweak: func(p *drivertest.Page) { p.SwallowClicks = true }},
		{name: "form submit after both clicks fail", tweak: func(p *drivertest.Page) {
			p.SwallowClicks = true
			p.BrokenScriptClick = true
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, tc.tweak)
			ctx := context.Background()
			require.NoError(t, f.session.Login(ctx, admin))
			require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.CreatePath))

			loc, err := f.session.SubmitForm(ctx, f.createForm("T-form"), submit)
			require.NoError(t, err)
			assert.Contains(t, loc, "/applications/1")

			apps := f.app.Applications()
			require.Len(t, apps, 1, "exactly one record is created")
			assert.Equal(t, "T-form", apps[0].Title)
			assert.Equal(t, "other", apps[0].Type)
			assert.Equal(t, "medium", apps[0].Priority)
		})
	}

	t.Run("missing optional field is skipped", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.Missing["priority"] = true })
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, admin))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.CreatePath))

		_, err := f.session.SubmitForm(ctx, f.createForm("T-optional"), submit)
		require.NoError(t, err)
		apps := f.app.Applications()
		require.Len(t, apps, 1)
		assert.Empty(t, apps[0].Priority)
	})

	t.Run("missing required field fails", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.Missing["title"] = true })
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, admin))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.CreatePath))

		_, err := f.session.SubmitForm(ctx, f.createForm("T-required"), submit)
		require.Error(t, err)
		assert.True(t, errors.Is(err, driver.ErrFormFieldMissing))

		var missing *driver.FormFieldMissingError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "title", missing.Field)
		assert.Empty(t, f.app.Applications(), "nothing is submitted")
	})
}

// -- Element discovery --

func TestFindActionable(t *testing.T) {
	seed := func(f *fixture, titles ...string) {
		for _, title := range titles {
			_, err := f.app.Create(admin.Identifier, drivertest.Application{Title: title})
			require.NoError(t, err)
		}
	}

	t.Run("returns the matching live element", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		f := newFixture(t, nil)
		ctx := context.Background()
		seed(f, "T-alpha", "T-beta")
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		m, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.TextContains("T-beta"), 0, 0)
		require.True(t, ok)
		assert.Equal(t, "T-beta", m.Element.Title())
		assert.NotEmpty(t, m.Marker)
		assert.Contains(t, m.TriggerLocator().Value, m.Marker)
	})

	t.Run("no match is not an error and is time bounded", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		retries, wait := 3, 20*time.Millisecond
		start := time.Now()
		_, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, retries, wait)
		elapsed := time.Since(start)

		assert.False(t, ok)
		assert.Less(t, elapsed, time.Duration(retries)*wait+time.Second)
	})

	t.Run("hanging snapshots share one deadline", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.HangSnapshots = true })
		ctx := context.Background()
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		// Each snapshot may take up to a second on its own; three retries must not add up.
		retries, wait := 3, 20*time.Millisecond
		start := time.Now()
		_, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, retries, wait)
		elapsed := time.Since(start)

		assert.False(t, ok)
		assert.Less(t, elapsed, time.Duration(retries)*wait+1500*time.Millisecond)
	})

	t.Run("predicate miss", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		seed(f, "T-alpha")
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		_, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.TextContains("T-gamma"), 1, 10*time.Millisecond)
		assert.False(t, ok)
	})

	t.Run("stale snapshots are retried", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.StaleSnapshots = 2 })
		ctx := context.Background()
		seed(f, "T-alpha")
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		_, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, 1, 10*time.Millisecond)
		assert.False(t, ok, "two stale snapshots exhaust two attempts")

		m, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, 1, 10*time.Millisecond)
		require.True(t, ok)
		assert.Equal(t, "T-alpha", m.Element.Title())
	})

	t.Run("canceled context ends the search", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, 5, time.Second)
		assert.False(t, ok)
	})
}

// -- Modal --

func TestTriggerAndCompleteModal(t *testing.T) {
	t.Run("approves the matched record", func(t *testing.T) {
		f := newFixture(t, nil)
		ctx := context.Background()
		id, err := f.app.Create(admin.Identifier, drivertest.Application{Title: "T-modal"})
		require.NoError(t, err)
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		m, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.TextContains("T-modal"), 0, 0)
		require.True(t, ok)
		require.NoError(t, f.session.Trigger(ctx, m))
		require.NoError(t, f.session.CompleteModalAction(ctx, "looks good", driver.ModalFromConfig(f.cfg.Target.Pending), f.cfg.Waits.ModalWait))

		rec, ok := f.app.Get(id)
		require.True(t, ok)
		assert.Equal(t, drivertest.StatusApproved, rec.Status)
		assert.Equal(t, "looks good", rec.Comment)
		assert.Equal(t, approver.Identifier, rec.ApprovedBy)
	})

	t.Run("modal never opens", func(t *testing.T) {
		f := newFixture(t, func(p *drivertest.Page) { p.ModalNeverOpens = true })
		ctx := context.Background()
		_, err := f.app.Create(admin.Identifier, drivertest.Application{Title: "T-stuck"})
		require.NoError(t, err)
		require.NoError(t, f.session.Login(ctx, approver))
		require.NoError(t, f.session.Navigate(ctx, f.cfg.Target.PendingPath))

		m, ok := f.session.FindActionable(ctx, f.pendingTarget(), driver.AnyElement, 0, 0)
		require.True(t, ok)
		require.NoError(t, f.session.Trigger(ctx, m))

		err = f.session.CompleteModalAction(ctx, "ignored", driver.ModalFromConfig(f.cfg.Target.Pending), 50*time.Millisecond)
		require.Error(t, err)
		assert.True(t, errors.Is(err, driver.ErrModalTimeout))
		assert.Equal(t, []string{"T-stuck"}, f.app.Pending(approver.Identifier))
	})
}
