// File: internal/driver/browser_test.go
package driver_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/approval-probe/internal/config"
	"github.com/xkilldash9x/approval-probe/internal/driver"
	"github.com/xkilldash9x/approval-probe/internal/driver/drivertest"
)

// browserFixture runs the HTML application and a real headless browser against it.
func browserFixture(t *testing.T) (*config.Config, *drivertest.App, *driver.Session) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	cfg := config.NewDefaultConfig()
	if _, err := driver.FindBrowser(cfg.Browser); err != nil {
		t.Skipf("no Chromium binary available: %v", err)
	}

	app := drivertest.NewApp(cfg.Target)
	app.AddUser(drivertest.User{Identifier: admin.Identifier, Secret: admin.Secret})
	app.AddUser(drivertest.User{Identifier: approver.Identifier, Secret: approver.Secret, Approver: true})
	srv := drivertest.NewServer(app)
	t.Cleanup(srv.Close)

	cfg.Target.BaseURL = srv.URL
	cfg.Waits.MaxWait = 10 * time.Second
	cfg.Waits.ClickSettle = 2 * time.Second
	cfg.Waits.FindInterval = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()
	s, err := driver.Acquire(ctx, cfg.Browser, cfg.Target, cfg.Waits, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, s.Release()) })
	return cfg, app, s
}

func TestBrowserApprovalRoundTrip(t *testing.T) {
	cfg, app, s := browserFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	require.NoError(t, s.Login(ctx, admin))
	require.NoError(t, s.Navigate(ctx, cfg.Target.CreatePath))

	form := cfg.Target.Form
	loc, err := s.SubmitForm(ctx, []driver.Field{
		{Name: "title", Locator: driver.Name(form.TitleField), Value: "T-browser"},
		{Name: "description", Locator: driver.Name(form.DescriptionField), Value: "from chromium"},
		{Name: "type", Locator: driver.Name(form.TypeField), Value: form.DefaultType, Optional: true},
		{Name: "priority", Locator: driver.Name(form.PriorityField), Value: form.DefaultPriority, Optional: true},
	}, driver.ParseLocator(cfg.Target.SubmitSelector))
	require.NoError(t, err)
	assert.Contains(t, loc, "/applications/1")

	apps := app.Applications()
	require.Len(t, apps, 1)
	assert.Equal(t, "other", apps[0].Type)
	assert.Equal(t, "medium", apps[0].Priority)

	require.True(t, s.Logout(ctx))
	require.NoError(t, s.Login(ctx, approver))
	require.NoError(t, s.Navigate(ctx, cfg.Target.PendingPath))

	target := driver.Target{Container: cfg.Target.Pending.CardSelector, Trigger: cfg.Target.Pending.TriggerSelector}
	m, ok := s.FindActionable(ctx, target, driver.TextContains("T-browser"), cfg.Waits.FindRetries, cfg.Waits.FindInterval)
	require.True(t, ok)
	assert.Equal(t, "T-browser", m.Element.Title())

	require.NoError(t, s.Trigger(ctx, m))
	require.NoError(t, s.CompleteModalAction(ctx, "approved by test", driver.ModalFromConfig(cfg.Target.Pending), cfg.Waits.ModalWait))

	require.Eventually(t, func() bool { return len(app.Pending(approver.Identifier)) == 0 }, 10*time.Second, 100*time.Millisecond)
	rec, _ := app.Get(1)
	assert.Equal(t, "approved by test", rec.Comment)

	assert.True(t, s.Logout(ctx))
}
