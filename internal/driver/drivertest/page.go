// File: internal/driver/drivertest/page.go
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/xkilldash9x/approval-probe/internal/driver"
)

// errStale is returned by snapshots the test asked to fail.
var errStale = errors.New("stale element reference")

// Page is an in-memory driver.Page over an App. Each Page is its own browser
// with its own cookie jar. The exported knobs inject UI misbehaviour and must be
// set before the page is handed to a Session.
type Page struct {
	app *App

	// SwallowClicks makes native clicks on submit controls do nothing, as when an overlay intercepts them.
	SwallowClicks bool
	// BrokenScriptClick makes every script click fail.
	BrokenScriptClick bool
	// StaleSnapshots is the number of upcoming snapshots that fail.
	StaleSnapshots int
	// LoginStuck keeps valid logins on the login page.
	LoginStuck bool
	// HideLogoutControls removes the visible logout links and buttons.
	HideLogoutControls bool
	// IgnoreLogout makes the server keep the session on logout requests.
	IgnoreLogout bool
	// KeepCookies makes ClearCookies leave the session in place.
	KeepCookies bool
	// ModalNeverOpens makes approve triggers do nothing.
	ModalNeverOpens bool
	// DeadTriggers lists titles whose approve trigger does nothing.
	DeadTriggers map[string]bool
	// HangSnapshots makes snapshots block until their context ends.
	HangSnapshots bool
	// Missing lists form field names that never render.
	Missing map[string]bool

	mu       sync.Mutex
	path     string
	user     string
	form     map[string]string
	modalFor int
	markers  map[string]int
	closed   int
}

var _ driver.Page = (*Page)(nil)

// NewPage opens a fresh browser on the application.
func (a *App) NewPage() *Page {
	return &Page{app: a, Missing: make(map[string]bool), DeadTriggers: make(map[string]bool)}
}

// node is one addressable element of the rendered page.
type node struct {
	locators []driver.Locator
	visible  bool
	field    string
	submit   bool
	onClick  func()
	onSubmit func()
}

func (n node) matches(loc driver.Locator) bool {
	for _, l := range n.locators {
		if l == loc {
			return true
		}
	}
	return false
}

// nodes renders the current page. Callers hold p.mu.
func (p *Page) nodes() []node {
	t := p.app.Target
	var out []node

	input := func(name string) {
		if p.Missing[name] {
			return
		}
		out = append(out, node{locators: []driver.Locator{driver.Name(name)}, visible: true, field: name})
	}
	submit := func(action func()) {
		out = append(out, node{
			locators: []driver.Locator{driver.ParseLocator(t.SubmitSelector), driver.CSS("button[type=submit]")},
			visible:  true,
			submit:   true,
			onClick:  action,
			onSubmit: action,
		})
	}

	switch {
	case p.path == t.LoginPath:
		input(t.IdentifierField)
		input(t.SecretField)
		submit(p.submitLogin)
	case p.path == t.CreatePath && p.user != "":
		input(t.Form.TitleField)
		input(t.Form.DescriptionField)
		input(t.Form.TypeField)
		input(t.Form.PriorityField)
		submit(p.submitCreate)
	case p.path == t.PendingPath && p.user != "":
		for marker, id := range p.markers {
			id := id
			rec, _ := p.app.Get(id)
			dead := p.ModalNeverOpens || p.DeadTriggers[rec.Title]
			m := driver.Match{Marker: marker, Target: driver.Target{Container: t.Pending.CardSelector, Trigger: t.Pending.TriggerSelector}}
			out = append(out, node{
				locators: []driver.Locator{m.TriggerLocator(), m.Locator()},
				visible:  true,
				onClick: func() {
					if !dead {
						p.modalFor = id
					}
				},
			})
		}
		if p.modalFor != 0 {
			out = append(out,
				node{locators: []driver.Locator{driver.ParseLocator(t.Pending.ModalSelector)}, visible: true},
				node{locators: []driver.Locator{driver.ParseLocator(t.Pending.CommentSelector)}, visible: true, field: "comment"},
				node{
					locators: []driver.Locator{driver.ParseLocator(t.Pending.ConfirmSelector)},
					visible:  true,
					submit:   true,
					onClick:  p.confirmApproval,
					onSubmit: p.confirmApproval,
				},
			)
		}
	}

	if p.user != "" && p.path != t.LoginPath {
		if !p.HideLogoutControls {
			var locs []driver.Locator
			for _, sel := range t.LogoutSelectors {
				locs = append(locs, driver.ParseLocator(sel))
			}
			out = append(out, node{locators: locs, visible: true, onClick: p.logout})
		}
		out = append(out, node{locators: []driver.Locator{driver.CSS("form[action*='logout']")}, onSubmit: p.logout})
	}
	return out
}

func (p *Page) find(loc driver.Locator) (node, bool) {
	for _, n := range p.nodes() {
		if n.matches(loc) {
			return n, true
		}
	}
	return node{}, false
}

// route applies the server's redirects and loads path. Callers hold p.mu.
func (p *Page) route(path string) {
	t := p.app.Target
	p.form = make(map[string]string)
	p.markers = nil
	p.modalFor = 0

	if path == t.LogoutPath {
		if !p.IgnoreLogout {
			p.user = ""
		}
		path = t.LoginPath
	}
	switch {
	case path == t.LoginPath && p.user != "":
		path = t.LandingMarker
	case path != "" && path != t.LoginPath && p.user == "":
		path = t.LoginPath
	}
	p.path = path
}

func (p *Page) submitLogin() {
	t := p.app.Target
	id, secret := p.form[t.IdentifierField], p.form[t.SecretField]
	if p.LoginStuck || !p.app.Authenticate(id, secret) {
		return
	}
	p.user = id
	p.route(t.LandingMarker)
}

func (p *Page) submitCreate() {
	f := p.app.Target.Form
	id, err := p.app.Create(p.user, Application{
		Title:       p.form[f.TitleField],
		Description: p.form[f.DescriptionField],
		Type:        p.form[f.TypeField],
		Priority:    p.form[f.PriorityField],
	})
	if err != nil {
		return
	}
	p.route(fmt.Sprintf("/applications/%d", id))
}

func (p *Page) confirmApproval() {
	_ = p.app.Approve(p.modalFor, p.user, p.form["comment"])
	p.route(p.app.Target.PendingPath)
}

func (p *Page) logout() {
	p.route(p.app.Target.LogoutPath)
}

func (p *Page) cards() []Application {
	if p.path != p.app.Target.PendingPath || p.user == "" {
		return nil
	}
	return p.app.PendingFor(p.user)
}

// Navigate implements driver.Page.
func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := ""
	if rawURL != "about:blank" {
		u, err := url.Parse(rawURL)
		if err != nil {
			return err
		}
		path = u.Path
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.route(path)
	return nil
}

// Location implements driver.Page.
func (p *Page) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.path == "" {
		return "about:blank", nil
	}
	return p.app.Target.URL(p.path), nil
}

// Path returns the path of the current page, or "" for about:blank.
func (p *Page) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.path
}

// User returns the identifier the browser is signed in as, if any.
func (p *Page) User() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// WaitVisible implements driver.Page.
func (p *Page) WaitVisible(ctx context.Context, loc driver.Locator) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if ok, _ := p.Visible(ctx, loc); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Visible implements driver.Page.
func (p *Page) Visible(ctx context.Context, loc driver.Locator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.find(loc)
	return ok && n.visible, nil
}

// Fill implements driver.Page.
func (p *Page) Fill(ctx context.Context, loc driver.Locator, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.find(loc)
	if !ok || !n.visible || n.field == "" {
		return fmt.Errorf("no input matches %s", loc)
	}
	p.form[n.field] = value
	return nil
}

// Click implements driver.Page.
func (p *Page) Click(ctx context.Context, loc driver.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.find(loc)
	if !ok || !n.visible {
		return fmt.Errorf("no visible node matches %s", loc)
	}
	if n.submit && p.SwallowClicks {
		return nil
	}
	if n.onClick != nil {
		n.onClick()
	}
	return nil
}

// ScriptClick implements driver.Page.
func (p *Page) ScriptClick(ctx context.Context, loc driver.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.BrokenScriptClick {
		return errors.New("script click blocked")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.find(loc)
	if !ok {
		return fmt.Errorf("no node matches %s", loc)
	}
	if n.onClick != nil {
		n.onClick()
	}
	return nil
}

// SubmitForm implements driver.Page.
func (p *Page) SubmitForm(ctx context.Context, loc driver.Locator) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.find(loc)
	if !ok || n.onSubmit == nil {
		return fmt.Errorf("no form found for %s", loc)
	}
	n.onSubmit()
	return nil
}

// Snapshot implements driver.Page.
func (p *Page) Snapshot(ctx context.Context, t driver.Target) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.HangSnapshots {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.StaleSnapshots > 0 {
		p.StaleSnapshots--
		return nil, errStale
	}
	if t.Container != p.app.Target.Pending.CardSelector {
		return nil, nil
	}
	hasTrigger := t.Trigger == "" || t.Trigger == p.app.Target.Pending.TriggerSelector
	var out []driver.Element
	for i, app := range p.cards() {
		out = append(out, driver.Element{
			Index:      i,
			Text:       CardText(app),
			Attributes: map[string]string{"class": "card", "data-id": strconv.Itoa(app.ID)},
			Visible:    true,
			HasTrigger: hasTrigger,
		})
	}
	return out, nil
}

// Mark implements driver.Page.
func (p *Page) Mark(ctx context.Context, t driver.Target, el driver.Element, marker string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cards := p.cards()
	if t.Container != p.app.Target.Pending.CardSelector || el.Index >= len(cards) || CardText(cards[el.Index]) != el.Text {
		return errStale
	}
	p.markers = map[string]int{marker: cards[el.Index].ID}
	return nil
}

// ClearCookies implements driver.Page.
func (p *Page) ClearCookies(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.KeepCookies {
		p.user = ""
	}
	return nil
}

// Close implements driver.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Closed reports how many times Close was called.
func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Pending is a convenience for assertions: the titles pending for identifier.
func (a *App) Pending(identifier string) []string {
	var titles []string
	for _, app := range a.PendingFor(identifier) {
		titles = append(titles, app.Title)
	}
	return titles
}
