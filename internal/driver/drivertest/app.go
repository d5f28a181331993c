// File: internal/driver/drivertest/app.go

// Package drivertest provides an in-memory model of the approval application
// and two ways of driving it: a fake driver.Page for fast unit tests, and an
// HTML server for tests against a real browser.
package drivertest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/xkilldash9x/approval-probe/internal/config"
)

// Application statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
)

// User is an account of the fake application.
type User struct {
	Identifier string
	Secret     string
	Approver   bool
}

// Application is a record held by the fake application.
type Application struct {
	ID          int
	Title       string
	Description string
	Type        string
	Priority    string
	Applicant   string
	Status      string
	Comment     string
	ApprovedBy  string
}

// App is the shared server-side state. It is safe for concurrent use.
type App struct {
	Target config.TargetConfig

	mu     sync.Mutex
	users  map[string]User
	apps   map[int]*Application
	nextID int
}

// NewApp returns an empty application speaking the UI contract in target.
func NewApp(target config.TargetConfig) *App {
	return &App{
		Target: target,
		users:  make(map[string]User),
		apps:   make(map[int]*Application),
		nextID: 1,
	}
}

// AddUser registers an account.
func (a *App) AddUser(u User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[u.Identifier] = u
}

// Authenticate checks credentials.
func (a *App) Authenticate(identifier, secret string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	u, ok := a.users[identifier]
	return ok && u.Secret == secret
}

// IsApprover reports whether identifier may approve applications.
func (a *App) IsApprover(identifier string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.users[identifier].Approver
}

// Create stores a pending application and returns its id.
func (a *App) Create(applicant string, app Application) (int, error) {
	if app.Title == "" {
		return 0, fmt.Errorf("title is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	app.ID = a.nextID
	app.Applicant = applicant
	app.Status = StatusPending
	a.nextID++
	a.apps[app.ID] = &app
	return app.ID, nil
}

// Approve marks a pending application approved.
func (a *App) Approve(id int, approver, comment string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	app, ok := a.apps[id]
	if !ok {
		return fmt.Errorf("application %d not found", id)
	}
	if app.Status != StatusPending {
		return fmt.Errorf("application %d is %s", id, app.Status)
	}
	if !a.users[approver].Approver {
		return fmt.Errorf("%s may not approve", approver)
	}
	app.Status = StatusApproved
	app.ApprovedBy = approver
	app.Comment = comment
	return nil
}

// PendingFor lists the applications awaiting approval by identifier, oldest first.
func (a *App) PendingFor(identifier string) []Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.users[identifier].Approver {
		return nil
	}
	var out []Application
	for _, app := range a.apps {
		if app.Status == StatusPending {
			out = append(out, *app)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Applications returns a copy of every record, ordered by id.
func (a *App) Applications() []Application {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Application, 0, len(a.apps))
	for _, app := range a.apps {
		out = append(out, *app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns one record.
func (a *App) Get(id int) (Application, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	app, ok := a.apps[id]
	if !ok {
		return Application{}, false
	}
	return *app, true
}

// CardText is the visible text of a pending card: the title on its own line,
// followed by the applicant.
func CardText(app Application) string {
	return app.Title + "\n" + app.Applicant
}
