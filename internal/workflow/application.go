// File: internal/workflow/application.go
package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/approval-probe/internal/driver"
)

// ApplicationForm is the input of the create form. Empty Type and Priority
// fall back to the configured defaults.
type ApplicationForm struct {
	Title       string
	Description string
	Type        string
	Priority    string
}

// Record is an application created through the UI.
type Record struct {
	Title    string
	ID       string
	Location string
}

// CreateApplication opens the create page, retrying the page load while the
// form does not render, submits form and extracts the new record's identifier
// from the resulting location.
func (w *Workflow) CreateApplication(ctx context.Context, s *driver.Session, form ApplicationForm) (Record, error) {
	logger := w.sessionLogger(s).With(zap.String("title", form.Title))
	f := w.target.Form
	titleLoc := driver.Name(f.TitleField)

	attempts := w.waits.CreateRetries
	if attempts < 1 {
		attempts = 1
	}
	var loadErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if loadErr = s.Navigate(ctx, w.target.CreatePath); loadErr == nil {
			if loadErr = s.Await(ctx, titleLoc, w.waits.PageLoadWait); loadErr == nil {
				break
			}
		}
		if ctx.Err() != nil {
			return Record{}, ctx.Err()
		}
		logger.Warn("Create page did not load.", zap.Int("attempt", attempt), zap.Int("attempts", attempts), zap.Error(loadErr))
	}
	if loadErr != nil {
		return Record{}, fmt.Errorf("create page unavailable after %d attempts: %w", attempts, loadErr)
	}

	typ, priority := form.Type, form.Priority
	if typ == "" {
		typ = f.DefaultType
	}
	if priority == "" {
		priority = f.DefaultPriority
	}
	fields := []driver.Field{
		{Name: "title", Locator: titleLoc, Value: form.Title},
		{Name: "description", Locator: driver.Name(f.DescriptionField), Value: form.Description},
		{Name: "type", Locator: driver.Name(f.TypeField), Value: typ, Optional: true},
		{Name: "priority", Locator: driver.Name(f.PriorityField), Value: priority, Optional: true},
	}

	loc, err := s.SubmitForm(ctx, fields, driver.ParseLocator(w.target.SubmitSelector))
	if err != nil {
		return Record{}, fmt.Errorf("failed to submit application %q: %w", form.Title, err)
	}

	rec := Record{Title: form.Title, Location: loc}
	m := w.idPattern.FindStringSubmatch(loc)
	if len(m) < 2 {
		return rec, fmt.Errorf("%w: %q ended at %s", ErrNotCreated, form.Title, loc)
	}
	rec.ID = m[1]
	logger.Info("Application created.", zap.String("record_id", rec.ID))
	return rec, nil
}
