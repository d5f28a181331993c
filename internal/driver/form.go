// File: internal/driver/form.go
package driver

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Field is one form input to fill before submission.
type Field struct {
	// Name is used in logs and errors.
	Name     string
	Locator  Locator
	Value    string
	Optional bool
}

// optionalWait bounds how long SubmitForm looks for a field that may not exist.
func (s *Session) optionalWait() time.Duration {
	if s.waits.ClickSettle > 0 && s.waits.ClickSettle < s.waits.MaxWait {
		return s.waits.ClickSettle
	}
	return s.waits.MaxWait
}

// SubmitForm fills fields in order and submits with the submit control,
// escalating from a native click to a script click to submitting the enclosing
// form whenever the location does not change within ClickSettle. It returns the
// location after submission, which may be unchanged if the server rejected the
// input.
func (s *Session) SubmitForm(ctx context.Context, fields []Field, submit Locator) (string, error) {
	if err := s.checkLive("submit form"); err != nil {
		return "", err
	}

	for _, f := range fields {
		wait := s.waits.MaxWait
		if f.Optional {
			wait = s.optionalWait()
		}
		err := s.waitVisible(ctx, f.Locator, wait)
		if err == nil {
			err = s.fill(ctx, f.Locator, f.Value)
		}
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if f.Optional {
			s.logger.Debug("Optional field not available, skipping.", zap.String("field", f.Name), zap.Error(err))
			continue
		}
		return "", &FormFieldMissingError{Field: f.Name, Locator: f.Locator, Err: err}
	}

	before, _ := s.page.Location(ctx)
	if err := s.waitVisible(ctx, submit, s.waits.MaxWait); err != nil {
		return "", newError(ErrElementNotFound, "submit form", err)
	}

	clickCtx, cancel := withTimeout(ctx, s.waits.MaxWait)
	clickErr := s.page.Click(clickCtx, submit)
	cancel()
	if clickErr == nil {
		if after, ok := s.awaitNavigation(ctx, before, s.waits.ClickSettle); ok {
			return after, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	// A control that is gone means the click went through and the next page is still loading.
	if clickErr == nil && !s.stillVisible(ctx, submit) {
		return s.settledLocation(ctx, before)
	}

	s.logger.Debug("Submit click did not navigate, dispatching script click.", zap.Stringer("locator", submit), zap.Error(clickErr))
	scriptErr := s.page.ScriptClick(ctx, submit)
	if scriptErr == nil {
		if after, ok := s.awaitNavigation(ctx, before, s.waits.ClickSettle); ok {
			return after, nil
		}
		if !s.stillVisible(ctx, submit) {
			return s.settledLocation(ctx, before)
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	s.logger.Debug("Script click did not navigate, submitting the form directly.", zap.Error(scriptErr))
	if err := s.page.SubmitForm(ctx, submit); err != nil {
		return "", newError(ErrElementNotFound, "submit form", errors.Join(clickErr, scriptErr, err))
	}
	return s.settledLocation(ctx, before)
}

// settledLocation waits up to MaxWait for a navigation away from before and
// returns wherever the page ended up.
func (s *Session) settledLocation(ctx context.Context, before string) (string, error) {
	after, _ := s.awaitNavigation(ctx, before, s.waits.MaxWait)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return after, nil
}

// awaitNavigation reports whether the location moved away from before within timeout.
func (s *Session) awaitNavigation(ctx context.Context, before string, timeout time.Duration) (string, bool) {
	if timeout <= 0 {
		timeout = s.waits.PollInterval
	}
	loc, err := s.waitForLocation(ctx, timeout, func(url string) bool { return url != before })
	if err != nil {
		if loc == "" {
			loc = before
		}
		return loc, false
	}
	return loc, true
}

func (s *Session) stillVisible(ctx context.Context, loc Locator) bool {
	visible, err := s.page.Visible(ctx, loc)
	return err == nil && visible
}
