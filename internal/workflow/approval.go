// File: internal/workflow/approval.go
package workflow

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/approval-probe/internal/driver"
)

// Outcome is the result of one approval attempt.
type Outcome int

const (
	// OutcomeNotFound means no matching pending item was available.
	OutcomeNotFound Outcome = iota
	// OutcomeApproved means the requested item was approved.
	OutcomeApproved
	// OutcomeApprovedOther means the requested item was missing and another pending item was approved instead.
	OutcomeApprovedOther
	// OutcomeFailed means an item was found but approving it did not succeed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeApprovedOther:
		return "approved-other"
	case OutcomeFailed:
		return "failed"
	default:
		return "not-found"
	}
}

// ApproveOptions tunes ApproveMatching.
type ApproveOptions struct {
	// AllowAnyFallback approves the first pending item when none matches the title.
	AllowAnyFallback bool
}

// Tally counts the work done by ApproveAll.
type Tally struct {
	Attempted int
	Approved  int
	Failed    int
	// Aborted is set when the loop stopped on consecutive failures.
	Aborted bool
}

// PendingTitles lists the titles of the pending items visible to the session's identity.
func (w *Workflow) PendingTitles(ctx context.Context, s *driver.Session) ([]string, error) {
	if err := s.Navigate(ctx, w.target.PendingPath); err != nil {
		return nil, err
	}
	elements, err := s.Snapshot(ctx, w.pendingTarget())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending items: %w", err)
	}
	titles := []string{}
	for _, el := range elements {
		if el.Visible && el.HasTrigger {
			titles = append(titles, el.Title())
		}
	}
	return titles, nil
}

// PendingCount is the number of pending items visible to the session's identity.
func (w *Workflow) PendingCount(ctx context.Context, s *driver.Session) (int, error) {
	titles, err := w.PendingTitles(ctx, s)
	return len(titles), err
}

// ApproveMatching approves the pending item whose text contains title and
// confirms that it left the pending list.
func (w *Workflow) ApproveMatching(ctx context.Context, s *driver.Session, title, comment string, opts ApproveOptions) (Outcome, error) {
	logger := w.sessionLogger(s).With(zap.String("title", title))
	if err := s.Navigate(ctx, w.target.PendingPath); err != nil {
		return OutcomeFailed, err
	}

	outcome := OutcomeApproved
	m, ok := s.FindActionable(ctx, w.pendingTarget(), driver.TextContains(title), w.waits.FindRetries, w.waits.FindInterval)
	if !ok {
		if !opts.AllowAnyFallback {
			logger.Warn("No pending item matches the title.")
			return OutcomeNotFound, ctx.Err()
		}
		m, ok = s.FindActionable(ctx, w.pendingTarget(), driver.AnyElement, 0, 0)
		if !ok {
			logger.Warn("Nothing pending to fall back to.")
			return OutcomeNotFound, ctx.Err()
		}
		logger.Warn("Title not found, approving another pending item instead.", zap.String("fallback", m.Element.Title()))
		outcome = OutcomeApprovedOther
	}

	if err := w.approve(ctx, s, m, comment); err != nil {
		return OutcomeFailed, err
	}
	logger.Info("Approved.", zap.String("item", m.Element.Title()), zap.Stringer("outcome", outcome))
	return outcome, nil
}

// ApproveAll approves the first pending item until the list is empty, limit
// approvals were made (limit <= 0 means no limit), or MaxConsecutiveFailures
// distinct items failed in a row. An item that fails is not attempted again in
// the same call. An empty list is a stable zero state.
func (w *Workflow) ApproveAll(ctx context.Context, s *driver.Session, comment string, limit int) (Tally, error) {
	logger := w.sessionLogger(s)
	var tally Tally
	failures := 0
	failed := make(map[string]bool)
	untried := func(e driver.Element) bool { return !failed[e.Text] }

	for limit <= 0 || tally.Approved < limit {
		if err := ctx.Err(); err != nil {
			return tally, err
		}
		if err := s.Navigate(ctx, w.target.PendingPath); err != nil {
			return tally, err
		}
		m, ok := s.FindActionable(ctx, w.pendingTarget(), untried, w.waits.FindRetries, w.waits.FindInterval)
		if !ok {
			break
		}

		tally.Attempted++
		if err := w.approve(ctx, s, m, comment); err != nil {
			if ctx.Err() != nil {
				return tally, ctx.Err()
			}
			tally.Failed++
			failures++
			failed[m.Element.Text] = true
			logger.Warn("Approval failed, moving on.", zap.String("item", m.Element.Title()), zap.Error(err))
			if failures >= w.policy.MaxConsecutiveFailures {
				logger.Error("Too many consecutive approval failures, stopping.", zap.Int("failures", failures))
				tally.Aborted = true
				break
			}
			continue
		}
		failures = 0
		tally.Approved++
		logger.Info("Approved.", zap.String("item", m.Element.Title()), zap.Int("approved", tally.Approved))
	}

	logger.Info("Approval pass finished.",
		zap.Int("attempted", tally.Attempted),
		zap.Int("approved", tally.Approved),
		zap.Int("failed", tally.Failed))
	return tally, nil
}

// approve triggers m, completes the dialog and waits for m to leave the list.
func (w *Workflow) approve(ctx context.Context, s *driver.Session, m driver.Match, comment string) error {
	if err := s.Trigger(ctx, m); err != nil {
		return err
	}
	if err := s.CompleteModalAction(ctx, comment, driver.ModalFromConfig(w.target.Pending), w.waits.ModalWait); err != nil {
		return err
	}
	return w.awaitGone(ctx, s, m.Element.Text)
}

// awaitGone re-reads the pending list until no item has text, or the find
// retries run out.
func (w *Workflow) awaitGone(ctx context.Context, s *driver.Session, text string) error {
	var lastErr error
	for attempt := 0; attempt <= w.waits.FindRetries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, w.waits.FindInterval); err != nil {
				return err
			}
		}
		if lastErr = s.Navigate(ctx, w.target.PendingPath); lastErr != nil {
			continue
		}
		elements, err := s.Snapshot(ctx, w.pendingTarget())
		if err != nil {
			lastErr = err
			continue
		}
		if !containsText(elements, text) {
			return nil
		}
		lastErr = nil
	}
	return errors.Join(ErrStillPending, lastErr)
}

func containsText(elements []driver.Element, text string) bool {
	for _, el := range elements {
		if el.Text == text {
			return true
		}
	}
	return false
}
