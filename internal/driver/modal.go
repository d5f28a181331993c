// File: internal/driver/modal.go
package driver

import (
	"context"
	"time"

	"github.com/xkilldash9x/approval-probe/internal/config"
	"go.uber.org/zap"
)

// ModalSpec locates a confirmation dialog and its controls.
type ModalSpec struct {
	Container Locator
	// Comment is optional; a zero locator skips comment entry.
	Comment Locator
	Confirm Locator
}

// ModalFromConfig builds the approval dialog spec from the pending-page selectors.
func ModalFromConfig(p config.PendingConfig) ModalSpec {
	spec := ModalSpec{
		Container: ParseLocator(p.ModalSelector),
		Confirm:   ParseLocator(p.ConfirmSelector),
	}
	if p.CommentSelector != "" {
		spec.Comment = ParseLocator(p.CommentSelector)
	}
	return spec
}

// CompleteModalAction waits for the dialog, enters comment and confirms.
// It fails with ErrModalTimeout when the dialog does not appear within maxWait.
func (s *Session) CompleteModalAction(ctx context.Context, comment string, modal ModalSpec, maxWait time.Duration) error {
	if err := s.checkLive("complete modal"); err != nil {
		return err
	}
	if err := s.waitVisible(ctx, modal.Container, maxWait); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return newError(ErrModalTimeout, "complete modal", err)
	}

	if !modal.Comment.IsZero() {
		if err := s.waitVisible(ctx, modal.Comment, maxWait); err != nil {
			return &FormFieldMissingError{Field: "comment", Locator: modal.Comment, Err: err}
		}
		if err := s.fill(ctx, modal.Comment, comment); err != nil {
			return &FormFieldMissingError{Field: "comment", Locator: modal.Comment, Err: err}
		}
	}

	if err := s.waitVisible(ctx, modal.Confirm, maxWait); err != nil {
		return newError(ErrElementNotFound, "complete modal", err)
	}
	if err := s.click(ctx, modal.Confirm); err != nil {
		return newError(ErrElementNotFound, "complete modal", err)
	}
	s.logger.Debug("Modal action confirmed.", zap.Stringer("modal", modal.Container))
	return nil
}
