// File: internal/workflow/workflow.go

// Package workflow implements the application-domain operations of the
// approval UI (create, list pending, approve) on top of driver sessions, and
// the scenarios that combine them.
package workflow

import (
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/xkilldash9x/approval-probe/internal/config"
	"github.com/xkilldash9x/approval-probe/internal/driver"
)

var (
	// ErrNotCreated means the create form was submitted but no record identifier appeared.
	ErrNotCreated = errors.New("application was not created")
	// ErrStillPending means an approval was confirmed but the item stayed in the pending list.
	ErrStillPending = errors.New("item still pending after approval")
)

// Workflow binds the UI contract and policies to the operations.
type Workflow struct {
	target    config.TargetConfig
	waits     config.WaitConfig
	policy    config.WorkflowConfig
	idPattern *regexp.Regexp
	logger    *zap.Logger
}

// New compiles the configuration into a Workflow.
func New(cfg *config.Config, logger *zap.Logger) (*Workflow, error) {
	pattern := cfg.Target.RecordIDPattern
	if pattern == "" {
		pattern = `/applications/(\d+)`
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid record id pattern: %w", err)
	}
	return &Workflow{
		target:    cfg.Target,
		waits:     cfg.Waits,
		policy:    cfg.Workflow,
		idPattern: re,
		logger:    logger.Named("workflow"),
	}, nil
}

func (w *Workflow) pendingTarget() driver.Target {
	return driver.Target{
		Container: w.target.Pending.CardSelector,
		Trigger:   w.target.Pending.TriggerSelector,
	}
}

func (w *Workflow) sessionLogger(s *driver.Session) *zap.Logger {
	logger := w.logger.With(zap.String("session_id", s.ID()))
	if id := s.Identity(); id != nil {
		logger = logger.With(zap.String("actor", id.String()))
	}
	return logger
}
