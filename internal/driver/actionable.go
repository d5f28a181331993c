// File: internal/driver/actionable.go
package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Predicate selects the element FindActionable should return.
type Predicate func(Element) bool

// TextContains matches elements whose text contains s.
func TextContains(s string) Predicate {
	return func(e Element) bool { return strings.Contains(e.Text, s) }
}

// TextEquals matches elements whose text is exactly s.
func TextEquals(s string) Predicate {
	return func(e Element) bool { return e.Text == s }
}

// AnyElement matches every actionable element.
func AnyElement(Element) bool { return true }

// Match is a live element returned by FindActionable. The underlying node
// carries MatchAttribute=Marker until the page changes.
type Match struct {
	Element Element
	Marker  string
	Target  Target
}

// Locator addresses the matched container node.
func (m Match) Locator() Locator {
	return CSS(fmt.Sprintf("[%s=%q]", MatchAttribute, m.Marker))
}

// TriggerLocator addresses the trigger control inside the matched node, or the
// node itself when the target has no trigger.
func (m Match) TriggerLocator() Locator {
	if m.Target.Trigger == "" {
		return m.Locator()
	}
	return CSS(m.Locator().Value + " " + m.Target.Trigger)
}

// minScanTimeout bounds a single snapshot attempt when the poll interval is tiny.
const minScanTimeout = time.Second

func (s *Session) scanTimeout() time.Duration {
	if d := 4 * s.waits.PollInterval; d > minScanTimeout {
		return d
	}
	return minScanTimeout
}

// FindActionable looks for the first visible element of target that has a
// visible trigger and satisfies pred. It queries the page up to retries+1
// times, waiting wait between attempts, and treats snapshot failures such as
// stale nodes as misses. The whole search ends after retries*wait plus one
// snapshot timeout. Not finding anything is reported with ok=false and is not
// an error.
func (s *Session) FindActionable(ctx context.Context, target Target, pred Predicate, retries int, wait time.Duration) (Match, bool) {
	if err := s.checkLive("find actionable"); err != nil {
		return Match{}, false
	}
	if retries < 0 {
		retries = 0
	}

	limit := rate.Inf
	if wait > 0 {
		limit = rate.Every(wait)
	}
	limiter := rate.NewLimiter(limit, 1)

	searchCtx, cancel := withTimeout(ctx, time.Duration(retries)*wait+s.scanTimeout())
	defer cancel()

	for attempt := 0; attempt <= retries; attempt++ {
		if err := limiter.Wait(searchCtx); err != nil {
			return Match{}, false
		}
		if m, ok := s.scan(searchCtx, target, pred); ok {
			return m, true
		}
		s.logger.Debug("No actionable element yet.",
			zap.String("container", target.Container),
			zap.Int("attempt", attempt+1),
			zap.Int("attempts", retries+1))
	}
	return Match{}, false
}

func (s *Session) scan(ctx context.Context, target Target, pred Predicate) (Match, bool) {
	scanCtx, cancel := withTimeout(ctx, s.scanTimeout())
	defer cancel()

	elements, err := s.page.Snapshot(scanCtx, target)
	if err != nil {
		s.logger.Debug("Snapshot failed, treating as a miss.", zap.Error(err))
		return Match{}, false
	}
	for _, el := range elements {
		if !el.Visible || !el.HasTrigger || !pred(el) {
			continue
		}
		marker := uuid.NewString()
		if err := s.page.Mark(scanCtx, target, el, marker); err != nil {
			s.logger.Debug("Element went stale before it could be marked.", zap.Int("index", el.Index), zap.Error(err))
			continue
		}
		return Match{Element: el, Marker: marker, Target: target}, true
	}
	return Match{}, false
}

// Snapshot lists the current elements of target without filtering.
func (s *Session) Snapshot(ctx context.Context, target Target) ([]Element, error) {
	if err := s.checkLive("snapshot"); err != nil {
		return nil, err
	}
	scanCtx, cancel := withTimeout(ctx, s.scanTimeout())
	defer cancel()
	return s.page.Snapshot(scanCtx, target)
}

// Trigger clicks the trigger control of a match.
func (s *Session) Trigger(ctx context.Context, m Match) error {
	if err := s.checkLive("trigger"); err != nil {
		return err
	}
	loc := m.TriggerLocator()
	if err := s.waitVisible(ctx, loc, s.waits.MaxWait); err != nil {
		return newError(ErrElementNotFound, "trigger", err)
	}
	if err := s.click(ctx, loc); err != nil {
		return newError(ErrElementNotFound, "trigger", err)
	}
	return nil
}
