// File: internal/workflow/summary.go
package workflow

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Summary is the report of one scenario run.
type Summary struct {
	RunID     string
	Scenario  string
	Created   int
	Attempted int
	Approved  int
	Failed    int
	// Skipped counts actors or items that were given up on without an attempt.
	Skipped  int
	Errors   []string
	Duration time.Duration
}

// Add folds an approval tally into the summary.
func (s *Summary) Add(t Tally) {
	s.Attempted += t.Attempted
	s.Approved += t.Approved
	s.Failed += t.Failed
}

// Merge folds another summary's counters and errors into s.
func (s *Summary) Merge(o Summary) {
	s.Created += o.Created
	s.Attempted += o.Attempted
	s.Approved += o.Approved
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Errors = append(s.Errors, o.Errors...)
}

// Record notes an error that did not abort the run.
func (s *Summary) Record(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Clean reports whether the run finished without any failure or skip.
func (s Summary) Clean() bool {
	return s.Failed == 0 && s.Skipped == 0 && len(s.Errors) == 0
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s Summary) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("run_id", s.RunID)
	enc.AddString("scenario", s.Scenario)
	enc.AddInt("created", s.Created)
	enc.AddInt("attempted", s.Attempted)
	enc.AddInt("approved", s.Approved)
	enc.AddInt("failed", s.Failed)
	enc.AddInt("skipped", s.Skipped)
	enc.AddDuration("duration", s.Duration)
	if len(s.Errors) > 0 {
		return enc.AddArray("errors", zapcore.ArrayMarshalerFunc(func(arr zapcore.ArrayEncoder) error {
			for _, e := range s.Errors {
				arr.AppendString(e)
			}
			return nil
		}))
	}
	return nil
}

// String renders the human-readable report.
func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s (run %s) finished in %s\n", s.Scenario, s.RunID, s.Duration.Round(time.Millisecond))
	fmt.Fprintf(&b, "  created:   %d\n", s.Created)
	fmt.Fprintf(&b, "  attempted: %d\n", s.Attempted)
	fmt.Fprintf(&b, "  approved:  %d\n", s.Approved)
	fmt.Fprintf(&b, "  failed:    %d\n", s.Failed)
	fmt.Fprintf(&b, "  skipped:   %d\n", s.Skipped)
	for _, e := range s.Errors {
		fmt.Fprintf(&b, "  error: %s\n", e)
	}
	return b.String()
}
