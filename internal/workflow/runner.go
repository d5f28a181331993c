// File: internal/workflow/runner.go
package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/approval-probe/internal/config"
	"github.com/xkilldash9x/approval-probe/internal/driver"
)

// Scenario names accepted by Runner.Run.
const (
	ScenarioSingle       = "single"
	ScenarioBulk         = "bulk"
	ScenarioMultiOrg     = "multi-org"
	ScenarioMultiBrowser = "multi-browser"
)

// Scenarios lists every runnable scenario.
func Scenarios() []string {
	return []string{ScenarioSingle, ScenarioBulk, ScenarioMultiOrg, ScenarioMultiBrowser}
}

var (
	// ErrUnknownScenario is returned for names not in Scenarios.
	ErrUnknownScenario = errors.New("unknown scenario")
	// ErrAborted wraps the failures that end a run early: a browser that cannot
	// be acquired, or fixtures the scenario cannot work with.
	ErrAborted = errors.New("run aborted")
)

// SessionFactory acquires a fresh, unauthenticated session.
type SessionFactory func(ctx context.Context) (*driver.Session, error)

// BrowserFactory acquires real browser sessions as configured.
func BrowserFactory(cfg *config.Config, logger *zap.Logger) SessionFactory {
	return func(ctx context.Context) (*driver.Session, error) {
		return driver.Acquire(ctx, cfg.Browser, cfg.Target, cfg.Waits, logger)
	}
}

// Runner executes scenarios. Every session it acquires is released before Run returns.
type Runner struct {
	cfg        *config.Config
	wf         *Workflow
	newSession SessionFactory
	logger     *zap.Logger
	rng        *rand.Rand
	now        func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock replaces the clock used for generated titles.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a Runner. Random choices are seeded from
// scenarios.multi_org.seed, or from the clock when the seed is zero.
func NewRunner(cfg *config.Config, factory SessionFactory, logger *zap.Logger, opts ...Option) (*Runner, error) {
	wf, err := New(cfg, logger)
	if err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:        cfg,
		wf:         wf,
		newSession: factory,
		logger:     logger.Named("runner"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	seed := uint64(cfg.Scenarios.MultiOrg.Seed)
	if seed == 0 {
		seed = uint64(r.now().UnixNano())
	}
	r.rng = rand.New(rand.NewPCG(seed, seed))
	r.logger.Debug("Runner ready.", zap.Uint64("seed", seed))
	return r, nil
}

// Run executes the named scenario. A non-nil error means the run was aborted;
// per-item and per-actor failures are reported in the Summary instead.
func (r *Runner) Run(ctx context.Context, scenario string) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), Scenario: scenario}
	logger := r.logger.With(zap.String("run_id", sum.RunID), zap.String("scenario", scenario))

	var run func(context.Context, *Summary) error
	switch scenario {
	case ScenarioSingle:
		run = r.runSingle
	case ScenarioBulk:
		run = r.runBulk
	case ScenarioMultiOrg:
		run = r.runMultiOrg
	case ScenarioMultiBrowser:
		run = r.runMultiBrowser
	default:
		return sum, fmt.Errorf("%w: %q (want one of %v)", ErrUnknownScenario, scenario, Scenarios())
	}

	logger.Info("Scenario starting.")
	start := time.Now()
	err := run(ctx, &sum)
	sum.Duration = time.Since(start)

	if err != nil {
		logger.Error("Scenario aborted.", zap.Object("summary", sum), zap.Error(err))
		return sum, err
	}
	logger.Info("Scenario finished.", zap.Object("summary", sum))
	return sum, nil
}

// -- Scenarios --

func (r *Runner) runSingle(ctx context.Context, sum *Summary) error {
	st := r.newSeat()
	defer st.release()

	admin := r.admin()
	if err := st.signIn(ctx, admin); err != nil {
		return r.actorFailed(ctx, sum, admin, err)
	}

	title := fmt.Sprintf("%s%d", r.cfg.Scenarios.Single.TitlePrefix, r.now().UnixMilli())
	rec, err := r.wf.CreateApplication(ctx, st.s, ApplicationForm{Title: title, Description: "single approval scenario"})
	if err != nil {
		sum.Failed++
		sum.Record("create %q: %v", title, err)
		return ctx.Err()
	}
	sum.Created++

	approver := r.approvers()[0]
	if err := st.signIn(ctx, approver); err != nil {
		return r.actorFailed(ctx, sum, approver, err)
	}

	outcome, err := r.wf.ApproveMatching(ctx, st.s, rec.Title, r.cfg.Workflow.ApprovalComment,
		ApproveOptions{AllowAnyFallback: r.cfg.Workflow.AllowAnyFallback})
	switch outcome {
	case OutcomeApproved, OutcomeApprovedOther:
		sum.Attempted++
		sum.Approved++
		if outcome == OutcomeApprovedOther {
			sum.Record("%q was not pending; approved another item instead", rec.Title)
		}
	case OutcomeNotFound:
		sum.Skipped++
		sum.Record("%q did not appear in the pending list of %s", rec.Title, approver)
	default:
		sum.Attempted++
		sum.Failed++
		sum.Record("approve %q: %v", rec.Title, err)
	}
	return ctx.Err()
}

func (r *Runner) runBulk(ctx context.Context, sum *Summary) error {
	st := r.newSeat()
	defer st.release()

	admin := r.admin()
	if err := st.signIn(ctx, admin); err != nil {
		return r.actorFailed(ctx, sum, admin, err)
	}
	r.createBatch(ctx, st.s, sum, r.cfg.Scenarios.Bulk.Count)
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, cred := range r.approvers() {
		if err := r.approveAllAs(ctx, st, cred, sum); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runMultiOrg(ctx context.Context, sum *Summary) error {
	orgs := r.cfg.Fixtures.Organizations
	if len(orgs) == 0 {
		return fmt.Errorf("%w: no organizations configured under fixtures.organizations", ErrAborted)
	}
	k := min(r.cfg.Scenarios.MultiOrg.Organizations, len(orgs))
	selected := make([]config.OrganizationConfig, 0, k)
	for _, i := range r.rng.Perm(len(orgs))[:k] {
		selected = append(selected, orgs[i])
	}

	st := r.newSeat()
	defer st.release()

	// Phase one: every application exists before anyone approves.
	admin := r.admin()
	if err := st.signIn(ctx, admin); err != nil {
		return r.actorFailed(ctx, sum, admin, err)
	}
	stamp := r.now().UnixMilli()
	for _, org := range selected {
		for _, applicant := range r.pickApplicants(org) {
			title := fmt.Sprintf("%s-%s-%d", org.Name, applicant, stamp)
			form := ApplicationForm{Title: title, Description: fmt.Sprintf("applicant %s of %s", applicant, org.Name)}
			if _, err := r.wf.CreateApplication(ctx, st.s, form); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				sum.Failed++
				sum.Record("create %q: %v", title, err)
				continue
			}
			sum.Created++
		}
	}

	// Phase two: one approver per organization clears the queue.
	for _, org := range selected {
		if len(org.Approvers) == 0 {
			sum.Skipped++
			sum.Record("organization %s has no approvers", org.Name)
			continue
		}
		cred := r.credential(org.Approvers[r.rng.IntN(len(org.Approvers))])
		if err := r.approveAllAs(ctx, st, cred, sum); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runMultiBrowser(ctx context.Context, sum *Summary) error {
	// Phase one in the admin's own browser.
	if err := func() error {
		st := r.newSeat()
		defer st.release()
		admin := r.admin()
		if err := st.signIn(ctx, admin); err != nil {
			return r.actorFailed(ctx, sum, admin, err)
		}
		r.createBatch(ctx, st.s, sum, r.cfg.Scenarios.Bulk.Count)
		return ctx.Err()
	}(); err != nil {
		return err
	}

	// Phase two: each approver in a separate browser, with no ordering between them.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, r.cfg.Workflow.Parallelism))
	var mu sync.Mutex
	for _, cred := range r.approvers() {
		g.Go(func() error {
			st := r.newSeat()
			defer st.release()
			var part Summary
			err := r.approveAllAs(gctx, st, cred, &part)
			mu.Lock()
			sum.Merge(part)
			mu.Unlock()
			return err
		})
	}
	return g.Wait()
}

// -- Building blocks --

func (r *Runner) createBatch(ctx context.Context, s *driver.Session, sum *Summary, count int) {
	stamp := r.now().UnixMilli()
	for i := 1; i <= count; i++ {
		title := fmt.Sprintf("%s%d-%02d", r.cfg.Scenarios.Single.TitlePrefix, stamp, i)
		if _, err := r.wf.CreateApplication(ctx, s, ApplicationForm{Title: title, Description: fmt.Sprintf("bulk item %d of %d", i, count)}); err != nil {
			if ctx.Err() != nil {
				return
			}
			sum.Failed++
			sum.Record("create %q: %v", title, err)
			continue
		}
		sum.Created++
	}
}

// approveAllAs signs cred in on st and approves everything pending for it.
// Only aborting errors are returned.
func (r *Runner) approveAllAs(ctx context.Context, st *seat, cred driver.Credential, sum *Summary) error {
	if err := st.signIn(ctx, cred); err != nil {
		return r.actorFailed(ctx, sum, cred, err)
	}
	tally, err := r.wf.ApproveAll(ctx, st.s, r.cfg.Workflow.ApprovalComment, r.cfg.Workflow.ApproveLimit)
	sum.Add(tally)
	if tally.Aborted {
		sum.Record("%s stopped after %d consecutive failures", cred, r.cfg.Workflow.MaxConsecutiveFailures)
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sum.Record("approvals by %s: %v", cred, err)
	}
	return nil
}

// actorFailed records a failed sign-in and returns only the errors that abort the run.
func (r *Runner) actorFailed(ctx context.Context, sum *Summary, cred driver.Credential, err error) error {
	if errors.Is(err, ErrAborted) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	sum.Skipped++
	sum.Record("sign in as %s: %v", cred, err)
	r.logger.Warn("Skipping actor.", zap.String("actor", cred.String()), zap.Error(err))
	return nil
}

func (r *Runner) pickApplicants(org config.OrganizationConfig) []string {
	lo, hi := r.cfg.Scenarios.MultiOrg.MinApplicants, r.cfg.Scenarios.MultiOrg.MaxApplicants
	n := lo
	if hi > lo {
		n += r.rng.IntN(hi - lo + 1)
	}
	if len(org.Applicants) == 0 {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("applicant%d", i+1)
		}
		return out
	}
	pool := append([]string(nil), org.Applicants...)
	r.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:min(n, len(pool))]
}

func (r *Runner) credential(c config.CredentialConfig) driver.Credential {
	return driver.Credential{Name: c.Name, Identifier: c.Identifier, Secret: r.cfg.Fixtures.SecretFor(c)}
}

func (r *Runner) admin() driver.Credential {
	return r.credential(r.cfg.Fixtures.Admin)
}

// approvers are the configured approvers, or the admin when there are none.
func (r *Runner) approvers() []driver.Credential {
	if len(r.cfg.Fixtures.Approvers) == 0 {
		return []driver.Credential{r.admin()}
	}
	out := make([]driver.Credential, 0, len(r.cfg.Fixtures.Approvers))
	for _, c := range r.cfg.Fixtures.Approvers {
		out = append(out, r.credential(c))
	}
	return out
}

func (r *Runner) login(ctx context.Context, s *driver.Session, cred driver.Credential) error {
	attempts := 1 + max(0, r.cfg.Workflow.LoginRetries)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.Login(ctx, cred); err == nil {
			return nil
		}
		if !errors.Is(err, driver.ErrAuthenticationTimeout) || ctx.Err() != nil {
			return err
		}
		r.logger.Warn("Login timed out.", zap.String("actor", cred.String()), zap.Int("attempt", attempt), zap.Int("attempts", attempts))
	}
	return err
}

// seat is the browser that successive identities take turns on.
type seat struct {
	r *Runner
	s *driver.Session
}

func (r *Runner) newSeat() *seat { return &seat{r: r} }

// signIn binds cred to the seat's browser, logging out the previous identity.
// When the logout cannot be confirmed the browser is replaced instead.
func (st *seat) signIn(ctx context.Context, cred driver.Credential) error {
	if st.s != nil && st.s.Identity() != nil && !st.s.Logout(ctx) {
		st.r.logger.Warn("Logout not confirmed, replacing the browser.", zap.String("session_id", st.s.ID()))
		st.release()
	}
	if st.s == nil {
		s, err := st.r.newSession(ctx)
		if err != nil {
			return fmt.Errorf("%w: could not acquire a browser session: %w", ErrAborted, err)
		}
		st.s = s
	}
	return st.r.login(ctx, st.s, cred)
}

func (st *seat) release() {
	if st.s == nil {
		return
	}
	if err := st.s.Release(); err != nil {
		st.r.logger.Warn("Session release failed.", zap.String("session_id", st.s.ID()), zap.Error(err))
	}
	st.s = nil
}

// sleep waits for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
