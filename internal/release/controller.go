// Package release orchestrates one blue/green deployment run at a time:
// provision a candidate, validate it, swap traffic, retire the predecessor,
// or roll back while the predecessor keeps serving.
package release

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/clock"
	"github.com/sentilytics/greenlight/internal/config"
	"github.com/sentilytics/greenlight/internal/metrics"
	"github.com/sentilytics/greenlight/internal/prober"
	"github.com/sentilytics/greenlight/internal/supervisor"
)

// Supervisor is the process-lifecycle collaborator. The controller references
// instances by handle and never touches the underlying process.
type Supervisor interface {
	Start(ctx context.Context, spec supervisor.StartSpec) (*supervisor.ServiceInstance, error)
	IsAlive(inst *supervisor.ServiceInstance) bool
	MarkHealthy(inst *supervisor.ServiceInstance) error
	MarkDraining(inst *supervisor.ServiceInstance)
	Terminate(ctx context.Context, inst *supervisor.ServiceInstance, grace time.Duration) error
	Current() (rec *supervisor.PidRecord, stale bool, err error)
	Recover(rec *supervisor.PidRecord) *supervisor.ServiceInstance
	ClearRecord() error
}

// HealthProber validates a candidate. Read-only; never mutates instance state.
type HealthProber interface {
	Probe(ctx context.Context, target prober.Target, policy prober.Policy) prober.Result
}

// RunStore is the append-only audit log of deployment runs.
type RunStore interface {
	Append(ctx context.Context, run *Run) error
	Update(ctx context.Context, run *Run) error
	List(ctx context.Context, limit int) ([]Run, error)
}

// Trigger is an admitted pipeline event.
type Trigger struct {
	Commit string
	Branch string
}

type Controller struct {
	sup      Supervisor
	prober   HealthProber
	router   TrafficRouter
	store    RunStore
	clk      clock.Clock
	manifest *config.Manifest

	mu              sync.Mutex
	serving         *supervisor.ServiceInstance
	active          *Run
	abortValidation context.CancelFunc
	abortRequested  bool
}

func NewController(sup Supervisor, hp HealthProber, router TrafficRouter, store RunStore, clk clock.Clock, manifest *config.Manifest) *Controller {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{
		sup:      sup,
		prober:   hp,
		router:   router,
		store:    store,
		clk:      clk,
		manifest: manifest,
	}
}

// RecoverServing reads the durable PidRecord on startup and adopts the
// instance it names. A stale record (dead PID) is cleared. A record left in a
// non-Healthy state is an orphan from an interrupted run: it is terminated so
// the next run starts clean. No case re-spawns a process.
func (c *Controller) RecoverServing(ctx context.Context) error {
	rec, stale, err := c.sup.Current()
	if err != nil {
		return err
	}
	if rec == nil {
		log.Info().Msg("no pid record, starting with no serving instance")
		return nil
	}
	if stale {
		log.Warn().Int("pid", rec.PID).Msg("pid record is stale, clearing")
		return c.sup.ClearRecord()
	}

	inst := c.sup.Recover(rec)
	if rec.State != supervisor.StateHealthy {
		log.Warn().
			Str("instance", inst.ID).
			Str("state", rec.State).
			Msg("recovered instance from interrupted run, terminating orphan")
		return c.sup.Terminate(ctx, inst, c.manifest.GracePeriod)
	}

	c.mu.Lock()
	c.serving = inst
	c.mu.Unlock()
	log.Info().
		Str("instance", inst.ID).
		Int("pid", inst.PID).
		Int("port", inst.Port).
		Str("version", inst.Version).
		Msg("recovered serving instance from pid record")
	return nil
}

// Deploy executes a full deployment run for an admitted trigger. Callers are
// expected to serialize; a concurrent call fails with ErrLockContention.
func (c *Controller) Deploy(ctx context.Context, trig Trigger) (*Run, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrLockContention
	}
	prev := c.serving
	run := &Run{
		ID:        uuid.NewString(),
		Commit:    trig.Commit,
		Branch:    trig.Branch,
		State:     StateProvisioning,
		StartedAt: c.clk.Now(),
	}
	if prev != nil {
		run.PreviousID = prev.ID
	}
	c.active = run
	c.abortRequested = false
	c.mu.Unlock()

	metrics.ActiveRun.Set(1)
	defer metrics.ActiveRun.Set(0)

	if err := c.store.Append(ctx, run); err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("failed to append run to audit store")
	}
	log.Info().Str("run", run.ID).Str("commit", trig.Commit).Msg("deployment run started")

	// Provisioning: candidate goes on the port the serving instance is not
	// using, so the previous instance serves traffic throughout validation.
	currentPort := 0
	if prev != nil {
		currentPort = prev.Port
	}
	cand, err := c.sup.Start(ctx, supervisor.StartSpec{
		Executable: c.manifest.Executable,
		Args:       c.manifest.Args,
		WorkDir:    c.manifest.WorkDir,
		Env:        c.manifest.Env,
		Port:       c.manifest.PortFor(currentPort),
		Version:    trig.Commit,
	})
	if err != nil {
		c.finish(ctx, run, StateFailed, OutcomeFailed, err.Error(), false)
		return run, err
	}
	c.mu.Lock()
	run.CandidateID = cand.ID
	c.mu.Unlock()

	// Validating, bounded by the overall run timeout. Exceeding it during
	// validation takes the rollback path like any failed probe.
	c.transition(ctx, run, StateValidating)
	vctx, cancel := context.WithTimeout(ctx, c.manifest.RunTimeout)
	c.mu.Lock()
	c.abortValidation = cancel
	c.mu.Unlock()

	res := c.prober.Probe(vctx, prober.Target{InstanceID: cand.ID, Port: cand.Port}, prober.Policy{
		Path:              c.manifest.Health.Path,
		ExpectStatus:      c.manifest.Health.ExpectStatus,
		MaxAttempts:       c.manifest.Health.MaxAttempts,
		Interval:          c.manifest.Health.Interval,
		PerAttemptTimeout: c.manifest.Health.PerAttemptTimeout,
	})
	cancel()
	c.mu.Lock()
	c.abortValidation = nil
	aborted := c.abortRequested
	c.mu.Unlock()
	metrics.ProbeAttempts.WithLabelValues(string(res.Outcome)).Add(float64(res.Attempts))

	if res.Outcome != prober.Pass {
		return c.rollback(ctx, run, cand, res, aborted)
	}

	if err := c.sup.MarkHealthy(cand); err != nil {
		log.Error().Err(err).Str("instance", cand.ID).Msg("failed to persist healthy state")
	}

	// Swapping: a single atomic routing update; there is no window where
	// traffic is routed nowhere.
	c.transition(ctx, run, StateSwapping)
	swapStart := time.Now()
	if err := c.router.SetActiveUpstream(ctx, cand.Port); err != nil {
		serr := &SwapError{Port: cand.Port, Err: err}
		// swap never confirmed: previous stays authoritative, candidate is
		// discarded and its record gives way to the previous instance's
		if terr := c.sup.Terminate(ctx, cand, c.manifest.GracePeriod); terr != nil {
			log.Error().Err(terr).Str("instance", cand.ID).Msg("failed to discard candidate after swap error")
		}
		if prev != nil {
			if rerr := c.sup.MarkHealthy(prev); rerr != nil {
				log.Error().Err(rerr).Str("instance", prev.ID).Msg("failed to restore pid record")
			}
		}
		c.finish(ctx, run, StateFailed, OutcomeFailed, serr.Error(), false)
		return run, serr
	}
	metrics.SwapDuration.Observe(time.Since(swapStart).Seconds())

	// Traffic continuity achieved; from here failures are reported, never
	// rolled back.
	c.mu.Lock()
	c.serving = cand
	c.mu.Unlock()

	if prev != nil {
		c.transition(ctx, run, StateRetiring)
		c.sup.MarkDraining(prev)
		if err := c.clk.Sleep(ctx, c.manifest.DrainWindow); err != nil {
			log.Warn().Err(err).Str("run", run.ID).Msg("drain window interrupted")
		}
		if err := c.sup.Terminate(ctx, prev, c.manifest.GracePeriod); err != nil {
			rerr := &RetireError{InstanceID: prev.ID, Err: err}
			c.finish(ctx, run, StateFailed, OutcomeFailed, rerr.Error()+"; "+describeServing(cand), true)
			return run, rerr
		}
	}

	c.finish(ctx, run, StateCompleted, OutcomeSuccess, "", true)
	return run, nil
}

func (c *Controller) rollback(ctx context.Context, run *Run, cand *supervisor.ServiceInstance, res prober.Result, aborted bool) (*Run, error) {
	c.transition(ctx, run, StateRollingBack)
	if err := c.sup.Terminate(ctx, cand, c.manifest.GracePeriod); err != nil {
		log.Error().Err(err).Str("instance", cand.ID).Msg("failed to terminate candidate during rollback")
	}

	if aborted {
		c.finish(ctx, run, StateRolledBack, OutcomeFailed, "aborted by operator during validation", false)
		return run, nil
	}
	perr := &ProbeTimeoutError{InstanceID: cand.ID, Attempts: res.Attempts}
	c.finish(ctx, run, StateRolledBack, OutcomeFailed, perr.Error(), false)
	return run, perr
}

// Abort requests an operator abort. It is honored only during Validating;
// at or after Swapping it is refused.
func (c *Controller) Abort() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ErrNoActiveRun
	}
	if c.active.State != StateValidating || c.abortValidation == nil {
		return ErrAbortRefused
	}
	c.abortRequested = true
	c.abortValidation()
	log.Warn().Str("run", c.active.ID).Msg("operator abort requested during validation")
	return nil
}

// CurrentRun returns a snapshot of the active run, if any.
func (c *Controller) CurrentRun() (Run, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return Run{}, false
	}
	return *c.active, true
}

// Serving returns a snapshot of the currently serving instance, if any.
func (c *Controller) Serving() (supervisor.ServiceInstance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serving == nil {
		return supervisor.ServiceInstance{}, false
	}
	return *c.serving, true
}

// Runs lists audited runs, newest first.
func (c *Controller) Runs(ctx context.Context, limit int) ([]Run, error) {
	return c.store.List(ctx, limit)
}

func (c *Controller) transition(ctx context.Context, run *Run, next State) {
	c.mu.Lock()
	run.State = next
	c.mu.Unlock()
	if err := c.store.Update(ctx, run); err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("failed to update run in audit store")
	}
	log.Info().Str("run", run.ID).Str("state", string(next)).Msg("deployment run transition")
}

func (c *Controller) finish(ctx context.Context, run *Run, final State, outcome Outcome, cause string, served bool) {
	now := c.clk.Now()
	c.mu.Lock()
	run.State = final
	run.Outcome = outcome
	run.Cause = cause
	run.Served = served
	run.FinishedAt = &now
	c.active = nil
	c.mu.Unlock()

	if err := c.store.Update(ctx, run); err != nil {
		log.Error().Err(err).Str("run", run.ID).Msg("failed to finalize run in audit store")
	}
	metrics.DeployRuns.WithLabelValues(string(outcome)).Inc()

	evt := log.Info()
	if outcome != OutcomeSuccess {
		evt = log.Error()
	}
	evt.
		Str("run", run.ID).
		Str("state", string(final)).
		Str("outcome", string(outcome)).
		Str("cause", cause).
		Bool("served", served).
		Dur("elapsed", now.Sub(run.StartedAt)).
		Msg("deployment run finished")
}

// describeServing renders the current serving state for operator-facing error
// notes on post-swap failures.
func describeServing(inst *supervisor.ServiceInstance) string {
	if inst == nil {
		return "no instance serving"
	}
	return fmt.Sprintf("instance %s (pid %d) serving on port %d", inst.ID, inst.PID, inst.Port)
}
