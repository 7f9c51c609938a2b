// Package gate admits pipeline events into deployment runs. Only a passing
// test signal on the configured deploy branch gets through, and runs are
// single-flight per host: a push arriving mid-run waits, and only the most
// recent waiting push is replayed once the run finishes.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/clock"
	"github.com/sentilytics/greenlight/internal/metrics"
	"github.com/sentilytics/greenlight/internal/release"
)

// Event is an inbound pipeline trigger.
type Event struct {
	CommitID    string `json:"commit_id"`
	Branch      string `json:"branch"`
	TestOutcome string `json:"test_outcome"` // "pass" or "fail"
}

// Admission states for one event.
const (
	StateReceived    = "Received"
	StateTesting     = "Testing"
	StateTestsPassed = "TestsPassed"
	StateTestsFailed = "TestsFailed"
	StateAdmitted    = "Admitted"
)

// Disposition of a submitted event.
type Disposition string

const (
	DispositionAdmitted       Disposition = "Admitted"
	DispositionQueued         Disposition = "Queued"
	DispositionSuperseded     Disposition = "Superseded"
	DispositionRejectedBranch Disposition = "RejectedBranch"
	DispositionRejectedTests  Disposition = "RejectedTests"
)

// Deployer runs an admitted trigger to completion.
type Deployer interface {
	Deploy(ctx context.Context, trig release.Trigger) (*release.Run, error)
}

type Gate struct {
	deployBranch string
	deployer     Deployer
	lock         RunLock
	clk          clock.Clock
	lockRetry    time.Duration

	mu      sync.Mutex
	pending *Event
	running bool
	wake    chan struct{}
}

func New(deployBranch string, deployer Deployer, lock RunLock, clk clock.Clock) *Gate {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Gate{
		deployBranch: deployBranch,
		deployer:     deployer,
		lock:         lock,
		clk:          clk,
		lockRetry:    time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// Submit walks an event through the admission state machine and reports how
// it was handled. Admission never blocks on a running deployment: the event
// lands in a latest-wins mailbox and the gate loop replays it.
func (g *Gate) Submit(ev Event) Disposition {
	log.Info().
		Str("commit", ev.CommitID).
		Str("branch", ev.Branch).
		Str("state", StateReceived).
		Msg("pipeline event received")

	// Received -> Testing: the test runner's verdict arrives with the event.
	if ev.TestOutcome != "pass" {
		log.Info().Str("commit", ev.CommitID).Str("state", StateTestsFailed).Msg("pipeline event rejected")
		metrics.PipelineEvents.WithLabelValues(string(DispositionRejectedTests)).Inc()
		return DispositionRejectedTests
	}
	if ev.Branch != g.deployBranch {
		log.Info().
			Str("commit", ev.CommitID).
			Str("branch", ev.Branch).
			Str("deployBranch", g.deployBranch).
			Msg("pipeline event ignored: branch not configured for deploy")
		metrics.PipelineEvents.WithLabelValues(string(DispositionRejectedBranch)).Inc()
		return DispositionRejectedBranch
	}

	g.mu.Lock()
	superseded := g.pending
	g.pending = &ev
	busy := g.running
	g.mu.Unlock()

	if superseded != nil {
		log.Info().
			Str("commit", superseded.CommitID).
			Str("supersededBy", ev.CommitID).
			Msg("queued push superseded by newer push")
		metrics.PipelineEvents.WithLabelValues(string(DispositionSuperseded)).Inc()
	}

	select {
	case g.wake <- struct{}{}:
	default:
	}

	disposition := DispositionAdmitted
	if busy {
		disposition = DispositionQueued
	}
	log.Info().Str("commit", ev.CommitID).Str("state", StateAdmitted).Str("disposition", string(disposition)).Msg("pipeline event admitted")
	metrics.PipelineEvents.WithLabelValues(string(disposition)).Inc()
	return disposition
}

// Start runs the gate loop until ctx is done.
func (g *Gate) Start(ctx context.Context) {
	go g.loop(ctx)
}

func (g *Gate) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.wake:
		}

		for {
			g.mu.Lock()
			ev := g.pending
			g.pending = nil
			if ev == nil {
				g.mu.Unlock()
				break
			}
			g.running = true
			g.mu.Unlock()

			g.runOne(ctx, ev)

			g.mu.Lock()
			g.running = false
			g.mu.Unlock()
		}
	}
}

func (g *Gate) runOne(ctx context.Context, ev *Event) {
	token := uuid.NewString()
	for {
		ok, err := g.lock.TryAcquire(ctx, token)
		if err != nil {
			log.Error().Err(err).Msg("run lock acquire failed")
			return
		}
		if ok {
			break
		}
		// lock held elsewhere: wait, do not drop the push
		if err := g.clk.Sleep(ctx, g.lockRetry); err != nil {
			return
		}
	}
	defer func() {
		if err := g.lock.Release(ctx, token); err != nil {
			log.Error().Err(err).Msg("run lock release failed")
		}
	}()

	if _, err := g.deployer.Deploy(ctx, release.Trigger{Commit: ev.CommitID, Branch: ev.Branch}); err != nil {
		log.Error().Err(err).Str("commit", ev.CommitID).Msg("deployment run failed")
	}
}
