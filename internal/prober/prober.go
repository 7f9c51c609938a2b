// Package prober classifies a service instance as ready or not by polling its
// health endpoint with bounded retries. It never mutates instance state and is
// safe to call concurrently against independent instances.
package prober

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/clock"
)

// Outcome of a full probe cycle.
type Outcome string

const (
	Pass    Outcome = "Pass"
	Fail    Outcome = "Fail"
	Timeout Outcome = "Timeout"
)

// Policy bounds one probe cycle. Interval is fixed between attempts; attempts
// are cheap and MaxAttempts is small, so there is no exponential backoff. The
// policy is injected so it can be swapped without touching the prober.
type Policy struct {
	Path              string
	ExpectStatus      int
	MaxAttempts       int
	Interval          time.Duration
	PerAttemptTimeout time.Duration
}

// Target is the instance under probe.
type Target struct {
	InstanceID string
	Host       string
	Port       int
}

// Result is ephemeral: produced here, consumed by the release controller,
// never persisted.
type Result struct {
	InstanceID string
	Outcome    Outcome
	Attempts   int
	Latency    time.Duration
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Prober struct {
	client httpDoer
	clock  clock.Clock
}

func New(client *http.Client, clk clock.Clock) *Prober {
	if client == nil {
		client = &http.Client{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Prober{client: client, clock: clk}
}

// NewWithDoer is the injection seam for tests.
func NewWithDoer(client httpDoer, clk clock.Clock) *Prober {
	return &Prober{client: client, clock: clk}
}

// Probe polls target's health endpoint. The first response with the expected
// status is a Pass and stops polling immediately. Any other response, a
// connection refusal, or a per-attempt timeout counts as a failed attempt;
// exhausting MaxAttempts yields Timeout. Connection refused is expected while
// a just-started process is not yet listening, so it is never fatal.
func (p *Prober) Probe(ctx context.Context, target Target, policy Policy) Result {
	host := target.Host
	if host == "" {
		host = "127.0.0.1"
	}
	url := fmt.Sprintf("http://%s:%d%s", host, target.Port, policy.Path)

	res := Result{InstanceID: target.InstanceID}
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		res.Attempts = attempt

		start := p.clock.Now()
		status, err := p.attempt(ctx, url, policy.PerAttemptTimeout)
		res.Latency = p.clock.Now().Sub(start)

		if err == nil && status == policy.ExpectStatus {
			res.Outcome = Pass
			log.Debug().
				Str("instance", target.InstanceID).
				Int("attempt", attempt).
				Dur("latency", res.Latency).
				Msg("health probe passed")
			return res
		}

		if err != nil {
			log.Debug().Err(err).Str("instance", target.InstanceID).Int("attempt", attempt).Msg("health probe attempt failed")
		} else {
			log.Debug().Int("status", status).Str("instance", target.InstanceID).Int("attempt", attempt).Msg("health probe unexpected status")
		}

		if ctx.Err() != nil {
			res.Outcome = Fail
			return res
		}
		if attempt < policy.MaxAttempts {
			if serr := p.clock.Sleep(ctx, policy.Interval); serr != nil {
				res.Outcome = Fail
				return res
			}
		}
	}

	res.Outcome = Timeout
	return res
}

func (p *Prober) attempt(ctx context.Context, url string, timeout time.Duration) (int, error) {
	actx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(actx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create probe request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
