package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentilytics/greenlight/internal/clock"
)

// scriptedDoer answers one scripted result per attempt: a status code, or -1
// for connection refused.
type scriptedDoer struct {
	script []int
	calls  int
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	idx := d.calls
	d.calls++
	if idx >= len(d.script) {
		idx = len(d.script) - 1
	}
	if d.script[idx] < 0 {
		return nil, syscall.ECONNREFUSED
	}
	rec := httptest.NewRecorder()
	rec.WriteHeader(d.script[idx])
	return rec.Result(), nil
}

func testPolicy(maxAttempts int) Policy {
	return Policy{
		Path:              "/health",
		ExpectStatus:      200,
		MaxAttempts:       maxAttempts,
		Interval:          2 * time.Second,
		PerAttemptTimeout: time.Second,
	}
}

func TestProbePassStopsImmediately(t *testing.T) {
	doer := &scriptedDoer{script: []int{200}}
	clk := clock.NewFake(time.Now())
	p := NewWithDoer(doer, clk)

	res := p.Probe(context.Background(), Target{InstanceID: "i1", Port: 8001}, testPolicy(5))

	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, clk.Slept(), "no interval wait after a pass")
}

func TestProbePassOnThirdAttempt(t *testing.T) {
	// failure on attempts 1-2, success on 3: overall Pass after exactly 3
	// attempts, not 4
	doer := &scriptedDoer{script: []int{503, 503, 200}}
	clk := clock.NewFake(time.Now())
	p := NewWithDoer(doer, clk)

	res := p.Probe(context.Background(), Target{InstanceID: "i1", Port: 8001}, testPolicy(3))

	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, doer.calls)
	assert.Len(t, clk.Slept(), 2, "fixed interval between attempts only")
}

func TestProbeExhaustionIsTimeout(t *testing.T) {
	doer := &scriptedDoer{script: []int{500}}
	clk := clock.NewFake(time.Now())
	p := NewWithDoer(doer, clk)

	res := p.Probe(context.Background(), Target{InstanceID: "i1", Port: 8001}, testPolicy(5))

	assert.Equal(t, Timeout, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, doer.calls)
}

func TestProbeConnectionRefusedIsRetried(t *testing.T) {
	// the process is not yet listening on the first attempts; that is
	// expected, not fatal
	doer := &scriptedDoer{script: []int{-1, -1, 200}}
	clk := clock.NewFake(time.Now())
	p := NewWithDoer(doer, clk)

	res := p.Probe(context.Background(), Target{InstanceID: "i1", Port: 8001}, testPolicy(5))

	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, 3, res.Attempts)
}

func TestProbeUnexpectedStatusIsFailure(t *testing.T) {
	doer := &scriptedDoer{script: []int{301}}
	clk := clock.NewFake(time.Now())
	p := NewWithDoer(doer, clk)

	res := p.Probe(context.Background(), Target{InstanceID: "i1", Port: 8001}, testPolicy(2))

	assert.Equal(t, Timeout, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
}

func TestProbeCancelledContext(t *testing.T) {
	doer := &scriptedDoer{script: []int{500}}
	clk := clock.NewFake(time.Now())
	p := NewWithDoer(doer, clk)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Probe(ctx, Target{InstanceID: "i1", Port: 8001}, testPolicy(5))

	assert.Equal(t, Fail, res.Outcome)
	assert.Less(t, res.Attempts, 5)
}

func TestProbeAgainstRealEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, ok := strings.Cut(addr, ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p := New(srv.Client(), clock.NewFake(time.Now()))
	res := p.Probe(context.Background(), Target{InstanceID: "i1", Host: host, Port: port}, testPolicy(3))

	assert.Equal(t, Pass, res.Outcome)
	assert.Equal(t, 1, res.Attempts)
}
