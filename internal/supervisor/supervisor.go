// Package supervisor owns the lifecycle of the single service process on this
// host: spawning, OS-level liveness, graceful termination, and the durable
// PidRecord that says what is currently serving.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sentilytics/greenlight/internal/clock"
)

// Instance states.
const (
	StateStarting   = "Starting"
	StateHealthy    = "Healthy"
	StateDraining   = "Draining"
	StateTerminated = "Terminated"
)

// ServiceInstance is one spawned (or recovered) service process. Only the
// Supervisor manipulates the underlying process; callers hold the handle and
// pass it back.
type ServiceInstance struct {
	ID        string
	PID       int
	Port      int
	Version   string
	StartedAt time.Time
	State     string

	proc *os.Process
}

// StartSpec describes what to launch.
type StartSpec struct {
	Executable string
	Args       []string
	WorkDir    string
	Env        []string
	Port       int
	Version    string
}

// SpawnError means the candidate process could not be started. The previous
// instance is untouched when this is returned.
type SpawnError struct {
	Port int
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn service on port %d: %v", e.Port, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

type Supervisor struct {
	records *RecordStore
	clock   clock.Clock
	// poll step while waiting out a termination grace period
	termPoll time.Duration
}

func New(records *RecordStore, clk clock.Clock) *Supervisor {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Supervisor{records: records, clock: clk, termPoll: 100 * time.Millisecond}
}

// Start launches the service bound to spec.Port and writes a PidRecord tagged
// with a fresh instance id before returning. The port is probed first so a
// still-bound port fails fast instead of leaving a crash-looping child.
func (s *Supervisor) Start(ctx context.Context, spec StartSpec) (*ServiceInstance, error) {
	if err := probePortFree(spec.Port); err != nil {
		return nil, &SpawnError{Port: spec.Port, Err: err}
	}

	// deliberately not CommandContext: the service must outlive the
	// orchestrator process, which may restart while the service keeps serving
	args := append([]string{}, spec.Args...)
	cmd := exec.Command(spec.Executable, args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("PORT=%d", spec.Port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Port: spec.Port, Err: err}
	}
	// reap the child when it exits so it never lingers as a zombie
	go func() { _ = cmd.Wait() }()

	inst := &ServiceInstance{
		ID:        uuid.NewString(),
		PID:       cmd.Process.Pid,
		Port:      spec.Port,
		Version:   spec.Version,
		StartedAt: s.clock.Now(),
		State:     StateStarting,
		proc:      cmd.Process,
	}

	if err := s.writeRecord(inst); err != nil {
		// undo the spawn; a process we cannot account for must not keep running
		_ = inst.proc.Kill()
		return nil, &SpawnError{Port: spec.Port, Err: err}
	}

	log.Info().
		Str("instance", inst.ID).
		Int("pid", inst.PID).
		Int("port", inst.Port).
		Str("version", inst.Version).
		Msg("service instance started")

	return inst, nil
}

// IsAlive checks liveness via the OS process table. Liveness is not readiness;
// a live process may still fail health probes.
func (s *Supervisor) IsAlive(inst *ServiceInstance) bool {
	if inst == nil || inst.PID <= 0 {
		return false
	}
	return pidAlive(inst.PID)
}

// MarkHealthy transitions the instance to Healthy and persists the record.
func (s *Supervisor) MarkHealthy(inst *ServiceInstance) error {
	inst.State = StateHealthy
	return s.writeRecord(inst)
}

// MarkDraining flags the instance as no longer receiving new traffic. The
// record is not rewritten: the durable record tracks Healthy and Terminated
// transitions only.
func (s *Supervisor) MarkDraining(inst *ServiceInstance) {
	inst.State = StateDraining
}

// Terminate sends a graceful stop, waits up to grace, escalates to a forced
// kill, then removes the PidRecord. Terminating an already-terminated
// instance is a no-op success.
func (s *Supervisor) Terminate(ctx context.Context, inst *ServiceInstance, grace time.Duration) error {
	if inst == nil || inst.State == StateTerminated {
		return nil
	}
	if !pidAlive(inst.PID) {
		inst.State = StateTerminated
		return s.removeRecordFor(inst)
	}

	proc := inst.proc
	if proc == nil {
		var err error
		proc, err = os.FindProcess(inst.PID)
		if err != nil {
			return fmt.Errorf("failed to find process %d: %w", inst.PID, err)
		}
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil && !isProcessGone(err) {
		return fmt.Errorf("failed to signal pid %d: %w", inst.PID, err)
	}

	deadline := s.clock.Now().Add(grace)
	for pidAlive(inst.PID) && s.clock.Now().Before(deadline) {
		if err := s.clock.Sleep(ctx, s.termPoll); err != nil {
			return err
		}
	}

	if pidAlive(inst.PID) {
		log.Warn().Int("pid", inst.PID).Dur("grace", grace).Msg("grace period elapsed, killing")
		if err := proc.Signal(syscall.SIGKILL); err != nil && !isProcessGone(err) {
			return fmt.Errorf("failed to kill pid %d: %w", inst.PID, err)
		}
		for pidAlive(inst.PID) {
			if err := s.clock.Sleep(ctx, s.termPoll); err != nil {
				return err
			}
		}
	}

	inst.State = StateTerminated
	log.Info().Str("instance", inst.ID).Int("pid", inst.PID).Msg("service instance terminated")
	return s.removeRecordFor(inst)
}

// Current reads the durable PidRecord. stale reports a record whose PID is no
// longer alive; callers should clear it rather than trust it.
func (s *Supervisor) Current() (rec *PidRecord, stale bool, err error) {
	rec, err = s.records.Read()
	if err != nil || rec == nil {
		return rec, false, err
	}
	return rec, !pidAlive(rec.PID), nil
}

// Recover rebuilds an instance handle from a PidRecord after an orchestrator
// restart. The process is adopted, not respawned.
func (s *Supervisor) Recover(rec *PidRecord) *ServiceInstance {
	return &ServiceInstance{
		ID:        rec.InstanceID,
		PID:       rec.PID,
		Port:      rec.Port,
		Version:   rec.Version,
		StartedAt: rec.UpdatedAt,
		State:     rec.State,
	}
}

// ClearRecord drops the durable record, used when recovery finds it stale.
func (s *Supervisor) ClearRecord() error {
	return s.records.Remove()
}

func (s *Supervisor) writeRecord(inst *ServiceInstance) error {
	return s.records.Write(&PidRecord{
		InstanceID: inst.ID,
		PID:        inst.PID,
		Port:       inst.Port,
		Version:    inst.Version,
		State:      inst.State,
		UpdatedAt:  s.clock.Now(),
	})
}

// removeRecordFor removes the PidRecord only if it still belongs to inst, so
// retiring the old instance never erases the candidate's record after a swap.
func (s *Supervisor) removeRecordFor(inst *ServiceInstance) error {
	rec, err := s.records.Read()
	if err != nil {
		return err
	}
	if rec == nil || rec.InstanceID != inst.ID {
		return nil
	}
	return s.records.Remove()
}

func probePortFree(port int) error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("port %d already bound: %w", port, err)
	}
	return l.Close()
}

func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone) || errors.Is(err, syscall.ESRCH)
}
