package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// Stop ends the task addressed by handle and returns up to tailLength
// trailing characters of its stdout followed by its stderr.
//
//   - a waiting task is removed from the queue and completed, its tail is empty
//   - a completed task is left as it is
//   - a running task gets signal (SIGTERM if empty); once terminateGrace
//     elapses it is killed and has terminateForce to exit.
//
// Stop returns only after the process has been reaped. model.ErrKillFailed
// is returned if the process survived the kill.
func (r *Runner) Stop(ctx context.Context, handle string, tailLength int, signal string) (string, error) {
	r.mx.Lock()
	t, err := r.resolveLocked(handle)
	if err != nil {
		r.mx.Unlock()
		return "", err
	}
	switch t.status {
	case model.StatusWaiting:
		r.cancelLocked(t)
		r.mx.Unlock()
		return "", nil
	case model.StatusCompleted:
		r.mx.Unlock()
		return t.tail(tailLength), nil
	}

	sig, err := parseSignal(signal)
	if err != nil {
		r.mx.Unlock()
		return "", err
	}
	pid, grace, force := t.pid, r.cfg.TerminateGrace, r.cfg.TerminateForce
	r.mx.Unlock()

	r.log.InfoContext(ctx, "stopping task", "task_id", t.id, "pid", pid, "signal", sig.String())
	if err := r.terminate(ctx, t, pid, sig, grace, force); err != nil {
		return "", err
	}
	return t.tail(tailLength), nil
}

// terminate races the exit of the process against the grace window, then
// against the force window after SIGKILL. It never holds r.mx.
func (r *Runner) terminate(ctx context.Context, t *Task, pid int, sig os.Signal, grace, force time.Duration) error {
	select {
	case <-t.done:
		return nil
	default:
	}

	if err := signalProcess(pid, sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.metrics.terminated(terminationFailed)
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}

	graceTimer := time.NewTimer(grace)
	defer graceTimer.Stop()
	select {
	case <-t.done:
		r.metrics.terminated(terminationGraceful)
		return nil
	case <-graceTimer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.log.WarnContext(ctx, "task did not exit in time: killing", "task_id", t.id, "pid", pid, "grace", grace)
	if err := killProcess(pid); err != nil {
		r.metrics.terminated(terminationFailed)
		return fmt.Errorf("killing pid %d: %w", pid, err)
	}

	forceTimer := time.NewTimer(force)
	defer forceTimer.Stop()
	select {
	case <-t.done:
		r.metrics.terminated(terminationForced)
		return nil
	case <-forceTimer.C:
		r.metrics.terminated(terminationFailed)
		return fmt.Errorf("%w: pid %d", model.ErrKillFailed, pid)
	case <-ctx.Done():
		return ctx.Err()
	}
}
