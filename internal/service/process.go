package service

import (
	"context"
	"errors"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// startLocked spawns the process of a waiting task. The output is consumed
// by two goroutines, one per stream; a third one reaps the process and
// completes the task.
func (r *Runner) startLocked(t *Task) {
	dir := r.cfg.Path
	if t.cwd != "" {
		dir = t.cwd
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.cfg.Path, dir)
		}
	}
	t.cwd = dir
	t.status = model.StatusRunning
	t.startedAt = time.Now().UTC()

	cmd := exec.Command(t.command, t.args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), t.env)
	cmd.SysProcAttr = sysProcAttr()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		r.spawnFailedLocked(t, err)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		r.spawnFailedLocked(t, err)
		return
	}
	if err := cmd.Start(); err != nil {
		r.spawnFailedLocked(t, err)
		return
	}

	t.cmd = cmd
	t.pid = cmd.Process.Pid
	r.running = append(r.running, t.id)
	r.log.Info("task started", "task_id", t.id, "pid", t.pid, "command", t.command, "cwd", dir)

	timeout := t.timeout
	if timeout == 0 {
		timeout = r.cfg.Timeout
	}
	if timeout > 0 {
		t.timer = time.AfterFunc(timeout, func() { r.expire(t, timeout) })
	}

	r.wg.Go(func() {
		r.supervise(t, cmd, stdout, stderr)
	})
}

func (r *Runner) supervise(t *Task, cmd *exec.Cmd, stdout, stderr io.Reader) {
	var g errgroup.Group
	g.Go(func() error { return drain(t.stdout, stdout) })
	g.Go(func() error { return drain(t.stderr, stderr) })
	if err := g.Wait(); err != nil {
		r.log.Warn("reading process output", "task_id", t.id, "error", err)
	}

	err := cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		r.log.Warn("waiting for process", "task_id", t.id, "pid", t.pid, "error", err)
	}
	code, signal := exitStatus(cmd.ProcessState)

	r.mx.Lock()
	defer r.mx.Unlock()
	r.completeLocked(t, code, signal)
	r.admitLocked()
}

// drain copies one output stream into its buffer until the stream is closed.
func drain(dst io.Writer, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (r *Runner) spawnFailedLocked(t *Task, err error) {
	r.log.Warn("task can't be started", "task_id", t.id, "command", t.command, "error", err)
	_, _ = io.WriteString(t.stderr, err.Error()+"\n")
	r.running = append(r.running, t.id)
	r.completeLocked(t, nil, "")
}

// completeLocked finalizes a started task. It does not admit the next task,
// callers do.
func (r *Runner) completeLocked(t *Task, code *int, signal string) {
	t.stdout.FlushRemainder()
	t.stderr.FlushRemainder()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.exitCode = code
	t.signal = signal
	t.completedAt = time.Now().UTC()
	t.status = model.StatusCompleted
	t.cmd = nil
	r.running = slices.DeleteFunc(r.running, func(id string) bool { return id == t.id })
	r.completed = append(r.completed, t.id)
	close(t.done)

	outcome := outcomeSpawnError
	switch {
	case signal != "":
		outcome = outcomeSignaled
	case code != nil && *code == 0:
		outcome = outcomeSuccess
	case code != nil:
		outcome = outcomeFailure
	}
	r.metrics.taskCompleted(outcome, t.completedAt.Sub(t.startedAt))
	r.log.Info("task completed", "task_id", t.id, "pid", t.pid, "outcome", outcome, "exit_code", code, "signal", signal)
}

// cancelLocked completes a task which never left the queue.
func (r *Runner) cancelLocked(t *Task) {
	r.waiting = slices.DeleteFunc(r.waiting, func(id string) bool { return id == t.id })
	t.completedAt = time.Now().UTC()
	t.status = model.StatusCompleted
	r.completed = append(r.completed, t.id)
	close(t.done)
	r.metrics.taskCompleted(outcomeCancelled, 0)
	r.metrics.queue(len(r.waiting), len(r.running))
	r.log.Info("waiting task cancelled", "task_id", t.id)
}

// expire stops a task whose timeout elapsed, exactly like Stop does.
func (r *Runner) expire(t *Task, after time.Duration) {
	r.mx.Lock()
	if t.status != model.StatusRunning || r.closed {
		r.mx.Unlock()
		return
	}
	pid, grace, force := t.pid, r.cfg.TerminateGrace, r.cfg.TerminateForce
	r.mx.Unlock()

	ctx := context.Background()
	r.log.InfoContext(ctx, "task timed out", "task_id", t.id, "pid", pid, "timeout", after)
	if err := r.terminate(ctx, t, pid, defaultSignal, grace, force); err != nil {
		r.log.ErrorContext(ctx, "terminating timed out task", "task_id", t.id, "pid", pid, "error", err)
	}
}

// mergeEnv overlays overrides on base; an override replaces every base entry
// with the same name.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[name]; ok {
			continue
		}
		env = append(env, kv)
	}
	for _, name := range slices.Sorted(maps.Keys(overrides)) {
		env = append(env, name+"="+overrides[name])
	}
	return env
}
