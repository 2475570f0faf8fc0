package service

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// Runner is the task registry and admission scheduler. It accepts tasks in
// FIFO order and keeps at most RunnerConfig.MaxRunning of them backed by a
// live process. All methods are safe for concurrent use.
type Runner struct {
	mx        sync.Mutex
	cfg       model.RunnerConfig
	seq       int
	tasks     map[string]*Task
	order     []string // ids in creation order
	waiting   []string // FIFO, only ids of waiting tasks
	running   []string // ids in start order
	completed []string // ids in completion order
	closed    bool

	wg      sync.WaitGroup // one supervise goroutine per started task
	metrics *Metrics
	log     *slog.Logger
}

// NewRunner validates cfg and returns an empty runner. The runner must be
// closed to reclaim processes which are still alive.
func NewRunner(cfg model.RunnerConfig) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", cfg.Path, err)
	}
	cfg.Path = abs

	return &Runner{
		cfg:   cfg,
		tasks: make(map[string]*Task),
		log:   slog.Default().With(slog.String("runner_id", uuid.NewString())),
	}, nil
}

// WithMetrics makes the runner report to m. It must be called before the
// runner is used.
func (r *Runner) WithMetrics(m *Metrics) *Runner {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.metrics = m
	r.metrics.queue(len(r.waiting), len(r.running))
	return r
}

// Enqueue registers a new task and returns immediately. The task is started
// right away when a running slot is free, otherwise it waits in the queue.
// A command which cannot be spawned does not fail Enqueue: the task completes
// with the error text on its stderr.
func (r *Runner) Enqueue(ctx context.Context, spec model.TaskSpec) (model.Enqueued, error) {
	if err := spec.Validate(); err != nil {
		return model.Enqueued{}, err
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return model.Enqueued{}, model.ErrClosed
	}

	r.seq++
	t := newTask("task-"+strconv.Itoa(r.seq), spec, r.cfg)
	r.tasks[t.id] = t
	r.order = append(r.order, t.id)
	r.waiting = append(r.waiting, t.id)
	r.metrics.taskEnqueued()
	r.log.DebugContext(ctx, "task enqueued", "task_id", t.id, "task_name", t.name, "command", t.command)

	r.admitLocked()

	ret := model.Enqueued{ID: t.id, Name: t.name}
	if t.pid != 0 {
		ret.PID = ptr(t.pid)
	}
	return ret, nil
}

// admitLocked starts waiting tasks in FIFO order while there is a free slot.
// It runs after every enqueue, completion and increase of MaxRunning.
func (r *Runner) admitLocked() {
	for !r.closed && len(r.running) < r.cfg.MaxRunning && len(r.waiting) > 0 {
		id := r.waiting[0]
		r.waiting = slices.Delete(r.waiting, 0, 1)
		t, ok := r.tasks[id]
		if !ok || t.status != model.StatusWaiting {
			continue
		}
		r.startLocked(t)
	}
	r.metrics.queue(len(r.waiting), len(r.running))
}

// resolveLocked finds a task by pid when handle is numeric, otherwise by id
// and then by name.
func (r *Runner) resolveLocked(handle string) (*Task, error) {
	if pid, err := strconv.Atoi(handle); err == nil {
		// pids may be reused, the newest task wins
		for _, id := range slices.Backward(r.order) {
			if t := r.tasks[id]; pid > 0 && t.pid == pid {
				return t, nil
			}
		}
		return nil, fmt.Errorf("%w %q", model.ErrNoTask, handle)
	}
	if t, ok := r.tasks[handle]; ok {
		return t, nil
	}
	if handle != "" {
		for _, id := range r.order {
			if t := r.tasks[id]; t.name == handle {
				return t, nil
			}
		}
	}
	return nil, fmt.Errorf("%w %q", model.ErrNoTask, handle)
}

// Wait blocks until the task addressed by handle is completed or ctx is done.
func (r *Runner) Wait(ctx context.Context, handle string) (model.TaskInfo, error) {
	r.mx.Lock()
	t, err := r.resolveLocked(handle)
	r.mx.Unlock()
	if err != nil {
		return model.TaskInfo{}, err
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return model.TaskInfo{}, ctx.Err()
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	return t.info(time.Now().UTC()), nil
}

// Close cancels waiting tasks, kills every live process and waits until they
// are reaped, then forgets all tasks. The runner can't be used afterwards.
func (r *Runner) Close() {
	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()
		return
	}
	for _, id := range slices.Clone(r.waiting) {
		if t := r.tasks[id]; t.status == model.StatusWaiting {
			r.cancelLocked(t)
		}
	}
	r.closed = true
	for _, id := range r.running {
		t := r.tasks[id]
		if t.timer != nil {
			t.timer.Stop()
		}
		if err := killProcess(t.pid); err != nil {
			r.log.Warn("killing process on close", "task_id", t.id, "pid", t.pid, "error", err)
		}
	}
	r.mx.Unlock()

	r.wg.Wait()

	r.mx.Lock()
	defer r.mx.Unlock()
	clear(r.tasks)
	r.order, r.waiting, r.running, r.completed = nil, nil, nil, nil
	r.metrics.queue(0, 0)
}
