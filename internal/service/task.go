package service

import (
	"os/exec"
	"slices"
	"time"

	"github.com/CZERTAINLY/taskrunner/internal/model"
	"github.com/CZERTAINLY/taskrunner/internal/output"
)

// Task is one execution request and its lifecycle record. All fields but
// the buffers and done are guarded by Runner.mx.
type Task struct {
	id      string
	name    string
	command string
	args    []string
	cwd     string
	env     map[string]string
	timeout time.Duration
	deps    []string

	status      model.Status
	pid         int
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
	exitCode    *int
	signal      string

	cmd   *exec.Cmd
	timer *time.Timer

	stdout *output.Buffer
	stderr *output.Buffer
	done   chan struct{} // closed once the task is completed
}

func newTask(id string, spec model.TaskSpec, cfg model.RunnerConfig) *Task {
	return &Task{
		id:        id,
		name:      spec.Name,
		command:   spec.Command,
		args:      slices.Clone(spec.Args),
		cwd:       spec.Cwd,
		env:       spec.Env,
		timeout:   spec.Timeout,
		deps:      slices.Clone(spec.Deps),
		status:    model.StatusWaiting,
		createdAt: time.Now().UTC(),
		stdout:    output.New(cfg.LineBufferSize, cfg.CharBufferSize),
		stderr:    output.New(cfg.LineBufferSize, cfg.CharBufferSize),
		done:      make(chan struct{}),
	}
}

// tail returns the last n characters of stdout followed by stderr.
func (t *Task) tail(n int) string {
	if n <= 0 {
		return ""
	}
	return output.CombinedTail(n, t.stdout, t.stderr)
}

func (t *Task) info(now time.Time) model.TaskInfo {
	info := model.TaskInfo{
		ID:        t.id,
		Name:      t.name,
		Command:   t.command,
		Args:      slices.Clone(t.args),
		Status:    t.status,
		Cwd:       t.cwd,
		CreatedAt: t.createdAt,
	}
	if info.Args == nil {
		info.Args = []string{}
	}
	if t.pid != 0 {
		info.PID = ptr(t.pid)
	}
	if !t.startedAt.IsZero() {
		info.StartedAt = ptr(t.startedAt)
	}
	if !t.completedAt.IsZero() {
		info.CompletedAt = ptr(t.completedAt)
	}
	if t.exitCode != nil {
		info.ExitCode = ptr(*t.exitCode)
	}
	if t.signal != "" {
		info.Signal = ptr(t.signal)
	}
	switch {
	case t.startedAt.IsZero():
	case t.completedAt.IsZero():
		info.DurationMs = ptr(now.Sub(t.startedAt).Milliseconds())
	default:
		info.DurationMs = ptr(t.completedAt.Sub(t.startedAt).Milliseconds())
	}
	return info
}

func ptr[T any](v T) *T {
	return &v
}
