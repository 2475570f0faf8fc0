package service

import (
	"time"

	"github.com/CZERTAINLY/taskrunner/internal/model"
	"github.com/CZERTAINLY/taskrunner/internal/output"
)

// Stdout returns lines of the standard output of the task addressed by handle.
func (r *Runner) Stdout(handle string, q model.LogQuery) (model.LogPage, error) {
	return r.logs(handle, q, func(t *Task) *output.Buffer { return t.stdout })
}

// Stderr returns lines of the standard error of the task addressed by handle.
func (r *Runner) Stderr(handle string, q model.LogQuery) (model.LogPage, error) {
	return r.logs(handle, q, func(t *Task) *output.Buffer { return t.stderr })
}

func (r *Runner) logs(handle string, q model.LogQuery, stream func(*Task) *output.Buffer) (model.LogPage, error) {
	q, err := q.Normalize()
	if err != nil {
		return model.LogPage{}, err
	}

	r.mx.Lock()
	t, err := r.resolveLocked(handle)
	r.mx.Unlock()
	if err != nil {
		return model.LogPage{}, err
	}

	buf := stream(t)
	if q.RangeMode() {
		return buf.Range(q.StartLine, q.Count), nil
	}
	return buf.Page(q.PageNumber, q.Length), nil
}

// Queue returns a snapshot of waiting tasks in admission order, running tasks
// in start order and completed tasks in completion order.
func (r *Runner) Queue() model.Queue {
	r.mx.Lock()
	defer r.mx.Unlock()
	now := time.Now().UTC()
	return model.Queue{
		Waiting:   r.infosLocked(r.waiting, now),
		Running:   r.infosLocked(r.running, now),
		Completed: r.infosLocked(r.completed, now),
	}
}

// Task returns a snapshot of the task addressed by handle.
func (r *Runner) Task(handle string) (model.TaskInfo, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	t, err := r.resolveLocked(handle)
	if err != nil {
		return model.TaskInfo{}, err
	}
	return t.info(time.Now().UTC()), nil
}

func (r *Runner) infosLocked(ids []string, now time.Time) []model.TaskInfo {
	ret := make([]model.TaskInfo, 0, len(ids))
	for _, id := range ids {
		ret = append(ret, r.tasks[id].info(now))
	}
	return ret
}
