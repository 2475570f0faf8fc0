package model

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// TaskSpec describes a command to be executed by the runner.
type TaskSpec struct {
	Command string
	Args    []string
	Name    string            // optional, not required to be unique
	Cwd     string            // empty means RunnerConfig.Path, relative is resolved against it
	Env     map[string]string // merged over the runner environment, overrides win
	Timeout time.Duration     // zero means RunnerConfig.Timeout
	Deps    []string          // reserved, never consulted by the scheduler
}

func (s TaskSpec) Validate() error {
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("%w: command is required", ErrInvalidSpec)
	}
	if s.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative, got %s", ErrInvalidSpec, s.Timeout)
	}
	for k := range s.Env {
		if k == "" || strings.ContainsAny(k, "=\x00") {
			return fmt.Errorf("%w: invalid environment variable name %q", ErrInvalidSpec, k)
		}
	}
	return nil
}

// Enqueued is returned by enqueue. PID is nil unless the task was admitted
// and spawned right away.
type Enqueued struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	PID  *int   `json:"pid"`
}

// TaskInfo is a point in time copy of a task record.
type TaskInfo struct {
	ID          string     `json:"id"`
	Name        string     `json:"name,omitempty"`
	Command     string     `json:"command"`
	Args        []string   `json:"args"`
	Status      Status     `json:"status"`
	PID         *int       `json:"pid"`
	Cwd         string     `json:"cwd"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`
	ExitCode    *int       `json:"exitCode"`
	Signal      *string    `json:"signal"`
	DurationMs  *int64     `json:"durationMs"`
}

type Queue struct {
	Waiting   []TaskInfo `json:"waiting"`
	Running   []TaskInfo `json:"running"`
	Completed []TaskInfo `json:"completed"`
}

const DefaultPageLength = 100

// LogQuery selects lines of one output stream. A positive StartLine selects
// range mode (absolute line numbers), otherwise page mode is used.
type LogQuery struct {
	StartLine  int
	Count      int
	PageNumber int
	Length     int
}

// Normalize fills zero values with defaults and rejects negative ones.
func (q LogQuery) Normalize() (LogQuery, error) {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"startLine", q.StartLine},
		{"count", q.Count},
		{"pagenumber", q.PageNumber},
		{"length", q.Length},
	} {
		if f.value < 0 {
			return q, fmt.Errorf("%w: %s must not be negative, got %d", ErrInvalidQuery, f.name, f.value)
		}
	}
	if q.Count == 0 {
		q.Count = DefaultPageLength
	}
	if q.Length == 0 {
		q.Length = DefaultPageLength
	}
	if q.PageNumber == 0 {
		q.PageNumber = 1
	}
	return q, nil
}

func (q LogQuery) RangeMode() bool {
	return q.StartLine > 0
}

// LogPage is a slice of buffered lines. Start and End are absolute, 1-based
// line numbers; both are zero for an empty page. Truncated reports that older
// output has been evicted (or that the requested start had to be moved).
type LogPage struct {
	Start      int      `json:"start"`
	End        int      `json:"end"`
	PageNumber int      `json:"pagenumber"`
	LastPage   bool     `json:"lastPage"`
	Logs       []string `json:"logs"`
	Truncated  bool     `json:"truncated"`
}
