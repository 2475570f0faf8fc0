package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CZERTAINLY/taskrunner/internal/log"
	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// DefaultTailLength is used by task_stop when tailLength is not given.
const DefaultTailLength = 1000

type enqueueInput struct {
	Command   string            `json:"command" jsonschema:"Executable to run, looked up in PATH unless it contains a slash"`
	Args      []string          `json:"args,omitempty" jsonschema:"Command arguments, passed without a shell"`
	Name      string            `json:"name,omitempty" jsonschema:"Optional name usable as a handle"`
	Cwd       string            `json:"cwd,omitempty" jsonschema:"Working directory, relative paths are resolved against the configured path"`
	Env       map[string]string `json:"env,omitempty" jsonschema:"Environment variables overriding the inherited ones"`
	TimeoutMs int64             `json:"timeoutMs,omitempty" jsonschema:"Stop the task after this many milliseconds"`
	Deps      []string          `json:"deps,omitempty" jsonschema:"Reserved, ids of tasks this one depends on"`
}

type handleInput struct {
	Handle string `json:"handle" jsonschema:"Task id, pid or name"`
}

type stopInput struct {
	Handle     string `json:"handle" jsonschema:"Task id, pid or name"`
	TailLength *int   `json:"tailLength,omitempty" jsonschema:"Number of trailing output characters to return, default 1000"`
	Signal     string `json:"signal,omitempty" jsonschema:"Signal name or number, default SIGTERM"`
}

type stopOutput struct {
	Tail string `json:"tail"`
}

type logsInput struct {
	Handle     string `json:"handle" jsonschema:"Task id, pid or name"`
	StartLine  int    `json:"startLine,omitempty" jsonschema:"Absolute 1-based line number, selects range mode"`
	Count      int    `json:"count,omitempty" jsonschema:"Number of lines in range mode, default 100"`
	PageNumber int    `json:"pagenumber,omitempty" jsonschema:"1-based page number in page mode, default 1"`
	Length     int    `json:"length,omitempty" jsonschema:"Lines per page in page mode, default 100"`
}

func (in logsInput) query() model.LogQuery {
	return model.LogQuery{
		StartLine:  in.StartLine,
		Count:      in.Count,
		PageNumber: in.PageNumber,
		Length:     in.Length,
	}
}

type emptyInput struct{}

type configUpdateInput struct {
	Key   string `json:"key" jsonschema:"One of path, maxRunning, timeout, terminateGraceMs, terminateForceMs, lineBufferSize, charBufferSize"`
	Value any    `json:"value,omitempty" jsonschema:"New value, omit or null to clear the timeout"`
}

// configView presents model.RunnerConfig with durations in milliseconds,
// under the same keys config_update accepts.
type configView struct {
	Path             string `json:"path"`
	MaxRunning       int    `json:"maxRunning"`
	Timeout          *int64 `json:"timeout"`
	TerminateGraceMs int64  `json:"terminateGraceMs"`
	TerminateForceMs int64  `json:"terminateForceMs"`
	LineBufferSize   int    `json:"lineBufferSize"`
	CharBufferSize   int    `json:"charBufferSize"`
}

func newConfigView(c model.RunnerConfig) configView {
	v := configView{
		Path:             c.Path,
		MaxRunning:       c.MaxRunning,
		TerminateGraceMs: c.TerminateGrace.Milliseconds(),
		TerminateForceMs: c.TerminateForce.Milliseconds(),
		LineBufferSize:   c.LineBufferSize,
		CharBufferSize:   c.CharBufferSize,
	}
	if c.Timeout > 0 {
		ms := c.Timeout.Milliseconds()
		v.Timeout = &ms
	}
	return v
}

func (s *Server) registerTools() {
	addTool(s, "task_enqueue",
		"Queue a command for execution and return its id immediately. The task starts as soon as fewer than maxRunning tasks are running.",
		s.enqueue)
	addTool(s, "task_stop",
		"Stop a task: a waiting task is cancelled, a running one is signalled and killed after the grace period. Returns the trailing output.",
		s.stop)
	addTool(s, "task_stdout",
		"Read standard output lines of a task, by absolute startLine and count or by pagenumber and length",
		s.stdout)
	addTool(s, "task_stderr",
		"Read standard error lines of a task, by absolute startLine and count or by pagenumber and length",
		s.stderr)
	addTool(s, "task_queue",
		"List waiting, running and completed tasks",
		s.queue)
	addTool(s, "task_status",
		"Show the state of one task",
		s.status)
	addTool(s, "config_get",
		"Show the runner configuration",
		s.configGet)
	addTool(s, "config_update",
		"Change one runner configuration key",
		s.configUpdate)
}

// addTool registers h as the tool name. Every call is logged and measured.
func addTool[In any](s *Server, name, description string, h func(context.Context, In) (any, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		ctx = log.ContextAttrs(ctx, slog.String("tool", name))
		start := time.Now()
		out, err := h(ctx, in)
		s.metrics.record(name, time.Since(start), err)
		if err != nil {
			s.log.WarnContext(ctx, "tool call failed", "error", err)
			return nil, nil, err
		}
		s.log.DebugContext(ctx, "tool call", "took", time.Since(start))
		return nil, out, nil
	})
}

func (s *Server) enqueue(ctx context.Context, in enqueueInput) (any, error) {
	if in.TimeoutMs > model.MaxMillis {
		return nil, fmt.Errorf("%w: timeoutMs must be at most %d", model.ErrInvalidSpec, model.MaxMillis)
	}
	return s.runner.Enqueue(ctx, model.TaskSpec{
		Command: in.Command,
		Args:    in.Args,
		Name:    in.Name,
		Cwd:     in.Cwd,
		Env:     in.Env,
		Timeout: time.Duration(in.TimeoutMs) * time.Millisecond,
		Deps:    in.Deps,
	})
}

func (s *Server) stop(ctx context.Context, in stopInput) (any, error) {
	ctx = log.ContextAttrs(ctx, slog.String("handle", in.Handle))
	tailLength := DefaultTailLength
	if in.TailLength != nil {
		tailLength = *in.TailLength
	}
	tail, err := s.runner.Stop(ctx, in.Handle, tailLength, in.Signal)
	if err != nil {
		return nil, err
	}
	return stopOutput{Tail: tail}, nil
}

func (s *Server) stdout(_ context.Context, in logsInput) (any, error) {
	return s.runner.Stdout(in.Handle, in.query())
}

func (s *Server) stderr(_ context.Context, in logsInput) (any, error) {
	return s.runner.Stderr(in.Handle, in.query())
}

func (s *Server) queue(_ context.Context, _ emptyInput) (any, error) {
	return s.runner.Queue(), nil
}

func (s *Server) status(_ context.Context, in handleInput) (any, error) {
	return s.runner.Task(in.Handle)
}

func (s *Server) configGet(_ context.Context, _ emptyInput) (any, error) {
	return newConfigView(s.runner.Config()), nil
}

func (s *Server) configUpdate(ctx context.Context, in configUpdateInput) (any, error) {
	cfg, err := s.runner.UpdateConfig(ctx, in.Key, in.Value)
	if err != nil {
		return nil, err
	}
	return newConfigView(cfg), nil
}
