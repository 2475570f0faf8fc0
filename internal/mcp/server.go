// Package mcp exposes a task runner as a set of MCP tools served over stdio.
//
// Every runner operation maps to one tool: task_enqueue, task_stop,
// task_stdout, task_stderr, task_queue, task_status, config_get and
// config_update. Validation errors are returned as tool errors, so the
// calling model can read them and retry.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// Runner is implemented by *service.Runner.
type Runner interface {
	Enqueue(ctx context.Context, spec model.TaskSpec) (model.Enqueued, error)
	Stop(ctx context.Context, handle string, tailLength int, signal string) (string, error)
	Stdout(handle string, q model.LogQuery) (model.LogPage, error)
	Stderr(handle string, q model.LogQuery) (model.LogPage, error)
	Queue() model.Queue
	Task(handle string) (model.TaskInfo, error)
	Config() model.RunnerConfig
	UpdateConfig(ctx context.Context, key string, value any) (model.RunnerConfig, error)
}

type Config struct {
	// Name is the server implementation name (default: "taskrunner")
	Name string
	// Version is reported to clients (default: "devel")
	Version string
	// Logger defaults to slog.Default()
	Logger *slog.Logger
	// Metrics is optional
	Metrics *Metrics
}

type Server struct {
	mcp     *mcp.Server
	runner  Runner
	log     *slog.Logger
	metrics *Metrics
}

func NewServer(cfg Config, runner Runner) (*Server, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if cfg.Name == "" {
		cfg.Name = "taskrunner"
	}
	if cfg.Version == "" {
		cfg.Version = "devel"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    cfg.Name,
				Version: cfg.Version,
			},
			nil,
		),
		runner:  runner,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
	}
	s.registerTools()
	return s, nil
}

// Run serves the tools on stdin and stdout until ctx is done or the client
// disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// MCP returns the underlying server, so it can be connected to another
// transport.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}
