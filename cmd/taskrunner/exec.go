package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CZERTAINLY/taskrunner/internal/log"
	"github.com/CZERTAINLY/taskrunner/internal/model"
	"github.com/CZERTAINLY/taskrunner/internal/parallel"
	"github.com/CZERTAINLY/taskrunner/internal/service"
)

var (
	flagMaxRunning int           // value of exec --max-running
	flagTimeout    time.Duration // value of exec --timeout
)

var execCmd = &cobra.Command{
	Use:   "exec SCRIPT...",
	Short: "exec runs every argument as a shell script through the task queue and prints the output",
	Example: `  taskrunner exec --max-running 2 'make lint' 'make test' 'make build'`,
	Args: cobra.MinimumNArgs(1),
	RunE: doExec,
}

func doExec(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("taskrunner",
		slog.String("cmd", "exec"),
		slog.Int("pid", os.Getpid()),
	))

	cfg := config.Runner
	if flagMaxRunning > 0 {
		cfg.MaxRunning = flagMaxRunning
	}
	runner, err := service.NewRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	handles := make([]string, 0, len(args))
	for i, script := range args {
		enq, err := runner.Enqueue(ctx, model.TaskSpec{
			Command: "sh",
			Args:    []string{"-c", script},
			Name:    "cmd-" + strconv.Itoa(i+1),
			Timeout: flagTimeout,
		})
		if err != nil {
			return err
		}
		handles = append(handles, enq.ID)
	}

	var failed int
	for info, err := range parallel.Map(ctx, 0, slices.Values(handles), runner.Wait) {
		if err != nil {
			return err
		}
		if !succeeded(info) {
			failed++
		}
		if err := printTask(cmd.OutOrStdout(), cmd.ErrOrStderr(), runner, info); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d commands failed", failed, len(handles))
	}
	return nil
}

func succeeded(info model.TaskInfo) bool {
	return info.ExitCode != nil && *info.ExitCode == 0
}

func printTask(stdout, stderr io.Writer, runner *service.Runner, info model.TaskInfo) error {
	status := "no exit code"
	switch {
	case info.Signal != nil:
		status = "killed by " + *info.Signal
	case info.ExitCode != nil:
		status = "exit " + strconv.Itoa(*info.ExitCode)
	}
	var took time.Duration
	if info.DurationMs != nil {
		took = time.Duration(*info.DurationMs) * time.Millisecond
	}
	fmt.Fprintf(stdout, "== %s %s: %s (%s)\n", info.ID, info.Args[len(info.Args)-1], status, took)

	if err := printLines(stdout, runner.Stdout, info.ID); err != nil {
		return err
	}
	return printLines(stderr, runner.Stderr, info.ID)
}

func printLines(w io.Writer, read func(string, model.LogQuery) (model.LogPage, error), handle string) error {
	for page := 1; ; page++ {
		p, err := read(handle, model.LogQuery{PageNumber: page})
		if err != nil {
			return err
		}
		for _, line := range p.Logs {
			fmt.Fprintln(w, line)
		}
		if p.LastPage {
			return nil
		}
	}
}
