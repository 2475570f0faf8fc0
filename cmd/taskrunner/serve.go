package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CZERTAINLY/taskrunner/internal/httpapi"
	"github.com/CZERTAINLY/taskrunner/internal/log"
	"github.com/CZERTAINLY/taskrunner/internal/mcp"
	"github.com/CZERTAINLY/taskrunner/internal/service"
)

var flagMetricsAddr string // value of serve --metrics-addr

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve exposes the task runner as MCP tools on stdin and stdout",
	RunE:  doServe,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextAttrs(ctx, slog.Group("taskrunner",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runner, err := service.NewRunner(config.Runner)
	if err != nil {
		return err
	}
	runner.WithMetrics(service.NewMetrics(reg))
	defer runner.Close()

	server, err := mcp.NewServer(mcp.Config{
		Version: version(),
		Logger:  slog.Default(),
		Metrics: mcp.NewMetrics(reg),
	}, runner)
	if err != nil {
		return err
	}

	addr := config.Service.MetricsAddr
	if flagMetricsAddr != "" {
		addr = flagMetricsAddr
	}

	g, ctx := errgroup.WithContext(ctx)
	if addr != "" {
		api, err := httpapi.NewServer(runner, reg, slog.Default())
		if err != nil {
			return err
		}
		g.Go(func() error {
			return api.Start(addr)
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return api.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		defer stop()
		err := server.Run(ctx)
		if ctx.Err() != nil {
			// interrupted
			return nil
		}
		return err
	})
	return g.Wait()
}
