// Package httpapi serves the read only HTTP side of taskrunner: health,
// Prometheus metrics and JSON snapshots of the task queue.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CZERTAINLY/taskrunner/internal/model"
)

// Runner is the part of *service.Runner served over HTTP.
type Runner interface {
	Queue() model.Queue
	Task(handle string) (model.TaskInfo, error)
}

type Server struct {
	echo   *echo.Echo
	runner Runner
	log    *slog.Logger
}

type HealthResponse struct {
	Status    string `json:"status"`
	Waiting   int    `json:"waiting"`
	Running   int    `json:"running"`
	Completed int    `json:"completed"`
}

// NewServer returns a server exposing runner. Metrics are read from gatherer,
// a nil gatherer disables the /metrics endpoint.
func NewServer(runner Runner, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.DebugContext(c.Request().Context(), "http request",
				"method", c.Request().Method,
				"uri", c.Request().RequestURI,
				"status", c.Response().Status,
				"duration", time.Since(start),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		runner: runner,
		log:    logger,
	}
	s.echo.GET("/health", s.handleHealth)
	if gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	v1 := s.echo.Group("/api/v1")
	v1.GET("/queue", s.handleQueue)
	v1.GET("/tasks/:handle", s.handleTask)
	return s, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	q := s.runner.Queue()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Waiting:   len(q.Waiting),
		Running:   len(q.Running),
		Completed: len(q.Completed),
	})
}

func (s *Server) handleQueue(c echo.Context) error {
	return c.JSON(http.StatusOK, s.runner.Queue())
}

func (s *Server) handleTask(c echo.Context) error {
	info, err := s.runner.Task(c.Param("handle"))
	if errors.Is(err, model.ErrNoTask) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, info)
}

// ServeHTTP makes the server usable with httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info("starting http server", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("http server on %s: %w", addr, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
