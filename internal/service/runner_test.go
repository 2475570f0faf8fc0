package service_test

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CZERTAINLY/taskrunner/internal/model"
	"github.com/CZERTAINLY/taskrunner/internal/service"
	"github.com/stretchr/testify/require"
)

func TestEnqueue(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	enq, err := r.Enqueue(ctx, shell(t, "echo hi; sleep 0.2"))
	require.NoError(t, err)
	require.Equal(t, "task-1", enq.ID)
	require.NotNil(t, enq.PID)

	q := r.Queue()
	require.Equal(t, []string{enq.ID}, ids(q.Running))
	require.Empty(t, q.Waiting)
	require.Equal(t, model.StatusRunning, q.Running[0].Status)
	require.NotNil(t, q.Running[0].StartedAt)
	require.Nil(t, q.Running[0].CompletedAt)
	require.NotNil(t, q.Running[0].DurationMs)

	info, err := r.Wait(ctx, enq.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, info.Status)
	require.NotNil(t, info.ExitCode)
	require.Equal(t, 0, *info.ExitCode)
	require.Nil(t, info.Signal)
	require.Equal(t, *enq.PID, *info.PID)
	require.GreaterOrEqual(t, *info.DurationMs, int64(200))

	q = r.Queue()
	require.Empty(t, q.Running)
	require.Equal(t, []string{enq.ID}, ids(q.Completed))

	page, err := r.Stdout(enq.ID, model.LogQuery{})
	require.NoError(t, err)
	require.Equal(t, []string{"hi"}, page.Logs)
}

func TestEnqueue_Invalid(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)

	var testCases = []struct {
		scenario string
		given    model.TaskSpec
	}{
		{"no command", model.TaskSpec{}},
		{"blank command", model.TaskSpec{Command: "  "}},
		{"negative timeout", model.TaskSpec{Command: "true", Timeout: -time.Second}},
		{"bad env", model.TaskSpec{Command: "true", Env: map[string]string{"A=B": "c"}}},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			_, err := r.Enqueue(t.Context(), tc.given)
			require.ErrorIs(t, err, model.ErrInvalidSpec)
		})
	}
	require.Empty(t, r.Queue().Completed)
}

func TestFIFO(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	var handles []string
	for i := range 3 {
		spec := shell(t, "sleep 0.05")
		spec.Name = "job" + strconv.Itoa(i)
		enq, err := r.Enqueue(ctx, spec)
		require.NoError(t, err)
		handles = append(handles, enq.ID)
	}
	q := r.Queue()
	require.Equal(t, handles[:1], ids(q.Running))
	require.Equal(t, handles[1:], ids(q.Waiting))
	for _, w := range q.Waiting {
		require.Nil(t, w.PID)
		require.Nil(t, w.StartedAt)
	}

	_, err := r.Wait(ctx, handles[2])
	require.NoError(t, err)

	q = r.Queue()
	require.Equal(t, handles, ids(q.Completed))
	for i := 1; i < len(q.Completed); i++ {
		prev, cur := q.Completed[i-1], q.Completed[i]
		require.False(t, cur.StartedAt.Before(*prev.CompletedAt), "%s started before %s completed", cur.ID, prev.ID)
	}
}

func TestMaxRunning(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 2)
	ctx := t.Context()

	var last string
	for range 6 {
		enq, err := r.Enqueue(ctx, shell(t, "sleep 0.03"))
		require.NoError(t, err)
		last = enq.ID
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = r.Wait(ctx, last)
	}()
	for {
		q := r.Queue()
		require.LessOrEqual(t, len(q.Running), 2)
		require.Equal(t, 6, len(q.Waiting)+len(q.Running)+len(q.Completed))
		select {
		case <-done:
			require.Len(t, r.Queue().Completed, 6)
			return
		case <-time.After(5 * ms):
		}
	}
}

func TestSecondTaskStartsAfterFirst(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	first, err := r.Enqueue(ctx, shell(t, "sleep 0.05"))
	require.NoError(t, err)
	second, err := r.Enqueue(ctx, shell(t, "echo second"))
	require.NoError(t, err)
	require.Nil(t, second.PID)
	require.Equal(t, []string{second.ID}, ids(r.Queue().Waiting))

	_, err = r.Wait(ctx, first.ID)
	require.NoError(t, err)
	info, err := r.Wait(ctx, second.ID)
	require.NoError(t, err)
	require.NotNil(t, info.PID)
	require.Equal(t, 0, *info.ExitCode)
}

func TestSpawnFailure(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	bad, err := r.Enqueue(ctx, model.TaskSpec{Command: "taskrunner-does-not-exist"})
	require.NoError(t, err)
	require.Nil(t, bad.PID)
	good, err := r.Enqueue(ctx, shell(t, "echo fine"))
	require.NoError(t, err)

	info, err := r.Wait(ctx, bad.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, info.Status)
	require.Nil(t, info.ExitCode)
	require.Nil(t, info.Signal)
	require.Nil(t, info.PID)
	require.NotNil(t, info.StartedAt)

	stderr, err := r.Stderr(bad.ID, model.LogQuery{})
	require.NoError(t, err)
	require.Len(t, stderr.Logs, 1)
	require.Contains(t, stderr.Logs[0], "executable file not found")

	info, err = r.Wait(ctx, good.ID)
	require.NoError(t, err)
	require.Equal(t, 0, *info.ExitCode)
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	enq, err := r.Enqueue(ctx, shell(t, "echo oops >&2; exit 3"))
	require.NoError(t, err)
	info, err := r.Wait(ctx, enq.ID)
	require.NoError(t, err)
	require.Equal(t, 3, *info.ExitCode)
	require.Nil(t, info.Signal)

	stderr, err := r.Stderr(enq.ID, model.LogQuery{})
	require.NoError(t, err)
	require.Equal(t, []string{"oops"}, stderr.Logs)
	stdout, err := r.Stdout(enq.ID, model.LogQuery{})
	require.NoError(t, err)
	require.Empty(t, stdout.Logs)
	require.False(t, stdout.Truncated)
}

func TestEnvAndCwd(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	t.Run("env", func(t *testing.T) {
		spec := shell(t, `echo "$TASKRUNNER_TEST_A:$TASKRUNNER_TEST_B"`)
		spec.Env = map[string]string{"TASKRUNNER_TEST_A": "a", "TASKRUNNER_TEST_B": "b c"}
		enq, err := r.Enqueue(ctx, spec)
		require.NoError(t, err)
		_, err = r.Wait(ctx, enq.ID)
		require.NoError(t, err)
		page, err := r.Stdout(enq.ID, model.LogQuery{})
		require.NoError(t, err)
		require.Equal(t, []string{"a:b c"}, page.Logs)
	})

	t.Run("cwd", func(t *testing.T) {
		base := r.Config().Path
		var testCases = []struct {
			scenario string
			given    string
			then     string
		}{
			{"default", "", base},
			{"relative", ".", base},
			{"absolute", base, base},
		}
		for _, tc := range testCases {
			spec := shell(t, "pwd -P")
			spec.Cwd = tc.given
			enq, err := r.Enqueue(ctx, spec)
			require.NoError(t, err, tc.scenario)
			info, err := r.Wait(ctx, enq.ID)
			require.NoError(t, err, tc.scenario)
			require.Equal(t, filepath.Clean(tc.then), info.Cwd, tc.scenario)

			page, err := r.Stdout(enq.ID, model.LogQuery{})
			require.NoError(t, err, tc.scenario)
			require.Len(t, page.Logs, 1, tc.scenario)
			want, err := filepath.EvalSymlinks(tc.then)
			require.NoError(t, err)
			require.Equal(t, want, page.Logs[0], tc.scenario)
		}
	})
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	sleep := lookPath(t, "sleep")
	r := newRunner(t, 2)
	ctx := t.Context()

	t.Run("task", func(t *testing.T) {
		enq, err := r.Enqueue(ctx, model.TaskSpec{Command: sleep, Args: []string{"10"}, Timeout: 100 * ms})
		require.NoError(t, err)
		info, err := r.Wait(ctx, enq.ID)
		require.NoError(t, err)
		require.Nil(t, info.ExitCode)
		require.Equal(t, "SIGTERM", *info.Signal)
		require.Less(t, *info.DurationMs, int64(5000))
	})

	t.Run("runner", func(t *testing.T) {
		_, err := r.UpdateConfig(ctx, model.KeyTimeout, 100)
		require.NoError(t, err)
		enq, err := r.Enqueue(ctx, model.TaskSpec{Command: sleep, Args: []string{"10"}})
		require.NoError(t, err)
		info, err := r.Wait(ctx, enq.ID)
		require.NoError(t, err)
		require.Equal(t, "SIGTERM", *info.Signal)
	})
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 4)
	ctx := t.Context()

	spec := shell(t, "echo one")
	spec.Name = "build"
	first, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)
	spec = shell(t, "echo two")
	spec.Name = "build"
	second, err := r.Enqueue(ctx, spec)
	require.NoError(t, err)
	for _, id := range []string{first.ID, second.ID} {
		_, err := r.Wait(ctx, id)
		require.NoError(t, err)
	}

	var testCases = []struct {
		scenario string
		given    string
		then     string
	}{
		{"id", second.ID, second.ID},
		{"pid", strconv.Itoa(*second.PID), second.ID},
		{"name is first match", "build", first.ID},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			info, err := r.Task(tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, info.ID)
		})
	}

	t.Run("numeric handle is a pid only", func(t *testing.T) {
		spec := shell(t, "true")
		spec.Name = "1"
		enq, err := r.Enqueue(ctx, spec)
		require.NoError(t, err)
		_, err = r.Wait(ctx, enq.ID)
		require.NoError(t, err)

		_, err = r.Task("1")
		require.ErrorIs(t, err, model.ErrNoTask)
		info, err := r.Task(strconv.Itoa(*enq.PID))
		require.NoError(t, err)
		require.Equal(t, enq.ID, info.ID)
	})

	t.Run("unknown", func(t *testing.T) {
		for _, handle := range []string{"nope", "", "999999999"} {
			_, err := r.Task(handle)
			require.ErrorIs(t, err, model.ErrNoTask)
			_, err = r.Stdout(handle, model.LogQuery{})
			require.ErrorIs(t, err, model.ErrNoTask)
			_, err = r.Stop(ctx, handle, 10, "")
			require.ErrorIs(t, err, model.ErrNoTask)
		}
	})
}

func TestWait_Context(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)

	enq, err := r.Enqueue(t.Context(), shell(t, "sleep 10"))
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(t.Context(), 50*ms)
	defer cancel()
	_, err = r.Wait(ctx, enq.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	t.Parallel()
	cfg := model.DefaultConfig().Runner
	cfg.Path = t.TempDir()
	cfg.MaxRunning = 1
	r, err := service.NewRunner(cfg)
	require.NoError(t, err)
	ctx := t.Context()

	running, err := r.Enqueue(ctx, shell(t, "sleep 10"))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, shell(t, "sleep 10"))
	require.NoError(t, err)

	start := time.Now()
	r.Close()
	require.Less(t, time.Since(start), 5*time.Second)
	r.Close()

	q := r.Queue()
	require.Empty(t, q.Waiting)
	require.Empty(t, q.Running)
	require.Empty(t, q.Completed)
	_, err = r.Task(running.ID)
	require.ErrorIs(t, err, model.ErrNoTask)

	_, err = r.Enqueue(ctx, shell(t, "true"))
	require.ErrorIs(t, err, model.ErrClosed)
}

func TestMetrics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	r := newRunner(t, 1).WithMetrics(service.NewMetrics(reg))
	ctx := t.Context()

	ok, err := r.Enqueue(ctx, shell(t, "true"))
	require.NoError(t, err)
	failed, err := r.Enqueue(ctx, shell(t, "exit 1"))
	require.NoError(t, err)
	for _, id := range []string{ok.ID, failed.ID} {
		_, err := r.Wait(ctx, id)
		require.NoError(t, err)
	}

	expected := `
# HELP taskrunner_tasks_completed_total Total number of completed tasks by outcome
# TYPE taskrunner_tasks_completed_total counter
taskrunner_tasks_completed_total{outcome="failure"} 1
taskrunner_tasks_completed_total{outcome="success"} 1
# HELP taskrunner_tasks_enqueued_total Total number of accepted tasks
# TYPE taskrunner_tasks_enqueued_total counter
taskrunner_tasks_enqueued_total 2
`
	err = testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"taskrunner_tasks_enqueued_total", "taskrunner_tasks_completed_total")
	require.NoError(t, err)
}
