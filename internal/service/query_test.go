package service_test

import (
	"testing"

	"github.com/CZERTAINLY/taskrunner/internal/model"
	"github.com/stretchr/testify/require"
)

func TestLogs(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()

	enq, err := r.Enqueue(ctx, shell(t, `printf 'one\ntwo\nthree\n'; printf 'partial' >&2`))
	require.NoError(t, err)
	_, err = r.Wait(ctx, enq.ID)
	require.NoError(t, err)

	var testCases = []struct {
		scenario string
		given    model.LogQuery
		then     model.LogPage
	}{
		{
			scenario: "first page",
			given:    model.LogQuery{PageNumber: 1, Length: 10},
			then:     model.LogPage{Start: 1, End: 3, PageNumber: 1, LastPage: true, Logs: []string{"one", "two", "three"}},
		},
		{
			scenario: "defaults",
			given:    model.LogQuery{},
			then:     model.LogPage{Start: 1, End: 3, PageNumber: 1, LastPage: true, Logs: []string{"one", "two", "three"}},
		},
		{
			scenario: "short page",
			given:    model.LogQuery{PageNumber: 2, Length: 2},
			then:     model.LogPage{Start: 3, End: 3, PageNumber: 2, LastPage: true, Logs: []string{"three"}},
		},
		{
			scenario: "range",
			given:    model.LogQuery{StartLine: 2, Count: 1},
			then:     model.LogPage{Start: 2, End: 2, PageNumber: 2, LastPage: false, Logs: []string{"two"}},
		},
		{
			scenario: "range past the end",
			given:    model.LogQuery{StartLine: 10, Count: 5},
			then:     model.LogPage{PageNumber: 2, LastPage: true, Logs: []string{}},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.scenario, func(t *testing.T) {
			page, err := r.Stdout(enq.ID, tc.given)
			require.NoError(t, err)
			require.Equal(t, tc.then, page)
		})
	}

	t.Run("stderr remainder is flushed", func(t *testing.T) {
		page, err := r.Stderr(enq.ID, model.LogQuery{})
		require.NoError(t, err)
		require.Equal(t, []string{"partial"}, page.Logs)
	})

	t.Run("negative", func(t *testing.T) {
		_, err := r.Stdout(enq.ID, model.LogQuery{Count: -1})
		require.ErrorIs(t, err, model.ErrInvalidQuery)
	})
}

func TestLogs_Eviction(t *testing.T) {
	t.Parallel()
	r := newRunner(t, 1)
	ctx := t.Context()
	_, err := r.UpdateConfig(ctx, model.KeyLineBufferSize, 3)
	require.NoError(t, err)

	enq, err := r.Enqueue(ctx, shell(t, "for i in 1 2 3 4 5; do echo $i; done"))
	require.NoError(t, err)
	_, err = r.Wait(ctx, enq.ID)
	require.NoError(t, err)

	page, err := r.Stdout(enq.ID, model.LogQuery{StartLine: 1, Count: 10})
	require.NoError(t, err)
	require.Equal(t, model.LogPage{Start: 3, End: 5, PageNumber: 1, LastPage: true, Logs: []string{"3", "4", "5"}, Truncated: true}, page)

	page, err = r.Stdout(enq.ID, model.LogQuery{PageNumber: 1, Length: 2})
	require.NoError(t, err)
	require.Equal(t, model.LogPage{Start: 3, End: 4, PageNumber: 1, LastPage: false, Logs: []string{"3", "4"}, Truncated: true}, page)
}
