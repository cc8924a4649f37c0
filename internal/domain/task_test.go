package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTask(t *testing.T) {
	t.Parallel()

	t.Run("valid range", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(3, 10)
		require.NoError(t, err)

		assert.NotEqual(t, task.ID.String(), "00000000-0000-0000-0000-000000000000")
		assert.Equal(t, int64(3), task.RangeStart)
		assert.Equal(t, int64(10), task.RangeEnd)
		assert.Equal(t, int64(3), task.Current, "counter starts at range start")
		assert.Equal(t, TaskStatusCreated, task.Status)
		assert.Equal(t, int64(1), task.Version)
		assert.False(t, task.IsTerminal())
	})

	t.Run("zero-width range is valid", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(5, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(0), task.Span())
	})

	t.Run("end before start is rejected", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(5, 2)
		assert.Nil(t, task)
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("negative bounds are allowed", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(-10, -3)
		require.NoError(t, err)
		assert.Equal(t, int64(7), task.Span())
	})
}

func TestPercentage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		start   int64
		end     int64
		current int64
		want    int
	}{
		{"at start", 0, 100, 0, 0},
		{"halfway", 0, 100, 50, 50},
		{"at end", 0, 100, 100, 100},
		{"offset range", 10, 20, 15, 50},
		{"negative range", -100, 100, 0, 50},
		{"truncates toward zero", 0, 3, 1, 33},
		{"zero-width at end", 5, 5, 5, 100},
		{"wide range", 0, 1000000, 1, 0},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Percentage(tc.start, tc.end, tc.current))
		})
	}
}

func TestTaskTransition(t *testing.T) {
	t.Parallel()

	t.Run("created to running to completed", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(0, 5)
		require.NoError(t, err)

		require.NoError(t, task.Transition(TaskStatusRunning))
		assert.Equal(t, TaskStatusRunning, task.Status)

		require.NoError(t, task.Transition(TaskStatusCompleted))
		assert.True(t, task.IsTerminal())
	})

	t.Run("terminal status is never re-transitioned", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(0, 5)
		require.NoError(t, err)
		require.NoError(t, task.Transition(TaskStatusCancelled))

		err = task.Transition(TaskStatusRunning)
		assert.ErrorIs(t, err, ErrTerminalState)
		assert.Equal(t, TaskStatusCancelled, task.Status)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		t.Parallel()

		task, err := NewTask(0, 5)
		require.NoError(t, err)
		assert.ErrorIs(t, task.Transition(TaskStatus("paused")), ErrInvalidStatus)
	})
}

func TestTaskValidate(t *testing.T) {
	t.Parallel()

	task, err := NewTask(0, 10)
	require.NoError(t, err)
	require.NoError(t, task.Validate())

	task.Current = 11
	assert.Error(t, task.Validate(), "current outside range")

	task.Current = 10
	task.Status = TaskStatus("bogus")
	assert.ErrorIs(t, task.Validate(), ErrInvalidStatus)
}
