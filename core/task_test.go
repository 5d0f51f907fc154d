package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPriority_Ordering(t *testing.T) {
	all := AllPriorities()
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1], all[i])
	}
	assert.Equal(t, TaskPriority(0), TaskPriorityBackground)
	assert.Equal(t, TaskPriority(4), TaskPriorityMain)
}

func TestTaskPriority_Validity(t *testing.T) {
	for _, p := range AllPriorities() {
		assert.Truef(t, p.IsValid(), "%s", p)
		assert.NoError(t, ValidatePriority(p))
	}

	for _, p := range []TaskPriority{-1, 5, 42} {
		assert.False(t, p.IsValid())
		assert.ErrorIs(t, ValidatePriority(p), ErrInvalidPriority)
	}

	assert.True(t, TaskPriorityHigh.IsAsync())
	assert.True(t, TaskPriorityBackground.IsAsync())
	assert.False(t, TaskPriorityBlocking.IsAsync())
	assert.False(t, TaskPriorityMain.IsAsync())
}

func TestTaskPriority_ParseAndText(t *testing.T) {
	for _, p := range AllPriorities() {
		got, err := ParseTaskPriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParseTaskPriority("urgent")
	assert.ErrorIs(t, err, ErrInvalidPriority)

	type doc struct {
		Priority TaskPriority `json:"priority"`
	}
	var d doc
	require.NoError(t, json.Unmarshal([]byte(`{"priority":"blocking"}`), &d))
	assert.Equal(t, TaskPriorityBlocking, d.Priority)

	b, err := json.Marshal(doc{Priority: TaskPriorityHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"priority":"high"}`, string(b))

	_, err = json.Marshal(doc{Priority: 9})
	assert.Error(t, err)
	assert.Equal(t, "TaskPriority(9)", TaskPriority(9).String())
}

// TestPriorityTask_Default verifies the wrapper defaults to Medium
// Given: A PriorityTask built without an argument and one with High
// When: Priority is read repeatedly
// Then: The same tier is reported every time
func TestPriorityTask_Default(t *testing.T) {
	def := NewPriorityTask()
	assert.Equal(t, TaskPriorityMedium, def.Priority())
	assert.Equal(t, TaskPriorityMedium, def.Priority())

	high := NewPriorityTask(TaskPriorityHigh, TaskPriorityBackground)
	assert.Equal(t, TaskPriorityHigh, high.Priority())
}

type loadChat struct {
	PriorityTask
	ran bool
}

func (l *loadChat) Run(ctx context.Context) error {
	l.ran = true
	return nil
}

func TestPriorityTask_Embedded(t *testing.T) {
	task := &loadChat{PriorityTask: NewPriorityTask(TaskPriorityHigh)}

	var pt PrioritizedTask = task
	assert.Equal(t, TaskPriorityHigh, pt.Priority())
	require.NoError(t, pt.Run(context.Background()))
	assert.True(t, task.ran)
	assert.Equal(t, TaskPriorityHigh, pt.Priority())
	assert.Contains(t, TaskName(task), "loadChat")
}

// TestPriorityTask_StableAcrossExecution verifies the tier never changes
// Given: Tasks of an async and a synchronous tier
// When: An executor has run them
// Then: Priority reports the same tier as before, and the handle agrees
func TestPriorityTask_StableAcrossExecution(t *testing.T) {
	e := newTestExecutor(t, WithWorkers(1))

	for _, p := range []TaskPriority{TaskPriorityHigh, TaskPriorityMain} {
		task := &loadChat{PriorityTask: NewPriorityTask(p)}
		before := task.Priority()

		h, err := e.Submit(context.Background(), task)
		require.NoError(t, err)
		require.NoError(t, h.Wait(context.Background()))

		assert.True(t, task.ran)
		assert.Equal(t, before, task.Priority())
		assert.Equal(t, p, task.Priority())
		assert.Equal(t, p, h.Priority())
	}
}

func TestNewTask(t *testing.T) {
	assert.Nil(t, NewTask(TaskPriorityHigh, nil))
	assert.Nil(t, NewVoidTask(TaskPriorityHigh, nil))

	boom := errors.New("boom")
	task := NewTask(TaskPriorityBlocking, func(ctx context.Context) error { return boom })
	assert.Equal(t, TaskPriorityBlocking, task.Priority())
	assert.ErrorIs(t, task.Run(context.Background()), boom)

	named := NewNamedTask(TaskPriorityMain, "refresh-inbox", func(ctx context.Context) error { return nil })
	assert.Equal(t, "refresh-inbox", TaskName(named))

	assert.Contains(t, TaskName(NewTask(TaskPriorityHigh, namedBody)), "namedBody")
	assert.Equal(t, "anonymous", TaskName(nil))
}

func namedBody(ctx context.Context) error { return nil }

func TestTaskExecutionError(t *testing.T) {
	cause := errors.New("disk full")
	err := error(&TaskExecutionError{Executor: "io", Priority: TaskPriorityHigh, Sequence: 7, Err: cause})

	assert.ErrorIs(t, err, ErrTaskExecution)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "#7")
	assert.Contains(t, err.Error(), "disk full")

	var te *TaskExecutionError
	require.ErrorAs(t, err, &te)
	assert.False(t, te.Panicked())

	p := &TaskExecutionError{Executor: "io", Panic: "nil map"}
	assert.True(t, p.Panicked())
	assert.Contains(t, p.Error(), "panicked")
}
