package service

import (
	"testing"
	"time"

	"companion-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddTaskValidatesDescription(t *testing.T) {
	svc := NewTaskService(storage.NewMemoryStorage())

	_, err := svc.AddTask("", nil)
	assert.ErrorIs(t, err, ErrEmptyDescription)

	_, err = svc.AddTask("   ", nil)
	assert.ErrorIs(t, err, ErrEmptyDescription)

	task, err := svc.AddTask("  water the plants  ", nil)
	require.NoError(t, err)
	assert.Equal(t, "water the plants", task.Description)
	assert.NotEmpty(t, task.ID)
	assert.False(t, task.Completed)

	tasks, err := svc.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestToggleTask(t *testing.T) {
	svc := NewTaskService(storage.NewMemoryStorage())

	task, err := svc.AddTask("call mom", nil)
	require.NoError(t, err)

	toggled, err := svc.ToggleTask(task.ID)
	require.NoError(t, err)
	assert.True(t, toggled.Completed)

	toggled, err = svc.ToggleTask(task.ID)
	require.NoError(t, err)
	assert.False(t, toggled.Completed)

	_, err = svc.ToggleTask("missing")
	assert.ErrorIs(t, err, storage.ErrTaskNotFound)
}

func TestDueRemindersFireOnce(t *testing.T) {
	svc := NewTaskService(storage.NewMemoryStorage())

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_, err := svc.AddTask("overdue", &past)
	require.NoError(t, err)
	_, err = svc.AddTask("not yet", &future)
	require.NoError(t, err)
	_, err = svc.AddTask("no reminder", nil)
	require.NoError(t, err)

	due, err := svc.DueReminders(time.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "overdue", due[0].Description)

	// Second poll returns nothing: the reminder already fired.
	due, err = svc.DueReminders(time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}
