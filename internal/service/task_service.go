package service

import (
	"fmt"
	"strings"
	"time"

	"companion-backend/internal/model"
	"companion-backend/internal/storage"
	"companion-backend/pkg/logger"

	"github.com/google/uuid"
)

// ErrEmptyDescription rejects tasks with no usable description.
var ErrEmptyDescription = fmt.Errorf("task description cannot be empty")

// TaskService persists the user's task list. It backs both the HTTP task
// endpoints and the add_task / show_tasks tools.
type TaskService struct {
	storage storage.Storage
}

func NewTaskService(store storage.Storage) *TaskService {
	return &TaskService{storage: store}
}

func (s *TaskService) ListTasks() ([]model.Task, error) {
	return s.storage.GetTasks()
}

// AddTask appends a new incomplete task. A blank description is rejected
// before anything touches storage.
func (s *TaskService) AddTask(description string, reminder *time.Time) (model.Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return model.Task{}, ErrEmptyDescription
	}

	tasks, err := s.storage.GetTasks()
	if err != nil {
		return model.Task{}, fmt.Errorf("load tasks: %w", err)
	}

	task := model.Task{
		ID:          uuid.New().String(),
		Description: description,
		Reminder:    reminder,
		CreatedAt:   time.Now(),
	}
	tasks = append(tasks, task)

	if err := s.storage.SaveTasks(tasks); err != nil {
		return model.Task{}, fmt.Errorf("save tasks: %w", err)
	}
	logger.Infof("Added task %s: %s", task.ID, task.Description)
	return task, nil
}

// ToggleTask flips the completion state of a task.
func (s *TaskService) ToggleTask(id string) (model.Task, error) {
	tasks, err := s.storage.GetTasks()
	if err != nil {
		return model.Task{}, fmt.Errorf("load tasks: %w", err)
	}

	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		tasks[i].Completed = !tasks[i].Completed
		if err := s.storage.SaveTasks(tasks); err != nil {
			return model.Task{}, fmt.Errorf("save tasks: %w", err)
		}
		return tasks[i], nil
	}
	return model.Task{}, storage.ErrTaskNotFound
}

// DueReminders returns tasks whose reminder time has passed and has not
// fired yet, marking them fired in the same pass.
func (s *TaskService) DueReminders(now time.Time) ([]model.Task, error) {
	tasks, err := s.storage.GetTasks()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	var due []model.Task
	dirty := false
	for i := range tasks {
		t := &tasks[i]
		if t.Completed || t.ReminderFired || t.Reminder == nil || t.Reminder.After(now) {
			continue
		}
		t.ReminderFired = true
		dirty = true
		due = append(due, *t)
	}
	if dirty {
		if err := s.storage.SaveTasks(tasks); err != nil {
			return nil, fmt.Errorf("save tasks: %w", err)
		}
	}
	return due, nil
}
