package tools

import (
	"context"
	"encoding/json"
	"time"

	"companion-backend/internal/model"
	"companion-backend/pkg/logger"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// TaskStore is the slice of the task service the tools need.
type TaskStore interface {
	AddTask(description string, reminder *time.Time) (model.Task, error)
	ListTasks() ([]model.Task, error)
}

// AddTaskTool creates a task from a model function call.
type AddTaskTool struct {
	tasks TaskStore
}

func NewAddTaskTool(tasks TaskStore) *AddTaskTool {
	return &AddTaskTool{tasks: tasks}
}

func (t *AddTaskTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "add_task",
		Desc: "Add a to-do item to the user's task list, optionally with a reminder time.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"description": {
				Type:     schema.String,
				Desc:     "What the task is about",
				Required: true,
			},
			"reminder": {
				Type:     schema.String,
				Desc:     "Optional reminder time in RFC3339 format",
				Required: false,
			},
		}),
	}, nil
}

func (t *AddTaskTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var params struct {
		Description string `json:"description"`
		Reminder    string `json:"reminder"`
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), &params); err != nil {
		logger.Warnf("add_task: malformed arguments: %v", err)
		return "", nil
	}

	if params.Description == "" {
		logger.Warn("add_task: missing description, skipping")
		return "", nil
	}

	var reminder *time.Time
	if params.Reminder != "" {
		if ts, err := time.Parse(time.RFC3339, params.Reminder); err == nil {
			reminder = &ts
		}
	}

	task, err := t.tasks.AddTask(params.Description, reminder)
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(map[string]interface{}{
		"success":     true,
		"description": task.Description,
	})
	return string(out), nil
}

// ShowTasksTool returns the task list to the model and renders it as a
// tasks part on the placeholder message.
type ShowTasksTool struct {
	tasks TaskStore
}

func NewShowTasksTool(tasks TaskStore) *ShowTasksTool {
	return &ShowTasksTool{tasks: tasks}
}

func (t *ShowTasksTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        "show_tasks",
		Desc:        "Show the user's current task list.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{}),
	}, nil
}

func (t *ShowTasksTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	tasks, err := t.tasks.ListTasks()
	if err != nil {
		return "", err
	}

	out, _ := json.Marshal(map[string]interface{}{
		"success": true,
		"tasks":   tasks,
	})
	return string(out), nil
}

func (t *ShowTasksTool) RenderParts(ctx context.Context) []model.MessagePart {
	tasks, err := t.tasks.ListTasks()
	if err != nil {
		logger.Warnf("show_tasks: failed to list tasks for rendering: %v", err)
		return nil
	}
	return []model.MessagePart{model.TasksPart(tasks)}
}
