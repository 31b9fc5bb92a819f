package handler

import (
	"errors"
	"net/http"
	"time"

	"companion-backend/internal/model"
	"companion-backend/internal/service"
	"companion-backend/internal/storage"

	"github.com/gin-gonic/gin"
)

type TaskHandler struct {
	taskService *service.TaskService
}

func NewTaskHandler(taskService *service.TaskService) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
	}
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	tasks, err := h.taskService.ListTasks()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *TaskHandler) AddTask(c *gin.Context) {
	var req model.AddTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := h.taskService.AddTask(req.Description, req.Reminder)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrEmptyDescription) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, task)
}

func (h *TaskHandler) ToggleTask(c *gin.Context) {
	taskID := c.Param("task_id")

	task, err := h.taskService.ToggleTask(taskID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrTaskNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, task)
}

// DueReminders drains reminders whose time has passed. Clients poll this
// endpoint to surface notifications; each reminder fires once.
func (h *TaskHandler) DueReminders(c *gin.Context) {
	due, err := h.taskService.DueReminders(time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if due == nil {
		due = []model.Task{}
	}

	c.JSON(http.StatusOK, gin.H{"reminders": due})
}
