package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"github.com/gofiber/fiber/v2"
)

// TaskNotificationReader resolves the notification a download task belongs to.
type TaskNotificationReader interface {
	GetByDownloadTaskID(ctx context.Context, taskID string) (*domain.Notification, error)
}

type TaskHandler struct {
	tasks         repository.TaskRepository
	notifications TaskNotificationReader
}

func NewTaskHandler(tasks repository.TaskRepository, notifications TaskNotificationReader) (*TaskHandler, error) {
	if tasks == nil {
		return nil, fmt.Errorf("task repository is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	return &TaskHandler{tasks: tasks, notifications: notifications}, nil
}

func RegisterTaskRoutes(router fiber.Router, tasks repository.TaskRepository, notifications TaskNotificationReader) error {
	h, err := NewTaskHandler(tasks, notifications)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/tasks/:id/status", h.GetTaskStatus)

	return nil
}

type taskItemResponse struct {
	Name      string  `json:"name"`
	Format    string  `json:"format,omitempty"`
	LocalPath string  `json:"localPath,omitempty"`
	ByteSize  int64   `json:"byteSize"`
	Success   bool    `json:"success"`
	Error     *string `json:"error,omitempty"`
}

type taskStatusResponse struct {
	ID             string `json:"id"`
	NotificationID string `json:"notificationId"`

	// Pipeline-level progress for the owning notification.
	NotificationStatus string   `json:"notificationStatus,omitempty"`
	LastError          *string  `json:"lastError,omitempty"`
	CaseNumbers        []string `json:"caseNumbers,omitempty"`
	CaseID             *string  `json:"caseId,omitempty"`

	Strategy     string             `json:"strategy,omitempty"`
	TotalCount   int                `json:"totalCount"`
	SuccessCount int                `json:"successCount"`
	FailedCount  int                `json:"failedCount"`
	Success      bool               `json:"success"`
	Completed    bool               `json:"completed"`
	Error        *string            `json:"error,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
	CompletedAt  *time.Time         `json:"completedAt,omitempty"`
	Items        []taskItemResponse `json:"items"`
}

func (h *TaskHandler) GetTaskStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	task, err := h.tasks.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items, err := h.tasks.ListItems(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	resp := taskStatusResponse{
		ID:             task.ID,
		NotificationID: task.NotificationID,
		Strategy:       task.Strategy,
		TotalCount:     task.TotalCount,
		SuccessCount:   task.SuccessCount,
		FailedCount:    task.FailedCount,
		Success:        task.Success,
		Completed:      task.CompletedAt != nil,
		Error:          task.Error,
		CreatedAt:      task.CreatedAt,
		CompletedAt:    task.CompletedAt,
		Items:          make([]taskItemResponse, 0, len(items)),
	}
	for _, item := range items {
		resp.Items = append(resp.Items, taskItemResponse{
			Name:      item.Name,
			Format:    item.Format,
			LocalPath: item.LocalPath,
			ByteSize:  item.ByteSize,
			Success:   item.Success,
			Error:     item.Error,
		})
	}

	// A retried notification is rebound to its newest task; an older task
	// id then resolves no notification and reports task bookkeeping only.
	notification, err := h.notifications.GetByDownloadTaskID(c.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return toHTTPError(err)
	default:
		resp.NotificationStatus = notification.Status.String()
		resp.LastError = notification.LastError
		if notification.Status == domain.StatusCompleted {
			resp.CaseNumbers = notification.CaseNumberList()
			resp.CaseID = notification.CaseID
		}
	}

	return c.Status(fiber.StatusOK).JSON(resp)
}
