package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/scheduler"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/worker"
	"github.com/gofiber/fiber/v2"
)

type PipelineService interface {
	Ingest(ctx context.Context, content, sender, site string) (*domain.Notification, error)
	Process(ctx context.Context, id string) (*domain.Notification, error)
	AssignCase(ctx context.Context, notificationID, caseID string) (*domain.Notification, error)
}

type NotificationReader interface {
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
}

type ScheduleService interface {
	Execute(ctx context.Context, scheduleID string, opts scheduler.ExecuteOptions) (*scheduler.ExecuteReport, error)
}

// Dispatcher queues manually triggered work so the request returns before
// the browser-driven pipeline finishes.
type Dispatcher interface {
	Submit(job worker.Job) error
}

type NotificationHandler struct {
	pipeline      PipelineService
	notifications NotificationReader
	schedules     ScheduleService
	dispatcher    Dispatcher
}

func NewNotificationHandler(pipeline PipelineService, notifications NotificationReader, schedules ScheduleService, dispatcher Dispatcher) (*NotificationHandler, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline service is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification reader is required")
	}
	if schedules == nil {
		return nil, fmt.Errorf("schedule service is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	return &NotificationHandler{
		pipeline:      pipeline,
		notifications: notifications,
		schedules:     schedules,
		dispatcher:    dispatcher,
	}, nil
}

func RegisterNotificationRoutes(router fiber.Router, pipeline PipelineService, notifications NotificationReader, schedules ScheduleService, dispatcher Dispatcher) error {
	h, err := NewNotificationHandler(pipeline, notifications, schedules, dispatcher)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.IngestNotification)
	v1.Get("/notifications/:id", h.GetNotification)
	v1.Post("/notifications/:id/process", h.ProcessNotification)
	v1.Post("/notifications/:id/assign-case", h.AssignCase)
	v1.Post("/schedules/:id/run", h.RunSchedule)

	return nil
}

type ingestRequest struct {
	Content string `json:"content"`
	Sender  string `json:"sender"`
	Site    string `json:"site"`
}

type assignCaseRequest struct {
	CaseID string `json:"caseId"`
}

type runScheduleRequest struct {
	DryRun bool `json:"dryRun"`
	Force  bool `json:"force"`
}

type notificationResponse struct {
	ID             string    `json:"id"`
	Sender         string    `json:"sender,omitempty"`
	Site           string    `json:"site"`
	Status         string    `json:"status"`
	CaseNumbers    []string  `json:"caseNumbers,omitempty"`
	Parties        []string  `json:"parties,omitempty"`
	DownloadTaskID *string   `json:"downloadTaskId,omitempty"`
	CaseID         *string   `json:"caseId,omitempty"`
	RetryCount     int       `json:"retryCount"`
	LastError      *string   `json:"lastError,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type runScheduleResponse struct {
	ScheduleID string     `json:"scheduleId"`
	Site       string     `json:"site,omitempty"`
	Skipped    bool       `json:"skipped"`
	DryRun     bool       `json:"dryRun"`
	Found      int        `json:"found"`
	Processed  int        `json:"processed"`
	Failed     int        `json:"failed"`
	Errors     []string   `json:"errors,omitempty"`
	NextRunAt  *time.Time `json:"nextRunAt,omitempty"`
}

func (h *NotificationHandler) IngestNotification(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	created, err := h.pipeline.Ingest(c.Context(), req.Content, req.Sender, req.Site)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toNotificationResponse(created))
}

func (h *NotificationHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	notification, err := h.notifications.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) ProcessNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if _, err := h.notifications.GetByID(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	err := h.dispatcher.Submit(worker.Job{
		Name: "process-notification " + id,
		Run: func(ctx context.Context) error {
			_, err := h.pipeline.Process(ctx, id)
			return err
		},
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":     id,
		"status": "QUEUED",
	})
}

func (h *NotificationHandler) AssignCase(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req assignCaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.CaseID) == "" {
		return toHTTPError(fmt.Errorf("%w: caseId is required", domain.ErrValidation))
	}

	notification, err := h.pipeline.AssignCase(c.Context(), id, req.CaseID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toNotificationResponse(notification))
}

func (h *NotificationHandler) RunSchedule(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))

	var req runScheduleRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	opts := scheduler.ExecuteOptions{DryRun: req.DryRun, Force: req.Force}

	// A real run drives browser logins and downloads; only the dry-run
	// report is worth blocking the request for.
	if !req.DryRun {
		err := h.dispatcher.Submit(worker.Job{
			Name: "run-schedule " + id,
			Run: func(ctx context.Context) error {
				_, err := h.schedules.Execute(ctx, id, opts)
				return err
			},
		})
		if err != nil {
			return toHTTPError(err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"scheduleId": id,
			"status":     "QUEUED",
		})
	}

	report, err := h.schedules.Execute(c.Context(), id, opts)
	if err != nil {
		return toHTTPError(err)
	}

	resp := runScheduleResponse{
		ScheduleID: report.ScheduleID,
		Site:       report.Site,
		Skipped:    report.Skipped,
		DryRun:     report.DryRun,
		Found:      report.Found,
		Processed:  report.Processed,
		Failed:     report.Failed,
		Errors:     report.Errors,
	}
	if !report.NextRunAt.IsZero() {
		next := report.NextRunAt
		resp.NextRunAt = &next
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	return notificationResponse{
		ID:             n.ID,
		Sender:         n.Sender,
		Site:           n.Site,
		Status:         n.Status.String(),
		CaseNumbers:    n.CaseNumberList(),
		Parties:        n.PartyList(),
		DownloadTaskID: n.DownloadTaskID,
		CaseID:         n.CaseID,
		RetryCount:     n.RetryCount,
		LastError:      n.LastError,
		CreatedAt:      n.CreatedAt,
		UpdatedAt:      n.UpdatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, worker.ErrQueueFull):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
