package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/repository"
)

type DeliveryProcessor interface {
	ProcessBatch(ctx context.Context, job domain.DeliveryJob) ([]domain.DeliveryResult, error)
}

type Resender interface {
	Resend(ctx context.Context, ids []string) ([]domain.DeliveryResult, error)
}

type DeliveryHandler struct {
	processor     DeliveryProcessor
	resender      Resender
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
}

func NewDeliveryHandler(
	processor DeliveryProcessor,
	resender Resender,
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
) (*DeliveryHandler, error) {
	if processor == nil {
		return nil, fmt.Errorf("delivery processor is required")
	}
	if resender == nil {
		return nil, fmt.Errorf("resender is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	return &DeliveryHandler{
		processor:     processor,
		resender:      resender,
		notifications: notifications,
		attempts:      attempts,
	}, nil
}

func RegisterDeliveryRoutes(
	router fiber.Router,
	processor DeliveryProcessor,
	resender Resender,
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
) error {
	h, err := NewDeliveryHandler(processor, resender, notifications, attempts)
	if err != nil {
		return err
	}

	router.Post("/:kind/process/:application", h.ProcessBatch)

	v1 := router.Group("/v1")
	v1.Post("/notifications/resend", h.ResendNotifications)
	v1.Get("/notifications/:id", h.GetNotification)

	return nil
}

type processBatchRequest struct {
	NotificationIDs   []string `json:"NotificationIds"`
	CorrelationID     string   `json:"CorrelationId"`
	IgnoreAlreadySent bool     `json:"IgnoreAlreadySent"`
}

type resendRequest struct {
	NotificationIDs []string `json:"notificationIds"`
}

type attemptResponse struct {
	AttemptNumber  int       `json:"attemptNumber"`
	Provider       string    `json:"provider"`
	AccountUsed    *string   `json:"accountUsed,omitempty"`
	DurationMillis int64     `json:"durationMillis"`
	Error          *string   `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type notificationResponse struct {
	ID               string            `json:"id"`
	TrackingID       string            `json:"trackingId"`
	Application      string            `json:"application"`
	Kind             string            `json:"kind"`
	Priority         string            `json:"priority"`
	Subject          string            `json:"subject"`
	Status           string            `json:"status"`
	TryCount         int               `json:"tryCount"`
	ErrorMessage     *string           `json:"errorMessage,omitempty"`
	EmailAccountUsed *string           `json:"emailAccountUsed,omitempty"`
	SendOnUTC        *time.Time        `json:"sendOnUtc,omitempty"`
	CreatedAt        time.Time         `json:"createdAt,omitempty"`
	UpdatedAt        time.Time         `json:"updatedAt,omitempty"`
	Attempts         []attemptResponse `json:"attempts,omitempty"`
}

// ProcessBatch is the downstream processing endpoint consumed by the queue
// worker: POST /{kind}/process/{application}.
func (h *DeliveryHandler) ProcessBatch(c *fiber.Ctx) error {
	kind, err := domain.ParseKindFromString(c.Params("kind"))
	if err != nil {
		return toHTTPError(err)
	}

	application := strings.TrimSpace(c.Params("application"))
	if application == "" {
		return toHTTPError(fmt.Errorf("%w: application is required", domain.ErrValidation))
	}

	var req processBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job := domain.DeliveryJob{
		NotificationIDs:   req.NotificationIDs,
		Application:       application,
		Kind:              kind,
		CorrelationID:     strings.TrimSpace(req.CorrelationID),
		IgnoreAlreadySent: req.IgnoreAlreadySent,
	}
	if job.CorrelationID == "" {
		job.CorrelationID = requestCorrelationID(c)
	}

	results, err := h.processor.ProcessBatch(c.Context(), job)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(results)
}

func (h *DeliveryHandler) ResendNotifications(c *fiber.Ctx) error {
	var req resendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	results, err := h.resender.Resend(c.Context(), req.NotificationIDs)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(results)
}

func (h *DeliveryHandler) GetNotification(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return toHTTPError(fmt.Errorf("%w: notification id is required", domain.ErrValidation))
	}

	notification, err := h.notifications.GetByID(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	response := toNotificationResponse(notification)

	if h.attempts != nil {
		attempts, err := h.attempts.GetByNotificationID(c.Context(), id)
		if err != nil {
			return err
		}
		response.Attempts = toAttemptResponses(attempts)
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toNotificationResponse(n *domain.Notification) notificationResponse {
	if n == nil {
		return notificationResponse{}
	}

	return notificationResponse{
		ID:               n.ID,
		TrackingID:       n.TrackingID,
		Application:      n.Application,
		Kind:             n.Kind.String(),
		Priority:         n.Priority.String(),
		Subject:          n.Subject,
		Status:           n.Status.String(),
		TryCount:         n.TryCount,
		ErrorMessage:     n.ErrorMessage,
		EmailAccountUsed: n.EmailAccountUsed,
		SendOnUTC:        n.SendOnUTC,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
	}
}

func toAttemptResponses(attempts []domain.DeliveryAttempt) []attemptResponse {
	responses := make([]attemptResponse, 0, len(attempts))
	for _, attempt := range attempts {
		responses = append(responses, attemptResponse{
			AttemptNumber:  attempt.AttemptNumber,
			Provider:       attempt.Provider,
			AccountUsed:    attempt.AccountUsed,
			DurationMillis: attempt.DurationMillis,
			Error:          attempt.Error,
			CreatedAt:      attempt.CreatedAt,
		})
	}
	return responses
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEmptyBatch):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNoProvider):
		return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
	default:
		return err
	}
}
