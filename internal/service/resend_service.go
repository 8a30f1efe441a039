package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/queue"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"go.uber.org/zap"
)

// ResendService implements the single operator-initiated backward
// transition: previously processed records go back to QUEUED and a fresh
// delivery job is published for them.
type ResendService struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	metrics       *observability.Metrics
}

func NewResendService(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*ResendService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ResendService{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
	}, nil
}

func (s *ResendService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Resend resets the given notifications and enqueues one delivery job per
// application and kind group. Records that no longer exist are reported
// back rather than silently dropped.
func (s *ResendService) Resend(ctx context.Context, ids []string) ([]domain.DeliveryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no notification ids to resend", domain.ErrEmptyBatch)
	}

	records, err := s.notifications.LoadByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications for resend: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no notifications found for resend", domain.ErrNotFound)
	}

	loaded := make(map[string]struct{}, len(records))
	for _, record := range records {
		loaded[record.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := loaded[id]; !ok {
			s.logger.Warn("resend requested for unknown notification",
				zap.String("notificationId", id),
			)
		}
	}

	resetIDs := make([]string, 0, len(records))
	for _, record := range records {
		resetIDs = append(resetIDs, record.ID)
	}
	if err := s.notifications.ResetForResend(ctx, resetIDs); err != nil {
		return nil, fmt.Errorf("failed to reset notifications for resend: %w", err)
	}

	type groupKey struct {
		application string
		kind        domain.Kind
	}
	groups := make(map[groupKey][]*domain.Notification)
	for _, record := range records {
		key := groupKey{
			application: strings.ToLower(strings.TrimSpace(record.Application)),
			kind:        record.Kind,
		}
		groups[key] = append(groups[key], record)
	}

	results := make([]domain.DeliveryResult, 0, len(records))
	for key, group := range groups {
		groupIDs := make([]string, 0, len(group))
		priority := domain.PriorityLow
		for _, record := range group {
			groupIDs = append(groupIDs, record.ID)
			if record.Priority == domain.PriorityHigh {
				priority = domain.PriorityHigh
			} else if record.Priority == domain.PriorityNormal && priority != domain.PriorityHigh {
				priority = domain.PriorityNormal
			}
		}

		msg := queue.NewJobMessage(domain.DeliveryJob{
			NotificationIDs:   groupIDs,
			Application:       key.application,
			Kind:              key.kind,
			CorrelationID:     uuid.NewString(),
			IgnoreAlreadySent: true,
		})
		msg.Priority = priority

		if err := s.publisher.Publish(ctx, queue.QueueName(key.kind), msg); err != nil {
			return nil, fmt.Errorf("failed to publish resend job for application %q: %w",
				key.application, err)
		}

		for _, record := range group {
			record.Status = domain.StatusQueued
			record.ErrorMessage = nil
			results = append(results, domain.DeliveryResult{
				NotificationID: record.ID,
				TrackingID:     record.TrackingID,
				Status:         record.Status,
			})
		}

		if s.metrics != nil {
			s.metrics.IncResendRequested()
		}
	}

	s.logger.Info("resend jobs published",
		zap.Int("recordCount", len(records)),
		zap.Int("jobCount", len(groups)),
	)

	return results, nil
}
