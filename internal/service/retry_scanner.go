package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/queue"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultRetryScanInterval = 5 * time.Second
	defaultRetryScanLimit    = 100
)

// RetryScanner periodically re-enqueues notifications left in a retrying
// state by a previous attempt.
type RetryScanner struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
	interval      time.Duration
	limit         int
}

func NewRetryScanner(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	interval time.Duration,
	limit int,
	logger *zap.Logger,
) (*RetryScanner, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if interval <= 0 {
		interval = defaultRetryScanInterval
	}
	if limit <= 0 {
		limit = defaultRetryScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RetryScanner{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
		interval:      interval,
		limit:         limit,
	}, nil
}

func (s *RetryScanner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial scan so already-due retries do not wait for the first ticker edge.
	if err := s.scanDue(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry scanner initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.Error("retry scanner scan failed", zap.Error(err))
			}
		}
	}
}

func (s *RetryScanner) scanDue(ctx context.Context) error {
	due, err := s.notifications.GetDueForRetry(ctx, s.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due retries: %w", err)
	}

	for _, job := range groupIntoJobs(due) {
		msg := queue.NewJobMessage(job.job)
		msg.Priority = job.priority

		queueName := queue.QueueName(job.job.Kind)
		if err := s.publisher.Publish(ctx, queueName, msg); err != nil {
			s.logger.Error("failed to enqueue retry job",
				zap.String("application", job.job.Application),
				zap.String("queue", queueName),
				zap.Error(err),
			)
			continue
		}

		for _, id := range job.job.NotificationIDs {
			if err := s.notifications.UpdateStatus(ctx, id, domain.StatusQueued); err != nil {
				s.logger.Error("failed to mark retried notification as queued",
					zap.String("notificationId", id),
					zap.Error(err),
				)
			}
		}
	}

	return nil
}

type groupedJob struct {
	job      domain.DeliveryJob
	priority domain.Priority
}

// groupIntoJobs batches loose records into one delivery job per application
// and kind so they travel the same path as upstream submissions.
func groupIntoJobs(records []domain.Notification) []groupedJob {
	type groupKey struct {
		application string
		kind        domain.Kind
	}

	order := make([]groupKey, 0)
	groups := make(map[groupKey]*groupedJob)
	for i := range records {
		record := &records[i]
		key := groupKey{
			application: strings.ToLower(strings.TrimSpace(record.Application)),
			kind:        record.Kind,
		}

		group, ok := groups[key]
		if !ok {
			group = &groupedJob{
				job: domain.DeliveryJob{
					Application:   key.application,
					Kind:          key.kind,
					CorrelationID: uuid.NewString(),
				},
				priority: domain.PriorityLow,
			}
			groups[key] = group
			order = append(order, key)
		}

		group.job.NotificationIDs = append(group.job.NotificationIDs, record.ID)
		if record.Priority == domain.PriorityHigh {
			group.priority = domain.PriorityHigh
		} else if record.Priority == domain.PriorityNormal && group.priority != domain.PriorityHigh {
			group.priority = domain.PriorityNormal
		}
	}

	jobs := make([]groupedJob, 0, len(groups))
	for _, key := range order {
		jobs = append(jobs, *groups[key])
	}
	return jobs
}
