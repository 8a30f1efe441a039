package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/provider"
	"github.com/kursadbilgin/mail-courier/internal/ratelimit"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"go.uber.org/zap"
)

const defaultMaxDeliveryRetries = 5

// Orchestrator drives one delivery attempt for a batch of notifications:
// load, mark processing, deliver through the routed provider, merge the
// per-record outcomes back and persist. Re-invoking ProcessBatch with the
// same ids is safe; already sent records are skipped unless the job forces
// redelivery, and TryCount simply continues counting.
type Orchestrator struct {
	notifications repository.NotificationRepository
	attempts      repository.AttemptRepository
	router        *provider.Router
	rateLimiter   ratelimit.RateLimiter
	logger        *zap.Logger
	metrics       *observability.Metrics
	maxRetries    int
	now           func() time.Time
}

func NewOrchestrator(
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	router *provider.Router,
	rateLimiter ratelimit.RateLimiter,
	maxRetries int,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if router == nil {
		return nil, fmt.Errorf("provider router is required")
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxDeliveryRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Orchestrator{
		notifications: notifications,
		attempts:      attempts,
		router:        router,
		rateLimiter:   rateLimiter,
		logger:        logger,
		maxRetries:    maxRetries,
		now:           time.Now,
	}, nil
}

func (o *Orchestrator) SetMetrics(metrics *observability.Metrics) {
	if o == nil {
		return
	}
	o.metrics = metrics
}

// Process implements the processing contract used by the queue consumer.
func (o *Orchestrator) Process(ctx context.Context, job domain.DeliveryJob) ([]domain.DeliveryResult, error) {
	return o.ProcessBatch(ctx, job)
}

func (o *Orchestrator) ProcessBatch(ctx context.Context, job domain.DeliveryJob) ([]domain.DeliveryResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	logger := o.logger
	if strings.TrimSpace(job.CorrelationID) != "" {
		logger = logger.With(zap.String("correlationId", job.CorrelationID))
	}

	records, err := o.notifications.LoadByIDs(ctx, job.NotificationIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	if len(records) < len(job.NotificationIDs) {
		logger.Warn("some notification ids were not found",
			zap.Int("requested", len(job.NotificationIDs)),
			zap.Int("loaded", len(records)),
		)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no notifications found for job", domain.ErrEmptyBatch)
	}

	eligible := make([]*domain.Notification, 0, len(records))
	results := make([]domain.DeliveryResult, 0, len(records))
	for _, record := range records {
		if record.Status == domain.StatusSent && !job.IgnoreAlreadySent {
			results = append(results, resultFor(record))
			continue
		}
		eligible = append(eligible, record)
	}

	if len(eligible) == 0 {
		logger.Info("batch contains only sent notifications, nothing to deliver",
			zap.String("application", job.Application),
		)
		return results, nil
	}

	prov, err := o.router.Route(job.Application)
	if err != nil {
		return nil, err
	}

	for _, record := range eligible {
		record.MarkProcessing()
	}
	if err := o.notifications.SaveBatch(ctx, eligible); err != nil {
		return nil, fmt.Errorf("failed to persist processing state: %w", err)
	}

	if o.rateLimiter != nil {
		if err := o.rateLimiter.Wait(ctx, job.Application); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	// Delivery duration is observed per record inside the providers, so the
	// histogram is not touched here.
	outcomes, deliverErr := prov.Deliver(ctx, job.Application, eligible)

	var batchErr *provider.BatchError
	if deliverErr != nil && !errors.As(deliverErr, &batchErr) {
		return nil, fmt.Errorf("provider %s delivery failed: %w", prov.Name(), deliverErr)
	}
	if batchErr != nil {
		logger.Warn("provider exhausted batch retries",
			zap.String("provider", prov.Name()),
			zap.Strings("failedIds", batchErr.FailedIDs),
			zap.Int("attempts", batchErr.Attempts),
		)
	}

	byID := make(map[string]provider.Outcome, len(outcomes))
	for _, outcome := range outcomes {
		byID[outcome.NotificationID] = outcome
	}

	for _, record := range eligible {
		outcome, ok := byID[record.ID]
		if !ok {
			// A provider must answer for every record; treat silence as a
			// retryable failure rather than losing the record.
			outcome = provider.Outcome{
				NotificationID: record.ID,
				Retryable:      true,
				ErrorMessage:   fmt.Sprintf("provider %s returned no outcome", prov.Name()),
			}
		}

		o.mergeOutcome(record, outcome, prov.Name(), job.Application, logger)
		o.recordAttempt(ctx, record, outcome, prov.Name(), logger)
		results = append(results, resultFor(record))
	}

	if err := o.notifications.SaveBatch(ctx, eligible); err != nil {
		return nil, fmt.Errorf("failed to persist delivery outcomes: %w", err)
	}

	return results, nil
}

func (o *Orchestrator) mergeOutcome(
	record *domain.Notification,
	outcome provider.Outcome,
	providerName string,
	application string,
	logger *zap.Logger,
) {
	if outcome.Delivered {
		record.Status = domain.StatusSent
		record.ErrorMessage = nil
		if strings.TrimSpace(outcome.AccountUsed) != "" {
			account := outcome.AccountUsed
			record.EmailAccountUsed = &account
		}
		if o.metrics != nil {
			o.metrics.IncDeliverySent(providerName)
		}
		return
	}

	if msg := strings.TrimSpace(outcome.ErrorMessage); msg != "" {
		record.ErrorMessage = &msg
	}

	// A canceled attempt is neither a delivery nor a rejection; the record
	// stays eligible without consuming its retry budget.
	if outcome.Canceled {
		record.Status = domain.StatusRetrying
		return
	}

	if outcome.Retryable && record.TryCount < o.maxRetries {
		record.Status = domain.StatusRetrying
		if o.metrics != nil {
			o.metrics.IncRetryRescheduled(application)
		}
		return
	}

	record.Status = domain.StatusFailed
	if o.metrics != nil {
		reason := "permanent_error"
		if outcome.Retryable {
			reason = "retry_exhausted"
		}
		o.metrics.IncDeliveryFailed(providerName, reason)
	}
	logger.Info("notification failed",
		zap.String("notificationId", record.ID),
		zap.String("provider", providerName),
		zap.Bool("retryable", outcome.Retryable),
		zap.Int("tryCount", record.TryCount),
	)
}

func (o *Orchestrator) recordAttempt(
	ctx context.Context,
	record *domain.Notification,
	outcome provider.Outcome,
	providerName string,
	logger *zap.Logger,
) {
	if o.attempts == nil {
		return
	}

	var attemptErr *string
	if msg := strings.TrimSpace(outcome.ErrorMessage); msg != "" && !outcome.Delivered {
		attemptErr = &msg
	}

	var accountUsed *string
	if account := strings.TrimSpace(outcome.AccountUsed); account != "" {
		accountUsed = &account
	}

	attempt := &domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		NotificationID: record.ID,
		AttemptNumber:  record.TryCount,
		Provider:       providerName,
		AccountUsed:    accountUsed,
		DurationMillis: outcome.Elapsed.Milliseconds(),
		Error:          attemptErr,
		CreatedAt:      o.now().UTC(),
	}

	// Attempt rows are an audit trail; losing one must not fail the batch.
	if err := o.attempts.Create(ctx, attempt); err != nil {
		logger.Error("failed to record delivery attempt",
			zap.String("notificationId", record.ID),
			zap.Error(err),
		)
	}
}

func resultFor(record *domain.Notification) domain.DeliveryResult {
	return domain.DeliveryResult{
		NotificationID: record.ID,
		TrackingID:     record.TrackingID,
		Status:         record.Status,
		ErrorMessage:   record.ErrorMessage,
	}
}
