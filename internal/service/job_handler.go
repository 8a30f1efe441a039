package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kursadbilgin/mail-courier/internal/domain"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/queue"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency   = 1
	defaultMaxDequeueCount = 5
)

// Processor runs one delivery attempt for a job. The in-process
// implementation is the Orchestrator; RemoteProcessor delegates to an
// out-of-process delivery API.
type Processor interface {
	Process(ctx context.Context, job domain.DeliveryJob) ([]domain.DeliveryResult, error)
}

// WorkerService consumes the kind work queues and feeds jobs into a
// Processor, applying poison-message handling: a job that keeps failing is
// redelivered by the broker until the dequeue ceiling, then every record in
// it is marked failed and the message is acknowledged to break the loop.
type WorkerService struct {
	notifications   repository.NotificationRepository
	consumer        queue.Consumer
	processor       Processor
	logger          *zap.Logger
	metrics         *observability.Metrics
	concurrency     int
	maxDequeueCount int64
}

func NewWorkerService(
	notifications repository.NotificationRepository,
	consumer queue.Consumer,
	processor Processor,
	concurrency int,
	maxDequeueCount int,
	logger *zap.Logger,
) (*WorkerService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("job processor is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if maxDequeueCount <= 0 {
		maxDequeueCount = defaultMaxDequeueCount
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		notifications:   notifications,
		consumer:        consumer,
		processor:       processor,
		logger:          logger,
		concurrency:     concurrency,
		maxDequeueCount: int64(maxDequeueCount),
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start consumes the kind queues and processes delivery jobs until context
// cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	queueNames := queue.WorkQueueNames()
	if len(queueNames) == 0 {
		return fmt.Errorf("no work queues configured")
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		queueName := queueNames[i%len(queueNames)]
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)

			err := s.consumer.Consume(groupCtx, queueName, s.HandleJob)
			if err != nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.String("queue", queueName),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped",
				zap.Int("workerId", workerID),
				zap.String("queue", queueName),
			)
			return nil
		})
	}

	return g.Wait()
}

// HandleJob adapts one queue delivery into a Processor call. Returning a
// non-nil error causes broker-level redelivery of the message.
func (s *WorkerService) HandleJob(ctx context.Context, msg queue.JobMessage, dequeueCount int64) error {
	job, err := msg.ToJob()
	if err != nil {
		// The consumer validates before dispatch; a conversion failure here
		// means a malformed payload that redelivery cannot fix.
		s.logger.Error("dropping malformed job message", zap.Error(err))
		return nil
	}

	logger := s.logger.With(
		zap.String("application", job.Application),
		zap.String("kind", job.Kind.String()),
		zap.Int("recordCount", len(job.NotificationIDs)),
		zap.Int64("dequeueCount", dequeueCount),
	)
	if strings.TrimSpace(job.CorrelationID) != "" {
		logger = logger.With(zap.String("correlationId", job.CorrelationID))
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}

	if s.metrics != nil {
		s.metrics.IncJobInFlight()
		defer s.metrics.DecJobInFlight()
	}

	results, err := s.processor.Process(ctx, job)
	if err == nil {
		logger.Info("delivery job processed", zap.Int("resultCount", len(results)))
		return nil
	}

	// The processor may have made durable progress before a communication
	// failure; redelivering would duplicate deliveries, so swallow it and
	// let the retry scanner pick up anything left in a retrying state.
	if isTransientCommunicationError(err) {
		logger.Warn("transient communication failure during processing, not redelivering",
			zap.Error(err),
		)
		return nil
	}

	if dequeueCount < s.maxDequeueCount {
		logger.Warn("delivery job failed, requeueing", zap.Error(err))
		return err
	}

	logger.Error("delivery job exceeded dequeue ceiling, failing all records",
		zap.Error(err),
	)
	if markErr := s.notifications.MarkFailed(ctx, job.NotificationIDs, err.Error()); markErr != nil {
		logger.Error("failed to mark poison job records as failed", zap.Error(markErr))
		return fmt.Errorf("failed to mark poison job records: %w", markErr)
	}
	if s.metrics != nil {
		s.metrics.IncPoisonJob()
	}
	return nil
}

// isTransientCommunicationError covers the delegation failures where the
// downstream call may already have succeeded.
func isTransientCommunicationError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var commErr *ProcessorCommError
	return errors.As(err, &commErr)
}

// ProcessorCommError marks a failure to reach or hear back from the
// downstream processing endpoint, as opposed to the endpoint rejecting the
// job.
type ProcessorCommError struct {
	Cause error
}

func (e *ProcessorCommError) Error() string {
	return fmt.Sprintf("processor communication failed: %v", e.Cause)
}

func (e *ProcessorCommError) Unwrap() error { return e.Cause }
