package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/mail-courier/internal/domain"
)

// Publisher publishes delivery job messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg JobMessage) error
	Close() error
}

// JobHandler handles a consumed delivery job. dequeueCount is how many times
// the broker has delivered this exact message, including the current delivery.
type JobHandler func(ctx context.Context, msg JobMessage, dequeueCount int64) error

// Consumer consumes delivery job messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler JobHandler) error
	Close() error
}

var supportedKinds = []domain.Kind{
	domain.KindMail,
	domain.KindMeet,
}

// QueueName returns the kind work queue name, e.g. mail.
func QueueName(kind domain.Kind) string {
	return strings.ToLower(kind.String())
}

// DLQName returns the dead-letter queue name for a kind, e.g. dlq.mail.
func DLQName(kind domain.Kind) string {
	return fmt.Sprintf("dlq.%s", QueueName(kind))
}

// WorkQueueNames returns all kind work queues (2 total).
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, QueueName(kind))
	}
	return queues
}

// DLQNames returns all dead-letter queues (2 total).
func DLQNames() []string {
	queues := make([]string, 0, len(supportedKinds))
	for _, kind := range supportedKinds {
		queues = append(queues, DLQName(kind))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
