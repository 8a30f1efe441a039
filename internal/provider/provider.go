package provider

import (
	"context"
	"time"

	"github.com/kursadbilgin/mail-courier/internal/domain"
)

// Provider is a delivery strategy: it turns notification records into wire
// calls and classifies the result of each one. Providers never leak raw
// transport errors; everything the orchestrator sees is an Outcome.
type Provider interface {
	// Name identifies the provider in configuration and metrics.
	Name() string
	// Deliver attempts every record once (plus the provider's own inline
	// retry policy) and returns one outcome per record, in input order.
	// The returned error, when non-nil, carries batch-level diagnostics;
	// outcomes are complete either way.
	Deliver(ctx context.Context, application string, records []*domain.Notification) ([]Outcome, error)
}

// Outcome is the per-record result of one delivery attempt.
type Outcome struct {
	NotificationID string
	Delivered      bool
	// Retryable marks a failed attempt that may still succeed on a later
	// top-level attempt. Permanent rejections leave it false.
	Retryable bool
	// Canceled marks an attempt cut short by the caller's context. It is
	// neither a delivery nor a provider rejection.
	Canceled     bool
	ErrorMessage string
	AccountUsed  string
	Elapsed      time.Duration
}

func successOutcome(id string, account string, elapsed time.Duration) Outcome {
	return Outcome{
		NotificationID: id,
		Delivered:      true,
		AccountUsed:    account,
		Elapsed:        elapsed,
	}
}

func failureOutcome(id string, err error, retryable bool, elapsed time.Duration) Outcome {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return Outcome{
		NotificationID: id,
		Retryable:      retryable,
		ErrorMessage:   msg,
		Elapsed:        elapsed,
	}
}

func canceledOutcome(id string, err error) Outcome {
	msg := "delivery canceled"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{
		NotificationID: id,
		Canceled:       true,
		Retryable:      true,
		ErrorMessage:   msg,
	}
}
