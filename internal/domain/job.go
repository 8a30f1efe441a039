package domain

import (
	"fmt"
	"strings"
)

// DeliveryJob is a batch reference dequeued for processing: which
// application's notifications to deliver and by which ids. The same job may
// be redelivered by the broker; each delivery is one processing attempt.
type DeliveryJob struct {
	NotificationIDs   []string
	Application       string
	Kind              Kind
	CorrelationID     string
	IgnoreAlreadySent bool
}

func (j DeliveryJob) Validate() error {
	if len(j.NotificationIDs) == 0 {
		return fmt.Errorf("%w: job has no notification ids", ErrEmptyBatch)
	}
	for _, id := range j.NotificationIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%w: job contains a blank notification id", ErrValidation)
		}
	}
	if strings.TrimSpace(j.Application) == "" {
		return fmt.Errorf("%w: application is required", ErrValidation)
	}
	if !j.Kind.IsValid() {
		return fmt.Errorf("%w: invalid notification kind %q", ErrValidation, j.Kind)
	}
	return nil
}

// DeliveryResult is the caller-visible outcome for one notification id.
type DeliveryResult struct {
	NotificationID string  `json:"notificationId"`
	TrackingID     string  `json:"trackingId,omitempty"`
	Status         Status  `json:"status"`
	ErrorMessage   *string `json:"errorMessage,omitempty"`
}
