package domain

import "time"

// DeliveryAttempt records a single provider attempt for a notification.
type DeliveryAttempt struct {
	ID             string
	NotificationID string
	AttemptNumber  int
	Provider       string
	AccountUsed    *string
	DurationMillis int64
	Error          *string
	CreatedAt      time.Time
}
