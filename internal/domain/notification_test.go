package domain

import (
	"errors"
	"testing"
)

func TestStatusCanTransition(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "queued to processing", from: StatusQueued, to: StatusProcessing, want: true},
		{name: "retrying to processing", from: StatusRetrying, to: StatusProcessing, want: true},
		{name: "processing to sent", from: StatusProcessing, to: StatusSent, want: true},
		{name: "processing to failed", from: StatusProcessing, to: StatusFailed, want: true},
		{name: "processing to retrying", from: StatusProcessing, to: StatusRetrying, want: true},
		{name: "sent is terminal", from: StatusSent, to: StatusProcessing, want: false},
		{name: "failed is terminal", from: StatusFailed, to: StatusProcessing, want: false},
		{name: "queued cannot jump to sent", from: StatusQueued, to: StatusSent, want: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Fatalf("CanTransition(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestMarkProcessingIncrementsTryCountOnce(t *testing.T) {
	t.Parallel()

	msg := "previous failure"
	n := &Notification{Status: StatusQueued, TryCount: 2, ErrorMessage: &msg}

	n.MarkProcessing()

	if n.Status != StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING", n.Status)
	}
	if n.TryCount != 3 {
		t.Fatalf("try count = %d, want 3", n.TryCount)
	}
	if n.ErrorMessage != nil {
		t.Fatalf("error message should be cleared, got %q", *n.ErrorMessage)
	}
}

func TestResetForResend(t *testing.T) {
	t.Parallel()

	msg := "relay rejected recipient"
	n := &Notification{Status: StatusFailed, TryCount: 4, ErrorMessage: &msg}

	n.ResetForResend()

	if n.Status != StatusQueued {
		t.Fatalf("status = %s, want QUEUED", n.Status)
	}
	if n.TryCount != 4 {
		t.Fatalf("resend must not touch try count, got %d", n.TryCount)
	}
}

func TestNotificationValidate(t *testing.T) {
	t.Parallel()

	valid := Notification{
		From:     "noreply@example.com",
		To:       []string{"user@example.com"},
		Kind:     KindMail,
		Priority: PriorityNormal,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	missingRecipient := valid
	missingRecipient.To = nil
	if err := missingRecipient.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}

func TestDeliveryJobValidate(t *testing.T) {
	t.Parallel()

	job := DeliveryJob{
		NotificationIDs: []string{"n1", "n2"},
		Application:     "crm",
		Kind:            KindMail,
	}
	if err := job.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	empty := job
	empty.NotificationIDs = nil
	if err := empty.Validate(); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("Validate() error = %v, want ErrEmptyBatch", err)
	}

	badKind := job
	badKind.Kind = Kind("FAX")
	if err := badKind.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation", err)
	}
}
