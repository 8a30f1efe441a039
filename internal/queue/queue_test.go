package queue

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kursadbilgin/mail-courier/internal/domain"
)

func TestQueueNames(t *testing.T) {
	work := WorkQueueNames()
	if len(work) != 2 {
		t.Fatalf("WorkQueueNames len = %d, want 2", len(work))
	}

	expected := map[string]struct{}{
		"mail": {},
		"meet": {},
	}

	for _, name := range work {
		if _, ok := expected[name]; !ok {
			t.Fatalf("unexpected queue name: %s", name)
		}
	}

	dlq := DLQNames()
	if len(dlq) != 2 {
		t.Fatalf("DLQNames len = %d, want 2", len(dlq))
	}

	expectedDLQ := map[string]struct{}{
		"dlq.mail": {},
		"dlq.meet": {},
	}

	for _, name := range dlq {
		if _, ok := expectedDLQ[name]; !ok {
			t.Fatalf("unexpected dlq name: %s", name)
		}
	}
}

func TestQueueName(t *testing.T) {
	queueName := QueueName(domain.KindMail)
	if queueName != "mail" {
		t.Fatalf("QueueName = %s, want mail", queueName)
	}

	dlqName := DLQName(domain.KindMeet)
	if dlqName != "dlq.meet" {
		t.Fatalf("DLQName = %s, want dlq.meet", dlqName)
	}
}

func TestPriorityValue(t *testing.T) {
	tests := []struct {
		name     string
		priority domain.Priority
		want     uint8
	}{
		{name: "high", priority: domain.PriorityHigh, want: 3},
		{name: "normal", priority: domain.PriorityNormal, want: 2},
		{name: "low", priority: domain.PriorityLow, want: 1},
		{name: "invalid", priority: domain.Priority("invalid"), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriorityValue(tt.priority)
			if got != tt.want {
				t.Fatalf("PriorityValue(%q) = %d, want %d", tt.priority, got, tt.want)
			}
		})
	}
}

func TestJobMessageValidate(t *testing.T) {
	msg := JobMessage{
		NotificationIDs:  []string{"n1", "n2"},
		Application:      "crm",
		NotificationType: "Mail",
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}

	msg.NotificationIDs = nil
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty notification ids")
	}

	msg.NotificationIDs = []string{"n1", " "}
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for blank notification id")
	}

	msg.NotificationIDs = []string{"n1"}
	msg.Application = ""
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for empty application")
	}

	msg.Application = "crm"
	msg.NotificationType = "sms"
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for invalid notification type")
	}
}

func TestJobMessageRoundTrip(t *testing.T) {
	job := domain.DeliveryJob{
		NotificationIDs:   []string{"n1", "n2"},
		Application:       "billing",
		Kind:              domain.KindMeet,
		CorrelationID:     "corr-1",
		IgnoreAlreadySent: true,
	}

	msg := NewJobMessage(job)
	if msg.NotificationType != "Meet" {
		t.Fatalf("NotificationType = %s, want Meet", msg.NotificationType)
	}

	back, err := msg.ToJob()
	if err != nil {
		t.Fatalf("ToJob() error = %v", err)
	}
	if back.Kind != domain.KindMeet {
		t.Fatalf("Kind = %s, want %s", back.Kind, domain.KindMeet)
	}
	if back.Application != job.Application || !back.IgnoreAlreadySent {
		t.Fatalf("ToJob() = %+v, want fields preserved from %+v", back, job)
	}
}

func TestDequeueCount(t *testing.T) {
	tests := []struct {
		name     string
		delivery amqp.Delivery
		want     int64
	}{
		{
			name:     "first delivery",
			delivery: amqp.Delivery{},
			want:     1,
		},
		{
			name:     "redelivered without headers",
			delivery: amqp.Delivery{Redelivered: true},
			want:     2,
		},
		{
			name: "quorum delivery count header",
			delivery: amqp.Delivery{
				Headers: amqp.Table{"x-delivery-count": int64(4)},
			},
			want: 5,
		},
		{
			name: "death headers summed",
			delivery: amqp.Delivery{
				Headers: amqp.Table{
					"x-death": []interface{}{
						amqp.Table{"count": int64(2)},
						amqp.Table{"count": int64(1)},
					},
				},
			},
			want: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dequeueCount(tt.delivery); got != tt.want {
				t.Fatalf("dequeueCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWorkQueueArgsDeclareQuorum(t *testing.T) {
	args := workQueueArgs("mail")

	if got := args["x-queue-type"]; got != "quorum" {
		t.Fatalf("x-queue-type = %v, want quorum", got)
	}
	if got := args["x-dead-letter-exchange"]; got != dlxExchangeName {
		t.Fatalf("x-dead-letter-exchange = %v, want %s", got, dlxExchangeName)
	}
	if got := args["x-dead-letter-routing-key"]; got != "mail" {
		t.Fatalf("x-dead-letter-routing-key = %v, want mail", got)
	}

	// Quorum queues reject per-queue priority, so it must never be declared.
	if _, ok := args["x-max-priority"]; ok {
		t.Fatal("work queue args must not carry x-max-priority")
	}

	dlq := dlqArgs()
	if got := dlq["x-queue-type"]; got != "quorum" {
		t.Fatalf("dlq x-queue-type = %v, want quorum", got)
	}
}
