package queue

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/mail-courier/internal/domain"
)

// Wire values for the NotificationType field. These are fixed by the
// upstream submission API and do not follow the internal kind spelling.
const (
	notificationTypeMail = "Mail"
	notificationTypeMeet = "Meet"
)

// JobMessage is the broker payload referencing a batch of notifications
// to deliver for one application.
type JobMessage struct {
	NotificationIDs   []string `json:"NotificationIds"`
	Application       string   `json:"Application"`
	NotificationType  string   `json:"NotificationType"`
	CorrelationID     string   `json:"CorrelationId,omitempty"`
	IgnoreAlreadySent bool     `json:"IgnoreAlreadySent"`

	// Priority is broker-level metadata for queue ordering. It is not part
	// of the wire body, which is fixed by the upstream submission API.
	Priority domain.Priority `json:"-"`
}

func (m JobMessage) Validate() error {
	if len(m.NotificationIDs) == 0 {
		return fmt.Errorf("NotificationIds is required")
	}
	for _, id := range m.NotificationIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("NotificationIds contains a blank id")
		}
	}
	if strings.TrimSpace(m.Application) == "" {
		return fmt.Errorf("Application is required")
	}
	if _, err := m.Kind(); err != nil {
		return err
	}
	return nil
}

// Kind maps the wire NotificationType onto the domain kind.
func (m JobMessage) Kind() (domain.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(m.NotificationType)) {
	case strings.ToLower(notificationTypeMail):
		return domain.KindMail, nil
	case strings.ToLower(notificationTypeMeet):
		return domain.KindMeet, nil
	default:
		return "", fmt.Errorf("invalid NotificationType %q", m.NotificationType)
	}
}

// ToJob converts a validated message into the domain job.
func (m JobMessage) ToJob() (domain.DeliveryJob, error) {
	kind, err := m.Kind()
	if err != nil {
		return domain.DeliveryJob{}, err
	}

	return domain.DeliveryJob{
		NotificationIDs:   m.NotificationIDs,
		Application:       m.Application,
		Kind:              kind,
		CorrelationID:     m.CorrelationID,
		IgnoreAlreadySent: m.IgnoreAlreadySent,
	}, nil
}

// NewJobMessage builds the wire message for a domain job.
func NewJobMessage(job domain.DeliveryJob) JobMessage {
	notificationType := notificationTypeMail
	if job.Kind == domain.KindMeet {
		notificationType = notificationTypeMeet
	}

	return JobMessage{
		NotificationIDs:   job.NotificationIDs,
		Application:       job.Application,
		NotificationType:  notificationType,
		CorrelationID:     job.CorrelationID,
		IgnoreAlreadySent: job.IgnoreAlreadySent,
	}
}
