package repository

import (
	"time"

	"github.com/kursadbilgin/mail-courier/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
type NotificationModel struct {
	ID               string              `gorm:"type:uuid;primaryKey"`
	TrackingID       string              `gorm:"type:varchar(64);not null"`
	Application      string              `gorm:"type:varchar(100);not null"`
	Kind             domain.Kind         `gorm:"type:varchar(10);not null"`
	Priority         domain.Priority     `gorm:"type:varchar(10);not null"`
	FromAddress      string              `gorm:"type:varchar(255);not null"`
	ReplyTo          string              `gorm:"type:varchar(255)"`
	ToAddresses      []string            `gorm:"type:jsonb;serializer:json;not null"`
	CcAddresses      []string            `gorm:"type:jsonb;serializer:json"`
	BccAddresses     []string            `gorm:"type:jsonb;serializer:json"`
	Subject          string              `gorm:"type:text"`
	Body             string              `gorm:"type:text"`
	BodyIsHTML       bool                `gorm:"not null;default:false"`
	Attachments      []domain.Attachment `gorm:"type:jsonb;serializer:json"`
	Status           domain.Status       `gorm:"type:varchar(20);not null"`
	TryCount         int                 `gorm:"not null;default:0"`
	ErrorMessage     *string             `gorm:"type:text"`
	EmailAccountUsed *string             `gorm:"type:varchar(255)"`
	SendOnUTC        *time.Time          `gorm:"type:timestamptz"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	NotificationID string  `gorm:"type:uuid;not null"`
	AttemptNumber  int     `gorm:"not null"`
	Provider       string  `gorm:"type:varchar(20);not null"`
	AccountUsed    *string `gorm:"type:varchar(255)"`
	DurationMillis int64   `gorm:"not null;default:0"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:               n.ID,
		TrackingID:       n.TrackingID,
		Application:      n.Application,
		Kind:             n.Kind,
		Priority:         n.Priority,
		FromAddress:      n.From,
		ReplyTo:          n.ReplyTo,
		ToAddresses:      n.To,
		CcAddresses:      n.Cc,
		BccAddresses:     n.Bcc,
		Subject:          n.Subject,
		Body:             n.Body,
		BodyIsHTML:       n.BodyIsHTML,
		Attachments:      n.Attachments,
		Status:           n.Status,
		TryCount:         n.TryCount,
		ErrorMessage:     n.ErrorMessage,
		EmailAccountUsed: n.EmailAccountUsed,
		SendOnUTC:        n.SendOnUTC,
		CreatedAt:        n.CreatedAt,
		UpdatedAt:        n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:               m.ID,
		TrackingID:       m.TrackingID,
		Application:      m.Application,
		Kind:             m.Kind,
		Priority:         m.Priority,
		From:             m.FromAddress,
		ReplyTo:          m.ReplyTo,
		To:               m.ToAddresses,
		Cc:               m.CcAddresses,
		Bcc:              m.BccAddresses,
		Subject:          m.Subject,
		Body:             m.Body,
		BodyIsHTML:       m.BodyIsHTML,
		Attachments:      m.Attachments,
		Status:           m.Status,
		TryCount:         m.TryCount,
		ErrorMessage:     m.ErrorMessage,
		EmailAccountUsed: m.EmailAccountUsed,
		SendOnUTC:        m.SendOnUTC,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		NotificationID: a.NotificationID,
		AttemptNumber:  a.AttemptNumber,
		Provider:       a.Provider,
		AccountUsed:    a.AccountUsed,
		DurationMillis: a.DurationMillis,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		NotificationID: m.NotificationID,
		AttemptNumber:  m.AttemptNumber,
		Provider:       m.Provider,
		AccountUsed:    m.AccountUsed,
		DurationMillis: m.DurationMillis,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}
