package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/mail-courier/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	LoadByIDs(ctx context.Context, ids []string) ([]*domain.Notification, error)
	SaveBatch(ctx context.Context, records []*domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	MarkFailed(ctx context.Context, ids []string, errorMessage string) error
	ResetForResend(ctx context.Context, ids []string) error
	GetDueForRetry(ctx context.Context, limit int) ([]domain.Notification, error)
	GetDueForSchedule(ctx context.Context, limit int) ([]domain.Notification, error)
	ClearSendOn(ctx context.Context, id string) error
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) LoadByIDs(ctx context.Context, ids []string) ([]*domain.Notification, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no notification ids to load", domain.ErrEmptyBatch)
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]*domain.Notification, 0, len(models))
	for i := range models {
		records = append(records, notificationModelToDomain(&models[i]))
	}

	return records, nil
}

func (r *GormNotificationRepo) SaveBatch(ctx context.Context, records []*domain.Notification) error {
	if len(records) == 0 {
		return fmt.Errorf("%w: no records to save", domain.ErrEmptyBatch)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, record := range records {
			model := notificationModelFromDomain(record)
			if model == nil {
				continue
			}

			result := tx.Model(&NotificationModel{}).
				Where("id = ?", model.ID).
				Updates(map[string]any{
					"status":             model.Status,
					"try_count":          model.TryCount,
					"error_message":      model.ErrorMessage,
					"email_account_used": model.EmailAccountUsed,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: notification %q", domain.ErrNotFound, model.ID)
			}
		}
		return nil
	})
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) UpdateStatus(ctx context.Context, id string, status domain.Status) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, ids []string, errorMessage string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no notification ids to fail", domain.ErrEmptyBatch)
	}

	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id IN ? AND status <> ?", ids, domain.StatusSent).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": errorMessage,
		}).Error
}

func (r *GormNotificationRepo) ResetForResend(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: no notification ids to resend", domain.ErrEmptyBatch)
	}

	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id IN ?", ids).
		Updates(map[string]any{
			"status":        domain.StatusQueued,
			"error_message": nil,
		}).Error
}

func (r *GormNotificationRepo) GetDueForRetry(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 100
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusRetrying).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return toDomainSlice(models), nil
}

func (r *GormNotificationRepo) GetDueForSchedule(ctx context.Context, limit int) ([]domain.Notification, error) {
	if limit < 1 {
		limit = 100
	}

	var models []NotificationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND send_on_utc IS NOT NULL AND send_on_utc <= ?", domain.StatusQueued, time.Now().UTC()).
		Order("send_on_utc ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return toDomainSlice(models), nil
}

func (r *GormNotificationRepo) ClearSendOn(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("send_on_utc", nil).Error
}

func toDomainSlice(models []NotificationModel) []domain.Notification {
	records := make([]domain.Notification, 0, len(models))
	for i := range models {
		records = append(records, *notificationModelToDomain(&models[i]))
	}
	return records
}
