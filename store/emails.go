package store

import (
	"context"
	"fmt"

	"esp32watch/models"

	"gorm.io/gorm"
)

// EmailStore persists the notification recipient list
type EmailStore struct {
	store *Store
}

func NewEmailStore(s *Store) *EmailStore {
	return &EmailStore{store: s}
}

func (e *EmailStore) ListEmails(ctx context.Context) ([]models.NotificationEmail, error) {
	var emails []models.NotificationEmail
	err := e.store.DB.WithContext(ctx).Order("id ASC").Find(&emails).Error
	return emails, err
}

func (e *EmailStore) CountEmails(ctx context.Context) (int64, error) {
	var count int64
	err := e.store.DB.WithContext(ctx).Model(&models.NotificationEmail{}).Count(&count).Error
	return count, err
}

// ApplyEmailPlan runs all deletes, updates and creates of the plan in one transaction
func (e *EmailStore) ApplyEmailPlan(ctx context.Context, plan models.EmailPlan) error {
	return e.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(plan.Deletes) > 0 {
			if err := tx.Where("id IN ?", plan.Deletes).Delete(&models.NotificationEmail{}).Error; err != nil {
				return fmt.Errorf("delete emails: %w", err)
			}
		}

		for _, u := range plan.Updates {
			if err := tx.Model(&models.NotificationEmail{}).Where("id = ?", u.ID).Update("email", u.Email).Error; err != nil {
				return fmt.Errorf("update email %d: %w", u.ID, err)
			}
		}

		if len(plan.Creates) > 0 {
			rows := make([]models.NotificationEmail, 0, len(plan.Creates))
			for _, addr := range plan.Creates {
				rows = append(rows, models.NotificationEmail{Email: addr})
			}
			if err := tx.Create(&rows).Error; err != nil {
				return fmt.Errorf("create emails: %w", err)
			}
		}
		return nil
	})
}
