package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"esp32watch/models"

	"go.uber.org/zap"
)

// ErrInvalidEmail is returned when a submitted address is malformed
var ErrInvalidEmail = errors.New("invalid email format")

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail checks the address shape accepted for alert recipients
func ValidEmail(addr string) bool {
	return emailPattern.MatchString(addr)
}

// EmailRepository persists the recipient list
type EmailRepository interface {
	ListEmails(ctx context.Context) ([]models.NotificationEmail, error)
	CountEmails(ctx context.Context) (int64, error)
	ApplyEmailPlan(ctx context.Context, plan models.EmailPlan) error
}

// EmailListService manages the notification recipient list
type EmailListService struct {
	repo   EmailRepository
	logger *zap.Logger
}

func NewEmailListService(repo EmailRepository, logger *zap.Logger) *EmailListService {
	return &EmailListService{repo: repo, logger: logger}
}

func (s *EmailListService) List(ctx context.Context) ([]models.NotificationEmail, error) {
	return s.repo.ListEmails(ctx)
}

func (s *EmailListService) Count(ctx context.Context) (int64, error) {
	return s.repo.CountEmails(ctx)
}

// Save replaces the stored list with the submitted one. Validation runs before any
// write, so a rejected request leaves the list untouched.
func (s *EmailListService) Save(ctx context.Context, desired []models.EmailEntry) ([]models.NotificationEmail, error) {
	var invalid []string
	for i := range desired {
		desired[i].Email = strings.TrimSpace(desired[i].Email)
		if !ValidEmail(desired[i].Email) {
			invalid = append(invalid, desired[i].Email)
		}
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w for: %s", ErrInvalidEmail, strings.Join(invalid, ", "))
	}

	current, err := s.repo.ListEmails(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load emails: %w", err)
	}

	plan := PlanEmailChanges(current, desired)
	if !plan.Empty() {
		if err := s.repo.ApplyEmailPlan(ctx, plan); err != nil {
			return nil, fmt.Errorf("failed to save emails: %w", err)
		}
	}

	s.logger.Info("Notification emails saved",
		zap.Int("deleted", len(plan.Deletes)),
		zap.Int("updated", len(plan.Updates)),
		zap.Int("created", len(plan.Creates)))

	return s.repo.ListEmails(ctx)
}

// PlanEmailChanges diffs the stored list against the desired one. Stored ids missing
// from desired are deleted, known ids with a new address are updated and entries
// without id are created. Ids unknown to the store are ignored.
func PlanEmailChanges(current []models.NotificationEmail, desired []models.EmailEntry) models.EmailPlan {
	stored := make(map[uint]string, len(current))
	for _, e := range current {
		stored[e.ID] = e.Email
	}

	kept := make(map[uint]bool)
	var plan models.EmailPlan
	for _, d := range desired {
		if d.ID == nil || *d.ID == 0 {
			if d.Email != "" {
				plan.Creates = append(plan.Creates, d.Email)
			}
			continue
		}
		old, exists := stored[*d.ID]
		if !exists {
			continue
		}
		kept[*d.ID] = true
		if old != d.Email {
			plan.Updates = append(plan.Updates, models.NotificationEmail{ID: *d.ID, Email: d.Email})
		}
	}

	for _, e := range current {
		if !kept[e.ID] {
			plan.Deletes = append(plan.Deletes, e.ID)
		}
	}
	return plan
}
