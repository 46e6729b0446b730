package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"multillm/pkg/domain"
)

// GetPreferences returns the canonical preferences row for a user. The
// schema allows several rows per user; the earliest one wins.
func (s *GormStore) GetPreferences(userID int64) (domain.Preferences, bool, error) {
	var model PreferenceModel
	if err := s.db.Where("user_id = ?", userID).Order("id ASC").First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Preferences{}, false, nil
		}
		return domain.Preferences{}, false, err
	}
	return preferencesFromModel(model), true, nil
}

// SavePreferences updates the user's canonical preferences row or creates
// it when none exists. Empty theme/language fall back to the defaults.
func (s *GormStore) SavePreferences(p domain.Preferences) (domain.Preferences, error) {
	theme := strings.TrimSpace(p.Theme)
	if theme == "" {
		theme = domain.DefaultTheme
	}
	language := strings.TrimSpace(p.Language)
	if language == "" {
		language = domain.DefaultLanguage
	}
	var saved PreferenceModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, p.UserID); err != nil {
			return err
		}
		var existing PreferenceModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", p.UserID).
			Order("id ASC").
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			saved = PreferenceModel{
				UserID:        p.UserID,
				Theme:         theme,
				Language:      language,
				DefaultModel:  strings.TrimSpace(p.DefaultModel),
				DefaultDomain: strings.TrimSpace(p.DefaultDomain),
			}
			return tx.Create(&saved).Error
		case err != nil:
			return err
		}
		existing.Theme = theme
		existing.Language = language
		existing.DefaultModel = strings.TrimSpace(p.DefaultModel)
		existing.DefaultDomain = strings.TrimSpace(p.DefaultDomain)
		if err := tx.Model(&existing).Select("theme", "language", "default_model", "default_domain", "updated_at").Updates(&existing).Error; err != nil {
			return err
		}
		saved = existing
		return nil
	})
	if err != nil {
		return domain.Preferences{}, translateError(err)
	}
	return preferencesFromModel(saved), nil
}

// lockUser serialises check-then-insert writes for one user. A locking read
// that matches no child row locks nothing, so the parent row is locked
// instead. NO KEY UPDATE still lets concurrent inserts reference the user.
func lockUser(tx *gorm.DB, userID int64) error {
	var user UserModel
	err := tx.Clauses(clause.Locking{Strength: "NO KEY UPDATE"}).
		Select("id").
		First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: user %d", ErrForeignKey, userID)
	}
	return err
}

// RecordModelUsage folds one request into the (user, model, domain)
// aggregate: request_count and total_tokens are incremented and
// avg_response_time (seconds) is kept as a running mean.
func (s *GormStore) RecordModelUsage(ev domain.UsageEvent) (domain.ModelUsage, error) {
	if ev.Tokens < 0 || ev.ResponseTime < 0 {
		return domain.ModelUsage{}, fmt.Errorf("%w: negative usage", ErrConstraint)
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()
	modelName := strings.TrimSpace(ev.ModelName)
	domainName := strings.TrimSpace(ev.Domain)
	seconds := ev.ResponseTime.Seconds()

	var stat ModelUsageStatModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, ev.UserID); err != nil {
			return err
		}
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND model_name = ? AND domain = ?", ev.UserID, modelName, domainName).
			Order("id ASC").
			First(&stat).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			stat = ModelUsageStatModel{
				UserID:          ev.UserID,
				ModelName:       modelName,
				Domain:          domainName,
				RequestCount:    1,
				TotalTokens:     ev.Tokens,
				AvgResponseTime: seconds,
				LastUsed:        at,
			}
			return tx.Create(&stat).Error
		case err != nil:
			return err
		}
		stat.RequestCount++
		stat.TotalTokens += ev.Tokens
		stat.AvgResponseTime += (seconds - stat.AvgResponseTime) / float64(stat.RequestCount)
		if at.After(stat.LastUsed) {
			stat.LastUsed = at
		}
		return tx.Model(&stat).Updates(map[string]any{
			"request_count":     stat.RequestCount,
			"total_tokens":      stat.TotalTokens,
			"avg_response_time": stat.AvgResponseTime,
			"last_used":         stat.LastUsed,
		}).Error
	})
	if err != nil {
		return domain.ModelUsage{}, translateError(err)
	}
	return usageFromModel(stat), nil
}

// ListModelUsage returns a user's usage aggregates, most recently used first.
func (s *GormStore) ListModelUsage(userID int64) ([]domain.ModelUsage, error) {
	var models []ModelUsageStatModel
	if err := s.db.Where("user_id = ?", userID).
		Order("last_used DESC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.ModelUsage, 0, len(models))
	for _, model := range models {
		items = append(items, usageFromModel(model))
	}
	return items, nil
}

// SaveContactSubmission stores a contact-form message.
func (s *GormStore) SaveContactSubmission(c domain.ContactSubmission) (domain.ContactSubmission, error) {
	model := ContactSubmissionModel{
		Name:        strings.TrimSpace(c.Name),
		Email:       domain.NormalizeEmail(c.Email),
		Subject:     strings.TrimSpace(c.Subject),
		Message:     c.Message,
		SubmittedAt: c.SubmittedAt,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return domain.ContactSubmission{}, translateError(err)
	}
	return contactFromModel(model), nil
}

// ListContactSubmissions returns the latest contact submissions.
func (s *GormStore) ListContactSubmissions(limit int) ([]domain.ContactSubmission, error) {
	if limit <= 0 {
		limit = 100
	}
	var models []ContactSubmissionModel
	if err := s.db.Order("submitted_at DESC").Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.ContactSubmission, 0, len(models))
	for _, model := range models {
		items = append(items, contactFromModel(model))
	}
	return items, nil
}

func preferencesFromModel(m PreferenceModel) domain.Preferences {
	return domain.Preferences{
		ID:            m.ID,
		UserID:        m.UserID,
		Theme:         m.Theme,
		Language:      m.Language,
		DefaultModel:  m.DefaultModel,
		DefaultDomain: m.DefaultDomain,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func usageFromModel(m ModelUsageStatModel) domain.ModelUsage {
	return domain.ModelUsage{
		ID:              m.ID,
		UserID:          m.UserID,
		ModelName:       m.ModelName,
		Domain:          m.Domain,
		RequestCount:    m.RequestCount,
		TotalTokens:     m.TotalTokens,
		AvgResponseTime: m.AvgResponseTime,
		LastUsed:        m.LastUsed,
	}
}

func contactFromModel(m ContactSubmissionModel) domain.ContactSubmission {
	return domain.ContactSubmission{
		ID:          m.ID,
		Name:        m.Name,
		Email:       m.Email,
		Subject:     m.Subject,
		Message:     m.Message,
		SubmittedAt: m.SubmittedAt,
	}
}
