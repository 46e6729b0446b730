package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"multillm/pkg/domain"
	"multillm/pkg/queue"
	"multillm/pkg/store"
)

var themes = map[string]struct{}{"light": {}, "dark": {}}

// Preferences returns the user's preferences, or the defaults when none are stored.
func (a *App) Preferences(userID int64) (domain.Preferences, error) {
	prefs, found, err := a.store.GetPreferences(userID)
	if err != nil {
		return domain.Preferences{}, fmt.Errorf("load preferences: %w", err)
	}
	if !found {
		return domain.DefaultPreferences(userID), nil
	}
	return prefs, nil
}

// PreferencesUpdate carries the fields to change; nil leaves a field as is.
type PreferencesUpdate struct {
	Theme         *string
	Language      *string
	DefaultModel  *string
	DefaultDomain *string
}

// UpdatePreferences merges update into the stored preferences. A default
// model or domain must exist in the catalog.
func (a *App) UpdatePreferences(userID int64, update PreferencesUpdate) (domain.Preferences, error) {
	prefs, err := a.Preferences(userID)
	if err != nil {
		return domain.Preferences{}, err
	}
	if update.Theme != nil {
		theme := strings.ToLower(strings.TrimSpace(*update.Theme))
		if _, ok := themes[theme]; !ok {
			return domain.Preferences{}, fmt.Errorf("unsupported theme %q", *update.Theme)
		}
		prefs.Theme = theme
	}
	if update.Language != nil {
		prefs.Language = strings.ToLower(strings.TrimSpace(*update.Language))
	}
	if update.DefaultDomain != nil {
		prefs.DefaultDomain = strings.TrimSpace(*update.DefaultDomain)
	}
	if update.DefaultModel != nil {
		prefs.DefaultModel = strings.TrimSpace(*update.DefaultModel)
	}
	if prefs.DefaultDomain != "" {
		if _, ok := a.catalog.Domain(prefs.DefaultDomain); !ok {
			return domain.Preferences{}, ErrUnknownDomain
		}
		if prefs.DefaultModel != "" && !a.catalog.Allows(prefs.DefaultDomain, prefs.DefaultModel) {
			return domain.Preferences{}, ErrModelNotAllowed
		}
	}
	prefs.UserID = userID
	saved, err := a.store.SavePreferences(prefs)
	if err != nil {
		if errors.Is(err, store.ErrForeignKey) {
			return domain.Preferences{}, ErrUserNotFound
		}
		return domain.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	return saved, nil
}

// SubmitContact stores a message from the public contact form.
func (a *App) SubmitContact(name, email, subject, message string) (domain.ContactSubmission, error) {
	name = strings.TrimSpace(name)
	email = domain.NormalizeEmail(email)
	subject = strings.TrimSpace(subject)
	if name == "" || email == "" || subject == "" || strings.TrimSpace(message) == "" {
		return domain.ContactSubmission{}, ErrContactFieldsRequired
	}
	if !validEmail(email) {
		return domain.ContactSubmission{}, ErrInvalidEmail
	}
	saved, err := a.store.SaveContactSubmission(domain.ContactSubmission{
		Name:        name,
		Email:       email,
		Subject:     subject,
		Message:     message,
		SubmittedAt: a.now().UTC(),
	})
	if err != nil {
		return domain.ContactSubmission{}, fmt.Errorf("save contact submission: %w", err)
	}
	return saved, nil
}

// RecordUsage publishes ev to the usage queue when one is configured and
// applies it directly otherwise, or when publishing fails.
func (a *App) RecordUsage(ctx context.Context, ev domain.UsageEvent) error {
	ev.ModelName = strings.TrimSpace(ev.ModelName)
	ev.Domain = strings.TrimSpace(ev.Domain)
	if ev.UserID <= 0 || ev.ModelName == "" || ev.Domain == "" || ev.Tokens < 0 || ev.ResponseTime < 0 {
		return ErrInvalidUsageEvent
	}
	if ev.At.IsZero() {
		ev.At = a.now().UTC()
	}
	if a.usage != nil {
		_, err := a.usage.Publish(ctx, ev)
		if err == nil {
			return nil
		}
		slog.Warn("usage publish failed, recording inline", "user_id", ev.UserID, "err", err)
	}
	if _, err := a.store.RecordModelUsage(ev); err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// ApplyUsage folds one queued event into the aggregates. Events for deleted
// users or with invalid measurements are marked for dropping.
func (a *App) ApplyUsage(_ context.Context, ev domain.UsageEvent) error {
	_, err := a.store.RecordModelUsage(ev)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrForeignKey), errors.Is(err, store.ErrConstraint):
		return fmt.Errorf("%w: user %d: %w", queue.ErrDrop, ev.UserID, err)
	default:
		return err
	}
}

// DrainUsage applies every queued usage event.
func (a *App) DrainUsage(ctx context.Context) (int, error) {
	if a.usage == nil {
		return 0, ErrQueueNotConfigured
	}
	return a.usage.Drain(ctx, a.ApplyUsage)
}

// ConsumeUsage starts background consumers that apply queued events until
// ctx is done. It returns once the consumers are running.
func (a *App) ConsumeUsage(ctx context.Context, consumers int) error {
	if a.usage == nil {
		return ErrQueueNotConfigured
	}
	return a.usage.Start(ctx, consumers, a.ApplyUsage)
}

// UsageStats returns the user's per-model aggregates.
func (a *App) UsageStats(userID int64) ([]domain.ModelUsage, error) {
	stats, err := a.store.ListModelUsage(userID)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return stats, nil
}
