package store

import (
	"context"
	"errors"
	"time"

	"billing-core/errs"
	"billing-core/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetSubscription returns the local mirror of one provider subscription.
func (s *Store) GetSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).First(&sub, "subscription_id = ?", subscriptionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFoundf("subscription %s", subscriptionID)
	}
	if err != nil {
		return nil, errs.Storagef("get subscription", err)
	}
	return &sub, nil
}

// UpsertSubscription applies a created/updated event with the
// anti-regression rule: the row is only written when the incoming version
// signal (period end, then event timestamp) is newer than the stored one and
// the row is not canceled. Returns whether the event was applied.
func (s *Store) UpsertSubscription(ctx context.Context, in *models.Subscription, occurredAt time.Time) (bool, error) {
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).
			Where("subscription_id = ? AND status <> ?", in.SubscriptionID, models.SubscriptionCanceled).
			Where("current_period_end < ? OR (current_period_end = ? AND last_event_at < ?)",
				in.CurrentPeriodEnd, in.CurrentPeriodEnd, occurredAt).
			Updates(map[string]any{
				"customer_ref":         in.CustomerRef,
				"plan_id":              in.PlanID,
				"status":               in.Status,
				"current_period_end":   in.CurrentPeriodEnd,
				"cancel_at_period_end": in.CancelAtPeriodEnd,
				"last_event_at":        occurredAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			applied = true
			return nil
		}

		// No row updated: either the subscription is new, or the event is
		// stale / the row canceled. An insert that conflicts is the latter.
		in.LastEventAt = occurredAt
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}},
			DoNothing: true,
		}).Create(in)
		if ins.Error != nil {
			return ins.Error
		}
		applied = ins.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, errs.Storagef("upsert subscription", err)
	}
	return applied, nil
}

// CancelSubscription applies a deleted event. Canceled is terminal: the
// write is unconditional on version, idempotent, and when no row exists yet
// (delete delivered before create) a canceled placeholder is inserted so a
// late stale update cannot resurrect the subscription.
func (s *Store) CancelSubscription(ctx context.Context, subscriptionID string, occurredAt time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Subscription{}).
			Where("subscription_id = ?", subscriptionID).
			Updates(map[string]any{
				"status":        models.SubscriptionCanceled,
				"last_event_at": occurredAt,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}},
			DoNothing: true,
		}).Create(&models.Subscription{
			SubscriptionID: subscriptionID,
			Status:         models.SubscriptionCanceled,
			LastEventAt:    occurredAt,
		}).Error
	})
	if err != nil {
		return errs.Storagef("cancel subscription", err)
	}
	return nil
}

// AppendBillingHistory inserts a payment outcome, deduplicated by the
// provider invoice id. A duplicate insert is a no-op, not an error.
func (s *Store) AppendBillingHistory(ctx context.Context, entry *models.BillingHistoryEntry) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_invoice_id"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, errs.Storagef("append billing history", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordWebhookEvent inserts the dedup/audit row for a delivery. Returns
// false when the provider event id has been seen before.
func (s *Store) RecordWebhookEvent(ctx context.Context, evt *models.WebhookEvent) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(evt)
	if res.Error != nil {
		return false, errs.Storagef("record webhook event", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// GetWebhookEvent loads the audit row for one provider event id.
func (s *Store) GetWebhookEvent(ctx context.Context, providerEventID string) (*models.WebhookEvent, error) {
	var evt models.WebhookEvent
	err := s.db.WithContext(ctx).First(&evt, "provider_event_id = ?", providerEventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFoundf("webhook event %s", providerEventID)
	}
	if err != nil {
		return nil, errs.Storagef("get webhook event", err)
	}
	return &evt, nil
}

// MarkWebhookProcessed stamps the audit row after dispatch. processed_at is
// only set on success; a failed dispatch records the error and leaves the
// row eligible for reprocessing on redelivery.
func (s *Store) MarkWebhookProcessed(ctx context.Context, providerEventID string, procErr error) error {
	updates := map[string]any{
		"processed_at":     time.Now().UTC(),
		"processing_error": "",
	}
	if procErr != nil {
		updates = map[string]any{"processing_error": procErr.Error()}
	}
	err := s.db.WithContext(ctx).Model(&models.WebhookEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Updates(updates).Error
	if err != nil {
		return errs.Storagef("mark webhook processed", err)
	}
	return nil
}
