// Package reconciler converges local subscription and billing-history state
// with the payment provider's, from webhook events that may arrive late,
// duplicated, or out of order. Every handler is idempotent and
// order-independent: duplicates no-op, stale versions are discarded.
package reconciler

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"billing-core/errs"
	"billing-core/logger"
	"billing-core/models"
	"billing-core/store"
)

type Reconciler struct {
	store *store.Store
	log   *logger.Logger
}

func New(st *store.Store, log *logger.Logger) *Reconciler {
	return &Reconciler{store: st, log: log}
}

type subscriptionPayload struct {
	SubscriptionID    string    `json:"subscription_id"`
	CustomerRef       string    `json:"customer_ref"`
	PlanID            string    `json:"plan_id"`
	Status            string    `json:"status"`
	CurrentPeriodEnd  time.Time `json:"current_period_end"`
	CancelAtPeriodEnd bool      `json:"cancel_at_period_end"`
}

type invoicePayload struct {
	ProviderInvoiceID string          `json:"invoice_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Description       string          `json:"description"`
}

// Apply processes one event to completion. Safe to call twice with the same
// payload and in any order relative to other events. Returns nil for
// duplicates and stale versions — the provider expects an ack either way.
func (r *Reconciler) Apply(ctx context.Context, evt Event) error {
	if !evt.Verified() {
		return errs.ErrUnauthenticatedEvent
	}

	// Delivery-level dedup: the audit row is keyed by the provider event
	// id, so a redelivery of a processed event acks without re-running.
	first, err := r.store.RecordWebhookEvent(ctx, &models.WebhookEvent{
		ProviderEventID: evt.ID,
		EventType:       evt.Type,
		Payload:         datatypes.JSON(evt.Data),
	})
	if err != nil {
		return err
	}
	if !first {
		// Redelivery. Only a successfully processed delivery is a true
		// duplicate; one that failed mid-dispatch must run again.
		prev, err := r.store.GetWebhookEvent(ctx, evt.ID)
		if err != nil {
			return err
		}
		if prev.ProcessedAt != nil && prev.ProcessingError == "" {
			r.log.Debugw("duplicate event delivery ignored", "event_id", evt.ID, "type", evt.Type)
			return nil
		}
		r.log.Infow("reprocessing previously failed delivery", "event_id", evt.ID, "type", evt.Type)
	}

	dispatchErr := r.retry(ctx, func() error { return r.dispatch(ctx, evt) })
	if err := r.store.MarkWebhookProcessed(ctx, evt.ID, dispatchErr); err != nil {
		r.log.Warnw("failed to stamp webhook audit row", "event_id", evt.ID, "error", err)
	}
	return dispatchErr
}

func (r *Reconciler) dispatch(ctx context.Context, evt Event) error {
	switch evt.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		return r.upsertSubscription(ctx, evt)
	case EventSubscriptionDeleted:
		return r.deleteSubscription(ctx, evt)
	case EventInvoicePaid:
		return r.appendHistory(ctx, evt, "succeeded")
	case EventInvoicePaymentFailed:
		return r.appendHistory(ctx, evt, "failed")
	default:
		r.log.Infow("ignoring unhandled event type", "event_id", evt.ID, "type", evt.Type)
		return nil
	}
}

func (r *Reconciler) upsertSubscription(ctx context.Context, evt Event) error {
	var p subscriptionPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return errs.Validationf("malformed %s payload: %v", evt.Type, err)
	}
	if p.SubscriptionID == "" {
		return errs.Validationf("%s event missing subscription_id", evt.Type)
	}

	applied, err := r.store.UpsertSubscription(ctx, &models.Subscription{
		SubscriptionID:    p.SubscriptionID,
		CustomerRef:       p.CustomerRef,
		PlanID:            p.PlanID,
		Status:            models.SubscriptionStatus(p.Status),
		CurrentPeriodEnd:  p.CurrentPeriodEnd,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
	}, evt.OccurredAt)
	if err != nil {
		return err
	}
	if !applied {
		r.log.Infow("discarded stale subscription event",
			"event_id", evt.ID,
			"subscription_id", p.SubscriptionID,
			"period_end", p.CurrentPeriodEnd)
	}
	return nil
}

func (r *Reconciler) deleteSubscription(ctx context.Context, evt Event) error {
	var p subscriptionPayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return errs.Validationf("malformed %s payload: %v", evt.Type, err)
	}
	if p.SubscriptionID == "" {
		return errs.Validationf("%s event missing subscription_id", evt.Type)
	}
	return r.store.CancelSubscription(ctx, p.SubscriptionID, evt.OccurredAt)
}

func (r *Reconciler) appendHistory(ctx context.Context, evt Event, status string) error {
	var p invoicePayload
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return errs.Validationf("malformed %s payload: %v", evt.Type, err)
	}
	if p.ProviderInvoiceID == "" {
		return errs.Validationf("%s event missing invoice_id", evt.Type)
	}

	inserted, err := r.store.AppendBillingHistory(ctx, &models.BillingHistoryEntry{
		ProviderInvoiceID: p.ProviderInvoiceID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            status,
		Description:       p.Description,
		OccurredAt:        evt.OccurredAt,
	})
	if err != nil {
		return err
	}
	if !inserted {
		r.log.Debugw("duplicate billing history suppressed",
			"event_id", evt.ID, "provider_invoice_id", p.ProviderInvoiceID)
	}
	return nil
}

// retry wraps storage-transient failures with backoff; everything else is
// permanent and surfaces immediately.
func (r *Reconciler) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return backoff.Retry(func() error {
		err := op()
		if err == nil || errs.IsStorage(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
}
