package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"billing-core/errs"
	"billing-core/logger"
	"billing-core/models"
	"billing-core/store"
	"billing-core/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestReconciler(t *testing.T) (*Reconciler, *store.Store, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	st := store.New(db, testutil.NewFakeDirectory())
	return New(st, logger.NewNop()), st, db
}

func subscriptionEvent(id, kind, subID string, status models.SubscriptionStatus, periodEnd, occurredAt time.Time) Event {
	data, _ := json.Marshal(map[string]any{
		"subscription_id":    subID,
		"customer_ref":       "cus_1",
		"plan_id":            "plan_pro",
		"status":             status,
		"current_period_end": periodEnd,
	})
	return NewTrustedEvent(id, kind, occurredAt, data)
}

func invoiceEvent(id, kind, providerInvoiceID string) Event {
	data, _ := json.Marshal(map[string]any{
		"invoice_id": providerInvoiceID,
		"amount":     "29.00",
		"currency":   "USD",
	})
	return NewTrustedEvent(id, kind, time.Now().UTC(), data)
}

func TestApplyRejectsUnverifiedEvent(t *testing.T) {
	rec, st, db := newTestReconciler(t)
	ctx := context.Background()

	evt := Event{ID: "evt_raw", Type: EventSubscriptionCreated, Data: []byte(`{}`)}
	err := rec.Apply(ctx, evt)
	assert.True(t, errs.IsUnauthenticated(err))

	// And performed no state change at all.
	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.Zero(t, events)
	_, err = st.GetSubscription(ctx, "sub_1")
	assert.True(t, errs.IsNotFound(err))
}

// Applying updated events newer-then-older converges to the same final
// state as older-then-newer.
func TestOutOfOrderUpdatesConverge(t *testing.T) {
	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	run := func(t *testing.T, order []Event) models.Subscription {
		rec, st, _ := newTestReconciler(t)
		ctx := context.Background()
		for _, evt := range order {
			require.NoError(t, rec.Apply(ctx, evt))
		}
		got, err := st.GetSubscription(ctx, "sub_1")
		require.NoError(t, err)
		return *got
	}

	older := subscriptionEvent("evt_a", EventSubscriptionUpdated, "sub_1",
		models.SubscriptionPastDue, feb, feb.Add(-time.Hour))
	newer := subscriptionEvent("evt_b", EventSubscriptionUpdated, "sub_1",
		models.SubscriptionActive, mar, mar.Add(-time.Hour))

	inOrder := run(t, []Event{older, newer})
	reversed := run(t, []Event{newer, older})

	assert.Equal(t, inOrder.Status, reversed.Status)
	assert.True(t, inOrder.CurrentPeriodEnd.Equal(reversed.CurrentPeriodEnd))
	assert.Equal(t, models.SubscriptionActive, reversed.Status)
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	rec, st, db := newTestReconciler(t)
	ctx := context.Background()

	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	evt := subscriptionEvent("evt_1", EventSubscriptionCreated, "sub_1",
		models.SubscriptionActive, mar, mar.Add(-time.Hour))

	require.NoError(t, rec.Apply(ctx, evt))
	require.NoError(t, rec.Apply(ctx, evt))

	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.EqualValues(t, 1, events)

	got, err := st.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)
}

// A delivery that dies on a storage outage must not be burned by its dedup
// row: the provider's redelivery runs the handlers again and converges.
func TestRedeliveryAfterStorageFailureReprocesses(t *testing.T) {
	rec, st, db := newTestReconciler(t)
	ctx := context.Background()

	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	evt := subscriptionEvent("evt_1", EventSubscriptionCreated, "sub_1",
		models.SubscriptionActive, mar, mar.Add(-time.Hour))

	// Take the subscriptions table away so dispatch fails after the audit
	// row is written.
	require.NoError(t, db.Exec("ALTER TABLE subscriptions RENAME TO subscriptions_offline").Error)
	err := rec.Apply(ctx, evt)
	require.True(t, errs.IsStorage(err))

	var audit models.WebhookEvent
	require.NoError(t, db.First(&audit, "provider_event_id = ?", "evt_1").Error)
	assert.Nil(t, audit.ProcessedAt)
	assert.NotEmpty(t, audit.ProcessingError)

	require.NoError(t, db.Exec("ALTER TABLE subscriptions_offline RENAME TO subscriptions").Error)
	require.NoError(t, rec.Apply(ctx, evt))

	got, err := st.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got.Status)

	require.NoError(t, db.First(&audit, "provider_event_id = ?", "evt_1").Error)
	require.NotNil(t, audit.ProcessedAt)
	assert.Empty(t, audit.ProcessingError)
}

func TestSamePaymentReportedTwiceYieldsOneEntry(t *testing.T) {
	rec, _, db := newTestReconciler(t)
	ctx := context.Background()

	// Distinct deliveries (different event ids) for the same provider
	// invoice still deduplicate on the invoice id.
	require.NoError(t, rec.Apply(ctx, invoiceEvent("evt_1", EventInvoicePaid, "in_001")))
	require.NoError(t, rec.Apply(ctx, invoiceEvent("evt_2", EventInvoicePaid, "in_001")))

	var entries int64
	require.NoError(t, db.Model(&models.BillingHistoryEntry{}).
		Where("provider_invoice_id = ?", "in_001").Count(&entries).Error)
	assert.EqualValues(t, 1, entries)
}

func TestPaymentFailedRecordsFailedEntry(t *testing.T) {
	rec, _, db := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, rec.Apply(ctx, invoiceEvent("evt_1", EventInvoicePaymentFailed, "in_002")))

	var entry models.BillingHistoryEntry
	require.NoError(t, db.First(&entry, "provider_invoice_id = ?", "in_002").Error)
	assert.Equal(t, "failed", entry.Status)
	assert.Equal(t, "USD", entry.Currency)
}

func TestDeletedSubscriptionStaysCanceled(t *testing.T) {
	rec, st, _ := newTestReconciler(t)
	ctx := context.Background()

	feb := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, rec.Apply(ctx, subscriptionEvent("evt_1", EventSubscriptionCreated,
		"sub_1", models.SubscriptionActive, feb, feb.Add(-time.Hour))))
	require.NoError(t, rec.Apply(ctx, subscriptionEvent("evt_2", EventSubscriptionDeleted,
		"sub_1", models.SubscriptionCanceled, feb, feb)))

	// A later update for a newer period must not resurrect it.
	require.NoError(t, rec.Apply(ctx, subscriptionEvent("evt_3", EventSubscriptionUpdated,
		"sub_1", models.SubscriptionActive, mar, mar.Add(-time.Hour))))

	got, err := st.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCanceled, got.Status)

	// A brand-new subscription id is unrelated and always accepted.
	require.NoError(t, rec.Apply(ctx, subscriptionEvent("evt_4", EventSubscriptionCreated,
		"sub_2", models.SubscriptionActive, mar, mar.Add(-time.Hour))))
	got2, err := st.GetSubscription(ctx, "sub_2")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, got2.Status)
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	rec, _, db := newTestReconciler(t)
	ctx := context.Background()

	evt := NewTrustedEvent("evt_1", "charge.refunded", time.Now().UTC(), []byte(`{}`))
	require.NoError(t, rec.Apply(ctx, evt))

	// Still audited for later inspection.
	var events int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&events).Error)
	assert.EqualValues(t, 1, events)
}

func TestMalformedPayloadSurfacesValidation(t *testing.T) {
	rec, _, _ := newTestReconciler(t)
	ctx := context.Background()

	evt := NewTrustedEvent("evt_1", EventInvoicePaid, time.Now().UTC(), []byte(`{"amount": "x"}`))
	err := rec.Apply(ctx, evt)
	assert.True(t, errs.IsValidation(err))
}

// Handlers for different subscriptions are independent: interleaving event
// streams leaves each subscription at its own newest state.
func TestInterleavedSubscriptionsIndependent(t *testing.T) {
	rec, st, _ := newTestReconciler(t)
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var events []Event
	for i := 0; i < 3; i++ {
		pe := base.AddDate(0, i+1, 0)
		events = append(events,
			subscriptionEvent(fmt.Sprintf("evt_a%d", i), EventSubscriptionUpdated,
				"sub_a", models.SubscriptionActive, pe, pe.Add(-time.Hour)),
			subscriptionEvent(fmt.Sprintf("evt_b%d", i), EventSubscriptionUpdated,
				"sub_b", models.SubscriptionPastDue, pe, pe.Add(-time.Hour)),
		)
	}
	// Deliver b's stream newest-first, a's oldest-first.
	require.NoError(t, rec.Apply(ctx, events[5]))
	require.NoError(t, rec.Apply(ctx, events[0]))
	require.NoError(t, rec.Apply(ctx, events[3]))
	require.NoError(t, rec.Apply(ctx, events[2]))
	require.NoError(t, rec.Apply(ctx, events[1]))
	require.NoError(t, rec.Apply(ctx, events[4]))

	wantEnd := base.AddDate(0, 3, 0)
	a, err := st.GetSubscription(ctx, "sub_a")
	require.NoError(t, err)
	assert.True(t, a.CurrentPeriodEnd.Equal(wantEnd))
	b, err := st.GetSubscription(ctx, "sub_b")
	require.NoError(t, err)
	assert.True(t, b.CurrentPeriodEnd.Equal(wantEnd))
}
