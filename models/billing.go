package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// SubscriptionStatus uses the provider's vocabulary verbatim.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// Subscription mirrors one provider subscription. Rows are written only by
// the reconciler; SubscriptionID is the provider's natural key.
type Subscription struct {
	SubscriptionID    string             `json:"subscription_id" gorm:"primaryKey"`
	CustomerRef       string             `json:"customer_ref" gorm:"index"`
	PlanID            string             `json:"plan_id"`
	Status            SubscriptionStatus `json:"status" gorm:"type:varchar(20);not null"`
	CurrentPeriodEnd  time.Time          `json:"current_period_end"`
	CancelAtPeriodEnd bool               `json:"cancel_at_period_end"`

	// LastEventAt is the provider timestamp of the newest applied event; it
	// breaks ties between events for the same billing period.
	LastEventAt time.Time `json:"last_event_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Supersedes reports whether an incoming event with the given version signal
// is newer than the stored row. Stale events are discarded, which makes
// out-of-order delivery converge to the same final state.
func (s *Subscription) Supersedes(periodEnd, occurredAt time.Time) bool {
	if periodEnd.After(s.CurrentPeriodEnd) {
		return true
	}
	if periodEnd.Equal(s.CurrentPeriodEnd) {
		return occurredAt.After(s.LastEventAt)
	}
	return false
}

// BillingHistoryEntry is an append-only record of one provider payment
// outcome, deduplicated by ProviderInvoiceID.
type BillingHistoryEntry struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	ProviderInvoiceID string          `json:"provider_invoice_id" gorm:"uniqueIndex;not null"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:numeric(12,2)"`
	Currency          string          `json:"currency" gorm:"size:3"`
	Status            string          `json:"status" gorm:"type:varchar(20)"` // succeeded | failed
	Description       string          `json:"description"`
	OccurredAt        time.Time       `json:"occurred_at"`
	CreatedAt         time.Time       `json:"created_at"`
}

// WebhookEvent is the dedup/audit row for one provider delivery. The raw
// payload is kept as jsonb for replay and debugging.
type WebhookEvent struct {
	ID              uint           `json:"id" gorm:"primaryKey"`
	ProviderEventID string         `json:"provider_event_id" gorm:"uniqueIndex;not null"`
	EventType       string         `json:"event_type" gorm:"type:varchar(64);index"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb"`
	ProcessedAt     *time.Time     `json:"processed_at"`
	ProcessingError string         `json:"processing_error"`
	CreatedAt       time.Time      `json:"created_at"`
}
