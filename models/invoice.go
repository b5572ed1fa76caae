package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Invoice is the locally authoritative billing record for one commercial
// document. Monetary columns are NUMERIC(12,2); totals are always recomputed
// from line items at write time, never trusted from the caller.
type Invoice struct {
	ID            string `json:"id" gorm:"primaryKey;size:36"`
	InvoiceNumber string `json:"invoice_number" gorm:"uniqueIndex;not null"`
	ClientID      string `json:"client_id" gorm:"not null;index"`

	Status Status `json:"status" gorm:"type:varchar(20);not null;index"`

	IssueDate time.Time `json:"issue_date" gorm:"not null"`
	DueDate   time.Time `json:"due_date" gorm:"not null"`

	Items    []InvoiceLineItem `json:"items" gorm:"foreignKey:InvoiceID;constraint:OnDelete:CASCADE"`
	Subtotal decimal.Decimal   `json:"subtotal" gorm:"type:numeric(12,2)"`
	Tax      decimal.Decimal   `json:"tax" gorm:"type:numeric(12,2)"`
	Discount decimal.Decimal   `json:"discount" gorm:"type:numeric(12,2)"`
	Total    decimal.Decimal   `json:"total" gorm:"type:numeric(12,2)"`

	// Recurrence: IsRecurring iff Frequency is set iff NextInvoiceDate is set.
	IsRecurring     bool       `json:"is_recurring" gorm:"index"`
	Frequency       *Frequency `json:"frequency" gorm:"type:varchar(20)"`
	NextInvoiceDate *time.Time `json:"next_invoice_date" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type InvoiceLineItem struct {
	ID          string          `json:"id" gorm:"primaryKey;size:36"`
	InvoiceID   string          `json:"-" gorm:"not null;index"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity" gorm:"not null"`
	UnitPrice   decimal.Decimal `json:"unit_price" gorm:"type:numeric(12,2)"`
	Amount      decimal.Decimal `json:"amount" gorm:"type:numeric(12,2)"`
}

func (inv *Invoice) BeforeCreate(tx *gorm.DB) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	return nil
}

func (it *InvoiceLineItem) BeforeCreate(tx *gorm.DB) error {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	return nil
}

// Recompute derives per-item amounts, the subtotal and the total from the
// line items. Tax and Discount are header-level inputs and pass through.
func (inv *Invoice) Recompute() {
	subtotal := decimal.Zero
	for i := range inv.Items {
		inv.Items[i].Amount = inv.Items[i].UnitPrice.Mul(decimal.NewFromInt(int64(inv.Items[i].Quantity)))
		subtotal = subtotal.Add(inv.Items[i].Amount)
	}
	inv.Subtotal = subtotal
	inv.Total = subtotal.Add(inv.Tax).Sub(inv.Discount)
}

// PaymentTerm is the distance between issue and due date. Recurring
// successors preserve it.
func (inv *Invoice) PaymentTerm() time.Duration {
	return inv.DueDate.Sub(inv.IssueDate)
}
