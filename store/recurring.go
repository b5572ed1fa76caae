package store

import (
	"context"
	"fmt"
	"time"

	"billing-core/errs"
	"billing-core/models"

	"gorm.io/gorm"
)

// ListRecurringDue returns the scheduler's candidate set: recurring invoices
// whose next generation date has passed.
func (s *Store) ListRecurringDue(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	var out []models.Invoice
	err := s.db.WithContext(ctx).Preload("Items").
		Where("is_recurring AND next_invoice_date <= ?", now).
		Find(&out).Error
	if err != nil {
		return nil, errs.Storagef("list recurring due", err)
	}
	return out, nil
}

// ResolveClient checks a candidate's billing party before generation. It may
// hit the network, so the scheduler calls it outside any transaction.
func (s *Store) ResolveClient(ctx context.Context, clientID string) error {
	_, err := s.dir.Resolve(ctx, clientID)
	return err
}

// GenerateSuccessor materializes the next invoice of a recurring source in
// one transaction. The claim — a conditional UPDATE advancing the source's
// next_invoice_date only while it is still due — is what makes generation
// at-most-once per period: a retried or concurrent pass affects zero rows
// and backs off. Returns nil when the claim was lost.
func (s *Store) GenerateSuccessor(ctx context.Context, src *models.Invoice, now time.Time) (*models.Invoice, error) {
	if !src.IsRecurring || src.Frequency == nil || src.NextInvoiceDate == nil {
		return nil, errs.Validationf("invoice %s is not recurring", src.ID)
	}

	next := src.Frequency.Next(*src.NextInvoiceDate)
	successor := &models.Invoice{
		InvoiceNumber: successorNumber(src, now),
		ClientID:      src.ClientID,
		Status:        models.StatusDraft,
		IssueDate:     now,
		DueDate:       now.Add(src.PaymentTerm()),
		Tax:           src.Tax,
		Discount:      src.Discount,
	}
	for _, it := range src.Items {
		successor.Items = append(successor.Items, models.InvoiceLineItem{
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	successor.Recompute()
	if err := successor.ValidateInvariants(); err != nil {
		return nil, err
	}

	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Re-check the due condition against the live row; a stale read
		// from the candidate query must not win here.
		res := tx.Model(&models.Invoice{}).
			Where("id = ? AND is_recurring AND next_invoice_date <= ?", src.ID, now).
			Update("next_invoice_date", next)
		if res.Error != nil {
			return errs.Storagef("advance next invoice date", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		if err := tx.Create(successor).Error; err != nil {
			return errs.Storagef("create successor invoice", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	return successor, nil
}

func successorNumber(src *models.Invoice, now time.Time) string {
	return fmt.Sprintf("%s-%s", src.InvoiceNumber, now.Format("20060102"))
}
