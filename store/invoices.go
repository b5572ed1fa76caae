package store

import (
	"context"
	"errors"
	"time"

	"billing-core/errs"
	"billing-core/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InvoicePatch carries the updatable header fields. Nil pointers are left
// untouched; Status requests a lifecycle transition and is validated by the
// state machine before anything is persisted.
type InvoicePatch struct {
	InvoiceNumber   *string
	ClientID        *string
	Status          *models.Status
	IssueDate       *time.Time
	DueDate         *time.Time
	Tax             *decimal.Decimal
	Discount        *decimal.Decimal
	IsRecurring     *bool
	Frequency       *models.Frequency
	NextInvoiceDate *time.Time
}

// ListFilter narrows ListInvoices. Zero values mean "no constraint".
type ListFilter struct {
	Status         models.Status
	ClientID       string
	RecurringDueBy *time.Time
}

// CreateInvoice persists a new invoice and its line items as one atomic
// unit. Amounts are recomputed server-side; the client reference is resolved
// before the write transaction opens.
func (s *Store) CreateInvoice(ctx context.Context, inv *models.Invoice) (*models.Invoice, error) {
	if inv.Status == "" {
		inv.Status = models.StatusDraft
	}
	// New invoices start as drafts; sent is allowed once as the initial
	// state for duplication/import flows.
	if inv.Status != models.StatusDraft && inv.Status != models.StatusSent {
		return nil, errs.Validationf("new invoice cannot start as %q", inv.Status)
	}

	inv.Recompute()
	if err := inv.ValidateInvariants(); err != nil {
		return nil, err
	}
	if _, err := s.dir.Resolve(ctx, inv.ClientID); err != nil {
		if errs.IsNotFound(err) {
			return nil, errs.Validationf("client %s does not resolve", inv.ClientID)
		}
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(inv).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errs.Validationf("invoice number %q already in use", inv.InvoiceNumber)
		}
		return nil, errs.Storagef("create invoice", err)
	}
	return inv, nil
}

// GetInvoice loads an invoice with its items. A sent invoice past its due
// date is reported and persisted as overdue; the persistence is conditional
// on the row still being sent, so it never downgrades paid or cancelled.
func (s *Store) GetInvoice(ctx context.Context, id string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Preload("Items").First(&inv, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.NotFoundf("invoice %s", id)
	}
	if err != nil {
		return nil, errs.Storagef("get invoice", err)
	}

	now := time.Now().UTC()
	if derived := models.DeriveStatus(inv.Status, inv.DueDate, now); derived != inv.Status {
		res := s.db.WithContext(ctx).Model(&models.Invoice{}).
			Where("id = ? AND status = ?", inv.ID, models.StatusSent).
			Update("status", models.StatusOverdue)
		if res.Error != nil {
			return nil, errs.Storagef("persist overdue status", res.Error)
		}
		if res.RowsAffected == 1 {
			inv.Status = models.StatusOverdue
		} else {
			// Lost a race against a concurrent transition; re-read.
			if err := s.db.WithContext(ctx).Preload("Items").First(&inv, "id = ?", inv.ID).Error; err != nil {
				return nil, errs.Storagef("reload invoice", err)
			}
		}
	}
	return &inv, nil
}

// ListInvoices returns invoices matching the filter, newest first. The
// overdue derivation is applied to the whole table first so readers never
// see a stale sent status.
func (s *Store) ListInvoices(ctx context.Context, f ListFilter) ([]models.Invoice, error) {
	now := time.Now().UTC()
	if err := s.db.WithContext(ctx).Model(&models.Invoice{}).
		Where("status = ? AND due_date < ?", models.StatusSent, now).
		Update("status", models.StatusOverdue).Error; err != nil {
		return nil, errs.Storagef("persist overdue statuses", err)
	}

	q := s.db.WithContext(ctx).Preload("Items").Order("created_at DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ClientID != "" {
		q = q.Where("client_id = ?", f.ClientID)
	}
	if f.RecurringDueBy != nil {
		q = q.Where("is_recurring AND next_invoice_date <= ?", *f.RecurringDueBy)
	}

	var out []models.Invoice
	if err := q.Find(&out).Error; err != nil {
		return nil, errs.Storagef("list invoices", err)
	}
	return out, nil
}

// UpdateInvoice applies a header patch and, when items is non-nil, replaces
// the full line-item set (delete-then-insert) in the same transaction.
// Totals are recomputed and every invariant re-checked before commit.
func (s *Store) UpdateInvoice(ctx context.Context, id string, patch InvoicePatch, items []models.InvoiceLineItem) (*models.Invoice, error) {
	// Resolve a changed client reference before the transaction opens.
	if patch.ClientID != nil {
		if _, err := s.dir.Resolve(ctx, *patch.ClientID); err != nil {
			if errs.IsNotFound(err) {
				return nil, errs.Validationf("client %s does not resolve", *patch.ClientID)
			}
			return nil, err
		}
	}

	var inv models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx).Preload("Items").First(&inv, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("invoice %s", id)
			}
			return errs.Storagef("load invoice", err)
		}

		if err := applyPatch(&inv, patch); err != nil {
			return err
		}

		if items != nil {
			if err := tx.Where("invoice_id = ?", inv.ID).Delete(&models.InvoiceLineItem{}).Error; err != nil {
				return errs.Storagef("replace line items", err)
			}
			for i := range items {
				items[i].ID = ""
				items[i].InvoiceID = inv.ID
			}
			inv.Items = items
		}

		inv.Recompute()
		if err := inv.ValidateInvariants(); err != nil {
			return err
		}

		if err := tx.Omit("Items").Save(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.Validationf("invoice number %q already in use", inv.InvoiceNumber)
			}
			return errs.Storagef("save invoice", err)
		}
		if items != nil {
			if err := tx.Create(&inv.Items).Error; err != nil {
				return errs.Storagef("insert line items", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// UpdateStatus runs one lifecycle transition. MarkSent and cancellation go
// through here.
func (s *Store) UpdateStatus(ctx context.Context, id string, requested models.Status) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockRow(tx).Preload("Items").First(&inv, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFoundf("invoice %s", id)
			}
			return errs.Storagef("load invoice", err)
		}
		next, err := models.ApplyTransition(inv.Status, requested, time.Now().UTC())
		if err != nil {
			return err
		}
		if next == inv.Status {
			return nil
		}
		inv.Status = next
		return tx.Model(&models.Invoice{}).Where("id = ?", inv.ID).
			Update("status", next).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// DeleteInvoice removes an invoice and its items. Deleting an absent id is
// a no-op.
func (s *Store) DeleteInvoice(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("invoice_id = ?", id).Delete(&models.InvoiceLineItem{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Invoice{}, "id = ?", id).Error
	})
	if err != nil {
		return errs.Storagef("delete invoice", err)
	}
	return nil
}

// lockRow takes a FOR UPDATE lock on the loaded row where the engine
// supports it, so concurrent header/item rewrites serialize per invoice.
// sqlite has a single writer and needs none.
func lockRow(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func applyPatch(inv *models.Invoice, patch InvoicePatch) error {
	if patch.Status != nil {
		next, err := models.ApplyTransition(inv.Status, *patch.Status, time.Now().UTC())
		if err != nil {
			return err
		}
		inv.Status = next
	}
	if patch.InvoiceNumber != nil && *patch.InvoiceNumber != inv.InvoiceNumber {
		// The number freezes once the invoice has left draft.
		if inv.Status != models.StatusDraft {
			return errs.Validationf("invoice number is immutable after sending")
		}
		inv.InvoiceNumber = *patch.InvoiceNumber
	}
	if patch.ClientID != nil {
		inv.ClientID = *patch.ClientID
	}
	if patch.IssueDate != nil {
		inv.IssueDate = *patch.IssueDate
	}
	if patch.DueDate != nil {
		inv.DueDate = *patch.DueDate
	}
	if patch.Tax != nil {
		inv.Tax = *patch.Tax
	}
	if patch.Discount != nil {
		inv.Discount = *patch.Discount
	}
	if patch.IsRecurring != nil {
		inv.IsRecurring = *patch.IsRecurring
		if !inv.IsRecurring {
			inv.Frequency = nil
			inv.NextInvoiceDate = nil
		}
	}
	if patch.Frequency != nil {
		f := *patch.Frequency
		inv.Frequency = &f
	}
	if patch.NextInvoiceDate != nil {
		d := *patch.NextInvoiceDate
		inv.NextInvoiceDate = &d
	}
	return nil
}
