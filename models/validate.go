package models

import "billing-core/errs"

// ValidateInvariants checks the standing invariants enforced on every write.
// Recompute must have run first so the monetary fields reflect the items.
func (inv *Invoice) ValidateInvariants() error {
	if len(inv.Items) == 0 {
		return errs.Validationf("invoice requires at least one line item")
	}
	for i, it := range inv.Items {
		if it.Quantity <= 0 {
			return errs.Validationf("line item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return errs.Validationf("line item %d: unit price must not be negative", i)
		}
	}
	if inv.DueDate.Before(inv.IssueDate) {
		return errs.Validationf("due date %s precedes issue date %s",
			inv.DueDate.Format("2006-01-02"), inv.IssueDate.Format("2006-01-02"))
	}
	if !inv.Status.Valid() {
		return errs.Validationf("unknown status %q", inv.Status)
	}
	if inv.IsRecurring {
		if inv.Frequency == nil || !inv.Frequency.Valid() {
			return errs.Validationf("recurring invoice requires a valid frequency")
		}
		if inv.NextInvoiceDate == nil {
			return errs.Validationf("recurring invoice requires next_invoice_date")
		}
	} else if inv.Frequency != nil || inv.NextInvoiceDate != nil {
		return errs.Validationf("frequency/next_invoice_date set on non-recurring invoice")
	}
	return nil
}
