package database

import (
	"fmt"

	"billing-core/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns/index tags)
// - Money column types (NUMERIC(12,2))
// - Uniqueness for billing-history dedup and webhook-event dedup
// - Basic CHECK constraints backing the write-time invariants
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.Invoice{},
			&models.InvoiceLineItem{},
			&models.Subscription{},
			&models.BillingHistoryEntry{},
			&models.WebhookEvent{},
			&models.IdempotencyKey{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		// Skip the raw-SQL hardening on non-Postgres dialects (tests run on
		// sqlite, where AutoMigrate alone carries the unique indexes).
		if tx.Dialector.Name() != "postgres" {
			return nil
		}

		alters := []string{
			`ALTER TABLE invoices           ALTER COLUMN subtotal   TYPE numeric(12,2)`,
			`ALTER TABLE invoices           ALTER COLUMN tax        TYPE numeric(12,2)`,
			`ALTER TABLE invoices           ALTER COLUMN discount   TYPE numeric(12,2)`,
			`ALTER TABLE invoices           ALTER COLUMN total      TYPE numeric(12,2)`,
			`ALTER TABLE invoice_line_items ALTER COLUMN unit_price TYPE numeric(12,2)`,
			`ALTER TABLE invoice_line_items ALTER COLUMN amount     TYPE numeric(12,2)`,
			`ALTER TABLE billing_history_entries ALTER COLUMN amount TYPE numeric(12,2)`,
		}
		for _, stmt := range alters {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("money type migration failed on: %s - %w", stmt, err)
			}
		}

		indexes := []string{
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_billing_history_provider_invoice ON billing_history_entries (provider_invoice_id)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_webhook_events_provider_event ON webhook_events (provider_event_id)`,
			`CREATE INDEX IF NOT EXISTS idx_invoices_recurring_due ON invoices (next_invoice_date) WHERE is_recurring`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_idempotency_keys_key ON idempotency_keys (key)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		checks := []string{
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'invoice_line_items'::regclass
					  AND conname  = 'chk_line_items_quantity_pos'
				) THEN
					ALTER TABLE invoice_line_items
					ADD CONSTRAINT chk_line_items_quantity_pos
					CHECK (quantity > 0);
				END IF;
			END $$;`,
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'invoice_line_items'::regclass
					  AND conname  = 'chk_line_items_unit_price_nonneg'
				) THEN
					ALTER TABLE invoice_line_items
					ADD CONSTRAINT chk_line_items_unit_price_nonneg
					CHECK (unit_price >= 0);
				END IF;
			END $$;`,
			`DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM pg_constraint
					WHERE conrelid = 'invoices'::regclass
					  AND conname  = 'chk_invoices_due_after_issue'
				) THEN
					ALTER TABLE invoices
					ADD CONSTRAINT chk_invoices_due_after_issue
					CHECK (due_date >= issue_date);
				END IF;
			END $$;`,
		}
		for _, stmt := range checks {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed: %w", err)
			}
		}

		return nil
	})
}
