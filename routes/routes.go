package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"billing-core/controllers"
	"billing-core/middlewares"
)

// Register wires all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, inv *controllers.InvoiceController, billing *controllers.BillingController) {
	api := app.Group("/api")

	// Provider webhook ingress: no idempotency guard here — the reconciler
	// dedups by provider event id itself.
	api.Post("/webhooks/billing", billing.HandleProviderEvent)

	// Facade commands/queries. Idempotency guard FIRST so duplicate command
	// deliveries replay the stored response instead of re-executing.
	facade := api.Group("")
	facade.Use(middlewares.Idempotency(db))

	// Invoices
	facade.Post("/invoice", inv.Create)
	facade.Get("/invoices", inv.List)
	facade.Get("/invoice/:id", inv.Get)
	facade.Put("/invoice/:id", inv.Update)
	facade.Delete("/invoice/:id", inv.Delete)
	facade.Put("/invoice/:id/send", inv.MarkSent)

	// Billing status
	facade.Get("/billing/subscription/:id", billing.GetSubscription)
}
