package controllers

import (
	"net/http"

	"billing-core/errs"
	"billing-core/logger"
	"billing-core/reconciler"
	"billing-core/store"

	"github.com/gofiber/fiber/v2"
)

// BillingController exposes the reconciled billing state and the provider
// webhook ingress.
type BillingController struct {
	store    *store.Store
	verifier *reconciler.Verifier
	rec      *reconciler.Reconciler
	log      *logger.Logger
}

func NewBillingController(st *store.Store, v *reconciler.Verifier, rec *reconciler.Reconciler, log *logger.Logger) *BillingController {
	return &BillingController{store: st, verifier: v, rec: rec, log: log}
}

func (bc *BillingController) GetSubscription(c *fiber.Ctx) error {
	sub, err := bc.store.GetSubscription(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(sub)
}

// HandleProviderEvent is the single webhook ingress. Verification precedes
// dispatch; unverifiable deliveries are rejected with 400 and no state
// change. Verified events are always acknowledged — duplicates and stale
// versions included — so the provider stops redelivering them.
func (bc *BillingController) HandleProviderEvent(c *fiber.Ctx) error {
	headers := make(http.Header)
	for k, vals := range c.GetReqHeaders() {
		for _, v := range vals {
			headers.Add(k, v)
		}
	}

	evt, err := bc.verifier.Verify(c.Body(), headers)
	if err != nil {
		return err
	}

	if err := bc.rec.Apply(c.Context(), evt); err != nil {
		if errs.IsStorage(err) {
			// 5xx: the provider redelivers and the handlers are idempotent.
			return err
		}
		// A verified but unprocessable payload will not improve on retry;
		// ack it and keep the failure on the audit row.
		bc.log.Warnw("acknowledging unprocessable event",
			"event_id", evt.ID, "type", evt.Type, "error", err)
	}
	return c.JSON(fiber.Map{"received": true})
}
