package controllers

import (
	"time"

	"billing-core/logger"
	"billing-core/middlewares"
	"billing-core/models"
	"billing-core/notify"
	"billing-core/store"
	"billing-core/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// InvoiceController is the command/query facade over the invoice store.
type InvoiceController struct {
	store    *store.Store
	notifier notify.Notifier
	log      *logger.Logger
}

func NewInvoiceController(st *store.Store, n notify.Notifier, log *logger.Logger) *InvoiceController {
	return &InvoiceController{store: st, notifier: n, log: log}
}

type lineItemDTO struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type createInvoiceDTO struct {
	InvoiceNumber   string          `json:"invoice_number" validate:"required"`
	ClientID        string          `json:"client_id" validate:"required"`
	Status          string          `json:"status" validate:"omitempty,oneof=draft sent"`
	IssueDate       time.Time       `json:"issue_date" validate:"required"`
	DueDate         time.Time       `json:"due_date" validate:"required"`
	Tax             decimal.Decimal `json:"tax"`
	Discount        decimal.Decimal `json:"discount"`
	IsRecurring     bool            `json:"is_recurring"`
	Frequency       *string         `json:"frequency" validate:"omitempty,oneof=weekly biweekly monthly quarterly annually"`
	NextInvoiceDate *time.Time      `json:"next_invoice_date"`
	Items           []lineItemDTO   `json:"items" validate:"required,min=1,dive"`
}

type updateInvoiceDTO struct {
	InvoiceNumber   *string          `json:"invoice_number"`
	ClientID        *string          `json:"client_id"`
	Status          *string          `json:"status" validate:"omitempty,oneof=draft sent paid cancelled"`
	IssueDate       *time.Time       `json:"issue_date"`
	DueDate         *time.Time       `json:"due_date"`
	Tax             *decimal.Decimal `json:"tax"`
	Discount        *decimal.Decimal `json:"discount"`
	IsRecurring     *bool            `json:"is_recurring"`
	Frequency       *string          `json:"frequency" validate:"omitempty,oneof=weekly biweekly monthly quarterly annually"`
	NextInvoiceDate *time.Time       `json:"next_invoice_date"`
	Items           *[]lineItemDTO   `json:"items" validate:"omitempty,min=1,dive"`
}

func (ic *InvoiceController) Create(c *fiber.Ctx) error {
	var dto createInvoiceDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizeDTO(&dto)

	inv := &models.Invoice{
		InvoiceNumber:   dto.InvoiceNumber,
		ClientID:        dto.ClientID,
		Status:          models.Status(dto.Status),
		IssueDate:       dto.IssueDate,
		DueDate:         dto.DueDate,
		Tax:             dto.Tax,
		Discount:        dto.Discount,
		IsRecurring:     dto.IsRecurring,
		NextInvoiceDate: dto.NextInvoiceDate,
		Items:           toItems(dto.Items),
	}
	if dto.Frequency != nil {
		f := models.Frequency(*dto.Frequency)
		inv.Frequency = &f
	}

	created, err := ic.store.CreateInvoice(c.Context(), inv)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(created)
}

func (ic *InvoiceController) Get(c *fiber.Ctx) error {
	inv, err := ic.store.GetInvoice(c.Context(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(inv)
}

func (ic *InvoiceController) List(c *fiber.Ctx) error {
	f := store.ListFilter{
		Status:   models.Status(c.Query("status")),
		ClientID: c.Query("client_id"),
	}
	if c.QueryBool("recurring_due") {
		now := time.Now().UTC()
		f.RecurringDueBy = &now
	}
	invoices, err := ic.store.ListInvoices(c.Context(), f)
	if err != nil {
		return err
	}
	return c.JSON(invoices)
}

func (ic *InvoiceController) Update(c *fiber.Ctx) error {
	var dto updateInvoiceDTO
	if err := middlewares.BindAndValidate(c, &dto); err != nil {
		return err
	}
	utils.NormalizePtrDTO(&dto)

	patch := store.InvoicePatch{
		InvoiceNumber:   dto.InvoiceNumber,
		ClientID:        dto.ClientID,
		IssueDate:       dto.IssueDate,
		DueDate:         dto.DueDate,
		Tax:             dto.Tax,
		Discount:        dto.Discount,
		IsRecurring:     dto.IsRecurring,
		NextInvoiceDate: dto.NextInvoiceDate,
	}
	if dto.Status != nil {
		st := models.Status(*dto.Status)
		patch.Status = &st
	}
	if dto.Frequency != nil {
		f := models.Frequency(*dto.Frequency)
		patch.Frequency = &f
	}
	var items []models.InvoiceLineItem
	if dto.Items != nil {
		items = toItems(*dto.Items)
	}

	inv, err := ic.store.UpdateInvoice(c.Context(), c.Params("id"), patch, items)
	if err != nil {
		return err
	}
	return c.JSON(inv)
}

func (ic *InvoiceController) Delete(c *fiber.Ctx) error {
	if err := ic.store.DeleteInvoice(c.Context(), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// MarkSent transitions the invoice to sent and hands it to the delivery
// collaborator. Delivery failure does not roll back the transition; the
// sink owns redelivery.
func (ic *InvoiceController) MarkSent(c *fiber.Ctx) error {
	inv, err := ic.store.UpdateStatus(c.Context(), c.Params("id"), models.StatusSent)
	if err != nil {
		return err
	}
	if err := ic.notifier.InvoiceReady(c.Context(), inv); err != nil {
		ic.log.Warnw("invoice-ready notification failed",
			"invoice_id", inv.ID, "error", err)
	}
	return c.JSON(inv)
}

func toItems(dtos []lineItemDTO) []models.InvoiceLineItem {
	items := make([]models.InvoiceLineItem, 0, len(dtos))
	for _, d := range dtos {
		items = append(items, models.InvoiceLineItem{
			Description: d.Description,
			Quantity:    d.Quantity,
			UnitPrice:   d.UnitPrice,
		})
	}
	return items
}
