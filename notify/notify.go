// Package notify is the Notification/Delivery collaborator boundary: the
// facade hands it "invoice ready to send" events and nothing else.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"billing-core/logger"
	"billing-core/models"

	"github.com/hashicorp/go-retryablehttp"
)

// InvoiceReadyEvent is the payload handed to the delivery collaborator when
// an invoice transitions to sent.
type InvoiceReadyEvent struct {
	InvoiceID     string    `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	ClientID      string    `json:"client_id"`
	Total         string    `json:"total"`
	DueDate       time.Time `json:"due_date"`
	SentAt        time.Time `json:"sent_at"`
}

type Notifier interface {
	InvoiceReady(ctx context.Context, inv *models.Invoice) error
}

// HTTPNotifier POSTs events to the delivery service with retries. Delivery
// failures are the collaborator's problem to recover; callers only log them.
type HTTPNotifier struct {
	url    string
	client *retryablehttp.Client
}

func NewHTTPNotifier(url string, log *logger.Logger) *HTTPNotifier {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.Logger = nil
	return &HTTPNotifier{url: url, client: c}
}

func (n *HTTPNotifier) InvoiceReady(ctx context.Context, inv *models.Invoice) error {
	evt := InvoiceReadyEvent{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		ClientID:      inv.ClientID,
		Total:         inv.Total.StringFixed(2),
		DueDate:       inv.DueDate,
		SentAt:        time.Now().UTC(),
	}
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode invoice-ready event: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver invoice-ready event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("deliver invoice-ready event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier records events without delivering them. Used when NOTIFY_URL
// is unset and in tests.
type LogNotifier struct {
	log *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) InvoiceReady(ctx context.Context, inv *models.Invoice) error {
	n.log.Infow("invoice ready to send",
		"invoice_id", inv.ID,
		"invoice_number", inv.InvoiceNumber,
		"client_id", inv.ClientID,
	)
	return nil
}
