// Package scheduler drives recurring invoice generation: each pass scans
// for due recurring invoices and materializes one successor per candidate
// per period, safely under retries and concurrent runs.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"billing-core/errs"
	"billing-core/logger"
	"billing-core/models"
	"billing-core/store"
)

type Scheduler struct {
	store    *store.Store
	log      *logger.Logger
	interval time.Duration

	// runMu prevents overlapping passes in this process. Correctness does
	// not depend on it: the store's conditional claim is what keeps
	// generation single-effect per period.
	runMu sync.Mutex
}

func New(st *store.Store, log *logger.Logger, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{store: st, log: log, interval: interval}
}

// Run ticks until the context is cancelled. A pass still running when the
// next tick fires is skipped, not stacked.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Infow("recurring scheduler started", "interval", s.interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Infow("recurring scheduler stopped")
			return
		case <-ticker.C:
			if n, err := s.RunPass(ctx, time.Now().UTC()); err != nil {
				s.log.Errorw("scheduler pass failed", "error", err)
			} else if n > 0 {
				s.log.Infow("scheduler pass complete", "generated", n)
			}
		}
	}
}

// RunPass processes every due candidate once and returns how many successor
// invoices were created. A failing candidate is logged and skipped; it stays
// due and is retried on the next pass.
func (s *Scheduler) RunPass(ctx context.Context, now time.Time) (int, error) {
	if !s.runMu.TryLock() {
		s.log.Debugw("scheduler pass already running, skipping tick")
		return 0, nil
	}
	defer s.runMu.Unlock()

	candidates, err := s.listDue(ctx, now)
	if err != nil {
		return 0, err
	}

	generated := 0
	for i := range candidates {
		src := &candidates[i]
		if err := ctx.Err(); err != nil {
			return generated, err
		}

		// A candidate whose billing party no longer resolves is skipped,
		// never fatal to the batch.
		if err := s.store.ResolveClient(ctx, src.ClientID); err != nil {
			s.log.Warnw("skipping recurring candidate, client unresolved",
				"invoice_id", src.ID, "client_id", src.ClientID, "error", err)
			continue
		}

		successor, err := s.generate(ctx, src, now)
		if err != nil {
			s.log.Errorw("recurring generation failed",
				"invoice_id", src.ID, "error", err)
			continue
		}
		if successor != nil {
			generated++
			s.log.Infow("generated recurring successor",
				"source_id", src.ID,
				"successor_id", successor.ID,
				"successor_number", successor.InvoiceNumber)
		}
	}
	return generated, nil
}

func (s *Scheduler) listDue(ctx context.Context, now time.Time) ([]models.Invoice, error) {
	var out []models.Invoice
	op := func() error {
		var err error
		out, err = s.store.ListRecurringDue(ctx, now)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, passBackoff(ctx)); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Scheduler) generate(ctx context.Context, src *models.Invoice, now time.Time) (*models.Invoice, error) {
	var successor *models.Invoice
	op := func() error {
		var err error
		successor, err = s.store.GenerateSuccessor(ctx, src, now)
		return retryableOnly(err)
	}
	if err := backoff.Retry(op, passBackoff(ctx)); err != nil {
		return nil, err
	}
	return successor, nil
}

// retryableOnly marks everything but transient storage failures permanent so
// backoff gives up immediately on validation-class errors.
func retryableOnly(err error) error {
	if err == nil {
		return nil
	}
	if errs.IsStorage(err) {
		return err
	}
	return backoff.Permanent(err)
}

func passBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(b, ctx)
}
