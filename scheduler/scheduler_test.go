package scheduler

import (
	"context"
	"testing"
	"time"

	"billing-core/logger"
	"billing-core/models"
	"billing-core/store"
	"billing-core/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store, *testutil.FakeDirectory, *gorm.DB) {
	t.Helper()
	db := testutil.NewTestDB(t)
	dir := testutil.NewFakeDirectory("client-1")
	st := store.New(db, dir)
	return New(st, logger.NewNop(), time.Minute), st, dir, db
}

func recurringInvoice(t *testing.T, st *store.Store, number string, issue, due, next time.Time) *models.Invoice {
	t.Helper()
	f := models.FrequencyMonthly
	inv := &models.Invoice{
		InvoiceNumber:   number,
		ClientID:        "client-1",
		IssueDate:       issue,
		DueDate:         due,
		IsRecurring:     true,
		Frequency:       &f,
		NextInvoiceDate: &next,
		Items: []models.InvoiceLineItem{
			{Description: "retainer", Quantity: 1, UnitPrice: decimal.RequireFromString("250.00")},
		},
	}
	created, err := st.CreateInvoice(context.Background(), inv)
	require.NoError(t, err)
	return created
}

// Source issued 2024-01-01 due 2024-01-15 (14-day term), monthly, next due
// 2024-02-01. A pass on 2024-02-02 generates one successor issued that day
// with the term preserved, and advances the source to 2024-03-01.
func TestRunPassGeneratesSuccessor(t *testing.T) {
	sched, st, _, db := newTestScheduler(t)
	ctx := context.Background()

	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	src := recurringInvoice(t, st, "INV-200", issue, due, next)

	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	n, err := sched.RunPass(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var successors []models.Invoice
	require.NoError(t, db.Preload("Items").
		Where("id <> ?", src.ID).Find(&successors).Error)
	require.Len(t, successors, 1)

	successor := successors[0]
	assert.Equal(t, models.StatusDraft, successor.Status)
	assert.True(t, successor.IssueDate.Equal(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)))
	assert.True(t, successor.DueDate.Equal(time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)))
	assert.False(t, successor.IsRecurring)
	require.Len(t, successor.Items, 1)
	assert.Equal(t, "retainer", successor.Items[0].Description)
	assert.True(t, successor.Subtotal.Equal(decimal.RequireFromString("250.00")))

	var reloaded models.Invoice
	require.NoError(t, db.First(&reloaded, "id = ?", src.ID).Error)
	require.NotNil(t, reloaded.NextInvoiceDate)
	assert.True(t, reloaded.NextInvoiceDate.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
}

// Running the pass N times against the same due candidate produces exactly
// one successor and one advance.
func TestRunPassIsIdempotent(t *testing.T) {
	sched, st, _, db := newTestScheduler(t)
	ctx := context.Background()

	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	recurringInvoice(t, st, "INV-201", issue, due, next)

	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	total := 0
	for i := 0; i < 5; i++ {
		n, err := sched.RunPass(ctx, now)
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, 1, total)

	var count int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

// A retried generation against a stale candidate snapshot loses the claim
// and creates nothing.
func TestGenerateSuccessorClaimRace(t *testing.T) {
	_, st, _, db := newTestScheduler(t)
	ctx := context.Background()

	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	src := recurringInvoice(t, st, "INV-202", issue, due, next)

	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	first, err := st.GenerateSuccessor(ctx, src, now)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Same stale snapshot again: the re-check inside the transaction wins.
	second, err := st.GenerateSuccessor(ctx, src, now)
	require.NoError(t, err)
	assert.Nil(t, second)

	var count int64
	require.NoError(t, db.Model(&models.Invoice{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}

func TestRunPassSkipsUnresolvedClient(t *testing.T) {
	sched, st, dir, db := newTestScheduler(t)
	ctx := context.Background()

	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	src := recurringInvoice(t, st, "INV-203", issue, due, next)

	dir.Forget("client-1")

	now := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	n, err := sched.RunPass(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The candidate stays due for the next pass.
	var reloaded models.Invoice
	require.NoError(t, db.First(&reloaded, "id = ?", src.ID).Error)
	require.NotNil(t, reloaded.NextInvoiceDate)
	assert.True(t, reloaded.NextInvoiceDate.Equal(next))
}

func TestRunPassNothingDue(t *testing.T) {
	sched, st, _, _ := newTestScheduler(t)
	ctx := context.Background()

	issue := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	next := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	recurringInvoice(t, st, "INV-204", issue, due, next)

	n, err := sched.RunPass(ctx, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Zero(t, n)
}
