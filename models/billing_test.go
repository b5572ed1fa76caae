package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSubscriptionSupersedes(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	evt := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	sub := &Subscription{CurrentPeriodEnd: base, LastEventAt: evt}

	assert.True(t, sub.Supersedes(base.AddDate(0, 1, 0), evt), "later period wins regardless of event time")
	assert.False(t, sub.Supersedes(base.AddDate(0, -1, 0), evt.Add(time.Hour)), "earlier period loses regardless of event time")

	// Same period: the provider event timestamp breaks the tie.
	assert.True(t, sub.Supersedes(base, evt.Add(time.Minute)))
	assert.False(t, sub.Supersedes(base, evt.Add(-time.Minute)))
	assert.False(t, sub.Supersedes(base, evt), "identical version signal is a duplicate, not an update")
}
