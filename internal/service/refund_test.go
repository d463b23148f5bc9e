package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/event-booking/internal/model"
	"github.com/iliyamo/event-booking/internal/repository"
)

func TestRefundTierBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		remaining time.Duration
		percent   int
		ok        bool
	}{
		{"well before", 72 * time.Hour, 100, true},
		{"just over 48h", 48*time.Hour + time.Second, 100, true},
		{"exactly 48h falls to half", 48 * time.Hour, 50, true},
		{"just over 24h", 24*time.Hour + time.Second, 50, true},
		{"exactly 24h rejected", 24 * time.Hour, 0, false},
		{"inside final day", 2 * time.Hour, 0, false},
		{"session started", -time.Hour, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			percent, ok := RefundTier(tc.remaining)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.percent, percent)
		})
	}
}

func TestRefundableAmount(t *testing.T) {
	starts := time.Date(2026, 9, 10, 18, 0, 0, 0, time.UTC)

	amount, err := RefundableAmount(5000, starts, starts.Add(-49*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, uint32(5000), amount)

	amount, err = RefundableAmount(5000, starts, starts.Add(-30*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, uint32(2500), amount)

	// Odd amounts round down on the half tier.
	amount, err = RefundableAmount(4999, starts, starts.Add(-30*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, uint32(2499), amount)

	_, err = RefundableAmount(5000, starts, starts.Add(-23*time.Hour))
	assert.ErrorIs(t, err, repository.ErrRefundNotAllowed)
}

func TestRefundRetryable(t *testing.T) {
	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	at := func(age time.Duration, status model.RefundStatus) *model.Refund {
		return &model.Refund{Status: status, CreatedAt: now.Add(-age)}
	}

	// A gateway rejection may always be retried.
	assert.True(t, refundRetryable(at(time.Second, model.RefundFailed), now))

	// A fresh PROCESSING row belongs to an in-flight gateway call and
	// must not be reopened underneath it.
	assert.False(t, refundRetryable(at(time.Minute, model.RefundProcessing), now))

	// One stalled past the grace window was orphaned by a crash
	// before the gateway call; re-approval picks it back up.
	assert.True(t, refundRetryable(at(refundStuckAfter, model.RefundProcessing), now))
	assert.True(t, refundRetryable(at(time.Hour, model.RefundProcessing), now))

	// Money that already moved is never re-sent.
	assert.False(t, refundRetryable(at(time.Hour, model.RefundSuccess), now))
}

func TestParseProcessAction(t *testing.T) {
	a, err := ParseProcessAction("approve")
	assert.NoError(t, err)
	assert.Equal(t, ActionApprove, a)

	a, err = ParseProcessAction("reject")
	assert.NoError(t, err)
	assert.Equal(t, ActionReject, a)

	_, err = ParseProcessAction("escalate")
	assert.Error(t, err)
}
