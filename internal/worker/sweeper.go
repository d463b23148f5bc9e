// Package worker hosts the background reconciliation loop.
package worker

import (
	"context"
	"log"
	"time"

	"github.com/iliyamo/event-booking/internal/service"
)

// Sweeper periodically persists the EXPIRED transition for lapsed
// holds.  Reads never depend on it (hold expiry is computed lazily
// from created_at), so the interval only bounds how stale the stored
// rows may get, not correctness.
type Sweeper struct {
	booking  *service.BookingService
	interval time.Duration
}

// NewSweeper constructs a Sweeper.  A non-positive interval falls
// back to one minute.
func NewSweeper(booking *service.BookingService, interval time.Duration) *Sweeper {
	if booking == nil {
		panic("nil booking service passed to NewSweeper")
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{booking: booking, interval: interval}
}

// Run blocks and sweeps on every tick until ctx is cancelled.  An
// initial sweep runs immediately so restarts do not wait a full
// interval to reconcile holds that lapsed while the server was down.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("sweeper: stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.booking.ExpireStale(ctx)
	if err != nil {
		log.Printf("sweeper: pass failed: %v", err)
		return
	}
	if n > 0 {
		log.Printf("sweeper: expired %d lapsed registrations", n)
	}
}
