// Package sweeper reclaims stock held by orders whose payment window lapsed.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultWindow   = 30 * time.Minute
	DefaultBatch    = 100
)

// Expirer is the part of orders.Service the sweep drives.
type Expirer interface {
	ExpireOrder(ctx context.Context, orderID string, cutoff time.Time) (bool, error)
	Now() time.Time
}

// Candidates lists expired PENDING orders.
type Candidates interface {
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

type Sweeper struct {
	orders     Expirer
	candidates Candidates
	interval   time.Duration
	window     time.Duration
	batch      int
	log        *zap.Logger
}

type Report struct {
	Scanned   int
	Cancelled int
	Skipped   int
	Failed    int
}

func New(svc Expirer, candidates Candidates, interval, window time.Duration, batch int, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if batch <= 0 {
		batch = DefaultBatch
	}
	return &Sweeper{orders: svc, candidates: candidates, interval: interval, window: window, batch: batch, log: log}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("expiry sweep started", zap.Duration("interval", s.interval), zap.Duration("window", s.window))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.ReclaimExpiredOrders(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ReclaimExpiredOrders cancels every PENDING order older than the payment
// window and returns its stock. Each order runs in its own transaction; a
// failure is logged and left for the next run.
func (s *Sweeper) ReclaimExpiredOrders(ctx context.Context) Report {
	var rep Report
	cutoff := s.orders.Now().Add(-s.window)

	ids, err := s.candidates.ListExpiredPending(ctx, cutoff, s.batch)
	if err != nil {
		s.log.Error("list expired orders", zap.Error(err))
		return rep
	}
	rep.Scanned = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		expired, err := s.orders.ExpireOrder(ctx, id, cutoff)
		switch {
		case err != nil:
			rep.Failed++
			s.log.Error("expire order failed", zap.String("order_id", id), zap.Error(err))
		case expired:
			rep.Cancelled++
			s.log.Info("expired order cancelled", zap.String("order_id", id))
		default:
			rep.Skipped++
		}
	}

	if rep.Scanned > 0 {
		s.log.Info("expiry sweep finished",
			zap.Int("scanned", rep.Scanned),
			zap.Int("cancelled", rep.Cancelled),
			zap.Int("skipped", rep.Skipped),
			zap.Int("failed", rep.Failed))
	}
	return rep
}
