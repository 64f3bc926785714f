package schedule

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rentalcore/internal/app/reconcile"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	"rentalcore/internal/domain/shared/fault"
)

var ErrSweepNotConfigured = errors.New("schedule: expiry sweep missing units or expirer")

const defaultSweepBatch = 100

// Expirer cancels one stale pending booking.
type Expirer interface {
	Expire(ctx context.Context, id domainbooking.BookingID) (reconcile.Result, error)
}

// Report summarises one sweep pass.
type Report struct {
	Scanned int
	Expired int
	Skipped int
	Failed  int
}

// ExpirySweep cancels pending bookings whose requested day has passed. Each
// booking goes through the coordinator, so an owner decision racing the sweep
// wins or loses like any other transition.
type ExpirySweep struct {
	Units     uow.UoWFactory
	Expirer   Expirer
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
	Logger    *slog.Logger
}

// Run sweeps every Interval until ctx is done. A zero interval disables the
// loop.
func (s *ExpirySweep) Run(ctx context.Context) error {
	if s.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			if s.Logger != nil {
				s.Logger.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// RunOnce expires one batch of stale bookings.
func (s *ExpirySweep) RunOnce(ctx context.Context) (Report, error) {
	if s.Units == nil || s.Expirer == nil {
		return Report{}, ErrSweepNotConfigured
	}
	startOfDay := s.now().Truncate(24 * time.Hour)
	unit, execCtx, cleanup, err := uow.BeginReadOnly(ctx, s.Units)
	if err != nil {
		return Report{}, err
	}
	stale, err := unit.Bookings().ListStalePending(execCtx, startOfDay, s.batchSize())
	if cleanup != nil {
		cleanup()
	}
	if err != nil {
		return Report{}, err
	}

	report := Report{Scanned: len(stale)}
	for _, b := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := s.Expirer.Expire(ctx, b.ID)
		switch {
		case err == nil && res.Changed:
			report.Expired++
		case err == nil, errors.Is(err, fault.ErrInvalidState):
			report.Skipped++
		default:
			report.Failed++
			if s.Logger != nil {
				s.Logger.Warn("expire booking failed", "booking_id", b.ID, "error", err)
			}
		}
	}
	if s.Logger != nil && report.Scanned > 0 {
		s.Logger.Info("expiry sweep finished",
			"scanned", report.Scanned,
			"expired", report.Expired,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (s *ExpirySweep) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *ExpirySweep) batchSize() int {
	if s.BatchSize > 0 {
		return s.BatchSize
	}
	return defaultSweepBatch
}
