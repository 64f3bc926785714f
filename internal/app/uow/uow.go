package uow

import (
	"context"

	"rentalcore/internal/app/outbox"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
)

var (
	// ErrConcurrentUpdate is returned by Save or Commit when the stored row
	// version no longer matches the one that was read.
	ErrConcurrentUpdate = fault.Conflict("uow: concurrent update detected")
	ErrUnitClosed       = fault.InvalidState("uow: unit already committed or rolled back")
)

// UnitOfWork groups every write of one transition behind a single commit.
type UnitOfWork interface {
	Bookings() domainbooking.Repository
	Accommodations() domainoccupancy.AccommodationRepository
	Properties() domainoccupancy.PropertyRepository
	Outbox() outbox.Outbox

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UoWFactory starts unit of work instances.
type UoWFactory interface {
	Begin(ctx context.Context, opts TxOptions) (UnitOfWork, error)
}

// TxOptions configure transaction boundaries.
type TxOptions struct {
	ReadOnly bool
	// LockRows asks backends that support it to take row locks on reads
	// (SELECT ... FOR UPDATE) instead of relying on the version check alone.
	LockRows bool
}
