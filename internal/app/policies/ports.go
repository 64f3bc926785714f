package policies

import (
	"context"

	domainoccupancy "rentalcore/internal/domain/occupancy"
)

// Authorizer answers who may act on an accommodation. Identity itself is
// established upstream.
type Authorizer interface {
	IsOwner(ctx context.Context, accommodationID domainoccupancy.AccommodationID, userID string) (bool, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

type Notifier interface {
	Notify(ctx context.Context, userID string, template string, payload map[string]string) error
}

type Reputation interface {
	ApplyDelta(ctx context.Context, landlordID string, delta int, reason string) error
}

type Loyalty interface {
	CreditPoints(ctx context.Context, userID string, points int, reason string) error
}
