package occupancy

import (
	"context"
	"time"

	"rentalcore/internal/domain/shared/fault"
)

var (
	ErrAccommodationNotFound = fault.NotFound("occupancy: accommodation not found")
	ErrPropertyNotFound      = fault.NotFound("occupancy: property not found")
	ErrRoomTaken             = fault.CapacityExceeded("occupancy: accommodation no longer available")
	ErrPropertyFull          = fault.CapacityExceeded("occupancy: property has no free rooms")
	ErrNotOpen               = fault.Validation("occupancy: accommodation is not open for requests")
	ErrInvalidRooms          = fault.Validation("occupancy: total rooms must be non-negative")
	ErrPropertyMismatch      = fault.Validation("occupancy: accommodation does not belong to property")
	ErrOverCapacity          = fault.InvalidState("occupancy: more rented rooms than property capacity")
)

type AccommodationID string
type PropertyID string

type RoomStatus string

const (
	RoomAvailable RoomStatus = "available"
	RoomRented    RoomStatus = "rented"
	// RoomPending marks a listing that is not yet open (under review).
	RoomPending RoomStatus = "pending"
)

func (s RoomStatus) Valid() bool {
	switch s {
	case RoomAvailable, RoomRented, RoomPending:
		return true
	}
	return false
}

type Accommodation struct {
	ID         AccommodationID
	PropertyID PropertyID
	OwnerID    string
	Status     RoomStatus
	PriceCents int64
	Version    int64
	UpdatedAt  time.Time
}

// Standalone reports whether the accommodation is a single-unit listing with
// no parent property.
func (a *Accommodation) Standalone() bool {
	return a.PropertyID == ""
}

// LockKey is the serialization scope for transitions touching this room: the
// parent property, or the room itself when standalone.
func (a *Accommodation) LockKey() string {
	if a.Standalone() {
		return "accommodation:" + string(a.ID)
	}
	return "property:" + string(a.PropertyID)
}

// AcceptsRequests reports whether tenants may submit new booking requests.
// A rented room still takes requests; capacity is checked on confirmation.
func (a *Accommodation) AcceptsRequests() error {
	switch a.Status {
	case RoomAvailable, RoomRented:
		return nil
	default:
		return ErrNotOpen
	}
}

type Property struct {
	ID            PropertyID
	LandlordID    string
	TotalRooms    int
	OccupiedRooms int
	Version       int64
	UpdatedAt     time.Time
}

func (p *Property) FreeRooms() int {
	free := p.TotalRooms - p.OccupiedRooms
	if free < 0 {
		return 0
	}
	return free
}

// Occupy moves an available room to rented and, when it belongs to a
// property, takes one room from the property's pool. Nothing is mutated when
// an error is returned.
func Occupy(a *Accommodation, p *Property, now time.Time) error {
	if a.Status != RoomAvailable {
		return ErrRoomTaken
	}
	if p != nil {
		if p.ID != a.PropertyID {
			return ErrPropertyMismatch
		}
		if p.OccupiedRooms >= p.TotalRooms {
			return ErrPropertyFull
		}
		p.OccupiedRooms++
		p.UpdatedAt = now.UTC()
	}
	a.Status = RoomRented
	a.UpdatedAt = now.UTC()
	return nil
}

// Vacate is the inverse of Occupy. It reports false when the room was not
// rented, in which case nothing changes.
func Vacate(a *Accommodation, p *Property, now time.Time) (bool, error) {
	if a.Status != RoomRented {
		return false, nil
	}
	if p != nil {
		if p.ID != a.PropertyID {
			return false, ErrPropertyMismatch
		}
		if p.OccupiedRooms > 0 {
			p.OccupiedRooms--
		}
		p.UpdatedAt = now.UTC()
	}
	a.Status = RoomAvailable
	a.UpdatedAt = now.UTC()
	return true, nil
}

// Drift describes a difference between the stored counter and the rented
// rooms actually found under a property.
type Drift struct {
	PropertyID PropertyID
	Stored     int
	Counted    int
}

func (d Drift) Repaired() bool { return d.Stored != d.Counted }

// Recount sets OccupiedRooms to the number of rented rooms in rooms. Rooms
// belonging to other properties are ignored.
func Recount(p *Property, rooms []*Accommodation, now time.Time) (Drift, error) {
	counted := 0
	for _, room := range rooms {
		if room == nil || room.PropertyID != p.ID {
			continue
		}
		if room.Status == RoomRented {
			counted++
		}
	}
	drift := Drift{PropertyID: p.ID, Stored: p.OccupiedRooms, Counted: counted}
	if counted > p.TotalRooms {
		return drift, ErrOverCapacity
	}
	if drift.Repaired() {
		p.OccupiedRooms = counted
		p.UpdatedAt = now.UTC()
	}
	return drift, nil
}

type AccommodationRepository interface {
	ByID(ctx context.Context, id AccommodationID) (*Accommodation, error)
	Save(ctx context.Context, a *Accommodation) error
	ListByProperty(ctx context.Context, id PropertyID) ([]*Accommodation, error)
}

type PropertyRepository interface {
	ByID(ctx context.Context, id PropertyID) (*Property, error)
	Save(ctx context.Context, p *Property) error
}
