package booking

import (
	"context"
	"strings"
	"time"

	"rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/events"
	"rentalcore/internal/domain/shared/fault"
)

var (
	ErrInvalidPeople         = fault.Validation("booking: number of people must be at least 1")
	ErrRequestedDateInPast   = fault.Validation("booking: requested date is in the past")
	ErrRequestedDateRequired = fault.Validation("booking: requested date is required")
	ErrRequesterRequired     = fault.Validation("booking: requester id required")
	ErrAccommodationRequired = fault.Validation("booking: accommodation id required")
	ErrInvalidPhone          = fault.Validation("booking: phone number is invalid")
	ErrNoteTooLong           = fault.Validation("booking: note exceeds 2000 characters")
	ErrOwnListing            = fault.Validation("booking: owners cannot book their own listing")
	ErrDuplicatePending      = fault.Validation("booking: a pending request for this accommodation already exists")
	ErrUnknownDecision       = fault.Validation("booking: decision must be confirmed or rejected")
	ErrUnknownStatus         = fault.Validation("booking: unknown status")
	ErrAlreadyDecided        = fault.InvalidState("booking: already decided")
	ErrNotConfirmed          = fault.InvalidState("booking: only confirmed bookings occupy a room")
	ErrNotRequester          = fault.Authorization("booking: only the requester may cancel")
	ErrNotFound              = fault.NotFound("booking: not found")
)

const (
	maxNoteLength = 2000
	minPhoneDigit = 6
	maxPhoneDigit = 20

	// SystemActor decides transitions nobody asked for, such as expiry.
	SystemActor   = "system"
	ReasonExpired = "expired"
)

type BookingID string

type Booking struct {
	ID              BookingID
	AccommodationID occupancy.AccommodationID
	// OwnerID is the accommodation owner at submission time, kept so owner
	// listings are a single indexed predicate.
	OwnerID       string
	RequesterID   string
	Status        Status
	RequestedDate time.Time
	NumOfPeople   int
	PhoneNumber   string
	Note          string
	Reason        string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DecidedAt     *time.Time
	DecidedBy     string
	ReleasedAt    *time.Time
	Version       int64
	events.Recorder
}

type SubmitParams struct {
	ID              BookingID
	AccommodationID occupancy.AccommodationID
	OwnerID         string
	RequesterID     string
	RequestedDate   time.Time
	NumOfPeople     int
	PhoneNumber     string
	Note            string
	Now             time.Time
}

func Submit(p SubmitParams) (*Booking, error) {
	if strings.TrimSpace(string(p.AccommodationID)) == "" {
		return nil, ErrAccommodationRequired
	}
	requester := strings.TrimSpace(p.RequesterID)
	if requester == "" {
		return nil, ErrRequesterRequired
	}
	if requester == p.OwnerID {
		return nil, ErrOwnListing
	}
	if p.NumOfPeople < 1 {
		return nil, ErrInvalidPeople
	}
	if p.RequestedDate.IsZero() {
		return nil, ErrRequestedDateRequired
	}
	now := p.Now.UTC()
	if day(p.RequestedDate).Before(day(now)) {
		return nil, ErrRequestedDateInPast
	}
	phone, err := normalizePhone(p.PhoneNumber)
	if err != nil {
		return nil, err
	}
	note := strings.TrimSpace(p.Note)
	if len([]rune(note)) > maxNoteLength {
		return nil, ErrNoteTooLong
	}
	b := &Booking{
		ID:              p.ID,
		AccommodationID: p.AccommodationID,
		OwnerID:         p.OwnerID,
		RequesterID:     requester,
		Status:          StatusPending,
		RequestedDate:   p.RequestedDate.UTC(),
		NumOfPeople:     p.NumOfPeople,
		PhoneNumber:     phone,
		Note:            note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b.Record(Submitted{BookingID: b.ID, AccommodationID: b.AccommodationID, RequesterID: b.RequesterID, OwnerID: b.OwnerID, RequestedDate: b.RequestedDate, At: now})
	return b, nil
}

// Transition is an attempt to move a booking to Target on behalf of Actor.
type Transition struct {
	Target Status
	Actor  string
	Reason string
}

// Apply is the single transition function. It reports false without error
// when the booking is already in Target, so retried calls are harmless.
// Authorization is the caller's concern except for requester-only cancel.
func (b *Booking) Apply(t Transition, now time.Time) (bool, error) {
	if !t.Target.Valid() || t.Target == StatusPending {
		return false, ErrUnknownStatus
	}
	if b.Status == t.Target {
		return false, nil
	}
	if !b.Status.CanTransitionTo(t.Target) {
		return false, ErrAlreadyDecided
	}
	at := now.UTC()
	b.Status = t.Target
	b.UpdatedAt = at
	b.DecidedAt = &at
	b.DecidedBy = t.Actor
	b.Reason = strings.TrimSpace(t.Reason)
	switch t.Target {
	case StatusConfirmed:
		b.Record(Confirmed{BookingID: b.ID, AccommodationID: b.AccommodationID, RequesterID: b.RequesterID, OwnerID: b.OwnerID, DecidedBy: t.Actor, At: at})
	case StatusRejected:
		b.Record(Rejected{BookingID: b.ID, AccommodationID: b.AccommodationID, RequesterID: b.RequesterID, OwnerID: b.OwnerID, DecidedBy: t.Actor, Reason: b.Reason, At: at})
	case StatusCancelled:
		b.Record(Cancelled{BookingID: b.ID, AccommodationID: b.AccommodationID, RequesterID: b.RequesterID, OwnerID: b.OwnerID, CancelledBy: t.Actor, Reason: b.Reason, At: at})
	}
	return true, nil
}

func (b *Booking) Decide(d Decision, deciderID string, now time.Time) (bool, error) {
	if d != DecisionConfirm && d != DecisionReject {
		return false, ErrUnknownDecision
	}
	return b.Apply(Transition{Target: d.Status(), Actor: deciderID}, now)
}

func (b *Booking) Cancel(requesterID, reason string, now time.Time) (bool, error) {
	if requesterID != b.RequesterID {
		return false, ErrNotRequester
	}
	return b.Apply(Transition{Target: StatusCancelled, Actor: requesterID, Reason: reason}, now)
}

// Expire cancels a pending booking whose requested date has passed. Any other
// state is left alone and reported as unchanged.
func (b *Booking) Expire(now time.Time) (bool, error) {
	if b.Status != StatusPending || !b.Expired(now) {
		return false, nil
	}
	return b.Apply(Transition{Target: StatusCancelled, Actor: SystemActor, Reason: ReasonExpired}, now)
}

func (b *Booking) Expired(now time.Time) bool {
	return day(b.RequestedDate).Before(day(now.UTC()))
}

// Occupying reports whether this booking currently holds its room.
func (b *Booking) Occupying() bool {
	return b.Status == StatusConfirmed && b.ReleasedAt == nil
}

// Release ends the tenancy of a confirmed booking. The status stays confirmed.
func (b *Booking) Release(actorID string, now time.Time) (bool, error) {
	if b.Status != StatusConfirmed {
		return false, ErrNotConfirmed
	}
	if b.ReleasedAt != nil {
		return false, nil
	}
	at := now.UTC()
	b.ReleasedAt = &at
	b.UpdatedAt = at
	b.Record(Released{BookingID: b.ID, AccommodationID: b.AccommodationID, RequesterID: b.RequesterID, OwnerID: b.OwnerID, ReleasedBy: actorID, At: at})
	return true, nil
}

func day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func normalizePhone(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	digits := 0
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0:
		case r == ' ', r == '-', r == '(', r == ')':
		default:
			return "", ErrInvalidPhone
		}
	}
	if digits < minPhoneDigit || digits > maxPhoneDigit {
		return "", ErrInvalidPhone
	}
	return phone, nil
}

type ListFilter struct {
	RequesterID string
	OwnerID     string
	Statuses    []Status
	Limit       int
	Offset      int
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (f ListFilter) Normalized() ListFilter {
	out := f
	if out.Limit <= 0 {
		out.Limit = defaultListLimit
	}
	if out.Limit > maxListLimit {
		out.Limit = maxListLimit
	}
	if out.Offset < 0 {
		out.Offset = 0
	}
	return out
}

// Matches evaluates the filter against one booking. Stores that cannot push
// the predicate down use it inside their scan.
func (f ListFilter) Matches(b *Booking) bool {
	if f.RequesterID != "" && b.RequesterID != f.RequesterID {
		return false
	}
	if f.OwnerID != "" && b.OwnerID != f.OwnerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if b.Status == s {
			return true
		}
	}
	return false
}

type Page struct {
	Items []*Booking
	Total int
}

type Repository interface {
	ByID(ctx context.Context, id BookingID) (*Booking, error)
	Save(ctx context.Context, b *Booking) error
	List(ctx context.Context, filter ListFilter) (Page, error)
	HasPending(ctx context.Context, accommodationID occupancy.AccommodationID, requesterID string) (bool, error)
	// ListStalePending returns pending bookings requested before the given day.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Booking, error)
}
