package booking

import (
	"time"

	"rentalcore/internal/domain/occupancy"
)

type Submitted struct {
	BookingID       BookingID
	AccommodationID occupancy.AccommodationID
	RequesterID     string
	OwnerID         string
	RequestedDate   time.Time
	At              time.Time
}

func (e Submitted) EventName() string     { return "booking.submitted" }
func (e Submitted) AggregateID() string   { return string(e.BookingID) }
func (e Submitted) OccurredAt() time.Time { return e.At }

type Confirmed struct {
	BookingID       BookingID
	AccommodationID occupancy.AccommodationID
	RequesterID     string
	OwnerID         string
	DecidedBy       string
	At              time.Time
}

func (e Confirmed) EventName() string     { return "booking.confirmed" }
func (e Confirmed) AggregateID() string   { return string(e.BookingID) }
func (e Confirmed) OccurredAt() time.Time { return e.At }

type Rejected struct {
	BookingID       BookingID
	AccommodationID occupancy.AccommodationID
	RequesterID     string
	OwnerID         string
	DecidedBy       string
	Reason          string
	At              time.Time
}

func (e Rejected) EventName() string     { return "booking.rejected" }
func (e Rejected) AggregateID() string   { return string(e.BookingID) }
func (e Rejected) OccurredAt() time.Time { return e.At }

type Cancelled struct {
	BookingID       BookingID
	AccommodationID occupancy.AccommodationID
	RequesterID     string
	OwnerID         string
	CancelledBy     string
	Reason          string
	At              time.Time
}

func (e Cancelled) EventName() string     { return "booking.cancelled" }
func (e Cancelled) AggregateID() string   { return string(e.BookingID) }
func (e Cancelled) OccurredAt() time.Time { return e.At }

type Released struct {
	BookingID       BookingID
	AccommodationID occupancy.AccommodationID
	RequesterID     string
	OwnerID         string
	ReleasedBy      string
	At              time.Time
}

func (e Released) EventName() string     { return "booking.released" }
func (e Released) AggregateID() string   { return string(e.BookingID) }
func (e Released) OccurredAt() time.Time { return e.At }
