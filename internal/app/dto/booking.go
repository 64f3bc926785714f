package dto

import (
	"time"

	"rentalcore/internal/app/effects"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

type Booking struct {
	ID              string     `json:"id"`
	AccommodationID string     `json:"accommodation_id"`
	OwnerID         string     `json:"owner_id"`
	RequesterID     string     `json:"requester_id"`
	Status          string     `json:"status"`
	RequestedDate   time.Time  `json:"requested_date"`
	NumOfPeople     int        `json:"num_of_people"`
	PhoneNumber     string     `json:"phone_number"`
	Note            string     `json:"note,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	DecidedBy       string     `json:"decided_by,omitempty"`
	ReleasedAt      *time.Time `json:"released_at,omitempty"`
	Version         int64      `json:"version"`
}

type BookingCollection struct {
	Items  []Booking `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

type Occupancy struct {
	PropertyID    string `json:"property_id"`
	TotalRooms    int    `json:"total_rooms"`
	OccupiedRooms int    `json:"occupied_rooms"`
	FreeRooms     int    `json:"free_rooms"`
	Version       int64  `json:"version"`
}

type Effect struct {
	Kind      string `json:"kind"`
	SubjectID string `json:"subject_id"`
	Template  string `json:"template,omitempty"`
	Delta     int    `json:"delta,omitempty"`
	Points    int    `json:"points,omitempty"`
}

// TransitionResult is what the decide, cancel and release endpoints return.
type TransitionResult struct {
	Booking   Booking    `json:"booking"`
	Occupancy *Occupancy `json:"occupancy,omitempty"`
	Changed   bool       `json:"changed"`
	Effects   []Effect   `json:"effects"`
}

type Drift struct {
	PropertyID string `json:"property_id"`
	Stored     int    `json:"stored"`
	Counted    int    `json:"counted"`
	Repaired   bool   `json:"repaired"`
}

func MapBooking(b *domainbooking.Booking) Booking {
	return Booking{
		ID:              string(b.ID),
		AccommodationID: string(b.AccommodationID),
		OwnerID:         b.OwnerID,
		RequesterID:     b.RequesterID,
		Status:          string(b.Status),
		RequestedDate:   b.RequestedDate,
		NumOfPeople:     b.NumOfPeople,
		PhoneNumber:     b.PhoneNumber,
		Note:            b.Note,
		Reason:          b.Reason,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		DecidedAt:       b.DecidedAt,
		DecidedBy:       b.DecidedBy,
		ReleasedAt:      b.ReleasedAt,
		Version:         b.Version,
	}
}

func MapBookingPage(page domainbooking.Page, filter domainbooking.ListFilter) BookingCollection {
	items := make([]Booking, 0, len(page.Items))
	for _, b := range page.Items {
		items = append(items, MapBooking(b))
	}
	return BookingCollection{Items: items, Total: page.Total, Limit: filter.Limit, Offset: filter.Offset}
}

func MapOccupancy(p *domainoccupancy.Property) *Occupancy {
	if p == nil {
		return nil
	}
	return &Occupancy{
		PropertyID:    string(p.ID),
		TotalRooms:    p.TotalRooms,
		OccupiedRooms: p.OccupiedRooms,
		FreeRooms:     p.FreeRooms(),
		Version:       p.Version,
	}
}

func MapEffects(effs []effects.Effect) []Effect {
	out := make([]Effect, 0, len(effs))
	for _, e := range effs {
		out = append(out, Effect{Kind: string(e.Kind), SubjectID: e.SubjectID, Template: e.Template, Delta: e.Delta, Points: e.Points})
	}
	return out
}

func MapDrift(d domainoccupancy.Drift) Drift {
	return Drift{PropertyID: string(d.PropertyID), Stored: d.Stored, Counted: d.Counted, Repaired: d.Repaired()}
}
