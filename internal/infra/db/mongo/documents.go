package mongo

import (
	"time"

	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

type bookingDocument struct {
	ID              string `bson:"_id"`
	AccommodationID string `bson:"accommodation_id"`
	OwnerID         string `bson:"owner_id"`
	RequesterID     string `bson:"requester_id"`
	Status          string `bson:"status"`
	RequestedDate   int64  `bson:"requested_date"`
	NumOfPeople     int    `bson:"num_of_people"`
	PhoneNumber     string `bson:"phone_number"`
	Note            string `bson:"note,omitempty"`
	Reason          string `bson:"reason,omitempty"`
	CreatedAt       int64  `bson:"created_at"`
	UpdatedAt       int64  `bson:"updated_at"`
	DecidedAt       *int64 `bson:"decided_at,omitempty"`
	DecidedBy       string `bson:"decided_by,omitempty"`
	ReleasedAt      *int64 `bson:"released_at,omitempty"`
	Version         int64  `bson:"version"`
}

func newBookingDocument(b *domainbooking.Booking) bookingDocument {
	return bookingDocument{
		ID:              string(b.ID),
		AccommodationID: string(b.AccommodationID),
		OwnerID:         b.OwnerID,
		RequesterID:     b.RequesterID,
		Status:          string(b.Status),
		RequestedDate:   b.RequestedDate.UnixMilli(),
		NumOfPeople:     b.NumOfPeople,
		PhoneNumber:     b.PhoneNumber,
		Note:            b.Note,
		Reason:          b.Reason,
		CreatedAt:       b.CreatedAt.UnixMilli(),
		UpdatedAt:       b.UpdatedAt.UnixMilli(),
		DecidedAt:       optionalMillis(b.DecidedAt),
		DecidedBy:       b.DecidedBy,
		ReleasedAt:      optionalMillis(b.ReleasedAt),
		Version:         b.Version,
	}
}

func (d bookingDocument) toAggregate() *domainbooking.Booking {
	return &domainbooking.Booking{
		ID:              domainbooking.BookingID(d.ID),
		AccommodationID: domainoccupancy.AccommodationID(d.AccommodationID),
		OwnerID:         d.OwnerID,
		RequesterID:     d.RequesterID,
		Status:          domainbooking.Status(d.Status),
		RequestedDate:   timestampToTime(d.RequestedDate),
		NumOfPeople:     d.NumOfPeople,
		PhoneNumber:     d.PhoneNumber,
		Note:            d.Note,
		Reason:          d.Reason,
		CreatedAt:       timestampToTime(d.CreatedAt),
		UpdatedAt:       timestampToTime(d.UpdatedAt),
		DecidedAt:       optionalTime(d.DecidedAt),
		DecidedBy:       d.DecidedBy,
		ReleasedAt:      optionalTime(d.ReleasedAt),
		Version:         d.Version,
	}
}

type accommodationDocument struct {
	ID         string `bson:"_id"`
	PropertyID string `bson:"property_id,omitempty"`
	OwnerID    string `bson:"owner_id"`
	Status     string `bson:"status"`
	PriceCents int64  `bson:"price_cents"`
	UpdatedAt  int64  `bson:"updated_at"`
	Version    int64  `bson:"version"`
}

func newAccommodationDocument(a *domainoccupancy.Accommodation) accommodationDocument {
	return accommodationDocument{
		ID:         string(a.ID),
		PropertyID: string(a.PropertyID),
		OwnerID:    a.OwnerID,
		Status:     string(a.Status),
		PriceCents: a.PriceCents,
		UpdatedAt:  a.UpdatedAt.UnixMilli(),
		Version:    a.Version,
	}
}

func (d accommodationDocument) toAggregate() *domainoccupancy.Accommodation {
	return &domainoccupancy.Accommodation{
		ID:         domainoccupancy.AccommodationID(d.ID),
		PropertyID: domainoccupancy.PropertyID(d.PropertyID),
		OwnerID:    d.OwnerID,
		Status:     domainoccupancy.RoomStatus(d.Status),
		PriceCents: d.PriceCents,
		UpdatedAt:  timestampToTime(d.UpdatedAt),
		Version:    d.Version,
	}
}

type propertyDocument struct {
	ID            string `bson:"_id"`
	LandlordID    string `bson:"landlord_id"`
	TotalRooms    int    `bson:"total_rooms"`
	OccupiedRooms int    `bson:"occupied_rooms"`
	UpdatedAt     int64  `bson:"updated_at"`
	Version       int64  `bson:"version"`
}

func newPropertyDocument(p *domainoccupancy.Property) propertyDocument {
	return propertyDocument{
		ID:            string(p.ID),
		LandlordID:    p.LandlordID,
		TotalRooms:    p.TotalRooms,
		OccupiedRooms: p.OccupiedRooms,
		UpdatedAt:     p.UpdatedAt.UnixMilli(),
		Version:       p.Version,
	}
}

func (d propertyDocument) toAggregate() *domainoccupancy.Property {
	return &domainoccupancy.Property{
		ID:            domainoccupancy.PropertyID(d.ID),
		LandlordID:    d.LandlordID,
		TotalRooms:    d.TotalRooms,
		OccupiedRooms: d.OccupiedRooms,
		UpdatedAt:     timestampToTime(d.UpdatedAt),
		Version:       d.Version,
	}
}

func timestampToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func optionalMillis(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func optionalTime(ms *int64) *time.Time {
	if ms == nil {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
