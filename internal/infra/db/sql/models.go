package sql

import (
	"time"

	"gorm.io/datatypes"

	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

type propertyModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	LandlordID    string `gorm:"size:64;index"`
	TotalRooms    int
	OccupiedRooms int
	Version       int64
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
}

func (propertyModel) TableName() string { return "properties" }

func newPropertyModel(p *domainoccupancy.Property) propertyModel {
	return propertyModel{
		ID:            string(p.ID),
		LandlordID:    p.LandlordID,
		TotalRooms:    p.TotalRooms,
		OccupiedRooms: p.OccupiedRooms,
		Version:       p.Version,
		UpdatedAt:     p.UpdatedAt.UTC(),
	}
}

func (m propertyModel) toAggregate() *domainoccupancy.Property {
	return &domainoccupancy.Property{
		ID:            domainoccupancy.PropertyID(m.ID),
		LandlordID:    m.LandlordID,
		TotalRooms:    m.TotalRooms,
		OccupiedRooms: m.OccupiedRooms,
		Version:       m.Version,
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type accommodationModel struct {
	ID         string `gorm:"primaryKey;size:64"`
	PropertyID string `gorm:"size:64;index"`
	OwnerID    string `gorm:"size:64"`
	Status     string `gorm:"size:16"`
	PriceCents int64
	Version    int64
	UpdatedAt  time.Time `gorm:"autoUpdateTime:false"`
}

func (accommodationModel) TableName() string { return "accommodations" }

func newAccommodationModel(a *domainoccupancy.Accommodation) accommodationModel {
	return accommodationModel{
		ID:         string(a.ID),
		PropertyID: string(a.PropertyID),
		OwnerID:    a.OwnerID,
		Status:     string(a.Status),
		PriceCents: a.PriceCents,
		Version:    a.Version,
		UpdatedAt:  a.UpdatedAt.UTC(),
	}
}

func (m accommodationModel) toAggregate() *domainoccupancy.Accommodation {
	return &domainoccupancy.Accommodation{
		ID:         domainoccupancy.AccommodationID(m.ID),
		PropertyID: domainoccupancy.PropertyID(m.PropertyID),
		OwnerID:    m.OwnerID,
		Status:     domainoccupancy.RoomStatus(m.Status),
		PriceCents: m.PriceCents,
		Version:    m.Version,
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

type bookingModel struct {
	ID              string    `gorm:"primaryKey;size:64"`
	AccommodationID string    `gorm:"size:64;index:idx_bookings_room_requester"`
	OwnerID         string    `gorm:"size:64;index:idx_bookings_owner"`
	RequesterID     string    `gorm:"size:64;index:idx_bookings_requester;index:idx_bookings_room_requester"`
	Status          string    `gorm:"size:16;index:idx_bookings_status_date"`
	RequestedDate   time.Time `gorm:"index:idx_bookings_status_date"`
	NumOfPeople     int
	PhoneNumber     string `gorm:"size:32"`
	Note            string `gorm:"type:text"`
	Reason          string `gorm:"size:255"`
	CreatedAt       time.Time `gorm:"autoCreateTime:false;index:idx_bookings_owner;index:idx_bookings_requester"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
	DecidedAt       *time.Time
	DecidedBy       string `gorm:"size:64"`
	ReleasedAt      *time.Time
	Version         int64
}

func (bookingModel) TableName() string { return "bookings" }

func newBookingModel(b *domainbooking.Booking) bookingModel {
	return bookingModel{
		ID:              string(b.ID),
		AccommodationID: string(b.AccommodationID),
		OwnerID:         b.OwnerID,
		RequesterID:     b.RequesterID,
		Status:          string(b.Status),
		RequestedDate:   b.RequestedDate.UTC(),
		NumOfPeople:     b.NumOfPeople,
		PhoneNumber:     b.PhoneNumber,
		Note:            b.Note,
		Reason:          b.Reason,
		CreatedAt:       b.CreatedAt.UTC(),
		UpdatedAt:       b.UpdatedAt.UTC(),
		DecidedAt:       utcPtr(b.DecidedAt),
		DecidedBy:       b.DecidedBy,
		ReleasedAt:      utcPtr(b.ReleasedAt),
		Version:         b.Version,
	}
}

func (m bookingModel) toAggregate() *domainbooking.Booking {
	return &domainbooking.Booking{
		ID:              domainbooking.BookingID(m.ID),
		AccommodationID: domainoccupancy.AccommodationID(m.AccommodationID),
		OwnerID:         m.OwnerID,
		RequesterID:     m.RequesterID,
		Status:          domainbooking.Status(m.Status),
		RequestedDate:   m.RequestedDate.UTC(),
		NumOfPeople:     m.NumOfPeople,
		PhoneNumber:     m.PhoneNumber,
		Note:            m.Note,
		Reason:          m.Reason,
		CreatedAt:       m.CreatedAt.UTC(),
		UpdatedAt:       m.UpdatedAt.UTC(),
		DecidedAt:       utcPtr(m.DecidedAt),
		DecidedBy:       m.DecidedBy,
		ReleasedAt:      utcPtr(m.ReleasedAt),
		Version:         m.Version,
	}
}

type outboxModel struct {
	ID            string `gorm:"primaryKey;size:255"`
	Name          string `gorm:"size:128"`
	Payload       datatypes.JSON
	Headers       datatypes.JSON
	Aggregate     string `gorm:"size:64"`
	OccurredAt    time.Time
	State         string    `gorm:"size:16;index:idx_outbox_due"`
	NextAttemptAt time.Time `gorm:"index:idx_outbox_due"`
	Attempts      int
	ClaimedBy     string `gorm:"size:128"`
	ClaimedAt     *time.Time
	SentAt        *time.Time
	LastError     string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
}

func (outboxModel) TableName() string { return "outbox" }

type inboxModel struct {
	EventID    string `gorm:"primaryKey;size:255"`
	Consumer   string `gorm:"primaryKey;size:64"`
	ReceivedAt time.Time
}

func (inboxModel) TableName() string { return "inbox" }

type idempotencyModel struct {
	Key        string `gorm:"column:idem_key;primaryKey;size:255"`
	Payload    []byte
	ErrorKind  string `gorm:"size:32"`
	Error      string `gorm:"type:text"`
	OccurredAt time.Time
	ExpiresAt  time.Time `gorm:"index"`
}

func (idempotencyModel) TableName() string { return "idempotency_keys" }

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
