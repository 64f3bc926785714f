package sql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

// scope is the connection a repository talks through: the unit's
// transaction, or the plain pool for read-only units.
type scope struct {
	db       *gorm.DB
	lockRows bool
}

func (s scope) read(ctx context.Context) *gorm.DB {
	q := s.db.WithContext(ctx)
	if s.lockRows {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// casSave inserts a new row (version 0) or updates the row still carrying
// expected. Zero affected rows means another unit got there first.
func casSave(ctx context.Context, db *gorm.DB, model any, id string, expected int64, columns map[string]any) error {
	if expected == 0 {
		err := db.WithContext(ctx).Create(model).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return uow.ErrConcurrentUpdate
		}
		return err
	}
	res := db.WithContext(ctx).Model(model).
		Where("id = ? AND version = ?", id, expected).
		Updates(columns)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return uow.ErrConcurrentUpdate
	}
	return nil
}

type bookingRepo struct{ scope }

func (r bookingRepo) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var m bookingModel
	if err := r.read(ctx).Where("id = ?", string(id)).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainbooking.ErrNotFound
		}
		return nil, err
	}
	return m.toAggregate(), nil
}

func (r bookingRepo) Save(ctx context.Context, b *domainbooking.Booking) error {
	m := newBookingModel(b)
	m.Version = b.Version + 1
	err := casSave(ctx, r.db, &m, m.ID, b.Version, map[string]any{
		"status":      m.Status,
		"note":        m.Note,
		"reason":      m.Reason,
		"updated_at":  m.UpdatedAt,
		"decided_at":  m.DecidedAt,
		"decided_by":  m.DecidedBy,
		"released_at": m.ReleasedAt,
		"version":     m.Version,
	})
	if err != nil {
		return err
	}
	b.Version = m.Version
	return nil
}

func (r bookingRepo) filtered(ctx context.Context, f domainbooking.ListFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&bookingModel{})
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.OwnerID != "" {
		q = q.Where("owner_id = ?", f.OwnerID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		q = q.Where("status IN ?", statuses)
	}
	return q
}

func (r bookingRepo) List(ctx context.Context, f domainbooking.ListFilter) (domainbooking.Page, error) {
	f = f.Normalized()
	var total int64
	if err := r.filtered(ctx, f).Count(&total).Error; err != nil {
		return domainbooking.Page{}, err
	}
	var rows []bookingModel
	err := r.filtered(ctx, f).
		Order("created_at DESC").Order("id DESC").
		Offset(f.Offset).Limit(f.Limit).
		Find(&rows).Error
	if err != nil {
		return domainbooking.Page{}, err
	}
	return domainbooking.Page{Items: toBookings(rows), Total: int(total)}, nil
}

func (r bookingRepo) HasPending(ctx context.Context, accommodationID domainoccupancy.AccommodationID, requesterID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&bookingModel{}).
		Where("accommodation_id = ? AND requester_id = ? AND status = ?", string(accommodationID), requesterID, string(domainbooking.StatusPending)).
		Count(&n).Error
	return n > 0, err
}

func (r bookingRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*domainbooking.Booking, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND requested_date < ?", string(domainbooking.StatusPending), before.UTC()).
		Order("requested_date ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []bookingModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toBookings(rows), nil
}

func toBookings(rows []bookingModel) []*domainbooking.Booking {
	out := make([]*domainbooking.Booking, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toAggregate())
	}
	return out
}

type accommodationRepo struct{ scope }

func (r accommodationRepo) ByID(ctx context.Context, id domainoccupancy.AccommodationID) (*domainoccupancy.Accommodation, error) {
	var m accommodationModel
	if err := r.read(ctx).Where("id = ?", string(id)).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainoccupancy.ErrAccommodationNotFound
		}
		return nil, err
	}
	return m.toAggregate(), nil
}

func (r accommodationRepo) Save(ctx context.Context, a *domainoccupancy.Accommodation) error {
	m := newAccommodationModel(a)
	m.Version = a.Version + 1
	err := casSave(ctx, r.db, &m, m.ID, a.Version, map[string]any{
		"status":      m.Status,
		"price_cents": m.PriceCents,
		"updated_at":  m.UpdatedAt,
		"version":     m.Version,
	})
	if err != nil {
		return err
	}
	a.Version = m.Version
	return nil
}

func (r accommodationRepo) ListByProperty(ctx context.Context, id domainoccupancy.PropertyID) ([]*domainoccupancy.Accommodation, error) {
	var rows []accommodationModel
	if err := r.read(ctx).Where("property_id = ?", string(id)).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domainoccupancy.Accommodation, 0, len(rows))
	for _, m := range rows {
		out = append(out, m.toAggregate())
	}
	return out, nil
}

type propertyRepo struct{ scope }

func (r propertyRepo) ByID(ctx context.Context, id domainoccupancy.PropertyID) (*domainoccupancy.Property, error) {
	var m propertyModel
	if err := r.read(ctx).Where("id = ?", string(id)).Take(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainoccupancy.ErrPropertyNotFound
		}
		return nil, err
	}
	return m.toAggregate(), nil
}

func (r propertyRepo) Save(ctx context.Context, p *domainoccupancy.Property) error {
	if p.TotalRooms < 0 {
		return domainoccupancy.ErrInvalidRooms
	}
	m := newPropertyModel(p)
	m.Version = p.Version + 1
	err := casSave(ctx, r.db, &m, m.ID, p.Version, map[string]any{
		"total_rooms":    m.TotalRooms,
		"occupied_rooms": m.OccupiedRooms,
		"updated_at":     m.UpdatedAt,
		"version":        m.Version,
	})
	if err != nil {
		return err
	}
	p.Version = m.Version
	return nil
}

var (
	_ domainbooking.Repository                = bookingRepo{}
	_ domainoccupancy.AccommodationRepository = accommodationRepo{}
	_ domainoccupancy.PropertyRepository      = propertyRepo{}
)
