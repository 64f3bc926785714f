package sql

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appoutbox "rentalcore/internal/app/outbox"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

var ErrStoreNotConfigured = errors.New("sql: store missing database")

// Store is the gorm-backed unit of work factory. In pessimistic mode reads
// inside writable units take row locks (SELECT ... FOR UPDATE) on top of the
// version check.
type Store struct {
	DB          *gorm.DB
	Pessimistic bool
}

func NewStore(db *gorm.DB, pessimistic bool) *Store {
	return &Store{DB: db, Pessimistic: pessimistic}
}

// Relay exposes the outbox table to the worker.
func (s *Store) Relay() *OutboxStore { return &OutboxStore{db: s.DB} }

func (s *Store) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if s == nil || s.DB == nil {
		return nil, ErrStoreNotConfigured
	}
	if opts.ReadOnly {
		return &unit{scope: scope{db: s.DB}, readOnly: true}, nil
	}
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}
	lock := (s.Pessimistic || opts.LockRows) && s.DB.Dialector.Name() != DriverSQLite
	return &unit{scope: scope{db: tx, lockRows: lock}}, nil
}

type unit struct {
	scope
	readOnly bool

	mu     sync.Mutex
	closed bool
}

func (u *unit) Bookings() domainbooking.Repository { return bookingRepo{u.scope} }

func (u *unit) Accommodations() domainoccupancy.AccommodationRepository {
	return accommodationRepo{u.scope}
}

func (u *unit) Properties() domainoccupancy.PropertyRepository { return propertyRepo{u.scope} }

func (u *unit) Outbox() appoutbox.Outbox { return &OutboxStore{db: u.db} }

func (u *unit) Commit(ctx context.Context) error {
	if err := u.close(); err != nil {
		return err
	}
	if u.readOnly {
		return nil
	}
	return u.db.Commit().Error
}

func (u *unit) Rollback(ctx context.Context) error {
	if err := u.close(); err != nil {
		return err
	}
	if u.readOnly {
		return nil
	}
	return u.db.Rollback().Error
}

func (u *unit) close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return uow.ErrUnitClosed
	}
	u.closed = true
	return nil
}

// Seed inserts fixtures in one transaction. Rows that already exist are left
// alone, so reseeding on start never resets counters moved by bookings. New
// rows start at version 1; version 0 is reserved for rows not yet written.
func (s *Store) Seed(ctx context.Context, props []domainoccupancy.Property, rooms []domainoccupancy.Accommodation, bookings []domainbooking.Booking) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := func(model any) error {
			return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(model).Error
		}
		for i := range props {
			m := newPropertyModel(&props[i])
			m.Version = seededVersion(m.Version)
			if err := insert(&m); err != nil {
				return err
			}
		}
		for i := range rooms {
			m := newAccommodationModel(&rooms[i])
			m.Version = seededVersion(m.Version)
			if err := insert(&m); err != nil {
				return err
			}
		}
		for i := range bookings {
			m := newBookingModel(&bookings[i])
			m.Version = seededVersion(m.Version)
			if err := insert(&m); err != nil {
				return err
			}
		}
		return nil
	})
}

func seededVersion(v int64) int64 {
	if v < 1 {
		return 1
	}
	return v
}

var _ uow.UoWFactory = (*Store)(nil)
