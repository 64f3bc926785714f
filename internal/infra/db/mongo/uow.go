package mongo

import (
	"context"
	"errors"
	"sync"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	appoutbox "rentalcore/internal/app/outbox"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

var ErrUnitOfWorkNotConfigured = errors.New("mongo: unit of work factory missing database")

// Factory opens one session per unit. Writable units run inside a snapshot
// transaction, so a concurrent writer surfaces as a write conflict that is
// reported as uow.ErrConcurrentUpdate. Mongo has no row locks; LockRows is
// satisfied by the same conflict detection.
type Factory struct {
	DB *mongo.Database

	Bookings       *BookingRepository
	Accommodations *AccommodationRepository
	Properties     *PropertyRepository
	Outbox         *OutboxStore
}

func NewFactory(db *mongo.Database) Factory {
	return Factory{
		DB:             db,
		Bookings:       NewBookingRepository(db),
		Accommodations: NewAccommodationRepository(db),
		Properties:     NewPropertyRepository(db),
		Outbox:         NewOutboxStore(db),
	}
}

func (f Factory) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	if f.DB == nil {
		return nil, ErrUnitOfWorkNotConfigured
	}
	session, err := f.DB.Client().StartSession()
	if err != nil {
		return nil, err
	}
	unit := &Unit{factory: f, session: session, readOnly: opts.ReadOnly}
	if opts.ReadOnly {
		return unit, nil
	}
	txnOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := session.StartTransaction(txnOpts); err != nil {
		session.EndSession(ctx)
		return nil, err
	}
	return unit, nil
}

type Unit struct {
	factory  Factory
	session  mongo.Session
	readOnly bool

	mu     sync.Mutex
	closed bool
}

func (u *Unit) Bookings() domainbooking.Repository { return u.factory.Bookings }

func (u *Unit) Accommodations() domainoccupancy.AccommodationRepository {
	return u.factory.Accommodations
}

func (u *Unit) Properties() domainoccupancy.PropertyRepository { return u.factory.Properties }

func (u *Unit) Outbox() appoutbox.Outbox { return u.factory.Outbox }

func (u *Unit) Commit(ctx context.Context) error {
	if err := u.close(); err != nil {
		return err
	}
	defer u.session.EndSession(ctx)
	if u.readOnly {
		return nil
	}
	if err := u.session.CommitTransaction(ctx); err != nil {
		return translateWriteError(err)
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	if err := u.close(); err != nil {
		return err
	}
	defer u.session.EndSession(ctx)
	if u.readOnly {
		return nil
	}
	return u.session.AbortTransaction(ctx)
}

func (u *Unit) close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return uow.ErrUnitClosed
	}
	u.closed = true
	return nil
}

// InjectContext binds the session to ctx so repositories join the
// transaction.
func (u *Unit) InjectContext(ctx context.Context) context.Context {
	return mongo.NewSessionContext(ctx, u.session)
}

var _ uow.UoWFactory = Factory{}
