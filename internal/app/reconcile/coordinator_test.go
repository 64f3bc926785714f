package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalcore/internal/app/effects"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
	"rentalcore/internal/infra/storage/memory"
)

var today = time.Date(2026, 6, 10, 12, 0, 0, 0, time.UTC)

type staticAuth struct {
	owner  string
	admins map[string]bool
}

func (a staticAuth) IsOwner(ctx context.Context, id domainoccupancy.AccommodationID, userID string) (bool, error) {
	return userID == a.owner, nil
}

func (a staticAuth) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return a.admins[userID], nil
}

type fixture struct {
	store *memory.Store
	coord *Coordinator
}

func newFixture(t *testing.T, totalRooms int, rooms ...domainoccupancy.AccommodationID) *fixture {
	t.Helper()
	store := memory.NewStore()
	props := []domainoccupancy.Property{}
	var propID domainoccupancy.PropertyID
	if totalRooms > 0 {
		propID = "p-1"
		props = append(props, domainoccupancy.Property{ID: propID, LandlordID: "owner", TotalRooms: totalRooms})
	}
	accs := make([]domainoccupancy.Accommodation, 0, len(rooms))
	for _, id := range rooms {
		accs = append(accs, domainoccupancy.Accommodation{ID: id, PropertyID: propID, OwnerID: "owner", Status: domainoccupancy.RoomAvailable})
	}
	store.Seed(props, accs, nil)
	return &fixture{
		store: store,
		coord: &Coordinator{
			Units:      store,
			Authorizer: staticAuth{owner: "owner", admins: map[string]bool{"admin": true}},
			Backoff:    time.Millisecond,
			Now:        func() time.Time { return today },
		},
	}
}

func (f *fixture) submit(t *testing.T, id domainbooking.BookingID, room domainoccupancy.AccommodationID, requester string) {
	t.Helper()
	err := uow.Within(context.Background(), f.store, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
		b, err := domainbooking.Submit(domainbooking.SubmitParams{
			ID:              id,
			AccommodationID: room,
			OwnerID:         "owner",
			RequesterID:     requester,
			RequestedDate:   today.Add(48 * time.Hour),
			NumOfPeople:     2,
			PhoneNumber:     "+1 555 0100",
			Now:             today,
		})
		if err != nil {
			return err
		}
		b.Drain()
		return unit.Bookings().Save(ctx, b)
	})
	require.NoError(t, err)
}

func (f *fixture) property(t *testing.T) *domainoccupancy.Property {
	t.Helper()
	unit, err := f.store.Begin(context.Background(), uow.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	p, err := unit.Properties().ByID(context.Background(), "p-1")
	require.NoError(t, err)
	return p
}

func (f *fixture) booking(t *testing.T, id domainbooking.BookingID) *domainbooking.Booking {
	t.Helper()
	unit, err := f.store.Begin(context.Background(), uow.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	b, err := unit.Bookings().ByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

// assertCounters checks that the stored counter matches the rented rooms.
func (f *fixture) assertCounters(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	unit, err := f.store.Begin(ctx, uow.TxOptions{ReadOnly: true})
	require.NoError(t, err)
	p, err := unit.Properties().ByID(ctx, "p-1")
	require.NoError(t, err)
	rooms, err := unit.Accommodations().ListByProperty(ctx, "p-1")
	require.NoError(t, err)
	rented := 0
	for _, r := range rooms {
		if r.Status == domainoccupancy.RoomRented {
			rented++
		}
	}
	assert.GreaterOrEqual(t, p.OccupiedRooms, 0)
	assert.LessOrEqual(t, p.OccupiedRooms, p.TotalRooms)
	assert.Equal(t, rented, p.OccupiedRooms)
}

func (f *fixture) effectRecords() []string {
	var names []string
	for _, e := range f.store.Outbox().Entries() {
		if effects.IsEffectType(e.Name) {
			names = append(names, e.ID)
		}
	}
	return names
}

func TestConfirmThenSecondConfirmExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-1", "a-1", "tenant-1")

	res, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "owner")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domainbooking.StatusConfirmed, res.Booking.Status)
	assert.Equal(t, 1, res.Property.OccupiedRooms)
	assert.Equal(t, domainoccupancy.RoomRented, res.Accommodation.Status)
	require.Len(t, res.Effects, 4)

	f.submit(t, "b-2", "a-1", "tenant-2")
	_, err = f.coord.Decide(ctx, "b-2", domainbooking.DecisionConfirm, "owner")
	assert.ErrorIs(t, err, fault.ErrCapacityExceeded)

	assert.Equal(t, 1, f.property(t).OccupiedRooms)
	assert.Equal(t, domainbooking.StatusPending, f.booking(t, "b-2").Status)
	assert.Len(t, f.effectRecords(), 4)
	f.assertCounters(t)
}

func TestCancelledBookingCannotBeConfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-3", "a-1", "tenant")

	res, err := f.coord.Cancel(ctx, "b-3", "tenant", "")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusCancelled, res.Booking.Status)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, "owner", res.Effects[0].SubjectID)

	_, err = f.coord.Decide(ctx, "b-3", domainbooking.DecisionConfirm, "owner")
	assert.ErrorIs(t, err, fault.ErrInvalidState)
	assert.Equal(t, 0, f.property(t).OccupiedRooms)
	f.assertCounters(t)
}

func TestDecideTwiceIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, "a-1")
	f.submit(t, "b-1", "a-1", "tenant")

	first, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "owner")
	require.NoError(t, err)
	outboxAfterFirst := len(f.store.Outbox().Entries())

	second, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "owner")
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Empty(t, second.Effects)
	assert.Equal(t, first.Booking.Version, second.Booking.Version)
	assert.Equal(t, 1, f.property(t).OccupiedRooms)
	assert.Len(t, f.store.Outbox().Entries(), outboxAfterFirst)
}

func TestTerminalStatesNeverBecomeConfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, "a-1", "a-2")
	f.submit(t, "b-1", "a-1", "tenant")
	f.submit(t, "b-2", "a-2", "tenant")

	_, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionReject, "owner")
	require.NoError(t, err)
	_, err = f.coord.Cancel(ctx, "b-2", "tenant", "changed plans")
	require.NoError(t, err)

	for _, id := range []domainbooking.BookingID{"b-1", "b-2"} {
		_, err := f.coord.Decide(ctx, id, domainbooking.DecisionConfirm, "admin")
		assert.ErrorIs(t, err, domainbooking.ErrAlreadyDecided)
	}
	assert.Equal(t, domainbooking.StatusRejected, f.booking(t, "b-1").Status)
	assert.Equal(t, domainbooking.StatusCancelled, f.booking(t, "b-2").Status)
	f.assertCounters(t)
}

func TestAuthorizationFailures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-1", "a-1", "tenant")

	_, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "stranger")
	assert.ErrorIs(t, err, fault.ErrAuthorization)
	_, err = f.coord.Cancel(ctx, "b-1", "owner", "")
	assert.ErrorIs(t, err, fault.ErrAuthorization)

	res, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", res.Booking.DecidedBy)
}

func TestFailedTransitionsLeaveNoEffects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-1", "a-1", "tenant")
	f.submit(t, "b-2", "a-1", "tenant-2")

	_, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "stranger")
	require.Error(t, err)
	_, err = f.coord.Decide(ctx, "b-1", "maybe", "owner")
	require.Error(t, err)

	broken := *f.coord
	broken.Units = failingUnits{inner: f.store, err: errors.New("disk full")}
	_, err = broken.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "owner")
	require.Error(t, err)
	assert.Empty(t, f.store.Outbox().Entries())
	assert.Equal(t, domainbooking.StatusPending, f.booking(t, "b-1").Status)

	_, err = f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "owner")
	require.NoError(t, err)
	before := f.effectRecords()
	_, err = f.coord.Decide(ctx, "b-2", domainbooking.DecisionConfirm, "owner")
	assert.ErrorIs(t, err, fault.ErrCapacityExceeded)
	assert.Equal(t, before, f.effectRecords())
}

func TestConcurrentConfirmsOnSingleRoom(t *testing.T) {
	for _, locked := range []bool{false, true} {
		t.Run(fmt.Sprintf("locker=%v", locked), func(t *testing.T) {
			f := newFixture(t, 0, "solo")
			if locked {
				f.coord.Locks = NewKeyedLocker()
			}
			const n = 8
			for i := 0; i < n; i++ {
				f.submit(t, domainbooking.BookingID(fmt.Sprintf("b-%d", i)), "solo", fmt.Sprintf("tenant-%d", i))
			}

			var wg sync.WaitGroup
			errs := make([]error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, errs[i] = f.coord.Decide(context.Background(), domainbooking.BookingID(fmt.Sprintf("b-%d", i)), domainbooking.DecisionConfirm, "owner")
				}(i)
			}
			wg.Wait()

			confirmed := 0
			for _, err := range errs {
				if err == nil {
					confirmed++
					continue
				}
				assert.True(t, errors.Is(err, fault.ErrCapacityExceeded) || errors.Is(err, fault.ErrInvalidState), "unexpected error %v", err)
			}
			assert.Equal(t, 1, confirmed)
			assert.Len(t, f.effectRecords(), 4)
		})
	}
}

func TestConcurrentConfirmsRespectPropertyCapacity(t *testing.T) {
	f := newFixture(t, 2, "a-1", "a-2", "a-3")
	for i, room := range []domainoccupancy.AccommodationID{"a-1", "a-2", "a-3"} {
		f.submit(t, domainbooking.BookingID(fmt.Sprintf("b-%d", i)), room, fmt.Sprintf("tenant-%d", i))
	}

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.Decide(context.Background(), domainbooking.BookingID(fmt.Sprintf("b-%d", i)), domainbooking.DecisionConfirm, "owner")
		}(i)
	}
	wg.Wait()

	confirmed := 0
	for _, err := range errs {
		if err == nil {
			confirmed++
			continue
		}
		assert.ErrorIs(t, err, fault.ErrCapacityExceeded)
	}
	assert.Equal(t, 2, confirmed)
	assert.Equal(t, 2, f.property(t).OccupiedRooms)
	f.assertCounters(t)
}

func TestExhaustedRetriesSurfaceConflict(t *testing.T) {
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-1", "a-1", "tenant")
	f.coord.Units = failingUnits{inner: f.store, err: uow.ErrConcurrentUpdate}
	f.coord.MaxAttempts = 3

	_, err := f.coord.Decide(context.Background(), "b-1", domainbooking.DecisionConfirm, "owner")
	assert.ErrorIs(t, err, ErrContention)
	assert.ErrorIs(t, err, fault.ErrConflict)
}

func TestReleaseFreesRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-1", "a-1", "tenant")
	_, err := f.coord.Decide(ctx, "b-1", domainbooking.DecisionConfirm, "owner")
	require.NoError(t, err)

	res, err := f.coord.Release(ctx, "b-1", "owner")
	require.NoError(t, err)
	assert.Equal(t, domainbooking.StatusConfirmed, res.Booking.Status)
	require.NotNil(t, res.Booking.ReleasedAt)
	assert.Equal(t, domainoccupancy.RoomAvailable, res.Accommodation.Status)
	assert.Equal(t, 0, res.Property.OccupiedRooms)

	again, err := f.coord.Release(ctx, "b-1", "owner")
	require.NoError(t, err)
	assert.False(t, again.Changed)
	f.assertCounters(t)

	f.submit(t, "b-2", "a-1", "tenant-2")
	_, err = f.coord.Release(ctx, "b-2", "owner")
	assert.ErrorIs(t, err, fault.ErrInvalidState)
	_, err = f.coord.Decide(ctx, "b-2", domainbooking.DecisionConfirm, "owner")
	require.NoError(t, err)
	f.assertCounters(t)
}

func TestExpireOnlyTouchesStalePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1, "a-1")
	f.submit(t, "b-1", "a-1", "tenant")

	res, err := f.coord.Expire(ctx, "b-1")
	require.NoError(t, err)
	assert.False(t, res.Changed)

	f.coord.Now = func() time.Time { return today.Add(5 * 24 * time.Hour) }
	res, err = f.coord.Expire(ctx, "b-1")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, domainbooking.StatusCancelled, res.Booking.Status)
	assert.Equal(t, domainbooking.ReasonExpired, res.Booking.Reason)
	require.Len(t, res.Effects, 1)
	assert.Equal(t, effects.TemplateExpired, res.Effects[0].Template)
}

func TestReconcilePropertyRepairsDrift(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.Seed(
		[]domainoccupancy.Property{{ID: "p-1", TotalRooms: 3, OccupiedRooms: 0}},
		[]domainoccupancy.Accommodation{
			{ID: "a-1", PropertyID: "p-1", Status: domainoccupancy.RoomRented},
			{ID: "a-2", PropertyID: "p-1", Status: domainoccupancy.RoomRented},
			{ID: "a-3", PropertyID: "p-1", Status: domainoccupancy.RoomAvailable},
		},
		nil,
	)
	coord := &Coordinator{Units: store, Authorizer: staticAuth{admins: map[string]bool{"admin": true}}, Locks: NewKeyedLocker()}

	_, err := coord.ReconcileProperty(ctx, "p-1", "owner")
	assert.ErrorIs(t, err, fault.ErrAuthorization)

	drift, err := coord.ReconcileProperty(ctx, "p-1", "admin")
	require.NoError(t, err)
	assert.True(t, drift.Repaired())
	assert.Equal(t, 0, drift.Stored)
	assert.Equal(t, 2, drift.Counted)

	drift, err = coord.ReconcileProperty(ctx, "p-1", domainbooking.SystemActor)
	require.NoError(t, err)
	assert.False(t, drift.Repaired())

	_, err = coord.ReconcileProperty(ctx, "missing", "admin")
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestKeyedLockerReleasesKeys(t *testing.T) {
	l := NewKeyedLocker()
	unlock, err := l.Lock(context.Background(), "property:p-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "property:p-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other, err := l.Lock(context.Background(), "property:p-2")
	require.NoError(t, err)
	other()
	unlock()
	unlock()
	assert.Equal(t, 0, l.held())
}

type failingUnits struct {
	inner uow.UoWFactory
	err   error
}

func (f failingUnits) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	unit, err := f.inner.Begin(ctx, opts)
	if err != nil {
		return nil, err
	}
	return failingUnit{UnitOfWork: unit, err: f.err}, nil
}

type failingUnit struct {
	uow.UnitOfWork
	err error
}

func (u failingUnit) Commit(ctx context.Context) error {
	_ = u.UnitOfWork.Rollback(ctx)
	return u.err
}
