package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"rentalcore/internal/app/middleware"
	appoutbox "rentalcore/internal/app/outbox"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

var fixedAt = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestBookingRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("by id decodes document", func(mt *mtest.T) {
		repo := &BookingRepository{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(1, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "b-1"},
			{Key: "accommodation_id", Value: "a-1"},
			{Key: "owner_id", Value: "owner"},
			{Key: "requester_id", Value: "tenant"},
			{Key: "status", Value: "confirmed"},
			{Key: "requested_date", Value: fixedAt.UnixMilli()},
			{Key: "num_of_people", Value: 2},
			{Key: "created_at", Value: fixedAt.UnixMilli()},
			{Key: "updated_at", Value: fixedAt.UnixMilli()},
			{Key: "decided_at", Value: fixedAt.UnixMilli()},
			{Key: "version", Value: int64(3)},
		}))

		b, err := repo.ByID(context.Background(), "b-1")
		require.NoError(mt, err)
		assert.Equal(mt, domainbooking.BookingID("b-1"), b.ID)
		assert.Equal(mt, domainbooking.StatusConfirmed, b.Status)
		assert.Equal(mt, int64(3), b.Version)
		require.NotNil(mt, b.DecidedAt)
		assert.True(mt, fixedAt.Equal(*b.DecidedAt))
		assert.Nil(mt, b.ReleasedAt)
	})

	mt.Run("by id missing", func(mt *mtest.T) {
		repo := &BookingRepository{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := repo.ByID(context.Background(), "nope")
		assert.ErrorIs(mt, err, domainbooking.ErrNotFound)
	})

	mt.Run("save bumps version", func(mt *mtest.T) {
		repo := &BookingRepository{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))
		b := &domainbooking.Booking{ID: "b-1", Status: domainbooking.StatusPending, Version: 2}

		require.NoError(mt, repo.Save(context.Background(), b))
		assert.Equal(mt, int64(3), b.Version)
	})

	mt.Run("stale save collides", func(mt *mtest.T) {
		repo := &BookingRepository{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "E11000 duplicate key error",
		}))
		b := &domainbooking.Booking{ID: "b-1", Status: domainbooking.StatusPending, Version: 1}

		err := repo.Save(context.Background(), b)
		assert.ErrorIs(mt, err, uow.ErrConcurrentUpdate)
		assert.Equal(mt, int64(1), b.Version)
	})

	mt.Run("has pending counts", func(mt *mtest.T) {
		repo := &BookingRepository{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(1, namespace(mt), mtest.FirstBatch, bson.D{{Key: "n", Value: int32(1)}}))

		ok, err := repo.HasPending(context.Background(), "a-1", "tenant")
		require.NoError(mt, err)
		assert.True(mt, ok)
	})
}

func TestAccommodationRepository(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("list by property", func(mt *mtest.T) {
		repo := &AccommodationRepository{col: mt.Coll}
		ns := namespace(mt)
		first := mtest.CreateCursorResponse(1, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "a-1"}, {Key: "property_id", Value: "p-1"}, {Key: "status", Value: "rented"}, {Key: "version", Value: int64(1)},
		})
		next := mtest.CreateCursorResponse(0, ns, mtest.NextBatch, bson.D{
			{Key: "_id", Value: "a-2"}, {Key: "property_id", Value: "p-1"}, {Key: "status", Value: "available"},
		})
		mt.AddMockResponses(first, next)

		rooms, err := repo.ListByProperty(context.Background(), "p-1")
		require.NoError(mt, err)
		require.Len(mt, rooms, 2)
		assert.Equal(mt, domainoccupancy.RoomRented, rooms[0].Status)
		assert.Equal(mt, domainoccupancy.RoomAvailable, rooms[1].Status)
	})

	mt.Run("missing room", func(mt *mtest.T) {
		repo := &AccommodationRepository{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := repo.ByID(context.Background(), "a-9")
		assert.ErrorIs(mt, err, domainoccupancy.ErrAccommodationNotFound)
	})
}

func TestPropertyRepositoryRejectsNegativeRooms(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("negative", func(mt *mtest.T) {
		repo := &PropertyRepository{col: mt.Coll}
		err := repo.Save(context.Background(), &domainoccupancy.Property{ID: "p-1", TotalRooms: -1})
		assert.ErrorIs(mt, err, domainoccupancy.ErrInvalidRooms)
	})
}

func TestInboxStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	const key = "b-1:booking.confirmed:loyalty.credit:tenant"

	mt.Run("not delivered yet", func(mt *mtest.T) {
		inbox := &InboxStore{col: mt.Coll, consumer: "effects"}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		seen, err := inbox.Seen(context.Background(), key)
		require.NoError(mt, err)
		assert.False(mt, seen)
	})

	mt.Run("already delivered", func(mt *mtest.T) {
		inbox := &InboxStore{col: mt.Coll, consumer: "effects"}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "event_id", Value: key},
			{Key: "consumer", Value: "effects"},
		}))

		seen, err := inbox.Seen(context.Background(), key)
		require.NoError(mt, err)
		assert.True(mt, seen)
	})

	mt.Run("record", func(mt *mtest.T) {
		inbox := &InboxStore{col: mt.Coll, consumer: "effects"}
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		require.NoError(mt, inbox.Record(context.Background(), key))
	})

	mt.Run("record twice", func(mt *mtest.T) {
		inbox := &InboxStore{col: mt.Coll, consumer: "effects"}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		require.NoError(mt, inbox.Record(context.Background(), key))
	})
}

func TestOutboxStoreClaim(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("nothing due", func(mt *mtest.T) {
		store := &OutboxStore{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: nil}))

		p, err := store.Claim(context.Background(), "worker-1")
		require.NoError(mt, err)
		assert.Nil(mt, p)
	})

	mt.Run("claims record", func(mt *mtest.T) {
		store := &OutboxStore{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "value", Value: bson.D{
			{Key: "_id", Value: "evt-1"},
			{Key: "name", Value: "booking.confirmed"},
			{Key: "payload", Value: []byte(`{"booking_id":"b-1"}`)},
			{Key: "aggregate", Value: "b-1"},
			{Key: "state", Value: stateClaimed},
			{Key: "attempts", Value: 2},
		}}))

		p, err := store.Claim(context.Background(), "worker-1")
		require.NoError(mt, err)
		require.NotNil(mt, p)
		assert.Equal(mt, "evt-1", p.ID)
		assert.Equal(mt, "booking.confirmed", p.Name)
		assert.Equal(mt, 2, p.Attempts)
	})

	mt.Run("duplicate add is ignored", func(mt *mtest.T) {
		store := &OutboxStore{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{Index: 0, Code: 11000, Message: "duplicate key"}))

		err := store.Add(context.Background(), recordFor("evt-1"))
		assert.NoError(mt, err)
	})
}

func TestIdempotencyStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("miss", func(mt *mtest.T) {
		store := &IdempotencyStore{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, ok, err := store.Get(context.Background(), "booking.submit:k-1")
		require.NoError(mt, err)
		assert.False(mt, ok)
	})

	mt.Run("hit", func(mt *mtest.T) {
		store := &IdempotencyStore{col: mt.Coll}
		mt.AddMockResponses(mtest.CreateCursorResponse(1, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "booking.submit:k-1"},
			{Key: "error_kind", Value: "validation"},
			{Key: "error", Value: "phone number required"},
			{Key: "expires_at", Value: fixedAt.Add(time.Hour)},
		}))

		rec, ok, err := store.Get(context.Background(), "booking.submit:k-1")
		require.NoError(mt, err)
		require.True(mt, ok)
		assert.Equal(mt, middleware.IdempotencyRecord{
			Key:       "booking.submit:k-1",
			ErrorKind: "validation",
			Error:     "phone number required",
			ExpiresAt: fixedAt.Add(time.Hour),
		}, rec)
	})
}

func recordFor(id string) appoutbox.EventRecord {
	return appoutbox.EventRecord{ID: id, Name: "booking.confirmed", Payload: []byte(`{}`), OccurredAt: fixedAt, Aggregate: "b-1"}
}
