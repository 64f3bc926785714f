package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

// casSave writes doc only if the stored row still has version. A missing row
// is inserted; a stale one makes the upsert collide on _id.
func casSave(ctx context.Context, col *mongo.Collection, id string, version int64, doc any) error {
	filter := bson.M{"_id": id, "version": version}
	res, err := col.UpdateOne(ctx, filter, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return translateWriteError(err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return uow.ErrConcurrentUpdate
	}
	return nil
}

// translateWriteError maps duplicate keys and transaction write conflicts to
// the retryable version error.
func translateWriteError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return uow.ErrConcurrentUpdate
	}
	var se mongo.ServerError
	if errors.As(err, &se) && se.HasErrorLabel("TransientTransactionError") {
		return uow.ErrConcurrentUpdate
	}
	return err
}

type BookingRepository struct {
	col *mongo.Collection
}

func NewBookingRepository(db *mongo.Database) *BookingRepository {
	return &BookingRepository{col: db.Collection(bookingsCollection)}
}

func (r *BookingRepository) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	var doc bookingDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainbooking.ErrNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *BookingRepository) Save(ctx context.Context, b *domainbooking.Booking) error {
	doc := newBookingDocument(b)
	doc.Version = b.Version + 1
	if err := casSave(ctx, r.col, doc.ID, b.Version, doc); err != nil {
		return err
	}
	b.Version = doc.Version
	return nil
}

func bookingFilter(f domainbooking.ListFilter) bson.M {
	filter := bson.M{}
	if f.RequesterID != "" {
		filter["requester_id"] = f.RequesterID
	}
	if f.OwnerID != "" {
		filter["owner_id"] = f.OwnerID
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		filter["status"] = bson.M{"$in": statuses}
	}
	return filter
}

func (r *BookingRepository) List(ctx context.Context, f domainbooking.ListFilter) (domainbooking.Page, error) {
	f = f.Normalized()
	filter := bookingFilter(f)
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return domainbooking.Page{}, err
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(f.Offset)).
		SetLimit(int64(f.Limit))
	items, err := r.find(ctx, filter, opts)
	if err != nil {
		return domainbooking.Page{}, err
	}
	return domainbooking.Page{Items: items, Total: int(total)}, nil
}

func (r *BookingRepository) HasPending(ctx context.Context, accommodationID domainoccupancy.AccommodationID, requesterID string) (bool, error) {
	filter := bson.M{"accommodation_id": string(accommodationID), "requester_id": requesterID, "status": string(domainbooking.StatusPending)}
	n, err := r.col.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *BookingRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*domainbooking.Booking, error) {
	filter := bson.M{"status": string(domainbooking.StatusPending), "requested_date": bson.M{"$lt": before.UnixMilli()}}
	opts := options.Find().SetSort(bson.D{{Key: "requested_date", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	return r.find(ctx, filter, opts)
}

func (r *BookingRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*domainbooking.Booking, error) {
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	items := []*domainbooking.Booking{}
	for cur.Next(ctx) {
		var doc bookingDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		items = append(items, doc.toAggregate())
	}
	return items, cur.Err()
}

type AccommodationRepository struct {
	col *mongo.Collection
}

func NewAccommodationRepository(db *mongo.Database) *AccommodationRepository {
	return &AccommodationRepository{col: db.Collection(accommodationsCollection)}
}

func (r *AccommodationRepository) ByID(ctx context.Context, id domainoccupancy.AccommodationID) (*domainoccupancy.Accommodation, error) {
	var doc accommodationDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainoccupancy.ErrAccommodationNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *AccommodationRepository) Save(ctx context.Context, a *domainoccupancy.Accommodation) error {
	doc := newAccommodationDocument(a)
	doc.Version = a.Version + 1
	if err := casSave(ctx, r.col, doc.ID, a.Version, doc); err != nil {
		return err
	}
	a.Version = doc.Version
	return nil
}

func (r *AccommodationRepository) ListByProperty(ctx context.Context, id domainoccupancy.PropertyID) ([]*domainoccupancy.Accommodation, error) {
	cur, err := r.col.Find(ctx, bson.M{"property_id": string(id)})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*domainoccupancy.Accommodation{}
	for cur.Next(ctx) {
		var doc accommodationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toAggregate())
	}
	return out, cur.Err()
}

type PropertyRepository struct {
	col *mongo.Collection
}

func NewPropertyRepository(db *mongo.Database) *PropertyRepository {
	return &PropertyRepository{col: db.Collection(propertiesCollection)}
}

func (r *PropertyRepository) ByID(ctx context.Context, id domainoccupancy.PropertyID) (*domainoccupancy.Property, error) {
	var doc propertyDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainoccupancy.ErrPropertyNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

func (r *PropertyRepository) Save(ctx context.Context, p *domainoccupancy.Property) error {
	if p.TotalRooms < 0 {
		return domainoccupancy.ErrInvalidRooms
	}
	doc := newPropertyDocument(p)
	doc.Version = p.Version + 1
	if err := casSave(ctx, r.col, doc.ID, p.Version, doc); err != nil {
		return err
	}
	p.Version = doc.Version
	return nil
}

var (
	_ domainbooking.Repository                = (*BookingRepository)(nil)
	_ domainoccupancy.AccommodationRepository = (*AccommodationRepository)(nil)
	_ domainoccupancy.PropertyRepository      = (*PropertyRepository)(nil)
)
