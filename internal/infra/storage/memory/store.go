package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"rentalcore/internal/app/outbox"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
)

var ErrReadOnly = fault.InvalidState("memory: unit is read-only")

// Store keeps committed rows in maps. Units stage their writes and apply them
// atomically at Commit after checking every row version they read.
type Store struct {
	mu         sync.RWMutex
	bookings   map[domainbooking.BookingID]domainbooking.Booking
	rooms      map[domainoccupancy.AccommodationID]domainoccupancy.Accommodation
	properties map[domainoccupancy.PropertyID]domainoccupancy.Property
	outbox     *Outbox
}

func NewStore() *Store {
	return &Store{
		bookings:   make(map[domainbooking.BookingID]domainbooking.Booking),
		rooms:      make(map[domainoccupancy.AccommodationID]domainoccupancy.Accommodation),
		properties: make(map[domainoccupancy.PropertyID]domainoccupancy.Property),
		outbox:     NewOutbox(),
	}
}

func (s *Store) Outbox() *Outbox { return s.outbox }

// Begin implements uow.UoWFactory. Row locks are not needed here: Commit holds
// the store lock while it validates versions.
func (s *Store) Begin(ctx context.Context, opts uow.TxOptions) (uow.UnitOfWork, error) {
	return &unit{
		store:    s,
		readOnly: opts.ReadOnly,
		bookings: make(map[domainbooking.BookingID]staged[domainbooking.Booking]),
		rooms:    make(map[domainoccupancy.AccommodationID]staged[domainoccupancy.Accommodation]),
		props:    make(map[domainoccupancy.PropertyID]staged[domainoccupancy.Property]),
	}, nil
}

// Seed writes fixtures directly, bypassing version checks.
func (s *Store) Seed(props []domainoccupancy.Property, rooms []domainoccupancy.Accommodation, bookings []domainbooking.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range props {
		s.properties[p.ID] = p
	}
	for _, a := range rooms {
		s.rooms[a.ID] = a
	}
	for _, b := range bookings {
		s.bookings[b.ID] = cloneBooking(&b)
	}
}

type staged[T any] struct {
	expect int64
	value  T
}

type unit struct {
	store    *Store
	readOnly bool

	mu       sync.Mutex
	closed   bool
	bookings map[domainbooking.BookingID]staged[domainbooking.Booking]
	rooms    map[domainoccupancy.AccommodationID]staged[domainoccupancy.Accommodation]
	props    map[domainoccupancy.PropertyID]staged[domainoccupancy.Property]
	records  []outbox.EventRecord
}

func (u *unit) Bookings() domainbooking.Repository { return bookingRepo{u} }

func (u *unit) Accommodations() domainoccupancy.AccommodationRepository { return roomRepo{u} }

func (u *unit) Properties() domainoccupancy.PropertyRepository { return propertyRepo{u} }

func (u *unit) Outbox() outbox.Outbox { return unitOutbox{u} }

func (u *unit) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return uow.ErrUnitClosed
	}
	u.closed = true
	if err := ctx.Err(); err != nil {
		return err
	}

	s := u.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range u.bookings {
		if s.bookings[id].Version != st.expect {
			return uow.ErrConcurrentUpdate
		}
	}
	for id, st := range u.rooms {
		if s.rooms[id].Version != st.expect {
			return uow.ErrConcurrentUpdate
		}
	}
	for id, st := range u.props {
		if s.properties[id].Version != st.expect {
			return uow.ErrConcurrentUpdate
		}
	}
	for id, st := range u.bookings {
		st.value.Version = st.expect + 1
		s.bookings[id] = st.value
	}
	for id, st := range u.rooms {
		st.value.Version = st.expect + 1
		s.rooms[id] = st.value
	}
	for id, st := range u.props {
		st.value.Version = st.expect + 1
		s.properties[id] = st.value
	}
	s.outbox.append(u.records)
	return nil
}

func (u *unit) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return uow.ErrUnitClosed
	}
	u.closed = true
	u.bookings, u.rooms, u.props, u.records = nil, nil, nil, nil
	return nil
}

func (u *unit) writable() error {
	if u.closed {
		return uow.ErrUnitClosed
	}
	if u.readOnly {
		return ErrReadOnly
	}
	return nil
}

type bookingRepo struct{ u *unit }

func (r bookingRepo) ByID(ctx context.Context, id domainbooking.BookingID) (*domainbooking.Booking, error) {
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	if st, ok := r.u.bookings[id]; ok {
		b := cloneBooking(&st.value)
		return &b, nil
	}
	r.u.store.mu.RLock()
	defer r.u.store.mu.RUnlock()
	row, ok := r.u.store.bookings[id]
	if !ok {
		return nil, domainbooking.ErrNotFound
	}
	b := cloneBooking(&row)
	return &b, nil
}

// Save stages b. The expected version is the one b carried when first staged
// in this unit; b.Version is advanced to the value it will have after commit.
func (r bookingRepo) Save(ctx context.Context, b *domainbooking.Booking) error {
	if b == nil {
		return errors.New("memory: nil booking")
	}
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	if err := r.u.writable(); err != nil {
		return err
	}
	st, ok := r.u.bookings[b.ID]
	if !ok {
		st.expect = b.Version
	}
	b.Version = st.expect + 1
	st.value = cloneBooking(b)
	r.u.bookings[b.ID] = st
	return nil
}

func (r bookingRepo) List(ctx context.Context, filter domainbooking.ListFilter) (domainbooking.Page, error) {
	filter = filter.Normalized()
	matched := r.scan(func(b *domainbooking.Booking) bool { return filter.Matches(b) })
	sortNewestFirst(matched)
	page := domainbooking.Page{Total: len(matched)}
	if filter.Offset >= len(matched) {
		page.Items = []*domainbooking.Booking{}
		return page, nil
	}
	end := filter.Offset + filter.Limit
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[filter.Offset:end]
	return page, nil
}

func (r bookingRepo) HasPending(ctx context.Context, accommodationID domainoccupancy.AccommodationID, requesterID string) (bool, error) {
	found := r.scan(func(b *domainbooking.Booking) bool {
		return b.AccommodationID == accommodationID && b.RequesterID == requesterID && b.Status == domainbooking.StatusPending
	})
	return len(found) > 0, nil
}

func (r bookingRepo) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*domainbooking.Booking, error) {
	found := r.scan(func(b *domainbooking.Booking) bool {
		return b.Status == domainbooking.StatusPending && b.RequestedDate.Before(before)
	})
	sortOldestFirst(found)
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// scan evaluates keep over committed rows overlaid with this unit's staged
// writes.
func (r bookingRepo) scan(keep func(*domainbooking.Booking) bool) []*domainbooking.Booking {
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	r.u.store.mu.RLock()
	defer r.u.store.mu.RUnlock()
	out := []*domainbooking.Booking{}
	for id, row := range r.u.store.bookings {
		if st, ok := r.u.bookings[id]; ok {
			row = st.value
		}
		if keep(&row) {
			b := cloneBooking(&row)
			out = append(out, &b)
		}
	}
	for id, st := range r.u.bookings {
		if _, committed := r.u.store.bookings[id]; committed {
			continue
		}
		if keep(&st.value) {
			b := cloneBooking(&st.value)
			out = append(out, &b)
		}
	}
	return out
}

type roomRepo struct{ u *unit }

func (r roomRepo) ByID(ctx context.Context, id domainoccupancy.AccommodationID) (*domainoccupancy.Accommodation, error) {
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	if st, ok := r.u.rooms[id]; ok {
		a := st.value
		return &a, nil
	}
	r.u.store.mu.RLock()
	defer r.u.store.mu.RUnlock()
	row, ok := r.u.store.rooms[id]
	if !ok {
		return nil, domainoccupancy.ErrAccommodationNotFound
	}
	return &row, nil
}

func (r roomRepo) Save(ctx context.Context, a *domainoccupancy.Accommodation) error {
	if a == nil {
		return errors.New("memory: nil accommodation")
	}
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	if err := r.u.writable(); err != nil {
		return err
	}
	st, ok := r.u.rooms[a.ID]
	if !ok {
		st.expect = a.Version
	}
	a.Version = st.expect + 1
	st.value = *a
	r.u.rooms[a.ID] = st
	return nil
}

func (r roomRepo) ListByProperty(ctx context.Context, id domainoccupancy.PropertyID) ([]*domainoccupancy.Accommodation, error) {
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	r.u.store.mu.RLock()
	defer r.u.store.mu.RUnlock()
	seen := map[domainoccupancy.AccommodationID]bool{}
	out := []*domainoccupancy.Accommodation{}
	for rid, st := range r.u.rooms {
		seen[rid] = true
		if st.value.PropertyID == id {
			a := st.value
			out = append(out, &a)
		}
	}
	for rid, row := range r.u.store.rooms {
		if seen[rid] || row.PropertyID != id {
			continue
		}
		a := row
		out = append(out, &a)
	}
	return out, nil
}

type propertyRepo struct{ u *unit }

func (r propertyRepo) ByID(ctx context.Context, id domainoccupancy.PropertyID) (*domainoccupancy.Property, error) {
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	if st, ok := r.u.props[id]; ok {
		p := st.value
		return &p, nil
	}
	r.u.store.mu.RLock()
	defer r.u.store.mu.RUnlock()
	row, ok := r.u.store.properties[id]
	if !ok {
		return nil, domainoccupancy.ErrPropertyNotFound
	}
	return &row, nil
}

func (r propertyRepo) Save(ctx context.Context, p *domainoccupancy.Property) error {
	if p == nil {
		return errors.New("memory: nil property")
	}
	if p.TotalRooms < 0 {
		return domainoccupancy.ErrInvalidRooms
	}
	r.u.mu.Lock()
	defer r.u.mu.Unlock()
	if err := r.u.writable(); err != nil {
		return err
	}
	st, ok := r.u.props[p.ID]
	if !ok {
		st.expect = p.Version
	}
	p.Version = st.expect + 1
	st.value = *p
	r.u.props[p.ID] = st
	return nil
}

type unitOutbox struct{ u *unit }

func (o unitOutbox) Add(ctx context.Context, record outbox.EventRecord) error {
	o.u.mu.Lock()
	defer o.u.mu.Unlock()
	if err := o.u.writable(); err != nil {
		return err
	}
	o.u.records = append(o.u.records, record)
	return nil
}

func cloneBooking(b *domainbooking.Booking) domainbooking.Booking {
	out := domainbooking.Booking{
		ID:              b.ID,
		AccommodationID: b.AccommodationID,
		OwnerID:         b.OwnerID,
		RequesterID:     b.RequesterID,
		Status:          b.Status,
		RequestedDate:   b.RequestedDate,
		NumOfPeople:     b.NumOfPeople,
		PhoneNumber:     b.PhoneNumber,
		Note:            b.Note,
		Reason:          b.Reason,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		DecidedBy:       b.DecidedBy,
		Version:         b.Version,
	}
	if b.DecidedAt != nil {
		at := *b.DecidedAt
		out.DecidedAt = &at
	}
	if b.ReleasedAt != nil {
		at := *b.ReleasedAt
		out.ReleasedAt = &at
	}
	return out
}

var (
	_ uow.UoWFactory                          = (*Store)(nil)
	_ domainbooking.Repository                = bookingRepo{}
	_ domainoccupancy.AccommodationRepository = roomRepo{}
	_ domainoccupancy.PropertyRepository      = propertyRepo{}
)
