package booking

import (
	"context"
	"log/slog"
	"strings"

	"rentalcore/internal/app/dto"
	"rentalcore/internal/app/policies"
	"rentalcore/internal/app/queries"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
)

const (
	listRequesterBookingsKey = "booking.list.requester"
	listOwnerBookingsKey     = "booking.list.owner"
	getBookingKey            = "booking.get"
	getOccupancyKey          = "property.occupancy"
)

var (
	ErrViewerRequired     = fault.Validation("booking: viewer id required")
	ErrPropertyIDRequired = fault.Validation("booking: property id required")
	ErrNotParticipant     = fault.Authorization("booking: not a participant of this booking")
)

type ListRequesterBookingsQuery struct {
	RequesterID string
	Statuses    []string
	Limit       int
	Offset      int
}

func (q ListRequesterBookingsQuery) Key() string { return listRequesterBookingsKey }

func (q ListRequesterBookingsQuery) Viewer() string { return q.RequesterID }

type ListOwnerBookingsQuery struct {
	OwnerID  string
	Statuses []string
	Limit    int
	Offset   int
}

func (q ListOwnerBookingsQuery) Key() string { return listOwnerBookingsKey }

func (q ListOwnerBookingsQuery) Viewer() string { return q.OwnerID }

type ListBookingsHandler struct {
	UoWFactory uow.UoWFactory
	Logger     *slog.Logger
}

func (h *ListBookingsHandler) HandleRequester(ctx context.Context, q ListRequesterBookingsQuery) (dto.BookingCollection, error) {
	requester := strings.TrimSpace(q.RequesterID)
	if requester == "" {
		return dto.BookingCollection{}, ErrViewerRequired
	}
	filter, err := newFilter(q.Statuses, q.Limit, q.Offset)
	if err != nil {
		return dto.BookingCollection{}, err
	}
	filter.RequesterID = requester
	return h.list(ctx, filter)
}

func (h *ListBookingsHandler) HandleOwner(ctx context.Context, q ListOwnerBookingsQuery) (dto.BookingCollection, error) {
	owner := strings.TrimSpace(q.OwnerID)
	if owner == "" {
		return dto.BookingCollection{}, ErrViewerRequired
	}
	filter, err := newFilter(q.Statuses, q.Limit, q.Offset)
	if err != nil {
		return dto.BookingCollection{}, err
	}
	filter.OwnerID = owner
	return h.list(ctx, filter)
}

func (h *ListBookingsHandler) list(ctx context.Context, filter domainbooking.ListFilter) (dto.BookingCollection, error) {
	unit, execCtx, cleanup, err := uow.BeginReadOnly(ctx, h.UoWFactory)
	if err != nil {
		return dto.BookingCollection{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	filter = filter.Normalized()
	page, err := unit.Bookings().List(execCtx, filter)
	if err != nil {
		return dto.BookingCollection{}, err
	}
	if h.Logger != nil {
		h.Logger.Debug("bookings listed", "requester_id", filter.RequesterID, "owner_id", filter.OwnerID, "count", len(page.Items), "total", page.Total)
	}
	return dto.MapBookingPage(page, filter), nil
}

func newFilter(rawStatuses []string, limit, offset int) (domainbooking.ListFilter, error) {
	filter := domainbooking.ListFilter{Limit: limit, Offset: offset}
	for _, raw := range rawStatuses {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			s, err := domainbooking.ParseStatus(part)
			if err != nil {
				return domainbooking.ListFilter{}, err
			}
			filter.Statuses = append(filter.Statuses, s)
		}
	}
	return filter, nil
}

type GetBookingQuery struct {
	BookingID string
	ViewerID  string
}

func (q GetBookingQuery) Key() string { return getBookingKey }

func (q GetBookingQuery) Viewer() string { return q.ViewerID }

type GetBookingHandler struct {
	UoWFactory uow.UoWFactory
	Authorizer policies.Authorizer
}

func (h *GetBookingHandler) Handle(ctx context.Context, q GetBookingQuery) (dto.Booking, error) {
	viewer := strings.TrimSpace(q.ViewerID)
	if viewer == "" {
		return dto.Booking{}, ErrViewerRequired
	}
	unit, execCtx, cleanup, err := uow.BeginReadOnly(ctx, h.UoWFactory)
	if err != nil {
		return dto.Booking{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	b, err := unit.Bookings().ByID(execCtx, domainbooking.BookingID(strings.TrimSpace(q.BookingID)))
	if err != nil {
		return dto.Booking{}, err
	}
	if viewer != b.RequesterID && viewer != b.OwnerID {
		admin := false
		if h.Authorizer != nil {
			if admin, err = h.Authorizer.IsAdmin(execCtx, viewer); err != nil {
				return dto.Booking{}, err
			}
		}
		if !admin {
			return dto.Booking{}, ErrNotParticipant
		}
	}
	return dto.MapBooking(b), nil
}

type GetOccupancyQuery struct {
	PropertyID string
}

func (q GetOccupancyQuery) Key() string { return getOccupancyKey }

type GetOccupancyHandler struct {
	UoWFactory uow.UoWFactory
}

func (h *GetOccupancyHandler) Handle(ctx context.Context, q GetOccupancyQuery) (dto.Occupancy, error) {
	id := strings.TrimSpace(q.PropertyID)
	if id == "" {
		return dto.Occupancy{}, ErrPropertyIDRequired
	}
	unit, execCtx, cleanup, err := uow.BeginReadOnly(ctx, h.UoWFactory)
	if err != nil {
		return dto.Occupancy{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	p, err := unit.Properties().ByID(execCtx, domainoccupancy.PropertyID(id))
	if err != nil {
		return dto.Occupancy{}, err
	}
	return *dto.MapOccupancy(p), nil
}

var (
	_ queries.Handler[GetBookingQuery, dto.Booking]     = (*GetBookingHandler)(nil)
	_ queries.Handler[GetOccupancyQuery, dto.Occupancy] = (*GetOccupancyHandler)(nil)
)
