package booking

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/dto"
	"rentalcore/internal/app/effects"
	"rentalcore/internal/app/middleware"
	"rentalcore/internal/app/outbox"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
)

const submitBookingKey = "booking.submit"

type SubmitBookingCommand struct {
	AccommodationID string
	RequesterID     string
	RequestedDate   time.Time
	NumOfPeople     int
	PhoneNumber     string
	Note            string
	IdempotencyKeyV string
}

func (c SubmitBookingCommand) Key() string { return submitBookingKey }

func (c SubmitBookingCommand) Actor() string { return c.RequesterID }

// IdempotencyKey scopes the client key to the requester, so two users
// choosing the same key never see each other's booking.
func (c SubmitBookingCommand) IdempotencyKey() string {
	if c.IdempotencyKeyV == "" {
		return ""
	}
	return c.RequesterID + ":" + c.IdempotencyKeyV
}

func (c SubmitBookingCommand) ResultPrototype() any { return &dto.Booking{} }

func (c SubmitBookingCommand) TxOptions() uow.TxOptions { return uow.TxOptions{} }

func (c SubmitBookingCommand) Validate() error {
	if strings.TrimSpace(c.AccommodationID) == "" {
		return domainbooking.ErrAccommodationRequired
	}
	if strings.TrimSpace(c.RequesterID) == "" {
		return domainbooking.ErrRequesterRequired
	}
	return nil
}

type SubmitBookingHandler struct {
	UoWFactory  uow.UoWFactory
	Encoder     outbox.EventEncoder
	Planner     effects.Planner
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

func (h *SubmitBookingHandler) Handle(ctx context.Context, cmd SubmitBookingCommand) (*dto.Booking, error) {
	if unit, ok := uow.FromContext(ctx); ok {
		return h.submit(ctx, unit, cmd)
	}
	var out *dto.Booking
	err := uow.Within(ctx, h.UoWFactory, uow.TxOptions{}, func(ctx context.Context, unit uow.UnitOfWork) error {
		res, err := h.submit(ctx, unit, cmd)
		out = res
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (h *SubmitBookingHandler) submit(ctx context.Context, unit uow.UnitOfWork, cmd SubmitBookingCommand) (*dto.Booking, error) {
	room, err := unit.Accommodations().ByID(ctx, domainoccupancy.AccommodationID(strings.TrimSpace(cmd.AccommodationID)))
	if err != nil {
		return nil, err
	}
	if err := room.AcceptsRequests(); err != nil {
		return nil, err
	}

	b, err := domainbooking.Submit(domainbooking.SubmitParams{
		ID:              domainbooking.BookingID(h.newID()),
		AccommodationID: room.ID,
		OwnerID:         room.OwnerID,
		RequesterID:     cmd.RequesterID,
		RequestedDate:   cmd.RequestedDate,
		NumOfPeople:     cmd.NumOfPeople,
		PhoneNumber:     cmd.PhoneNumber,
		Note:            cmd.Note,
		Now:             h.now(),
	})
	if err != nil {
		return nil, err
	}

	dup, err := unit.Bookings().HasPending(ctx, room.ID, b.RequesterID)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, domainbooking.ErrDuplicatePending
	}

	if err := unit.Bookings().Save(ctx, b); err != nil {
		return nil, err
	}
	evs := b.Drain()
	if err := outbox.RecordDomainEvents(ctx, unit.Outbox(), h.Encoder, evs); err != nil {
		return nil, err
	}
	effs := h.Planner.Plan(evs)
	if err := outbox.RecordDomainEvents(ctx, unit.Outbox(), h.Encoder, effects.AsEvents(effs)); err != nil {
		return nil, err
	}

	if h.Logger != nil {
		h.Logger.Info("booking submitted", "booking_id", b.ID, "accommodation_id", b.AccommodationID, "requester_id", b.RequesterID)
	}
	view := dto.MapBooking(b)
	return &view, nil
}

func (h *SubmitBookingHandler) newID() string {
	if h.IDGenerator != nil {
		return h.IDGenerator()
	}
	return uuid.NewString()
}

func (h *SubmitBookingHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

var (
	_ commands.Handler[SubmitBookingCommand, *dto.Booking] = (*SubmitBookingHandler)(nil)
	_ middleware.IdempotentCommand                         = SubmitBookingCommand{}
	_ middleware.Transactional                             = SubmitBookingCommand{}
	_ middleware.SelfValidating                            = SubmitBookingCommand{}
)
