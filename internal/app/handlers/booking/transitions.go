package booking

import (
	"context"
	"strings"

	"rentalcore/internal/app/commands"
	"rentalcore/internal/app/dto"
	"rentalcore/internal/app/middleware"
	"rentalcore/internal/app/reconcile"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
)

const (
	decideBookingKey     = "booking.decide"
	cancelBookingKey     = "booking.cancel"
	releaseBookingKey    = "booking.release"
	reconcilePropertyKey = "property.reconcile"
)

var ErrBookingIDRequired = fault.Validation("booking: booking id required")

// Transitioner is the coordinator surface the command handlers need.
type Transitioner interface {
	ApplyTransition(ctx context.Context, req reconcile.Request) (reconcile.Result, error)
	ReconcileProperty(ctx context.Context, id domainoccupancy.PropertyID, actorID string) (domainoccupancy.Drift, error)
}

type DecideBookingCommand struct {
	BookingID string
	Decision  string
	DeciderID string
}

func (c DecideBookingCommand) Key() string { return decideBookingKey }

func (c DecideBookingCommand) Actor() string { return c.DeciderID }

func (c DecideBookingCommand) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return ErrBookingIDRequired
	}
	_, err := domainbooking.ParseDecision(c.Decision)
	return err
}

type CancelBookingCommand struct {
	BookingID   string
	RequesterID string
	Reason      string
}

func (c CancelBookingCommand) Key() string { return cancelBookingKey }

func (c CancelBookingCommand) Actor() string { return c.RequesterID }

func (c CancelBookingCommand) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return ErrBookingIDRequired
	}
	return nil
}

type ReleaseBookingCommand struct {
	BookingID string
	ActorID   string
}

func (c ReleaseBookingCommand) Key() string { return releaseBookingKey }

func (c ReleaseBookingCommand) Actor() string { return c.ActorID }

func (c ReleaseBookingCommand) Validate() error {
	if strings.TrimSpace(c.BookingID) == "" {
		return ErrBookingIDRequired
	}
	return nil
}

type ReconcilePropertyCommand struct {
	PropertyID string
	ActorID    string
}

func (c ReconcilePropertyCommand) Key() string { return reconcilePropertyKey }

func (c ReconcilePropertyCommand) Actor() string { return c.ActorID }

func (c ReconcilePropertyCommand) AdminActor() string { return c.ActorID }

type DecideBookingHandler struct {
	Coordinator Transitioner
}

func (h *DecideBookingHandler) Handle(ctx context.Context, cmd DecideBookingCommand) (*dto.TransitionResult, error) {
	decision, err := domainbooking.ParseDecision(cmd.Decision)
	if err != nil {
		return nil, err
	}
	action, err := reconcile.ActionFor(decision)
	if err != nil {
		return nil, err
	}
	return transition(ctx, h.Coordinator, reconcile.Request{
		BookingID: domainbooking.BookingID(strings.TrimSpace(cmd.BookingID)),
		Action:    action,
		ActorID:   cmd.DeciderID,
	})
}

type CancelBookingHandler struct {
	Coordinator Transitioner
}

func (h *CancelBookingHandler) Handle(ctx context.Context, cmd CancelBookingCommand) (*dto.TransitionResult, error) {
	return transition(ctx, h.Coordinator, reconcile.Request{
		BookingID: domainbooking.BookingID(strings.TrimSpace(cmd.BookingID)),
		Action:    reconcile.ActionCancel,
		ActorID:   cmd.RequesterID,
		Reason:    cmd.Reason,
	})
}

type ReleaseBookingHandler struct {
	Coordinator Transitioner
}

func (h *ReleaseBookingHandler) Handle(ctx context.Context, cmd ReleaseBookingCommand) (*dto.TransitionResult, error) {
	return transition(ctx, h.Coordinator, reconcile.Request{
		BookingID: domainbooking.BookingID(strings.TrimSpace(cmd.BookingID)),
		Action:    reconcile.ActionRelease,
		ActorID:   cmd.ActorID,
	})
}

type ReconcilePropertyHandler struct {
	Coordinator Transitioner
}

func (h *ReconcilePropertyHandler) Handle(ctx context.Context, cmd ReconcilePropertyCommand) (*dto.Drift, error) {
	drift, err := h.Coordinator.ReconcileProperty(ctx, domainoccupancy.PropertyID(strings.TrimSpace(cmd.PropertyID)), cmd.ActorID)
	if err != nil {
		return nil, err
	}
	out := dto.MapDrift(drift)
	return &out, nil
}

func transition(ctx context.Context, coord Transitioner, req reconcile.Request) (*dto.TransitionResult, error) {
	res, err := coord.ApplyTransition(ctx, req)
	if err != nil {
		return nil, err
	}
	return &dto.TransitionResult{
		Booking:   dto.MapBooking(res.Booking),
		Occupancy: dto.MapOccupancy(res.Property),
		Changed:   res.Changed,
		Effects:   dto.MapEffects(res.Effects),
	}, nil
}

var (
	_ commands.Handler[DecideBookingCommand, *dto.TransitionResult] = (*DecideBookingHandler)(nil)
	_ commands.Handler[CancelBookingCommand, *dto.TransitionResult] = (*CancelBookingHandler)(nil)
	_ commands.Handler[ReleaseBookingCommand, *dto.TransitionResult] = (*ReleaseBookingHandler)(nil)
	_ commands.Handler[ReconcilePropertyCommand, *dto.Drift]         = (*ReconcilePropertyHandler)(nil)
	_ middleware.AdminOnly                                           = ReconcilePropertyCommand{}
	_ Transitioner                                                   = (*reconcile.Coordinator)(nil)
)
