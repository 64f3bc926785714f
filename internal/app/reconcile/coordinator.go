package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"rentalcore/internal/app/effects"
	"rentalcore/internal/app/outbox"
	"rentalcore/internal/app/policies"
	"rentalcore/internal/app/uow"
	domainbooking "rentalcore/internal/domain/booking"
	domainoccupancy "rentalcore/internal/domain/occupancy"
	"rentalcore/internal/domain/shared/fault"
)

var (
	ErrContention       = fault.Conflict("reconcile: too many concurrent updates, try again")
	ErrNotOwner         = fault.Authorization("reconcile: only the owner or an administrator may decide")
	ErrAdminOnly        = fault.Authorization("reconcile: administrator role required")
	ErrUnknownAction    = fault.Validation("reconcile: unknown action")
	ErrActorRequired    = fault.Validation("reconcile: actor id required")
	ErrNotConfigured    = errors.New("reconcile: coordinator missing dependencies")
	errAuthorizerAbsent = errors.New("reconcile: authorizer required")
)

type Action string

const (
	ActionConfirm Action = "confirm"
	ActionReject  Action = "reject"
	ActionCancel  Action = "cancel"
	ActionRelease Action = "release"
	ActionExpire  Action = "expire"
)

// ActionFor maps an owner decision onto the matching action.
func ActionFor(d domainbooking.Decision) (Action, error) {
	switch d {
	case domainbooking.DecisionConfirm:
		return ActionConfirm, nil
	case domainbooking.DecisionReject:
		return ActionReject, nil
	}
	return "", domainbooking.ErrUnknownDecision
}

type Request struct {
	BookingID domainbooking.BookingID
	Action    Action
	ActorID   string
	Reason    string
}

// Result is the committed state after a transition. Property is nil for
// standalone accommodations. Changed is false for idempotent repeats, in
// which case Effects is empty.
type Result struct {
	Booking       *domainbooking.Booking
	Accommodation *domainoccupancy.Accommodation
	Property      *domainoccupancy.Property
	Effects       []effects.Effect
	Changed       bool
	Attempts      int
}

const (
	defaultMaxAttempts = 4
	defaultBackoff     = 15 * time.Millisecond
)

// Coordinator is the only writer of occupancy counters. Each transition runs
// read-validate-commit inside one unit of work and is retried as a whole when
// the store reports a version conflict.
type Coordinator struct {
	Units       uow.UoWFactory
	Authorizer  policies.Authorizer
	Locks       Locker
	Planner     effects.Planner
	Encoder     outbox.EventEncoder
	MaxAttempts int
	Backoff     time.Duration
	// LockRows asks the store for row locks on reads.
	LockRows bool
	Now      func() time.Time
	Logger   *slog.Logger
}

func (c *Coordinator) Decide(ctx context.Context, id domainbooking.BookingID, decision domainbooking.Decision, deciderID string) (Result, error) {
	action, err := ActionFor(decision)
	if err != nil {
		return Result{}, err
	}
	return c.ApplyTransition(ctx, Request{BookingID: id, Action: action, ActorID: deciderID})
}

func (c *Coordinator) Cancel(ctx context.Context, id domainbooking.BookingID, requesterID, reason string) (Result, error) {
	return c.ApplyTransition(ctx, Request{BookingID: id, Action: ActionCancel, ActorID: requesterID, Reason: reason})
}

func (c *Coordinator) Release(ctx context.Context, id domainbooking.BookingID, actorID string) (Result, error) {
	return c.ApplyTransition(ctx, Request{BookingID: id, Action: ActionRelease, ActorID: actorID})
}

func (c *Coordinator) Expire(ctx context.Context, id domainbooking.BookingID) (Result, error) {
	return c.ApplyTransition(ctx, Request{BookingID: id, Action: ActionExpire, ActorID: domainbooking.SystemActor})
}

// ApplyTransition moves one booking and keeps the accommodation and property
// counters consistent with it.
func (c *Coordinator) ApplyTransition(ctx context.Context, req Request) (Result, error) {
	if c.Units == nil {
		return Result{}, ErrNotConfigured
	}
	if req.ActorID == "" {
		return Result{}, ErrActorRequired
	}
	switch req.Action {
	case ActionConfirm, ActionReject, ActionCancel, ActionRelease, ActionExpire:
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}

	unlock, err := c.lockFor(ctx, req.BookingID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var res Result
	err = c.retry(ctx, "booking_id", string(req.BookingID), func(ctx context.Context, attempt int) error {
		out, err := c.attempt(ctx, req)
		if err != nil {
			return err
		}
		out.Attempts = attempt
		res = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if c.Logger != nil && res.Changed {
		c.Logger.InfoContext(ctx, "booking transition committed",
			"booking_id", res.Booking.ID,
			"action", req.Action,
			"status", res.Booking.Status,
			"actor_id", req.ActorID,
			"attempts", res.Attempts,
			"effects", len(res.Effects),
		)
	}
	return res, nil
}

func (c *Coordinator) attempt(ctx context.Context, req Request) (Result, error) {
	var res Result
	err := uow.Within(ctx, c.Units, uow.TxOptions{LockRows: c.LockRows}, func(ctx context.Context, unit uow.UnitOfWork) error {
		b, err := unit.Bookings().ByID(ctx, req.BookingID)
		if err != nil {
			return err
		}
		room, err := unit.Accommodations().ByID(ctx, b.AccommodationID)
		if err != nil {
			return err
		}
		var prop *domainoccupancy.Property
		if !room.Standalone() {
			if prop, err = unit.Properties().ByID(ctx, room.PropertyID); err != nil {
				return err
			}
		}
		if err := c.authorize(ctx, req, b); err != nil {
			return err
		}

		now := c.now()
		changed, roomChanged, err := apply(req, b, room, prop, now)
		if err != nil {
			return err
		}
		res = Result{Booking: b, Accommodation: room, Property: prop, Changed: changed}
		if !changed {
			return nil
		}

		if err := unit.Bookings().Save(ctx, b); err != nil {
			return err
		}
		if roomChanged {
			if err := unit.Accommodations().Save(ctx, room); err != nil {
				return err
			}
			if prop != nil {
				if err := unit.Properties().Save(ctx, prop); err != nil {
					return err
				}
			}
		}
		evs := b.Drain()
		res.Effects = c.Planner.Plan(evs)
		if err := outbox.RecordDomainEvents(ctx, unit.Outbox(), c.Encoder, evs); err != nil {
			return err
		}
		return outbox.RecordDomainEvents(ctx, unit.Outbox(), c.Encoder, effects.AsEvents(res.Effects))
	})
	return res, err
}

// apply runs the state machine and the occupancy change it implies. It
// reports whether the booking changed and whether the room counters did.
func apply(req Request, b *domainbooking.Booking, room *domainoccupancy.Accommodation, prop *domainoccupancy.Property, now time.Time) (bool, bool, error) {
	switch req.Action {
	case ActionConfirm:
		changed, err := b.Decide(domainbooking.DecisionConfirm, req.ActorID, now)
		if err != nil || !changed {
			return false, false, err
		}
		if err := domainoccupancy.Occupy(room, prop, now); err != nil {
			return false, false, err
		}
		return true, true, nil
	case ActionReject:
		changed, err := b.Decide(domainbooking.DecisionReject, req.ActorID, now)
		return changed, false, err
	case ActionCancel:
		changed, err := b.Cancel(req.ActorID, req.Reason, now)
		return changed, false, err
	case ActionExpire:
		changed, err := b.Expire(now)
		return changed, false, err
	case ActionRelease:
		changed, err := b.Release(req.ActorID, now)
		if err != nil || !changed {
			return false, false, err
		}
		vacated, err := domainoccupancy.Vacate(room, prop, now)
		if err != nil {
			return false, false, err
		}
		return true, vacated, nil
	}
	return false, false, ErrUnknownAction
}

func (c *Coordinator) authorize(ctx context.Context, req Request, b *domainbooking.Booking) error {
	switch req.Action {
	case ActionCancel, ActionExpire:
		// cancel checks the requester itself; expiry is system-initiated
		return nil
	}
	if c.Authorizer == nil {
		return errAuthorizerAbsent
	}
	owner, err := c.Authorizer.IsOwner(ctx, b.AccommodationID, req.ActorID)
	if err != nil {
		return err
	}
	if owner {
		return nil
	}
	admin, err := c.Authorizer.IsAdmin(ctx, req.ActorID)
	if err != nil {
		return err
	}
	if !admin {
		return ErrNotOwner
	}
	return nil
}

// ReconcileProperty recounts rented rooms under a property and repairs the
// stored counter. actorID must be an administrator unless it is the system.
func (c *Coordinator) ReconcileProperty(ctx context.Context, id domainoccupancy.PropertyID, actorID string) (domainoccupancy.Drift, error) {
	if c.Units == nil {
		return domainoccupancy.Drift{}, ErrNotConfigured
	}
	if actorID != domainbooking.SystemActor {
		if c.Authorizer == nil {
			return domainoccupancy.Drift{}, errAuthorizerAbsent
		}
		admin, err := c.Authorizer.IsAdmin(ctx, actorID)
		if err != nil {
			return domainoccupancy.Drift{}, err
		}
		if !admin {
			return domainoccupancy.Drift{}, ErrAdminOnly
		}
	}
	unlock, err := c.lock(ctx, "property:"+string(id))
	if err != nil {
		return domainoccupancy.Drift{}, err
	}
	defer unlock()

	var drift domainoccupancy.Drift
	err = c.retry(ctx, "property_id", string(id), func(ctx context.Context, _ int) error {
		return uow.Within(ctx, c.Units, uow.TxOptions{LockRows: c.LockRows}, func(ctx context.Context, unit uow.UnitOfWork) error {
			prop, err := unit.Properties().ByID(ctx, id)
			if err != nil {
				return err
			}
			rooms, err := unit.Accommodations().ListByProperty(ctx, id)
			if err != nil {
				return err
			}
			drift, err = domainoccupancy.Recount(prop, rooms, c.now())
			if err != nil || !drift.Repaired() {
				return err
			}
			return unit.Properties().Save(ctx, prop)
		})
	})
	if err != nil {
		return drift, err
	}
	if c.Logger != nil && drift.Repaired() {
		c.Logger.WarnContext(ctx, "occupancy drift repaired", "property_id", id, "stored", drift.Stored, "counted", drift.Counted)
	}
	return drift, nil
}

// retry reruns fn while the store reports version conflicts.
func (c *Coordinator) retry(ctx context.Context, field, id string, fn func(ctx context.Context, attempt int) error) error {
	limit := c.maxAttempts()
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, uow.ErrConcurrentUpdate) {
			return err
		}
		if attempt >= limit {
			if c.Logger != nil {
				c.Logger.WarnContext(ctx, "giving up after version conflicts", field, id, "attempts", attempt)
			}
			return fmt.Errorf("%w (%s %s, %d attempts)", ErrContention, field, id, attempt)
		}
		if c.Logger != nil {
			c.Logger.DebugContext(ctx, "version conflict, retrying", field, id, "attempt", attempt)
		}
		if err := sleep(ctx, c.jitter(attempt)); err != nil {
			return err
		}
	}
}

// lockFor takes the in-process lock for the booking's property or standalone
// room. It reads outside any unit just to learn the key.
func (c *Coordinator) lockFor(ctx context.Context, id domainbooking.BookingID) (func(), error) {
	if c.Locks == nil {
		return func() {}, nil
	}
	unit, execCtx, cleanup, err := uow.BeginReadOnly(ctx, c.Units)
	if err != nil {
		return nil, err
	}
	if cleanup != nil {
		defer cleanup()
	}
	b, err := unit.Bookings().ByID(execCtx, id)
	if err != nil {
		return nil, err
	}
	room, err := unit.Accommodations().ByID(execCtx, b.AccommodationID)
	if err != nil {
		return nil, err
	}
	return c.lock(ctx, room.LockKey())
}

func (c *Coordinator) lock(ctx context.Context, key string) (func(), error) {
	if c.Locks == nil {
		return func() {}, nil
	}
	return c.Locks.Lock(ctx, key)
}

func (c *Coordinator) jitter(attempt int) time.Duration {
	base := c.Backoff
	if base <= 0 {
		base = defaultBackoff
	}
	step := base * time.Duration(attempt)
	return step/2 + rand.N(step/2+1)
}

func (c *Coordinator) maxAttempts() int {
	if c.MaxAttempts > 0 {
		return c.MaxAttempts
	}
	return defaultMaxAttempts
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
