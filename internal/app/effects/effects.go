package effects

import (
	"strings"
	"time"

	domainbooking "rentalcore/internal/domain/booking"
	"rentalcore/internal/domain/shared/events"
)

type Kind string

const (
	KindNotify     Kind = "notification.requested"
	KindReputation Kind = "reputation.delta"
	KindLoyalty    Kind = "loyalty.credit"
)

const (
	TemplateRequested      = "booking_requested"
	TemplateConfirmed      = "booking_confirmed"
	TemplateConfirmedOwner = "booking_confirmed_owner"
	TemplateRejected       = "booking_rejected"
	TemplateCancelled      = "booking_cancelled"
	TemplateExpired        = "booking_expired"
	TemplateReleased       = "tenancy_ended"

	ReasonFulfilled = "booking fulfilled"
	ReasonConfirmed = "booking confirmed"
)

// Effect is one downstream action caused by a committed transition. It is a
// domain event itself so it travels through the outbox like any other.
type Effect struct {
	Key       string            `json:"key"`
	Kind      Kind              `json:"kind"`
	BookingID string            `json:"booking_id"`
	Cause     string            `json:"cause"`
	SubjectID string            `json:"subject_id"`
	Template  string            `json:"template,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Delta     int               `json:"delta,omitempty"`
	Points    int               `json:"points,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"occurred_at"`
}

func (e Effect) EventName() string     { return string(e.Kind) }
func (e Effect) AggregateID() string   { return e.BookingID }
func (e Effect) OccurredAt() time.Time { return e.At }
func (e Effect) EventKey() string      { return e.Key }

// Planner turns booking events into the ordered effects they cause.
type Planner struct {
	LoyaltyPoints   int
	ReputationDelta int
}

const (
	defaultLoyaltyPoints   = 10
	defaultReputationDelta = 1
)

func (p Planner) Plan(evs []events.DomainEvent) []Effect {
	var out []Effect
	for _, ev := range evs {
		out = append(out, p.planOne(ev)...)
	}
	return out
}

func (p Planner) planOne(ev events.DomainEvent) []Effect {
	switch e := ev.(type) {
	case domainbooking.Submitted:
		return []Effect{
			notify(ev, string(e.BookingID), e.OwnerID, TemplateRequested, bookingPayload(string(e.BookingID), string(e.AccommodationID))),
		}
	case domainbooking.Confirmed:
		payload := bookingPayload(string(e.BookingID), string(e.AccommodationID))
		return []Effect{
			notify(ev, string(e.BookingID), e.RequesterID, TemplateConfirmed, payload),
			notify(ev, string(e.BookingID), e.OwnerID, TemplateConfirmedOwner, payload),
			newEffect(ev, KindReputation, string(e.BookingID), e.OwnerID, func(eff *Effect) {
				eff.Delta = p.reputationDelta()
				eff.Reason = ReasonFulfilled
			}),
			newEffect(ev, KindLoyalty, string(e.BookingID), e.RequesterID, func(eff *Effect) {
				eff.Points = p.loyaltyPoints()
				eff.Reason = ReasonConfirmed
			}),
		}
	case domainbooking.Rejected:
		payload := bookingPayload(string(e.BookingID), string(e.AccommodationID))
		if e.Reason != "" {
			payload["reason"] = e.Reason
		}
		return []Effect{notify(ev, string(e.BookingID), e.RequesterID, TemplateRejected, payload)}
	case domainbooking.Cancelled:
		payload := bookingPayload(string(e.BookingID), string(e.AccommodationID))
		if e.CancelledBy == domainbooking.SystemActor {
			return []Effect{notify(ev, string(e.BookingID), e.RequesterID, TemplateExpired, payload)}
		}
		if e.Reason != "" {
			payload["reason"] = e.Reason
		}
		other := e.OwnerID
		if e.CancelledBy != e.RequesterID {
			other = e.RequesterID
		}
		return []Effect{notify(ev, string(e.BookingID), other, TemplateCancelled, payload)}
	case domainbooking.Released:
		return []Effect{
			notify(ev, string(e.BookingID), e.RequesterID, TemplateReleased, bookingPayload(string(e.BookingID), string(e.AccommodationID))),
		}
	}
	return nil
}

func (p Planner) loyaltyPoints() int {
	if p.LoyaltyPoints > 0 {
		return p.LoyaltyPoints
	}
	return defaultLoyaltyPoints
}

func (p Planner) reputationDelta() int {
	if p.ReputationDelta != 0 {
		return p.ReputationDelta
	}
	return defaultReputationDelta
}

func notify(cause events.DomainEvent, bookingID, userID, template string, payload map[string]string) Effect {
	return newEffect(cause, KindNotify, bookingID, userID, func(eff *Effect) {
		eff.Template = template
		eff.Payload = payload
	})
}

func newEffect(cause events.DomainEvent, kind Kind, bookingID, subjectID string, fill func(*Effect)) Effect {
	eff := Effect{
		Key:       EffectKey(bookingID, cause.EventName(), kind, subjectID),
		Kind:      kind,
		BookingID: bookingID,
		Cause:     cause.EventName(),
		SubjectID: subjectID,
		At:        cause.OccurredAt(),
	}
	if fill != nil {
		fill(&eff)
	}
	return eff
}

// EffectKey is the idempotency key consumers deduplicate on.
func EffectKey(bookingID, cause string, kind Kind, subjectID string) string {
	return strings.Join([]string{bookingID, cause, string(kind), subjectID}, ":")
}

func bookingPayload(bookingID, accommodationID string) map[string]string {
	return map[string]string{"booking_id": bookingID, "accommodation_id": accommodationID}
}

// AsEvents widens effects for the outbox encoder.
func AsEvents(effs []Effect) []events.DomainEvent {
	out := make([]events.DomainEvent, 0, len(effs))
	for _, eff := range effs {
		out = append(out, eff)
	}
	return out
}
