package booking

import "strings"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// transitions is the whole state machine: a booking leaves pending exactly
// once and never moves again.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {},
	StatusRejected:  {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) IsTerminal() bool {
	allowed, ok := transitions[s]
	return !ok || len(allowed) == 0
}

func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrUnknownStatus
	}
	return s, nil
}

// Decision is what an owner or admin may decide about a pending booking.
type Decision string

const (
	DecisionConfirm Decision = "confirmed"
	DecisionReject  Decision = "rejected"
)

func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "confirmed", "confirm":
		return DecisionConfirm, nil
	case "rejected", "reject":
		return DecisionReject, nil
	}
	return "", ErrUnknownDecision
}

func (d Decision) Status() Status {
	return Status(d)
}
