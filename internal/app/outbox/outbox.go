package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"rentalcore/internal/domain/shared/events"
)

type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

// Outbox accepts records inside a unit of work; they become visible to the
// relay only when that unit commits.
type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

// Flusher is implemented by outboxes that can wake their relay right away
// instead of waiting for the next poll.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Pending is a committed record waiting for delivery.
type Pending struct {
	EventRecord
	Attempts int
}

// Relay is the worker-side view of an outbox store.
type Relay interface {
	Claim(ctx context.Context, workerID string) (*Pending, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

// Keyed events carry their own stable id, which then doubles as the outbox
// record id.
type Keyed interface {
	EventKey() string
}

type JSONEventEncoder struct {
	IDGenerator func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, err
	}
	id := ""
	if keyed, ok := ev.(Keyed); ok {
		id = keyed.EventKey()
	}
	if id == "" {
		idGen := e.IDGenerator
		if idGen == nil {
			idGen = uuid.NewString
		}
		id = idGen()
	}
	return EventRecord{
		ID:         id,
		Name:       ev.EventName(),
		Payload:    payload,
		OccurredAt: ev.OccurredAt(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{},
	}, nil
}

func RecordDomainEvents(ctx context.Context, box Outbox, encoder EventEncoder, evs []events.DomainEvent) error {
	if box == nil || len(evs) == 0 {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	for _, ev := range evs {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if err := box.Add(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}
