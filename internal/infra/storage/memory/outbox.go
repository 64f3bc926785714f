package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appoutbox "rentalcore/internal/app/outbox"
	domainbooking "rentalcore/internal/domain/booking"
)

const (
	StateNew     = "NEW"
	StateClaimed = "CLAIMED"
	StateSent    = "SENT"
	StateFailed  = "FAILED"
)

// Entry is a committed outbox record with its delivery state.
type Entry struct {
	appoutbox.EventRecord
	State       string
	Attempts    int
	NextAttempt time.Time
	ClaimedBy   string
	LastError   string
}

// Outbox holds committed records in commit order and implements the relay
// side of the outbox. Flush wakes a waiting worker.
type Outbox struct {
	mu      sync.Mutex
	entries []*Entry
	byID    map[string]*Entry
	wake    chan struct{}
	now     func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{byID: make(map[string]*Entry), wake: make(chan struct{}, 1), now: time.Now}
}

func (o *Outbox) append(records []appoutbox.EventRecord) {
	if len(records) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now().UTC()
	for _, rec := range records {
		if _, dup := o.byID[rec.ID]; dup {
			continue
		}
		e := &Entry{EventRecord: rec, State: StateNew, NextAttempt: now}
		o.entries = append(o.entries, e)
		o.byID[rec.ID] = e
	}
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now().UTC()
	for _, e := range o.entries {
		if (e.State == StateNew || e.State == StateFailed) && !e.NextAttempt.After(now) {
			e.State = StateClaimed
			e.ClaimedBy = workerID
			return &appoutbox.Pending{EventRecord: e.EventRecord, Attempts: e.Attempts}, nil
		}
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.byID[id]; ok {
		e.State = StateSent
		e.LastError = ""
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.byID[id]; ok {
		e.State = StateFailed
		e.Attempts++
		e.NextAttempt = next
		e.LastError = errMsg
	}
	return nil
}

func (o *Outbox) Flush(ctx context.Context) error {
	select {
	case o.wake <- struct{}{}:
	default:
	}
	return nil
}

// Wake fires after Flush so a worker can skip the rest of its poll interval.
func (o *Outbox) Wake() <-chan struct{} { return o.wake }

// Entries returns a copy of every committed record.
func (o *Outbox) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, 0, len(o.entries))
	for _, e := range o.entries {
		out = append(out, *e)
	}
	return out
}

var (
	_ appoutbox.Relay   = (*Outbox)(nil)
	_ appoutbox.Flusher = (*Outbox)(nil)
)

func sortNewestFirst(items []*domainbooking.Booking) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}

func sortOldestFirst(items []*domainbooking.Booking) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RequestedDate.Equal(items[j].RequestedDate) {
			return items[i].ID < items[j].ID
		}
		return items[i].RequestedDate.Before(items[j].RequestedDate)
	})
}
