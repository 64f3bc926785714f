package collab

import (
	"context"
	"log/slog"
	"sync"

	"rentalcore/internal/app/policies"
)

// Ledger stands in for the notification, reputation and loyalty services
// when none are deployed. It logs each call and keeps running totals.
type Ledger struct {
	Logger *slog.Logger

	mu         sync.Mutex
	reputation map[string]int
	points     map[string]int
	sent       int
}

func NewLedger(logger *slog.Logger) *Ledger {
	return &Ledger{Logger: logger, reputation: map[string]int{}, points: map[string]int{}}
}

func (l *Ledger) Notify(ctx context.Context, userID, template string, payload map[string]string) error {
	l.mu.Lock()
	l.sent++
	l.mu.Unlock()
	if l.Logger != nil {
		l.Logger.InfoContext(ctx, "notification sent", "user_id", userID, "template", template, "booking_id", payload["booking_id"])
	}
	return nil
}

func (l *Ledger) ApplyDelta(ctx context.Context, landlordID string, delta int, reason string) error {
	l.mu.Lock()
	l.reputation[landlordID] += delta
	total := l.reputation[landlordID]
	l.mu.Unlock()
	if l.Logger != nil {
		l.Logger.InfoContext(ctx, "reputation adjusted", "landlord_id", landlordID, "delta", delta, "total", total, "reason", reason)
	}
	return nil
}

func (l *Ledger) CreditPoints(ctx context.Context, userID string, points int, reason string) error {
	l.mu.Lock()
	l.points[userID] += points
	total := l.points[userID]
	l.mu.Unlock()
	if l.Logger != nil {
		l.Logger.InfoContext(ctx, "loyalty points credited", "user_id", userID, "points", points, "total", total, "reason", reason)
	}
	return nil
}

func (l *Ledger) Reputation(landlordID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reputation[landlordID]
}

func (l *Ledger) Points(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.points[userID]
}

func (l *Ledger) Notifications() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

var (
	_ policies.Notifier   = (*Ledger)(nil)
	_ policies.Reputation = (*Ledger)(nil)
	_ policies.Loyalty    = (*Ledger)(nil)
)
