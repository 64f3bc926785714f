package sql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	appoutbox "rentalcore/internal/app/outbox"
)

const (
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"

	claimLease = time.Minute
)

// OutboxStore writes records through a unit's transaction and serves the
// relay worker from the pool.
type OutboxStore struct {
	db *gorm.DB
}

func (s *OutboxStore) Add(ctx context.Context, record appoutbox.EventRecord) error {
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	m := outboxModel{
		ID:            record.ID,
		Name:          record.Name,
		Payload:       record.Payload,
		Headers:       headers,
		Aggregate:     record.Aggregate,
		OccurredAt:    record.OccurredAt.UTC(),
		State:         stateNew,
		NextAttemptAt: now,
		CreatedAt:     now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}

func (s *OutboxStore) Claim(ctx context.Context, workerID string) (*appoutbox.Pending, error) {
	var claimed *outboxModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		q := tx
		if tx.Dialector.Name() != DriverSQLite {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		var m outboxModel
		err := q.
			Where("(state IN ? AND next_attempt_at <= ?) OR (state = ? AND claimed_at <= ?)",
				[]string{stateNew, stateFailed}, now, stateClaimed, now.Add(-claimLease)).
			Order("created_at ASC").Order("id ASC").
			Take(&m).Error
		if err != nil {
			return err
		}
		res := tx.Model(&outboxModel{}).
			Where("id = ? AND state = ?", m.ID, m.State).
			Updates(map[string]any{"state": stateClaimed, "claimed_by": workerID, "claimed_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			claimed = &m
		}
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil || claimed == nil {
		return nil, err
	}
	headers := map[string]string{}
	if len(claimed.Headers) > 0 {
		if err := json.Unmarshal(claimed.Headers, &headers); err != nil {
			return nil, err
		}
	}
	return &appoutbox.Pending{
		EventRecord: appoutbox.EventRecord{
			ID:         claimed.ID,
			Name:       claimed.Name,
			Payload:    claimed.Payload,
			OccurredAt: claimed.OccurredAt.UTC(),
			Aggregate:  claimed.Aggregate,
			Headers:    headers,
		},
		Attempts: claimed.Attempts,
	}, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&outboxModel{}).Where("id = ?", id).
		Updates(map[string]any{"state": stateSent, "sent_at": now}).Error
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	return s.db.WithContext(ctx).Model(&outboxModel{}).Where("id = ?", id).
		Updates(map[string]any{
			"state":           stateFailed,
			"next_attempt_at": next.UTC(),
			"last_error":      errMsg,
			"attempts":        gorm.Expr("attempts + 1"),
		}).Error
}

// Flush is a no-op; the worker polls the table.
func (s *OutboxStore) Flush(context.Context) error { return nil }

var (
	_ appoutbox.Outbox = (*OutboxStore)(nil)
	_ appoutbox.Relay  = (*OutboxStore)(nil)
)
