package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	appoutbox "rentalcore/internal/app/outbox"
)

var ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// Waker is implemented by relays that can signal new records between polls.
type Waker interface {
	Wake() <-chan struct{}
}

// Worker relays committed outbox records as CloudEvents. Delivery is
// at-least-once; a failed publish is rescheduled with backoff and never
// touches the state that produced the record.
type Worker struct {
	Relay       appoutbox.Relay
	Producer    Producer
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
	BatchSize   int
	Logger      *slog.Logger
	Now         func() time.Time
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Relay == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	var wake <-chan struct{}
	if waker, ok := w.Relay.(Waker); ok {
		wake = waker.Wake()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
		if _, err := w.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
			if w.Logger != nil {
				w.Logger.Error("outbox relay pass failed", "worker_id", w.ID, "error", err)
			}
		}
	}
}

// Drain relays due records until none are left or the batch is full. It
// returns the number of records published.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	if w.Relay == nil || w.Producer == nil {
		return 0, ErrWorkerNotConfigured
	}
	sent := 0
	for i := 0; i < w.batchSize(); i++ {
		ok, published, err := w.processOnce(ctx)
		if err != nil {
			return sent, err
		}
		if !ok {
			break
		}
		if published {
			sent++
		}
	}
	return sent, nil
}

func (w *Worker) processOnce(ctx context.Context) (claimed bool, published bool, err error) {
	rec, err := w.Relay.Claim(ctx, w.workerID())
	if err != nil || rec == nil {
		return false, false, err
	}
	topic := w.topicFor(rec.Name)
	payload, headers, err := w.formatPayload(rec)
	if err == nil {
		err = w.Producer.Publish(ctx, topic, rec.Aggregate, payload, headers)
	}
	if err != nil {
		next := w.nextRetry(rec.Attempts)
		if w.Logger != nil {
			w.Logger.Warn("outbox publish failed", "record_id", rec.ID, "name", rec.Name, "attempts", rec.Attempts+1, "next_attempt", next, "error", err)
		}
		return true, false, w.Relay.MarkFailed(ctx, rec.ID, next, err.Error())
	}
	if w.Logger != nil {
		w.Logger.Debug("outbox record published", "record_id", rec.ID, "topic", topic)
	}
	return true, true, w.Relay.MarkSent(ctx, rec.ID)
}

func (w *Worker) formatPayload(rec *appoutbox.Pending) ([]byte, map[string]string, error) {
	if !json.Valid(rec.Payload) {
		return nil, nil, errors.New("outbox: record payload is not json")
	}
	payload, err := json.Marshal(appoutbox.Envelope(rec.EventRecord, w.source()))
	if err != nil {
		return nil, nil, err
	}
	headers := map[string]string{
		"content-type": appoutbox.CloudEventsContentType,
		"ce-id":        rec.ID,
	}
	for k, v := range rec.Headers {
		headers[k] = v
	}
	return payload, headers, nil
}

// topicFor maps "booking.confirmed" to "booking.events.v1".
func (w *Worker) topicFor(name string) string {
	base := name
	if idx := strings.IndexRune(name, '.'); idx > 0 {
		base = name[:idx]
	}
	topic := base + ".events.v1"
	if w.TopicPrefix != "" {
		topic = w.TopicPrefix + topic
	}
	return topic
}

func (w *Worker) workerID() string {
	if w.ID != "" {
		return w.ID
	}
	return "outbox-worker"
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return 100
	}
	return w.BatchSize
}

func (w *Worker) nextRetry(attempts int) time.Time {
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	if attempts < len(w.Backoff) {
		return now.Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return now.Add(w.Backoff[len(w.Backoff)-1])
	}
	return now.Add(5 * time.Second)
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return "app://rentalcore"
}
