package effects

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalcore/internal/app/outbox"
	domainbooking "rentalcore/internal/domain/booking"
	"rentalcore/internal/domain/shared/events"
)

var at = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func TestPlanConfirmedOrder(t *testing.T) {
	ev := domainbooking.Confirmed{BookingID: "b-1", AccommodationID: "a-1", RequesterID: "tenant", OwnerID: "owner", DecidedBy: "owner", At: at}

	effs := Planner{LoyaltyPoints: 25}.Plan([]events.DomainEvent{ev})

	require.Len(t, effs, 4)
	assert.Equal(t, KindNotify, effs[0].Kind)
	assert.Equal(t, "tenant", effs[0].SubjectID)
	assert.Equal(t, TemplateConfirmed, effs[0].Template)
	assert.Equal(t, KindNotify, effs[1].Kind)
	assert.Equal(t, "owner", effs[1].SubjectID)
	assert.Equal(t, KindReputation, effs[2].Kind)
	assert.Equal(t, "owner", effs[2].SubjectID)
	assert.Equal(t, 1, effs[2].Delta)
	assert.Equal(t, ReasonFulfilled, effs[2].Reason)
	assert.Equal(t, KindLoyalty, effs[3].Kind)
	assert.Equal(t, "tenant", effs[3].SubjectID)
	assert.Equal(t, 25, effs[3].Points)

	keys := map[string]bool{}
	for _, eff := range effs {
		assert.Equal(t, at, eff.At)
		assert.False(t, keys[eff.Key], "duplicate key %s", eff.Key)
		keys[eff.Key] = true
	}
}

func TestPlanRejectedAndCancelledNotifyOtherPartyOnly(t *testing.T) {
	rejected := domainbooking.Rejected{BookingID: "b-1", RequesterID: "tenant", OwnerID: "owner", DecidedBy: "owner", At: at}
	byTenant := domainbooking.Cancelled{BookingID: "b-2", RequesterID: "tenant", OwnerID: "owner", CancelledBy: "tenant", At: at}
	expired := domainbooking.Cancelled{BookingID: "b-3", RequesterID: "tenant", OwnerID: "owner", CancelledBy: domainbooking.SystemActor, Reason: domainbooking.ReasonExpired, At: at}

	effs := Planner{}.Plan([]events.DomainEvent{rejected, byTenant, expired})

	require.Len(t, effs, 3)
	for _, eff := range effs {
		assert.Equal(t, KindNotify, eff.Kind)
	}
	assert.Equal(t, "tenant", effs[0].SubjectID)
	assert.Equal(t, TemplateRejected, effs[0].Template)
	assert.Equal(t, "owner", effs[1].SubjectID)
	assert.Equal(t, TemplateCancelled, effs[1].Template)
	assert.Equal(t, "tenant", effs[2].SubjectID)
	assert.Equal(t, TemplateExpired, effs[2].Template)
}

func TestPlanSubmittedNotifiesOwner(t *testing.T) {
	effs := Planner{}.Plan([]events.DomainEvent{domainbooking.Submitted{BookingID: "b-1", RequesterID: "tenant", OwnerID: "owner", At: at}})
	require.Len(t, effs, 1)
	assert.Equal(t, "owner", effs[0].SubjectID)
	assert.Equal(t, TemplateRequested, effs[0].Template)
}

type recorder struct {
	mu      sync.Mutex
	calls   []string
	failFor string
}

func (r *recorder) record(call, subject string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor == subject {
		return errors.New("collaborator unreachable")
	}
	r.calls = append(r.calls, call+":"+subject)
	return nil
}

func (r *recorder) Notify(ctx context.Context, userID, template string, payload map[string]string) error {
	return r.record("notify", userID)
}

func (r *recorder) ApplyDelta(ctx context.Context, landlordID string, delta int, reason string) error {
	return r.record("reputation", landlordID)
}

func (r *recorder) CreditPoints(ctx context.Context, userID string, points int, reason string) error {
	return r.record("loyalty", userID)
}

type mapInbox struct {
	mu        sync.Mutex
	seen      map[string]bool
	recordErr error
}

func (i *mapInbox) Seen(ctx context.Context, key string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen[key], nil
}

func (i *mapInbox) Record(ctx context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.recordErr != nil {
		return i.recordErr
	}
	if i.seen == nil {
		i.seen = map[string]bool{}
	}
	i.seen[key] = true
	return nil
}

func TestRouterDeduplicatesByKey(t *testing.T) {
	rec := &recorder{}
	router := &Router{Notifier: rec, Reputation: rec, Loyalty: rec, Inbox: &mapInbox{}}
	effs := Planner{}.Plan([]events.DomainEvent{domainbooking.Confirmed{BookingID: "b-1", RequesterID: "tenant", OwnerID: "owner", At: at}})

	for round := 0; round < 2; round++ {
		for _, eff := range effs {
			require.NoError(t, router.Deliver(context.Background(), eff))
		}
	}

	assert.Equal(t, []string{"notify:tenant", "notify:owner", "reputation:owner", "loyalty:tenant"}, rec.calls)
}

func TestRouterRecordsKeyOnlyAfterDelivery(t *testing.T) {
	rec := &recorder{failFor: "tenant"}
	inbox := &mapInbox{}
	router := &Router{Notifier: rec, Reputation: rec, Loyalty: rec, Inbox: inbox}
	eff := Planner{}.Plan([]events.DomainEvent{domainbooking.Rejected{BookingID: "b-1", RequesterID: "tenant", OwnerID: "owner", At: at}})[0]

	require.Error(t, router.Deliver(context.Background(), eff))
	seen, err := inbox.Seen(context.Background(), eff.Key)
	require.NoError(t, err)
	assert.False(t, seen, "a failed delivery must not be remembered")

	rec.failFor = ""
	require.NoError(t, router.Deliver(context.Background(), eff))
	assert.Equal(t, []string{"notify:tenant"}, rec.calls)
	seen, err = inbox.Seen(context.Background(), eff.Key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestRouterRedeliversWhenRecordFails(t *testing.T) {
	rec := &recorder{}
	inbox := &mapInbox{recordErr: errors.New("inbox unavailable")}
	router := &Router{Notifier: rec, Reputation: rec, Loyalty: rec, Inbox: inbox}
	eff := Planner{}.Plan([]events.DomainEvent{domainbooking.Submitted{BookingID: "b-1", RequesterID: "tenant", OwnerID: "owner", At: at}})[0]

	require.Error(t, router.Deliver(context.Background(), eff))
	inbox.recordErr = nil
	require.NoError(t, router.Deliver(context.Background(), eff))
	require.NoError(t, router.Deliver(context.Background(), eff))

	assert.Equal(t, []string{"notify:owner", "notify:owner"}, rec.calls, "delivered again after the lost record, then deduplicated")
}

func TestDeliverCloudEventRoundTrip(t *testing.T) {
	rec := &recorder{}
	router := &Router{Notifier: rec, Reputation: rec, Loyalty: rec}
	eff := Planner{}.Plan([]events.DomainEvent{domainbooking.Submitted{BookingID: "b-9", RequesterID: "tenant", OwnerID: "owner", At: at}})[0]

	record, err := outbox.JSONEventEncoder{}.Encode(eff)
	require.NoError(t, err)
	assert.Equal(t, eff.Key, record.ID)
	payload, err := jsonEnvelope(record)
	require.NoError(t, err)

	require.NoError(t, LocalPublisher{Router: router}.Publish(context.Background(), "notification.events.v1", record.Aggregate, payload, nil))
	assert.Equal(t, []string{"notify:owner"}, rec.calls)
}

func TestDeliverCloudEventIgnoresBookingEvents(t *testing.T) {
	rec := &recorder{}
	router := &Router{Notifier: rec, Reputation: rec, Loyalty: rec}
	record, err := outbox.JSONEventEncoder{}.Encode(domainbooking.Confirmed{BookingID: "b-1", At: at})
	require.NoError(t, err)
	payload, err := jsonEnvelope(record)
	require.NoError(t, err)

	require.NoError(t, router.DeliverCloudEvent(context.Background(), payload))
	assert.Empty(t, rec.calls)
}

func TestUnknownKind(t *testing.T) {
	router := &Router{}
	err := router.Deliver(context.Background(), Effect{Kind: "sms.blast"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func jsonEnvelope(rec outbox.EventRecord) ([]byte, error) {
	return json.Marshal(outbox.Envelope(rec, "test://effects"))
}
