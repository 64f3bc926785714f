package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentalcore/internal/app/effects"
	appoutbox "rentalcore/internal/app/outbox"
	domainbooking "rentalcore/internal/domain/booking"
	"rentalcore/internal/domain/shared/events"
	"rentalcore/internal/infra/collab"
	"rentalcore/internal/infra/storage/memory"
)

func TestPublishSendsPayload(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"ok":true}` {
			return errors.New("unexpected payload " + string(val))
		}
		return nil
	})
	p := NewProducerFrom(mock)
	require.NoError(t, p.Publish(context.Background(), "booking.events.v1", "b-1", []byte(`{"ok":true}`), map[string]string{"content-type": "application/json"}))
	require.NoError(t, p.Close())
}

func TestPublishHonoursCancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewProducerFrom(mock)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, "t", "k", nil, nil), context.Canceled)
	require.NoError(t, p.Close())
}

func TestEffectRelayDeliversOnce(t *testing.T) {
	ledger := collab.NewLedger(nil)
	relay := EffectRelay{Router: &effects.Router{Notifier: ledger, Reputation: ledger, Loyalty: ledger, Inbox: memory.NewInbox()}}
	eff := effects.Planner{}.Plan([]events.DomainEvent{domainbooking.Confirmed{BookingID: "b-1", RequesterID: "tenant", OwnerID: "owner", At: time.Now().UTC()}})[2]
	rec, err := appoutbox.JSONEventEncoder{}.Encode(eff)
	require.NoError(t, err)
	payload, err := json.Marshal(appoutbox.Envelope(rec, "test://relay"))
	require.NoError(t, err)

	msg := &sarama.ConsumerMessage{Topic: "reputation.events.v1", Value: payload}
	require.NoError(t, relay.Handle(context.Background(), msg))
	require.NoError(t, relay.Handle(context.Background(), msg))
	assert.Equal(t, 1, ledger.Reputation("owner"))
}

type flakyHandler struct{ failures, calls int }

func (h *flakyHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	h.calls++
	if h.failures > 0 {
		h.failures--
		return errors.New("downstream timeout")
	}
	return nil
}

type claimSession struct {
	sarama.ConsumerGroupSession
	marked []int64
}

func (s *claimSession) Context() context.Context { return context.Background() }

func (s *claimSession) MarkMessage(msg *sarama.ConsumerMessage, metadata string) {
	s.marked = append(s.marked, msg.Offset)
}

type queuedClaim struct {
	sarama.ConsumerGroupClaim
	messages chan *sarama.ConsumerMessage
}

func (c queuedClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func claimOf(offsets ...int64) queuedClaim {
	ch := make(chan *sarama.ConsumerMessage, len(offsets))
	for _, off := range offsets {
		ch <- &sarama.ConsumerMessage{Topic: "notification.events.v1", Offset: off}
	}
	close(ch)
	return queuedClaim{messages: ch}
}

func TestConsumeClaimMarksDeliveredMessages(t *testing.T) {
	sess := &claimSession{}
	h := consumerGroupHandler{handler: &flakyHandler{}, retries: 1}

	require.NoError(t, h.ConsumeClaim(sess, claimOf(7, 8)))
	assert.Equal(t, []int64{7, 8}, sess.marked)
}

func TestConsumeClaimKeepsUndeliveredOffset(t *testing.T) {
	sess := &claimSession{}
	stubborn := &flakyHandler{failures: 100}
	h := consumerGroupHandler{handler: stubborn, retries: 1}

	err := h.ConsumeClaim(sess, claimOf(7, 8))
	require.Error(t, err)
	assert.Empty(t, sess.marked, "a failed message and everything after it stay unmarked")
	assert.Equal(t, 2, stubborn.calls, "the claim stops at the failing message")
}

func TestDeliverRetriesThenGivesUp(t *testing.T) {
	h := &flakyHandler{failures: 2}
	g := consumerGroupHandler{handler: h, retries: 2}
	require.NoError(t, g.deliver(context.Background(), &sarama.ConsumerMessage{}))
	assert.Equal(t, 3, h.calls)

	stubborn := &flakyHandler{failures: 10}
	g = consumerGroupHandler{handler: stubborn, retries: 1}
	assert.Error(t, g.deliver(context.Background(), &sarama.ConsumerMessage{}))
	assert.Equal(t, 2, stubborn.calls)
}

func TestEffectTopicsMatchWorkerNaming(t *testing.T) {
	assert.Equal(t, []string{"x.notification.events.v1", "x.reputation.events.v1", "x.loyalty.events.v1"}, EffectTopics("x."))
}
