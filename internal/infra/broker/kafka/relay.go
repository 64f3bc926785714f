package kafka

import (
	"context"

	"github.com/IBM/sarama"

	"rentalcore/internal/app/effects"
)

// EffectRelay feeds effect envelopes from the broker to the router. The
// router's inbox drops redeliveries.
type EffectRelay struct {
	Router *effects.Router
}

func (r EffectRelay) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	return r.Router.DeliverCloudEvent(ctx, msg.Value)
}

// EffectTopics lists the topics effect envelopes are published to.
func EffectTopics(prefix string) []string {
	return []string{
		prefix + "notification.events.v1",
		prefix + "reputation.events.v1",
		prefix + "loyalty.events.v1",
	}
}
