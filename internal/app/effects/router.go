package effects

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"rentalcore/internal/app/outbox"
	"rentalcore/internal/app/policies"
)

var (
	ErrUnknownKind      = errors.New("effects: unknown effect kind")
	ErrRouterIncomplete = errors.New("effects: router missing collaborator")
)

// Inbox remembers delivered effect keys. Seen only reads; Record is called
// once the collaborator accepted the effect and must tolerate duplicates. A
// crash between delivery and Record redelivers, so collaborators see each
// key at least once.
type Inbox interface {
	Seen(ctx context.Context, key string) (bool, error)
	Record(ctx context.Context, key string) error
}

// Router delivers effects to the collaborators that own each domain.
type Router struct {
	Notifier   policies.Notifier
	Reputation policies.Reputation
	Loyalty    policies.Loyalty
	Inbox      Inbox
	Logger     *slog.Logger
}

func (r *Router) Deliver(ctx context.Context, eff Effect) error {
	dedupe := r.Inbox != nil && eff.Key != ""
	if dedupe {
		seen, err := r.Inbox.Seen(ctx, eff.Key)
		if err != nil {
			return err
		}
		if seen {
			if r.Logger != nil {
				r.Logger.Debug("effect already delivered", "key", eff.Key)
			}
			return nil
		}
	}
	if err := r.call(ctx, eff); err != nil {
		return err
	}
	if dedupe {
		if err := r.Inbox.Record(ctx, eff.Key); err != nil {
			return fmt.Errorf("record effect %s: %w", eff.Key, err)
		}
	}
	if r.Logger != nil {
		r.Logger.Info("effect delivered", "kind", eff.Kind, "booking_id", eff.BookingID, "subject_id", eff.SubjectID, "cause", eff.Cause)
	}
	return nil
}

func (r *Router) call(ctx context.Context, eff Effect) error {
	switch eff.Kind {
	case KindNotify:
		if r.Notifier == nil {
			return fmt.Errorf("%w: notifier", ErrRouterIncomplete)
		}
		return r.Notifier.Notify(ctx, eff.SubjectID, eff.Template, eff.Payload)
	case KindReputation:
		if r.Reputation == nil {
			return fmt.Errorf("%w: reputation", ErrRouterIncomplete)
		}
		return r.Reputation.ApplyDelta(ctx, eff.SubjectID, eff.Delta, eff.Reason)
	case KindLoyalty:
		if r.Loyalty == nil {
			return fmt.Errorf("%w: loyalty", ErrRouterIncomplete)
		}
		return r.Loyalty.CreditPoints(ctx, eff.SubjectID, eff.Points, eff.Reason)
	}
	return fmt.Errorf("%w: %s", ErrUnknownKind, eff.Kind)
}

// DeliverCloudEvent decodes a relayed envelope and delivers it. Envelopes
// that do not carry an effect (plain booking events) are acknowledged
// without action.
func (r *Router) DeliverCloudEvent(ctx context.Context, payload []byte) error {
	ce, err := outbox.ParseCloudEvent(payload)
	if err != nil {
		return err
	}
	if !IsEffectType(ce.Type) {
		return nil
	}
	var eff Effect
	if err := json.Unmarshal(ce.Data, &eff); err != nil {
		return fmt.Errorf("decode effect %s: %w", ce.ID, err)
	}
	if eff.Key == "" {
		eff.Key = ce.ID
	}
	return r.Deliver(ctx, eff)
}

func IsEffectType(ceType string) bool {
	name := strings.TrimSuffix(ceType, ".v1")
	switch Kind(name) {
	case KindNotify, KindReputation, KindLoyalty:
		return true
	}
	return false
}

// LocalPublisher lets the outbox worker deliver straight to a Router when no
// broker is configured.
type LocalPublisher struct {
	Router *Router
}

func (p LocalPublisher) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if p.Router == nil {
		return ErrRouterIncomplete
	}
	return p.Router.DeliverCloudEvent(ctx, payload)
}
