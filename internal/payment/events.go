package payment

import (
	"encoding/json"
	"fmt"
)

// EventPaymentCaptured is the only webhook event that moves money state.
const EventPaymentCaptured = "payment.captured"

// Event is a decoded webhook delivery. It is either PaymentCaptured or
// UnknownEvent.
type Event interface {
	EventName() string
}

// PaymentCaptured carries the two ids reconciliation needs.
type PaymentCaptured struct {
	ProviderOrderRef   string
	ProviderPaymentRef string
}

func (PaymentCaptured) EventName() string { return EventPaymentCaptured }

// UnknownEvent is any other event type. It is acknowledged and ignored.
type UnknownEvent struct {
	Name string
}

func (e UnknownEvent) EventName() string { return e.Name }

type webhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseEvent decodes a webhook body. Call it only after the signature has
// been verified.
func ParseEvent(body []byte) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event name", ErrMalformedEvent)
	}
	if env.Event != EventPaymentCaptured {
		return UnknownEvent{Name: env.Event}, nil
	}
	if env.Payload.Payment == nil {
		return nil, fmt.Errorf("%w: payment.captured without payment entity", ErrMalformedEvent)
	}
	ent := env.Payload.Payment.Entity
	if ent.ID == "" || ent.OrderID == "" {
		return nil, fmt.Errorf("%w: payment entity missing id or order_id", ErrMalformedEvent)
	}
	return PaymentCaptured{ProviderOrderRef: ent.OrderID, ProviderPaymentRef: ent.ID}, nil
}
