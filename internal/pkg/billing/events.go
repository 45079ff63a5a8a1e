package billing

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventKind is the closed set of webhook event variants this service handles.
// Anything else parses into EventUnrecognized, which is logged and
// acknowledged instead of silently dropped or endlessly retried.
type EventKind int

const (
	EventUnrecognized EventKind = iota
	EventSubscriptionCreated
	EventSubscriptionUpdated
	EventSubscriptionDeleted
	EventPaymentSucceeded
	EventPaymentFailed
)

// ProcessorEvent is one parsed webhook notification. Exactly one of
// Subscription/Payment is set, matching the Kind.
type ProcessorEvent struct {
	ID           string
	Type         string
	Kind         EventKind
	CreatedAt    time.Time
	Subscription *SubscriptionEventData
	Payment      *PaymentEventData
}

// SubscriptionEventData carries the subscription fields used for sync.
type SubscriptionEventData struct {
	SubscriptionID string
	CustomerID     string
	ProductID      string
	Status         string
	EventTimestamp time.Time
}

// PaymentEventData carries the payment intent fields used for recharge
// confirmation. RechargeRef is the local recharge id stamped into the intent
// metadata at creation time; it lets a confirmation find its row even when
// the intent id write-back was lost.
type PaymentEventData struct {
	IntentID       string
	RechargeRef    string
	FailureMessage string
}

// wire shapes of the provider payload: {id, type, created, data:{object}}.
type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type rawSubscription struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Status   string `json:"status"`
	Created  int64  `json:"created"`
	Items    struct {
		Data []struct {
			Price struct {
				Product string `json:"product"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

type rawPaymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// ParseProcessorEvent decodes a raw webhook body into the closed event model.
// A syntactically valid event of an unhandled type yields EventUnrecognized
// with no error; only malformed JSON is an error.
func ParseProcessorEvent(raw []byte) (*ProcessorEvent, error) {
	var re rawEvent
	if err := json.Unmarshal(raw, &re); err != nil {
		return nil, fmt.Errorf("failed to parse webhook event: %w", err)
	}

	ev := &ProcessorEvent{
		ID:        strings.TrimSpace(re.ID),
		Type:      strings.TrimSpace(re.Type),
		CreatedAt: time.Unix(re.Created, 0).UTC(),
	}

	switch ev.Type {
	case "customer.subscription.created":
		ev.Kind = EventSubscriptionCreated
	case "customer.subscription.updated":
		ev.Kind = EventSubscriptionUpdated
	case "customer.subscription.deleted":
		ev.Kind = EventSubscriptionDeleted
	case "payment_intent.succeeded":
		ev.Kind = EventPaymentSucceeded
	case "payment_intent.payment_failed":
		ev.Kind = EventPaymentFailed
	default:
		ev.Kind = EventUnrecognized
		return ev, nil
	}

	switch ev.Kind {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub rawSubscription
		if err := json.Unmarshal(re.Data.Object, &sub); err != nil {
			return nil, fmt.Errorf("failed to parse subscription object: %w", err)
		}
		productID := ""
		if len(sub.Items.Data) > 0 {
			productID = sub.Items.Data[0].Price.Product
		}
		status := strings.ToLower(strings.TrimSpace(sub.Status))
		if ev.Kind == EventSubscriptionDeleted && status == "" {
			status = "canceled"
		}
		ev.Subscription = &SubscriptionEventData{
			SubscriptionID: strings.TrimSpace(sub.ID),
			CustomerID:     strings.TrimSpace(sub.Customer),
			ProductID:      strings.TrimSpace(productID),
			Status:         status,
			// The provider's event creation time orders concurrent updates;
			// delivery order must not be trusted.
			EventTimestamp: ev.CreatedAt,
		}
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi rawPaymentIntent
		if err := json.Unmarshal(re.Data.Object, &pi); err != nil {
			return nil, fmt.Errorf("failed to parse payment intent object: %w", err)
		}
		failureMsg := ""
		if pi.LastPaymentError != nil {
			failureMsg = pi.LastPaymentError.Message
		}
		ev.Payment = &PaymentEventData{
			IntentID:       strings.TrimSpace(pi.ID),
			RechargeRef:    strings.TrimSpace(pi.Metadata["recharge_id"]),
			FailureMessage: failureMsg,
		}
	}

	return ev, nil
}
