package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder      OutboxAggregateType = "order"
	AggregateLicenseKey OutboxAggregateType = "license_key"
	AggregateProduct    OutboxAggregateType = "product"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateLicenseKey,
	AggregateProduct,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated            OutboxEventType = "order_created"
	EventOrderCompleted          OutboxEventType = "order_completed"
	EventOrderFailed             OutboxEventType = "order_failed"
	EventOrderExpired            OutboxEventType = "order_expired"
	EventOrderRefunded           OutboxEventType = "order_refunded"
	EventDisputeOpened           OutboxEventType = "dispute_opened"
	EventDisputeResolved         OutboxEventType = "dispute_resolved"
	EventPaymentAmountMismatch   OutboxEventType = "payment_amount_mismatch"
	EventPaymentUnfulfillable    OutboxEventType = "payment_unfulfillable"
	EventLicenseKeysExpired      OutboxEventType = "license_keys_expired"
	EventOrderReviewWindowClosed OutboxEventType = "order_review_window_closed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderCompleted,
	EventOrderFailed,
	EventOrderExpired,
	EventOrderRefunded,
	EventDisputeOpened,
	EventDisputeResolved,
	EventPaymentAmountMismatch,
	EventPaymentUnfulfillable,
	EventLicenseKeysExpired,
	EventOrderReviewWindowClosed,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
