package schema

// Payload documents for the order and notification streams, version 1.
// Minor additions to these documents bump the struct, not the version;
// consumers accept the minor versions they know.

type OrderItem struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

type OrderCreatedV1 struct {
	Items           []OrderItem `json:"items" validate:"required,min=1,dive"`
	TotalMinorUnits int64       `json:"total_minor_units" validate:"gte=0"`
	Currency        string      `json:"currency" validate:"required,len=3"`
}

type OrderUpdatedV1 struct {
	Items           []OrderItem `json:"items,omitempty" validate:"omitempty,min=1,dive"`
	TotalMinorUnits int64       `json:"total_minor_units" validate:"gte=0"`
	Currency        string      `json:"currency" validate:"required,len=3"`
	Status          string      `json:"status" validate:"required,oneof=pending confirmed fulfilled"`
}

type OrderCancelledV1 struct {
	Reason string `json:"reason,omitempty"`
}

type NotificationSentV1 struct {
	Channel string `json:"channel" validate:"required,oneof=email sms push"`
	Subject string `json:"subject" validate:"required"`
	Body    string `json:"body" validate:"required"`
}

// RegisterBuiltin loads every schema this service produces or consumes.
// Called once from the composition root.
func RegisterBuiltin(r *Registry) {
	r.Register("order_created", 1, func() any { return new(OrderCreatedV1) })
	r.Register("order_updated", 1, func() any { return new(OrderUpdatedV1) })
	r.Register("order_cancelled", 1, func() any { return new(OrderCancelledV1) })
	r.Register("notification_sent", 1, func() any { return new(NotificationSentV1) })
}
