package models

import "time"

type EventKind string

const (
	DeliveredEvent    EventKind = "delivered"
	OpenedEvent       EventKind = "opened"
	ClickedEvent      EventKind = "clicked"
	BouncedEvent      EventKind = "bounced"
	UnsubscribedEvent EventKind = "unsubscribed"
)

// ValidEventKind reports whether the kind is one the processor understands.
func ValidEventKind(k EventKind) bool {
	switch k {
	case DeliveredEvent, OpenedEvent, ClickedEvent, BouncedEvent, UnsubscribedEvent:
		return true
	}
	return false
}

// EngagementEvent is one delivery-provider callback. It is consumed exactly
// once by the event processor and not persisted beyond the state updates it
// causes.
type EngagementEvent struct {
	ContactID  string    `json:"contact_id"`
	TemplateID string    `json:"template_id"`
	Variant    string    `json:"variant"`
	DeliveryID string    `json:"delivery_id"`
	Kind       EventKind `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
}
