package models

import "time"

// OutboundMessage is the per-send log row. Engagement events from the
// delivery provider are folded back into its flags, keyed by delivery id.
type OutboundMessage struct {
	ID             string     `json:"id" db:"id"`
	ContactID      string     `json:"contact_id" db:"contact_id"`
	InstanceID     int64      `json:"instance_id" db:"instance_id"`
	StageID        string     `json:"stage_id" db:"stage_id"`
	TemplateID     string     `json:"template_id" db:"template_id"`
	Variant        string     `json:"variant" db:"variant"`
	DeliveryID     string     `json:"delivery_id" db:"delivery_id"`
	ToAddress      string     `json:"to_address" db:"to_address"`
	Subject        string     `json:"subject" db:"subject"`
	SentAt         time.Time  `json:"sent_at" db:"sent_at"`
	Delivered      bool       `json:"delivered" db:"delivered"`
	DeliveredAt    *time.Time `json:"delivered_at,omitempty" db:"delivered_at"`
	Opened         bool       `json:"opened" db:"opened"`
	OpenedAt       *time.Time `json:"opened_at,omitempty" db:"opened_at"`
	Clicked        bool       `json:"clicked" db:"clicked"`
	ClickedAt      *time.Time `json:"clicked_at,omitempty" db:"clicked_at"`
	Bounced        bool       `json:"bounced" db:"bounced"`
	BouncedAt      *time.Time `json:"bounced_at,omitempty" db:"bounced_at"`
	Unsubscribed   bool       `json:"unsubscribed" db:"unsubscribed"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
}
