package storage

import (
	"time"

	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleInstance is returned by UpdateInstance when the optimistic version
// check fails, meaning a concurrent pass already advanced the instance.
var ErrStaleInstance = errors.New("stale instance version")

// Store defines the engine's own persistence: workflow instances, the
// outbound message log, and bandit variant counters. Contact data itself
// lives behind the contact-store collaborator, not here.
type Store interface {
	// Instance operations
	SaveInstance(wi models.WorkflowInstance) (int64, error)
	GetInstance(id int64) (models.WorkflowInstance, error)
	GetActiveInstance(contactID string) (models.WorkflowInstance, error)
	// GetContactInstance returns the contact's most recent instance in any
	// status.
	GetContactInstance(contactID string) (models.WorkflowInstance, error)
	// UpdateInstance persists the instance if and only if the stored version
	// matches wi.Version, then bumps the version.
	UpdateInstance(wi models.WorkflowInstance) error
	ListInstances() ([]models.WorkflowInstance, error)
	// ListDueInstances returns active instances whose next stage is due at or
	// before now, oldest due first, capped at limit.
	ListDueInstances(now time.Time, limit int) ([]models.WorkflowInstance, error)

	// Message log operations
	SaveMessage(m models.OutboundMessage) error
	GetMessageByDeliveryID(deliveryID string) (models.OutboundMessage, error)
	// MarkMessageEvent sets the flag/timestamp for the event kind on the
	// message row. It reports false when the flag was already set, which is
	// how duplicate provider callbacks are detected.
	MarkMessageEvent(deliveryID string, kind models.EventKind, at time.Time) (bool, error)

	// Variant statistic operations; increments must be atomic.
	GetVariantStats(templateID string) ([]models.VariantStats, error)
	IncrementAttempts(templateID, variant string) error
	IncrementSuccesses(templateID, variant string) error

	Close() error
}
