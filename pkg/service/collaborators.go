package service

import (
	"context"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

// Logger defines the logging interface for the engine services.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// RenderedMessage is the renderer's output for one template + variant.
type RenderedMessage struct {
	Subject  string
	Body     string
	Metadata map[string]string
}

// Renderer produces subject/body for a template. It must be deterministic
// for identical inputs; variant attribution is owned by the allocator, not
// the renderer.
type Renderer interface {
	Render(ctx context.Context, templateID, variant string, contact models.ContactSnapshot) (RenderedMessage, error)
}

// AttributionTags travel with a send so provider callbacks can be tied back
// to the instance, template and variant that produced the message.
type AttributionTags struct {
	ContactID  string
	TemplateID string
	Variant    string
	MessageID  string
}

// SendResult carries the provider's delivery identifier for a queued send.
type SendResult struct {
	DeliveryID string
}

// Sender is the outbound-mail collaborator. Failures are wrapped as
// TransportError and retried on the next scheduler pass.
type Sender interface {
	Send(ctx context.Context, to, subject, body string, tags AttributionTags) (SendResult, error)
}

// ContactStore is the external contact/lead data store. Snapshots must
// include every field referenced by catalog entry and skip conditions.
type ContactStore interface {
	Get(ctx context.Context, contactID string) (models.ContactSnapshot, error)
	Update(ctx context.Context, contactID string, patch map[string]any) error
	IsOptedOut(ctx context.Context, address string) (bool, error)
	MarkOptedOut(ctx context.Context, address string) error
}

// StatusUnknown is reported when the status tracker cannot be reached; a
// tracker failure degrades personalization without aborting the stage.
const StatusUnknown = "unknown"

// StatusTracker polls a third-party application status (e.g. the IDIQ
// signup) before content personalization.
type StatusTracker interface {
	CheckStatus(ctx context.Context, contactID string) (string, error)
}

// VariantAllocator is the bandit surface the controller and event processor
// use; *bandit.Allocator satisfies it.
type VariantAllocator interface {
	SelectVariant(templateID string, variants []string) (string, error)
	RecordAttempt(templateID, variant string) error
	RecordSuccess(templateID, variant string) error
}
