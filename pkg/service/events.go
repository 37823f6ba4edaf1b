package service

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/storage"
)

// EventProcessor folds delivery-provider engagement events into the message
// log, the contact's aggregate counters, the bandit statistics, and the
// owning instance's state. Each effect is best-effort: one failure is logged
// and never blocks the others.
type EventProcessor struct {
	store     storage.Store
	contacts  ContactStore
	allocator VariantAllocator
	svc       *WorkflowService
	logger    Logger
	clock     func() time.Time
}

func NewEventProcessor(store storage.Store, contacts ContactStore, allocator VariantAllocator, svc *WorkflowService, logger Logger) *EventProcessor {
	return &EventProcessor{
		store:     store,
		contacts:  contacts,
		allocator: allocator,
		svc:       svc,
		logger:    logger,
		clock:     time.Now,
	}
}

// Handle consumes one engagement event. Duplicate (deliveryID, kind) pairs
// from provider retries are detected via the message-log flags and dropped
// before any statistics are touched.
func (p *EventProcessor) Handle(ctx context.Context, ev models.EngagementEvent) error {
	if !models.ValidEventKind(ev.Kind) {
		return errors.Errorf("unknown event kind %q", ev.Kind)
	}
	if ev.DeliveryID == "" {
		return errors.New("event missing delivery id")
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = p.clock()
	}

	// Attribution comes from the message log when the row exists; webhook
	// payloads are treated as untrusted hints.
	var (
		msg      models.OutboundMessage
		haveMsg  bool
		firstEng bool
	)
	if stored, err := p.store.GetMessageByDeliveryID(ev.DeliveryID); err == nil {
		msg = stored
		haveMsg = true
		firstEng = !msg.Opened && !msg.Clicked
		ev.ContactID = msg.ContactID
		ev.TemplateID = msg.TemplateID
		ev.Variant = msg.Variant
	} else if !errors.Is(err, storage.ErrNotFound) {
		p.logger.Errorf("Failed to load message for delivery %s: %v", ev.DeliveryID, err)
	}

	// (a) message log flags, which double as the idempotency record.
	if haveMsg {
		applied, err := p.store.MarkMessageEvent(ev.DeliveryID, ev.Kind, ev.OccurredAt)
		if err != nil {
			p.logger.Errorf("Failed to mark %s on delivery %s: %v", ev.Kind, ev.DeliveryID, err)
		} else if !applied {
			p.logger.Infof("Duplicate %s event for delivery %s; ignoring", ev.Kind, ev.DeliveryID)
			return nil
		}
	}

	if ev.ContactID == "" {
		p.logger.Errorf("Event for delivery %s carries no contact attribution; dropping", ev.DeliveryID)
		return nil
	}

	// (b) contact aggregate engagement counters.
	if ev.Kind == models.OpenedEvent || ev.Kind == models.ClickedEvent {
		p.bumpContactCounters(ctx, ev)
	}

	// (c) bandit success. Only the first engagement of a message converts,
	// keeping successes at or below attempts even when a message is both
	// opened and clicked.
	if (ev.Kind == models.OpenedEvent || ev.Kind == models.ClickedEvent) && haveMsg && firstEng {
		if err := p.allocator.RecordSuccess(ev.TemplateID, ev.Variant); err != nil {
			p.logger.Errorf("Failed to record success for %s/%s: %v", ev.TemplateID, ev.Variant, err)
		}
	}

	// (d) terminal transitions.
	switch ev.Kind {
	case models.BouncedEvent:
		p.stopInstance(ctx, ev.ContactID, models.ReasonHardBounce)
	case models.UnsubscribedEvent:
		p.stopInstance(ctx, ev.ContactID, models.ReasonUnsubscribed)
		p.markOptedOut(ctx, ev, msg, haveMsg)
	}
	return nil
}

func (p *EventProcessor) bumpContactCounters(ctx context.Context, ev models.EngagementEvent) {
	snapshot, err := p.contacts.Get(ctx, ev.ContactID)
	if err != nil {
		p.logger.Errorf("Failed to load contact %s for counter update: %v", ev.ContactID, err)
		return
	}
	patch := map[string]any{}
	switch ev.Kind {
	case models.OpenedEvent:
		patch[models.FieldEmailOpens] = snapshot.GetInt(models.FieldEmailOpens) + 1
		patch[models.FieldLastOpenAt] = ev.OccurredAt
	case models.ClickedEvent:
		patch[models.FieldEmailClicks] = snapshot.GetInt(models.FieldEmailClicks) + 1
		patch[models.FieldLastClickAt] = ev.OccurredAt
	}
	if err := p.contacts.Update(ctx, ev.ContactID, patch); err != nil {
		p.logger.Errorf("Failed to update engagement counters for contact %s: %v", ev.ContactID, err)
	}
}

func (p *EventProcessor) stopInstance(ctx context.Context, contactID, reason string) {
	wi, err := p.store.GetActiveInstance(contactID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			p.logger.Errorf("Failed to look up active instance for contact %s: %v", contactID, err)
		}
		return
	}
	if err := p.svc.StopInstance(ctx, &wi, reason); err != nil {
		p.logger.Errorf("Failed to stop instance %d (%s): %v", wi.ID, reason, err)
	}
}

func (p *EventProcessor) markOptedOut(ctx context.Context, ev models.EngagementEvent, msg models.OutboundMessage, haveMsg bool) {
	address := ""
	if haveMsg {
		address = msg.ToAddress
	}
	if address == "" {
		snapshot, err := p.contacts.Get(ctx, ev.ContactID)
		if err != nil {
			p.logger.Errorf("Failed to resolve address for opted-out contact %s: %v", ev.ContactID, err)
			return
		}
		address = snapshot.GetString(models.FieldEmail)
	}
	if address == "" {
		return
	}
	if err := p.contacts.MarkOptedOut(ctx, address); err != nil {
		p.logger.Errorf("Failed to mark %s opted out: %v", address, err)
	}
}
