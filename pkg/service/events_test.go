package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

// startWelcome admits a contact into the two-stage workflow and returns the
// instance plus the delivery id the sender produced for stage 0.
func startWelcome(t *testing.T, f *fixture, contactID string) (models.WorkflowInstance, string) {
	t.Helper()
	f.addContact(contactID, models.ContactSnapshot{models.FieldEmail: contactID + "@example.com"})
	wi, err := f.svc.Start(context.Background(), contactID, "welcome-2")
	assert.NoError(t, err)
	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	if assert.NotEmpty(t, f.sender.sends) {
		return wi, "delivery-1"
	}
	return wi, ""
}

func variantStats(t *testing.T, f *fixture, templateID string) models.VariantStats {
	t.Helper()
	stats, err := f.store.GetVariantStats(templateID)
	assert.NoError(t, err)
	if assert.Len(t, stats, 1) {
		return stats[0]
	}
	return models.VariantStats{}
}

func TestHandleOpenedEvent(t *testing.T) {
	f := newFixture(t)
	_, deliveryID := startWelcome(t, f, "c1")

	err := f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: deliveryID,
		Kind:       models.OpenedEvent,
		OccurredAt: f.clock(),
	})
	assert.NoError(t, err)

	msg, err := f.store.GetMessageByDeliveryID(deliveryID)
	assert.NoError(t, err)
	assert.True(t, msg.Opened)
	assert.NotNil(t, msg.OpenedAt)

	snap, err := f.contacts.Get(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Equal(t, 1, snap.GetInt(models.FieldEmailOpens))

	vs := variantStats(t, f, "tmpl-w0")
	assert.Equal(t, int64(1), vs.Attempts)
	assert.Equal(t, int64(1), vs.Successes)
}

func TestHandleDuplicateEventIsDropped(t *testing.T) {
	f := newFixture(t)
	_, deliveryID := startWelcome(t, f, "c1")

	ev := models.EngagementEvent{DeliveryID: deliveryID, Kind: models.OpenedEvent, OccurredAt: f.clock()}
	assert.NoError(t, f.proc.Handle(context.Background(), ev))
	assert.NoError(t, f.proc.Handle(context.Background(), ev))

	snap, err := f.contacts.Get(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Equal(t, 1, snap.GetInt(models.FieldEmailOpens))
	assert.Equal(t, int64(1), variantStats(t, f, "tmpl-w0").Successes)
}

func TestHandleOpenThenClickCreditsOnce(t *testing.T) {
	f := newFixture(t)
	_, deliveryID := startWelcome(t, f, "c1")

	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: deliveryID, Kind: models.OpenedEvent, OccurredAt: f.clock(),
	}))
	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: deliveryID, Kind: models.ClickedEvent, OccurredAt: f.clock(),
	}))

	// Both counters move, but only the first engagement converts for the
	// allocator, so successes stay at or below attempts.
	snap, err := f.contacts.Get(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Equal(t, 1, snap.GetInt(models.FieldEmailOpens))
	assert.Equal(t, 1, snap.GetInt(models.FieldEmailClicks))

	vs := variantStats(t, f, "tmpl-w0")
	assert.Equal(t, int64(1), vs.Attempts)
	assert.Equal(t, int64(1), vs.Successes)
}

func TestHandleAttributionFromMessageLog(t *testing.T) {
	f := newFixture(t)
	_, deliveryID := startWelcome(t, f, "c1")

	// The webhook lies about the contact and template; the message log wins.
	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		ContactID:  "attacker",
		TemplateID: "tmpl-fake",
		Variant:    "fake",
		DeliveryID: deliveryID,
		Kind:       models.OpenedEvent,
	}))

	snap, err := f.contacts.Get(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Equal(t, 1, snap.GetInt(models.FieldEmailOpens))

	stats, err := f.store.GetVariantStats("tmpl-fake")
	assert.NoError(t, err)
	assert.Empty(t, stats)
}

func TestHandleUnknownDeliveryFallsBackToPayload(t *testing.T) {
	f := newFixture(t)
	f.addContact("c1", models.ContactSnapshot{models.FieldEmail: "c1@example.com"})

	// No message row exists, so the payload's contact id is the only
	// attribution; counters move but no bandit success is recorded.
	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		ContactID:  "c1",
		DeliveryID: "ghost-delivery",
		Kind:       models.OpenedEvent,
	}))

	snap, err := f.contacts.Get(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Equal(t, 1, snap.GetInt(models.FieldEmailOpens))
}

func TestHandleRejectsMalformedEvents(t *testing.T) {
	f := newFixture(t)

	assert.Error(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: "d", Kind: "forwarded",
	}))
	assert.Error(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		Kind: models.OpenedEvent,
	}))
}

func TestHandleBounceStopsInstance(t *testing.T) {
	f := newFixture(t)
	wi, deliveryID := startWelcome(t, f, "c1")

	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: deliveryID,
		Kind:       models.BouncedEvent,
	}))

	stored, err := f.store.GetInstance(wi.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StoppedInstanceStatus, stored.Status)
	assert.Equal(t, models.ReasonHardBounce, stored.StatusReason)
	assert.Nil(t, stored.NextDueAt)
}

func TestHandleUnsubscribeStopsAndOptsOut(t *testing.T) {
	f := newFixture(t)
	wi, deliveryID := startWelcome(t, f, "c1")

	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: deliveryID,
		Kind:       models.UnsubscribedEvent,
	}))

	stored, err := f.store.GetInstance(wi.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StoppedInstanceStatus, stored.Status)
	assert.Equal(t, models.ReasonUnsubscribed, stored.StatusReason)

	optedOut, err := f.contacts.IsOptedOut(context.Background(), "c1@example.com")
	assert.NoError(t, err)
	assert.True(t, optedOut)

	// The contact cannot re-enter while opted out: a new admission stops at
	// the opt-out gate instead of sending.
	sends := f.sender.count()
	_, err = f.svc.Start(context.Background(), "c1", "welcome-2")
	assert.NoError(t, err)
	assert.Equal(t, sends, f.sender.count())
}

func TestHandleDeliveredEventOnlyMarksMessage(t *testing.T) {
	f := newFixture(t)
	_, deliveryID := startWelcome(t, f, "c1")

	assert.NoError(t, f.proc.Handle(context.Background(), models.EngagementEvent{
		DeliveryID: deliveryID,
		Kind:       models.DeliveredEvent,
		OccurredAt: f.clock().Add(time.Minute),
	}))

	msg, err := f.store.GetMessageByDeliveryID(deliveryID)
	assert.NoError(t, err)
	assert.True(t, msg.Delivered)

	stats, err := f.store.GetVariantStats("tmpl-w0")
	assert.NoError(t, err)
	if assert.Len(t, stats, 1) {
		assert.Equal(t, int64(0), stats[0].Successes)
	}
}
