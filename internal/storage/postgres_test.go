package storage_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	store "github.com/clahage/my-clever-crm-sub002/internal/storage"
	"github.com/clahage/my-clever-crm-sub002/internal/testutil"
	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/storage"
)

func newTestStore(t *testing.T) (*store.PostgresStore, func()) {
	t.Helper()
	tdb := testutil.SetupTestDB(t)
	ps, err := store.NewPostgresStore(tdb.ConnStr)
	if err != nil {
		tdb.Teardown(t)
		t.Fatalf("Failed to open store: %v", err)
	}
	return ps, func() {
		if err := ps.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
		tdb.Teardown(t)
	}
}

func baseInstance(contactID string, due time.Time) models.WorkflowInstance {
	return models.WorkflowInstance{
		ContactID:       contactID,
		WorkflowID:      "credit-nurture",
		Status:          models.ActiveInstanceStatus,
		CompletedStages: []string{},
		NextDueAt:       &due,
		StartedAt:       due.Add(-time.Hour),
		Version:         1,
	}
}

func TestInstancePersistence(t *testing.T) {
	ps, teardown := newTestStore(t)
	defer teardown()

	due := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("SaveAndGet", func(t *testing.T) {
		id, err := ps.SaveInstance(baseInstance("c-roundtrip", due))
		assert.NoError(t, err)
		assert.NotZero(t, id)

		wi, err := ps.GetInstance(id)
		assert.NoError(t, err)
		assert.Equal(t, "c-roundtrip", wi.ContactID)
		assert.Equal(t, "credit-nurture", wi.WorkflowID)
		assert.Equal(t, models.ActiveInstanceStatus, wi.Status)
		assert.Empty(t, wi.CompletedStages)
		assert.Equal(t, int64(1), wi.Version)
		if assert.NotNil(t, wi.NextDueAt) {
			assert.WithinDuration(t, due, *wi.NextDueAt, time.Second)
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := ps.GetInstance(999999)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("GetActiveInstance", func(t *testing.T) {
		wi := baseInstance("c-active", due)
		wi.Status = models.StoppedInstanceStatus
		_, err := ps.SaveInstance(wi)
		assert.NoError(t, err)

		_, err = ps.GetActiveInstance("c-active")
		assert.ErrorIs(t, err, storage.ErrNotFound)

		activeID, err := ps.SaveInstance(baseInstance("c-active", due))
		assert.NoError(t, err)

		found, err := ps.GetActiveInstance("c-active")
		assert.NoError(t, err)
		assert.Equal(t, activeID, found.ID)
	})

	t.Run("GetContactInstancePicksLatest", func(t *testing.T) {
		first := baseInstance("c-latest", due)
		first.Status = models.CompletedInstanceStatus
		_, err := ps.SaveInstance(first)
		assert.NoError(t, err)

		secondID, err := ps.SaveInstance(baseInstance("c-latest", due))
		assert.NoError(t, err)

		found, err := ps.GetContactInstance("c-latest")
		assert.NoError(t, err)
		assert.Equal(t, secondID, found.ID)
	})

	t.Run("UpdateWithVersionCheck", func(t *testing.T) {
		id, err := ps.SaveInstance(baseInstance("c-cas", due))
		assert.NoError(t, err)

		wi, err := ps.GetInstance(id)
		assert.NoError(t, err)

		wi.CompletedStages = []string{"nurture-intro"}
		wi.CurrentStage = 1
		wi.NextStage = 1
		wi.MessagesSent = 1
		assert.NoError(t, ps.UpdateInstance(wi))

		// The stored version moved past the copy we hold.
		err = ps.UpdateInstance(wi)
		assert.ErrorIs(t, err, storage.ErrStaleInstance)

		fresh, err := ps.GetInstance(id)
		assert.NoError(t, err)
		assert.Equal(t, int64(2), fresh.Version)
		assert.Equal(t, []string{"nurture-intro"}, fresh.CompletedStages)
		assert.Equal(t, 1, fresh.MessagesSent)
	})

	t.Run("UpdateMissingInstance", func(t *testing.T) {
		wi := baseInstance("c-ghost", due)
		wi.ID = 424242
		assert.ErrorIs(t, ps.UpdateInstance(wi), storage.ErrNotFound)
	})
}

func TestListDueInstances(t *testing.T) {
	ps, teardown := newTestStore(t)
	defer teardown()

	now := time.Now().UTC()
	mkDue := func(contactID string, offset time.Duration, status models.InstanceStatus) int64 {
		wi := baseInstance(contactID, now.Add(offset))
		wi.Status = status
		id, err := ps.SaveInstance(wi)
		assert.NoError(t, err)
		return id
	}

	lateID := mkDue("c-late", -time.Minute, models.ActiveInstanceStatus)
	earlyID := mkDue("c-early", -time.Hour, models.ActiveInstanceStatus)
	mkDue("c-future", time.Hour, models.ActiveInstanceStatus)
	mkDue("c-paused", -time.Hour, models.PausedInstanceStatus)

	noDue := baseInstance("c-nodue", now)
	noDue.NextDueAt = nil
	_, err := ps.SaveInstance(noDue)
	assert.NoError(t, err)

	due, err := ps.ListDueInstances(now, 10)
	assert.NoError(t, err)
	if assert.Len(t, due, 2) {
		// Oldest due first.
		assert.Equal(t, earlyID, due[0].ID)
		assert.Equal(t, lateID, due[1].ID)
	}

	limited, err := ps.ListDueInstances(now, 1)
	assert.NoError(t, err)
	if assert.Len(t, limited, 1) {
		assert.Equal(t, earlyID, limited[0].ID)
	}
}

func TestMessageLogPersistence(t *testing.T) {
	ps, teardown := newTestStore(t)
	defer teardown()

	instanceID, err := ps.SaveInstance(baseInstance("c-msg", time.Now().UTC()))
	assert.NoError(t, err)

	msg := models.OutboundMessage{
		ID:         "msg-1",
		ContactID:  "c-msg",
		InstanceID: instanceID,
		StageID:    "nurture-intro",
		TemplateID: "tmpl-nurture-intro",
		Variant:    "control",
		DeliveryID: "delivery-abc",
		ToAddress:  "c@example.com",
		Subject:    "Welcome",
		SentAt:     time.Now().UTC(),
	}
	assert.NoError(t, ps.SaveMessage(msg))

	t.Run("RoundTrip", func(t *testing.T) {
		got, err := ps.GetMessageByDeliveryID("delivery-abc")
		assert.NoError(t, err)
		assert.Equal(t, msg.ID, got.ID)
		assert.Equal(t, msg.Variant, got.Variant)
		assert.Equal(t, msg.ToAddress, got.ToAddress)
		assert.False(t, got.Opened)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := ps.GetMessageByDeliveryID("delivery-ghost")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("MarkEventOnce", func(t *testing.T) {
		at := time.Now().UTC()
		applied, err := ps.MarkMessageEvent("delivery-abc", models.OpenedEvent, at)
		assert.NoError(t, err)
		assert.True(t, applied)

		applied, err = ps.MarkMessageEvent("delivery-abc", models.OpenedEvent, at.Add(time.Minute))
		assert.NoError(t, err)
		assert.False(t, applied)

		got, err := ps.GetMessageByDeliveryID("delivery-abc")
		assert.NoError(t, err)
		assert.True(t, got.Opened)
		if assert.NotNil(t, got.OpenedAt) {
			assert.WithinDuration(t, at, *got.OpenedAt, time.Second)
		}
	})

	t.Run("MarkEventUnknownDelivery", func(t *testing.T) {
		_, err := ps.MarkMessageEvent("delivery-ghost", models.OpenedEvent, time.Now())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestVariantStatsPersistence(t *testing.T) {
	ps, teardown := newTestStore(t)
	defer teardown()

	t.Run("UpsertAttempts", func(t *testing.T) {
		assert.NoError(t, ps.IncrementAttempts("tmpl-a", "control"))
		assert.NoError(t, ps.IncrementAttempts("tmpl-a", "control"))
		assert.NoError(t, ps.IncrementAttempts("tmpl-a", "friendly"))

		stats, err := ps.GetVariantStats("tmpl-a")
		assert.NoError(t, err)
		if assert.Len(t, stats, 2) {
			assert.Equal(t, "control", stats[0].Variant)
			assert.Equal(t, int64(2), stats[0].Attempts)
			assert.Equal(t, "friendly", stats[1].Variant)
			assert.Equal(t, int64(1), stats[1].Attempts)
		}
	})

	t.Run("SuccessGuard", func(t *testing.T) {
		assert.NoError(t, ps.IncrementAttempts("tmpl-b", "control"))
		assert.NoError(t, ps.IncrementSuccesses("tmpl-b", "control"))

		// A second success would exceed attempts; the guarded update refuses.
		assert.Error(t, ps.IncrementSuccesses("tmpl-b", "control"))

		stats, err := ps.GetVariantStats("tmpl-b")
		assert.NoError(t, err)
		if assert.Len(t, stats, 1) {
			assert.Equal(t, int64(1), stats[0].Attempts)
			assert.Equal(t, int64(1), stats[0].Successes)
		}
	})

	t.Run("SuccessWithoutAttempt", func(t *testing.T) {
		assert.Error(t, ps.IncrementSuccesses("tmpl-c", "control"))
	})

	t.Run("EmptyStats", func(t *testing.T) {
		stats, err := ps.GetVariantStats("tmpl-never-sent")
		assert.NoError(t, err)
		assert.Empty(t, stats)
	})
}
