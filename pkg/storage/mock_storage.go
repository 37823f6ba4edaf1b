package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

// mockStore implements Store with in-memory maps, for tests and examples.
type mockStore struct {
	mu        sync.RWMutex
	instances map[int64]models.WorkflowInstance
	messages  map[string]models.OutboundMessage // keyed by delivery id
	stats     map[string]map[string]*models.VariantStats
	nextID    int64
}

// NewMockStore returns an empty in-memory Store.
func NewMockStore() Store {
	return &mockStore{
		instances: make(map[int64]models.WorkflowInstance),
		messages:  make(map[string]models.OutboundMessage),
		stats:     make(map[string]map[string]*models.VariantStats),
	}
}

func (m *mockStore) SaveInstance(wi models.WorkflowInstance) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	wi.ID = m.nextID
	if wi.Version == 0 {
		wi.Version = 1
	}
	wi.CreatedAt = time.Now()
	wi.UpdatedAt = wi.CreatedAt
	m.instances[wi.ID] = wi
	return wi.ID, nil
}

func (m *mockStore) GetInstance(id int64) (models.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wi, ok := m.instances[id]
	if !ok {
		return models.WorkflowInstance{}, ErrNotFound
	}
	return wi, nil
}

func (m *mockStore) GetActiveInstance(contactID string) (models.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, wi := range m.instances {
		if wi.ContactID == contactID && wi.Status == models.ActiveInstanceStatus {
			return wi, nil
		}
	}
	return models.WorkflowInstance{}, ErrNotFound
}

func (m *mockStore) GetContactInstance(contactID string) (models.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest models.WorkflowInstance
	found := false
	for _, wi := range m.instances {
		if wi.ContactID != contactID {
			continue
		}
		if !found || wi.ID > latest.ID {
			latest = wi
			found = true
		}
	}
	if !found {
		return models.WorkflowInstance{}, ErrNotFound
	}
	return latest, nil
}

func (m *mockStore) UpdateInstance(wi models.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.instances[wi.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != wi.Version {
		return ErrStaleInstance
	}
	wi.Version++
	wi.UpdatedAt = time.Now()
	m.instances[wi.ID] = wi
	return nil
}

func (m *mockStore) ListInstances() ([]models.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.WorkflowInstance, 0, len(m.instances))
	for _, wi := range m.instances {
		out = append(out, wi)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ListDueInstances(now time.Time, limit int) ([]models.WorkflowInstance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var due []models.WorkflowInstance
	for _, wi := range m.instances {
		if wi.Status != models.ActiveInstanceStatus || wi.NextDueAt == nil {
			continue
		}
		if wi.NextDueAt.After(now) {
			continue
		}
		due = append(due, wi)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDueAt.Before(*due[j].NextDueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *mockStore) SaveMessage(msg models.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.DeliveryID == "" {
		return errors.New("message missing delivery id")
	}
	m.messages[msg.DeliveryID] = msg
	return nil
}

func (m *mockStore) GetMessageByDeliveryID(deliveryID string) (models.OutboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[deliveryID]
	if !ok {
		return models.OutboundMessage{}, ErrNotFound
	}
	return msg, nil
}

func (m *mockStore) MarkMessageEvent(deliveryID string, kind models.EventKind, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[deliveryID]
	if !ok {
		return false, ErrNotFound
	}
	switch kind {
	case models.DeliveredEvent:
		if msg.Delivered {
			return false, nil
		}
		msg.Delivered, msg.DeliveredAt = true, &at
	case models.OpenedEvent:
		if msg.Opened {
			return false, nil
		}
		msg.Opened, msg.OpenedAt = true, &at
	case models.ClickedEvent:
		if msg.Clicked {
			return false, nil
		}
		msg.Clicked, msg.ClickedAt = true, &at
	case models.BouncedEvent:
		if msg.Bounced {
			return false, nil
		}
		msg.Bounced, msg.BouncedAt = true, &at
	case models.UnsubscribedEvent:
		if msg.Unsubscribed {
			return false, nil
		}
		msg.Unsubscribed, msg.UnsubscribedAt = true, &at
	default:
		return false, errors.Errorf("unknown event kind %q", kind)
	}
	m.messages[deliveryID] = msg
	return true, nil
}

func (m *mockStore) GetVariantStats(templateID string) ([]models.VariantStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byVariant := m.stats[templateID]
	out := make([]models.VariantStats, 0, len(byVariant))
	for _, vs := range byVariant {
		out = append(out, *vs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Variant < out[j].Variant })
	return out, nil
}

func (m *mockStore) IncrementAttempts(templateID, variant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variantLocked(templateID, variant).Attempts++
	return nil
}

func (m *mockStore) IncrementSuccesses(templateID, variant string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	vs := m.variantLocked(templateID, variant)
	if vs.Successes >= vs.Attempts {
		return errors.Errorf("successes would exceed attempts for %s/%s", templateID, variant)
	}
	vs.Successes++
	return nil
}

func (m *mockStore) variantLocked(templateID, variant string) *models.VariantStats {
	byVariant, ok := m.stats[templateID]
	if !ok {
		byVariant = make(map[string]*models.VariantStats)
		m.stats[templateID] = byVariant
	}
	vs, ok := byVariant[variant]
	if !ok {
		vs = &models.VariantStats{TemplateID: templateID, Variant: variant}
		byVariant[variant] = vs
	}
	return vs
}

func (m *mockStore) Close() error {
	return nil
}
