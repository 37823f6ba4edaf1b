package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/clahage/my-clever-crm-sub002/internal/log"
	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/service"
)

// Stand-in collaborator bindings for running the daemon without the CRM's
// real template/transport services attached.

type loggingRenderer struct{}

func (r *loggingRenderer) Render(ctx context.Context, templateID, variant string, contact models.ContactSnapshot) (service.RenderedMessage, error) {
	return service.RenderedMessage{
		Subject: fmt.Sprintf("[%s/%s]", templateID, variant),
		Body:    fmt.Sprintf("template %s variant %s for contact", templateID, variant),
	}, nil
}

type loggingSender struct{}

func (s *loggingSender) Send(ctx context.Context, to, subject, body string, tags service.AttributionTags) (service.SendResult, error) {
	deliveryID := uuid.NewString()
	log.GetLogger().Infof("Would send %q to %s (delivery %s)", subject, to, deliveryID)
	return service.SendResult{DeliveryID: deliveryID}, nil
}

type noopTracker struct{}

func (t *noopTracker) CheckStatus(ctx context.Context, contactID string) (string, error) {
	return service.StatusUnknown, nil
}

// envContactStore is an in-memory contact store for local runs.
type envContactStore struct {
	mu       sync.RWMutex
	contacts map[string]models.ContactSnapshot
	optOuts  map[string]bool
}

func newEnvContactStore() *envContactStore {
	return &envContactStore{
		contacts: make(map[string]models.ContactSnapshot),
		optOuts:  make(map[string]bool),
	}
}

func (c *envContactStore) Get(ctx context.Context, contactID string) (models.ContactSnapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot, ok := c.contacts[contactID]
	if !ok {
		return nil, fmt.Errorf("contact %s not found", contactID)
	}
	out := make(models.ContactSnapshot, len(snapshot))
	for k, v := range snapshot {
		out[k] = v
	}
	return out, nil
}

func (c *envContactStore) Update(ctx context.Context, contactID string, patch map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot, ok := c.contacts[contactID]
	if !ok {
		snapshot = models.ContactSnapshot{}
		c.contacts[contactID] = snapshot
	}
	for k, v := range patch {
		snapshot[k] = v
	}
	return nil
}

func (c *envContactStore) IsOptedOut(ctx context.Context, address string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.optOuts[address], nil
}

func (c *envContactStore) MarkOptedOut(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.optOuts[address] = true
	return nil
}
