package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/pkg/catalog"
	"github.com/clahage/my-clever-crm-sub002/pkg/condition"
	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/storage"
)

// DefaultCollaboratorTimeout bounds each render/send/store call.
const DefaultCollaboratorTimeout = 10 * time.Second

// Collaborators bundles the external systems the controller talks to.
type Collaborators struct {
	Contacts ContactStore
	Renderer Renderer
	Sender   Sender
	Tracker  StatusTracker
}

// WorkflowService is the instance controller. It exclusively owns
// WorkflowInstance transitions and drives stage execution; every collaborator
// is injected at construction.
type WorkflowService struct {
	store     storage.Store
	catalog   *catalog.Catalog
	collab    Collaborators
	allocator VariantAllocator
	logger    Logger
	timeout   time.Duration
	clock     func() time.Time
}

type ServiceOption func(*WorkflowService)

// WithCollaboratorTimeout overrides the per-call collaborator timeout.
func WithCollaboratorTimeout(d time.Duration) ServiceOption {
	return func(s *WorkflowService) {
		s.timeout = d
	}
}

// WithClock replaces the time source, used by tests.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *WorkflowService) {
		s.clock = clock
	}
}

func NewWorkflowService(
	store storage.Store,
	cat *catalog.Catalog,
	collab Collaborators,
	allocator VariantAllocator,
	logger Logger,
	opts ...ServiceOption,
) *WorkflowService {
	s := &WorkflowService{
		store:     store,
		catalog:   cat,
		collab:    collab,
		allocator: allocator,
		logger:    logger,
		timeout:   DefaultCollaboratorTimeout,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start admits a contact into a workflow. An empty workflowID lets the
// catalog pick by first-match selection; a named workflow must have its entry
// conditions satisfied. Stage 0 with zero delay executes synchronously.
func (s *WorkflowService) Start(ctx context.Context, contactID, workflowID string) (models.WorkflowInstance, error) {
	if _, err := s.store.GetActiveInstance(contactID); err == nil {
		return models.WorkflowInstance{}, ErrAlreadyActive
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.WorkflowInstance{}, errors.WithMessage(err, "checking for active instance")
	}

	snapshot, err := s.getSnapshot(ctx, contactID)
	if err != nil {
		return models.WorkflowInstance{}, err
	}

	var def models.WorkflowDefinition
	if workflowID == "" {
		def = s.catalog.Select(snapshot)
	} else {
		def, err = s.catalog.Get(workflowID)
		if err != nil {
			return models.WorkflowInstance{}, err
		}
		if !catalog.EntrySatisfied(def.Entry, snapshot) {
			return models.WorkflowInstance{}, ErrEntryConditionsNotMet
		}
	}

	now := s.clock()
	due := now.Add(def.Stages[0].Delay)
	wi := models.WorkflowInstance{
		ContactID:       contactID,
		WorkflowID:      def.ID,
		Status:          models.ActiveInstanceStatus,
		CurrentStage:    0,
		CompletedStages: []string{},
		NextStage:       0,
		NextDueAt:       &due,
		StartedAt:       now,
		Version:         1,
	}
	id, err := s.store.SaveInstance(wi)
	if err != nil {
		return models.WorkflowInstance{}, errors.WithMessage(err, "saving instance")
	}
	wi.ID = id
	s.logger.Infof("Started workflow '%s' for contact %s (instance %d)", def.ID, contactID, id)

	if def.Stages[0].Delay == 0 {
		if err := s.ExecuteStage(ctx, &wi, 0); err != nil {
			// Transport failures leave the stage due; the scheduler retries.
			return wi, err
		}
	}
	return wi, nil
}

// ExecuteStage runs one stage of an instance: the gate ladder, the send, and
// the durable advancement. Invoked from Start and from the scheduler.
func (s *WorkflowService) ExecuteStage(ctx context.Context, wi *models.WorkflowInstance, stageIndex int) error {
	if wi.Status != models.ActiveInstanceStatus {
		// Stop/Pause landed before this call; cancellation takes effect on
		// the next pass, so an instance already transitioned is left alone.
		return nil
	}

	def, err := s.catalog.Get(wi.WorkflowID)
	if err != nil {
		return errors.WithMessagef(err, "instance %d", wi.ID)
	}
	if stageIndex < 0 || stageIndex >= len(def.Stages) {
		s.logger.Errorf("Instance %d has no stage %d; ignoring", wi.ID, stageIndex)
		return nil
	}
	stage := def.Stages[stageIndex]

	// Re-executing an already-completed stage is a detectable no-op: repair
	// the due pointer without sending anything.
	if wi.HasCompletedStage(stage.ID) {
		s.logger.Infof("Instance %d stage '%s' already completed; re-arming pointer", wi.ID, stage.ID)
		return s.advance(wi, def, stageIndex, false)
	}

	snapshot, err := s.getSnapshot(ctx, wi.ContactID)
	if err != nil {
		return err
	}

	if stage.Skip != nil && condition.Evaluate(*stage.Skip, snapshot) {
		s.logger.Infof("Instance %d skipping stage '%s' (%s)", wi.ID, stage.ID, stage.Skip)
		return s.advance(wi, def, stageIndex, false)
	}

	address := snapshot.GetString(models.FieldEmail)
	if address == "" {
		s.logger.Errorf("Instance %d contact %s has no reachable channel", wi.ID, wi.ContactID)
		return ErrMissingChannel
	}

	optedOut, err := s.isOptedOut(ctx, address)
	if err != nil {
		return &TransportError{Op: "opt-out check", Err: err}
	}
	if optedOut {
		s.logger.Infof("Instance %d contact %s opted out; stopping", wi.ID, wi.ContactID)
		return s.transition(wi, models.StoppedInstanceStatus, models.ReasonUnsubscribed)
	}

	s.refreshTrackedStatus(ctx, wi.ContactID, snapshot)

	variant, err := s.allocator.SelectVariant(stage.TemplateID, stage.Variants)
	if err != nil {
		return &TransportError{Op: "variant selection", Err: err}
	}

	rendered, err := s.render(ctx, stage.TemplateID, variant, snapshot)
	if err != nil {
		return &TransportError{Op: "render", Err: err}
	}

	messageID := uuid.NewString()
	result, err := s.send(ctx, address, rendered, AttributionTags{
		ContactID:  wi.ContactID,
		TemplateID: stage.TemplateID,
		Variant:    variant,
		MessageID:  messageID,
	})
	if err != nil {
		return &TransportError{Op: "send", Err: err}
	}

	if err := s.allocator.RecordAttempt(stage.TemplateID, variant); err != nil {
		s.logger.Errorf("Instance %d failed to record attempt for %s/%s: %v", wi.ID, stage.TemplateID, variant, err)
	}

	if err := s.store.SaveMessage(models.OutboundMessage{
		ID:         messageID,
		ContactID:  wi.ContactID,
		InstanceID: wi.ID,
		StageID:    stage.ID,
		TemplateID: stage.TemplateID,
		Variant:    variant,
		DeliveryID: result.DeliveryID,
		ToAddress:  address,
		Subject:    rendered.Subject,
		SentAt:     s.clock(),
	}); err != nil {
		// The message went out; losing the log row must not re-trigger a send.
		s.logger.Errorf("Instance %d failed to log message %s: %v", wi.ID, messageID, err)
	}

	s.logger.Infof("Instance %d sent stage '%s' template %s variant %s to contact %s",
		wi.ID, stage.ID, stage.TemplateID, variant, wi.ContactID)
	return s.advance(wi, def, stageIndex, true)
}

// advance records stage completion and arms the next due pointer, or
// transitions to completed when no stages remain. Delays are anchored to
// workflow start, so a computed due time in the past is immediately due.
func (s *WorkflowService) advance(wi *models.WorkflowInstance, def models.WorkflowDefinition, stageIndex int, sent bool) error {
	now := s.clock()
	stage := def.Stages[stageIndex]
	if !wi.HasCompletedStage(stage.ID) {
		wi.CompletedStages = append(wi.CompletedStages, stage.ID)
	}
	if sent {
		wi.MessagesSent++
		wi.LastStageAt = &now
	}
	wi.CurrentStage = stageIndex + 1

	if next := stageIndex + 1; next < len(def.Stages) {
		due := wi.StartedAt.Add(def.Stages[next].Delay)
		wi.NextStage = next
		wi.NextDueAt = &due
	} else {
		wi.Status = models.CompletedInstanceStatus
		wi.StatusReason = models.ReasonCompleted
		wi.NextStage = stageIndex + 1
		wi.NextDueAt = nil
		wi.CompletedAt = &now
		s.logger.Infof("Instance %d completed workflow '%s'", wi.ID, wi.WorkflowID)
	}

	if err := s.store.UpdateInstance(*wi); err != nil {
		if errors.Is(err, storage.ErrStaleInstance) {
			s.logger.Errorf("Instance %d advanced concurrently; dropping this pass's update", wi.ID)
		}
		return errors.WithMessagef(err, "advancing instance %d", wi.ID)
	}
	wi.Version++
	return nil
}

// Pause suspends an active instance. The current due pointer is kept so
// Resume picks up where the instance left off.
func (s *WorkflowService) Pause(ctx context.Context, contactID, reason string) error {
	wi, err := s.store.GetActiveInstance(contactID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.Errorf("no active instance for contact %s", contactID)
		}
		return err
	}
	return s.transition(&wi, models.PausedInstanceStatus, reason)
}

// Resume reactivates a paused instance; valid only from paused.
func (s *WorkflowService) Resume(ctx context.Context, contactID string) error {
	wi, err := s.store.GetContactInstance(contactID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.Errorf("no instance for contact %s", contactID)
		}
		return err
	}
	if wi.Status != models.PausedInstanceStatus {
		return errors.Errorf("cannot resume instance %d from status %s", wi.ID, wi.Status)
	}
	return s.transition(&wi, models.ActiveInstanceStatus, "")
}

// Stop terminates an instance. No transition leads out of stopped.
func (s *WorkflowService) Stop(ctx context.Context, contactID, reason string) error {
	wi, err := s.store.GetContactInstance(contactID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return errors.Errorf("no instance for contact %s", contactID)
		}
		return err
	}
	return s.StopInstance(ctx, &wi, reason)
}

// StopInstance transitions a specific instance to stopped; terminal
// instances are left untouched.
func (s *WorkflowService) StopInstance(ctx context.Context, wi *models.WorkflowInstance, reason string) error {
	if wi.Terminal() {
		return nil
	}
	return s.transition(wi, models.StoppedInstanceStatus, reason)
}

// ListInstances exposes the instance table for the admin surfaces.
func (s *WorkflowService) ListInstances() ([]models.WorkflowInstance, error) {
	return s.store.ListInstances()
}

func (s *WorkflowService) transition(wi *models.WorkflowInstance, status models.InstanceStatus, reason string) error {
	now := s.clock()
	wi.Status = status
	wi.StatusReason = reason
	if status == models.StoppedInstanceStatus {
		wi.NextDueAt = nil
	}
	if err := s.store.UpdateInstance(*wi); err != nil {
		return errors.WithMessagef(err, "transitioning instance %d to %s", wi.ID, status)
	}
	wi.Version++
	wi.UpdatedAt = now
	s.logger.Infof("Instance %d transitioned to %s (%s)", wi.ID, status, reason)
	return nil
}

// refreshTrackedStatus polls the external status tracker and folds the
// result into the snapshot and contact record. Tracker failures degrade to
// "unknown" without aborting the stage.
func (s *WorkflowService) refreshTrackedStatus(ctx context.Context, contactID string, snapshot models.ContactSnapshot) {
	if s.collab.Tracker == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	status, err := s.collab.Tracker.CheckStatus(callCtx, contactID)
	if err != nil {
		s.logger.Errorf("Status check failed for contact %s: %v", contactID, err)
		return
	}
	if status == "" || status == StatusUnknown {
		return
	}
	snapshot[models.FieldIDIQStatus] = status
	if err := s.collab.Contacts.Update(callCtx, contactID, map[string]any{models.FieldIDIQStatus: status}); err != nil {
		s.logger.Errorf("Failed to persist tracked status for contact %s: %v", contactID, err)
	}
}

func (s *WorkflowService) getSnapshot(ctx context.Context, contactID string) (models.ContactSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	snapshot, err := s.collab.Contacts.Get(callCtx, contactID)
	if err != nil {
		return nil, &TransportError{Op: "contact lookup", Err: err}
	}
	return snapshot, nil
}

func (s *WorkflowService) isOptedOut(ctx context.Context, address string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.collab.Contacts.IsOptedOut(callCtx, address)
}

func (s *WorkflowService) render(ctx context.Context, templateID, variant string, snapshot models.ContactSnapshot) (RenderedMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.collab.Renderer.Render(callCtx, templateID, variant, snapshot)
}

func (s *WorkflowService) send(ctx context.Context, to string, msg RenderedMessage, tags AttributionTags) (SendResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.collab.Sender.Send(callCtx, to, msg.Subject, msg.Body, tags)
}
