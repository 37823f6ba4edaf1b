package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/clahage/my-clever-crm-sub002/pkg/models"
	"github.com/clahage/my-clever-crm-sub002/pkg/storage"
)

const (
	// DefaultBatchSize caps how many due instances one pass processes.
	DefaultBatchSize = 50
	// DefaultWorkers bounds concurrent stage executions within a pass.
	DefaultWorkers = 8
	// DefaultInterval is the cadence of the daemon loop.
	DefaultInterval = time.Hour
)

// InstanceError pairs a failed instance with its error for batch reporting.
type InstanceError struct {
	InstanceID int64
	Err        error
}

func (ie InstanceError) String() string {
	return fmt.Sprintf("instance %d: %v", ie.InstanceID, ie.Err)
}

// Report summarizes one scheduler pass.
type Report struct {
	Processed int
	Errors    []InstanceError
}

// Scheduler discovers due instances and drives them through the controller.
// Instances are processed concurrently on a bounded worker pool; each one
// only touches its own state, so no cross-instance ordering exists. A failed
// instance stays due and is re-discovered on the next pass (at-least-once).
type Scheduler struct {
	svc       *WorkflowService
	store     storage.Store
	logger    Logger
	batchSize int
	workers   int
	interval  time.Duration
}

type SchedulerOption func(*Scheduler)

func WithBatchSize(n int) SchedulerOption {
	return func(sc *Scheduler) {
		sc.batchSize = n
	}
}

func WithWorkers(n int) SchedulerOption {
	return func(sc *Scheduler) {
		sc.workers = n
	}
}

func WithInterval(d time.Duration) SchedulerOption {
	return func(sc *Scheduler) {
		sc.interval = d
	}
}

func NewScheduler(svc *WorkflowService, store storage.Store, logger Logger, opts ...SchedulerOption) *Scheduler {
	sc := &Scheduler{
		svc:       svc,
		store:     store,
		logger:    logger,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// ProcessDue runs one scheduler pass at the given time. One instance's
// failure never aborts the batch; errors are collected into the report.
func (sc *Scheduler) ProcessDue(ctx context.Context, now time.Time) (Report, error) {
	due, err := sc.store.ListDueInstances(now, sc.batchSize)
	if err != nil {
		return Report{}, err
	}
	if len(due) == 0 {
		return Report{}, nil
	}

	var (
		mu     sync.Mutex
		report Report
		wg     sync.WaitGroup
	)
	jobs := make(chan models.WorkflowInstance)

	workers := sc.workers
	if workers > len(due) {
		workers = len(due)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for wi := range jobs {
				err := sc.executeOne(ctx, wi)
				mu.Lock()
				report.Processed++
				if err != nil {
					report.Errors = append(report.Errors, InstanceError{InstanceID: wi.ID, Err: err})
				}
				mu.Unlock()
			}
		}()
	}

	for _, wi := range due {
		select {
		case jobs <- wi:
		case <-ctx.Done():
			// Stop feeding; in-flight executions finish on their own.
			close(jobs)
			wg.Wait()
			return report, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	if len(report.Errors) > 0 {
		sc.logger.Errorf("Scheduler pass processed %d instances with %d errors", report.Processed, len(report.Errors))
	} else {
		sc.logger.Infof("Scheduler pass processed %d instances", report.Processed)
	}
	return report, nil
}

// executeOne isolates a single instance's execution, converting panics into
// recorded errors so a misbehaving collaborator cannot take down the pass.
func (sc *Scheduler) executeOne(ctx context.Context, wi models.WorkflowInstance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic executing instance %d: %v", wi.ID, r)
			sc.logger.Errorf("%v", err)
		}
	}()
	return sc.svc.ExecuteStage(ctx, &wi, wi.NextStage)
}

// Run drives ProcessDue on the configured interval until the context ends.
func (sc *Scheduler) Run(ctx context.Context) error {
	sc.logger.Infof("Starting scheduler with interval %s", sc.interval)
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			sc.logger.Infof("Scheduler stopping: %v", ctx.Err())
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := sc.ProcessDue(ctx, now); err != nil {
				sc.logger.Errorf("Scheduler pass failed: %v", err)
			}
		}
	}
}
