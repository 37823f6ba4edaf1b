package models

import "time"

type InstanceStatus string

const (
	ActiveInstanceStatus    InstanceStatus = "active"
	PausedInstanceStatus    InstanceStatus = "paused"
	StoppedInstanceStatus   InstanceStatus = "stopped"
	CompletedInstanceStatus InstanceStatus = "completed"
)

// Stop/pause reasons recorded on status transitions.
const (
	ReasonUnsubscribed = "unsubscribed"
	ReasonHardBounce   = "hard_bounce"
	ReasonManual       = "manual"
	ReasonCompleted    = "all_stages_completed"
)

// WorkflowInstance tracks one contact's progress through a workflow
// definition. At most one active instance exists per contact.
type WorkflowInstance struct {
	ID              int64          `json:"id" db:"id"`
	ContactID       string         `json:"contact_id" db:"contact_id"`
	WorkflowID      string         `json:"workflow_id" db:"workflow_id"`
	Status          InstanceStatus `json:"status" db:"status"`
	StatusReason    string         `json:"status_reason,omitempty" db:"status_reason"`
	CurrentStage    int            `json:"current_stage" db:"current_stage"`
	CompletedStages []string       `json:"completed_stages" db:"completed_stages"`
	NextStage       int            `json:"next_stage" db:"next_stage"`
	NextDueAt       *time.Time     `json:"next_due_at,omitempty" db:"next_due_at"`
	MessagesSent    int            `json:"messages_sent" db:"messages_sent"`
	StartedAt       time.Time      `json:"started_at" db:"started_at"`
	LastStageAt     *time.Time     `json:"last_stage_at,omitempty" db:"last_stage_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	// Version guards instance updates with an optimistic check so two
	// overlapping scheduler passes cannot both advance the same stage.
	Version   int64     `json:"version" db:"version"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// HasCompletedStage reports whether the given stage id was already executed
// (or skipped) for this instance.
func (wi *WorkflowInstance) HasCompletedStage(stageID string) bool {
	for _, id := range wi.CompletedStages {
		if id == stageID {
			return true
		}
	}
	return false
}

// Terminal reports whether the instance can no longer transition.
func (wi *WorkflowInstance) Terminal() bool {
	return wi.Status == StoppedInstanceStatus || wi.Status == CompletedInstanceStatus
}
