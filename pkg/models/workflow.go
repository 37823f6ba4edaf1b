package models

import (
	"time"

	"github.com/clahage/my-clever-crm-sub002/pkg/condition"
)

// WorkflowDefinition is an immutable, named sequence of delayed stages.
// Definitions are loaded at startup and never mutated afterwards.
type WorkflowDefinition struct {
	ID       string
	Name     string
	Stages   []StageDefinition
	Entry    EntryCondition
	ExitTags []string
}

// StageDefinition is one scheduled unit of content delivery. Delay is
// measured from workflow start, not from the previous stage, so stages carry
// independent absolute offsets.
type StageDefinition struct {
	ID         string
	TemplateID string
	Delay      time.Duration
	Variants   []string
	Skip       *condition.Predicate
}

// EntryCondition gates admission into a workflow. A contact must carry every
// required attribute (non-empty) and, when the allow-list is set, originate
// from one of the allowed sources.
type EntryCondition struct {
	RequiredFields []string
	AllowedSources []string
}
