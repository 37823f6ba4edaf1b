package catalog

import (
	"time"

	"github.com/clahage/my-clever-crm-sub002/pkg/condition"
	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

const day = 24 * time.Hour

// Builtin returns the stock drip catalog loaded at process start. Order
// matters: the verified-lead nurture sequence is preferred, referrals get the
// short track, and the welcome sequence is the catch-all.
func Builtin() (*Catalog, error) {
	return New(
		models.WorkflowDefinition{
			ID:   "credit-nurture",
			Name: "Credit Repair Nurture",
			Entry: models.EntryCondition{
				RequiredFields: []string{models.FieldEmail, models.FieldEmailVerified},
			},
			Stages: []models.StageDefinition{
				{
					ID:         "nurture-intro",
					TemplateID: "tmpl-nurture-intro",
					Delay:      0,
					Variants:   []string{"control", "friendly", "urgent"},
				},
				{
					ID:         "nurture-idiq",
					TemplateID: "tmpl-nurture-idiq",
					Delay:      1 * day,
					Variants:   []string{"control", "benefit-led"},
					Skip: &condition.Predicate{
						Field: models.FieldIDIQStatus,
						Op:    condition.OpEq,
						Value: "completed",
					},
				},
				{
					ID:         "nurture-checkin",
					TemplateID: "tmpl-nurture-checkin",
					Delay:      3 * day,
					Variants:   []string{"control", "question"},
				},
				{
					ID:         "nurture-close",
					TemplateID: "tmpl-nurture-close",
					Delay:      7 * day,
					Variants:   []string{"control", "deadline"},
				},
			},
			ExitTags: []string{"converted", "unsubscribed"},
		},
		models.WorkflowDefinition{
			ID:   "referral-fast-track",
			Name: "Referral Fast Track",
			Entry: models.EntryCondition{
				RequiredFields: []string{models.FieldEmail},
				AllowedSources: []string{"referral", "partner"},
			},
			Stages: []models.StageDefinition{
				{
					ID:         "referral-hello",
					TemplateID: "tmpl-referral-hello",
					Delay:      0,
					Variants:   []string{"control", "warm"},
				},
				{
					ID:         "referral-followup",
					TemplateID: "tmpl-referral-followup",
					Delay:      2 * day,
					Variants:   []string{"control"},
				},
			},
			ExitTags: []string{"converted"},
		},
		models.WorkflowDefinition{
			ID:   "general-welcome",
			Name: "General Welcome",
			// Catch-all: no entry conditions.
			Stages: []models.StageDefinition{
				{
					ID:         "welcome-hello",
					TemplateID: "tmpl-welcome-hello",
					Delay:      0,
					Variants:   []string{"control", "casual"},
				},
				{
					ID:         "welcome-resources",
					TemplateID: "tmpl-welcome-resources",
					Delay:      1 * day,
					Variants:   []string{"control"},
				},
			},
		},
	)
}
