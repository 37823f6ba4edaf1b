// Package catalog holds the static registry of workflow definitions and the
// first-match-wins selection over them.
package catalog

import (
	"github.com/pkg/errors"

	"github.com/clahage/my-clever-crm-sub002/pkg/condition"
	"github.com/clahage/my-clever-crm-sub002/pkg/models"
)

// Catalog is a read-only, priority-ordered set of workflow definitions. The
// last definition is expected to be a catch-all; Select falls back to it when
// nothing else matches.
type Catalog struct {
	defs []models.WorkflowDefinition
	byID map[string]models.WorkflowDefinition
}

// New validates the definitions and builds a catalog. Definition order is
// selection priority.
func New(defs ...models.WorkflowDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("catalog requires at least one workflow definition")
	}
	byID := make(map[string]models.WorkflowDefinition, len(defs))
	for _, def := range defs {
		if def.ID == "" {
			return nil, errors.New("workflow definition missing id")
		}
		if _, dup := byID[def.ID]; dup {
			return nil, errors.Errorf("duplicate workflow definition %q", def.ID)
		}
		if err := validateStages(def); err != nil {
			return nil, errors.WithMessagef(err, "workflow %q", def.ID)
		}
		byID[def.ID] = def
	}
	return &Catalog{defs: defs, byID: byID}, nil
}

func validateStages(def models.WorkflowDefinition) error {
	if len(def.Stages) == 0 {
		return errors.New("no stages")
	}
	seen := make(map[string]struct{}, len(def.Stages))
	for _, st := range def.Stages {
		if st.ID == "" {
			return errors.New("stage missing id")
		}
		if _, dup := seen[st.ID]; dup {
			return errors.Errorf("duplicate stage %q", st.ID)
		}
		seen[st.ID] = struct{}{}
		if st.TemplateID == "" {
			return errors.Errorf("stage %q missing template id", st.ID)
		}
		if st.Delay < 0 {
			return errors.Errorf("stage %q has negative delay", st.ID)
		}
		if st.Skip != nil {
			if _, err := condition.ParseOperator(string(st.Skip.Op)); err != nil {
				return errors.WithMessagef(err, "stage %q skip condition", st.ID)
			}
		}
	}
	return nil
}

// Get returns the definition with the given id.
func (c *Catalog) Get(id string) (models.WorkflowDefinition, error) {
	def, ok := c.byID[id]
	if !ok {
		return models.WorkflowDefinition{}, errors.Errorf("workflow %q not in catalog", id)
	}
	return def, nil
}

// Definitions returns the catalog contents in priority order.
func (c *Catalog) Definitions() []models.WorkflowDefinition {
	return c.defs
}

// Select returns the first definition whose entry conditions the snapshot
// satisfies, falling back to the last definition in the catalog.
func (c *Catalog) Select(snapshot models.ContactSnapshot) models.WorkflowDefinition {
	for _, def := range c.defs {
		if EntrySatisfied(def.Entry, snapshot) {
			return def
		}
	}
	return c.defs[len(c.defs)-1]
}

// EntrySatisfied checks every entry predicate: all required fields must be
// present and non-empty, and when an allow-list is set the contact's source
// must appear in it.
func EntrySatisfied(entry models.EntryCondition, snapshot models.ContactSnapshot) bool {
	for _, field := range entry.RequiredFields {
		if snapshot.GetString(field) == "" {
			return false
		}
	}
	if len(entry.AllowedSources) > 0 {
		source := snapshot.GetString(models.FieldSource)
		allowed := false
		for _, s := range entry.AllowedSources {
			if s == source {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	return true
}
