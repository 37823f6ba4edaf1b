package models

// VariantStats holds the bandit counters for one content variant of a
// template. Successes never exceed attempts; both only ever increment.
type VariantStats struct {
	TemplateID string `json:"template_id" db:"template_id"`
	Variant    string `json:"variant" db:"variant"`
	Attempts   int64  `json:"attempts" db:"attempts"`
	Successes  int64  `json:"successes" db:"successes"`
}
