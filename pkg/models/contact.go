package models

import "fmt"

// Well-known snapshot attribute keys referenced by catalog conditions and the
// instance controller. The snapshot itself stays a flat map because the
// contact store owns the full schema.
const (
	FieldEmail         = "email"
	FieldPhone         = "phone"
	FieldEmailVerified = "emailVerified"
	FieldPhoneVerified = "phoneVerified"
	FieldSource        = "source"
	FieldIDIQStatus    = "idiqStatus"
	FieldEmailOpens    = "emailOpens"
	FieldEmailClicks   = "emailClicks"
	FieldLastOpenAt    = "lastOpenAt"
	FieldLastClickAt   = "lastClickAt"
)

// ContactSnapshot is a flat view of a contact's attributes at a point in
// time, as returned by the contact store collaborator.
type ContactSnapshot map[string]any

// GetString returns the attribute as a string, or "" when absent.
func (s ContactSnapshot) GetString(key string) string {
	v, ok := s[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// GetInt returns the attribute as an int, tolerating the numeric types a
// JSON-ish store hands back. Absent or non-numeric values read as 0.
func (s ContactSnapshot) GetInt(key string) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
