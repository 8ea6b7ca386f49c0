package model

import (
	"fmt"
	"time"
)

// Recipient is an audience member. Destinations holds deliverable addresses
// in preference order (the pipeline sends to the first one). Attributes are
// free-form fields available to template personalization.
type Recipient struct {
	ID           string
	Name         string
	Destinations []string
	Attributes   map[string]any
	CreatedAt    time.Time
}

// Destination returns the primary deliverable address, or "" when the
// recipient has none.
func (r *Recipient) Destination() string {
	if r == nil || len(r.Destinations) == 0 {
		return ""
	}
	return r.Destinations[0]
}

// Field resolves a personalization field by name. Name is a built-in; every
// other lookup goes through Attributes. The bool reports whether a non-nil
// value was found.
func (r *Recipient) Field(name string) (string, bool) {
	if r == nil {
		return "", false
	}
	if name == "name" {
		if r.Name == "" {
			return "", false
		}
		return r.Name, true
	}
	v, ok := r.Attributes[name]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}
