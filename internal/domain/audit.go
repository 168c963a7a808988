package domain

import (
	"encoding/json"
	"time"
)

// Audit actions.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Audited entity types.
const (
	EntityEnvironment = "environment"
	EntityVariable    = "variable"
)

// RedactedValue replaces secret payloads in audit history.
const RedactedValue = "[REDACTED]"

// AuditLog is an immutable record of a single mutation. Seq is the storage
// assigned insertion sequence used for ordering.
type AuditLog struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	OldValue   *string         `json:"old_value,omitempty"`
	NewValue   *string         `json:"new_value,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	UserID     string          `json:"user_id"`
	UserName   string          `json:"user_name"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ValidAction reports whether action is one of the recorded audit actions.
func ValidAction(action string) bool {
	switch action {
	case ActionCreate, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// ValidEntityType reports whether entityType names an audited entity.
func ValidEntityType(entityType string) bool {
	return entityType == EntityEnvironment || entityType == EntityVariable
}
