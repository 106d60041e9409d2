package domain

import "time"

// AuditLog is one row of the audit trail.
type AuditLog struct {
	ID         string
	ActorID    string
	Action     string
	Resource   string
	ResourceID string
	// Metadata is a JSON object or empty.
	Metadata  string
	CreatedAt time.Time
}
