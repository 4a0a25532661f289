package models

import "time"

// Change source tags distinguishing the mutation path that produced an
// audit entry.
const (
	SourceUI        = "UI"
	SourceBulk      = "BULK"
	SourceImport    = "IMPORT"
	SourceScheduled = "SCHEDULED"
)

// AuditEntry is one field-level change on a task. Entries are append-only
// and ordered by CreatedAt within a task; they are never updated or
// deleted.
type AuditEntry struct {
	ID        string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TaskID    string `gorm:"type:uuid;not null;index"`
	ActorID   string
	Field     string `gorm:"not null"`
	PrevValue string
	NewValue  string
	Source    string `gorm:"not null"`
	CreatedAt time.Time
}
