package models

import "time"

// Attachment is file metadata only; the bytes live in object storage and
// FileRef is the retrievable reference returned by it.
type Attachment struct {
	ID           string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TaskID       string `gorm:"type:uuid;not null;index"`
	FileRef      string `gorm:"not null"`
	DisplayName  string `gorm:"not null"`
	UploadedByID string
	CreatedAt    time.Time
}
