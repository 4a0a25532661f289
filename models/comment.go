package models

import (
	"time"

	"gorm.io/datatypes"
)

type Comment struct {
	ID       string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	TaskID   string `gorm:"type:uuid;not null;index"`
	AuthorID string `gorm:"type:uuid;not null"`
	Body     string `gorm:"not null"`

	// Mentions holds the user IDs extracted from @tokens in the body,
	// as a JSONB array.
	Mentions datatypes.JSON

	CreatedAt time.Time
}
