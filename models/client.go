package models

import (
	"time"

	"gorm.io/datatypes"
)

// Client is a firm client whose compliance tasks are tracked.
type Client struct {
	// ID is a unique identifier for the client, stored as a UUID in the database.
	ID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`

	// Name is the client's display name as it appears in mails and calendar events.
	Name string `gorm:"not null"`

	// ComplianceIDs holds free-form statutory identifiers (GSTIN, PAN, TAN, CIN...)
	// as a JSONB key/value object.
	ComplianceIDs datatypes.JSON `gorm:"column:compliance_ids"`

	// PrimaryEmail is the default "To" recipient for client-facing mails.
	PrimaryEmail string

	// CCList and BCCList are the default CC/BCC recipient lists, stored as
	// JSONB arrays of addresses.
	CCList  datatypes.JSON `gorm:"column:cc_list"`
	BCCList datatypes.JSON `gorm:"column:bcc_list"`

	// ManagerID references the engagement manager for this client; completion
	// mails can be extended with this user's address per task flags.
	ManagerID string

	CreatedAt time.Time
	UpdatedAt time.Time
}
