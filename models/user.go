package models

import "time"

// Role values recognised by the permission gate. Anything else stored in
// the users table is legacy data and must be normalized before use.
const (
	RolePartner   = "PARTNER"
	RoleManager   = "MANAGER"
	RoleAssociate = "ASSOCIATE"

	// RoleStaff is the pre-migration role value. It maps to ASSOCIATE.
	RoleStaff = "STAFF"
)

type User struct {
	ID        string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name      string `gorm:"not null"`
	Email     string `gorm:"not null;uniqueIndex"`
	Role      string `gorm:"not null"`
	APIToken  string `gorm:"column:api_token;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeRole maps stored role values onto the current role set. The
// mapping is applied once, at the identity-resolution boundary, so the
// rest of the system only ever sees current values.
func NormalizeRole(stored string) string {
	switch stored {
	case RolePartner, RoleManager, RoleAssociate:
		return stored
	case RoleStaff:
		return RoleAssociate
	default:
		return RoleAssociate
	}
}
