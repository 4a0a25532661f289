package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Task statuses. Movement among the first four is free in either
// direction; entry into COMPLETED is restricted and COMPLETED is terminal
// for the normal flow (reopening is a separate operation).
const (
	StatusPending         = "PENDING"
	StatusInProgress      = "IN_PROGRESS"
	StatusClientPending   = "CLIENT_PENDING"
	StatusApprovalPending = "APPROVAL_PENDING"
	StatusCompleted       = "COMPLETED"
)

// DateLayout is the YYYY-MM-DD form used on the wire (CSV rows, JSON
// payloads) for start and due dates.
const DateLayout = "2006-01-02"

// ValidStatus reports whether s is a recognised status value.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusClientPending, StatusApprovalPending, StatusCompleted:
		return true
	}
	return false
}

// Task is a single compliance work item for a client. Tasks are created
// singly, generated from a Series, or imported as new rows; once created
// they are mutated only through the reconciliation apply path.
type Task struct {
	ID string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`

	ClientID string `gorm:"type:uuid;not null"`

	// ClientNameSnapshot is the client name at creation time, denormalized
	// for mails, calendar descriptions and exports.
	ClientNameSnapshot string

	Title    string `gorm:"not null"`
	Category string
	Priority string

	// AssigneeID references the user responsible for the task. Ownership
	// drives the ASSOCIATE permission checks.
	AssigneeID string

	Status string `gorm:"not null"`

	// StartDate <= DueDate always; DueDate is never zero.
	StartDate time.Time `gorm:"type:date;not null"`
	DueDate   time.Time `gorm:"type:date;not null"`

	Notes       string
	DelayReason string

	// OverrideTo/CC/BCC replace the corresponding client default list when
	// present (JSON array, possibly empty). A NULL column means "inherit".
	OverrideTo  datatypes.JSON `gorm:"column:override_to"`
	OverrideCC  datatypes.JSON `gorm:"column:override_cc"`
	OverrideBCC datatypes.JSON `gorm:"column:override_bcc"`

	StartMailEnabled      bool `gorm:"not null;default:true"`
	CompletionMailEnabled bool `gorm:"not null;default:true"`

	// Completion-mail recipient extensions, independent of threading.
	NotifyAssigneeOnComplete bool
	NotifyManagerOnComplete  bool

	// StartMailThreadRef is the opaque token returned by the mail transport
	// for the start mail; completion mails reply within it when present.
	StartMailThreadRef string

	// DeliveryFailureNote records the last transport failure for this task's
	// mails. Cleared on a successful send; retried by the daily sweep.
	DeliveryFailureNote string

	CalendarEventID     string
	CalendarHTMLLink    string `gorm:"column:calendar_html_link"`
	CalendarDescription string

	// SeriesID is nil for standalone tasks. A generated task carries its
	// occurrence index (1-based) and the cohort total.
	SeriesID        *string `gorm:"type:uuid"`
	OccurrenceIndex int
	OccurrenceTotal int

	// Version increments on every committed write; writers must present the
	// version they read (compare-and-set) so concurrent field writes on the
	// same task cannot interleave.
	Version int `gorm:"not null;default:1"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsOwnedBy reports whether the task is assigned to the given user.
func (t *Task) IsOwnedBy(userID string) bool {
	return userID != "" && t.AssigneeID == userID
}

// EmailList decodes a JSONB address-list column. The second return value
// distinguishes a present (possibly empty) list from an absent column.
func EmailList(col datatypes.JSON) ([]string, bool) {
	if len(col) == 0 {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(col, &out); err != nil {
		return nil, false
	}
	if out == nil {
		out = []string{}
	}
	return out, true
}

// MarshalEmailList encodes a list for a JSONB address column.
func MarshalEmailList(addrs []string) datatypes.JSON {
	if addrs == nil {
		addrs = []string{}
	}
	b, _ := json.Marshal(addrs)
	return datatypes.JSON(b)
}
