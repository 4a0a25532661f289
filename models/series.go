package models

import "time"

// Recurrence interval units.
const (
	IntervalDay   = "DAY"
	IntervalWeek  = "WEEK"
	IntervalMonth = "MONTH"
	IntervalYear  = "YEAR"
)

// ValidIntervalUnit reports whether u is a recognised interval unit.
func ValidIntervalUnit(u string) bool {
	switch u {
	case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		return true
	}
	return false
}

// Series is a recurrence definition that generates independent Task
// instances. It owns the generation rule, not the generated tasks'
// runtime state: once materialized a task is individually addressable
// and deletable without affecting its siblings, and deleting the series
// does not cascade.
type Series struct {
	ID       string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClientID string `gorm:"type:uuid;not null"`

	// Template fields inherited by generated tasks.
	Title               string `gorm:"not null"`
	Category            string
	Priority            string
	Notes               string
	CalendarDescription string

	// Due dates advance by IntervalCount units per occurrence; the start
	// date of each occurrence is its due date minus TriggerDaysBeforeDue.
	IntervalUnit         string `gorm:"not null"`
	IntervalCount        int    `gorm:"not null;default:1"`
	TriggerDaysBeforeDue int    `gorm:"not null"`

	// AnchorDueDate is the first occurrence's due date.
	AnchorDueDate time.Time `gorm:"type:date;not null"`

	// LastGeneratedDue is the generation watermark: re-running generation
	// materializes only occurrences strictly after it.
	LastGeneratedDue time.Time `gorm:"type:date"`

	// OccurrencesTotal counts tasks generated so far across extensions.
	OccurrencesTotal int

	StartMailEnabled      bool `gorm:"not null;default:true"`
	CompletionMailEnabled bool `gorm:"not null;default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
