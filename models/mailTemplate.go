package models

import "time"

// Mail template kinds.
const (
	TemplateStart      = "START"
	TemplateCompletion = "COMPLETION"
)

// MailTemplate stores the author-entered subject/body for one trigger
// kind. Bodies are free text with {{field}} tokens; unknown tokens are
// preserved literally when rendering.
type MailTemplate struct {
	Kind      string `gorm:"primaryKey"`
	Subject   string `gorm:"not null"`
	Body      string `gorm:"not null"`
	UpdatedAt time.Time
}
