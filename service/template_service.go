package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// TemplateService manages the two stored mail templates. Editing is a
// managerial operation; the orchestrator falls back to built-in defaults
// when a row is missing so a half-configured install still sends mail.
type TemplateService struct {
	db   *gorm.DB
	gate *PermissionGate
}

func NewTemplateService(db *gorm.DB, gate *PermissionGate) *TemplateService {
	return &TemplateService{db: db, gate: gate}
}

func validTemplateKind(kind string) bool {
	return kind == model.TemplateStart || kind == model.TemplateCompletion
}

// UpsertTemplate stores the subject/body for one trigger kind.
func (s *TemplateService) UpsertTemplate(actor *Actor, kind, subject, body string) (*model.MailTemplate, error) {
	if !s.gate.CanMutate(actor.Role, OpTemplateAdmin, "", false) {
		return nil, fmt.Errorf("role %s may not edit templates: %w", actor.Role, ErrPermissionDenied)
	}
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if !validTemplateKind(kind) {
		return nil, fmt.Errorf("template kind %q: %w", kind, ErrInvalidValue)
	}
	if strings.TrimSpace(subject) == "" || strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("template subject and body are required: %w", ErrInvalidValue)
	}

	tmpl := model.MailTemplate{Kind: kind, Subject: subject, Body: body}
	if err := s.db.Save(&tmpl).Error; err != nil {
		log.Printf("[UpsertTemplate] Error saving %s template: %v", kind, err)
		return nil, fmt.Errorf("saving %s template: %w", kind, err)
	}
	log.Printf("[UpsertTemplate] %s template updated by %s", kind, actor.Role)
	return &tmpl, nil
}

// GetTemplate returns one stored template.
func (s *TemplateService) GetTemplate(kind string) (*model.MailTemplate, error) {
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if !validTemplateKind(kind) {
		return nil, fmt.Errorf("template kind %q: %w", kind, ErrInvalidValue)
	}
	var tmpl model.MailTemplate
	if err := s.db.First(&tmpl, "kind = ?", kind).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("template %s: %w", kind, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching template %s: %w", kind, err)
	}
	return &tmpl, nil
}

// ListTemplates returns both templates as stored.
func (s *TemplateService) ListTemplates() ([]model.MailTemplate, error) {
	var templates []model.MailTemplate
	if err := s.db.Order("kind asc").Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return templates, nil
}
