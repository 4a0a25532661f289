package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// ClientInput carries client creation/update fields. On update, nil
// slices and maps leave the stored value unchanged while empty ones
// clear it; empty strings leave string fields unchanged.
type ClientInput struct {
	Name          string            `json:"name"`
	PrimaryEmail  string            `json:"primary_email"`
	CCList        []string          `json:"cc_list"`
	BCCList       []string          `json:"bcc_list"`
	ComplianceIDs map[string]string `json:"compliance_ids"`
	ManagerID     string            `json:"manager_id"`
}

// ClientService is the client roster administration surface. Mutations
// are PARTNER-only through the gate; reads are open to every role.
type ClientService struct {
	db   *gorm.DB
	gate *PermissionGate
}

func NewClientService(db *gorm.DB, gate *PermissionGate) *ClientService {
	return &ClientService{db: db, gate: gate}
}

func (s *ClientService) CreateClient(actor *Actor, input ClientInput) (*model.Client, error) {
	if !s.gate.CanMutate(actor.Role, OpClientAdmin, "", false) {
		return nil, fmt.Errorf("role %s may not administer clients: %w", actor.Role, ErrPermissionDenied)
	}
	if strings.TrimSpace(input.Name) == "" {
		return nil, fmt.Errorf("client name cannot be empty: %w", ErrInvalidValue)
	}

	client := model.Client{
		Name:         strings.TrimSpace(input.Name),
		PrimaryEmail: strings.TrimSpace(input.PrimaryEmail),
		ManagerID:    input.ManagerID,
	}
	if input.CCList != nil {
		client.CCList = model.MarshalEmailList(input.CCList)
	}
	if input.BCCList != nil {
		client.BCCList = model.MarshalEmailList(input.BCCList)
	}
	if input.ComplianceIDs != nil {
		b, _ := json.Marshal(input.ComplianceIDs)
		client.ComplianceIDs = b
	}

	if err := s.db.Create(&client).Error; err != nil {
		log.Printf("[CreateClient] Error creating client %s: %v", input.Name, err)
		return nil, fmt.Errorf("creating client: %w", err)
	}
	log.Printf("[CreateClient] Client %s created", client.Name)
	return &client, nil
}

func (s *ClientService) UpdateClient(actor *Actor, clientID string, input ClientInput) (*model.Client, error) {
	if !s.gate.CanMutate(actor.Role, OpClientAdmin, "", false) {
		return nil, fmt.Errorf("role %s may not administer clients: %w", actor.Role, ErrPermissionDenied)
	}

	client, err := s.GetClient(clientID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.Name) != "" {
		client.Name = strings.TrimSpace(input.Name)
	}
	if strings.TrimSpace(input.PrimaryEmail) != "" {
		client.PrimaryEmail = strings.TrimSpace(input.PrimaryEmail)
	}
	if input.ManagerID != "" {
		client.ManagerID = input.ManagerID
	}
	if input.CCList != nil {
		client.CCList = model.MarshalEmailList(input.CCList)
	}
	if input.BCCList != nil {
		client.BCCList = model.MarshalEmailList(input.BCCList)
	}
	if input.ComplianceIDs != nil {
		b, _ := json.Marshal(input.ComplianceIDs)
		client.ComplianceIDs = b
	}

	if err := s.db.Save(client).Error; err != nil {
		return nil, fmt.Errorf("updating client %s: %w", clientID, err)
	}
	return client, nil
}

// DeleteClient refuses while tasks still reference the client: the
// roster is not where task history gets erased from.
func (s *ClientService) DeleteClient(actor *Actor, clientID string) error {
	if !s.gate.CanMutate(actor.Role, OpClientAdmin, "", false) {
		return fmt.Errorf("role %s may not administer clients: %w", actor.Role, ErrPermissionDenied)
	}

	var taskCount int64
	if err := s.db.Model(&model.Task{}).Where("client_id = ?", clientID).Count(&taskCount).Error; err != nil {
		return fmt.Errorf("checking tasks of client %s: %w", clientID, err)
	}
	if taskCount > 0 {
		return fmt.Errorf("client %s still has %d tasks: %w", clientID, taskCount, ErrInvalidValue)
	}

	res := s.db.Delete(&model.Client{}, "id = ?", clientID)
	if res.Error != nil {
		return fmt.Errorf("deleting client %s: %w", clientID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}
	log.Printf("[DeleteClient] Client %s deleted by %s", clientID, actor.Role)
	return nil
}

func (s *ClientService) GetClient(clientID string) (*model.Client, error) {
	var client model.Client
	if err := s.db.First(&client, "id = ?", clientID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching client %s: %w", clientID, err)
	}
	return &client, nil
}

func (s *ClientService) ListClients() ([]model.Client, error) {
	var clients []model.Client
	if err := s.db.Order("name asc").Find(&clients).Error; err != nil {
		return nil, fmt.Errorf("listing clients: %w", err)
	}
	return clients, nil
}
