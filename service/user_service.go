package services

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// UserInput carries team-member creation fields.
type UserInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// UserService is the team administration surface: creating members,
// changing roles, rotating credentials. All of it is PARTNER-only.
type UserService struct {
	db   *gorm.DB
	gate *PermissionGate
}

func NewUserService(db *gorm.DB, gate *PermissionGate) *UserService {
	return &UserService{db: db, gate: gate}
}

func validRole(role string) bool {
	switch role {
	case model.RolePartner, model.RoleManager, model.RoleAssociate:
		return true
	}
	return false
}

// CreateUser adds a team member with a fresh API token.
func (s *UserService) CreateUser(actor *Actor, input UserInput) (*model.User, error) {
	if !s.gate.CanMutate(actor.Role, OpTeamAdmin, "", false) {
		return nil, fmt.Errorf("role %s may not administer the team: %w", actor.Role, ErrPermissionDenied)
	}
	if strings.TrimSpace(input.Name) == "" || strings.TrimSpace(input.Email) == "" {
		return nil, fmt.Errorf("user name and email are required: %w", ErrInvalidValue)
	}
	if !validRole(input.Role) {
		return nil, fmt.Errorf("role %q: %w", input.Role, ErrInvalidValue)
	}

	user := model.User{
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Role:     input.Role,
		APIToken: uuid.New().String(),
	}
	if err := s.db.Create(&user).Error; err != nil {
		log.Printf("[CreateUser] Error creating user %s: %v", input.Email, err)
		return nil, fmt.Errorf("creating user: %w", err)
	}
	log.Printf("[CreateUser] User %s created with role %s", user.Email, user.Role)
	return &user, nil
}

// SetRole changes a member's role. The last PARTNER cannot be demoted:
// every gate decision assumes at least one account can administer the
// system.
func (s *UserService) SetRole(actor *Actor, userID, role string) (*model.User, error) {
	if !s.gate.CanMutate(actor.Role, OpTeamAdmin, "", false) {
		return nil, fmt.Errorf("role %s may not administer the team: %w", actor.Role, ErrPermissionDenied)
	}
	if !validRole(role) {
		return nil, fmt.Errorf("role %q: %w", role, ErrInvalidValue)
	}

	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}
	if model.NormalizeRole(user.Role) == model.RolePartner && role != model.RolePartner {
		var partners int64
		if err := s.db.Model(&model.User{}).Where("role = ?", model.RolePartner).Count(&partners).Error; err != nil {
			return nil, fmt.Errorf("counting partners: %w", err)
		}
		if partners <= 1 {
			return nil, fmt.Errorf("cannot demote the last partner: %w", ErrInvalidValue)
		}
	}

	if err := s.db.Model(user).Update("role", role).Error; err != nil {
		return nil, fmt.Errorf("updating role of user %s: %w", userID, err)
	}
	user.Role = role
	log.Printf("[SetRole] User %s role set to %s by %s", userID, role, actor.Role)
	return user, nil
}

// RotateToken invalidates a member's credential and issues a new one.
func (s *UserService) RotateToken(actor *Actor, userID string) (*model.User, error) {
	if !s.gate.CanMutate(actor.Role, OpTeamAdmin, "", false) {
		return nil, fmt.Errorf("role %s may not administer the team: %w", actor.Role, ErrPermissionDenied)
	}
	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}
	token := uuid.New().String()
	if err := s.db.Model(user).Update("api_token", token).Error; err != nil {
		return nil, fmt.Errorf("rotating token of user %s: %w", userID, err)
	}
	user.APIToken = token
	log.Printf("[RotateToken] Token rotated for user %s", userID)
	return user, nil
}

// DeleteUser removes a member without assigned tasks. Members with task
// history should be demoted or have their tasks reassigned first.
func (s *UserService) DeleteUser(actor *Actor, userID string) error {
	if !s.gate.CanMutate(actor.Role, OpTeamAdmin, "", false) {
		return fmt.Errorf("role %s may not administer the team: %w", actor.Role, ErrPermissionDenied)
	}

	var assigned int64
	if err := s.db.Model(&model.Task{}).Where("assignee_id = ?", userID).Count(&assigned).Error; err != nil {
		return fmt.Errorf("checking tasks of user %s: %w", userID, err)
	}
	if assigned > 0 {
		return fmt.Errorf("user %s still has %d assigned tasks: %w", userID, assigned, ErrInvalidValue)
	}

	res := s.db.Delete(&model.User{}, "id = ?", userID)
	if res.Error != nil {
		return fmt.Errorf("deleting user %s: %w", userID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	log.Printf("[DeleteUser] User %s deleted by %s", userID, actor.Role)
	return nil
}

func (s *UserService) GetUser(userID string) (*model.User, error) {
	var user model.User
	if err := s.db.First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching user %s: %w", userID, err)
	}
	return &user, nil
}

// ListUsers returns the team with normalized roles. Tokens are not
// redacted here; the controller shapes the response.
func (s *UserService) ListUsers() ([]model.User, error) {
	var users []model.User
	if err := s.db.Order("name asc").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	for i := range users {
		users[i].Role = model.NormalizeRole(users[i].Role)
	}
	return users, nil
}
