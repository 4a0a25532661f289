package services

import (
	"errors"
	"fmt"
	"log"

	model "github.com/sahilkadam/complianceos/models"
	"gorm.io/gorm"
)

// Actor is the resolved identity every operation runs as. Role is always
// a current role value; legacy values are normalized during resolution
// and never escape this package boundary.
type Actor struct {
	ID    string
	Name  string
	Email string
	Role  string
}

// IdentityProvider resolves a presented credential to an actor.
type IdentityProvider interface {
	Resolve(credential string) (*Actor, error)
}

// SystemUserEmail identifies the seeded scheduler account the start-date
// sweep runs as.
const SystemUserEmail = "scheduler@complianceos.local"

// IdentityService resolves API tokens against the users table.
type IdentityService struct {
	db *gorm.DB
}

func NewIdentityService(db *gorm.DB) *IdentityService {
	return &IdentityService{db: db}
}

// Resolve looks the credential up and returns the actor with a normalized
// role. An empty or unknown credential is ErrUnauthenticated.
func (s *IdentityService) Resolve(credential string) (*Actor, error) {
	if credential == "" {
		return nil, fmt.Errorf("missing credential: %w", ErrUnauthenticated)
	}
	var user model.User
	if err := s.db.Where("api_token = ?", credential).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("unknown credential: %w", ErrUnauthenticated)
		}
		log.Printf("[Resolve] Error looking up credential: %v", err)
		return nil, fmt.Errorf("resolving credential: %w", err)
	}
	return &Actor{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  model.NormalizeRole(user.Role),
	}, nil
}

// SystemActor returns the scheduler identity used by scheduled jobs. It
// carries PARTNER so sweep-originated writes pass the same gate as any
// other mutation.
func (s *IdentityService) SystemActor() (*Actor, error) {
	var user model.User
	if err := s.db.Where("email = ?", SystemUserEmail).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("system user %s: %w", SystemUserEmail, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching system user: %w", err)
	}
	return &Actor{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Role:  model.NormalizeRole(user.Role),
	}, nil
}
