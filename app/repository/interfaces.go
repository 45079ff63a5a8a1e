package repository

import (
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	GetByID(id uint) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
}

// RechargeRepository defines the interface for recharge intent persistence
type RechargeRepository interface {
	Create(recharge *models.Recharge) error
	GetByID(id uint) (*models.Recharge, error)
	GetByProviderIntentID(providerIntentID string) (*models.Recharge, error)
	SetProviderIntentID(id uint, providerIntentID string) error
	MarkPaid(id uint) (bool, error)
	MarkFailed(id uint, reason string) (bool, error)
	ListStuckPending(createdBefore time.Time) ([]models.Recharge, error)
	ListByUser(userID uint, offset, limit int) ([]models.Recharge, error)
}

// GenerationRepository defines the interface for generation job persistence
type GenerationRepository interface {
	Create(gen *models.Generation) error
	GetByID(id uint) (*models.Generation, error)
	GetByUUID(uuid string) (*models.Generation, error)
	ListByUser(userID uint, offset, limit int) ([]models.Generation, error)
	// TransitionStatus performs a conditional status update and returns
	// whether a row matched. fields are extra columns set alongside the
	// status and status_changed_at.
	TransitionStatus(id uint, fromStatuses []string, toStatus string, fields map[string]interface{}) (bool, error)
	ListStuckActive(changedBefore time.Time) ([]models.Generation, error)
}

// CreditCostRepository defines the read interface for the consumption config
type CreditCostRepository interface {
	GetActiveByActionType(actionType string) (*models.CreditCost, error)
	ListActive() ([]models.CreditCost, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	User       UserRepository
	Recharge   RechargeRepository
	Generation GenerationRepository
	CreditCost CreditCostRepository
}

// NewRepositories creates all repository instances with the given database connection
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:       NewUserRepository(db),
		Recharge:   NewRechargeRepository(db),
		Generation: NewGenerationRepository(db),
		CreditCost: NewCreditCostRepository(db),
	}
}
