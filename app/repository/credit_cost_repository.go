package repository

import (
	"github.com/RetroPix/RetroPix/app/models"
	"gorm.io/gorm"
)

// creditCostRepository implements the CreditCostRepository interface
type creditCostRepository struct {
	db *gorm.DB
}

// NewCreditCostRepository creates a new credit cost repository instance
func NewCreditCostRepository(db *gorm.DB) CreditCostRepository {
	return &creditCostRepository{db: db}
}

func (r *creditCostRepository) GetActiveByActionType(actionType string) (*models.CreditCost, error) {
	var cost models.CreditCost
	err := r.db.Where("action_type = ? AND is_active = ?", actionType, true).First(&cost).Error
	if err != nil {
		return nil, err
	}
	return &cost, nil
}

func (r *creditCostRepository) ListActive() ([]models.CreditCost, error) {
	var costs []models.CreditCost
	err := r.db.Where("is_active = ?", true).Find(&costs).Error
	return costs, err
}
