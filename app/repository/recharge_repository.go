package repository

import (
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"gorm.io/gorm"
)

// rechargeRepository implements the RechargeRepository interface
type rechargeRepository struct {
	db *gorm.DB
}

// NewRechargeRepository creates a new recharge repository instance
func NewRechargeRepository(db *gorm.DB) RechargeRepository {
	return &rechargeRepository{db: db}
}

func (r *rechargeRepository) Create(recharge *models.Recharge) error {
	return r.db.Create(recharge).Error
}

func (r *rechargeRepository) GetByID(id uint) (*models.Recharge, error) {
	var recharge models.Recharge
	if err := r.db.First(&recharge, id).Error; err != nil {
		return nil, err
	}
	return &recharge, nil
}

func (r *rechargeRepository) GetByProviderIntentID(providerIntentID string) (*models.Recharge, error) {
	var recharge models.Recharge
	err := r.db.Where("provider_intent_id = ?", providerIntentID).First(&recharge).Error
	if err != nil {
		return nil, err
	}
	return &recharge, nil
}

func (r *rechargeRepository) SetProviderIntentID(id uint, providerIntentID string) error {
	return r.db.Model(&models.Recharge{}).
		Where("id = ?", id).
		Update("provider_intent_id", providerIntentID).Error
}

// MarkPaid transitions pending -> paid; returns false when no pending row
// matched (already paid, failed, or unknown).
func (r *rechargeRepository) MarkPaid(id uint) (bool, error) {
	now := time.Now()
	res := r.db.Model(&models.Recharge{}).
		Where("id = ? AND status = ?", id, models.RechargeStatusPending).
		Updates(map[string]interface{}{
			"status":  models.RechargeStatusPaid,
			"paid_at": &now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailed transitions pending -> failed; returns false when no pending row
// matched.
func (r *rechargeRepository) MarkFailed(id uint, reason string) (bool, error) {
	res := r.db.Model(&models.Recharge{}).
		Where("id = ? AND status = ?", id, models.RechargeStatusPending).
		Updates(map[string]interface{}{
			"status":      models.RechargeStatusFailed,
			"fail_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}

// ListStuckPending returns pending intents that never got a provider intent
// id and are older than the cutoff. These are rows abandoned between the
// local insert and the provider call.
func (r *rechargeRepository) ListStuckPending(createdBefore time.Time) ([]models.Recharge, error) {
	var recharges []models.Recharge
	err := r.db.
		Where("status = ? AND provider_intent_id IS NULL AND created_at < ?",
			models.RechargeStatusPending, createdBefore).
		Find(&recharges).Error
	return recharges, err
}

func (r *rechargeRepository) ListByUser(userID uint, offset, limit int) ([]models.Recharge, error) {
	var recharges []models.Recharge
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&recharges).Error
	return recharges, err
}
