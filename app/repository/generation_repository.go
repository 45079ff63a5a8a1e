package repository

import (
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"gorm.io/gorm"
)

// generationRepository implements the GenerationRepository interface
type generationRepository struct {
	db *gorm.DB
}

// NewGenerationRepository creates a new generation repository instance
func NewGenerationRepository(db *gorm.DB) GenerationRepository {
	return &generationRepository{db: db}
}

func (r *generationRepository) Create(gen *models.Generation) error {
	if gen.StatusChangedAt.IsZero() {
		gen.StatusChangedAt = time.Now()
	}
	return r.db.Create(gen).Error
}

func (r *generationRepository) GetByID(id uint) (*models.Generation, error) {
	var gen models.Generation
	if err := r.db.First(&gen, id).Error; err != nil {
		return nil, err
	}
	return &gen, nil
}

func (r *generationRepository) GetByUUID(uuid string) (*models.Generation, error) {
	var gen models.Generation
	if err := r.db.Where("uuid = ?", uuid).First(&gen).Error; err != nil {
		return nil, err
	}
	return &gen, nil
}

func (r *generationRepository) ListByUser(userID uint, offset, limit int) ([]models.Generation, error) {
	var gens []models.Generation
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&gens).Error
	return gens, err
}

// TransitionStatus performs the conditional state transition that guards the
// job state machine against racing or redelivered callbacks.
func (r *generationRepository) TransitionStatus(id uint, fromStatuses []string, toStatus string, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":            toStatus,
		"status_changed_at": time.Now(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.Model(&models.Generation{}).
		Where("id = ? AND status IN ?", id, fromStatuses).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// ListStuckActive returns non-terminal jobs whose last transition is older
// than the cutoff. Covers processing jobs with a lost callback and pending
// jobs whose dispatch never made it onto the queue; the sweeper force-fails
// both to release their holds.
func (r *generationRepository) ListStuckActive(changedBefore time.Time) ([]models.Generation, error) {
	var gens []models.Generation
	err := r.db.
		Where("status IN ? AND status_changed_at < ?",
			[]string{models.GenerationStatusPending, models.GenerationStatusProcessing}, changedBefore).
		Find(&gens).Error
	return gens, err
}
