package billing

import (
	"time"

	"github.com/RetroPix/RetroPix/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	UpsertSubscriptionIfNewer(sub *models.BillingSubscription) (bool, error)
	ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
	RecordWebhookFailure(id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// UpsertSubscriptionIfNewer writes the subscription using last-writer-wins on
// event_timestamp. Returns false when the incoming event is stale, i.e. the
// stored row already reflects a later provider-side state.
func (r *gormRepository) UpsertSubscriptionIfNewer(sub *models.BillingSubscription) (bool, error) {
	applied := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.BillingSubscription{}).
			Where("provider = ? AND provider_subscription_id = ? AND event_timestamp < ?",
				sub.Provider, sub.ProviderSubscriptionID, sub.EventTimestamp).
			Updates(map[string]interface{}{
				"user_id":              sub.UserID,
				"provider_customer_id": sub.ProviderCustomerID,
				"product_id":           sub.ProductID,
				"status":               sub.Status,
				"event_timestamp":      sub.EventTimestamp,
				"raw_payload_json":     sub.RawPayloadJSON,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			applied = true
			return nil
		}

		// No newer row was updated: either the record does not exist yet or
		// the incoming event is stale. Insert-if-absent decides which.
		ins := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "provider"},
				{Name: "provider_subscription_id"},
			},
			DoNothing: true,
		}).Create(sub)
		if ins.Error != nil {
			return ins.Error
		}
		applied = ins.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if applied {
		// Ensure ID is populated after upsert.
		err = r.db.Where("provider = ? AND provider_subscription_id = ?", sub.Provider, sub.ProviderSubscriptionID).
			First(sub).Error
	}
	return applied, err
}

func (r *gormRepository) ListSubscriptionsByUser(userID uint) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.Where("user_id = ?", userID).Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// RecordWebhookFailure stores the error from a failed apply without setting
// processed_at. The event row stays eligible for re-apply, so the processor's
// redelivery retries it instead of hitting the duplicate gate.
func (r *gormRepository) RecordWebhookFailure(id uint, processingError string) error {
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).
		Update("processing_error", processingError).Error
}
