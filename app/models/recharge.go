package models

import "time"

const (
	RechargeStatusPending = "pending"
	RechargeStatusPaid    = "paid"
	RechargeStatusFailed  = "failed"
)

// Recharge is one credit purchase attempt. The row is inserted in pending
// before the payment provider intent exists, so a crash between the local
// insert and the provider call leaves a recoverable pending record instead of
// an orphaned external charge. The paid transition is idempotent: the ledger
// credit keyed on the recharge id fires exactly once.
type Recharge struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UserID           uint       `gorm:"not null;index" json:"user_id"`
	Credits          int64      `gorm:"not null" json:"credits"`
	PriceCents       int64      `gorm:"not null" json:"price_cents"`
	Currency         string     `gorm:"type:varchar(8);not null" json:"currency"`
	PackageName      string     `gorm:"type:varchar(100);default:''" json:"package_name"`
	Status           string     `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProviderIntentID *string    `gorm:"type:varchar(191);default:null;uniqueIndex:ux_recharges_provider_intent" json:"provider_intent_id,omitempty"`
	FailReason       string     `gorm:"type:text" json:"fail_reason"`
	PaidAt           *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
