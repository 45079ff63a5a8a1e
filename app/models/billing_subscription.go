package models

import "time"

// Billing provider constants used across billing-related models.
const (
	BillingProviderStripe = "stripe"
)

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusExpired    = "expired"
	BillingStatusPaused     = "paused"
)

// BillingSubscription mirrors the payment provider's subscription state for a
// user. Owned exclusively by the billing sync service. EventTimestamp is the
// provider-side event time of the last applied update; writes are
// last-writer-wins on that timestamp, never on delivery order, because the
// provider redelivers events out of order.
type BillingSubscription struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	UserID                 uint      `gorm:"not null;index" json:"user_id"`
	Provider               string    `gorm:"type:varchar(20);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderCustomerID     string    `gorm:"type:varchar(191);not null;index" json:"provider_customer_id"`
	ProviderSubscriptionID string    `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	ProductID              string    `gorm:"type:varchar(191);not null" json:"product_id"`
	Status                 string    `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	EventTimestamp         time.Time `gorm:"not null;index" json:"event_timestamp"`
	RawPayloadJSON         string    `gorm:"type:longtext" json:"raw_payload_json"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
