package models

import "time"

// CreditCost maps an action type to the credits a generation job of that type
// consumes. Inactive rows are invisible to lookups; the state machine treats
// them as unknown action types. Administrative writes happen in the main
// application, this service only reads.
type CreditCost struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ActionType string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_credit_costs_action" json:"action_type"`
	Credits    int64     `gorm:"not null" json:"credits"`
	IsActive   bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
