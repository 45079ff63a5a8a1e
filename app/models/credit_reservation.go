package models

import "time"

const (
	ReservationStatusHeld      = "held"
	ReservationStatusFinalized = "finalized"
	ReservationStatusReleased  = "released"
)

// CreditReservation is a provisional hold taken from a user's balance while a
// generation job is in flight. Exactly one of finalize/release ends the hold;
// both transitions are conditional on status=held so redelivered callbacks
// cannot double-spend or double-refund.
type CreditReservation struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Status    string    `gorm:"type:varchar(20);not null;default:'held';index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
