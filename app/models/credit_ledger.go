package models

import "time"

// Transaction kinds recorded in the credit audit trail.
const (
	CreditTxKindCredit  = "credit"  // credits granted (recharge, promo)
	CreditTxKindReserve = "reserve" // provisional hold for a generation job
	CreditTxKindDebit   = "debit"   // hold converted into a permanent spend
	CreditTxKindRelease = "release" // hold returned to balance
)

// CreditBalance is the per-user ledger row. It is created lazily on the first
// credit event and never deleted. Balance must never go below zero; all
// mutations happen through conditional updates inside a DB transaction.
type CreditBalance struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:ux_credit_balances_user" json:"user_id"`
	Balance   int64     `gorm:"not null;default:0" json:"balance"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// CreditTransaction is the append-only audit row written alongside every
// balance mutation. The unique (kind, source_ref) index doubles as the
// idempotency gate for credits: replaying the same source_ref is a no-op.
type CreditTransaction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	Kind          string    `gorm:"type:varchar(20);not null;index:ux_credit_transactions_kind_ref,unique,priority:1" json:"kind"`
	SourceRef     string    `gorm:"type:varchar(191);not null;index:ux_credit_transactions_kind_ref,unique,priority:2" json:"source_ref"`
	Amount        int64     `gorm:"not null" json:"amount"`
	BalanceBefore int64     `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64     `gorm:"not null" json:"balance_after"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
