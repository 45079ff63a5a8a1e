package models

import "time"

// Generation action types. One credit cost row exists per action type.
const (
	ActionColorizeImage = "colorize_image"
	ActionRestoreImage  = "restore_image"
	ActionEnhanceImage  = "enhance_image"
	ActionColorizeVideo = "colorize_video"
	ActionRestoreVideo  = "restore_video"
	ActionEnhanceVideo  = "enhance_video"
)

const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// Generation is one AI colorization/restoration/enhancement job.
// Lifecycle: pending -> processing -> completed|failed. Every pending or
// processing row holds exactly one live credit reservation; terminal rows
// hold none. StatusChangedAt is updated on every transition so a sweeper can
// detect jobs stuck in processing and force-fail them.
type Generation struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	UUID            string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_generations_uuid" json:"uuid"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	Type            string    `gorm:"type:varchar(32);not null;index" json:"type"`
	Status          string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreditsReserved int64     `gorm:"not null" json:"credits_reserved"`
	ReservationID   string    `gorm:"type:varchar(36);not null" json:"-"`
	InputRef        string    `gorm:"type:varchar(500);not null" json:"input_ref"`
	OutputRef       string    `gorm:"type:varchar(500);default:''" json:"output_ref"`
	ErrorMsg        string    `gorm:"type:text" json:"error_msg,omitempty"`
	StatusChangedAt time.Time `gorm:"not null;index" json:"status_changed_at"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the generation reached a final state.
func (g *Generation) IsTerminal() bool {
	return g.Status == GenerationStatusCompleted || g.Status == GenerationStatusFailed
}

// IsKnownActionType reports whether t is one of the supported action types.
func IsKnownActionType(t string) bool {
	switch t {
	case ActionColorizeImage, ActionRestoreImage, ActionEnhanceImage,
		ActionColorizeVideo, ActionRestoreVideo, ActionEnhanceVideo:
		return true
	default:
		return false
	}
}
