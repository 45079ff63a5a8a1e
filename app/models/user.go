package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"gorm.io/gorm"
)

const (
	STATUS_ACTIVE   = "active"
	STATUS_INACTIVE = "inactive"
	STATUS_DISABLED = "disabled"
)

// User is the minimal account row this service needs. Registration, login and
// session handling live in the main application; we only resolve API keys to
// a user id and check the account is usable.
type User struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	Name       string         `gorm:"type:varchar(150)" json:"name"`
	Email      string         `gorm:"uniqueIndex;type:varchar(200)" json:"email"`
	Status     string         `gorm:"type:varchar(50);default:'active'" json:"status"`
	APIKeyHash string         `gorm:"type:varchar(64);index" json:"-"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`
}

// HashAPIKey returns the hex SHA-256 digest used to store and look up API keys.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}
