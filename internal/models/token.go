package models

import "time"

// Tier labels an issued token. It is a closed set; Banned tokens fail every
// auth check regardless of quota state.
type Tier string

// Token tiers.
const (
	TierAlpha    Tier = "alpha"
	TierFounder  Tier = "founder"
	TierStandard Tier = "standard"
	TierBanned   Tier = "banned"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	switch t {
	case TierAlpha, TierFounder, TierStandard, TierBanned:
		return true
	}
	return false
}

// Token represents an issued bearer credential. Only the salted hash of the
// raw token is ever persisted; the raw value is returned once at issuance.
type Token struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TokenHash string `gorm:"type:text;not null;uniqueIndex"` // SHA-256(salt || raw token), hex.

	Tier   Tier `gorm:"type:text;not null;default:'alpha'"` // Token tier label.
	Active bool `gorm:"not null;default:true"`              // Whether the token may authenticate.

	DailyQuota int `gorm:"not null"`           // Requests allowed per UTC day.
	UsedToday  int `gorm:"not null;default:0"` // Requests admitted in the current window.

	QuotaResetAt *time.Time // Start of the next counting window (UTC midnight).

	LastSeenAt *time.Time // Last admitted request time.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// Usable reports whether the token may pass an auth check at all.
func (t *Token) Usable() bool {
	return t.Active && t.Tier != TierBanned
}
