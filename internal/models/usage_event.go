package models

import (
	"time"

	"gorm.io/datatypes"
)

// Usage event statuses.
const (
	StatusOK           = "ok"
	StatusUnauthorized = "unauthorized"
	StatusOverQuota    = "over_quota"
	StatusError        = "error"
)

// UsageEvent is the append-only audit record for a single request attempt.
// Rows are never updated after creation. Revoked tokens keep their history
// with token_id nulled out.
type UsageEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	TokenID *uint64 `gorm:"index"`                                       // Related token ID; nil when auth never resolved one.
	Token   *Token  `gorm:"foreignKey:TokenID;constraint:OnDelete:SET NULL"` // Associated token record.

	Game          string `gorm:"type:text"` // Game label supplied by the client.
	ClientVersion string `gorm:"type:text"` // Client version string.
	RequestIP     string `gorm:"type:text"` // Remote address of the request.

	RequestedAt time.Time `gorm:"not null;index"` // Request timestamp (UTC).

	Status    string `gorm:"type:text;not null;index"` // ok, unauthorized, over_quota or error.
	ErrorCode string `gorm:"type:text"`                // Short machine-readable error code.

	ErrorDetail datatypes.JSON `gorm:"type:jsonb"` // Structured error detail JSON.

	LatencyMs  *int // Request latency in milliseconds.
	TextLength *int // Length of the generated callout text.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (UsageEvent) TableName() string {
	return "usage_events"
}
