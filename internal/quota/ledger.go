package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	dbutil "github.com/lootmore/lootmore-server/internal/db"
	"github.com/lootmore/lootmore-server/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Admission errors. Unknown, revoked, inactive and banned tokens all surface
// ErrUnauthorized so callers cannot probe for token existence.
var (
	// ErrUnauthorized indicates the raw token resolved to no usable record.
	ErrUnauthorized = errors.New("invalid or inactive token")
	// ErrOverQuota indicates a valid token with an exhausted daily counter.
	ErrOverQuota = errors.New("daily quota exceeded")
)

// Hasher computes the persisted hash for a raw token. *tokens.Service
// satisfies this, keeping issuance and lookup on the same primitive.
type Hasher interface {
	Hash(raw string) string
}

// Ledger performs the reset-then-admit decision for inbound requests. The
// whole sequence runs as one transaction per token so that concurrent admits
// can never push used_today past daily_quota.
type Ledger struct {
	db     *gorm.DB
	hasher Hasher

	now func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(db *gorm.DB, hasher Hasher) *Ledger {
	return &Ledger{db: db, hasher: hasher, now: func() time.Time { return time.Now().UTC() }}
}

// NextResetTime returns the start of the counting window after now: the next
// UTC midnight. The serving host's local clock never participates.
func NextResetTime(now time.Time) time.Time {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.AddDate(0, 0, 1)
}

// Admit authenticates the raw token and consumes one unit of daily quota.
// Rejections do not consume quota. On success the returned token reflects the
// state after the admit committed; on ErrOverQuota it identifies the token
// whose counter is exhausted.
func (l *Ledger) Admit(ctx context.Context, rawToken string) (models.Token, error) {
	raw := strings.TrimSpace(rawToken)
	if raw == "" {
		return models.Token{}, ErrUnauthorized
	}
	hash := l.hasher.Hash(raw)

	var admitted models.Token
	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if !dbutil.IsSQLite(tx) {
			// Row lock serializes concurrent admits and admin mutations on
			// the same token. SQLite has a single writer already.
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}

		var token models.Token
		errFind := query.Where("token_hash = ?", hash).First(&token).Error
		switch {
		case errFind == nil:
		case errors.Is(errFind, gorm.ErrRecordNotFound):
			return ErrUnauthorized
		default:
			return errFind
		}

		if !token.Usable() {
			return ErrUnauthorized
		}

		now := l.now().UTC()
		if token.QuotaResetAt == nil || !now.Before(*token.QuotaResetAt) {
			next := NextResetTime(now)
			res := tx.Model(&models.Token{}).
				Where("id = ? AND (quota_reset_at IS NULL OR quota_reset_at <= ?)", token.ID, now).
				Updates(map[string]any{
					"used_today":     0,
					"quota_reset_at": next,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				token.UsedToday = 0
				token.QuotaResetAt = &next
			} else {
				// Another transaction rolled the window first; re-read.
				if errReload := tx.First(&token, token.ID).Error; errReload != nil {
					return errReload
				}
			}
		}

		if token.UsedToday >= token.DailyQuota {
			admitted = token
			return ErrOverQuota
		}

		// The counter guard in the WHERE clause keeps the increment correct
		// even without the row lock.
		res := tx.Model(&models.Token{}).
			Where("id = ? AND used_today < daily_quota", token.ID).
			Updates(map[string]any{
				"used_today":   gorm.Expr("used_today + 1"),
				"last_seen_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			admitted = token
			return ErrOverQuota
		}

		token.UsedToday++
		token.LastSeenAt = &now
		admitted = token
		return nil
	})
	if errTx != nil {
		switch {
		case errors.Is(errTx, ErrOverQuota):
			// The rejected token's state is returned so callers can attribute
			// the rejection in the usage log.
			return admitted, errTx
		case errors.Is(errTx, ErrUnauthorized):
			return models.Token{}, errTx
		default:
			return models.Token{}, fmt.Errorf("quota: admit: %w", errTx)
		}
	}
	return admitted, nil
}
