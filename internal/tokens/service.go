package tokens

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lootmore/lootmore-server/internal/models"
	"github.com/lootmore/lootmore-server/internal/security"

	dbutil "github.com/lootmore/lootmore-server/internal/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound indicates the referenced token id does not exist.
var ErrNotFound = errors.New("token not found")

// Service issues bearer tokens and performs privileged token mutations. All
// writes to the tokens table go through this service or the quota ledger.
type Service struct {
	db           *gorm.DB
	salt         string
	defaultQuota int
}

// NewService constructs a Service. The salt is required; issuance must fail
// fast rather than silently default to an empty salt.
func NewService(db *gorm.DB, salt string, defaultQuota int) (*Service, error) {
	if db == nil {
		return nil, errors.New("tokens: nil db")
	}
	if strings.TrimSpace(salt) == "" {
		return nil, errors.New("tokens: token salt is not configured")
	}
	if defaultQuota <= 0 {
		return nil, fmt.Errorf("tokens: invalid default quota %d", defaultQuota)
	}
	return &Service{db: db, salt: salt, defaultQuota: defaultQuota}, nil
}

// Hash computes the persisted hash for a raw token.
func (s *Service) Hash(raw string) string {
	return security.HashToken(s.salt, strings.TrimSpace(raw))
}

// IssueOptions holds optional inputs for token issuance.
type IssueOptions struct {
	DailyQuota int         // Daily quota; the configured default when <= 0.
	Tier       models.Tier // Tier label; alpha when empty.
}

// Issue creates a new token row and returns the record together with the raw
// token. The raw value is never persisted and never retrievable again.
func (s *Service) Issue(ctx context.Context, opts IssueOptions) (models.Token, string, error) {
	tier := opts.Tier
	if tier == "" {
		tier = models.TierAlpha
	}
	if !tier.Valid() || tier == models.TierBanned {
		return models.Token{}, "", fmt.Errorf("tokens: invalid tier %q", tier)
	}
	quota := opts.DailyQuota
	if quota <= 0 {
		quota = s.defaultQuota
	}

	raw, errGen := security.GenerateToken(string(tier))
	if errGen != nil {
		return models.Token{}, "", fmt.Errorf("tokens: issue: %w", errGen)
	}

	token := models.Token{
		TokenHash:  s.Hash(raw),
		Tier:       tier,
		Active:     true,
		DailyQuota: quota,
		UsedToday:  0,
	}
	if errCreate := s.db.WithContext(ctx).Create(&token).Error; errCreate != nil {
		return models.Token{}, "", fmt.Errorf("tokens: issue: %w", errCreate)
	}
	return token, raw, nil
}

// Get returns the token with the given id.
func (s *Service) Get(ctx context.Context, id uint64) (models.Token, error) {
	var token models.Token
	errFind := s.db.WithContext(ctx).First(&token, id).Error
	switch {
	case errFind == nil:
		return token, nil
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		return models.Token{}, ErrNotFound
	default:
		return models.Token{}, fmt.Errorf("tokens: get: %w", errFind)
	}
}

// List returns all tokens ordered by id.
func (s *Service) List(ctx context.Context) ([]models.Token, error) {
	var out []models.Token
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; errFind != nil {
		return nil, fmt.Errorf("tokens: list: %w", errFind)
	}
	return out, nil
}

// Revoke hard-deletes the token row. Dependent usage events keep their rows
// with the token reference nulled. Revoking an unknown or already-revoked id
// reports ErrNotFound.
func (s *Service) Revoke(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&models.Token{}, id)
	if res.Error != nil {
		return fmt.Errorf("tokens: revoke: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Rotate replaces the token hash in place and returns the new raw token.
// Quota state is untouched; the previous raw token stops authenticating the
// moment the transaction commits.
func (s *Service) Rotate(ctx context.Context, id uint64) (string, error) {
	var raw string
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx
		if !dbutil.IsSQLite(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var token models.Token
		if errFind := query.First(&token, id).Error; errFind != nil {
			if errors.Is(errFind, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return errFind
		}

		newRaw, errGen := security.GenerateToken(string(token.Tier))
		if errGen != nil {
			return errGen
		}
		if errUpdate := tx.Model(&models.Token{}).
			Where("id = ?", token.ID).
			Update("token_hash", s.Hash(newRaw)).Error; errUpdate != nil {
			return errUpdate
		}
		raw = newRaw
		return nil
	})
	if errTx != nil {
		if errors.Is(errTx, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("tokens: rotate: %w", errTx)
	}
	return raw, nil
}

// UpdateQuota sets the daily quota without resetting used_today. Lowering the
// quota below the current counter takes effect on the next admit check.
func (s *Service) UpdateQuota(ctx context.Context, id uint64, newQuota int) error {
	if newQuota < 0 {
		return fmt.Errorf("tokens: invalid quota %d", newQuota)
	}
	res := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ?", id).
		Update("daily_quota", newQuota)
	if res.Error != nil {
		return fmt.Errorf("tokens: update quota: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Ban soft-disables the token without deleting its history.
func (s *Service) Ban(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Model(&models.Token{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"active": false,
			"tier":   models.TierBanned,
		})
	if res.Error != nil {
		return fmt.Errorf("tokens: ban: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
