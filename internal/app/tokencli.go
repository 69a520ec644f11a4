package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/db"
	"github.com/lootmore/lootmore-server/internal/models"
	"github.com/lootmore/lootmore-server/internal/tokens"
	"github.com/lootmore/lootmore-server/internal/util"
)

func openService(cfg *config.Config) (*tokens.Service, error) {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, errMigrate
	}
	return tokens.NewService(conn, cfg.TokenSalt, cfg.Quota.DefaultDaily)
}

// TokenCreate issues a token and prints the raw value. The raw token is shown
// exactly once; only its hash is stored.
func TokenCreate(ctx context.Context, cfg *config.Config, quota int, tier string) error {
	svc, errOpen := openService(cfg)
	if errOpen != nil {
		return errOpen
	}
	opts := tokens.IssueOptions{DailyQuota: quota}
	if tier != "" {
		opts.Tier = models.Tier(tier)
	}
	record, raw, errIssue := svc.Issue(ctx, opts)
	if errIssue != nil {
		return errIssue
	}
	fmt.Printf("token: %s\n", raw)
	fmt.Printf("id=%d tier=%s quota=%d\n", record.ID, record.Tier, record.DailyQuota)
	fmt.Println("store the token now; it cannot be recovered later")
	return nil
}

// TokenList prints every token with its quota state. Hashes are truncated.
func TokenList(ctx context.Context, cfg *config.Config) error {
	svc, errOpen := openService(cfg)
	if errOpen != nil {
		return errOpen
	}
	list, errList := svc.List(ctx)
	if errList != nil {
		return errList
	}
	if len(list) == 0 {
		fmt.Println("no tokens")
		return nil
	}
	fmt.Printf("%-6s %-10s %-8s %-12s %-14s %s\n", "ID", "TIER", "ACTIVE", "USED/QUOTA", "HASH", "CREATED")
	for _, t := range list {
		fmt.Printf("%-6d %-10s %-8t %-12s %-14s %s\n",
			t.ID, t.Tier, t.Active,
			fmt.Sprintf("%d/%d", t.UsedToday, t.DailyQuota),
			util.HideToken(t.TokenHash),
			t.CreatedAt.UTC().Format("2006-01-02 15:04"),
		)
	}
	return nil
}

// TokenRevoke deletes a token by id.
func TokenRevoke(ctx context.Context, cfg *config.Config, id uint64) error {
	svc, errOpen := openService(cfg)
	if errOpen != nil {
		return errOpen
	}
	if errRevoke := svc.Revoke(ctx, id); errRevoke != nil {
		if errors.Is(errRevoke, tokens.ErrNotFound) {
			return fmt.Errorf("token %d not found", id)
		}
		return errRevoke
	}
	fmt.Printf("token %d revoked\n", id)
	return nil
}
