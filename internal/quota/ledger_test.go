package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lootmore/lootmore-server/internal/db"
	"github.com/lootmore/lootmore-server/internal/models"
	"github.com/lootmore/lootmore-server/internal/tokens"
	"gorm.io/gorm"
)

func openLedgerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errSQL := conn.DB()
	if errSQL != nil {
		t.Fatalf("sql db: %v", errSQL)
	}
	// A single connection serializes transactions the way a file-backed
	// database's write lock would.
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newLedgerFixture(t *testing.T) (*gorm.DB, *tokens.Service, *Ledger) {
	t.Helper()
	conn := openLedgerTestDB(t)
	svc, errNew := tokens.NewService(conn, "ledger-test-salt", 200)
	if errNew != nil {
		t.Fatalf("new service: %v", errNew)
	}
	return conn, svc, NewLedger(conn, svc)
}

func issueWithQuota(t *testing.T, svc *tokens.Service, quota int) (models.Token, string) {
	t.Helper()
	token, raw, errIssue := svc.Issue(context.Background(), tokens.IssueOptions{DailyQuota: quota})
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}
	return token, raw
}

func reloadToken(t *testing.T, conn *gorm.DB, id uint64) models.Token {
	t.Helper()
	var token models.Token
	if errFind := conn.First(&token, id).Error; errFind != nil {
		t.Fatalf("reload token: %v", errFind)
	}
	return token
}

func TestAdmitUnknownTokenUnauthorized(t *testing.T) {
	_, _, ledger := newLedgerFixture(t)

	if _, errAdmit := ledger.Admit(context.Background(), "lm_alpha_nonexistent"); !errors.Is(errAdmit, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", errAdmit)
	}
	if _, errAdmit := ledger.Admit(context.Background(), ""); !errors.Is(errAdmit, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for empty token, got %v", errAdmit)
	}
}

func TestAdmitBannedTokenUnauthorized(t *testing.T) {
	conn, svc, ledger := newLedgerFixture(t)
	token, raw := issueWithQuota(t, svc, 5)

	if errBan := svc.Ban(context.Background(), token.ID); errBan != nil {
		t.Fatalf("ban: %v", errBan)
	}
	if _, errAdmit := ledger.Admit(context.Background(), raw); !errors.Is(errAdmit, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized after ban, got %v", errAdmit)
	}
	if got := reloadToken(t, conn, token.ID); got.UsedToday != 0 {
		t.Fatalf("rejection consumed quota: used_today=%d", got.UsedToday)
	}
}

func TestAdmitConsumesQuotaThenRejects(t *testing.T) {
	conn, svc, ledger := newLedgerFixture(t)
	token, raw := issueWithQuota(t, svc, 2)

	for i := 0; i < 2; i++ {
		admitted, errAdmit := ledger.Admit(context.Background(), raw)
		if errAdmit != nil {
			t.Fatalf("admit %d: %v", i, errAdmit)
		}
		if admitted.UsedToday != i+1 {
			t.Fatalf("admit %d: used_today=%d", i, admitted.UsedToday)
		}
	}

	if _, errAdmit := ledger.Admit(context.Background(), raw); !errors.Is(errAdmit, ErrOverQuota) {
		t.Fatalf("expected ErrOverQuota, got %v", errAdmit)
	}
	got := reloadToken(t, conn, token.ID)
	if got.UsedToday != 2 {
		t.Fatalf("rejection consumed quota: used_today=%d", got.UsedToday)
	}
	if got.LastSeenAt == nil {
		t.Fatalf("last_seen_at not recorded")
	}
}

func TestAdmitZeroQuotaAlwaysRejects(t *testing.T) {
	conn, svc, ledger := newLedgerFixture(t)
	token, raw := issueWithQuota(t, svc, 1)
	if errUpdate := svc.UpdateQuota(context.Background(), token.ID, 0); errUpdate != nil {
		t.Fatalf("update quota: %v", errUpdate)
	}

	if _, errAdmit := ledger.Admit(context.Background(), raw); !errors.Is(errAdmit, ErrOverQuota) {
		t.Fatalf("expected ErrOverQuota, got %v", errAdmit)
	}
	if got := reloadToken(t, conn, token.ID); got.UsedToday != 0 {
		t.Fatalf("used_today=%d", got.UsedToday)
	}
}

func TestResetFiresBeforeAdmitCheck(t *testing.T) {
	conn, svc, ledger := newLedgerFixture(t)
	token, raw := issueWithQuota(t, svc, 3)

	yesterday := time.Now().UTC().Add(-24 * time.Hour)
	if errSeed := conn.Model(&models.Token{}).Where("id = ?", token.ID).Updates(map[string]any{
		"used_today":     3,
		"quota_reset_at": yesterday,
	}).Error; errSeed != nil {
		t.Fatalf("seed exhausted token: %v", errSeed)
	}

	admitted, errAdmit := ledger.Admit(context.Background(), raw)
	if errAdmit != nil {
		t.Fatalf("expected reset + admit, got %v", errAdmit)
	}
	if admitted.UsedToday != 1 {
		t.Fatalf("used_today after reset = %d, want 1", admitted.UsedToday)
	}

	got := reloadToken(t, conn, token.ID)
	if got.QuotaResetAt == nil {
		t.Fatalf("quota_reset_at not set")
	}
	want := NextResetTime(time.Now().UTC())
	if !got.QuotaResetAt.UTC().Equal(want) {
		t.Fatalf("quota_reset_at = %v, want %v", got.QuotaResetAt.UTC(), want)
	}
}

func TestQuotaLoweredBelowUsedRejectsImmediately(t *testing.T) {
	_, svc, ledger := newLedgerFixture(t)
	token, raw := issueWithQuota(t, svc, 10)

	for i := 0; i < 5; i++ {
		if _, errAdmit := ledger.Admit(context.Background(), raw); errAdmit != nil {
			t.Fatalf("admit %d: %v", i, errAdmit)
		}
	}
	if errUpdate := svc.UpdateQuota(context.Background(), token.ID, 3); errUpdate != nil {
		t.Fatalf("update quota: %v", errUpdate)
	}

	if _, errAdmit := ledger.Admit(context.Background(), raw); !errors.Is(errAdmit, ErrOverQuota) {
		t.Fatalf("expected ErrOverQuota after lowering quota, got %v", errAdmit)
	}
}

func TestAdmitRaceAdmitsExactlyRemaining(t *testing.T) {
	conn, svc, ledger := newLedgerFixture(t)
	token, raw := issueWithQuota(t, svc, 3)

	const attempts = 5
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = ledger.Admit(context.Background(), raw)
		}(i)
	}
	wg.Wait()

	admitted, overQuota := 0, 0
	for _, errAdmit := range results {
		switch {
		case errAdmit == nil:
			admitted++
		case errors.Is(errAdmit, ErrOverQuota):
			overQuota++
		default:
			t.Fatalf("unexpected admit error: %v", errAdmit)
		}
	}
	if admitted != 3 || overQuota != 2 {
		t.Fatalf("admitted=%d over_quota=%d, want 3/2", admitted, overQuota)
	}

	got := reloadToken(t, conn, token.ID)
	if got.UsedToday != 3 {
		t.Fatalf("used_today=%d, want 3", got.UsedToday)
	}
	if got.UsedToday > got.DailyQuota {
		t.Fatalf("invariant violated: used_today=%d > daily_quota=%d", got.UsedToday, got.DailyQuota)
	}
}

func TestNextResetTimeIsUTCMidnight(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	now := time.Date(2026, 3, 14, 2, 30, 0, 0, loc) // 2026-03-13 17:30 UTC
	got := NextResetTime(now)
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("next reset = %v, want %v", got, want)
	}
}
