package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/lootmore/lootmore-server/internal/config"
	"github.com/lootmore/lootmore-server/internal/db"
	"github.com/lootmore/lootmore-server/internal/generator"
	"github.com/lootmore/lootmore-server/internal/models"
	"github.com/lootmore/lootmore-server/internal/quota"
	"github.com/lootmore/lootmore-server/internal/tokens"
	"github.com/lootmore/lootmore-server/internal/usage"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// failingGenerator simulates an upstream outage.
type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, generator.Request) (generator.Callout, error) {
	return generator.Callout{}, errors.New("upstream unavailable")
}

func testConfig() *config.Config {
	return &config.Config{
		TokenSalt: "callout-test-salt",
		Admin: config.AdminConfig{
			Password:  "admin-secret",
			JWTSecret: "callout-test-jwt-secret",
		},
		Quota: config.QuotaConfig{DefaultDaily: 200},
	}
}

func openHTTPTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:httpapi_%d?mode=memory&cache=shared", time.Now().UnixNano())
	conn, errOpen := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open db: %v", errOpen)
	}
	sqlDB, errSQL := conn.DB()
	if errSQL != nil {
		t.Fatalf("sql db: %v", errSQL)
	}
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func newTestEngine(t *testing.T, gen generator.Generator) (*gin.Engine, *gorm.DB, *tokens.Service) {
	t.Helper()
	conn := openHTTPTestDB(t)
	cfg := testConfig()
	svc, errSvc := tokens.NewService(conn, cfg.TokenSalt, cfg.Quota.DefaultDaily)
	if errSvc != nil {
		t.Fatalf("new service: %v", errSvc)
	}
	ledger := quota.NewLedger(conn, svc)
	recorder := usage.NewRecorder(conn)
	engine := NewEngine(cfg, conn, svc, ledger, gen, recorder)
	return engine, conn, svc
}

func postCallout(engine *gin.Engine, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/callout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func countEvents(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var count int64
	if errCount := conn.Model(&models.UsageEvent{}).Count(&count).Error; errCount != nil {
		t.Fatalf("count events: %v", errCount)
	}
	return count
}

func lastEvent(t *testing.T, conn *gorm.DB) models.UsageEvent {
	t.Helper()
	var event models.UsageEvent
	if errFind := conn.Order("id desc").First(&event).Error; errFind != nil {
		t.Fatalf("load event: %v", errFind)
	}
	return event
}

func TestCalloutSuccess(t *testing.T) {
	engine, conn, svc := newTestEngine(t, generator.Static{Text: "Two pushing B site."})
	token, raw, errIssue := svc.Issue(context.Background(), tokens.IssueOptions{})
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}

	rec := postCallout(engine, raw, `{"image_b64":"aGVsbG8=","game":"tarkov","client_version":"1.4.2"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Text string `json:"text"`
	}
	if errDecode := json.Unmarshal(rec.Body.Bytes(), &resp); errDecode != nil {
		t.Fatalf("decode response: %v", errDecode)
	}
	if resp.Text != "Two pushing B site." {
		t.Fatalf("unexpected text %q", resp.Text)
	}

	event := lastEvent(t, conn)
	if event.Status != models.StatusOK {
		t.Fatalf("expected ok status, got %q", event.Status)
	}
	if event.TokenID == nil || *event.TokenID != token.ID {
		t.Fatalf("expected event attributed to token %d, got %v", token.ID, event.TokenID)
	}
	if event.Game != "tarkov" {
		t.Fatalf("unexpected game %q", event.Game)
	}
	if event.TextLength == nil || *event.TextLength != len(resp.Text) {
		t.Fatalf("unexpected text length %v", event.TextLength)
	}
	if event.LatencyMs == nil {
		t.Fatal("expected latency to be recorded")
	}

	var stored models.Token
	if errFind := conn.First(&stored, token.ID).Error; errFind != nil {
		t.Fatalf("reload token: %v", errFind)
	}
	if stored.UsedToday != 1 {
		t.Fatalf("expected used_today 1, got %d", stored.UsedToday)
	}
	if stored.LastSeenAt == nil {
		t.Fatal("expected last_seen_at to be set")
	}
}

func TestCalloutMissingToken(t *testing.T) {
	engine, conn, _ := newTestEngine(t, generator.Static{})

	rec := postCallout(engine, "", `{"image_b64":"aGVsbG8=","game":"tarkov"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	event := lastEvent(t, conn)
	if event.Status != models.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %q", event.Status)
	}
	if event.TokenID != nil {
		t.Fatalf("expected no token attribution, got %v", *event.TokenID)
	}
}

func TestCalloutUnknownToken(t *testing.T) {
	engine, conn, _ := newTestEngine(t, generator.Static{})

	rec := postCallout(engine, "lm_alpha_not-a-real-token", `{"image_b64":"aGVsbG8="}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if event := lastEvent(t, conn); event.Status != models.StatusUnauthorized {
		t.Fatalf("expected unauthorized status, got %q", event.Status)
	}
}

func TestCalloutOverQuota(t *testing.T) {
	engine, conn, svc := newTestEngine(t, generator.Static{})
	token, raw, errIssue := svc.Issue(context.Background(), tokens.IssueOptions{DailyQuota: 1})
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}

	if rec := postCallout(engine, raw, `{"image_b64":"aGVsbG8="}`); rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}
	rec := postCallout(engine, raw, `{"image_b64":"aGVsbG8="}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", rec.Code)
	}

	event := lastEvent(t, conn)
	if event.Status != models.StatusOverQuota {
		t.Fatalf("expected over_quota status, got %q", event.Status)
	}
	if event.TokenID == nil || *event.TokenID != token.ID {
		t.Fatalf("expected rejection attributed to token %d, got %v", token.ID, event.TokenID)
	}

	var stored models.Token
	if errFind := conn.First(&stored, token.ID).Error; errFind != nil {
		t.Fatalf("reload token: %v", errFind)
	}
	if stored.UsedToday != 1 {
		t.Fatalf("rejection must not consume quota, used_today=%d", stored.UsedToday)
	}
}

func TestCalloutGeneratorFailureConsumesQuota(t *testing.T) {
	engine, conn, svc := newTestEngine(t, failingGenerator{})
	token, raw, errIssue := svc.Issue(context.Background(), tokens.IssueOptions{DailyQuota: 5})
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}

	rec := postCallout(engine, raw, `{"image_b64":"aGVsbG8="}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}

	event := lastEvent(t, conn)
	if event.Status != models.StatusError {
		t.Fatalf("expected error status, got %q", event.Status)
	}
	if event.ErrorCode != "502" {
		t.Fatalf("expected error code 502, got %q", event.ErrorCode)
	}
	if event.TokenID == nil || *event.TokenID != token.ID {
		t.Fatalf("expected event attributed to token %d, got %v", token.ID, event.TokenID)
	}

	var stored models.Token
	if errFind := conn.First(&stored, token.ID).Error; errFind != nil {
		t.Fatalf("reload token: %v", errFind)
	}
	if stored.UsedToday != 1 {
		t.Fatalf("admitted request keeps its quota slot, used_today=%d", stored.UsedToday)
	}
}

func TestCalloutMalformedBody(t *testing.T) {
	engine, conn, _ := newTestEngine(t, generator.Static{})

	req := httptest.NewRequest(http.MethodPost, "/callout", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if event := lastEvent(t, conn); event.Status != models.StatusError {
		t.Fatalf("expected error status, got %q", event.Status)
	}
}

func TestCalloutRecordsExactlyOneEventPerRequest(t *testing.T) {
	engine, conn, svc := newTestEngine(t, generator.Static{})
	_, raw, errIssue := svc.Issue(context.Background(), tokens.IssueOptions{DailyQuota: 2})
	if errIssue != nil {
		t.Fatalf("issue: %v", errIssue)
	}

	// 200, 200, 429, 401, 400: five requests, five audit rows.
	postCallout(engine, raw, `{"image_b64":"aGVsbG8="}`)
	postCallout(engine, raw, `{"image_b64":"aGVsbG8="}`)
	postCallout(engine, raw, `{"image_b64":"aGVsbG8="}`)
	postCallout(engine, "", `{"image_b64":"aGVsbG8="}`)
	postCallout(engine, raw, `{broken`)

	if count := countEvents(t, conn); count != 5 {
		t.Fatalf("expected 5 usage events, got %d", count)
	}
}

func TestHealthz(t *testing.T) {
	engine, _, _ := newTestEngine(t, generator.Static{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer lm_alpha_abc", "lm_alpha_abc"},
		{"bearer lm_alpha_abc", "lm_alpha_abc"},
		{"  Bearer   lm_alpha_abc  ", "lm_alpha_abc"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := BearerToken(tc.header); got != tc.want {
			t.Fatalf("BearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}
