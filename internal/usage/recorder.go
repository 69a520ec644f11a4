package usage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lootmore/lootmore-server/internal/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// recordTimeout bounds the insert so a slow database cannot hold a finished
// request open.
const recordTimeout = 5 * time.Second

// Event describes the outcome of one inbound request.
type Event struct {
	TokenID *uint64 // Resolved token ID; nil when auth failed first.

	Game          string // Game label from the request payload.
	ClientVersion string // Client version from the request payload.
	RequestIP     string // Remote address.

	RequestedAt time.Time // When the request arrived.

	Status    string // ok, unauthorized, over_quota or error.
	ErrorCode string // Short machine-readable code for failures.
	ErrorMsg  string // Human-readable failure detail.

	LatencyMs  int // Total handling latency; negative omits the column.
	TextLength int // Generated text length; negative omits the column.
}

// Recorder appends usage events. One event is written per inbound request no
// matter which branch the request took; a failure to record is logged and
// never alters the response already decided for the caller.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder backed by GORM.
func NewRecorder(db *gorm.DB) *Recorder { return &Recorder{db: db} }

// Record persists one usage event. The insert runs on a detached context so
// it still lands when the request context is already canceled.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.db == nil {
		return
	}

	dbCtx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	requestedAt := event.RequestedAt
	if requestedAt.IsZero() {
		requestedAt = time.Now()
	}

	row := models.UsageEvent{
		TokenID:       event.TokenID,
		Game:          event.Game,
		ClientVersion: event.ClientVersion,
		RequestIP:     event.RequestIP,
		RequestedAt:   requestedAt.UTC(),
		Status:        event.Status,
		ErrorCode:     event.ErrorCode,
		ErrorDetail:   buildErrorDetail(event),
		CreatedAt:     time.Now().UTC(),
	}
	if event.LatencyMs >= 0 {
		latency := event.LatencyMs
		row.LatencyMs = &latency
	}
	if event.TextLength >= 0 {
		length := event.TextLength
		row.TextLength = &length
	}

	if errCreate := r.db.WithContext(dbCtx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).Warn("usage recorder: failed to persist usage event")
	}
}

// buildErrorDetail serializes failure context into the JSON detail column.
func buildErrorDetail(event Event) datatypes.JSON {
	if event.ErrorMsg == "" {
		return nil
	}
	detail := map[string]string{"message": event.ErrorMsg}
	data, errMarshal := json.Marshal(detail)
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(data)
}
