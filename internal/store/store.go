// Package store persists the action queue and execution log, and reads the
// application records feature extraction works from.
package store

import (
	"context"
	"embed"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func migration(name string) (string, error) {
	b, err := migrationFS.ReadFile("migrations/" + name + ".sql")
	if err != nil {
		return "", eris.Wrapf(err, "store: read migration %s", name)
	}
	return string(b), nil
}

// QueueFilter narrows active queue listings.
type QueueFilter struct {
	OwnerID    string           `json:"owner_id,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	ActionType model.ActionType `json:"action_type,omitempty"`
	Limit      int              `json:"limit,omitempty"`
	Offset     int              `json:"offset,omitempty"`
}

// ExecutionStats summarises executions since a point in time.
type ExecutionStats struct {
	Executions int `json:"executions"`
	Failed     int `json:"failed"`
	Simulated  int `json:"simulated"`
	Measured   int `json:"measured"`
	Advanced   int `json:"advanced"`
}

// Store defines persistence for the engine. Every queue read treats rows
// whose expires_at is not after now as absent.
type Store interface {
	// Applications (read model for feature extraction)
	GetEntities(ctx context.Context, ids []string) (map[string]model.Entity, error)
	ListActivities(ctx context.Context, ids []string, since time.Time) (map[string][]model.Activity, error)
	ListCandidateIDs(ctx context.Context, ownerID string, limit int) ([]string, error)
	UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error)
	InsertActivities(ctx context.Context, activities []model.Activity) (int64, error)

	// Queue
	// InsertQueueEntry stores e unless an active entry holds its key. It
	// replaces an expired one. Reports whether e was stored.
	InsertQueueEntry(ctx context.Context, e *model.ActionQueueEntry, now time.Time) (bool, error)
	GetQueueEntry(ctx context.Context, id string, now time.Time) (*model.ActionQueueEntry, error)
	FindActiveEntry(ctx context.Context, key model.QueueKey, now time.Time) (*model.ActionQueueEntry, error)
	ListActiveEntries(ctx context.Context, filter QueueFilter, now time.Time) ([]model.ActionQueueEntry, error)
	ActiveKeys(ctx context.Context, ownerID string, now time.Time) (map[model.QueueKey]bool, error)
	CountActiveEntries(ctx context.Context, now time.Time) (int, error)
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error)

	// Executions
	// ConsumeEntry removes the active entry and records exec atomically.
	// Returns ErrNotFound when the entry is gone or expired.
	ConsumeEntry(ctx context.Context, entryID string, exec *model.ActionExecution, now time.Time) error
	InsertExecution(ctx context.Context, exec *model.ActionExecution) error
	GetExecution(ctx context.Context, id string) (*model.ActionExecution, error)
	// RecordOutcome sets the outcome once. Later calls leave the row as is.
	RecordOutcome(ctx context.Context, id string, o model.Outcome, at time.Time) (*model.ActionExecution, error)
	ExecutionStats(ctx context.Context, since time.Time) (*ExecutionStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by store.driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres", "":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: int32(cfg.MaxConns)})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// queueColumns is the column order every queue scan expects.
var queueColumns = []string{
	"id", "owner_id", "entity_id", "action_type", "priority", "expected_gain",
	"reason", "artifact", "created_at", "expires_at",
}

var executionColumns = []string{
	"id", "queue_entry_id", "owner_id", "entity_id", "action_type", "artifact",
	"executed_at", "result", "outcome_measured_at", "stage_advanced", "delay_days", "conversion_delta",
}

var applicationColumns = []string{
	"id", "owner_id", "name", "email", "phone", "stage", "fee_status", "residency", "programme",
	"lead_source", "created_at", "updated_at", "stage_entered_at", "last_engagement_at", "submitted_at",
	"consent_on_file", "interview_rating", "portfolio_rating", "interview_at", "offer_expires_at",
	"deposit_paid", "visa_discussed",
}

var activityColumns = []string{"entity_id", "channel", "direction", "occurred_at", "response_minutes"}

// terminalStages lists terminal stage names for candidate filters.
func terminalStages() []string {
	var out []string
	for _, s := range model.Stages() {
		if s.Terminal {
			out = append(out, string(s.Stage))
		}
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}
