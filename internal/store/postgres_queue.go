package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// An expired row holding the key is replaced; an active one wins.
const pgInsertQueueEntry = `INSERT INTO action_queue
	(id, owner_id, entity_id, action_type, priority, expected_gain, reason, artifact, created_at, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (owner_id, entity_id, action_type) DO UPDATE SET
		id = EXCLUDED.id, priority = EXCLUDED.priority, expected_gain = EXCLUDED.expected_gain,
		reason = EXCLUDED.reason, artifact = EXCLUDED.artifact,
		created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
	WHERE action_queue.expires_at <= $11
	RETURNING id`

func (s *PostgresStore) InsertQueueEntry(ctx context.Context, e *model.ActionQueueEntry, now time.Time) (bool, error) {
	art, err := json.Marshal(e.Artifact)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal artifact")
	}

	var id string
	err = s.pool.QueryRow(ctx, pgInsertQueueEntry,
		e.ID, e.OwnerID, e.EntityID, string(e.ActionType), e.Priority, e.ExpectedGain,
		e.Reason, art, e.CreatedAt, e.ExpiresAt, now,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert queue entry %s/%s", e.EntityID, e.ActionType)
	}
	return true, nil
}

func (s *PostgresStore) GetQueueEntry(ctx context.Context, id string, now time.Time) (*model.ActionQueueEntry, error) {
	return s.queryEntry(ctx, sq.Eq{"id": id}, now, "queue entry "+id)
}

func (s *PostgresStore) FindActiveEntry(ctx context.Context, key model.QueueKey, now time.Time) (*model.ActionQueueEntry, error) {
	return s.queryEntry(ctx, sq.Eq{
		"owner_id":    key.OwnerID,
		"entity_id":   key.EntityID,
		"action_type": string(key.ActionType),
	}, now, "queue entry "+key.EntityID+"/"+string(key.ActionType))
}

func (s *PostgresStore) queryEntry(ctx context.Context, where sq.Eq, now time.Time, what string) (*model.ActionQueueEntry, error) {
	query, args, err := s.sb.Select(queueColumns...).From("action_queue").
		Where(where).Where(sq.Gt{"expires_at": now}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get queue entry")
	}
	e, err := scanPostgresEntry(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFoundf("postgres: %s", what)
	}
	return e, err
}

func (s *PostgresStore) ListActiveEntries(ctx context.Context, f QueueFilter, now time.Time) ([]model.ActionQueueEntry, error) {
	query, args, err := activeEntriesQuery(s.sb, f, now).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list queue")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queue")
	}
	defer rows.Close()

	var out []model.ActionQueueEntry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list queue iterate")
}

// activeEntriesQuery is shared by both drivers; only placeholders differ.
func activeEntriesQuery(sb sq.StatementBuilderType, f QueueFilter, now any) sq.SelectBuilder {
	b := sb.Select(queueColumns...).From("action_queue").Where(sq.Gt{"expires_at": now})
	if f.OwnerID != "" {
		b = b.Where(sq.Eq{"owner_id": f.OwnerID})
	}
	if f.EntityID != "" {
		b = b.Where(sq.Eq{"entity_id": f.EntityID})
	}
	if f.ActionType != "" {
		b = b.Where(sq.Eq{"action_type": string(f.ActionType)})
	}
	b = b.OrderBy("priority DESC", "id")
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	b = b.Limit(uint64(limit))
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	return b
}

func scanPostgresEntry(row scannable) (*model.ActionQueueEntry, error) {
	var e model.ActionQueueEntry
	var action string
	var art []byte
	err := row.Scan(&e.ID, &e.OwnerID, &e.EntityID, &action, &e.Priority, &e.ExpectedGain,
		&e.Reason, &art, &e.CreatedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan queue entry")
	}
	e.ActionType = model.ActionType(action)
	if err := json.Unmarshal(art, &e.Artifact); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal artifact")
	}
	return &e, nil
}

func (s *PostgresStore) ActiveKeys(ctx context.Context, ownerID string, now time.Time) (map[model.QueueKey]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT owner_id, entity_id, action_type FROM action_queue WHERE owner_id = $1 AND expires_at > $2`,
		ownerID, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active keys")
	}
	defer rows.Close()

	keys := make(map[model.QueueKey]bool)
	for rows.Next() {
		var k model.QueueKey
		var action string
		if err := rows.Scan(&k.OwnerID, &k.EntityID, &action); err != nil {
			return nil, eris.Wrap(err, "postgres: scan active key")
		}
		k.ActionType = model.ActionType(action)
		keys[k] = true
	}
	return keys, eris.Wrap(rows.Err(), "postgres: active keys iterate")
}

func (s *PostgresStore) CountActiveEntries(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM action_queue WHERE expires_at > $1`, now).Scan(&n)
	return n, eris.Wrap(err, "postgres: count queue")
}

func (s *PostgresStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM action_queue WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired entries")
	}
	return tag.RowsAffected(), nil
}

var pgInsertExecution = `INSERT INTO action_executions (` + strings.Join(executionColumns, ", ") + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

func executionArgs(x *model.ActionExecution, art any) []any {
	return []any{
		x.ID, x.QueueEntryID, x.OwnerID, x.EntityID, string(x.ActionType), art,
		x.ExecutedAt, string(x.Result), x.OutcomeMeasuredAt, x.StageAdvanced, x.DelayDays, x.ConversionDelta,
	}
}

func (s *PostgresStore) ConsumeEntry(ctx context.Context, entryID string, exec *model.ActionExecution, now time.Time) error {
	art, err := json.Marshal(exec.Artifact)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifact")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin consume")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `DELETE FROM action_queue WHERE id = $1 AND expires_at > $2`, entryID, now)
	if err != nil {
		return eris.Wrapf(err, "postgres: consume entry %s", entryID)
	}
	if tag.RowsAffected() == 0 {
		return model.NotFoundf("postgres: active queue entry %s", entryID)
	}
	if _, err := tx.Exec(ctx, pgInsertExecution, executionArgs(exec, art)...); err != nil {
		return pgExecutionErr(err, exec.ID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit consume")
}

func (s *PostgresStore) InsertExecution(ctx context.Context, exec *model.ActionExecution) error {
	art, err := json.Marshal(exec.Artifact)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifact")
	}
	if _, err := s.pool.Exec(ctx, pgInsertExecution, executionArgs(exec, art)...); err != nil {
		return pgExecutionErr(err, exec.ID)
	}
	return nil
}

// pgExecutionErr maps a unique violation on the execution id to a conflict.
func pgExecutionErr(err error, id string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return model.Conflictf("postgres: execution %s already recorded", id)
	}
	return eris.Wrapf(err, "postgres: insert execution %s", id)
}

func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.ActionExecution, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+strings.Join(executionColumns, ", ")+` FROM action_executions WHERE id = $1`, id)

	var x model.ActionExecution
	var action, result string
	var art []byte
	err := row.Scan(&x.ID, &x.QueueEntryID, &x.OwnerID, &x.EntityID, &action, &art,
		&x.ExecutedAt, &result, &x.OutcomeMeasuredAt, &x.StageAdvanced, &x.DelayDays, &x.ConversionDelta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFoundf("postgres: execution %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %s", id)
	}
	x.ActionType, x.Result = model.ActionType(action), model.ExecutionResult(result)
	if err := json.Unmarshal(art, &x.Artifact); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal artifact")
	}
	return &x, nil
}

func (s *PostgresStore) RecordOutcome(ctx context.Context, id string, o model.Outcome, at time.Time) (*model.ActionExecution, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE action_executions
		 SET outcome_measured_at = $1, stage_advanced = $2, delay_days = $3, conversion_delta = $4
		 WHERE id = $5 AND outcome_measured_at IS NULL`,
		at, o.StageAdvanced, o.DelayDays, o.ConversionDelta, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: record outcome %s", id)
	}
	return s.GetExecution(ctx, id)
}

const executionStatsSQL = `SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN result = 'failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN result = 'simulated' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome_measured_at IS NOT NULL THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN stage_advanced THEN 1 ELSE 0 END), 0)
	FROM action_executions WHERE executed_at >= `

func (s *PostgresStore) ExecutionStats(ctx context.Context, since time.Time) (*ExecutionStats, error) {
	var st ExecutionStats
	err := s.pool.QueryRow(ctx, executionStatsSQL+`$1`, since).
		Scan(&st.Executions, &st.Failed, &st.Simulated, &st.Measured, &st.Advanced)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: execution stats")
	}
	return &st, nil
}
