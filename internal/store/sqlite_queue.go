package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/model"
)

const sqliteInsertQueueEntry = `INSERT INTO action_queue
	(id, owner_id, entity_id, action_type, priority, expected_gain, reason, artifact, created_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (owner_id, entity_id, action_type) DO UPDATE SET
		id = excluded.id, priority = excluded.priority, expected_gain = excluded.expected_gain,
		reason = excluded.reason, artifact = excluded.artifact,
		created_at = excluded.created_at, expires_at = excluded.expires_at
	WHERE action_queue.expires_at <= ?
	RETURNING id`

func (s *SQLiteStore) InsertQueueEntry(ctx context.Context, e *model.ActionQueueEntry, now time.Time) (bool, error) {
	art, err := json.Marshal(e.Artifact)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal artifact")
	}

	var id string
	err = s.db.QueryRowContext(ctx, sqliteInsertQueueEntry,
		e.ID, e.OwnerID, e.EntityID, string(e.ActionType), e.Priority, e.ExpectedGain,
		e.Reason, string(art), ms(e.CreatedAt), ms(e.ExpiresAt), ms(now),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert queue entry %s/%s", e.EntityID, e.ActionType)
	}
	return true, nil
}

func (s *SQLiteStore) GetQueueEntry(ctx context.Context, id string, now time.Time) (*model.ActionQueueEntry, error) {
	return s.queryEntry(ctx, sq.Eq{"id": id}, now, "queue entry "+id)
}

func (s *SQLiteStore) FindActiveEntry(ctx context.Context, key model.QueueKey, now time.Time) (*model.ActionQueueEntry, error) {
	return s.queryEntry(ctx, sq.Eq{
		"owner_id":    key.OwnerID,
		"entity_id":   key.EntityID,
		"action_type": string(key.ActionType),
	}, now, "queue entry "+key.EntityID+"/"+string(key.ActionType))
}

func (s *SQLiteStore) queryEntry(ctx context.Context, where sq.Eq, now time.Time, what string) (*model.ActionQueueEntry, error) {
	query, args, err := s.sb.Select(queueColumns...).From("action_queue").
		Where(where).Where(sq.Gt{"expires_at": ms(now)}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get queue entry")
	}
	e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("sqlite: %s", what)
	}
	return e, err
}

func (s *SQLiteStore) ListActiveEntries(ctx context.Context, f QueueFilter, now time.Time) ([]model.ActionQueueEntry, error) {
	query, args, err := activeEntriesQuery(s.sb, f, ms(now)).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list queue")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queue")
	}
	defer rows.Close()

	var out []model.ActionQueueEntry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list queue iterate")
}

func scanSQLiteEntry(row scannable) (*model.ActionQueueEntry, error) {
	var e model.ActionQueueEntry
	var action, art string
	var created, expires int64
	err := row.Scan(&e.ID, &e.OwnerID, &e.EntityID, &action, &e.Priority, &e.ExpectedGain,
		&e.Reason, &art, &created, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan queue entry")
	}
	e.ActionType = model.ActionType(action)
	e.CreatedAt, e.ExpiresAt = fromMs(created), fromMs(expires)
	if err := json.Unmarshal([]byte(art), &e.Artifact); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifact")
	}
	return &e, nil
}

func (s *SQLiteStore) ActiveKeys(ctx context.Context, ownerID string, now time.Time) (map[model.QueueKey]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, entity_id, action_type FROM action_queue WHERE owner_id = ? AND expires_at > ?`,
		ownerID, ms(now),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: active keys")
	}
	defer rows.Close()

	keys := make(map[model.QueueKey]bool)
	for rows.Next() {
		var k model.QueueKey
		var action string
		if err := rows.Scan(&k.OwnerID, &k.EntityID, &action); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan active key")
		}
		k.ActionType = model.ActionType(action)
		keys[k] = true
	}
	return keys, eris.Wrap(rows.Err(), "sqlite: active keys iterate")
}

func (s *SQLiteStore) CountActiveEntries(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM action_queue WHERE expires_at > ?`, ms(now)).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count queue")
}

func (s *SQLiteStore) DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM action_queue WHERE expires_at <= ?`, ms(now))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired entries")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete expired entries rows")
}

var sqliteInsertExecution = `INSERT INTO action_executions (` + strings.Join(executionColumns, ", ") + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func sqliteExecutionArgs(x *model.ActionExecution, art string) []any {
	return []any{
		x.ID, x.QueueEntryID, x.OwnerID, x.EntityID, string(x.ActionType), art,
		ms(x.ExecutedAt), string(x.Result), msPtr(x.OutcomeMeasuredAt), boolArg(x.StageAdvanced), x.DelayDays, x.ConversionDelta,
	}
}

func (s *SQLiteStore) ConsumeEntry(ctx context.Context, entryID string, exec *model.ActionExecution, now time.Time) error {
	art, err := json.Marshal(exec.Artifact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifact")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin consume")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM action_queue WHERE id = ? AND expires_at > ?`, entryID, ms(now))
	if err != nil {
		return eris.Wrapf(err, "sqlite: consume entry %s", entryID)
	}
	ok, err := checkRowsAffected(res, "queue entry", entryID)
	if err != nil {
		return err
	}
	if !ok {
		return model.NotFoundf("sqlite: active queue entry %s", entryID)
	}
	if _, err := tx.ExecContext(ctx, sqliteInsertExecution, sqliteExecutionArgs(exec, string(art))...); err != nil {
		return sqliteExecutionErr(err, exec.ID)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit consume")
}

func (s *SQLiteStore) InsertExecution(ctx context.Context, exec *model.ActionExecution) error {
	art, err := json.Marshal(exec.Artifact)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifact")
	}
	if _, err := s.db.ExecContext(ctx, sqliteInsertExecution, sqliteExecutionArgs(exec, string(art))...); err != nil {
		return sqliteExecutionErr(err, exec.ID)
	}
	return nil
}

func sqliteExecutionErr(err error, id string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return model.Conflictf("sqlite: execution %s already recorded", id)
	}
	return eris.Wrapf(err, "sqlite: insert execution %s", id)
}

func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.ActionExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+strings.Join(executionColumns, ", ")+` FROM action_executions WHERE id = ?`, id)

	var x model.ActionExecution
	var action, result, art string
	var executed int64
	var measured sql.NullInt64
	err := row.Scan(&x.ID, &x.QueueEntryID, &x.OwnerID, &x.EntityID, &action, &art,
		&executed, &result, &measured, &x.StageAdvanced, &x.DelayDays, &x.ConversionDelta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundf("sqlite: execution %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %s", id)
	}
	x.ActionType, x.Result = model.ActionType(action), model.ExecutionResult(result)
	x.ExecutedAt, x.OutcomeMeasuredAt = fromMs(executed), fromNullMs(measured)
	if err := json.Unmarshal([]byte(art), &x.Artifact); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal artifact")
	}
	return &x, nil
}

func (s *SQLiteStore) RecordOutcome(ctx context.Context, id string, o model.Outcome, at time.Time) (*model.ActionExecution, error) {
	advanced := o.StageAdvanced
	_, err := s.db.ExecContext(ctx,
		`UPDATE action_executions
		 SET outcome_measured_at = ?, stage_advanced = ?, delay_days = ?, conversion_delta = ?
		 WHERE id = ? AND outcome_measured_at IS NULL`,
		ms(at), boolArg(&advanced), o.DelayDays, o.ConversionDelta, id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: record outcome %s", id)
	}
	return s.GetExecution(ctx, id)
}

func (s *SQLiteStore) ExecutionStats(ctx context.Context, since time.Time) (*ExecutionStats, error) {
	var st ExecutionStats
	err := s.db.QueryRowContext(ctx, executionStatsSQL+`?`, ms(since)).
		Scan(&st.Executions, &st.Failed, &st.Simulated, &st.Measured, &st.Advanced)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: execution stats")
	}
	return &st, nil
}
