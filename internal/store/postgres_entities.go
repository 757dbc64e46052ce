package store

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/db"
	"github.com/sells-group/pipeline-intel/internal/model"
)

func (s *PostgresStore) GetEntities(ctx context.Context, ids []string) (map[string]model.Entity, error) {
	out := make(map[string]model.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.sb.Select(applicationColumns...).From("applications").
		Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get entities")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get entities")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanPostgresEntity(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = *e
	}
	return out, eris.Wrap(rows.Err(), "postgres: get entities iterate")
}

func scanPostgresEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var stage string
	err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Email, &e.Phone, &stage,
		&e.Segment.FeeStatus, &e.Segment.Residency, &e.Segment.Programme, &e.LeadSource,
		&e.CreatedAt, &e.UpdatedAt, &e.StageEnteredAt, &e.LastEngagementAt, &e.SubmittedAt,
		&e.ConsentOnFile, &e.InterviewRating, &e.PortfolioRating, &e.InterviewAt, &e.OfferExpiresAt,
		&e.DepositPaid, &e.VisaDiscussed)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan application")
	}
	e.Stage = model.Stage(stage)
	return &e, nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, ids []string, since time.Time) (map[string][]model.Activity, error) {
	out := make(map[string][]model.Activity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.sb.Select(activityColumns...).From("activities").
		Where(sq.Eq{"entity_id": ids}).
		Where(sq.GtOrEq{"occurred_at": since}).
		OrderBy("occurred_at").ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list activities")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list activities")
	}
	defer rows.Close()

	for rows.Next() {
		var a model.Activity
		var channel, direction string
		if err := rows.Scan(&a.EntityID, &channel, &direction, &a.OccurredAt, &a.ResponseMinutes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		a.Channel, a.Direction = model.Channel(channel), model.Direction(direction)
		out[a.EntityID] = append(out[a.EntityID], a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list activities iterate")
}

func (s *PostgresStore) ListCandidateIDs(ctx context.Context, ownerID string, limit int) ([]string, error) {
	b := s.sb.Select("id").From("applications").
		Where(sq.NotEq{"stage": terminalStages()}).
		OrderBy("id")
	if ownerID != "" {
		b = b.Where(sq.Eq{"owner_id": ownerID})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list candidates")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list candidates iterate")
}

var applicationsUpsert = db.UpsertSpec{
	Table:        "applications",
	Columns:      applicationColumns,
	ConflictKeys: []string{"id"},
}

func (s *PostgresStore) UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	rows := make([][]any, 0, len(entities))
	for _, e := range entities {
		rows = append(rows, []any{
			e.ID, e.OwnerID, e.Name, e.Email, e.Phone, string(e.Stage),
			e.Segment.FeeStatus, e.Segment.Residency, e.Segment.Programme, e.LeadSource,
			orNow(e.CreatedAt), orNow(e.UpdatedAt), e.StageEnteredAt, e.LastEngagementAt, e.SubmittedAt,
			e.ConsentOnFile, e.InterviewRating, e.PortfolioRating, e.InterviewAt, e.OfferExpiresAt,
			e.DepositPaid, e.VisaDiscussed,
		})
	}
	n, err := db.Upsert(ctx, s.pool, applicationsUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert applications")
}

func (s *PostgresStore) InsertActivities(ctx context.Context, activities []model.Activity) (int64, error) {
	rows := make([][]any, 0, len(activities))
	for _, a := range activities {
		rows = append(rows, []any{a.EntityID, string(a.Channel), string(a.Direction), a.OccurredAt, a.ResponseMinutes})
	}
	n, err := db.CopyRows(ctx, s.pool, "activities", activityColumns, rows)
	return n, eris.Wrap(err, "postgres: insert activities")
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
