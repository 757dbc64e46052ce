package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/model"
)

func (s *SQLiteStore) GetEntities(ctx context.Context, ids []string) (map[string]model.Entity, error) {
	out := make(map[string]model.Entity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.sb.Select(applicationColumns...).From("applications").
		Where(sq.Eq{"id": ids}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get entities")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get entities")
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanSQLiteEntity(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = *e
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get entities iterate")
}

func scanSQLiteEntity(row scannable) (*model.Entity, error) {
	var e model.Entity
	var stage string
	var created, updated int64
	var entered, engaged, submitted, interview, offer sql.NullInt64
	err := row.Scan(&e.ID, &e.OwnerID, &e.Name, &e.Email, &e.Phone, &stage,
		&e.Segment.FeeStatus, &e.Segment.Residency, &e.Segment.Programme, &e.LeadSource,
		&created, &updated, &entered, &engaged, &submitted,
		&e.ConsentOnFile, &e.InterviewRating, &e.PortfolioRating, &interview, &offer,
		&e.DepositPaid, &e.VisaDiscussed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan application")
	}
	e.Stage = model.Stage(stage)
	e.CreatedAt, e.UpdatedAt = fromMs(created), fromMs(updated)
	e.StageEnteredAt = fromNullMs(entered)
	e.LastEngagementAt = fromNullMs(engaged)
	e.SubmittedAt = fromNullMs(submitted)
	e.InterviewAt = fromNullMs(interview)
	e.OfferExpiresAt = fromNullMs(offer)
	return &e, nil
}

func (s *SQLiteStore) ListActivities(ctx context.Context, ids []string, since time.Time) (map[string][]model.Activity, error) {
	out := make(map[string][]model.Activity, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := s.sb.Select(activityColumns...).From("activities").
		Where(sq.Eq{"entity_id": ids}).
		Where(sq.GtOrEq{"occurred_at": ms(since)}).
		OrderBy("occurred_at").ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list activities")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list activities")
	}
	defer rows.Close()

	for rows.Next() {
		var a model.Activity
		var channel, direction string
		var at int64
		if err := rows.Scan(&a.EntityID, &channel, &direction, &at, &a.ResponseMinutes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan activity")
		}
		a.Channel, a.Direction, a.OccurredAt = model.Channel(channel), model.Direction(direction), fromMs(at)
		out[a.EntityID] = append(out[a.EntityID], a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list activities iterate")
}

func (s *SQLiteStore) ListCandidateIDs(ctx context.Context, ownerID string, limit int) ([]string, error) {
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
		return nil, eris.Wrap(err, "sqlite: build list candidates")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan candidate")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list candidates iterate")
}

const sqliteUpsertApplication = `INSERT INTO applications (
	id, owner_id, name, email, phone, stage, fee_status, residency, programme, lead_source,
	created_at, updated_at, stage_entered_at, last_engagement_at, submitted_at,
	consent_on_file, interview_rating, portfolio_rating, interview_at, offer_expires_at,
	deposit_paid, visa_discussed
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	owner_id = excluded.owner_id, name = excluded.name, email = excluded.email, phone = excluded.phone,
	stage = excluded.stage, fee_status = excluded.fee_status, residency = excluded.residency,
	programme = excluded.programme, lead_source = excluded.lead_source, updated_at = excluded.updated_at,
	stage_entered_at = excluded.stage_entered_at, last_engagement_at = excluded.last_engagement_at,
	submitted_at = excluded.submitted_at, consent_on_file = excluded.consent_on_file,
	interview_rating = excluded.interview_rating, portfolio_rating = excluded.portfolio_rating,
	interview_at = excluded.interview_at, offer_expires_at = excluded.offer_expires_at,
	deposit_paid = excluded.deposit_paid, visa_discussed = excluded.visa_discussed`

func (s *SQLiteStore) UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert applications")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, e := range entities {
		_, err := tx.ExecContext(ctx, sqliteUpsertApplication,
			e.ID, e.OwnerID, e.Name, e.Email, e.Phone, string(e.Stage),
			e.Segment.FeeStatus, e.Segment.Residency, e.Segment.Programme, e.LeadSource,
			ms(orNow(e.CreatedAt)), ms(orNow(e.UpdatedAt)), msPtr(e.StageEnteredAt), msPtr(e.LastEngagementAt), msPtr(e.SubmittedAt),
			boolArg(e.ConsentOnFile), e.InterviewRating, e.PortfolioRating, msPtr(e.InterviewAt), msPtr(e.OfferExpiresAt),
			boolArg(e.DepositPaid), boolArg(e.VisaDiscussed),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert application %s", e.ID)
		}
		n++
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit upsert applications")
}

func (s *SQLiteStore) InsertActivities(ctx context.Context, activities []model.Activity) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert activities")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO activities (entity_id, channel, direction, occurred_at, response_minutes) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert activity")
	}
	defer stmt.Close()

	for _, a := range activities {
		if _, err := stmt.ExecContext(ctx, a.EntityID, string(a.Channel), string(a.Direction), ms(a.OccurredAt), a.ResponseMinutes); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert activity for %s", a.EntityID)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit insert activities")
	}
	return int64(len(activities)), nil
}
