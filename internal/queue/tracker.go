// Package queue persists triage items as the day's action queue and records
// what happened when they were executed.
package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/notify"
	"github.com/sells-group/pipeline-intel/internal/store"
)

const notifyTimeout = 30 * time.Second

// Store is the persistence the tracker needs.
type Store interface {
	InsertQueueEntry(ctx context.Context, e *model.ActionQueueEntry, now time.Time) (bool, error)
	GetQueueEntry(ctx context.Context, id string, now time.Time) (*model.ActionQueueEntry, error)
	FindActiveEntry(ctx context.Context, key model.QueueKey, now time.Time) (*model.ActionQueueEntry, error)
	ListActiveEntries(ctx context.Context, f store.QueueFilter, now time.Time) ([]model.ActionQueueEntry, error)
	ConsumeEntry(ctx context.Context, entryID string, exec *model.ActionExecution, now time.Time) error
	InsertExecution(ctx context.Context, exec *model.ActionExecution) error
	GetExecution(ctx context.Context, id string) (*model.ActionExecution, error)
	RecordOutcome(ctx context.Context, id string, o model.Outcome, at time.Time) (*model.ActionExecution, error)
	DeleteExpiredEntries(ctx context.Context, now time.Time) (int64, error)
}

// Previewer drafts an item for a forced action type.
type Previewer interface {
	Preview(ctx context.Context, ownerID, entityID string, action model.ActionType) (*model.TriageItem, error)
}

// ItemError reports one item that could not be persisted.
type ItemError struct {
	EntityID   string           `json:"entity_id"`
	ActionType model.ActionType `json:"action_type"`
	Error      string           `json:"error"`
}

// PersistResult summarises a Persist call. Every item is counted exactly
// once across Inserted, Duplicates and Failed.
type PersistResult struct {
	Inserted   int                      `json:"inserted"`
	Duplicates int                      `json:"duplicates"`
	Failed     []ItemError              `json:"failed,omitempty"`
	Entries    []model.ActionQueueEntry `json:"entries,omitempty"`
}

// ExecuteRequest names the entry to execute, either by id or by key. An
// Artifact replaces the queued one; with no active entry it records an
// ad-hoc execution.
type ExecuteRequest struct {
	EntryID    string           `json:"entry_id,omitempty"`
	OwnerID    string           `json:"owner_id,omitempty"`
	EntityID   string           `json:"entity_id,omitempty"`
	ActionType model.ActionType `json:"action_type,omitempty"`
	Artifact   *model.Artifact  `json:"artifact,omitempty"`
}

// Tracker runs the queue lifecycle.
type Tracker struct {
	store    Store
	preview  Previewer
	notifier notify.Notifier
	live     bool
	loc      *time.Location
	nowFunc  func() time.Time

	wg sync.WaitGroup
}

// NewTracker creates a Tracker. A nil notifier logs events.
func NewTracker(st Store, preview Previewer, notifier notify.Notifier, cfg config.QueueConfig) (*Tracker, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier()
	}
	return &Tracker{
		store:    st,
		preview:  preview,
		notifier: notifier,
		live:     cfg.LiveChannel,
		loc:      loc,
		nowFunc:  time.Now,
	}, nil
}

// SetClock overrides the time source.
func (t *Tracker) SetClock(now func() time.Time) { t.nowFunc = now }

// EndOfDay returns the next midnight after now in loc.
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Persist stores items as queue entries expiring at the end of the
// operating day. An item whose slot is held by an active entry counts as a
// duplicate. A failed item never aborts the rest.
func (t *Tracker) Persist(ctx context.Context, ownerID string, items []model.TriageItem) *PersistResult {
	now := t.nowFunc()
	expires := EndOfDay(now, t.loc)
	res := &PersistResult{}
	log := zap.L().With(zap.String("component", "queue"), zap.String("owner", ownerID))

	for _, it := range items {
		e := &model.ActionQueueEntry{
			ID:           uuid.NewString(),
			OwnerID:      ownerID,
			EntityID:     it.EntityID,
			ActionType:   it.ActionType,
			Priority:     it.Priority,
			ExpectedGain: it.ExpectedGain,
			Reason:       it.Reason,
			Artifact:     it.Artifact,
			CreatedAt:    now,
			ExpiresAt:    expires,
		}
		if err := validItem(it); err != nil {
			res.Failed = append(res.Failed, ItemError{EntityID: it.EntityID, ActionType: it.ActionType, Error: err.Error()})
			continue
		}

		ok, err := t.store.InsertQueueEntry(ctx, e, now)
		switch {
		case err != nil:
			log.Warn("queue: persist item failed",
				zap.String("entity_id", it.EntityID),
				zap.String("action_type", string(it.ActionType)),
				zap.Error(err),
			)
			res.Failed = append(res.Failed, ItemError{EntityID: it.EntityID, ActionType: it.ActionType, Error: err.Error()})
		case !ok:
			res.Duplicates++
		default:
			res.Inserted++
			res.Entries = append(res.Entries, *e)
		}
	}

	log.Info("queue: persisted triage items",
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", len(res.Failed)),
	)
	return res
}

func validItem(it model.TriageItem) error {
	if strings.TrimSpace(it.EntityID) == "" {
		return model.InvalidInputf("queue: empty entity id")
	}
	if !it.ActionType.Valid() {
		return model.InvalidInputf("queue: unknown action type %q", it.ActionType)
	}
	return nil
}

// List returns active entries.
func (t *Tracker) List(ctx context.Context, f store.QueueFilter) ([]model.ActionQueueEntry, error) {
	return t.store.ListActiveEntries(ctx, f, t.nowFunc())
}

// Simulate previews the artifact for an action without persisting anything.
func (t *Tracker) Simulate(ctx context.Context, ownerID, entityID string, action model.ActionType) (*model.TriageItem, error) {
	if t.preview == nil {
		return nil, eris.New("queue: simulate needs a previewer")
	}
	return t.preview.Preview(ctx, ownerID, entityID, action)
}

// Execute consumes the entry and records the execution. It returns once the
// execution is stored; the notification is sent in the background.
func (t *Tracker) Execute(ctx context.Context, req ExecuteRequest) (*model.ActionExecution, error) {
	now := t.nowFunc()

	entry, err := t.resolve(ctx, req, now)
	if err != nil && !(model.IsNotFound(err) && req.EntryID == "" && req.Artifact != nil) {
		return nil, err
	}

	exec := &model.ActionExecution{
		ID:         uuid.NewString(),
		ExecutedAt: now,
		Result:     model.ResultSimulated,
	}
	if t.live {
		exec.Result = model.ResultSent
	}

	if entry == nil {
		// Ad-hoc execution of a previewed action.
		exec.OwnerID, exec.EntityID, exec.ActionType = req.OwnerID, req.EntityID, req.ActionType
		exec.Artifact = *req.Artifact
		if err := t.store.InsertExecution(ctx, exec); err != nil {
			return nil, err
		}
	} else {
		exec.QueueEntryID = entry.ID
		exec.OwnerID, exec.EntityID, exec.ActionType = entry.OwnerID, entry.EntityID, entry.ActionType
		exec.Artifact = entry.Artifact
		if req.Artifact != nil {
			exec.Artifact = *req.Artifact
		}
		if err := t.store.ConsumeEntry(ctx, entry.ID, exec, now); err != nil {
			return nil, err
		}
	}

	zap.L().Info("queue: action executed",
		zap.String("component", "queue"),
		zap.String("execution_id", exec.ID),
		zap.String("entity_id", exec.EntityID),
		zap.String("action_type", string(exec.ActionType)),
		zap.String("result", string(exec.Result)),
	)
	t.notifyAsync(ctx, exec)
	return exec, nil
}

func (t *Tracker) resolve(ctx context.Context, req ExecuteRequest, now time.Time) (*model.ActionQueueEntry, error) {
	if req.EntryID != "" {
		entry, err := t.store.GetQueueEntry(ctx, req.EntryID, now)
		if err != nil {
			return nil, err
		}
		// Another owner's entry is reported as missing, not forbidden.
		if req.OwnerID != "" && entry.OwnerID != req.OwnerID {
			return nil, model.NotFoundf("queue: entry %s", req.EntryID)
		}
		return entry, nil
	}
	if req.EntityID == "" || !req.ActionType.Valid() {
		return nil, model.InvalidInputf("queue: execute needs an entry id or an entity id and action type")
	}
	return t.store.FindActiveEntry(ctx, model.QueueKey{
		OwnerID:    req.OwnerID,
		EntityID:   req.EntityID,
		ActionType: req.ActionType,
	}, now)
}

func (t *Tracker) notifyAsync(ctx context.Context, exec *model.ActionExecution) {
	ev := notify.ExecutedEvent(exec)
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()
		if err := t.notifier.Notify(ctx, ev); err != nil {
			zap.L().Warn("queue: notification failed",
				zap.String("component", "queue"),
				zap.String("execution_id", ev.ExecutionID),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until background notifications finish.
func (t *Tracker) Wait() { t.wg.Wait() }

// RecordOutcome stores the measured outcome of an execution. Only the first
// call writes; later calls return the stored execution unchanged.
func (t *Tracker) RecordOutcome(ctx context.Context, executionID string, o model.Outcome) (*model.ActionExecution, error) {
	if strings.TrimSpace(executionID) == "" {
		return nil, model.InvalidInputf("queue: empty execution id")
	}
	if o.DelayDays < 0 {
		return nil, model.InvalidInputf("queue: delay_days %d is negative", o.DelayDays)
	}
	return t.store.RecordOutcome(ctx, executionID, o, t.nowFunc())
}

// Execution returns one execution record.
func (t *Tracker) Execution(ctx context.Context, id string) (*model.ActionExecution, error) {
	return t.store.GetExecution(ctx, id)
}

// Sweep deletes expired entries.
func (t *Tracker) Sweep(ctx context.Context) (int64, error) {
	n, err := t.store.DeleteExpiredEntries(ctx, t.nowFunc())
	if err != nil {
		return 0, eris.Wrap(err, "queue: sweep")
	}
	zap.L().Info("queue: swept expired entries", zap.String("component", "queue"), zap.Int64("deleted", n))
	return n, nil
}
