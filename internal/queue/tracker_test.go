package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/notify"
	"github.com/sells-group/pipeline-intel/internal/store"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) Events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type stubPreviewer struct{}

func (stubPreviewer) Preview(_ context.Context, _, entityID string, action model.ActionType) (*model.TriageItem, error) {
	return &model.TriageItem{
		EntityID:   entityID,
		ActionType: action,
		Artifact:   model.Artifact{Kind: "email", Body: "preview", Generator: "template"},
	}, nil
}

func newTestTracker(t *testing.T, cfg config.QueueConfig) (*Tracker, *store.SQLiteStore, *recordingNotifier) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	rec := &recordingNotifier{}
	tr, err := NewTracker(st, stubPreviewer{}, rec, cfg)
	require.NoError(t, err)
	tr.SetClock(func() time.Time { return epoch })
	return tr, st, rec
}

func item(entity string, action model.ActionType, priority float64) model.TriageItem {
	return model.TriageItem{
		EntityID:   entity,
		ActionType: action,
		Priority:   priority,
		Reason:     "offer expires soon",
		Artifact:   model.Artifact{Kind: "email", Body: "Hello", Generator: "template"},
	}
}

func TestEndOfDay(t *testing.T) {
	t.Parallel()

	est := time.FixedZone("EST", -5*3600)
	tests := []struct {
		name string
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{"utc morning", epoch, time.UTC, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"utc just before midnight", time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC), time.UTC, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"utc midnight rolls a full day", time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), time.UTC, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"local day differs from utc", time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), est, time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.True(t, tt.want.Equal(EndOfDay(tt.now, tt.loc)), "got %s", EndOfDay(tt.now, tt.loc))
		})
	}
}

func TestNewTrackerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewTracker(nil, nil, nil, config.QueueConfig{Timezone: "Mars/Olympus"})
	assert.Error(t, err)
}

func TestPersist(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	res := tr.Persist(ctx, "owner-1", []model.TriageItem{
		item("app-1", model.ActionMessage, 0.9),
		item("app-2", model.ActionCall, 0.8),
		item("app-1", model.ActionMessage, 0.7),
		item("", model.ActionMessage, 0.6),
		item("app-3", "fax", 0.5),
	})
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Duplicates)
	require.Len(t, res.Failed, 2)
	assert.Equal(t, model.ActionType("fax"), res.Failed[1].ActionType)
	require.Len(t, res.Entries, 2)
	assert.True(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC).Equal(res.Entries[0].ExpiresAt))

	again := tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-2", model.ActionCall, 0.95)})
	assert.Equal(t, 0, again.Inserted)
	assert.Equal(t, 1, again.Duplicates)

	other := tr.Persist(ctx, "owner-2", []model.TriageItem{item("app-2", model.ActionCall, 0.95)})
	assert.Equal(t, 1, other.Inserted)

	list, err := tr.List(ctx, store.QueueFilter{OwnerID: "owner-1"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "app-1", list[0].EntityID)
}

func TestPersistAfterExpiry(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	require.Equal(t, 1, tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-1", model.ActionMessage, 0.9)}).Inserted)

	tr.SetClock(func() time.Time { return epoch.Add(24 * time.Hour) })
	res := tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-1", model.ActionMessage, 0.4)})
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 0, res.Duplicates)
}

func TestExecuteByEntryID(t *testing.T) {
	t.Parallel()
	tr, st, rec := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	res := tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-1", model.ActionMessage, 0.9)})
	require.Len(t, res.Entries, 1)
	entryID := res.Entries[0].ID

	exec, err := tr.Execute(ctx, ExecuteRequest{EntryID: entryID})
	require.NoError(t, err)
	tr.Wait()

	assert.Equal(t, model.ResultSimulated, exec.Result)
	assert.Equal(t, entryID, exec.QueueEntryID)
	assert.Equal(t, "Hello", exec.Artifact.Body)

	_, err = st.GetQueueEntry(ctx, entryID, epoch)
	assert.True(t, model.IsNotFound(err))

	stored, err := tr.Execution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "app-1", stored.EntityID)

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, notify.EventActionExecuted, events[0].Type)
	assert.Equal(t, exec.ID, events[0].ExecutionID)

	_, err = tr.Execute(ctx, ExecuteRequest{EntryID: entryID})
	assert.True(t, model.IsNotFound(err))
}

func TestExecuteByEntryIDScopedToOwner(t *testing.T) {
	t.Parallel()
	tr, st, rec := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	res := tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-1", model.ActionMessage, 0.9)})
	require.Len(t, res.Entries, 1)
	entryID := res.Entries[0].ID

	_, err := tr.Execute(ctx, ExecuteRequest{OwnerID: "owner-2", EntryID: entryID})
	assert.True(t, model.IsNotFound(err))
	tr.Wait()
	assert.Empty(t, rec.Events())

	entry, err := st.GetQueueEntry(ctx, entryID, epoch)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", entry.OwnerID)

	exec, err := tr.Execute(ctx, ExecuteRequest{OwnerID: "owner-1", EntryID: entryID})
	require.NoError(t, err)
	tr.Wait()
	assert.Equal(t, entryID, exec.QueueEntryID)
}

func TestExecuteByKeyWithEditedArtifact(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker(t, config.QueueConfig{LiveChannel: true})
	ctx := context.Background()

	tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-1", model.ActionCall, 0.9)})

	edited := &model.Artifact{Kind: "call_script", Body: "edited", Generator: "manual"}
	exec, err := tr.Execute(ctx, ExecuteRequest{OwnerID: "owner-1", EntityID: "app-1", ActionType: model.ActionCall, Artifact: edited})
	require.NoError(t, err)
	tr.Wait()

	assert.Equal(t, model.ResultSent, exec.Result)
	assert.NotEmpty(t, exec.QueueEntryID)
	assert.Equal(t, "edited", exec.Artifact.Body)
}

func TestExecuteAdHocAndErrors(t *testing.T) {
	t.Parallel()
	tr, _, rec := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	exec, err := tr.Execute(ctx, ExecuteRequest{
		OwnerID:    "owner-1",
		EntityID:   "app-9",
		ActionType: model.ActionMessage,
		Artifact:   &model.Artifact{Kind: "email", Body: "ad hoc", Generator: "manual"},
	})
	require.NoError(t, err)
	tr.Wait()
	assert.Empty(t, exec.QueueEntryID)
	assert.Len(t, rec.Events(), 1)

	tests := []struct {
		name  string
		req   ExecuteRequest
		check func(error) bool
	}{
		{"unknown entry id", ExecuteRequest{EntryID: "missing"}, model.IsNotFound},
		{"key without artifact", ExecuteRequest{EntityID: "app-9", ActionType: model.ActionCall}, model.IsNotFound},
		{"no identifiers", ExecuteRequest{}, model.IsInvalidInput},
		{"bad action", ExecuteRequest{EntityID: "app-9", ActionType: "fax"}, model.IsInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Execute(ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestRecordOutcome(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	res := tr.Persist(ctx, "owner-1", []model.TriageItem{item("app-1", model.ActionMessage, 0.9)})
	exec, err := tr.Execute(ctx, ExecuteRequest{EntryID: res.Entries[0].ID})
	require.NoError(t, err)
	tr.Wait()

	_, err = tr.RecordOutcome(ctx, exec.ID, model.Outcome{DelayDays: -1})
	assert.True(t, model.IsInvalidInput(err))
	_, err = tr.RecordOutcome(ctx, "", model.Outcome{})
	assert.True(t, model.IsInvalidInput(err))

	first, err := tr.RecordOutcome(ctx, exec.ID, model.Outcome{StageAdvanced: true, DelayDays: 2})
	require.NoError(t, err)
	require.NotNil(t, first.StageAdvanced)
	assert.True(t, *first.StageAdvanced)

	second, err := tr.RecordOutcome(ctx, exec.ID, model.Outcome{StageAdvanced: false, DelayDays: 9})
	require.NoError(t, err)
	assert.True(t, *second.StageAdvanced)
	assert.Equal(t, 2, *second.DelayDays)

	_, err = tr.RecordOutcome(ctx, "missing", model.Outcome{})
	assert.True(t, model.IsNotFound(err))
}

func TestSweepAndSimulate(t *testing.T) {
	t.Parallel()
	tr, _, _ := newTestTracker(t, config.QueueConfig{})
	ctx := context.Background()

	tr.Persist(ctx, "owner-1", []model.TriageItem{
		item("app-1", model.ActionMessage, 0.9),
		item("app-2", model.ActionMessage, 0.8),
	})

	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	tr.SetClock(func() time.Time { return epoch.Add(48 * time.Hour) })
	n, err = tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	preview, err := tr.Simulate(ctx, "owner-1", "app-1", model.ActionCall)
	require.NoError(t, err)
	assert.Equal(t, "preview", preview.Artifact.Body)
}
