package triage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/artifact"
	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/scoring"
	"github.com/sells-group/pipeline-intel/internal/telemetry"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func applicant(id string, stage model.Stage) model.Entity {
	engaged := now.Add(-3 * 24 * time.Hour)
	entered := now.Add(-5 * 24 * time.Hour)
	return model.Entity{
		ID:               id,
		OwnerID:          "o1",
		Name:             "applicant " + id,
		Email:            id + "@example.com",
		Stage:            stage,
		CreatedAt:        now.Add(-60 * 24 * time.Hour),
		UpdatedAt:        now.Add(-24 * time.Hour),
		StageEnteredAt:   &entered,
		LastEngagementAt: &engaged,
	}
}

func newEngine(t *testing.T, src features.Source, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(clock)}, opts...)
	return New(config.TriageConfig{Concurrency: 4, ChunkSize: 3},
		src, scoring.NewEngine(scoring.DefaultConfig(), nil), artifact.MustTemplateGenerator(), opts...)
}

// tenCandidates returns nine open applicants in identical situations, except
// app-5 whose offer expires today, and one enrolled applicant.
func tenCandidates() (*features.MemorySource, []string) {
	src := features.NewMemorySource()
	var ids []string
	for i := range 10 {
		id := fmt.Sprintf("app-%d", i)
		e := applicant(id, model.StageConditionalOffer)
		switch i {
		case 5:
			exp := now.Add(12 * time.Hour)
			e.OfferExpiresAt = &exp
		case 7:
			e.Stage = model.StageEnrolled
		}
		src.Put(e)
		ids = append(ids, id)
	}
	return src, ids
}

type fakeQueue struct {
	keys map[model.QueueKey]bool
}

func (f fakeQueue) ActiveKeys(context.Context, string, time.Time) (map[model.QueueKey]bool, error) {
	return f.keys, nil
}

type recorder struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recorder) Emit(_ context.Context, ev telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func TestGenerateQueueTenCandidatesLimitThree(t *testing.T) {
	t.Parallel()

	src, ids := tenCandidates()
	rec := &recorder{}
	res, err := newEngine(t, src, WithSink(rec)).GenerateQueue(context.Background(), Request{OwnerID: "o1", CandidateIDs: ids, Limit: 3})
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	for _, it := range res.Items {
		assert.NotEqual(t, "app-7", it.EntityID)
		assert.NotEmpty(t, it.Artifact.Body)
		assert.Equal(t, "template", it.Artifact.Generator)
		assert.NotEmpty(t, it.Reason)
	}
	assert.Equal(t, 10, res.Candidates)
	assert.Equal(t, 9, res.Scored)
	assert.Equal(t, 1, res.Terminal)
	assert.False(t, res.Partial)
	assert.Empty(t, res.Failed)

	top := res.Items[0]
	assert.Equal(t, "app-5", top.EntityID)
	assert.Equal(t, UrgencyOfferExpiringToday, top.Urgency)
	assert.Equal(t, model.ActionUnblock, top.ActionType)
	assert.Equal(t, "task", top.Artifact.Kind)
	assert.GreaterOrEqual(t, top.Priority, res.Items[1].Priority)
	assert.GreaterOrEqual(t, res.Items[1].Priority, res.Items[2].Priority)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "triage", rec.events[0].Operation)
	assert.Equal(t, telemetry.OutcomeOK, rec.events[0].Outcome)
	assert.Len(t, rec.events[0].IDs, 3)
}

func TestGenerateQueueSkipsActiveEntries(t *testing.T) {
	t.Parallel()

	src, ids := tenCandidates()
	q := fakeQueue{keys: map[model.QueueKey]bool{
		{OwnerID: "o1", EntityID: "app-5", ActionType: model.ActionUnblock}: true,
	}}
	res, err := newEngine(t, src, WithQueue(q)).GenerateQueue(context.Background(), Request{OwnerID: "o1", CandidateIDs: ids, Limit: 3})
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	assert.Equal(t, 1, res.Duplicates)
	for _, it := range res.Items {
		assert.NotEqual(t, "app-5", it.EntityID)
	}
}

func TestGenerateQueueListsCandidates(t *testing.T) {
	t.Parallel()

	src, _ := tenCandidates()
	res, err := newEngine(t, src).GenerateQueue(context.Background(), Request{OwnerID: "o1"})
	require.NoError(t, err)
	assert.Equal(t, 9, res.Candidates)
	assert.Len(t, res.Items, 9)
}

func TestGenerateQueueReportsMissing(t *testing.T) {
	t.Parallel()

	src, _ := tenCandidates()
	res, err := newEngine(t, src).GenerateQueue(context.Background(), Request{CandidateIDs: []string{"app-1", "ghost", "app-1", " "}, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	require.Len(t, res.Items, 1)
	assert.Contains(t, res.Failed, "ghost")
}

func TestGenerateQueueLimitValidation(t *testing.T) {
	t.Parallel()

	src, ids := tenCandidates()
	e := newEngine(t, src)
	for _, limit := range []int{-1, 201} {
		_, err := e.GenerateQueue(context.Background(), Request{CandidateIDs: ids, Limit: limit})
		assert.True(t, model.IsInvalidInput(err), "limit %d", limit)
	}
}

type stallingSource struct {
	*features.MemorySource
}

func (s stallingSource) GetEntities(ctx context.Context, _ []string) (map[string]model.Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerateQueueDeadlineReturnsPartial(t *testing.T) {
	t.Parallel()

	src, ids := tenCandidates()
	e := New(config.TriageConfig{DeadlineSecs: 1, ChunkSize: 5},
		stallingSource{src}, scoring.NewEngine(scoring.DefaultConfig(), nil), artifact.MustTemplateGenerator(), WithClock(clock))

	res, err := e.GenerateQueue(context.Background(), Request{CandidateIDs: ids, Limit: 3})
	require.NoError(t, err)
	assert.True(t, res.Partial)
	assert.Empty(t, res.Items)
	assert.Len(t, res.Failed, 10)
}

func TestPreview(t *testing.T) {
	t.Parallel()

	src, _ := tenCandidates()
	e := newEngine(t, src)

	it, err := e.Preview(context.Background(), "o1", "app-2", model.ActionCall)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCall, it.ActionType)
	assert.Equal(t, "call_script", it.Artifact.Kind)
	assert.Equal(t, "applicant app-2", it.EntityName)

	_, err = e.Preview(context.Background(), "o1", "app-7", model.ActionCall)
	assert.True(t, model.IsInvalidInput(err))

	_, err = e.Preview(context.Background(), "o1", "ghost", model.ActionCall)
	assert.True(t, model.IsNotFound(err))

	_, err = e.Preview(context.Background(), "o1", "app-2", "fax")
	assert.True(t, model.IsInvalidInput(err))
}

func TestPredict(t *testing.T) {
	t.Parallel()

	src, _ := tenCandidates()
	e := newEngine(t, src)

	p, err := e.Predict(context.Background(), "app-5", PredictOptions{IncludeBlockers: true, IncludeNBA: true})
	require.NoError(t, err)
	assert.Equal(t, model.StageConditionalOffer, p.Stage)
	assert.GreaterOrEqual(t, p.Probability, 0.05)
	assert.LessOrEqual(t, p.Probability, 0.95)
	assert.NotEmpty(t, p.Explanation)

	var kinds []model.BlockerKind
	for _, b := range p.Blockers {
		kinds = append(kinds, b.Kind)
	}
	assert.Contains(t, kinds, model.BlockerOfferExpiring)

	require.NotEmpty(t, p.NextBestActions)
	assert.Equal(t, model.ActionUnblock, p.NextBestActions[0].ActionType)
	assert.Equal(t, model.ActionMessage, p.NextBestActions[len(p.NextBestActions)-1].ActionType)

	bare, err := e.Predict(context.Background(), "app-5", PredictOptions{})
	require.NoError(t, err)
	assert.Nil(t, bare.Blockers)
	assert.Nil(t, bare.NextBestActions)

	_, err = e.Predict(context.Background(), "ghost", PredictOptions{})
	assert.True(t, model.IsNotFound(err))
}

func TestPredictBatch(t *testing.T) {
	t.Parallel()

	src, _ := tenCandidates()
	out, err := newEngine(t, src).PredictBatch(context.Background(), []string{"app-3", "ghost", "app-7", "app-1"}, PredictOptions{})
	require.NoError(t, err)

	require.Len(t, out.Items, 4)
	assert.Equal(t, 3, out.Succeeded)
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, "app-3", out.Items[0].EntityID)
	assert.NotNil(t, out.Items[0].Prediction)
	assert.Equal(t, "ghost", out.Items[1].EntityID)
	assert.Nil(t, out.Items[1].Prediction)
	assert.NotEmpty(t, out.Items[1].Error)

	_, err = newEngine(t, src).PredictBatch(context.Background(), nil, PredictOptions{})
	assert.True(t, model.IsInvalidInput(err))
}
