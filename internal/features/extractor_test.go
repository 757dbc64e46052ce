package features

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/model"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func fixedClock() time.Time { return testNow }

func daysAgo(d float64) time.Time {
	return testNow.Add(-time.Duration(d * 24 * float64(time.Hour)))
}

func newTestSource() *MemorySource {
	src := NewMemorySource()
	src.Put(model.Entity{
		ID:             "app-1",
		OwnerID:        "owner-1",
		Name:           "Ada Lovelace",
		Email:          "ada@example.com",
		Stage:          model.StageUnderReview,
		Segment:        model.Segment{FeeStatus: model.FeeStatusInternational},
		LeadSource:     "Referral",
		CreatedAt:      daysAgo(120),
		UpdatedAt:      daysAgo(2),
		StageEnteredAt: ptr(daysAgo(10)),
		SubmittedAt:    ptr(time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)),
		ConsentOnFile:  ptr(true),
	})
	src.AddActivity(model.Activity{EntityID: "app-1", Channel: model.ChannelEmail, Direction: model.DirectionOutbound, OccurredAt: daysAgo(20)})
	src.AddActivity(model.Activity{EntityID: "app-1", Channel: model.ChannelEmail, Direction: model.DirectionInbound, OccurredAt: daysAgo(19), ResponseMinutes: ptr(120.0)})
	src.AddActivity(model.Activity{EntityID: "app-1", Channel: model.ChannelPortal, Direction: model.DirectionInbound, OccurredAt: daysAgo(5)})
	src.AddActivity(model.Activity{EntityID: "app-1", Channel: model.ChannelEmail, Direction: model.DirectionInbound, OccurredAt: daysAgo(3), ResponseMinutes: ptr(360.0)})
	src.AddActivity(model.Activity{EntityID: "app-1", Channel: model.ChannelCall, Direction: model.DirectionOutbound, OccurredAt: daysAgo(1)})
	src.AddActivity(model.Activity{EntityID: "app-1", Channel: model.ChannelEmail, Direction: model.DirectionOutbound, OccurredAt: daysAgo(200)})
	return src
}

func TestExtractPopulatesCatalogue(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(newTestSource(), WithClock(fixedClock))
	fv, err := ex.Extract(context.Background(), "app-1")
	require.NoError(t, err)

	assert.Equal(t, "app-1", fv.EntityID)
	assert.Equal(t, "owner-1", fv.OwnerID)
	assert.Equal(t, "Ada Lovelace", fv.EntityName)
	assert.GreaterOrEqual(t, fv.Len(), 100)
	for _, k := range Catalogue() {
		assert.True(t, fv.Has(k), k)
	}
}

func TestExtractValues(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(newTestSource(), WithClock(fixedClock))
	fv, err := ex.Extract(context.Background(), "app-1")
	require.NoError(t, err)

	num := func(k string) float64 {
		v, ok := fv.Number(k)
		require.True(t, ok, k)
		return v
	}

	stage, ok := fv.Enum(KeyStage)
	require.True(t, ok)
	assert.Equal(t, "under_review", stage)
	assert.Equal(t, 5.0, num(KeyStageIndex))
	assert.InDelta(t, 10, num(KeyDaysInStage), 1e-9)

	src, _ := fv.Enum(KeyLeadSource)
	assert.Equal(t, "referral", src)

	hasEmail, _ := fv.Bool(KeyHasEmail)
	hasPhone, _ := fv.Bool(KeyHasPhone)
	assert.True(t, hasEmail)
	assert.False(t, hasPhone)
	assert.InDelta(t, 2.0/3.0, num(KeyContactCompleteness), 1e-9)

	intl, ok := fv.Bool(KeyIsInternational)
	require.True(t, ok)
	assert.True(t, intl)

	// Two replies: 2h and 6h.
	assert.InDelta(t, 4, num(KeyResponseMedianHours), 1e-9)
	assert.InDelta(t, 2, num(KeyResponseMinHours), 1e-9)
	assert.Equal(t, 2.0, num(KeyResponseCount))

	assert.InDelta(t, 3, num(KeyDaysSinceInbound), 1e-9)
	assert.InDelta(t, 1, num(KeyDaysSinceOutbound), 1e-9)
	assert.Equal(t, 1.0, num(KeyUnansweredStreak))
	assert.Equal(t, 3.0, num(KeyInbound30d))
	assert.Equal(t, 2.0, num(KeyOutbound30d))
	assert.Equal(t, 1.0, num(KeyPortalLogins30d))
	assert.Equal(t, 2.0, num(ChannelKey(model.ChannelEmail, model.DirectionInbound, 30)))
	assert.Equal(t, 1.0, num(ChannelKey(model.ChannelEmail, model.DirectionInbound, 7)))

	// The 200-day-old activity is outside the lookback window.
	assert.Equal(t, 5.0, num(KeyTouches90d))

	assert.InDelta(t, 31.0/365.0, num(KeyCyclePosition), 1e-9)

	// Ratings were never recorded.
	assert.False(t, fv.Get(KeyInterviewRating).Known())
	assert.False(t, fv.Get(KeyMaxRating).Known())
	assert.False(t, fv.Get(KeyDepositPaid).Known())

	// No last-engagement field on the record; falls back to the latest reply.
	assert.InDelta(t, 3, num(KeyDaysSinceEngagement), 1e-9)
}

func TestExtractUnknownStageIsNotAnError(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	src.Put(model.Entity{ID: "x", Stage: "mystery_stage", CreatedAt: daysAgo(5)})
	ex := NewExtractor(src, WithClock(fixedClock))

	fv, err := ex.Extract(context.Background(), "x")
	require.NoError(t, err)

	s, ok := fv.Enum(KeyStage)
	require.True(t, ok)
	assert.Equal(t, "mystery_stage", s)
	assert.False(t, fv.Get(KeyStageIndex).Known())

	// No activity at all: the gap is bounded by the entity's age.
	d, ok := fv.Number(KeyDaysSinceInbound)
	require.True(t, ok)
	assert.InDelta(t, 5, d, 1e-9)
}

func TestBuildInboundGapUsesLastEngagement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		engaged *time.Time
		acts    []model.Activity
		want    float64
	}{
		{name: "engagement without activity rows", engaged: ptr(daysAgo(1)), want: 1},
		{
			name:    "activity newer than engagement",
			engaged: ptr(daysAgo(10)),
			acts:    []model.Activity{{EntityID: "x", Channel: model.ChannelEmail, Direction: model.DirectionInbound, OccurredAt: daysAgo(2)}},
			want:    2,
		},
		{
			name:    "engagement newer than activity",
			engaged: ptr(daysAgo(4)),
			acts:    []model.Activity{{EntityID: "x", Channel: model.ChannelEmail, Direction: model.DirectionInbound, OccurredAt: daysAgo(40)}},
			want:    4,
		},
		{name: "neither falls back to age", want: 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ent := model.Entity{ID: "x", Stage: model.StagePreApplication, CreatedAt: daysAgo(60), LastEngagementAt: tt.engaged}
			fv := Build(ent, tt.acts, testNow, DefaultCycle(), 90)

			d, ok := fv.Number(KeyDaysSinceInbound)
			require.True(t, ok)
			assert.InDelta(t, tt.want, d, 1e-9)
		})
	}
}

func TestExtractNotFound(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(NewMemorySource(), WithClock(fixedClock))
	_, err := ex.Extract(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))

	_, err = ex.Extract(context.Background(), " ")
	assert.True(t, model.IsInvalidInput(err))
}

type slowSource struct {
	*MemorySource
}

func (s slowSource) GetEntities(ctx context.Context, _ []string) (map[string]model.Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestExtractTimeout(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(slowSource{NewMemorySource()}, WithTimeout(20*time.Millisecond))
	_, err := ex.Extract(context.Background(), "app-1")
	require.Error(t, err)
	assert.True(t, model.IsUpstreamTimeout(err))
}

func TestExtractBatch(t *testing.T) {
	t.Parallel()

	ex := NewExtractor(newTestSource(), WithClock(fixedClock))
	res, err := ex.ExtractBatch(context.Background(), []string{"app-1", "gone"})
	require.NoError(t, err)

	assert.Len(t, res.Vectors, 1)
	assert.Contains(t, res.Vectors, "app-1")
	require.Contains(t, res.Errors, "gone")
	assert.True(t, model.IsNotFound(res.Errors["gone"]))

	empty, err := ex.ExtractBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Vectors)
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()

	src := newTestSource()
	ents, _ := src.GetEntities(context.Background(), []string{"app-1"})
	acts, _ := src.ListActivities(context.Background(), []string{"app-1"}, daysAgo(90))

	a := Build(ents["app-1"], acts["app-1"], testNow, DefaultCycle(), 90)
	b := Build(ents["app-1"], acts["app-1"], testNow, DefaultCycle(), 90)
	assert.Equal(t, a, b)
}

func TestCyclePosition(t *testing.T) {
	t.Parallel()

	c := DefaultCycle()
	tests := []struct {
		name string
		at   time.Time
		want float64
	}{
		{"cycle open", time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), 0},
		{"before start wraps to previous cycle", time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC), 364.0 / 365.0},
		{"mid cycle", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), 182.0 / 365.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CyclePosition(tt.at, c), 1e-9)
		})
	}
}

func TestListCandidateIDs(t *testing.T) {
	t.Parallel()

	src := NewMemorySource()
	src.Put(model.Entity{ID: "b", OwnerID: "o1", Stage: model.StageEnquiry})
	src.Put(model.Entity{ID: "a", OwnerID: "o1", Stage: model.StageUnderReview})
	src.Put(model.Entity{ID: "c", OwnerID: "o1", Stage: model.StageEnrolled})
	src.Put(model.Entity{ID: "d", OwnerID: "o2", Stage: model.StageEnquiry})

	ids, err := src.ListCandidateIDs(context.Background(), "o1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	ids, err = src.ListCandidateIDs(context.Background(), "", 2)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestLoadFixtures(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fixtures.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
entities:
  - id: app-9
    owner_id: owner-1
    name: Grace Hopper
    stage: conditional_offer
    segment:
      fee_status: home
activities:
  - entity_id: app-9
    channel: email
    direction: inbound
    occurred_at: 2026-03-10T09:00:00Z
`), 0o644))

	f, err := LoadFixtures(path)
	require.NoError(t, err)
	require.Len(t, f.Entities, 1)
	assert.Equal(t, model.StageConditionalOffer, f.Entities[0].Stage)

	src := NewMemorySourceFromFixtures(f)
	acts, err := src.ListActivities(context.Background(), []string{"app-9"}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, acts["app-9"], 1)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entities:\n  - name: no id\n"), 0o644))
	_, err = LoadFixtures(bad)
	assert.Error(t, err)
}
