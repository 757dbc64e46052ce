// Package features turns stored entity data into flat, named feature vectors.
package features

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// CycleConfig positions a submission within the recruiting cycle.
type CycleConfig struct {
	StartMonth time.Month
	StartDay   int
	LengthDays int
}

// DefaultCycle starts on 1 October and runs for a year.
func DefaultCycle() CycleConfig {
	return CycleConfig{StartMonth: time.October, StartDay: 1, LengthDays: 365}
}

// Extractor gathers raw signals from a Source into feature vectors.
type Extractor struct {
	src      Source
	timeout  time.Duration
	lookback time.Duration
	cycle    CycleConfig
	nowFunc  func() time.Time
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithTimeout bounds every Source read.
func WithTimeout(d time.Duration) Option {
	return func(e *Extractor) { e.timeout = d }
}

// WithLookback sets how far back activities are read.
func WithLookback(d time.Duration) Option {
	return func(e *Extractor) { e.lookback = d }
}

// WithCycle sets the recruiting cycle used for cycle_position.
func WithCycle(c CycleConfig) Option {
	return func(e *Extractor) { e.cycle = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) { e.nowFunc = now }
}

// NewExtractor creates an Extractor reading from src.
func NewExtractor(src Source, opts ...Option) *Extractor {
	e := &Extractor{
		src:      src,
		timeout:  5 * time.Second,
		lookback: 90 * 24 * time.Hour,
		cycle:    DefaultCycle(),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.cycle.LengthDays <= 0 {
		e.cycle.LengthDays = 365
	}
	if e.cycle.StartMonth < time.January || e.cycle.StartMonth > time.December {
		e.cycle.StartMonth = time.October
	}
	if e.cycle.StartDay <= 0 {
		e.cycle.StartDay = 1
	}
	return e
}

// Extract builds the feature vector for a single entity. It returns a
// NotFound error when the entity does not exist and UpstreamTimeout when the
// reads exceed the configured timeout.
func (e *Extractor) Extract(ctx context.Context, entityID string) (model.FeatureVector, error) {
	if strings.TrimSpace(entityID) == "" {
		return model.FeatureVector{}, model.InvalidInputf("features: empty entity id")
	}
	res, err := e.ExtractBatch(ctx, []string{entityID})
	if err != nil {
		return model.FeatureVector{}, err
	}
	if ferr, ok := res.Errors[entityID]; ok {
		return model.FeatureVector{}, ferr
	}
	return res.Vectors[entityID], nil
}

// BatchResult holds per-entity vectors and failures from ExtractBatch.
type BatchResult struct {
	Vectors map[string]model.FeatureVector
	Errors  map[string]error
}

// ExtractBatch pre-fetches entities and their activities with one read each
// and builds a vector per id. Ids that do not exist are reported in Errors;
// a failed read fails the whole call.
func (e *Extractor) ExtractBatch(ctx context.Context, ids []string) (*BatchResult, error) {
	res := &BatchResult{
		Vectors: make(map[string]model.FeatureVector, len(ids)),
		Errors:  make(map[string]error),
	}
	if len(ids) == 0 {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	now := e.nowFunc().UTC()

	entities, err := e.src.GetEntities(ctx, ids)
	if err != nil {
		return nil, readErr(ctx, err, "features: get entities")
	}

	found := make([]string, 0, len(entities))
	for _, id := range ids {
		if _, ok := entities[id]; ok {
			found = append(found, id)
		} else {
			res.Errors[id] = model.NotFoundf("features: entity %s", id)
		}
	}
	if len(found) == 0 {
		return res, nil
	}

	activities, err := e.src.ListActivities(ctx, found, now.Add(-e.lookback))
	if err != nil {
		return nil, readErr(ctx, err, "features: list activities")
	}

	lookbackDays := e.lookback.Hours() / 24
	for _, id := range found {
		res.Vectors[id] = Build(entities[id], activities[id], now, e.cycle, lookbackDays)
	}
	return res, nil
}

func readErr(ctx context.Context, err error, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return eris.Wrap(model.ErrUpstreamTimeout, msg)
	}
	return eris.Wrap(err, msg)
}

// Build computes a feature vector from an entity and its recent activities.
// It is pure: the same inputs always give the same vector.
func Build(ent model.Entity, acts []model.Activity, now time.Time, cycle CycleConfig, lookbackDays float64) model.FeatureVector {
	v := make(map[string]model.Value, len(catalogue))

	buildStage(v, ent, now)
	buildProfile(v, ent)
	buildMilestones(v, ent, now, cycle)
	buildCommunication(v, ent, acts, now, lookbackDays)

	if ent.LastEngagementAt != nil && !ent.LastEngagementAt.IsZero() {
		v[KeyLastEngagementAt] = model.Time(*ent.LastEngagementAt)
		v[KeyDaysSinceEngagement] = model.Number(daysBetween(*ent.LastEngagementAt, now))
	} else if last, ok := lastActivity(acts, model.DirectionInbound); ok {
		v[KeyLastEngagementAt] = model.Time(last)
		v[KeyDaysSinceEngagement] = model.Number(daysBetween(last, now))
	}

	fv := model.NewFeatureVector(ent.ID, now, v, catalogue)
	fv.EntityName = ent.Name
	fv.OwnerID = ent.OwnerID
	return fv
}

func buildStage(v map[string]model.Value, ent model.Entity, now time.Time) {
	v[KeyStage] = model.EnumOrUnknown(string(ent.Stage))
	if idx, ok := model.StageIndex(ent.Stage); ok {
		v[KeyStageIndex] = model.Number(float64(idx))
		v[KeyStageProgress] = model.Number(float64(idx) / float64(len(model.ProgressionStages())-1))
	}
	if info, ok := model.LookupStage(ent.Stage); ok {
		v[KeyStagePhase] = model.Enum(string(info.Phase))
		v[KeyIsTerminal] = model.Bool(info.Terminal)
	}
	if ent.StageEnteredAt != nil && !ent.StageEnteredAt.IsZero() {
		v[KeyStageEnteredAt] = model.Time(*ent.StageEnteredAt)
		v[KeyDaysInStage] = model.Number(math.Max(0, daysBetween(*ent.StageEnteredAt, now)))
	}
	if !ent.CreatedAt.IsZero() {
		v[KeyDaysSinceCreated] = model.Number(math.Max(0, daysBetween(ent.CreatedAt, now)))
	}
	if !ent.UpdatedAt.IsZero() {
		v[KeyDaysSinceUpdated] = model.Number(math.Max(0, daysBetween(ent.UpdatedAt, now)))
	}
}

func buildProfile(v map[string]model.Value, ent model.Entity) {
	v[KeySegmentFeeStatus] = model.EnumOrUnknown(ent.Segment.FeeStatus)
	v[KeySegmentResidency] = model.EnumOrUnknown(ent.Segment.Residency)
	v[KeySegmentProgramme] = model.EnumOrUnknown(ent.Segment.Programme)
	if ent.Segment.Known() {
		v[KeyIsInternational] = model.Bool(ent.Segment.International())
	}
	v[KeyLeadSource] = model.EnumOrUnknown(strings.ToLower(ent.LeadSource))

	hasName := strings.TrimSpace(ent.Name) != ""
	hasEmail := strings.TrimSpace(ent.Email) != ""
	hasPhone := strings.TrimSpace(ent.Phone) != ""
	v[KeyHasName] = model.Bool(hasName)
	v[KeyHasEmail] = model.Bool(hasEmail)
	v[KeyHasPhone] = model.Bool(hasPhone)
	v[KeyContactCompleteness] = model.Number((b2f(hasName) + b2f(hasEmail) + b2f(hasPhone)) / 3)
	v[KeyConsentOnFile] = model.BoolPtr(ent.ConsentOnFile)

	v[KeyInterviewRating] = model.NumberPtr(ent.InterviewRating)
	v[KeyPortfolioRating] = model.NumberPtr(ent.PortfolioRating)
	switch {
	case ent.InterviewRating != nil && ent.PortfolioRating != nil:
		v[KeyMaxRating] = model.Number(math.Max(*ent.InterviewRating, *ent.PortfolioRating))
	case ent.InterviewRating != nil:
		v[KeyMaxRating] = model.Number(*ent.InterviewRating)
	case ent.PortfolioRating != nil:
		v[KeyMaxRating] = model.Number(*ent.PortfolioRating)
	}
}

func buildMilestones(v map[string]model.Value, ent model.Entity, now time.Time, cycle CycleConfig) {
	v[KeyInterviewScheduled] = model.Bool(ent.InterviewAt != nil)
	if ent.InterviewAt != nil {
		v[KeyDaysUntilInterview] = model.Number(daysBetween(now, *ent.InterviewAt))
	}
	v[KeyOfferPresent] = model.Bool(ent.OfferExpiresAt != nil)
	if ent.OfferExpiresAt != nil {
		v[KeyOfferExpiresInDays] = model.Number(daysBetween(now, *ent.OfferExpiresAt))
	}
	v[KeyDepositPaid] = model.BoolPtr(ent.DepositPaid)
	v[KeyVisaDiscussed] = model.BoolPtr(ent.VisaDiscussed)

	v[KeySubmitted] = model.Bool(ent.SubmittedAt != nil)
	if ent.SubmittedAt != nil && !ent.SubmittedAt.IsZero() {
		v[KeyDaysSinceSubmitted] = model.Number(math.Max(0, daysBetween(*ent.SubmittedAt, now)))
		v[KeyCyclePosition] = model.Number(CyclePosition(*ent.SubmittedAt, cycle))
	}
}

// CyclePosition returns where t falls within its recruiting cycle, from 0
// (cycle opened) to 1 (cycle closed).
func CyclePosition(t time.Time, c CycleConfig) float64 {
	t = t.UTC()
	start := time.Date(t.Year(), c.StartMonth, c.StartDay, 0, 0, 0, 0, time.UTC)
	if start.After(t) {
		start = start.AddDate(-1, 0, 0)
	}
	pos := daysBetween(start, t) / float64(c.LengthDays)
	return math.Min(1, math.Max(0, pos))
}

func buildCommunication(v map[string]model.Value, ent model.Entity, acts []model.Activity, now time.Time, lookbackDays float64) {
	type countKey struct {
		ch  model.Channel
		dir model.Direction
		w   int
	}
	counts := make(map[countKey]int)
	lastByChannel := make(map[model.Channel]time.Time)
	channelTotal := make(map[model.Channel]int)
	var responses []float64
	var inbound = [3]int{}
	var outbound = [3]int{}
	total := 0

	sorted := make([]model.Activity, len(acts))
	copy(sorted, acts)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].OccurredAt.Before(sorted[j].OccurredAt) })

	streak := 0
	for _, a := range sorted {
		age := daysBetween(a.OccurredAt, now)
		if age < 0 {
			age = 0
		}
		for i, w := range Windows {
			if age <= float64(w) {
				counts[countKey{a.Channel, a.Direction, w}]++
				if a.Direction == model.DirectionInbound {
					inbound[i]++
				} else {
					outbound[i]++
				}
			}
		}
		total++
		channelTotal[a.Channel]++
		if a.OccurredAt.After(lastByChannel[a.Channel]) {
			lastByChannel[a.Channel] = a.OccurredAt
		}
		if a.Direction == model.DirectionInbound {
			streak = 0
			if a.ResponseMinutes != nil && *a.ResponseMinutes >= 0 {
				responses = append(responses, *a.ResponseMinutes/60)
			}
		} else {
			streak++
		}
	}

	for _, ch := range model.Channels {
		for _, dir := range []model.Direction{model.DirectionInbound, model.DirectionOutbound} {
			for _, w := range Windows {
				v[ChannelKey(ch, dir, w)] = model.Number(float64(counts[countKey{ch, dir, w}]))
			}
		}
		if last, ok := lastByChannel[ch]; ok {
			v[ChannelRecencyKey(ch)] = model.Number(daysBetween(last, now))
		}
		if total > 0 {
			v[ChannelShareKey(ch)] = model.Number(float64(channelTotal[ch]) / float64(total))
		}
	}

	v[KeyInbound7d] = model.Number(float64(inbound[0]))
	v[KeyInbound30d] = model.Number(float64(inbound[1]))
	v[KeyInbound90d] = model.Number(float64(inbound[2]))
	v[KeyOutbound7d] = model.Number(float64(outbound[0]))
	v[KeyOutbound30d] = model.Number(float64(outbound[1]))
	v[KeyOutbound90d] = model.Number(float64(outbound[2]))
	v[KeyTouches30d] = model.Number(float64(inbound[1] + outbound[1]))
	v[KeyTouches90d] = model.Number(float64(inbound[2] + outbound[2]))
	v[KeyUnansweredStreak] = model.Number(float64(streak))

	docs := 0
	for _, dir := range []model.Direction{model.DirectionInbound, model.DirectionOutbound} {
		docs += counts[countKey{model.ChannelDocument, dir, 30}]
	}
	v[KeyDocumentActivity30d] = model.Number(float64(docs))
	v[KeyPortalLogins30d] = model.Number(float64(counts[countKey{model.ChannelPortal, model.DirectionInbound, 30}]))

	switch {
	case outbound[1] > 0:
		v[KeyInboundOutboundRatio] = model.Number(float64(inbound[1]) / float64(outbound[1]))
	case inbound[1] > 0:
		v[KeyInboundOutboundRatio] = model.Number(float64(inbound[1]))
	}

	prior := float64(inbound[2]-inbound[1]) / 2
	v[KeyEngagementTrend] = model.Number(float64(inbound[1]) / math.Max(1, prior))

	if len(responses) > 0 {
		sort.Float64s(responses)
		v[KeyResponseMedianHours] = model.Number(median(responses))
		v[KeyResponseMeanHours] = model.Number(mean(responses))
		v[KeyResponseMinHours] = model.Number(responses[0])
	}
	v[KeyResponseCount] = model.Number(float64(len(responses)))

	// With no touch in the lookback window the gap is at least the window, or
	// the entity's age when it is younger than that.
	floor := lookbackDays
	if !ent.CreatedAt.IsZero() {
		floor = math.Min(floor, math.Max(0, daysBetween(ent.CreatedAt, now)))
	}
	// Engagement recorded on the entity is applicant-initiated, so it counts
	// as inbound even when the activity rows behind it are not loaded.
	lastIn, ok := lastActivity(sorted, model.DirectionInbound)
	if e := ent.LastEngagementAt; e != nil && e.After(lastIn) {
		lastIn, ok = *e, true
	}
	if ok {
		v[KeyDaysSinceInbound] = model.Number(math.Max(0, daysBetween(lastIn, now)))
	} else if !ent.CreatedAt.IsZero() {
		v[KeyDaysSinceInbound] = model.Number(floor)
	}
	if last, ok := lastActivity(sorted, model.DirectionOutbound); ok {
		v[KeyDaysSinceOutbound] = model.Number(daysBetween(last, now))
	} else if !ent.CreatedAt.IsZero() {
		v[KeyDaysSinceOutbound] = model.Number(floor)
	}
}

func lastActivity(acts []model.Activity, dir model.Direction) (time.Time, bool) {
	var last time.Time
	for _, a := range acts {
		if a.Direction == dir && a.OccurredAt.After(last) {
			last = a.OccurredAt
		}
	}
	return last, !last.IsZero()
}

func daysBetween(from, to time.Time) float64 {
	return to.Sub(from).Hours() / 24
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
