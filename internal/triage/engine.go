// Package triage ranks candidate applicants by how much a next action is
// worth right now and drafts that action.
package triage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pipeline-intel/internal/artifact"
	"github.com/sells-group/pipeline-intel/internal/blockers"
	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/explain"
	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/scoring"
	"github.com/sells-group/pipeline-intel/internal/telemetry"
)

// ActiveKeyer reports the queue slots already taken for an owner.
type ActiveKeyer interface {
	ActiveKeys(ctx context.Context, ownerID string, now time.Time) (map[model.QueueKey]bool, error)
}

// Request describes one triage run. Empty CandidateIDs lists the owner's
// open applications from the source. Zero Limit uses the configured default.
type Request struct {
	OwnerID      string   `json:"owner_id,omitempty"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	Limit        int      `json:"limit"`
}

// Result is the ranked output of a triage run.
type Result struct {
	Items      []model.TriageItem `json:"items"`
	Candidates int                `json:"candidates"`
	Scored     int                `json:"scored"`
	Terminal   int                `json:"terminal"`
	Duplicates int                `json:"duplicates"`
	Failed     map[string]string  `json:"failed,omitempty"`
	// Partial is set when the run deadline cut extraction short.
	Partial bool `json:"partial"`
}

// Engine runs triage. It is safe for concurrent use.
type Engine struct {
	cfg        config.TriageConfig
	src        features.Source
	extractor  *features.Extractor
	scorer     *scoring.Engine
	detector   *blockers.Detector
	gen        artifact.Generator
	queue      ActiveKeyer
	sink       telemetry.Sink
	topFactors int
	nowFunc    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueue dedupes results against active queue entries.
func WithQueue(q ActiveKeyer) Option {
	return func(e *Engine) { e.queue = q }
}

// WithSink emits telemetry events.
func WithSink(s telemetry.Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithClock overrides the time source for extraction and dedupe.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.nowFunc = now }
}

// WithTopFactors sets how many explanation reasons feed each artifact.
func WithTopFactors(n int) Option {
	return func(e *Engine) { e.topFactors = n }
}

// New creates an Engine.
func New(cfg config.TriageConfig, src features.Source, scorer *scoring.Engine, gen artifact.Generator, opts ...Option) *Engine {
	cfg = withDefaults(cfg)
	e := &Engine{
		cfg:        cfg,
		src:        src,
		scorer:     scorer,
		detector:   blockers.NewDetector(),
		gen:        gen,
		sink:       telemetry.Nop{},
		topFactors: 3,
		nowFunc:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	e.extractor = features.NewExtractor(src,
		features.WithTimeout(cfg.ExtractTimeout()),
		features.WithLookback(time.Duration(cfg.LookbackDays)*24*time.Hour),
		features.WithCycle(features.CycleConfig{
			StartMonth: time.Month(cfg.CycleStartMonth),
			StartDay:   cfg.CycleStartDay,
			LengthDays: cfg.CycleLengthDays,
		}),
		features.WithClock(e.nowFunc),
	)
	return e
}

func withDefaults(c config.TriageConfig) config.TriageConfig {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 25
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 20
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 200
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 1000
	}
	if c.DeadlineSecs <= 0 {
		c.DeadlineSecs = 20
	}
	if c.ExtractTimeoutSecs <= 0 {
		c.ExtractTimeoutSecs = 5
	}
	if c.LookbackDays <= 0 {
		c.LookbackDays = 90
	}
	if c.FreshnessPeakDays <= 0 {
		c.FreshnessPeakDays = defaultPeakDays
	}
	return c
}

// assessment is everything derived from one feature vector.
type assessment struct {
	fv       model.FeatureVector
	pred     *model.ProgressionPrediction
	blockers []model.Blocker
	urgency  string
	mult     float64
	priority float64
	actions  []model.ActionType
}

func (e *Engine) assess(fv model.FeatureVector) assessment {
	pred := e.scorer.Score(fv)
	bs := e.detector.Detect(fv)
	label, mult := Urgency(fv, bs)
	days, known := fv.Number(features.KeyDaysSinceEngagement)

	impact := Impact(pred, e.scorer.Config().MaxProbability)
	fresh := Freshness(days, known, e.cfg.FreshnessPeakDays)
	return assessment{
		fv:       fv,
		pred:     pred,
		blockers: bs,
		urgency:  label,
		mult:     mult,
		priority: Priority(impact, NormaliseUrgency(mult), fresh, pred.Probability),
		actions:  Actions(bs, mult),
	}
}

func (e *Engine) item(a assessment, action model.ActionType) model.TriageItem {
	return model.TriageItem{
		EntityID:     a.fv.EntityID,
		EntityName:   a.fv.EntityName,
		Stage:        a.pred.Stage,
		ActionType:   action,
		Priority:     a.priority,
		ExpectedGain: ExpectedGain(action, a.pred.Probability, e.scorer.Config().MaxProbability),
		Probability:  a.pred.Probability,
		Urgency:      a.urgency,
		Reason:       reason(a),
		Blockers:     a.blockers,
	}
}

func reason(a assessment) string {
	var parts []string
	if a.urgency != "" {
		parts = append(parts, strings.ReplaceAll(a.urgency, "_", " "))
	}
	if b, ok := blockers.MostSevere(a.blockers); ok {
		parts = append(parts, b.Description)
	}
	if top := explain.TopReasons(a.pred.Factors, 1); len(top) > 0 {
		parts = append(parts, top[0])
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%.0f%% likely to progress", a.pred.Probability*100)
	}
	return strings.Join(parts, "; ")
}

func (e *Engine) draft(ctx context.Context, a assessment, it *model.TriageItem) error {
	art, err := e.gen.Generate(ctx, artifact.Request{
		EntityID:    it.EntityID,
		EntityName:  it.EntityName,
		Stage:       it.Stage,
		Action:      it.ActionType,
		Probability: it.Probability,
		Urgency:     it.Urgency,
		Blockers:    it.Blockers,
		Reasons:     explain.TopReasons(a.pred.Factors, e.topFactors),
	})
	if err != nil {
		return eris.Wrapf(err, "triage: draft %s for %s", it.ActionType, it.EntityID)
	}
	it.Artifact = art
	return nil
}

// GenerateQueue scores the candidates, drops terminal ones and those already
// queued, and returns the top Limit items with artifacts. When the run
// deadline passes, the items scored so far are ranked and Partial is set.
func (e *Engine) GenerateQueue(ctx context.Context, req Request) (res *Result, err error) {
	tm := telemetry.Start(e.sink, "triage")
	defer func() {
		outcome := telemetry.OutcomeOf(err)
		if err == nil && res.Partial {
			outcome = telemetry.OutcomePartial
		}
		var ids []string
		if res != nil {
			for _, it := range res.Items {
				ids = append(ids, it.EntityID)
			}
		}
		tm.Done(ctx, outcome, ids...)
	}()

	limit := req.Limit
	if limit == 0 {
		limit = e.cfg.DefaultLimit
	}
	if limit < 1 || limit > e.cfg.MaxLimit {
		return nil, model.InvalidInputf("triage: limit %d outside [1, %d]", req.Limit, e.cfg.MaxLimit)
	}

	log := zap.L().With(zap.String("component", "triage"), zap.String("owner", req.OwnerID))

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline())
	defer cancel()

	ids := dedupeIDs(req.CandidateIDs)
	if len(ids) == 0 {
		ids, err = e.src.ListCandidateIDs(runCtx, req.OwnerID, e.cfg.MaxCandidates)
		if err != nil {
			return nil, eris.Wrap(err, "triage: list candidates")
		}
	}

	res = &Result{Candidates: len(ids), Failed: make(map[string]string)}
	scored, partial := e.scoreAll(runCtx, ids, res.Failed)
	res.Partial = partial

	var ranked []assessment
	for _, a := range scored {
		if stage, ok := a.fv.Enum(features.KeyStage); ok && model.Stage(stage).Terminal() {
			res.Terminal++
			continue
		}
		ranked = append(ranked, a)
	}
	res.Scored = len(ranked)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].priority != ranked[j].priority {
			return ranked[i].priority > ranked[j].priority
		}
		return ranked[i].fv.EntityID < ranked[j].fv.EntityID
	})

	now := e.nowFunc()
	active := map[model.QueueKey]bool{}
	if e.queue != nil {
		// A run that outlived its deadline still dedupes under the caller's ctx.
		active, err = e.queue.ActiveKeys(ctx, req.OwnerID, now)
		if err != nil {
			return nil, eris.Wrap(err, "triage: active queue keys")
		}
	}

	for _, a := range ranked {
		if len(res.Items) >= limit {
			break
		}
		action := a.actions[0]
		if active[model.QueueKey{OwnerID: req.OwnerID, EntityID: a.fv.EntityID, ActionType: action}] {
			res.Duplicates++
			continue
		}
		res.Items = append(res.Items, e.item(a, action))
	}

	byID := make(map[string]assessment, len(ranked))
	for _, a := range ranked {
		byID[a.fv.EntityID] = a
	}
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i := range res.Items {
		g.Go(func() error {
			it := &res.Items[i]
			return e.draft(gCtx, byID[it.EntityID], it)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("triage: run complete",
		zap.Int("candidates", res.Candidates),
		zap.Int("scored", res.Scored),
		zap.Int("terminal", res.Terminal),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("failed", len(res.Failed)),
		zap.Int("items", len(res.Items)),
		zap.Bool("partial", res.Partial),
	)
	return res, nil
}

// scoreAll extracts and assesses ids in chunks on a bounded worker pool.
// Chunks not started before ctx ends are reported as failed and the run is
// marked partial.
func (e *Engine) scoreAll(ctx context.Context, ids []string, failed map[string]string) ([]assessment, bool) {
	var (
		mu      sync.Mutex
		out     []assessment
		partial bool
	)
	fail := func(chunk []string, err error) {
		mu.Lock()
		defer mu.Unlock()
		for _, id := range chunk {
			failed[id] = err.Error()
		}
		if model.IsUpstreamTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			partial = true
		}
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for _, chunk := range chunks(ids, e.cfg.ChunkSize) {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				fail(chunk, eris.Wrap(model.ErrUpstreamTimeout, "triage: run deadline"))
				return nil
			}
			batch, err := e.extractor.ExtractBatch(ctx, chunk)
			if err != nil {
				zap.L().Warn("triage: chunk extraction failed",
					zap.String("component", "triage"),
					zap.Int("size", len(chunk)),
					zap.Error(err),
				)
				fail(chunk, err)
				return nil
			}
			local := make([]assessment, 0, len(batch.Vectors))
			for _, id := range chunk {
				if fv, ok := batch.Vectors[id]; ok {
					local = append(local, e.assess(fv))
				}
			}
			mu.Lock()
			out = append(out, local...)
			for id, ferr := range batch.Errors {
				failed[id] = ferr.Error()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		partial = true
	}
	return out, partial
}

// Preview builds the item and artifact for a forced action without touching
// the queue.
func (e *Engine) Preview(ctx context.Context, ownerID, entityID string, action model.ActionType) (it *model.TriageItem, err error) {
	tm := telemetry.Start(e.sink, "preview")
	defer func() { tm.Done(ctx, telemetry.OutcomeOf(err), entityID) }()

	if !action.Valid() {
		return nil, model.InvalidInputf("triage: unknown action type %q", action)
	}
	fv, err := e.extractor.Extract(ctx, entityID)
	if err != nil {
		return nil, err
	}
	if stage, ok := fv.Enum(features.KeyStage); ok && model.Stage(stage).Terminal() {
		return nil, model.InvalidInputf("triage: entity %s is in terminal stage %s", entityID, stage)
	}

	a := e.assess(fv)
	item := e.item(a, action)
	if err := e.draft(ctx, a, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func chunks(ids []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
