package scoring

import (
	"fmt"
	"math"

	"github.com/sells-group/pipeline-intel/internal/benchmark"
	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
)

// CoverageKeys are the optional signals whose presence drives confidence.
// Always-present counts are excluded so confidence does not saturate.
var CoverageKeys = []string{
	features.KeyStageIndex,
	features.KeyDaysInStage,
	features.KeyLastEngagementAt,
	features.KeySegmentFeeStatus,
	features.KeyLeadSource,
	features.KeyConsentOnFile,
	features.KeyMaxRating,
	features.KeyResponseMedianHours,
	features.KeyCyclePosition,
	features.KeyDepositPaid,
	features.KeyVisaDiscussed,
	features.KeySegmentProgramme,
}

const (
	confidenceFloor    = 0.2
	confidenceCoverage = 0.6
	recentBonus        = 0.10
	recentDays         = 7
	warmBonus          = 0.05
	warmDays           = 30
	unknownStageWeight = -0.10
)

// Engine scores feature vectors. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	cfg      config.ScoringConfig
	bench    benchmark.Provider
	rules    []Rule
	disabled map[model.Category]bool
	hash     string
}

// NewEngine creates an Engine. A nil bench disables benchmark variance.
func NewEngine(cfg config.ScoringConfig, bench benchmark.Provider) *Engine {
	cfg = merge(cfg)
	e := &Engine{
		cfg:      cfg,
		bench:    bench,
		rules:    DefaultRules(),
		disabled: make(map[model.Category]bool, len(cfg.DisabledCategories)),
		hash:     ConfigHash(cfg),
	}
	for _, c := range cfg.DisabledCategories {
		e.disabled[model.Category(c)] = true
	}
	return e
}

// WithRules returns a copy of the engine evaluating rules instead of the
// defaults.
func (e *Engine) WithRules(rules []Rule) *Engine {
	cp := *e
	cp.rules = rules
	return &cp
}

// ConfigHash fingerprints the engine's tunables.
func (e *Engine) ConfigHash() string { return e.hash }

// Config returns the effective configuration.
func (e *Engine) Config() config.ScoringConfig { return e.cfg }

// Clamp bounds p to the configured probability band.
func (e *Engine) Clamp(p float64) float64 {
	return math.Min(e.cfg.MaxProbability, math.Max(e.cfg.MinProbability, p))
}

// BaseProbability returns the base rate for stage.
func (e *Engine) BaseProbability(stage model.Stage) (float64, bool) {
	p, ok := e.cfg.BaseProbabilities[string(stage)]
	return p, ok
}

// TypicalDays returns the typical time spent in stage.
func (e *Engine) TypicalDays(stage model.Stage) (int, bool) {
	d, ok := e.cfg.TypicalDays[string(stage)]
	return d, ok
}

// Score predicts the probability that the entity described by fv advances to
// its next stage. It never fails: unknown stages degrade to a low-confidence
// prediction with an explanatory factor.
func (e *Engine) Score(fv model.FeatureVector) *model.ProgressionPrediction {
	stageName, _ := fv.Enum(features.KeyStage)
	stage := model.Stage(stageName)

	pred := &model.ProgressionPrediction{
		EntityID: fv.EntityID,
		Stage:    stage,
		Factors:  []model.AdjustmentFactor{},
	}

	info, known := model.LookupStage(stage)
	base, hasBase := e.BaseProbability(stage)
	switch {
	case !known || (!info.Terminal && !hasBase):
		pred.UnknownStage = true
		base = e.cfg.UnknownStageBase
		label := stageName
		if label == "" {
			label = "missing"
		}
		pred.Factors = append(pred.Factors, model.AdjustmentFactor{
			Weight:   unknownStageWeight,
			Reason:   fmt.Sprintf("unknown stage %q", label),
			Category: model.CategoryDataQuality,
		})
	case info.Terminal:
		// Nothing left to advance to.
		if stage == model.StageEnrolled {
			base = e.cfg.MaxProbability
		} else {
			base = e.cfg.MinProbability
		}
	}
	pred.BaseProbability = base

	if next, ok := model.NextStage(stage); ok {
		pred.NextStage = next
	}

	if !info.Terminal {
		for _, r := range e.rules {
			if e.disabled[r.Category] {
				continue
			}
			w, reason, ok := r.Eval(fv)
			if !ok || w == 0 {
				continue
			}
			pred.Factors = append(pred.Factors, model.AdjustmentFactor{Weight: w, Reason: reason, Category: r.Category})
		}
		if known && !e.disabled[model.CategoryBenchmark] {
			e.applyBenchmark(fv, pred)
		}
	}

	pred.Probability = e.Clamp(base + pred.FactorSum())
	e.estimateETA(fv, info, known, pred)
	pred.Confidence = e.confidence(fv, pred.UnknownStage)
	return pred
}

// applyBenchmark compares the projected probability with the sector rate and
// appends a capped factor when it falls outside the band. Benchmark failures
// leave the prediction unchanged.
func (e *Engine) applyBenchmark(fv model.FeatureVector, pred *model.ProgressionPrediction) {
	if e.bench == nil {
		return
	}
	segment, ok := fv.Enum(features.KeySegmentFeeStatus)
	if !ok {
		return
	}
	rate, err := e.bench.Rate(pred.Stage, segment)
	if err != nil {
		return
	}

	projected := e.Clamp(pred.BaseProbability + pred.FactorSum())
	variance := projected - rate
	pred.BenchmarkRate = &rate
	pred.BenchmarkVariance = &variance

	abs := math.Abs(variance)
	if abs <= e.cfg.BenchmarkBand {
		pred.BenchmarkLabel = "in line with benchmark"
		return
	}

	dir := "above"
	sign := 1.0
	if variance < 0 {
		dir = "below"
		sign = -1
	}
	label := dir + " benchmark"
	if abs > e.cfg.BenchmarkStrong {
		label = "significantly " + label
	}
	pred.BenchmarkLabel = label

	w := sign * math.Min(e.cfg.BenchmarkCap, (abs-e.cfg.BenchmarkBand)*e.cfg.BenchmarkScale)
	if w == 0 {
		return
	}
	pred.Factors = append(pred.Factors, model.AdjustmentFactor{
		Weight:   w,
		Reason:   fmt.Sprintf("%s (sector rate %.0f%%)", label, rate*100),
		Category: model.CategoryBenchmark,
	})
}

// estimateETA sets eta_days from the time remaining in the current stage,
// scaled by how unlikely progression is. Time already spent in the stage is
// subtracted once; downstream stages contribute their full typical duration
// to eta_to_enrol_days.
func (e *Engine) estimateETA(fv model.FeatureVector, info model.StageInfo, known bool, pred *model.ProgressionPrediction) {
	if !known || info.Terminal || pred.UnknownStage {
		return
	}
	typical, ok := e.TypicalDays(pred.Stage)
	if !ok {
		return
	}
	inStage, ok := fv.Number(features.KeyDaysInStage)
	if !ok || inStage < 0 {
		inStage = 0
	}
	remaining := math.Max(1, float64(typical)-inStage)
	eta := int(math.Ceil(remaining * (2 - pred.Probability)))
	pred.ETADays = &eta

	toEnrol := eta
	for _, s := range model.StagesAfter(pred.Stage) {
		d, _ := e.TypicalDays(s)
		toEnrol += d
	}
	pred.ETAToEnrolDays = &toEnrol
}

func (e *Engine) confidence(fv model.FeatureVector, unknownStage bool) float64 {
	c := confidenceFloor + confidenceCoverage*fv.Coverage(CoverageKeys)
	if d, ok := fv.Number(features.KeyDaysSinceEngagement); ok {
		switch {
		case d <= recentDays:
			c += recentBonus
		case d <= warmDays:
			c += warmBonus
		}
	}
	if unknownStage {
		c /= 2
	}
	return math.Min(1, math.Max(0, c))
}
