// Package scoring implements the explainable progression model: a stage base
// probability plus additive, labeled adjustment factors, clamped to a band.
package scoring

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
)

// DefaultConfig returns a config.ScoringConfig with the built-in stage tables.
func DefaultConfig() config.ScoringConfig {
	return config.ScoringConfig{
		MinProbability:   0.05,
		MaxProbability:   0.95,
		BenchmarkBand:    0.10,
		BenchmarkStrong:  0.20,
		BenchmarkScale:   0.25,
		BenchmarkCap:     0.05,
		UnknownStageBase: 0.50,

		// Probability of reaching the next stage.
		BaseProbabilities: map[string]float64{
			"enquiry":               0.30,
			"pre_application":       0.60,
			"application_started":   0.55,
			"application_submitted": 0.75,
			"documents_pending":     0.65,
			"under_review":          0.70,
			"interview_invited":     0.80,
			"interview_scheduled":   0.85,
			"interview_completed":   0.65,
			"portfolio_review":      0.60,
			"conditional_offer":     0.55,
			"unconditional_offer":   0.50,
			"offer_accepted":        0.70,
			"deposit_paid":          0.85,
			"visa_pending":          0.80,
			"pre_enrolment":         0.90,
		},

		// Typical days spent in each stage.
		TypicalDays: map[string]int{
			"enquiry":               14,
			"pre_application":       21,
			"application_started":   10,
			"application_submitted": 7,
			"documents_pending":     10,
			"under_review":          14,
			"interview_invited":     7,
			"interview_scheduled":   10,
			"interview_completed":   7,
			"portfolio_review":      10,
			"conditional_offer":     30,
			"unconditional_offer":   21,
			"offer_accepted":        30,
			"deposit_paid":          45,
			"visa_pending":          30,
			"pre_enrolment":         14,
		},
	}
}

// merge fills zero scalars from the defaults and overlays table overrides on
// the default tables.
func merge(c config.ScoringConfig) config.ScoringConfig {
	d := DefaultConfig()
	if c.MinProbability == 0 && c.MaxProbability == 0 {
		c.MinProbability, c.MaxProbability = d.MinProbability, d.MaxProbability
	}
	if c.BenchmarkBand == 0 {
		c.BenchmarkBand = d.BenchmarkBand
	}
	if c.BenchmarkStrong == 0 {
		c.BenchmarkStrong = d.BenchmarkStrong
	}
	if c.BenchmarkScale == 0 {
		c.BenchmarkScale = d.BenchmarkScale
	}
	if c.BenchmarkCap == 0 {
		c.BenchmarkCap = d.BenchmarkCap
	}
	if c.UnknownStageBase == 0 {
		c.UnknownStageBase = d.UnknownStageBase
	}
	for k, v := range c.BaseProbabilities {
		d.BaseProbabilities[strings.ToLower(k)] = v
	}
	for k, v := range c.TypicalDays {
		d.TypicalDays[strings.ToLower(k)] = v
	}
	c.BaseProbabilities = d.BaseProbabilities
	c.TypicalDays = d.TypicalDays
	return c
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	if c.MinProbability < 0 || c.MaxProbability > 1 || c.MinProbability >= c.MaxProbability {
		errs = append(errs, fmt.Sprintf("clamp [%.2f, %.2f] must satisfy 0 <= min < max <= 1", c.MinProbability, c.MaxProbability))
	}
	if c.BenchmarkBand < 0 || c.BenchmarkStrong < c.BenchmarkBand {
		errs = append(errs, "benchmark_strong must be >= benchmark_band >= 0")
	}
	if c.BenchmarkCap < 0 || c.BenchmarkScale < 0 {
		errs = append(errs, "benchmark_cap and benchmark_scale must be >= 0")
	}
	if c.UnknownStageBase < 0 || c.UnknownStageBase > 1 {
		errs = append(errs, "unknown_stage_base must be between 0 and 1")
	}
	for name, p := range c.BaseProbabilities {
		s := model.Stage(name)
		if !s.Known() {
			errs = append(errs, fmt.Sprintf("base_probabilities: unknown stage %q", name))
			continue
		}
		if p < 0 || p > 1 {
			errs = append(errs, fmt.Sprintf("base_probabilities.%s must be between 0 and 1", name))
		}
	}
	for name, d := range c.TypicalDays {
		if !model.Stage(name).Known() {
			errs = append(errs, fmt.Sprintf("typical_days: unknown stage %q", name))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("typical_days.%s must be > 0", name))
		}
	}
	for _, cat := range c.DisabledCategories {
		if !knownCategory(model.Category(cat)) {
			errs = append(errs, fmt.Sprintf("disabled_categories: unknown category %q", cat))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scoring: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a short stable fingerprint of the model configuration.
func ConfigHash(c config.ScoringConfig) string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

func knownCategory(c model.Category) bool {
	switch c {
	case model.CategoryLeadQuality, model.CategoryEngagement, model.CategoryResponsiveness,
		model.CategoryRating, model.CategoryTemporalCycle, model.CategorySegment,
		model.CategoryDataQuality, model.CategoryBenchmark:
		return true
	default:
		return false
	}
}
