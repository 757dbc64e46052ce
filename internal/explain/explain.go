// Package explain renders predictions as short human-readable summaries.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// DefaultTopN is how many factors are listed per direction.
const DefaultTopN = 5

// Explanation is the structured form of a rendered summary.
type Explanation struct {
	Summary  string                   `json:"summary"`
	Positive []model.AdjustmentFactor `json:"positive"`
	Negative []model.AdjustmentFactor `json:"negative"`
	Text     string                   `json:"text"`
}

// Explain renders pred with the default top-N.
func Explain(pred *model.ProgressionPrediction) string {
	return Build(pred, DefaultTopN).Text
}

// Build ranks pred's factors by absolute weight and splits them into
// positive and negative contributors, keeping at most topN of each.
func Build(pred *model.ProgressionPrediction, topN int) Explanation {
	if topN <= 0 {
		topN = DefaultTopN
	}
	ranked := Ranked(pred.Factors)

	var ex Explanation
	for _, f := range ranked {
		switch {
		case f.Weight > 0 && len(ex.Positive) < topN:
			ex.Positive = append(ex.Positive, f)
		case f.Weight < 0 && len(ex.Negative) < topN:
			ex.Negative = append(ex.Negative, f)
		}
	}

	ex.Summary = summary(pred)
	if len(pred.Factors) == 0 {
		ex.Text = ex.Summary + " No adjustments applied."
		return ex
	}

	var b strings.Builder
	b.WriteString(ex.Summary)
	if len(ex.Positive) > 0 {
		b.WriteString("\nHelping:")
		for _, f := range ex.Positive {
			fmt.Fprintf(&b, "\n  + %s (%s)", f.Reason, pct(f.Weight))
		}
	}
	if len(ex.Negative) > 0 {
		b.WriteString("\nHolding back:")
		for _, f := range ex.Negative {
			fmt.Fprintf(&b, "\n  - %s (%s)", f.Reason, pct(f.Weight))
		}
	}
	if pred.BenchmarkLabel != "" && pred.BenchmarkRate != nil {
		fmt.Fprintf(&b, "\nSector comparison: %s (%.0f%% expected).", pred.BenchmarkLabel, *pred.BenchmarkRate*100)
	}
	ex.Text = b.String()
	return ex
}

// Ranked returns a copy of factors sorted by absolute weight, largest first.
// Ties keep their original order.
func Ranked(factors []model.AdjustmentFactor) []model.AdjustmentFactor {
	out := make([]model.AdjustmentFactor, len(factors))
	copy(out, factors)
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Weight) > math.Abs(out[j].Weight)
	})
	return out
}

// TopReasons returns the reasons of the n largest factors.
func TopReasons(factors []model.AdjustmentFactor, n int) []string {
	ranked := Ranked(factors)
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].Reason
	}
	return out
}

func summary(pred *model.ProgressionPrediction) string {
	stage := string(pred.Stage)
	if stage == "" {
		stage = "unknown"
	}
	target := "the next stage"
	if pred.NextStage != "" {
		target = humanize(string(pred.NextStage))
	}
	return fmt.Sprintf("Base rate at %s is %.0f%%; %.0f%% likely to reach %s.",
		humanize(stage), pred.BaseProbability*100, pred.Probability*100, target)
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func pct(w float64) string {
	return fmt.Sprintf("%+.0f%%", w*100)
}
