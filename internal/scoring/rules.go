package scoring

import (
	"fmt"
	"math"

	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
)

// Rule is one independent adjustment. Eval reports ok=false when the rule
// does not apply; a rule never contributes a zero-weight factor.
type Rule struct {
	Name     string
	Category model.Category
	Eval     func(fv model.FeatureVector) (weight float64, reason string, ok bool)
}

// band maps a numeric threshold to a weight and reason.
type band struct {
	below  float64
	weight float64
	reason string
}

// Response velocity bands, checked in order against median reply hours.
var responseBands = []band{
	{below: 4, weight: 0.20, reason: "very fast communication response"},
	{below: 24, weight: 0.10, reason: "fast communication response"},
}

const (
	slowResponseHours    = 72
	slowResponseWeight   = -0.05
	silentDays           = 30
	silentWeight         = -0.15
	portalLoginsMin      = 3
	inboundTouchesMin    = 5
	engagementWeight     = 0.05
	earlyCycleFraction   = 1.0 / 3.0
	lateCycleFraction    = 0.85
	cycleWeight          = 0.10
	depositPaidWeight    = 0.15
	visaDiscussedWeight  = 0.05
	visaMissingWeight    = -0.10
	missingContactWeight = -0.20
)

var leadSourceWeights = map[string]float64{
	"referral": 0.05,
	"agent":    0.03,
	"partner":  0.03,
	"event":    0.02,
}

// ratingWeights is indexed by the rounded 1-5 rating.
var ratingWeights = map[int]float64{
	5: 0.35,
	4: 0.20,
	2: -0.20,
	1: -0.35,
}

// DefaultRules returns the ordered adjustment rules.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "response_velocity", Category: model.CategoryResponsiveness, Eval: responseVelocity},
		{Name: "silent_period", Category: model.CategoryResponsiveness, Eval: silentPeriod},
		{Name: "portal_engagement", Category: model.CategoryEngagement, Eval: portalEngagement},
		{Name: "inbound_engagement", Category: model.CategoryEngagement, Eval: inboundEngagement},
		{Name: "lead_source", Category: model.CategoryLeadQuality, Eval: leadSource},
		{Name: "rating", Category: model.CategoryRating, Eval: rating},
		{Name: "cycle_position", Category: model.CategoryTemporalCycle, Eval: cyclePosition},
		{Name: "deposit_paid", Category: model.CategorySegment, Eval: depositPaid},
		{Name: "visa_discussion", Category: model.CategorySegment, Eval: visaDiscussion},
		{Name: "missing_contact", Category: model.CategoryDataQuality, Eval: missingContact},
	}
}

func responseVelocity(fv model.FeatureVector) (float64, string, bool) {
	h, ok := fv.Number(features.KeyResponseMedianHours)
	if !ok {
		return 0, "", false
	}
	for _, b := range responseBands {
		if h < b.below {
			return b.weight, fmt.Sprintf("%s (median %.1fh)", b.reason, h), true
		}
	}
	if h > slowResponseHours {
		return slowResponseWeight, fmt.Sprintf("slow communication response (median %.0fh)", h), true
	}
	return 0, "", false
}

func silentPeriod(fv model.FeatureVector) (float64, string, bool) {
	d, ok := fv.Number(features.KeyDaysSinceInbound)
	if !ok || d < silentDays {
		return 0, "", false
	}
	return silentWeight, "no response in 30+ days", true
}

func portalEngagement(fv model.FeatureVector) (float64, string, bool) {
	n, ok := fv.Number(features.KeyPortalLogins30d)
	if !ok || n < portalLoginsMin {
		return 0, "", false
	}
	return engagementWeight, fmt.Sprintf("active on the applicant portal (%.0f logins in 30 days)", n), true
}

func inboundEngagement(fv model.FeatureVector) (float64, string, bool) {
	n, ok := fv.Number(features.KeyInbound30d)
	if !ok || n < inboundTouchesMin {
		return 0, "", false
	}
	return engagementWeight, fmt.Sprintf("frequent inbound contact (%.0f in 30 days)", n), true
}

func leadSource(fv model.FeatureVector) (float64, string, bool) {
	src, ok := fv.Enum(features.KeyLeadSource)
	if !ok {
		return 0, "", false
	}
	w, ok := leadSourceWeights[src]
	if !ok {
		return 0, "", false
	}
	return w, fmt.Sprintf("%s lead source", src), true
}

// rating applies whichever of the interview and portfolio ratings moves the
// probability furthest.
func rating(fv model.FeatureVector) (float64, string, bool) {
	var best float64
	var reason string
	for _, r := range []struct {
		key   string
		label string
	}{
		{features.KeyInterviewRating, "interview"},
		{features.KeyPortfolioRating, "portfolio"},
	} {
		v, ok := fv.Number(r.key)
		if !ok {
			continue
		}
		w, ok := ratingWeights[int(math.Round(v))]
		if !ok || math.Abs(w) <= math.Abs(best) {
			continue
		}
		best = w
		reason = fmt.Sprintf("%s rating %.0f/5", r.label, math.Round(v))
	}
	if best == 0 {
		return 0, "", false
	}
	return best, reason, true
}

func cyclePosition(fv model.FeatureVector) (float64, string, bool) {
	pos, ok := fv.Number(features.KeyCyclePosition)
	if !ok {
		return 0, "", false
	}
	switch {
	case pos <= earlyCycleFraction:
		return cycleWeight, "applied early in the recruiting cycle", true
	case pos >= lateCycleFraction:
		return -cycleWeight, "applied very late in the recruiting cycle", true
	default:
		return 0, "", false
	}
}

func depositPaid(fv model.FeatureVector) (float64, string, bool) {
	paid, ok := fv.Bool(features.KeyDepositPaid)
	if !ok || !paid {
		return 0, "", false
	}
	return depositPaidWeight, "deposit paid", true
}

// visaStages are where an international applicant's visa route matters.
var visaStages = map[model.Stage]bool{
	model.StageConditionalOffer:   true,
	model.StageUnconditionalOffer: true,
	model.StageOfferAccepted:      true,
	model.StageDepositPaid:        true,
	model.StageVisaPending:        true,
}

func visaDiscussion(fv model.FeatureVector) (float64, string, bool) {
	intl, ok := fv.Bool(features.KeyIsInternational)
	if !ok || !intl {
		return 0, "", false
	}
	discussed, ok := fv.Bool(features.KeyVisaDiscussed)
	if !ok {
		return 0, "", false
	}
	if discussed {
		return visaDiscussedWeight, "visa route discussed", true
	}
	stage, _ := fv.Enum(features.KeyStage)
	if visaStages[model.Stage(stage)] {
		return visaMissingWeight, "visa route not yet discussed", true
	}
	return 0, "", false
}

func missingContact(fv model.FeatureVector) (float64, string, bool) {
	email, eok := fv.Bool(features.KeyHasEmail)
	phone, pok := fv.Bool(features.KeyHasPhone)
	if !eok || !pok || email || phone {
		return 0, "", false
	}
	return missingContactWeight, "missing contact info", true
}
