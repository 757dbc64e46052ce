package triage

import (
	"math"

	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
)

// Urgency contexts. Only the strongest applicable multiplier counts.
const (
	UrgencyOfferExpiringToday  = "offer_expiring_today"
	UrgencyOfferExpiringSoon   = "offer_expiring_soon"
	UrgencyInterviewTomorrow   = "interview_tomorrow"
	UrgencyUnresponsiveLong    = "unresponsive_long"
	UrgencyCriticalBlocker     = "critical_blocker"
	UrgencyDeadlineApproaching = "deadline_approaching"
)

// Multipliers maps each urgency context to its multiplier.
var Multipliers = map[string]float64{
	UrgencyOfferExpiringToday:  5.0,
	UrgencyOfferExpiringSoon:   3.0,
	UrgencyInterviewTomorrow:   2.5,
	UrgencyUnresponsiveLong:    2.5,
	UrgencyCriticalBlocker:     2.0,
	UrgencyDeadlineApproaching: 1.5,
}

const (
	maxMultiplier      = 5.0
	callMultiplier     = 2.5
	unresponsiveDays   = 21
	offerSoonDays      = 3
	interviewSoonDays  = 2
	deadlineDays       = 7
	defaultPeakDays    = 7.0
	unknownFreshness   = 0.3
	weightImpact       = 0.4
	weightUrgency      = 0.35
	weightFreshness    = 0.25
	maxProbabilityTerm = 1.45
)

// actionLift is the share of remaining headroom an action is expected to
// recover.
var actionLift = map[model.ActionType]float64{
	model.ActionMessage: 0.05,
	model.ActionCall:    0.10,
	model.ActionFlag:    0.04,
	model.ActionUnblock: 0.12,
}

// flagKinds are blockers that need a human to fix the record first.
var flagKinds = map[model.BlockerKind]bool{
	model.BlockerMissingContact: true,
	model.BlockerNoConsent:      true,
}

// Urgency returns the strongest urgency context on fv and its multiplier.
// With no context the multiplier is 1.
func Urgency(fv model.FeatureVector, blockers []model.Blocker) (string, float64) {
	var matched []string
	if d, ok := fv.Number(features.KeyOfferExpiresInDays); ok && d >= 0 {
		switch {
		case d < 1:
			matched = append(matched, UrgencyOfferExpiringToday)
		case d <= offerSoonDays:
			matched = append(matched, UrgencyOfferExpiringSoon)
		case d <= deadlineDays:
			matched = append(matched, UrgencyDeadlineApproaching)
		}
	}
	if d, ok := fv.Number(features.KeyDaysUntilInterview); ok && d >= 0 {
		switch {
		case d < interviewSoonDays:
			matched = append(matched, UrgencyInterviewTomorrow)
		case d <= deadlineDays:
			matched = append(matched, UrgencyDeadlineApproaching)
		}
	}
	if d, ok := fv.Number(features.KeyDaysSinceEngagement); ok && d >= unresponsiveDays {
		matched = append(matched, UrgencyUnresponsiveLong)
	}
	for _, b := range blockers {
		if b.Severity == model.SeverityCritical {
			matched = append(matched, UrgencyCriticalBlocker)
			break
		}
	}

	label, mult := "", 1.0
	for _, m := range matched {
		if Multipliers[m] > mult {
			label, mult = m, Multipliers[m]
		}
	}
	return label, mult
}

// Freshness scores days since last engagement. It peaks at peakDays and
// decays for staler entities. Unknown engagement scores 0.3.
func Freshness(days float64, known bool, peakDays float64) float64 {
	if !known {
		return unknownFreshness
	}
	if peakDays <= 0 {
		peakDays = defaultPeakDays
	}
	if days <= 0 {
		return 0
	}
	x := days / peakDays
	return x * math.Exp(1-x)
}

// Impact rates how much acting on the entity can move the outcome: later
// stages are worth more, as is headroom below the probability ceiling.
func Impact(pred *model.ProgressionPrediction, maxProb float64) float64 {
	stageWeight := 0.5
	if idx, ok := model.StageIndex(pred.Stage); ok {
		stageWeight = float64(idx+1) / float64(len(model.ProgressionStages()))
	}
	headroom := 0.0
	if maxProb > 0 {
		headroom = math.Max(0, maxProb-pred.Probability) / maxProb
	}
	return clamp01(0.6*stageWeight + 0.4*headroom)
}

// Priority combines the normalised components into [0, 1].
func Priority(impact, urgency, freshness, probability float64) float64 {
	raw := (weightImpact*impact + weightUrgency*urgency + weightFreshness*freshness) * (0.5 + probability)
	return clamp01(raw / maxProbabilityTerm)
}

// NormaliseUrgency maps a multiplier onto [0, 1].
func NormaliseUrgency(mult float64) float64 {
	return clamp01(mult / maxMultiplier)
}

// Actions returns the applicable action types, best first. The list always
// ends with a message.
func Actions(blockers []model.Blocker, mult float64) []model.ActionType {
	var out []model.ActionType
	flag, unblock := false, false
	for _, b := range blockers {
		if flagKinds[b.Kind] {
			flag = true
		} else {
			unblock = true
		}
	}
	if flag {
		out = append(out, model.ActionFlag)
	}
	if unblock {
		out = append(out, model.ActionUnblock)
	}
	if mult >= callMultiplier {
		out = append(out, model.ActionCall)
	}
	return append(out, model.ActionMessage)
}

// ExpectedGain estimates the probability lift of taking action.
func ExpectedGain(action model.ActionType, probability, maxProb float64) float64 {
	return actionLift[action] * math.Max(0, maxProb-probability)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
