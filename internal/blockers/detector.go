// Package blockers scans feature vectors for missing-data and
// stalled-engagement conditions that stop an applicant from progressing.
package blockers

import (
	"fmt"

	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
)

// Rule is an independent predicate over a feature vector.
type Rule struct {
	Kind   model.BlockerKind
	Detect func(fv model.FeatureVector) (model.Blocker, bool)
}

const (
	stalledMediumDays  = 14
	stalledHighDays    = 30
	offerExpiringDays  = 3
	depositGraceDays   = 14
	documentWindowDays = 30
)

// DefaultRules returns the blocker rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Kind: model.BlockerMissingContact, Detect: missingContact},
		{Kind: model.BlockerNoConsent, Detect: noConsent},
		{Kind: model.BlockerStalledEngagement, Detect: stalledEngagement},
		{Kind: model.BlockerNoInterviewScheduled, Detect: noInterviewScheduled},
		{Kind: model.BlockerMissingDocuments, Detect: missingDocuments},
		{Kind: model.BlockerOfferExpiring, Detect: offerExpiring},
		{Kind: model.BlockerDepositOutstanding, Detect: depositOutstanding},
		{Kind: model.BlockerVisaDocumentation, Detect: visaDocumentation},
	}
}

// Detector runs blocker rules in a fixed order.
type Detector struct {
	rules []Rule
}

// NewDetector creates a Detector with the default rules.
func NewDetector() *Detector {
	return &Detector{rules: DefaultRules()}
}

// Detect returns every blocker present on fv, in rule order. Unknown values
// never trigger a rule.
func (d *Detector) Detect(fv model.FeatureVector) []model.Blocker {
	out := []model.Blocker{}
	if stage, ok := fv.Enum(features.KeyStage); ok && model.Stage(stage).Terminal() {
		return out
	}
	for _, r := range d.rules {
		if b, ok := r.Detect(fv); ok {
			b.Kind = r.Kind
			out = append(out, b)
		}
	}
	return out
}

// MostSevere returns the highest-severity blocker, or false when there are none.
func MostSevere(bs []model.Blocker) (model.Blocker, bool) {
	if len(bs) == 0 {
		return model.Blocker{}, false
	}
	best := bs[0]
	for _, b := range bs[1:] {
		if b.Severity.Rank() > best.Severity.Rank() {
			best = b
		}
	}
	return best, true
}

func stageOf(fv model.FeatureVector) (model.StageInfo, bool) {
	s, ok := fv.Enum(features.KeyStage)
	if !ok {
		return model.StageInfo{}, false
	}
	return model.LookupStage(model.Stage(s))
}

func missingContact(fv model.FeatureVector) (model.Blocker, bool) {
	email, eok := fv.Bool(features.KeyHasEmail)
	phone, pok := fv.Bool(features.KeyHasPhone)
	if !eok || !pok || email || phone {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityHigh,
		Description:         "No email address or phone number on file",
		SuggestedResolution: "Recover contact details from the application form, agent, or referrer",
		EstimatedDelayDays:  7,
	}, true
}

func noConsent(fv model.FeatureVector) (model.Blocker, bool) {
	consent, ok := fv.Bool(features.KeyConsentOnFile)
	if !ok || consent {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityCritical,
		Description:         "No consent to contact on file",
		SuggestedResolution: "Request contact consent before any outreach",
		EstimatedDelayDays:  14,
	}, true
}

func stalledEngagement(fv model.FeatureVector) (model.Blocker, bool) {
	d, ok := fv.Number(features.KeyDaysSinceEngagement)
	if !ok || d < stalledMediumDays {
		return model.Blocker{}, false
	}
	b := model.Blocker{
		Severity:            model.SeverityMedium,
		Description:         fmt.Sprintf("No engagement for %.0f days", d),
		SuggestedResolution: "Re-engage with a personal call or a short check-in message",
		EstimatedDelayDays:  5,
	}
	if d >= stalledHighDays {
		b.Severity = model.SeverityHigh
		b.EstimatedDelayDays = 10
	}
	return b, true
}

func noInterviewScheduled(fv model.FeatureVector) (model.Blocker, bool) {
	info, ok := stageOf(fv)
	if !ok || info.Stage != model.StageInterviewInvited {
		return model.Blocker{}, false
	}
	scheduled, ok := fv.Bool(features.KeyInterviewScheduled)
	if !ok || scheduled {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityMedium,
		Description:         "Invited to interview but no slot booked",
		SuggestedResolution: "Send available interview slots and a booking link",
		EstimatedDelayDays:  7,
	}, true
}

func missingDocuments(fv model.FeatureVector) (model.Blocker, bool) {
	info, ok := stageOf(fv)
	if !ok || !info.DocumentCritical {
		return model.Blocker{}, false
	}
	n, ok := fv.Number(features.KeyDocumentActivity30d)
	if !ok || n > 0 {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityHigh,
		Description:         fmt.Sprintf("No document activity in %d days at a document-critical stage", documentWindowDays),
		SuggestedResolution: "List the outstanding documents and how to upload them",
		EstimatedDelayDays:  10,
	}, true
}

func offerExpiring(fv model.FeatureVector) (model.Blocker, bool) {
	d, ok := fv.Number(features.KeyOfferExpiresInDays)
	if !ok || d < 0 || d > offerExpiringDays {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityHigh,
		Description:         fmt.Sprintf("Offer expires in %.0f days", d),
		SuggestedResolution: "Contact the applicant to confirm their decision or extend the deadline",
		EstimatedDelayDays:  14,
	}, true
}

func depositOutstanding(fv model.FeatureVector) (model.Blocker, bool) {
	info, ok := stageOf(fv)
	if !ok || info.Stage != model.StageOfferAccepted {
		return model.Blocker{}, false
	}
	days, ok := fv.Number(features.KeyDaysInStage)
	if !ok || days <= depositGraceDays {
		return model.Blocker{}, false
	}
	paid, ok := fv.Bool(features.KeyDepositPaid)
	if !ok || paid {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityMedium,
		Description:         fmt.Sprintf("Offer accepted %.0f days ago but deposit not paid", days),
		SuggestedResolution: "Send payment instructions and confirm any funding arrangements",
		EstimatedDelayDays:  14,
	}, true
}

func visaDocumentation(fv model.FeatureVector) (model.Blocker, bool) {
	info, ok := stageOf(fv)
	if !ok || (info.Phase != model.PhaseOffer && info.Stage != model.StageVisaPending) {
		return model.Blocker{}, false
	}
	intl, ok := fv.Bool(features.KeyIsInternational)
	if !ok || !intl {
		return model.Blocker{}, false
	}
	discussed, ok := fv.Bool(features.KeyVisaDiscussed)
	if !ok || discussed {
		return model.Blocker{}, false
	}
	return model.Blocker{
		Severity:            model.SeverityMedium,
		Description:         "International applicant with no visa discussion recorded",
		SuggestedResolution: "Book a visa guidance call and share the CAS checklist",
		EstimatedDelayDays:  21,
	}, true
}
