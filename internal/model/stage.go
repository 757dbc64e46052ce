package model

// Stage is one position in the admissions pipeline.
type Stage string

const (
	StageEnquiry              Stage = "enquiry"
	StagePreApplication       Stage = "pre_application"
	StageApplicationStarted   Stage = "application_started"
	StageApplicationSubmitted Stage = "application_submitted"
	StageDocumentsPending     Stage = "documents_pending"
	StageUnderReview          Stage = "under_review"
	StageInterviewInvited     Stage = "interview_invited"
	StageInterviewScheduled   Stage = "interview_scheduled"
	StageInterviewCompleted   Stage = "interview_completed"
	StagePortfolioReview      Stage = "portfolio_review"
	StageConditionalOffer     Stage = "conditional_offer"
	StageUnconditionalOffer   Stage = "unconditional_offer"
	StageOfferAccepted        Stage = "offer_accepted"
	StageDepositPaid          Stage = "deposit_paid"
	StageVisaPending          Stage = "visa_pending"
	StagePreEnrolment         Stage = "pre_enrolment"
	StageEnrolled             Stage = "enrolled"
	StageRejected             Stage = "rejected"
	StageWithdrawn            Stage = "withdrawn"
	StageDeclined             Stage = "declined"
)

// Phase groups stages for template and rule lookups.
type Phase string

const (
	PhaseEnquiry     Phase = "enquiry"
	PhaseApplication Phase = "application"
	PhaseInterview   Phase = "interview"
	PhaseOffer       Phase = "offer"
	PhaseEnrolment   Phase = "enrolment"
	PhaseClosed      Phase = "closed"
)

// StageInfo describes a stage's static properties.
type StageInfo struct {
	Stage            Stage
	Phase            Phase
	Terminal         bool
	DocumentCritical bool
}

// progression is the linear sequence an applicant moves through. Enrolled is
// the final, successful position; the other terminal stages sit outside it.
var progression = []StageInfo{
	{Stage: StageEnquiry, Phase: PhaseEnquiry},
	{Stage: StagePreApplication, Phase: PhaseEnquiry},
	{Stage: StageApplicationStarted, Phase: PhaseApplication},
	{Stage: StageApplicationSubmitted, Phase: PhaseApplication, DocumentCritical: true},
	{Stage: StageDocumentsPending, Phase: PhaseApplication, DocumentCritical: true},
	{Stage: StageUnderReview, Phase: PhaseApplication},
	{Stage: StageInterviewInvited, Phase: PhaseInterview},
	{Stage: StageInterviewScheduled, Phase: PhaseInterview},
	{Stage: StageInterviewCompleted, Phase: PhaseInterview},
	{Stage: StagePortfolioReview, Phase: PhaseInterview},
	{Stage: StageConditionalOffer, Phase: PhaseOffer, DocumentCritical: true},
	{Stage: StageUnconditionalOffer, Phase: PhaseOffer},
	{Stage: StageOfferAccepted, Phase: PhaseOffer},
	{Stage: StageDepositPaid, Phase: PhaseEnrolment},
	{Stage: StageVisaPending, Phase: PhaseEnrolment, DocumentCritical: true},
	{Stage: StagePreEnrolment, Phase: PhaseEnrolment},
	{Stage: StageEnrolled, Phase: PhaseClosed, Terminal: true},
}

var exits = []StageInfo{
	{Stage: StageRejected, Phase: PhaseClosed, Terminal: true},
	{Stage: StageWithdrawn, Phase: PhaseClosed, Terminal: true},
	{Stage: StageDeclined, Phase: PhaseClosed, Terminal: true},
}

var (
	stageIndex = make(map[Stage]int, len(progression))
	stageInfo  = make(map[Stage]StageInfo, len(progression)+len(exits))
)

func init() {
	for i, s := range progression {
		stageIndex[s.Stage] = i
		stageInfo[s.Stage] = s
	}
	for _, s := range exits {
		stageInfo[s.Stage] = s
	}
}

// Stages returns every known stage: the progression followed by the exit stages.
func Stages() []StageInfo {
	out := make([]StageInfo, 0, len(progression)+len(exits))
	out = append(out, progression...)
	return append(out, exits...)
}

// ProgressionStages returns the linear progression in order.
func ProgressionStages() []Stage {
	out := make([]Stage, len(progression))
	for i, s := range progression {
		out[i] = s.Stage
	}
	return out
}

// StageIndex returns the position of s in the progression. Exit stages and
// unknown names report false.
func StageIndex(s Stage) (int, bool) {
	i, ok := stageIndex[s]
	return i, ok
}

// LookupStage returns the static info for s.
func LookupStage(s Stage) (StageInfo, bool) {
	info, ok := stageInfo[s]
	return info, ok
}

// Known reports whether s is a recognised stage.
func (s Stage) Known() bool {
	_, ok := stageInfo[s]
	return ok
}

// Terminal reports whether no further action is generated for s.
func (s Stage) Terminal() bool {
	info, ok := stageInfo[s]
	return ok && info.Terminal
}

// Phase returns the stage group, or "" for unknown stages.
func (s Stage) Phase() Phase {
	return stageInfo[s].Phase
}

// NextStage returns the stage following s in the progression.
func NextStage(s Stage) (Stage, bool) {
	i, ok := stageIndex[s]
	if !ok || progression[i].Terminal || i+1 >= len(progression) {
		return "", false
	}
	return progression[i+1].Stage, true
}

// StagesAfter returns the progression stages strictly after s, excluding the
// final terminal stage.
func StagesAfter(s Stage) []Stage {
	i, ok := stageIndex[s]
	if !ok {
		return nil
	}
	var out []Stage
	for _, info := range progression[i+1:] {
		if info.Terminal {
			break
		}
		out = append(out, info.Stage)
	}
	return out
}
