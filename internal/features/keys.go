package features

import (
	"fmt"

	"github.com/sells-group/pipeline-intel/internal/model"
)

// Feature names. Every name listed by Catalogue is present in an extracted
// vector, unknown values included.
const (
	KeyStage                = "stage"
	KeyStageIndex           = "stage_index"
	KeyStagePhase           = "stage_phase"
	KeyStageProgress        = "stage_progress"
	KeyIsTerminal           = "is_terminal"
	KeyStageEnteredAt       = "stage_entered_at"
	KeyDaysInStage          = "days_in_stage"
	KeyDaysSinceCreated     = "days_since_created"
	KeyDaysSinceUpdated     = "days_since_updated"
	KeyLastEngagementAt     = "last_engagement_at"
	KeyDaysSinceEngagement  = "days_since_last_engagement"
	KeySegmentFeeStatus     = "segment_fee_status"
	KeySegmentResidency     = "segment_residency"
	KeySegmentProgramme     = "segment_programme"
	KeyIsInternational      = "is_international"
	KeyLeadSource           = "lead_source"
	KeyHasName              = "has_name"
	KeyHasEmail             = "has_email"
	KeyHasPhone             = "has_phone"
	KeyContactCompleteness  = "contact_completeness"
	KeyConsentOnFile        = "consent_on_file"
	KeyInterviewRating      = "interview_rating"
	KeyPortfolioRating      = "portfolio_rating"
	KeyMaxRating            = "max_rating"
	KeyInterviewScheduled   = "interview_scheduled"
	KeyDaysUntilInterview   = "days_until_interview"
	KeyOfferPresent         = "offer_present"
	KeyOfferExpiresInDays   = "offer_expires_in_days"
	KeyDepositPaid          = "deposit_paid"
	KeyVisaDiscussed        = "visa_discussed"
	KeySubmitted            = "submitted"
	KeyDaysSinceSubmitted   = "days_since_submitted"
	KeyCyclePosition        = "cycle_position"
	KeyResponseMedianHours  = "response_median_hours"
	KeyResponseMeanHours    = "response_mean_hours"
	KeyResponseMinHours     = "response_min_hours"
	KeyResponseCount        = "response_count"
	KeyDaysSinceInbound     = "days_since_last_inbound"
	KeyDaysSinceOutbound    = "days_since_last_outbound"
	KeyUnansweredStreak     = "unanswered_outbound_streak"
	KeyInboundOutboundRatio = "inbound_outbound_ratio_30d"
	KeyEngagementTrend      = "engagement_trend"
	KeyDocumentActivity30d  = "document_activity_30d"
	KeyPortalLogins30d      = "portal_logins_30d"
	KeyInbound7d            = "inbound_7d"
	KeyInbound30d           = "inbound_30d"
	KeyInbound90d           = "inbound_90d"
	KeyOutbound7d           = "outbound_7d"
	KeyOutbound30d          = "outbound_30d"
	KeyOutbound90d          = "outbound_90d"
	KeyTouches30d           = "total_touches_30d"
	KeyTouches90d           = "total_touches_90d"
)

// Windows are the lookback spans, in days, for per-channel counts.
var Windows = []int{7, 30, 90}

// ChannelKey names the count of activities on ch in direction dir over the
// last window days.
func ChannelKey(ch model.Channel, dir model.Direction, window int) string {
	return fmt.Sprintf("comm_%s_%s_%dd", ch, dir, window)
}

// ChannelRecencyKey names the days since the last activity on ch.
func ChannelRecencyKey(ch model.Channel) string {
	return fmt.Sprintf("comm_%s_days_since_last", ch)
}

// ChannelShareKey names ch's share of all activity over 90 days.
func ChannelShareKey(ch model.Channel) string {
	return fmt.Sprintf("comm_%s_share_90d", ch)
}

var catalogue = buildCatalogue()

func buildCatalogue() []string {
	keys := []string{
		KeyStage, KeyStageIndex, KeyStagePhase, KeyStageProgress, KeyIsTerminal,
		KeyStageEnteredAt, KeyDaysInStage, KeyDaysSinceCreated, KeyDaysSinceUpdated,
		KeyLastEngagementAt, KeyDaysSinceEngagement,
		KeySegmentFeeStatus, KeySegmentResidency, KeySegmentProgramme, KeyIsInternational,
		KeyLeadSource, KeyHasName, KeyHasEmail, KeyHasPhone, KeyContactCompleteness,
		KeyConsentOnFile, KeyInterviewRating, KeyPortfolioRating, KeyMaxRating,
		KeyInterviewScheduled, KeyDaysUntilInterview, KeyOfferPresent, KeyOfferExpiresInDays,
		KeyDepositPaid, KeyVisaDiscussed, KeySubmitted, KeyDaysSinceSubmitted, KeyCyclePosition,
		KeyResponseMedianHours, KeyResponseMeanHours, KeyResponseMinHours, KeyResponseCount,
		KeyDaysSinceInbound, KeyDaysSinceOutbound, KeyUnansweredStreak, KeyInboundOutboundRatio,
		KeyEngagementTrend, KeyDocumentActivity30d, KeyPortalLogins30d,
		KeyInbound7d, KeyInbound30d, KeyInbound90d, KeyOutbound7d, KeyOutbound30d, KeyOutbound90d,
		KeyTouches30d, KeyTouches90d,
	}
	for _, ch := range model.Channels {
		for _, dir := range []model.Direction{model.DirectionInbound, model.DirectionOutbound} {
			for _, w := range Windows {
				keys = append(keys, ChannelKey(ch, dir, w))
			}
		}
		keys = append(keys, ChannelRecencyKey(ch), ChannelShareKey(ch))
	}
	return keys
}

// Catalogue returns every feature name an extracted vector carries.
func Catalogue() []string {
	out := make([]string, len(catalogue))
	copy(out, catalogue)
	return out
}
