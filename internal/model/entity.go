package model

import "time"

// Segment holds the categorical attributes used for benchmark lookups and
// segment-specific rules.
type Segment struct {
	FeeStatus string `json:"fee_status,omitempty" yaml:"fee_status"` // home, international
	Residency string `json:"residency,omitempty" yaml:"residency"`
	Programme string `json:"programme,omitempty" yaml:"programme"`
}

// Known reports whether the fee status is set.
func (s Segment) Known() bool {
	return s.FeeStatus != ""
}

// International reports whether the applicant pays international fees.
func (s Segment) International() bool {
	return s.FeeStatus == FeeStatusInternational
}

const (
	FeeStatusHome          = "home"
	FeeStatusInternational = "international"
)

// Entity is an application record owned by the external data store. The
// engine reads it and never mutates it.
type Entity struct {
	ID               string     `json:"id" yaml:"id"`
	OwnerID          string     `json:"owner_id" yaml:"owner_id"`
	Name             string     `json:"name" yaml:"name"`
	Email            string     `json:"email,omitempty" yaml:"email"`
	Phone            string     `json:"phone,omitempty" yaml:"phone"`
	Stage            Stage      `json:"stage" yaml:"stage"`
	Segment          Segment    `json:"segment" yaml:"segment"`
	LeadSource       string     `json:"lead_source,omitempty" yaml:"lead_source"`
	CreatedAt        time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" yaml:"updated_at"`
	StageEnteredAt   *time.Time `json:"stage_entered_at,omitempty" yaml:"stage_entered_at"`
	LastEngagementAt *time.Time `json:"last_engagement_at,omitempty" yaml:"last_engagement_at"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty" yaml:"submitted_at"`
	ConsentOnFile    *bool      `json:"consent_on_file,omitempty" yaml:"consent_on_file"`
	InterviewRating  *float64   `json:"interview_rating,omitempty" yaml:"interview_rating"`
	PortfolioRating  *float64   `json:"portfolio_rating,omitempty" yaml:"portfolio_rating"`
	InterviewAt      *time.Time `json:"interview_at,omitempty" yaml:"interview_at"`
	OfferExpiresAt   *time.Time `json:"offer_expires_at,omitempty" yaml:"offer_expires_at"`
	DepositPaid      *bool      `json:"deposit_paid,omitempty" yaml:"deposit_paid"`
	VisaDiscussed    *bool      `json:"visa_discussed,omitempty" yaml:"visa_discussed"`
}

// Channel is the medium of a recorded touchpoint.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelCall     Channel = "call"
	ChannelMeeting  Channel = "meeting"
	ChannelPortal   Channel = "portal"
	ChannelDocument Channel = "document"
)

// Channels lists every channel in a stable order.
var Channels = []Channel{ChannelEmail, ChannelSMS, ChannelCall, ChannelMeeting, ChannelPortal, ChannelDocument}

// Direction says who initiated a touchpoint.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Activity is a single communication or engagement event for an entity.
type Activity struct {
	EntityID        string    `json:"entity_id" yaml:"entity_id"`
	Channel         Channel   `json:"channel" yaml:"channel"`
	Direction       Direction `json:"direction" yaml:"direction"`
	OccurredAt      time.Time `json:"occurred_at" yaml:"occurred_at"`
	ResponseMinutes *float64  `json:"response_minutes,omitempty" yaml:"response_minutes"`
}
