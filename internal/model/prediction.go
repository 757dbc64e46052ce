package model

// Category classifies an adjustment factor.
type Category string

const (
	CategoryLeadQuality    Category = "lead_quality"
	CategoryEngagement     Category = "engagement"
	CategoryResponsiveness Category = "responsiveness"
	CategoryRating         Category = "rating"
	CategoryTemporalCycle  Category = "temporal_cycle"
	CategorySegment        Category = "segment"
	CategoryDataQuality    Category = "data_quality"
	CategoryBenchmark      Category = "benchmark"
)

// AdjustmentFactor is a signed, labeled contribution to a probability.
type AdjustmentFactor struct {
	Weight   float64  `json:"weight"`
	Reason   string   `json:"reason"`
	Category Category `json:"category"`
}

// ProgressionPrediction is the scored likelihood that an entity advances to
// its next stage, together with the factors that produced it.
type ProgressionPrediction struct {
	EntityID          string             `json:"entity_id"`
	Stage             Stage              `json:"stage"`
	NextStage         Stage              `json:"next_stage,omitempty"`
	BaseProbability   float64            `json:"base_probability"`
	Probability       float64            `json:"probability"`
	ETADays           *int               `json:"eta_days,omitempty"`
	ETAToEnrolDays    *int               `json:"eta_to_enrol_days,omitempty"`
	Confidence        float64            `json:"confidence"`
	Factors           []AdjustmentFactor `json:"factors"`
	BenchmarkRate     *float64           `json:"benchmark_rate,omitempty"`
	BenchmarkVariance *float64           `json:"benchmark_variance,omitempty"`
	BenchmarkLabel    string             `json:"benchmark_label,omitempty"`
	UnknownStage      bool               `json:"unknown_stage,omitempty"`
}

// FactorSum returns the sum of all factor weights.
func (p *ProgressionPrediction) FactorSum() float64 {
	var sum float64
	for _, f := range p.Factors {
		sum += f.Weight
	}
	return sum
}

// Severity ranks a blocker's impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4). Unknown values rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// BlockerKind identifies the condition a blocker describes.
type BlockerKind string

const (
	BlockerMissingContact       BlockerKind = "missing_contact"
	BlockerNoConsent            BlockerKind = "no_consent"
	BlockerStalledEngagement    BlockerKind = "stalled_engagement"
	BlockerNoInterviewScheduled BlockerKind = "no_interview_scheduled"
	BlockerMissingDocuments     BlockerKind = "missing_documents"
	BlockerOfferExpiring        BlockerKind = "offer_expiring"
	BlockerDepositOutstanding   BlockerKind = "deposit_outstanding"
	BlockerVisaDocumentation    BlockerKind = "visa_documentation"
)

// Blocker is a missing-data or stalled-engagement condition found on an entity.
type Blocker struct {
	Kind                BlockerKind `json:"kind"`
	Severity            Severity    `json:"severity"`
	Description         string      `json:"description"`
	SuggestedResolution string      `json:"suggested_resolution"`
	EstimatedDelayDays  int         `json:"estimated_delay_days"`
}

// SectorBenchmark is one row of the static benchmark dataset.
type SectorBenchmark struct {
	Stage        Stage   `json:"stage" yaml:"stage"`
	Segment      string  `json:"segment" yaml:"segment"`
	ExpectedRate float64 `json:"expected_rate" yaml:"expected_rate"`
}
