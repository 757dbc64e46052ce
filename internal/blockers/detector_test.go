package blockers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/features"
	"github.com/sells-group/pipeline-intel/internal/model"
)

func vector(values map[string]model.Value) model.FeatureVector {
	return model.NewFeatureVector("app-1", time.Now(), values, features.Catalogue())
}

func kinds(bs []model.Blocker) []model.BlockerKind {
	out := make([]model.BlockerKind, len(bs))
	for i, b := range bs {
		out[i] = b.Kind
	}
	return out
}

func TestDetectMissingContactExample(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	fv := features.Build(model.Entity{
		ID:        "app-2",
		Stage:     model.StagePreApplication,
		CreatedAt: now.AddDate(0, 0, -60),
	}, nil, now, features.DefaultCycle(), 90)

	got := NewDetector().Detect(fv)
	require.Len(t, got, 1)
	assert.Equal(t, model.BlockerMissingContact, got[0].Kind)
	assert.Equal(t, model.SeverityHigh, got[0].Severity)
	assert.NotEmpty(t, got[0].SuggestedResolution)
}

func TestDetectRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		values map[string]model.Value
		want   []model.BlockerKind
		sev    model.Severity
	}{
		{
			name:   "nothing known, nothing fires",
			values: map[string]model.Value{features.KeyStage: model.Enum("under_review")},
			want:   []model.BlockerKind{},
		},
		{
			name: "no consent is critical",
			values: map[string]model.Value{
				features.KeyStage:         model.Enum("enquiry"),
				features.KeyConsentOnFile: model.Bool(false),
			},
			want: []model.BlockerKind{model.BlockerNoConsent},
			sev:  model.SeverityCritical,
		},
		{
			name: "stalled medium",
			values: map[string]model.Value{
				features.KeyStage:               model.Enum("enquiry"),
				features.KeyDaysSinceEngagement: model.Number(20),
			},
			want: []model.BlockerKind{model.BlockerStalledEngagement},
			sev:  model.SeverityMedium,
		},
		{
			name: "stalled high",
			values: map[string]model.Value{
				features.KeyStage:               model.Enum("enquiry"),
				features.KeyDaysSinceEngagement: model.Number(45),
			},
			want: []model.BlockerKind{model.BlockerStalledEngagement},
			sev:  model.SeverityHigh,
		},
		{
			name: "interview not booked",
			values: map[string]model.Value{
				features.KeyStage:              model.Enum("interview_invited"),
				features.KeyInterviewScheduled: model.Bool(false),
			},
			want: []model.BlockerKind{model.BlockerNoInterviewScheduled},
			sev:  model.SeverityMedium,
		},
		{
			name: "documents missing at critical stage",
			values: map[string]model.Value{
				features.KeyStage:               model.Enum("documents_pending"),
				features.KeyDocumentActivity30d: model.Number(0),
			},
			want: []model.BlockerKind{model.BlockerMissingDocuments},
			sev:  model.SeverityHigh,
		},
		{
			name: "documents irrelevant elsewhere",
			values: map[string]model.Value{
				features.KeyStage:               model.Enum("under_review"),
				features.KeyDocumentActivity30d: model.Number(0),
			},
			want: []model.BlockerKind{},
		},
		{
			name: "offer expiring",
			values: map[string]model.Value{
				features.KeyStage:              model.Enum("unconditional_offer"),
				features.KeyOfferExpiresInDays: model.Number(2),
			},
			want: []model.BlockerKind{model.BlockerOfferExpiring},
			sev:  model.SeverityHigh,
		},
		{
			name: "deposit outstanding",
			values: map[string]model.Value{
				features.KeyStage:       model.Enum("offer_accepted"),
				features.KeyDaysInStage: model.Number(20),
				features.KeyDepositPaid: model.Bool(false),
			},
			want: []model.BlockerKind{model.BlockerDepositOutstanding},
			sev:  model.SeverityMedium,
		},
		{
			name: "visa documentation",
			values: map[string]model.Value{
				features.KeyStage:           model.Enum("visa_pending"),
				features.KeyIsInternational: model.Bool(true),
				features.KeyVisaDiscussed:   model.Bool(false),
			},
			want: []model.BlockerKind{model.BlockerVisaDocumentation},
			sev:  model.SeverityMedium,
		},
		{
			name: "garbage stage only runs stage-free rules",
			values: map[string]model.Value{
				features.KeyStage:         model.Enum("???"),
				features.KeyConsentOnFile: model.Bool(false),
			},
			want: []model.BlockerKind{model.BlockerNoConsent},
			sev:  model.SeverityCritical,
		},
	}
	d := NewDetector()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Detect(vector(tt.values))
			assert.Equal(t, tt.want, kinds(got))
			if tt.sev != "" {
				require.NotEmpty(t, got)
				assert.Equal(t, tt.sev, got[0].Severity)
			}
		})
	}
}

func TestDetectFixedOrder(t *testing.T) {
	t.Parallel()

	got := NewDetector().Detect(vector(map[string]model.Value{
		features.KeyStage:               model.Enum("conditional_offer"),
		features.KeyHasEmail:            model.Bool(false),
		features.KeyHasPhone:            model.Bool(false),
		features.KeyConsentOnFile:       model.Bool(false),
		features.KeyDaysSinceEngagement: model.Number(31),
		features.KeyDocumentActivity30d: model.Number(0),
		features.KeyOfferExpiresInDays:  model.Number(1),
		features.KeyIsInternational:     model.Bool(true),
		features.KeyVisaDiscussed:       model.Bool(false),
	}))
	assert.Equal(t, []model.BlockerKind{
		model.BlockerMissingContact,
		model.BlockerNoConsent,
		model.BlockerStalledEngagement,
		model.BlockerMissingDocuments,
		model.BlockerOfferExpiring,
		model.BlockerVisaDocumentation,
	}, kinds(got))

	worst, ok := MostSevere(got)
	require.True(t, ok)
	assert.Equal(t, model.BlockerNoConsent, worst.Kind)
}

func TestDetectTerminalStage(t *testing.T) {
	t.Parallel()

	got := NewDetector().Detect(vector(map[string]model.Value{
		features.KeyStage:         model.Enum("enrolled"),
		features.KeyConsentOnFile: model.Bool(false),
	}))
	assert.Empty(t, got)

	_, ok := MostSevere(nil)
	assert.False(t, ok)
}
