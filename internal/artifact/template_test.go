package artifact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/model"
)

func TestTemplateGeneratorCoversEveryPhaseAndAction(t *testing.T) {
	t.Parallel()

	g := MustTemplateGenerator()
	for _, info := range model.Stages() {
		for _, action := range model.ActionTypes {
			t.Run(string(info.Stage)+"/"+string(action), func(t *testing.T) {
				t.Parallel()
				art, err := g.Generate(context.Background(), Request{
					EntityID:    "app-1",
					EntityName:  "ada lovelace",
					Stage:       info.Stage,
					Action:      action,
					Probability: 0.42,
				})
				require.NoError(t, err)
				assert.Equal(t, Kind(action), art.Kind)
				assert.Equal(t, "template", art.Generator)
				assert.NotEmpty(t, art.Body)
			})
		}
	}
}

func TestTemplateGeneratorContent(t *testing.T) {
	t.Parallel()

	g := MustTemplateGenerator()
	blocker := model.Blocker{
		Kind:                model.BlockerMissingDocuments,
		Severity:            model.SeverityHigh,
		Description:         "no document activity in 30 days",
		SuggestedResolution: "send the outstanding document checklist",
		EstimatedDelayDays:  10,
	}

	tests := []struct {
		name        string
		req         Request
		subject     string
		contains    []string
		notContains []string
	}{
		{
			name:     "application email lists blocker fixes",
			req:      Request{EntityName: "ada lovelace", Stage: model.StageDocumentsPending, Action: model.ActionMessage, Blockers: []model.Blocker{blocker}},
			subject:  "Ada, a quick update on your application",
			contains: []string{"Hi Ada,", "documents pending stage", "- send the outstanding document checklist"},
		},
		{
			name:     "enquiry email includes reasons",
			req:      Request{EntityName: "grace", Stage: model.StagePreApplication, Action: model.ActionMessage, Reasons: []string{"very fast communication response", "referral lead"}},
			subject:  "Your next step towards applying, Grace",
			contains: []string{"We noticed: very fast communication response; referral lead."},
		},
		{
			name:     "enrolment email without blockers uses default step",
			req:      Request{EntityName: "alan turing", Stage: model.StagePreEnrolment, Action: model.ActionMessage},
			contains: []string{"- confirm your arrival date"},
		},
		{
			name:     "call script carries urgency and probability",
			req:      Request{EntityName: "alan turing", Stage: model.StageInterviewInvited, Action: model.ActionCall, Probability: 0.655, Urgency: "interview_tomorrow"},
			contains: []string{"Call Alan Turing (interview invited, 66% likely to progress).", "Why now: interview tomorrow."},
		},
		{
			name:        "offer call uses offer script",
			req:         Request{EntityName: "ada", Stage: model.StageConditionalOffer, Action: model.ActionCall},
			contains:    []string{"about their offer"},
			notContains: []string{"Why now"},
		},
		{
			name:     "unblock task lists severity and delay",
			req:      Request{EntityID: "app-9", EntityName: "ada", Stage: model.StageVisaPending, Action: model.ActionUnblock, Blockers: []model.Blocker{blocker}},
			subject:  "Unblock Ada",
			contains: []string{"- [high] no document activity in 30 days (about 10 days delay)"},
		},
		{
			name:     "missing name and unknown stage",
			req:      Request{Stage: "mystery", Action: model.ActionMessage},
			subject:  "Checking in, there",
			contains: []string{"Hi there,"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			art, err := g.Generate(context.Background(), tt.req)
			require.NoError(t, err)
			if tt.subject != "" {
				assert.Equal(t, tt.subject, art.Subject)
			}
			for _, s := range tt.contains {
				assert.Contains(t, art.Body, s)
			}
			for _, s := range tt.notContains {
				assert.NotContains(t, art.Body, s)
			}
		})
	}
}

func TestTemplateGeneratorRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	_, err := MustTemplateGenerator().Generate(context.Background(), Request{Stage: model.StageEnquiry, Action: "fax"})
	assert.True(t, model.IsInvalidInput(err))
}

func TestKind(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "email", Kind(model.ActionMessage))
	assert.Equal(t, "call_script", Kind(model.ActionCall))
	assert.Equal(t, "flag_note", Kind(model.ActionFlag))
	assert.Equal(t, "task", Kind(model.ActionUnblock))
}
