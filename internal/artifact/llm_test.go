package artifact

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/pkg/anthropic"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, req anthropic.CompletionRequest) (*anthropic.Completion, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Completion), args.Error(1)
}

func textResponse(text string) *anthropic.Completion {
	return &anthropic.Completion{Text: text}
}

func artifactCfg() config.ArtifactConfig {
	return config.ArtifactConfig{
		TimeoutMillis:    200,
		CacheTTLMins:     60,
		BreakerThreshold: 5,
		BreakerResetSecs: 30,
	}
}

func newLLM(client anthropic.Client, cfg config.ArtifactConfig) *LLMGenerator {
	return NewLLMGenerator(client, config.AnthropicConfig{Model: "claude-haiku-4-5-20251001", MaxTokens: 300}, cfg, MustTemplateGenerator())
}

var sampleReq = Request{
	EntityID:   "app-1",
	EntityName: "Ada Lovelace",
	Stage:      model.StageUnderReview,
	Action:     model.ActionMessage,
	Reasons:    []string{"very fast communication response"},
}

func TestLLMGeneratorDraftsAndCaches(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.MatchedBy(func(r anthropic.CompletionRequest) bool {
		return r.Model == "claude-haiku-4-5-20251001" && r.MaxTokens == 300 &&
			r.System == systemPrompt && strings.Contains(r.Prompt, "Ada Lovelace")
	})).Return(textResponse("Subject: Your application\n\nHi Ada, thanks for the quick replies."), nil).Once()

	g := newLLM(client, artifactCfg())

	art, err := g.Generate(context.Background(), sampleReq)
	require.NoError(t, err)
	assert.Equal(t, "llm", art.Generator)
	assert.Equal(t, "email", art.Kind)
	assert.Equal(t, "Your application", art.Subject)
	assert.Equal(t, "Hi Ada, thanks for the quick replies.", art.Body)

	again, err := g.Generate(context.Background(), sampleReq)
	require.NoError(t, err)
	assert.Equal(t, art, again)
	client.AssertExpectations(t)
}

func TestLLMGeneratorFallsBack(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(c *mockClient)
	}{
		{
			name: "client error",
			setup: func(c *mockClient) {
				c.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))
			},
		},
		{
			name: "empty draft",
			setup: func(c *mockClient) {
				c.On("Complete", mock.Anything, mock.Anything).Return(textResponse("  "), nil)
			},
		},
		{
			name: "timeout",
			setup: func(c *mockClient) {
				c.On("Complete", mock.Anything, mock.Anything).
					Run(func(args mock.Arguments) {
						<-args.Get(0).(context.Context).Done()
					}).
					Return(nil, context.DeadlineExceeded)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := new(mockClient)
			tt.setup(client)

			cfg := artifactCfg()
			cfg.TimeoutMillis = 30
			g := newLLM(client, cfg)

			start := time.Now()
			art, err := g.Generate(context.Background(), sampleReq)
			require.NoError(t, err)
			assert.Equal(t, "template", art.Generator)
			assert.Contains(t, art.Body, "Hi Ada,")
			assert.Less(t, time.Since(start), 2*time.Second)
			assert.Equal(t, 0, g.Cache().Len(), "fallbacks are not cached")
		})
	}
}

func TestLLMGeneratorBreakerStopsCalls(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("down")).Times(2)

	cfg := artifactCfg()
	cfg.BreakerThreshold = 2
	g := newLLM(client, cfg)

	for range 4 {
		art, err := g.Generate(context.Background(), sampleReq)
		require.NoError(t, err)
		assert.Equal(t, "template", art.Generator)
	}
	client.AssertNumberOfCalls(t, "Complete", 2)
}

func TestLLMGeneratorRateLimitFallsBack(t *testing.T) {
	t.Parallel()

	client := new(mockClient)
	client.On("Complete", mock.Anything, mock.Anything).Return(textResponse("Hello"), nil).Once()

	cfg := artifactCfg()
	cfg.RatePerSec = 0.001
	cfg.Burst = 1
	g := newLLM(client, cfg)

	first, err := g.Generate(context.Background(), sampleReq)
	require.NoError(t, err)
	assert.Equal(t, "llm", first.Generator)

	other := sampleReq
	other.EntityID = "app-2"
	second, err := g.Generate(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, "template", second.Generator)
	client.AssertExpectations(t)
}

func TestLLMGeneratorRejectsUnknownAction(t *testing.T) {
	t.Parallel()

	g := newLLM(new(mockClient), artifactCfg())
	bad := sampleReq
	bad.Action = "fax"
	_, err := g.Generate(context.Background(), bad)
	assert.True(t, model.IsInvalidInput(err))
}

func TestParseDraft(t *testing.T) {
	t.Parallel()

	a, err := parseDraft(model.ActionCall, "Open with congratulations.\nAsk about deposit.")
	require.NoError(t, err)
	assert.Empty(t, a.Subject)
	assert.Equal(t, "call_script", a.Kind)
	assert.Equal(t, "Open with congratulations.\nAsk about deposit.", a.Body)
}

func TestNewSelectsGenerator(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Artifact: config.ArtifactConfig{Generator: "template"}}
	g, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &TemplateGenerator{}, g)

	cfg.Artifact.Generator = "llm"
	_, err = New(cfg, nil)
	assert.Error(t, err)

	g, err = New(cfg, new(mockClient))
	require.NoError(t, err)
	assert.IsType(t, &LLMGenerator{}, g)

	cfg.Artifact.Generator = "carrier-pigeon"
	_, err = New(cfg, nil)
	assert.Error(t, err)
}
