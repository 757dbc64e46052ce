package artifact

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/model"
	"github.com/sells-group/pipeline-intel/internal/resilience"
	"github.com/sells-group/pipeline-intel/pkg/anthropic"
)

const systemPrompt = `You draft short, warm, specific outreach for a university admissions team.
Write in plain British English. Never invent facts, deadlines or fees.
For emails, start with a line "Subject: ..." followed by a blank line and the body.
Keep bodies under 150 words.`

// LLMGenerator drafts artifacts with Anthropic and falls back to a
// deterministic generator on any failure, timeout, open breaker or rate
// limit.
type LLMGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	cache     *Cache
	limiter   *rate.Limiter
	breaker   *resilience.Breaker
	fallback  Generator
	log       *zap.Logger
}

// NewLLMGenerator wires an LLMGenerator from config.
func NewLLMGenerator(client anthropic.Client, ac config.AnthropicConfig, cfg config.ArtifactConfig, fallback Generator) *LLMGenerator {
	log := zap.L().With(zap.String("component", "artifact"))

	timeout := time.Duration(cfg.TimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 2500 * time.Millisecond
	}
	ttl := time.Duration(cfg.CacheTTLMins) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	limit := rate.Limit(cfg.RatePerSec)
	if cfg.RatePerSec <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxTokens := int64(ac.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 600
	}

	return &LLMGenerator{
		client:    client,
		model:     ac.Model,
		maxTokens: maxTokens,
		timeout:   timeout,
		cache:     NewCache(ttl),
		limiter:   rate.NewLimiter(limit, burst),
		breaker: resilience.ArtifactBreaker(cfg, func(name string, from, to resilience.BreakerState) {
			log.Warn("breaker state change",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}),
		fallback: fallback,
		log:      log,
	}
}

// Cache exposes the response cache.
func (g *LLMGenerator) Cache() *Cache { return g.cache }

// Generate returns a cached or freshly drafted artifact, or the fallback's.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (model.Artifact, error) {
	if !req.Action.Valid() {
		return model.Artifact{}, model.InvalidInputf("artifact: unknown action type %q", req.Action)
	}

	key := CacheKey(req)
	if a, ok := g.cache.Get(key); ok {
		return a, nil
	}

	a, err := g.draft(ctx, req)
	if err != nil {
		g.log.Warn("llm draft failed, using template",
			zap.String("entity_id", req.EntityID),
			zap.String("action", string(req.Action)),
			zap.Error(err),
		)
		return g.fallback.Generate(ctx, req)
	}

	g.cache.Set(key, a)
	return a, nil
}

func (g *LLMGenerator) draft(ctx context.Context, req Request) (model.Artifact, error) {
	// Never queue behind the limiter: a draft that cannot start now falls back.
	if !g.limiter.Allow() {
		return model.Artifact{}, eris.New("artifact: rate limited")
	}

	return resilience.WithTimeout(ctx, g.timeout, "artifact draft", func(ctx context.Context) (model.Artifact, error) {
		return resilience.Call(ctx, g.breaker, func(ctx context.Context) (model.Artifact, error) {
			resp, err := g.client.Complete(ctx, anthropic.CompletionRequest{
				Model:     g.model,
				MaxTokens: g.maxTokens,
				System:    systemPrompt,
				Prompt:    prompt(req),
			})
			if err != nil {
				return model.Artifact{}, err
			}
			resp.Usage.LogUsage(g.model, "artifact")
			return parseDraft(req.Action, resp.Text)
		})
	})
}

func prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Draft a %s for %s, an applicant at the %s stage (%.0f%% likely to progress).\n",
		strings.ReplaceAll(Kind(req.Action), "_", " "), req.EntityName, strings.ReplaceAll(string(req.Stage), "_", " "), req.Probability*100)
	if req.Urgency != "" {
		fmt.Fprintf(&b, "Why now: %s.\n", strings.ReplaceAll(req.Urgency, "_", " "))
	}
	for _, r := range req.Reasons {
		fmt.Fprintf(&b, "Signal: %s\n", r)
	}
	for _, bl := range req.Blockers {
		fmt.Fprintf(&b, "Blocker (%s): %s. Suggested fix: %s\n", bl.Severity, bl.Description, bl.SuggestedResolution)
	}
	return b.String()
}

func parseDraft(action model.ActionType, text string) (model.Artifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Artifact{}, eris.New("artifact: empty draft")
	}
	a := model.Artifact{Kind: Kind(action), Generator: "llm", Body: text}
	if first, rest, ok := strings.Cut(text, "\n"); ok && strings.HasPrefix(first, "Subject:") {
		a.Subject = strings.TrimSpace(strings.TrimPrefix(first, "Subject:"))
		a.Body = strings.TrimSpace(rest)
	}
	return a, nil
}
