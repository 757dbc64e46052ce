package resilience

import (
	"time"

	"github.com/sells-group/pipeline-intel/internal/config"
)

// ArtifactBreaker builds the breaker guarding the artifact LLM.
func ArtifactBreaker(cfg config.ArtifactConfig, onChange func(name string, from, to BreakerState)) *Breaker {
	bc := DefaultBreakerConfig()
	if cfg.BreakerThreshold > 0 {
		bc.Threshold = cfg.BreakerThreshold
	}
	if cfg.BreakerResetSecs > 0 {
		bc.Cooldown = time.Duration(cfg.BreakerResetSecs) * time.Second
	}
	bc.OnChange = onChange
	return NewBreaker("artifact_llm", bc)
}

// NotifyPolicy builds the retry policy for notification webhooks.
func NotifyPolicy(cfg config.NotifyConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		p.Attempts = cfg.MaxRetries
	}
	p.OnRetry = LogRetries("notify", "webhook")
	return p
}
