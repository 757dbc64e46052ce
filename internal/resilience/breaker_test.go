package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sells-group/pipeline-intel/internal/config"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errDown = errors.New("down")

func failN(t *testing.T, b *Breaker, n int) {
	t.Helper()
	for range n {
		_ = b.Do(context.Background(), func(context.Context) error { return errDown })
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{Threshold: 3, Cooldown: time.Minute})
	failN(t, b, 2)
	if b.State() != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}
	failN(t, b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	var called bool
	err := b.Do(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
	if called {
		t.Error("fn should not run while open")
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{Threshold: 3})
	failN(t, b, 2)
	_ = b.Do(context.Background(), func(context.Context) error { return nil })
	if b.Failures() != 0 {
		t.Errorf("expected 0 failures, got %d", b.Failures())
	}
	failN(t, b, 2)
	if b.State() != StateClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	b := NewBreaker("llm", BreakerConfig{
		Threshold: 1,
		Cooldown:  30 * time.Second,
		OnChange: func(_ string, from, to BreakerState) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	b.SetClock(clock.Now)

	failN(t, b, 1)
	clock.Advance(29 * time.Second)
	if b.State() != StateOpen {
		t.Fatalf("expected open before cooldown, got %s", b.State())
	}
	clock.Advance(time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}

	if err := b.Do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe, got %s", b.State())
	}

	want := []string{"closed>open", "open>half-open", "half-open>closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker("llm", BreakerConfig{Threshold: 2, Cooldown: 10 * time.Second})
	b.SetClock(clock.Now)

	failN(t, b, 2)
	clock.Advance(10 * time.Second)
	failN(t, b, 1)
	if b.State() != StateOpen {
		t.Fatalf("expected reopened, got %s", b.State())
	}
	clock.Advance(5 * time.Second)
	if b.State() != StateOpen {
		t.Errorf("cooldown should restart on reopen, got %s", b.State())
	}
}

func TestBreaker_CountsFilter(t *testing.T) {
	b := NewBreaker("db", BreakerConfig{Threshold: 1, Counts: IsTransient})
	_ = b.Do(context.Background(), func(context.Context) error { return errors.New("not found") })
	if b.State() != StateClosed {
		t.Errorf("permanent error should not trip breaker, got %s", b.State())
	}
	_ = b.Do(context.Background(), func(context.Context) error { return Transient(errDown, 503) })
	if b.State() != StateOpen {
		t.Errorf("transient error should trip breaker, got %s", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker("llm", BreakerConfig{Threshold: 1})
	failN(t, b, 1)
	b.Reset()
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Errorf("expected closed with 0 failures, got %s/%d", b.State(), b.Failures())
	}
}

func TestCall_ReturnsValue(t *testing.T) {
	b := NewBreaker("llm", DefaultBreakerConfig())
	v, err := Call(context.Background(), b, func(context.Context) (string, error) { return "draft", nil })
	if err != nil || v != "draft" {
		t.Fatalf("got (%q, %v)", v, err)
	}
}

func TestArtifactBreaker_FromConfig(t *testing.T) {
	b := ArtifactBreaker(config.ArtifactConfig{BreakerThreshold: 2, BreakerResetSecs: 45}, nil)
	if b.Name() != "artifact_llm" {
		t.Errorf("name = %q", b.Name())
	}
	if b.cfg.Threshold != 2 || b.cfg.Cooldown != 45*time.Second {
		t.Errorf("cfg = %+v", b.cfg)
	}

	d := ArtifactBreaker(config.ArtifactConfig{}, nil)
	if d.cfg.Threshold != 5 {
		t.Errorf("default threshold = %d", d.cfg.Threshold)
	}
}

func TestNotifyPolicy_FromConfig(t *testing.T) {
	p := NotifyPolicy(config.NotifyConfig{MaxRetries: 6})
	if p.Attempts != 6 {
		t.Errorf("attempts = %d", p.Attempts)
	}
	if p.OnRetry == nil {
		t.Error("expected OnRetry logger")
	}
}
