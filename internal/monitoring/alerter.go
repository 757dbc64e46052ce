package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-intel/internal/config"
	"github.com/sells-group/pipeline-intel/internal/resilience"
)

// minFailureSamples is the number of executions needed before the failure
// rate is judged.
const minFailureSamples = 5

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertExecutionFailureRate AlertType = "execution_failure_rate"
	AlertLowConversion        AlertType = "low_conversion"
	AlertQueueBacklog         AlertType = "queue_backlog"
)

// Alert is one breached threshold.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// check inspects a snapshot and returns an alert when its threshold is
// breached.
type check func(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool)

var checks = []check{failureRate, lowConversion, backlog}

func failureRate(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool) {
	if cfg.MaxFailureRate <= 0 || s.Executions < minFailureSamples || s.FailureRate <= cfg.MaxFailureRate {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertExecutionFailureRate,
		Severity: "high",
		Message: fmt.Sprintf("Execution failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d executed in last %dh)",
			s.FailureRate*100, cfg.MaxFailureRate*100, s.Failed, s.Executions, s.LookbackHours),
		Details: map[string]any{
			"failure_rate": s.FailureRate,
			"threshold":    cfg.MaxFailureRate,
			"failed":       s.Failed,
			"executions":   s.Executions,
		},
	}, true
}

func lowConversion(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool) {
	minSamples := cfg.MinOutcomeSamples
	if minSamples <= 0 {
		minSamples = 10
	}
	if cfg.MinConversionRate <= 0 || s.Measured < minSamples || s.ConversionRate >= cfg.MinConversionRate {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertLowConversion,
		Severity: "medium",
		Message: fmt.Sprintf("Only %.1f%% of measured actions advanced a stage, below %.1f%% (%d / %d in last %dh)",
			s.ConversionRate*100, cfg.MinConversionRate*100, s.Advanced, s.Measured, s.LookbackHours),
		Details: map[string]any{
			"conversion_rate": s.ConversionRate,
			"threshold":       cfg.MinConversionRate,
			"advanced":        s.Advanced,
			"measured":        s.Measured,
		},
	}, true
}

func backlog(cfg config.MonitoringConfig, s *MetricsSnapshot) (Alert, bool) {
	if cfg.MaxQueueDepth <= 0 || s.QueueDepth <= cfg.MaxQueueDepth {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertQueueBacklog,
		Severity: "medium",
		Message:  fmt.Sprintf("%d active queue entries exceed the backlog limit of %d", s.QueueDepth, cfg.MaxQueueDepth),
		Details: map[string]any{
			"queue_depth": s.QueueDepth,
			"threshold":   cfg.MaxQueueDepth,
		},
	}, true
}

// Alerter evaluates snapshots against thresholds and posts breaches to a
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	policy resilience.RetryPolicy
}

// NewAlerter creates an Alerter. A zero threshold disables its check.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	p := resilience.DefaultRetryPolicy()
	p.Attempts = 2
	p.OnRetry = resilience.LogRetries("monitoring", "alert_webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		policy: p,
	}
}

// Evaluate returns the alerts the snapshot triggers, in check order.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	at := snap.CollectedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	var alerts []Alert
	for _, c := range checks {
		if al, ok := c(a.cfg, snap); ok {
			al.Timestamp = at
			alerts = append(alerts, al)
		}
	}
	return alerts
}

// SendAlerts posts each alert and returns how many were delivered. Without
// a webhook nothing is sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" {
		return 0
	}
	log := zap.L().With(zap.String("component", "monitoring"))

	sent := 0
	for _, al := range alerts {
		err := resilience.Retry(ctx, a.policy, func(ctx context.Context) error {
			return a.post(ctx, al)
		})
		if err != nil {
			log.Error("monitoring: failed to send alert", zap.String("type", string(al.Type)), zap.Error(err))
			continue
		}
		log.Info("monitoring: alert sent", zap.String("type", string(al.Type)), zap.String("severity", al.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, al Alert) error {
	payload, err := json.Marshal(al)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.Transient(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
