// Package monitoring watches execution health and queue backlog and raises
// alerts when thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pipeline-intel/internal/store"
)

// MetricsSnapshot holds a point-in-time view of queue and execution health.
type MetricsSnapshot struct {
	// Executions within the lookback window.
	Executions  int     `json:"executions"`
	Failed      int     `json:"failed"`
	Simulated   int     `json:"simulated"`
	FailureRate float64 `json:"failure_rate"`

	// Outcomes measured for those executions.
	Measured       int     `json:"measured"`
	Advanced       int     `json:"advanced"`
	ConversionRate float64 `json:"conversion_rate"`

	QueueDepth int `json:"queue_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource is the slice of the store the collector reads.
type StatsSource interface {
	ExecutionStats(ctx context.Context, since time.Time) (*store.ExecutionStats, error)
	CountActiveEntries(ctx context.Context, now time.Time) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	src     StatsSource
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(src StatsSource) *Collector {
	return &Collector{src: src, nowFunc: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	if lookbackHours <= 0 {
		lookbackHours = 24
	}
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	stats, err := c.src.ExecutionStats(ctx, now.Add(-time.Duration(lookbackHours)*time.Hour))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: execution stats")
	}
	snap.Executions = stats.Executions
	snap.Failed = stats.Failed
	snap.Simulated = stats.Simulated
	snap.Measured = stats.Measured
	snap.Advanced = stats.Advanced
	if stats.Executions > 0 {
		snap.FailureRate = float64(stats.Failed) / float64(stats.Executions)
	}
	if stats.Measured > 0 {
		snap.ConversionRate = float64(stats.Advanced) / float64(stats.Measured)
	}

	depth, err := c.src.CountActiveEntries(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count active entries")
	}
	snap.QueueDepth = depth

	return snap, nil
}
