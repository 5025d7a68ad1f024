// Package monitoring watches extraction run health: failure rates, spend,
// and quality drift. Alerts go out over a plain JSON webhook.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsDone     int     `json:"runs_done"`
	RunsFailed   int     `json:"runs_failed"`
	RunsInFlight int     `json:"runs_in_flight"`
	FailRate     float64 `json:"fail_rate"`
	CostUSD      float64 `json:"cost_usd"`
	AvgScore     float64 `json:"avg_score"`
	AvgDurSecs   float64 `json:"avg_duration_secs"`

	// EscalationRate is the fraction of done runs that needed more than
	// the structured phase.
	EscalationRate float64 `json:"escalation_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the run store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot of run metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	var scoreSum, durSum float64
	var scored, escalated int

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusDone:
			snap.RunsDone++
		case model.RunStatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInFlight++
		}
		if r.Metadata == nil {
			continue
		}
		snap.CostUSD += r.Metadata.TotalCostUSD
		if r.Status == model.RunStatusDone {
			scoreSum += r.Metadata.FinalQualityScore
			durSum += r.Metadata.TotalDurationSecs
			scored++
			if len(r.Metadata.PhasesCompleted) > 1 {
				escalated++
			}
		}
	}

	finished := snap.RunsDone + snap.RunsFailed
	if finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if snap.RunsDone > 0 {
		snap.EscalationRate = float64(escalated) / float64(snap.RunsDone)
	}
	if scored > 0 {
		snap.AvgScore = scoreSum / float64(scored)
		snap.AvgDurSecs = durSum / float64(scored)
	}

	return snap, nil
}
