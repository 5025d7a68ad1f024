package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tableiq/research-cli/internal/model"
)

func TestComputeRunStats(t *testing.T) {
	now := time.Now().UTC()
	runs := []model.Run{
		{
			Status: model.RunStatusDone,
			Metadata: &model.ExtractionMetadata{
				PhasesCompleted:   []model.Phase{model.PhaseStructured},
				TotalCostUSD:      0.01,
				FinalQualityScore: 0.9,
				TotalDurationSecs: 4,
			},
		},
		{
			Status: model.RunStatusDone,
			Metadata: &model.ExtractionMetadata{
				PhasesCompleted:   []model.Phase{model.PhaseStructured, model.PhaseDOMCrawl},
				TotalCostUSD:      0.05,
				FinalQualityScore: 0.7,
				TotalDurationSecs: 12,
			},
		},
		{
			Status:   model.RunStatusFailed,
			Metadata: &model.ExtractionMetadata{TotalCostUSD: 0.02},
		},
		{Status: model.RunStatusPhase2, CreatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.Done)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.InFlight)
	assert.InDelta(t, 0.08, s.TotalCost, 1e-9)
	assert.InDelta(t, 0.8, s.AvgScore, 1e-9)
	assert.InDelta(t, 8.0, s.AvgDurSecs, 1e-9)
	assert.Equal(t, 1, s.PhasesNeeded[1])
	assert.Equal(t, 1, s.PhasesNeeded[2])
}

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC)
	runs := []model.Run{
		{
			ID:        "abcdef1234567890",
			Target:    model.Target{URL: "https://mario.example.com"},
			Status:    model.RunStatusDone,
			CreatedAt: now,
			Metadata: &model.ExtractionMetadata{
				FinalQualityScore: 0.85,
				TotalCostUSD:      0.0123,
			},
		},
		{
			ID:        "short",
			Target:    model.Target{URL: "https://pending.example.com"},
			Status:    model.RunStatusPhase1,
			CreatedAt: now,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "abcdef12")
	assert.NotContains(t, out, "abcdef1234567890")
	assert.Contains(t, out, "https://mario.example.com")
	assert.Contains(t, out, "0.85")
	assert.Contains(t, out, "$0.0123")
	assert.Contains(t, out, "2026-08-01 12:30")
	assert.Contains(t, out, "phase_1")
}

func TestFormatRunStats(t *testing.T) {
	var buf bytes.Buffer
	formatRunStats(&buf, runStats{
		Total:        10,
		Done:         7,
		Failed:       2,
		InFlight:     1,
		TotalCost:    0.42,
		AvgScore:     0.75,
		AvgDurSecs:   9.5,
		PhasesNeeded: map[int]int{1: 5, 3: 2},
	})
	out := buf.String()

	assert.Contains(t, out, "Total runs:")
	assert.Contains(t, out, "$0.4200")
	assert.Contains(t, out, "0.75")
	assert.Contains(t, out, "Stopped after 1 phase(s):")
	assert.Contains(t, out, "Stopped after 3 phase(s):")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "12345678", truncateID("1234567890"))
	assert.Equal(t, "short", truncateID("short"))
}
