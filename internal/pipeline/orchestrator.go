// Package pipeline contains the progressive extraction orchestrator: a
// state machine that runs adapter phases in escalating cost order and
// stops as soon as the record is good enough, the budget runs out, or no
// remaining source can fill what is still missing.
package pipeline

import (
	"context"
	"net/url"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tableiq/research-cli/internal/adapter"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/internal/scorer"
)

// adapterConcurrency bounds parallel adapter calls within one phase.
const adapterConcurrency = 3

// Failure reasons surfaced in ExtractionMetadata.
const (
	FailureInvalidSeed   = "invalid_seed_url"
	FailureNoPhases      = "wall_clock_exhausted_before_any_phase"
	StopThresholdMet     = "threshold_met"
	StopBudgetExhausted  = "budget_exhausted"
	StopNoUsefulAdapters = "no_adapter_for_missing_critical_fields"
	StopPhasesExhausted  = "phases_exhausted"
)

// Config holds the orchestrator's stopping knobs. Thresholds are keyed by
// the phase they are evaluated after; a phase without an entry never stops
// on score alone.
type Config struct {
	Thresholds  map[model.Phase]float64
	MaxCostUSD  float64
	MaxDuration time.Duration
}

// DefaultConfig returns the stock thresholds and budgets.
func DefaultConfig() Config {
	return Config{
		Thresholds: map[model.Phase]float64{
			model.PhaseStructured: 0.4,
			model.PhaseDOMCrawl:   0.6,
			model.PhaseVision:     0.8,
		},
		MaxCostUSD:  2.00,
		MaxDuration: 5 * time.Minute,
	}
}

// Cleaner normalizes a finished record and reports the cost it incurred.
type Cleaner interface {
	Clean(ctx context.Context, rec *model.RestaurantRecord) float64
}

// RunStore persists run telemetry. Implementations live in the store
// package; NopStore satisfies it for store-less runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error
	UpdateRun(ctx context.Context, run *model.Run) error
}

// Orchestrator drives one extraction run through the phase state machine.
type Orchestrator struct {
	cfg      Config
	scorer   *scorer.Scorer
	cleaner  Cleaner
	store    RunStore
	adapters map[model.Phase][]adapter.Adapter
}

// New creates an orchestrator. cleaner and store may be nil.
func New(cfg Config, sc *scorer.Scorer, cl Cleaner, st RunStore, adapters ...adapter.Adapter) *Orchestrator {
	byPhase := make(map[model.Phase][]adapter.Adapter)
	for _, a := range adapters {
		byPhase[a.Phase()] = append(byPhase[a.Phase()], a)
	}
	return &Orchestrator{
		cfg:      cfg,
		scorer:   sc,
		cleaner:  cl,
		store:    st,
		adapters: byPhase,
	}
}

// Extract runs the full pipeline for one seed target under a fresh run ID.
// The returned record and metadata are non-nil whenever at least one phase
// completed; a fatal failure (invalid seed, wall clock gone before any
// phase) returns the metadata with a failure reason plus an error.
func (o *Orchestrator) Extract(ctx context.Context, target model.Target) (*model.RestaurantRecord, *model.ExtractionMetadata, error) {
	return o.ExtractRun(ctx, target, uuid.NewString())
}

// ExtractRun is Extract under a caller-chosen run ID, so API callers can
// hand the ID back before the run persists and poll for it later.
func (o *Orchestrator) ExtractRun(ctx context.Context, target model.Target, runID string) (*model.RestaurantRecord, *model.ExtractionMetadata, error) {
	start := time.Now()
	meta := &model.ExtractionMetadata{RunID: runID}

	if err := validateSeed(target.URL); err != nil {
		meta.FailureReason = FailureInvalidSeed
		return nil, meta, err
	}

	if o.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.MaxDuration)
		defer cancel()
	}

	rec := model.NewRestaurantRecord(target.URL)
	run := &model.Run{
		ID:        meta.RunID,
		Target:    target,
		Status:    model.RunStatusInit,
		CreatedAt: start,
		UpdatedAt: start,
	}
	o.persist(ctx, run, false)

	var spent float64
	score, missing := o.scorer.Score(rec)
	stopReason := StopPhasesExhausted

	phases := model.Phases()
	for i, phase := range phases {
		if ctx.Err() != nil {
			stopReason = StopBudgetExhausted
			break
		}

		run.Status = phaseStatus(phase)
		o.persist(ctx, run, true)

		result := o.runPhase(ctx, phase, target, rec, &spent)
		meta.PerPhase = append(meta.PerPhase, result)
		if result.Status == model.PhaseStatusComplete {
			meta.PhasesCompleted = append(meta.PhasesCompleted, phase)
		}

		score, missing = o.scorer.Score(rec)
		result.ScoreAfter = score
		meta.PerPhase[len(meta.PerPhase)-1] = result

		zap.L().Info("phase complete",
			zap.String("run_id", meta.RunID),
			zap.String("phase", string(phase)),
			zap.Float64("score", score),
			zap.Float64("spent_usd", spent),
			zap.Int("adapters_run", result.AdaptersRun),
			zap.Int("adapter_fails", result.AdapterFails),
		)

		if i == len(phases)-1 {
			stopReason = StopPhasesExhausted
			break
		}
		if reason, stop := o.shouldStop(ctx, phase, phases[i+1:], score, missing, spent); stop {
			stopReason = reason
			break
		}
	}

	if len(meta.PhasesCompleted) == 0 {
		meta.FailureReason = FailureNoPhases
		meta.TotalDurationSecs = time.Since(start).Seconds()
		run.Status = model.RunStatusFailed
		run.Metadata = meta
		o.persist(ctx, run, true)
		return nil, meta, eris.New("pipeline: wall clock exhausted before any phase completed")
	}

	if o.cleaner != nil {
		// Cleaning runs outside the wall-clock context: a run that spent
		// its whole budget crawling still deserves normalized output.
		spent += o.cleaner.Clean(context.WithoutCancel(ctx), rec)
		score, _ = o.scorer.Score(rec)
	}

	elapsed := time.Since(start)
	rec.TotalCostUSD = spent
	rec.ElapsedSeconds = elapsed.Seconds()
	rec.PhasesCompleted = meta.PhasesCompleted
	rec.QualityScore = score

	meta.TotalCostUSD = spent
	meta.TotalDurationSecs = elapsed.Seconds()
	meta.FinalQualityScore = score

	run.Status = model.RunStatusDone
	run.Record = rec
	run.Metadata = meta
	o.persist(ctx, run, true)

	zap.L().Info("extraction finished",
		zap.String("run_id", meta.RunID),
		zap.String("url", target.URL),
		zap.String("stop_reason", stopReason),
		zap.Float64("score", score),
		zap.Float64("cost_usd", spent),
		zap.Duration("elapsed", elapsed),
	)
	return rec, meta, nil
}

// runPhase executes every adapter of the phase in parallel and merges
// their partials in adapter order, so merges are deterministic regardless
// of completion order. The spent total is advanced even for failed
// adapters: their API calls were still billed.
func (o *Orchestrator) runPhase(ctx context.Context, phase model.Phase, target model.Target, rec *model.RestaurantRecord, spent *float64) model.PhaseResult {
	phaseStart := time.Now()
	spentBefore := *spent
	result := model.PhaseResult{Phase: phase, Status: model.PhaseStatusComplete}

	adapters := o.adapters[phase]
	if len(adapters) == 0 {
		result.Status = model.PhaseStatusSkipped
		return result
	}

	type yield struct {
		partial *model.PartialRecord
		cost    float64
		err     error
		skipped bool
	}
	yields := make([]yield, len(adapters))

	// Budget pre-check is serialized against a reservation total so two
	// parallel adapters cannot both squeeze into the last dollar.
	var mu sync.Mutex
	reserved := *spent

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(adapterConcurrency)
	for i, a := range adapters {
		mu.Lock()
		if o.cfg.MaxCostUSD > 0 && reserved+a.CostEstimate() > o.cfg.MaxCostUSD {
			yields[i] = yield{skipped: true}
			mu.Unlock()
			zap.L().Info("adapter skipped, cost estimate over budget",
				zap.String("adapter", a.Name()),
				zap.Float64("estimate_usd", a.CostEstimate()),
				zap.Float64("reserved_usd", reserved),
				zap.Float64("budget_usd", o.cfg.MaxCostUSD),
			)
			continue
		}
		reserved += a.CostEstimate()
		mu.Unlock()

		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					zap.L().Error("adapter panicked",
						zap.String("adapter", a.Name()),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
					yields[i] = yield{err: eris.Errorf("adapter %s panicked: %v", a.Name(), r)}
				}
			}()
			partial, cost, err := a.Extract(gCtx, target, rec)
			yields[i] = yield{partial: partial, cost: cost, err: err}
			return nil
		})
	}
	_ = g.Wait() // adapter errors are collected per-yield, never group-fatal

	for i, y := range yields {
		if y.skipped {
			continue
		}
		result.AdaptersRun++
		*spent += y.cost
		if y.err != nil {
			result.AdapterFails++
			zap.L().Warn("adapter failed",
				zap.String("adapter", adapters[i].Name()),
				zap.String("phase", string(phase)),
				zap.String("url", target.URL),
				zap.Error(y.err),
			)
			continue
		}
		if y.partial != nil {
			model.Merge(rec, *y.partial, phase)
		}
	}

	result.DurationMS = time.Since(phaseStart).Milliseconds()
	result.CostUSD = *spent - spentBefore
	if result.AdaptersRun == 0 {
		result.Status = model.PhaseStatusAborted
	}
	return result
}

// shouldStop evaluates the transition rule after a phase. Stops on: score
// over the phase threshold, budget exhaustion, or a missing critical field
// that no remaining adapter claims.
func (o *Orchestrator) shouldStop(ctx context.Context, phase model.Phase, remaining []model.Phase, score float64, missing []model.FieldName, spent float64) (string, bool) {
	if threshold, ok := o.cfg.Thresholds[phase]; ok && score >= threshold {
		return StopThresholdMet, true
	}
	if o.cfg.MaxCostUSD > 0 && spent >= o.cfg.MaxCostUSD {
		return StopBudgetExhausted, true
	}
	if err := ctx.Err(); err != nil {
		return StopBudgetExhausted, true
	}
	if len(missing) > 0 && !o.anyAdapterClaims(remaining, missing) {
		return StopNoUsefulAdapters, true
	}
	return "", false
}

func (o *Orchestrator) anyAdapterClaims(phases []model.Phase, fields []model.FieldName) bool {
	for _, phase := range phases {
		for _, a := range o.adapters[phase] {
			if adapter.CanContribute(a, fields) {
				return true
			}
		}
	}
	return false
}

func (o *Orchestrator) persist(ctx context.Context, run *model.Run, update bool) {
	if o.store == nil {
		return
	}
	run.UpdatedAt = time.Now()

	var err error
	if update {
		err = o.store.UpdateRun(context.WithoutCancel(ctx), run)
	} else {
		err = o.store.CreateRun(context.WithoutCancel(ctx), run)
	}
	if err != nil {
		zap.L().Warn("run persistence failed",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}
}

func validateSeed(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return eris.Wrapf(err, "pipeline: invalid seed url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("pipeline: seed url %q must be http or https", raw)
	}
	if u.Host == "" {
		return eris.Errorf("pipeline: seed url %q has no host", raw)
	}
	return nil
}

func phaseStatus(p model.Phase) model.RunStatus {
	switch p {
	case model.PhaseStructured:
		return model.RunStatusPhase1
	case model.PhaseDOMCrawl:
		return model.RunStatusPhase2
	case model.PhaseVision:
		return model.RunStatusPhase3
	case model.PhaseAgent:
		return model.RunStatusPhase4
	default:
		return model.RunStatusInit
	}
}
