package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableiq/research-cli/internal/adapter"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/internal/registry"
	"github.com/tableiq/research-cli/internal/scorer"
)

// stubAdapter is a scriptable adapter for orchestrator tests.
type stubAdapter struct {
	name     string
	phase    model.Phase
	fields   []model.FieldCapability
	estimate float64
	partial  *model.PartialRecord
	cost     float64
	err      error
	panics   bool
	calls    atomic.Int32
}

func (s *stubAdapter) Name() string                    { return s.name }
func (s *stubAdapter) Phase() model.Phase              { return s.phase }
func (s *stubAdapter) Fields() []model.FieldCapability { return s.fields }
func (s *stubAdapter) CostEstimate() float64           { return s.estimate }

func (s *stubAdapter) Extract(_ context.Context, _ model.Target, _ *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	s.calls.Add(1)
	if s.panics {
		panic("stub adapter exploded")
	}
	if s.err != nil {
		return nil, s.cost, s.err
	}
	return s.partial, s.cost, nil
}

func richPartial(source string, conf float64) *model.PartialRecord {
	return &model.PartialRecord{
		Source:     source,
		Name:       model.Str("Luciano's Trattoria", conf),
		AddressRaw: model.Str("12 Mott St, New York, NY 10013", conf),
		Phone:      model.Str("(212) 555-0142", conf),
		MenuItems: []model.MenuItem{
			{Name: "Caesar Salad", Price: "$12", Confidence: conf},
		},
		Screenshots: []model.Screenshot{
			{SourceURL: "https://lucianos.example", PageType: model.PageTypeHome, StorageURL: "data:image/png;base64,x", QualityScore: conf},
		},
	}
}

func newOrchestrator(cfg Config, adapters ...adapter.Adapter) *Orchestrator {
	return New(cfg, scorer.New(registry.Default()), nil, nil, adapters...)
}

func target() model.Target {
	return model.Target{URL: "https://lucianos.example", Name: "Luciano's Trattoria"}
}

func TestExtract_StopsAfterPhase1WhenThresholdMet(t *testing.T) {
	// name+address+phone+menu+screenshots at high confidence scores 0.85
	p1 := &stubAdapter{name: "p1", phase: model.PhaseStructured, partial: richPartial("p1", 0.9)}
	p2 := &stubAdapter{name: "p2", phase: model.PhaseDOMCrawl}
	p3 := &stubAdapter{name: "p3", phase: model.PhaseVision}
	p4 := &stubAdapter{name: "p4", phase: model.PhaseAgent}

	o := newOrchestrator(DefaultConfig(), p1, p2, p3, p4)
	rec, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, []model.Phase{model.PhaseStructured}, meta.PhasesCompleted)
	assert.InDelta(t, 0.85, meta.FinalQualityScore, 0.001)
	assert.Equal(t, "Luciano's Trattoria", rec.Name)

	assert.Zero(t, p2.calls.Load())
	assert.Zero(t, p3.calls.Load())
	assert.Zero(t, p4.calls.Load())
}

func TestExtract_BudgetSkipsExpensiveAdapters(t *testing.T) {
	p1 := &stubAdapter{name: "p1", phase: model.PhaseStructured, partial: &model.PartialRecord{Source: "p1"}}
	p3 := &stubAdapter{
		name: "p3", phase: model.PhaseVision, estimate: 0.10,
		fields: []model.FieldCapability{{Field: model.FieldRestaurantName, BaseConfidence: 0.9}},
	}
	p4 := &stubAdapter{
		name: "p4", phase: model.PhaseAgent, estimate: 0.10,
		fields: []model.FieldCapability{{Field: model.FieldRestaurantName, BaseConfidence: 0.9}},
	}

	cfg := DefaultConfig()
	cfg.MaxCostUSD = 0.05
	o := newOrchestrator(cfg, p1, p3, p4)

	_, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Zero(t, p3.calls.Load(), "over-budget adapter must not be invoked")
	assert.Zero(t, p4.calls.Load())
	assert.Zero(t, meta.FinalQualityScore)
}

func TestExtract_SchemaOrgEndToEnd(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
	{"@type":"Restaurant","name":"Luciano's Trattoria","telephone":"(212) 555-0142",
	 "address":{"streetAddress":"12 Mott St","addressLocality":"New York","addressRegion":"NY"}}
	</script></head></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	later := &stubAdapter{name: "later", phase: model.PhaseDOMCrawl}
	o := newOrchestrator(DefaultConfig(), adapter.NewSchemaOrgAdapter(srv.Client()), later)

	rec, meta, err := o.Extract(context.Background(), model.Target{URL: srv.URL})
	require.NoError(t, err)

	assert.Equal(t, []model.Phase{model.PhaseStructured}, meta.PhasesCompleted)
	assert.Equal(t, "Luciano's Trattoria", rec.Name)
	assert.Equal(t, "12 Mott St, New York, NY", rec.Address.Raw)
	assert.Equal(t, "(212) 555-0142", rec.Phone.Raw)
	assert.GreaterOrEqual(t, rec.Confidence(model.FieldRestaurantName), 0.8)
	assert.Empty(t, rec.MenuItems)
	assert.Zero(t, later.calls.Load())
}

func TestExtract_AdapterFailureDoesNotAbortRun(t *testing.T) {
	failing := &stubAdapter{name: "failing", phase: model.PhaseStructured, err: errors.New("quota exceeded"), cost: 0.01}
	working := &stubAdapter{name: "working", phase: model.PhaseStructured, partial: richPartial("working", 0.9)}

	o := newOrchestrator(DefaultConfig(), failing, working)
	rec, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, "Luciano's Trattoria", rec.Name)
	require.NotEmpty(t, meta.PerPhase)
	assert.Equal(t, 2, meta.PerPhase[0].AdaptersRun)
	assert.Equal(t, 1, meta.PerPhase[0].AdapterFails)
	// the failed adapter's spend is still billed
	assert.InDelta(t, 0.01, meta.TotalCostUSD, 1e-9)
}

func TestExtract_AdapterPanicIsZeroYield(t *testing.T) {
	exploding := &stubAdapter{name: "exploding", phase: model.PhaseStructured, panics: true}
	working := &stubAdapter{name: "working", phase: model.PhaseStructured, partial: richPartial("working", 0.9)}

	o := newOrchestrator(DefaultConfig(), exploding, working)
	rec, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, "Luciano's Trattoria", rec.Name)
	assert.Equal(t, 1, meta.PerPhase[0].AdapterFails)
}

func TestExtract_StopsWhenNoAdapterClaimsMissingCritical(t *testing.T) {
	// phase 1 yields nothing; the only later adapter claims social links,
	// which cannot fill the missing name/address/phone
	p1 := &stubAdapter{name: "p1", phase: model.PhaseStructured, partial: &model.PartialRecord{Source: "p1"}}
	social := &stubAdapter{
		name: "social", phase: model.PhaseDOMCrawl,
		fields: []model.FieldCapability{{Field: model.FieldSocial, BaseConfidence: 0.8}},
	}

	o := newOrchestrator(DefaultConfig(), p1, social)
	_, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, []model.Phase{model.PhaseStructured}, meta.PhasesCompleted)
	assert.Zero(t, social.calls.Load())
}

func TestExtract_EscalatesWhileCriticalMissing(t *testing.T) {
	p1 := &stubAdapter{name: "p1", phase: model.PhaseStructured, partial: &model.PartialRecord{Source: "p1"}}
	p2 := &stubAdapter{
		name: "p2", phase: model.PhaseDOMCrawl,
		fields:  []model.FieldCapability{{Field: model.FieldRestaurantName, BaseConfidence: 0.7}},
		partial: richPartial("p2", 0.9),
	}

	o := newOrchestrator(DefaultConfig(), p1, p2)
	rec, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, 1, int(p2.calls.Load()))
	assert.Equal(t, []model.Phase{model.PhaseStructured, model.PhaseDOMCrawl}, meta.PhasesCompleted)
	assert.Equal(t, "Luciano's Trattoria", rec.Name)
}

func TestExtract_InvalidSeedIsFatal(t *testing.T) {
	o := newOrchestrator(DefaultConfig())

	for _, seed := range []string{"", "not-a-url", "ftp://lucianos.example"} {
		rec, meta, err := o.Extract(context.Background(), model.Target{URL: seed})
		require.Error(t, err, seed)
		assert.Nil(t, rec)
		require.NotNil(t, meta)
		assert.Equal(t, FailureInvalidSeed, meta.FailureReason)
	}
}

func TestExtract_WallClockExhaustedBeforeAnyPhase(t *testing.T) {
	slow := &stubAdapter{name: "slow", phase: model.PhaseStructured}
	o := newOrchestrator(DefaultConfig(), slow)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec, meta, err := o.Extract(ctx, target())
	require.Error(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, FailureNoPhases, meta.FailureReason)
	assert.Zero(t, slow.calls.Load())
}

// blockingAdapter waits out the run's deadline before reporting failure,
// like a crawl that never finishes in time.
type blockingAdapter struct {
	stubAdapter
}

func (b *blockingAdapter) Extract(ctx context.Context, _ model.Target, _ *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	b.calls.Add(1)
	<-ctx.Done()
	return nil, 0, ctx.Err()
}

func TestExtract_DeadlineMidPhaseKeepsEarlierFields(t *testing.T) {
	p1 := &stubAdapter{name: "p1", phase: model.PhaseStructured, partial: &model.PartialRecord{
		Source: "p1",
		Name:   model.Str("Luciano's Trattoria", 0.9),
	}}
	p2 := &blockingAdapter{stubAdapter{
		name: "p2", phase: model.PhaseDOMCrawl,
		fields: []model.FieldCapability{
			{Field: model.FieldAddress, BaseConfidence: 0.8},
			{Field: model.FieldPhone, BaseConfidence: 0.8},
		},
	}}
	p3 := &stubAdapter{
		name: "p3", phase: model.PhaseVision,
		fields: []model.FieldCapability{{Field: model.FieldAddress, BaseConfidence: 0.7}},
	}

	cfg := DefaultConfig()
	cfg.MaxDuration = 50 * time.Millisecond
	o := newOrchestrator(cfg, p1, p2, p3)

	rec, meta, err := o.Extract(context.Background(), target())
	require.NoError(t, err, "a run with completed phases finishes despite the expired clock")

	require.NotNil(t, rec)
	assert.Equal(t, "Luciano's Trattoria", rec.Name, "phase 1 merge survives the cut-off")
	assert.Contains(t, meta.PhasesCompleted, model.PhaseStructured)
	assert.Equal(t, 1, int(p2.calls.Load()))
	assert.Zero(t, p3.calls.Load(), "no escalation past the expired deadline")
}

func TestExtract_HigherPhaseNeverDowngradesConfidence(t *testing.T) {
	p1 := &stubAdapter{name: "p1", phase: model.PhaseStructured, partial: &model.PartialRecord{
		Source: "p1",
		Name:   model.Str("Luciano's Trattoria", 0.9),
	}}
	p2 := &stubAdapter{
		name: "p2", phase: model.PhaseDOMCrawl,
		fields: []model.FieldCapability{{Field: model.FieldAddress, BaseConfidence: 0.7}},
		partial: &model.PartialRecord{
			Source:     "p2",
			Name:       model.Str("LUCIANOS PIZZA LLC", 0.5),
			AddressRaw: model.Str("12 Mott St", 0.7),
		},
	}

	o := newOrchestrator(DefaultConfig(), p1, p2)
	rec, _, err := o.Extract(context.Background(), target())
	require.NoError(t, err)

	assert.Equal(t, "Luciano's Trattoria", rec.Name)
	assert.Equal(t, "p1", rec.Provenance[model.FieldRestaurantName].Source)
	assert.Equal(t, "12 Mott St", rec.Address.Raw)
}
