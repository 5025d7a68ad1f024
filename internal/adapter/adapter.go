// Package adapter defines the extraction source interface and its
// implementations, one per data source. Adapters are grouped into phases by
// cost: structured lookups first, browser crawling second, vision third,
// and the LLM browser agent last.
package adapter

import (
	"context"

	"github.com/tableiq/research-cli/internal/model"
)

// crawlerUserAgent identifies the pipeline's plain HTTP fetches.
const crawlerUserAgent = "tableiq-research/1.0 (+https://tableiq.com/crawler)"

// Adapter extracts restaurant fields from one source. Extract returns a
// partial record, the cost incurred in USD, and an error. A failed adapter
// never aborts a run; the orchestrator logs the error and continues with
// the other adapters in the phase.
type Adapter interface {
	// Name identifies the adapter in provenance and logs.
	Name() string
	// Phase is the pipeline tier this adapter belongs to.
	Phase() model.Phase
	// Fields lists the fields this adapter can populate and the base
	// confidence it assigns them.
	Fields() []model.FieldCapability
	// CostEstimate is the expected cost of one Extract call in USD, used
	// for budget pre-checks before the call is made.
	CostEstimate() float64
	// Extract pulls fields from the source. The record is read-only
	// context (discovered pages, already-known values); results flow back
	// through the returned partial.
	Extract(ctx context.Context, target model.Target, rec *model.RestaurantRecord) (*model.PartialRecord, float64, error)
}

// CanContribute reports whether the adapter claims any of the given fields.
func CanContribute(a Adapter, fields []model.FieldName) bool {
	for _, cap := range a.Fields() {
		for _, f := range fields {
			if cap.Field == f {
				return true
			}
		}
	}
	return false
}

// BaseConfidence returns the adapter's base confidence for a field, or 0
// if the adapter does not claim it.
func BaseConfidence(a Adapter, field model.FieldName) float64 {
	for _, cap := range a.Fields() {
		if cap.Field == field {
			return cap.BaseConfidence
		}
	}
	return 0
}
