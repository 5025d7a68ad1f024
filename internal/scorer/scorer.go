// Package scorer computes the weighted completeness score that drives phase
// progression in the extraction pipeline.
package scorer

import (
	"math"

	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/internal/registry"
)

// Scorer evaluates a RestaurantRecord against a field registry. It is a
// pure function holder: Score has no side effects and is deterministic for
// a given record.
type Scorer struct {
	registry *registry.FieldRegistry
}

// New creates a Scorer over the given field registry.
func New(r *registry.FieldRegistry) *Scorer {
	return &Scorer{registry: r}
}

// Score returns the record's quality score in [0,1] plus the set of
// critical fields still missing (absent, or present below their minimum
// confidence).
//
// A field contributes its full weight only when present AND its stored
// confidence meets the per-field minimum; otherwise it contributes zero.
// No partial credit: rewarding low-confidence guesses would let noisy
// phases inflate the score and stop escalation early.
func (s *Scorer) Score(rec *model.RestaurantRecord) (float64, []model.FieldName) {
	score := 0.0
	var missing []model.FieldName

	for _, spec := range s.registry.Fields {
		populated := fieldPresent(rec, spec.Field)
		credited := populated && rec.Confidence(spec.Field) >= spec.MinConfidence
		if credited {
			score += spec.Weight
		}
		if spec.Critical && !credited {
			missing = append(missing, spec.Field)
		}
	}

	// Clamp against float drift so callers can rely on [0,1].
	return math.Min(1.0, math.Max(0.0, score)), missing
}

// fieldPresent reports whether the record carries any value for the field.
func fieldPresent(rec *model.RestaurantRecord, f model.FieldName) bool {
	switch f {
	case model.FieldRestaurantName:
		return rec.Name != ""
	case model.FieldAddress:
		return rec.Address.Raw != ""
	case model.FieldPhone:
		return rec.Phone.Raw != "" || rec.Phone.E164 != ""
	case model.FieldEmail:
		return rec.Email != ""
	case model.FieldHours:
		return rec.Hours != ""
	case model.FieldMenu:
		return countNonHeaderItems(rec.MenuItems) > 0
	case model.FieldScreenshots:
		return len(rec.Screenshots) > 0
	case model.FieldSocial:
		return len(rec.SocialLinks) > 0
	default:
		return false
	}
}

func countNonHeaderItems(items []model.MenuItem) int {
	n := 0
	for _, m := range items {
		if !m.IsHeader {
			n++
		}
	}
	return n
}
