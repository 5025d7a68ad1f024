// Package registry holds the field-weight table driving quality scoring
// and merge thresholds. Defaults are compiled in; a YAML file can override
// them per deployment.
package registry

import (
	"math"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/tableiq/research-cli/internal/model"
)

// FieldSpec describes how one record field participates in scoring and
// merging.
type FieldSpec struct {
	Field model.FieldName `yaml:"field"`
	// Weight is the field's share of the quality score. Weights sum to 1.0.
	Weight float64 `yaml:"weight"`
	// MinConfidence is the confidence below which a populated field earns
	// no score credit at all. No partial credit for low-confidence guesses.
	MinConfidence float64 `yaml:"min_confidence"`
	// Critical fields gate phase escalation: the pipeline keeps escalating
	// while a critical field is missing and a later adapter can supply it.
	Critical bool `yaml:"critical"`
}

// FieldRegistry is an indexed collection of field specs.
type FieldRegistry struct {
	Fields   []FieldSpec
	byName   map[model.FieldName]*FieldSpec
	critical []model.FieldName
}

// New creates a FieldRegistry with indexed lookups. Returns an error when
// weights do not sum to 1.0 (within float tolerance) or a field repeats.
func New(fields []FieldSpec) (*FieldRegistry, error) {
	r := &FieldRegistry{
		Fields: fields,
		byName: make(map[model.FieldName]*FieldSpec, len(fields)),
	}
	sum := 0.0
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Weight < 0 {
			return nil, eris.Errorf("registry: field %s has negative weight", f.Field)
		}
		if _, dup := r.byName[f.Field]; dup {
			return nil, eris.Errorf("registry: duplicate field %s", f.Field)
		}
		r.byName[f.Field] = f
		if f.Critical {
			r.critical = append(r.critical, f.Field)
		}
		sum += f.Weight
	}
	if math.Abs(sum-1.0) > 0.001 {
		return nil, eris.Errorf("registry: weights must sum to 1.0, got %.3f", sum)
	}
	return r, nil
}

// ByName returns the spec for a field, or nil if the field is not scored.
func (r *FieldRegistry) ByName(f model.FieldName) *FieldSpec {
	return r.byName[f]
}

// Critical returns the critical field names.
func (r *FieldRegistry) Critical() []model.FieldName {
	return r.critical
}

// Default returns the built-in field registry.
func Default() *FieldRegistry {
	r, err := New([]FieldSpec{
		{Field: model.FieldRestaurantName, Weight: 0.20, MinConfidence: 0.5, Critical: true},
		{Field: model.FieldAddress, Weight: 0.20, MinConfidence: 0.5, Critical: true},
		{Field: model.FieldPhone, Weight: 0.15, MinConfidence: 0.5, Critical: true},
		{Field: model.FieldMenu, Weight: 0.20, MinConfidence: 0.4},
		{Field: model.FieldScreenshots, Weight: 0.10, MinConfidence: 0.3},
		{Field: model.FieldSocial, Weight: 0.05, MinConfidence: 0.4},
		{Field: model.FieldEmail, Weight: 0.05, MinConfidence: 0.5},
		{Field: model.FieldHours, Weight: 0.05, MinConfidence: 0.4},
	})
	if err != nil {
		panic(err) // compiled-in defaults are validated by tests
	}
	return r
}

// Load reads a field registry from a YAML file. An empty path returns the
// defaults.
func Load(path string) (*FieldRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}
	var doc struct {
		Fields []FieldSpec `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", path)
	}
	return New(doc.Fields)
}
