package model

// FieldName identifies one scoreable field of a RestaurantRecord.
type FieldName string

const (
	FieldRestaurantName FieldName = "name"
	FieldAddress        FieldName = "address"
	FieldPhone          FieldName = "phone"
	FieldEmail          FieldName = "email"
	FieldHours          FieldName = "hours"
	FieldMenu           FieldName = "menu"
	FieldScreenshots    FieldName = "screenshots"
	FieldSocial         FieldName = "social"
)

// AllFields lists every scoreable field, in registry order.
func AllFields() []FieldName {
	return []FieldName{
		FieldRestaurantName,
		FieldAddress,
		FieldPhone,
		FieldEmail,
		FieldHours,
		FieldMenu,
		FieldScreenshots,
		FieldSocial,
	}
}

// FieldCapability declares a field an adapter can plausibly populate and
// the base confidence it assigns to values for that field. A structured
// Schema.org address gets a higher base confidence than a vision-model
// guess at the same field.
type FieldCapability struct {
	Field          FieldName
	BaseConfidence float64
}

// Phase is one cost/latency tier of the extraction pipeline.
type Phase string

const (
	PhaseStructured Phase = "phase_1" // near-zero-cost structured sources
	PhaseDOMCrawl   Phase = "phase_2" // moderate-cost browser crawl
	PhaseVision     Phase = "phase_3" // AI vision over captured screenshots
	PhaseAgent      Phase = "phase_4" // LLM-driven browser agent, last resort
)

// Phases returns the pipeline phases in escalation order.
func Phases() []Phase {
	return []Phase{PhaseStructured, PhaseDOMCrawl, PhaseVision, PhaseAgent}
}
