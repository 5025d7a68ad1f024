package model

import (
	"strings"
	"time"
)

// Target is the seed input for an extraction run: the restaurant's website
// URL plus whatever the caller already knows about the business.
type Target struct {
	URL     string `json:"url"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	Email   string `json:"email,omitempty"`
}

// Address holds a raw address string alongside its parsed components.
// Components are empty strings until the cleaner has run.
type Address struct {
	Raw     string `json:"raw"`
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	Postal  string `json:"postal"`
	Country string `json:"country"`
}

// Phone holds a raw phone string alongside its E.164 canonical form.
type Phone struct {
	Raw  string `json:"raw"`
	E164 string `json:"e164"`
}

// MenuItem is a single entry on a restaurant menu. IsHeader marks section
// headers ("Appetizers") that carry no price.
type MenuItem struct {
	Name        string  `json:"name"`
	Price       string  `json:"price,omitempty"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
	IsHeader    bool    `json:"is_header,omitempty"`
	Confidence  float64 `json:"confidence"`
}

// DedupeKey returns the identity tuple used to merge duplicate menu items
// across phases: normalized name, price, category.
func (m MenuItem) DedupeKey() string {
	name := strings.Join(strings.Fields(strings.ToLower(m.Name)), " ")
	return name + "\x00" + strings.TrimSpace(m.Price) + "\x00" + strings.ToLower(strings.TrimSpace(m.Category))
}

// Screenshot references a captured page image stored in object storage.
type Screenshot struct {
	SourceURL    string  `json:"source_url"`
	StorageURL   string  `json:"storage_url"`
	PageType     string  `json:"page_type"`
	Caption      string  `json:"caption,omitempty"`
	QualityScore float64 `json:"quality_score"`
}

// PageType classification for discovered site pages. Drives which pages
// later phases crawl and screenshot.
const (
	PageTypeHome    = "homepage"
	PageTypeMenu    = "menu"
	PageTypeContact = "contact"
	PageTypeAbout   = "about"
	PageTypeGallery = "gallery"
	PageTypeSocial  = "social"
	PageTypeOther   = "other"
)

// DiscoveredPage is a site page found during Phase 1 (sitemap) and consumed
// by the browser-bound phases.
type DiscoveredPage struct {
	URL      string `json:"url"`
	PageType string `json:"page_type"`
}

// Provenance records which adapter produced a field value, in which phase,
// and at what confidence. Merge decisions are arbitrated on Confidence.
type Provenance struct {
	Source     string  `json:"source"`
	Phase      Phase   `json:"phase"`
	Confidence float64 `json:"confidence"`
}

// RestaurantRecord is the accumulating aggregate result of an extraction
// run. Created empty at orchestration start, mutated in place by each
// phase's merge step, frozen once the orchestrator terminates.
type RestaurantRecord struct {
	Name           string   `json:"name"`
	NameCandidates []string `json:"name_candidates,omitempty"`
	URL            string   `json:"url"`

	Address Address `json:"address"`
	Phone   Phone   `json:"phone"`
	Email   string  `json:"email"`
	Hours   string  `json:"hours"`

	MenuItems   []MenuItem       `json:"menu_items"`
	Screenshots []Screenshot     `json:"screenshots"`
	SocialLinks []string         `json:"social_links"`
	Pages       []DiscoveredPage `json:"pages,omitempty"`

	Provenance map[FieldName]Provenance `json:"provenance"`

	TotalCostUSD    float64 `json:"total_cost_usd"`
	ElapsedSeconds  float64 `json:"elapsed_seconds"`
	PhasesCompleted []Phase `json:"phases_completed"`
	QualityScore    float64 `json:"quality_score"`
}

// NewRestaurantRecord creates an empty record for the given seed URL.
func NewRestaurantRecord(url string) *RestaurantRecord {
	return &RestaurantRecord{
		URL:         url,
		MenuItems:   []MenuItem{},
		Screenshots: []Screenshot{},
		SocialLinks: []string{},
		Provenance:  map[FieldName]Provenance{},
	}
}

// Confidence returns the stored confidence for a field, or 0 if the field
// has never been populated.
func (r *RestaurantRecord) Confidence(f FieldName) float64 {
	return r.Provenance[f].Confidence
}

// PagesOfType returns discovered pages matching the given page type.
func (r *RestaurantRecord) PagesOfType(pageType string) []DiscoveredPage {
	var out []DiscoveredPage
	for _, p := range r.Pages {
		if p.PageType == pageType {
			out = append(out, p)
		}
	}
	return out
}

// ExtractionMetadata is the telemetry object returned alongside the record.
type ExtractionMetadata struct {
	RunID             string        `json:"run_id,omitempty"`
	PhasesCompleted   []Phase       `json:"phases_completed"`
	TotalCostUSD      float64       `json:"total_cost_usd"`
	TotalDurationSecs float64       `json:"total_duration_seconds"`
	FinalQualityScore float64       `json:"final_quality_score"`
	PerPhase          []PhaseResult `json:"per_phase_breakdown"`
	FailureReason     string        `json:"failure_reason,omitempty"`
}

// PhaseResult holds the outcome of a single pipeline phase.
type PhaseResult struct {
	Phase        Phase          `json:"phase"`
	Status       PhaseStatus    `json:"status"`
	DurationMS   int64          `json:"duration_ms"`
	CostUSD      float64        `json:"cost_usd"`
	ScoreAfter   float64        `json:"score_after"`
	AdaptersRun  int            `json:"adapters_run"`
	AdapterFails int            `json:"adapter_fails"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// PhaseStatus represents the outcome of a pipeline phase.
type PhaseStatus string

const (
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusSkipped  PhaseStatus = "skipped"
	PhaseStatusAborted  PhaseStatus = "aborted"
)

// Run represents a single persisted extraction run.
type Run struct {
	ID        string              `json:"id"`
	Target    Target              `json:"target"`
	Status    RunStatus           `json:"status"`
	Record    *RestaurantRecord   `json:"record,omitempty"`
	Metadata  *ExtractionMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// RunStatus mirrors the orchestrator state machine.
type RunStatus string

const (
	RunStatusInit   RunStatus = "init"
	RunStatusPhase1 RunStatus = "phase_1"
	RunStatusPhase2 RunStatus = "phase_2"
	RunStatusPhase3 RunStatus = "phase_3"
	RunStatusPhase4 RunStatus = "phase_4"
	RunStatusDone   RunStatus = "done"
	RunStatusFailed RunStatus = "failed"
)
