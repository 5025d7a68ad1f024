package adapter

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/jsonx"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/pkg/browser"
	"github.com/tableiq/research-cli/pkg/gemini"
)

// maxVisionPages caps how many screenshots one run sends to the model.
const maxVisionPages = 3

const visionPromptHeader = `You read restaurant website screenshots. Respond with only a JSON object, no prose.
The object has these keys (omit any you cannot read from the image):
  "restaurant_name", "address", "phone", "hours": strings
  "menu_items": array of {"name", "price", "description", "category"}
  "quality_score": integer 1-5, how legible and complete the page content is

Example response for a menu page:
{"menu_items":[{"name":"Caesar Salad","price":"$12","description":"romaine, parmesan","category":"salads"}],"quality_score":4}`

var visionPageHints = map[string]string{
	model.PageTypeMenu:    "This is a menu page. Focus on menu items with exact prices.",
	model.PageTypeContact: "This is a contact page. Focus on the address, phone number, and opening hours.",
	model.PageTypeHome:    "This is a homepage. Focus on the restaurant name and any contact details.",
}

// VisionAdapter sends captured page screenshots to a multimodal model and
// parses structured fields out of the reply. It reuses the screenshots the
// DOM crawl stored; pages without a stored capture are shot on demand.
type VisionAdapter struct {
	gemini  gemini.Client
	browser browser.Client
	model   string
	calc    *cost.Calculator
}

// NewVisionAdapter creates the vision adapter.
func NewVisionAdapter(geminiClient gemini.Client, browserClient browser.Client, visionModel string, calc *cost.Calculator) *VisionAdapter {
	return &VisionAdapter{gemini: geminiClient, browser: browserClient, model: visionModel, calc: calc}
}

func (a *VisionAdapter) Name() string       { return "vision" }
func (a *VisionAdapter) Phase() model.Phase { return model.PhaseVision }

func (a *VisionAdapter) Fields() []model.FieldCapability {
	return []model.FieldCapability{
		{Field: model.FieldRestaurantName, BaseConfidence: 0.75},
		{Field: model.FieldAddress, BaseConfidence: 0.70},
		{Field: model.FieldPhone, BaseConfidence: 0.70},
		{Field: model.FieldHours, BaseConfidence: 0.70},
		{Field: model.FieldMenu, BaseConfidence: 0.80},
		{Field: model.FieldScreenshots, BaseConfidence: 0.70},
	}
}

func (a *VisionAdapter) CostEstimate() float64 {
	// ~1500 input tokens per image plus prompt, modest output
	perPage := a.calc.LLM(a.model, 2000, 500) + a.calc.BrowserScreenshot()
	return float64(maxVisionPages) * perPage
}

type visionResponse struct {
	RestaurantName string           `json:"restaurant_name"`
	Address        string           `json:"address"`
	Phone          string           `json:"phone"`
	Hours          string           `json:"hours"`
	MenuItems      []visionMenuItem `json:"menu_items"`
	QualityScore   int              `json:"quality_score"`
}

type visionMenuItem struct {
	Name        string `json:"name"`
	Price       string `json:"price"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (a *VisionAdapter) Extract(ctx context.Context, target model.Target, rec *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	partial := &model.PartialRecord{Source: a.Name()}
	var spent float64

	shots, captureCost, err := a.collectScreenshots(ctx, target, rec)
	spent += captureCost
	if err != nil {
		return nil, spent, err
	}
	if len(shots) == 0 {
		zap.L().Info("vision adapter has no screenshots to read", zap.String("url", target.URL))
		return partial, spent, nil
	}

	for _, shot := range shots {
		data, mimeType, ok := decodeDataURI(shot.StorageURL)
		if !ok {
			continue
		}

		prompt := visionPromptHeader
		if hint, ok := visionPageHints[shot.PageType]; ok {
			prompt += "\n\n" + hint
		}

		resp, err := a.gemini.GenerateContent(ctx, &gemini.GenerateRequest{
			Model: a.model,
			Parts: []gemini.Part{
				gemini.TextPart(prompt),
				gemini.ImagePart(mimeType, data),
			},
		})
		if err != nil {
			zap.L().Warn("vision call failed",
				zap.String("page", shot.SourceURL),
				zap.Error(err))
			continue
		}
		spent += a.calc.LLM(a.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)

		parsed, _, err := jsonx.Unmarshal[visionResponse](resp.Text)
		if err != nil {
			zap.L().Warn("vision reply contained no JSON",
				zap.String("page", shot.SourceURL),
				zap.Error(err))
			continue
		}
		a.apply(parsed, partial)
	}

	return partial, spent, nil
}

// visionPageFields says which record fields each page type can supply.
var visionPageFields = map[string][]model.FieldName{
	model.PageTypeMenu:    {model.FieldMenu},
	model.PageTypeContact: {model.FieldAddress, model.FieldPhone, model.FieldHours},
	model.PageTypeHome:    {model.FieldRestaurantName, model.FieldAddress, model.FieldPhone},
}

// pageStillUseful reports whether the page type maps to any field a vision
// reading could still improve. The merge only takes strictly higher
// confidence, so a field already at or above the adapter's base confidence
// cannot gain anything from another model call.
func (a *VisionAdapter) pageStillUseful(pageType string, rec *model.RestaurantRecord) bool {
	for _, f := range visionPageFields[pageType] {
		if rec.Confidence(f) < BaseConfidence(a, f) {
			return true
		}
	}
	return false
}

// collectScreenshots reuses stored captures whose page types map to fields
// the record still needs, shooting the homepage fresh only when nothing is
// stored and the homepage fields are still open.
func (a *VisionAdapter) collectScreenshots(ctx context.Context, target model.Target, rec *model.RestaurantRecord) ([]model.Screenshot, float64, error) {
	var shots []model.Screenshot
	// menu pages first: they carry the most score weight
	for _, pageType := range []string{model.PageTypeMenu, model.PageTypeContact, model.PageTypeHome} {
		if !a.pageStillUseful(pageType, rec) {
			continue
		}
		for _, s := range rec.Screenshots {
			if s.PageType == pageType && len(shots) < maxVisionPages {
				shots = append(shots, s)
			}
		}
	}
	if len(shots) > 0 {
		return shots, 0, nil
	}
	// Reaching here with the homepage still useful means no home capture
	// was stored; anything else means no page type is worth a model call.
	if !a.pageStillUseful(model.PageTypeHome, rec) {
		return nil, 0, nil
	}

	resp, err := a.browser.Screenshot(ctx, &browser.ScreenshotRequest{URL: target.URL, FullPage: true})
	if err != nil {
		return nil, 0, eris.Wrap(err, "vision: capture homepage")
	}
	return []model.Screenshot{{
		SourceURL:  target.URL,
		StorageURL: "data:" + resp.MIMEType + ";base64," + resp.Data,
		PageType:   model.PageTypeHome,
	}}, a.calc.BrowserScreenshot(), nil
}

// apply folds one page's reading into the partial. Confidence scales with
// the model's own legibility grade: a 5/5 menu page reading earns the full
// base confidence, a 1/5 reading earns a fifth of it.
func (a *VisionAdapter) apply(resp visionResponse, partial *model.PartialRecord) {
	grade := float64(resp.QualityScore) / 5.0
	if grade <= 0 || grade > 1 {
		grade = 0.5
	}

	if partial.Name == nil {
		partial.Name = model.Str(resp.RestaurantName, grade*BaseConfidence(a, model.FieldRestaurantName))
	}
	if partial.AddressRaw == nil {
		partial.AddressRaw = model.Str(resp.Address, grade*BaseConfidence(a, model.FieldAddress))
	}
	if partial.Phone == nil {
		partial.Phone = model.Str(resp.Phone, grade*BaseConfidence(a, model.FieldPhone))
	}
	if partial.Hours == nil {
		partial.Hours = model.Str(resp.Hours, grade*BaseConfidence(a, model.FieldHours))
	}

	itemConf := grade * BaseConfidence(a, model.FieldMenu)
	for _, item := range resp.MenuItems {
		if strings.TrimSpace(item.Name) == "" {
			continue
		}
		partial.MenuItems = append(partial.MenuItems, model.MenuItem{
			Name:        item.Name,
			Price:       item.Price,
			Description: item.Description,
			Category:    strings.ToLower(item.Category),
			Confidence:  itemConf,
		})
	}
}

// decodeDataURI splits a data URI into its base64 payload and MIME type.
func decodeDataURI(uri string) (data, mimeType string, ok bool) {
	rest, found := strings.CutPrefix(uri, "data:")
	if !found {
		return "", "", false
	}
	mimeType, data, found = strings.Cut(rest, ";base64,")
	if !found || data == "" {
		return "", "", false
	}
	return data, mimeType, true
}
