package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/jsonx"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/internal/resilience"
)

// restaurant-ish schema.org types worth extracting from.
var schemaRestaurantTypes = map[string]bool{
	"Restaurant":         true,
	"FoodEstablishment":  true,
	"LocalBusiness":      true,
	"CafeOrCoffeeShop":   true,
	"BarOrPub":           true,
	"Bakery":             true,
	"FastFoodRestaurant": true,
	"IceCreamShop":       true,
	"Winery":             true,
	"Brewery":            true,
	"Distillery":         true,
	"FoodService":        true,
}

var ldJSONRe = regexp.MustCompile(`(?is)<script[^>]*type\s*=\s*["']application/ld\+json["'][^>]*>(.*?)</script>`)

// SchemaOrgAdapter pulls structured data from the homepage's JSON-LD
// blocks without rendering the page.
type SchemaOrgAdapter struct {
	http *http.Client
}

// NewSchemaOrgAdapter creates the Schema.org adapter. httpClient may be
// nil to use a default.
func NewSchemaOrgAdapter(httpClient *http.Client) *SchemaOrgAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SchemaOrgAdapter{http: httpClient}
}

func (a *SchemaOrgAdapter) Name() string       { return "schemaorg" }
func (a *SchemaOrgAdapter) Phase() model.Phase { return model.PhaseStructured }

func (a *SchemaOrgAdapter) Fields() []model.FieldCapability {
	return []model.FieldCapability{
		{Field: model.FieldRestaurantName, BaseConfidence: 0.85},
		{Field: model.FieldAddress, BaseConfidence: 0.85},
		{Field: model.FieldPhone, BaseConfidence: 0.80},
		{Field: model.FieldEmail, BaseConfidence: 0.80},
		{Field: model.FieldHours, BaseConfidence: 0.75},
		{Field: model.FieldSocial, BaseConfidence: 0.80},
	}
}

// CostEstimate is zero: one plain HTTP GET.
func (a *SchemaOrgAdapter) CostEstimate() float64 { return 0 }

func (a *SchemaOrgAdapter) Extract(ctx context.Context, target model.Target, _ *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	html, err := a.fetch(ctx, target.URL)
	if err != nil {
		return nil, 0, err
	}

	partial := &model.PartialRecord{Source: a.Name()}
	blocks := ldJSONRe.FindAllStringSubmatch(html, -1)
	for _, b := range blocks {
		var doc any
		raw, _, err := jsonx.Extract(b[1])
		if err != nil {
			zap.L().Debug("skipping unparseable ld+json block", zap.String("url", target.URL))
			continue
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		a.walk(doc, partial, target.URL)
	}

	return partial, 0, nil
}

func (a *SchemaOrgAdapter) fetch(ctx context.Context, url string) (string, error) {
	return resilience.DoVal(ctx, resilience.DefaultRetryConfig(), func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", eris.Wrap(err, "schemaorg: create request")
		}
		req.Header.Set("User-Agent", crawlerUserAgent)

		resp, err := a.http.Do(req)
		if err != nil {
			return "", eris.Wrap(err, "schemaorg: fetch homepage")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode != http.StatusOK {
			err := eris.Errorf("schemaorg: homepage status %d", resp.StatusCode)
			if resilience.IsTransientHTTPStatus(resp.StatusCode) {
				return "", resilience.NewTransientError(err, resp.StatusCode)
			}
			return "", err
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return "", eris.Wrap(err, "schemaorg: read homepage")
		}
		return string(body), nil
	})
}

// walk descends a decoded JSON-LD document, extracting fields from every
// node whose @type is a restaurant-like business.
func (a *SchemaOrgAdapter) walk(node any, partial *model.PartialRecord, pageURL string) {
	switch v := node.(type) {
	case []any:
		for _, item := range v {
			a.walk(item, partial, pageURL)
		}
	case map[string]any:
		if graph, ok := v["@graph"]; ok {
			a.walk(graph, partial, pageURL)
		}
		if isRestaurantType(v["@type"]) {
			a.extractNode(v, partial, pageURL)
		}
	}
}

func (a *SchemaOrgAdapter) extractNode(node map[string]any, partial *model.PartialRecord, pageURL string) {
	nameConf := BaseConfidence(a, model.FieldRestaurantName)
	if partial.Name == nil {
		partial.Name = model.Str(str(node["name"]), nameConf)
	}
	if partial.Phone == nil {
		partial.Phone = model.Str(str(node["telephone"]), BaseConfidence(a, model.FieldPhone))
	}
	if partial.Email == nil {
		email := strings.TrimPrefix(str(node["email"]), "mailto:")
		partial.Email = model.Str(email, BaseConfidence(a, model.FieldEmail))
	}
	if partial.AddressRaw == nil {
		partial.AddressRaw = model.Str(flattenAddress(node["address"]), BaseConfidence(a, model.FieldAddress))
	}
	if partial.Hours == nil {
		partial.Hours = model.Str(flattenHours(node["openingHours"]), BaseConfidence(a, model.FieldHours))
		if partial.Hours == nil {
			partial.Hours = model.Str(flattenHours(node["openingHoursSpecification"]), BaseConfidence(a, model.FieldHours))
		}
	}

	if menuURL := str(node["hasMenu"]); menuURL != "" && strings.HasPrefix(menuURL, "http") {
		partial.Pages = append(partial.Pages, model.DiscoveredPage{URL: menuURL, PageType: model.PageTypeMenu})
	}
	if menuURL := str(node["menu"]); menuURL != "" && strings.HasPrefix(menuURL, "http") {
		partial.Pages = append(partial.Pages, model.DiscoveredPage{URL: menuURL, PageType: model.PageTypeMenu})
	}

	if sameAs, ok := node["sameAs"]; ok {
		switch links := sameAs.(type) {
		case string:
			partial.SocialLinks = append(partial.SocialLinks, links)
		case []any:
			for _, l := range links {
				if s := str(l); s != "" {
					partial.SocialLinks = append(partial.SocialLinks, s)
				}
			}
		}
	}
}

func isRestaurantType(t any) bool {
	switch v := t.(type) {
	case string:
		return schemaRestaurantTypes[v]
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && schemaRestaurantTypes[s] {
				return true
			}
		}
	}
	return false
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// flattenAddress renders either a plain string or a PostalAddress object
// into one raw address line.
func flattenAddress(v any) string {
	switch addr := v.(type) {
	case string:
		return strings.TrimSpace(addr)
	case map[string]any:
		parts := make([]string, 0, 4)
		for _, key := range []string{"streetAddress", "addressLocality", "addressRegion", "postalCode", "addressCountry"} {
			if s := str(addr[key]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

// flattenHours renders openingHours (string or list) or an
// OpeningHoursSpecification list into one display string.
func flattenHours(v any) string {
	switch hours := v.(type) {
	case string:
		return strings.TrimSpace(hours)
	case []any:
		parts := make([]string, 0, len(hours))
		for _, h := range hours {
			switch item := h.(type) {
			case string:
				parts = append(parts, strings.TrimSpace(item))
			case map[string]any:
				day := flattenDays(item["dayOfWeek"])
				opens, closes := str(item["opens"]), str(item["closes"])
				if day != "" && opens != "" && closes != "" {
					parts = append(parts, fmt.Sprintf("%s %s-%s", day, opens, closes))
				}
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

func flattenDays(v any) string {
	switch day := v.(type) {
	case string:
		return shortDay(day)
	case []any:
		parts := make([]string, 0, len(day))
		for _, d := range day {
			if s, ok := d.(string); ok {
				parts = append(parts, shortDay(s))
			}
		}
		return strings.Join(parts, ",")
	}
	return ""
}

func shortDay(s string) string {
	s = strings.TrimPrefix(s, "https://schema.org/")
	s = strings.TrimPrefix(s, "http://schema.org/")
	return s
}
