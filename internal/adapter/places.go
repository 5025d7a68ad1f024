package adapter

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/pkg/places"
)

// PlacesAdapter resolves the restaurant through the Places text search.
// It needs a name hint to build a query; without one it yields nothing.
type PlacesAdapter struct {
	client places.Client
	calc   *cost.Calculator
}

// NewPlacesAdapter creates the Places adapter.
func NewPlacesAdapter(client places.Client, calc *cost.Calculator) *PlacesAdapter {
	return &PlacesAdapter{client: client, calc: calc}
}

func (a *PlacesAdapter) Name() string       { return "places" }
func (a *PlacesAdapter) Phase() model.Phase { return model.PhaseStructured }

func (a *PlacesAdapter) Fields() []model.FieldCapability {
	return []model.FieldCapability{
		{Field: model.FieldRestaurantName, BaseConfidence: 0.90},
		{Field: model.FieldAddress, BaseConfidence: 0.90},
		{Field: model.FieldPhone, BaseConfidence: 0.85},
		{Field: model.FieldHours, BaseConfidence: 0.80},
	}
}

func (a *PlacesAdapter) CostEstimate() float64 { return a.calc.PlacesQuery() }

func (a *PlacesAdapter) Extract(ctx context.Context, target model.Target, _ *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	if target.Name == "" {
		zap.L().Debug("places adapter skipped, no name hint", zap.String("url", target.URL))
		return &model.PartialRecord{Source: a.Name()}, 0, nil
	}

	query := target.Name
	if target.Address != "" {
		query += " " + target.Address
	}

	resp, err := a.client.TextSearch(ctx, query)
	spent := a.calc.PlacesQuery()
	if err != nil {
		return nil, spent, err
	}

	place := pickPlace(resp.Places, target.URL)
	if place == nil {
		zap.L().Info("places search returned no usable match",
			zap.String("query", query),
			zap.Int("candidates", len(resp.Places)))
		return &model.PartialRecord{Source: a.Name()}, spent, nil
	}

	partial := &model.PartialRecord{Source: a.Name()}
	partial.Name = model.Str(place.DisplayName.Text, BaseConfidence(a, model.FieldRestaurantName))
	partial.AddressRaw = model.Str(place.FormattedAddress, BaseConfidence(a, model.FieldAddress))

	phone := place.InternationalPhone
	if phone == "" {
		phone = place.NationalPhone
	}
	partial.Phone = model.Str(phone, BaseConfidence(a, model.FieldPhone))

	if place.OpeningHours != nil && len(place.OpeningHours.WeekdayDescriptions) > 0 {
		hours := strings.Join(place.OpeningHours.WeekdayDescriptions, "; ")
		partial.Hours = model.Str(hours, BaseConfidence(a, model.FieldHours))
	}

	return partial, spent, nil
}

// pickPlace chooses the candidate whose website host matches the target
// URL. Falls back to the first result when no candidate carries a website.
func pickPlace(candidates []places.Place, targetURL string) *places.Place {
	if len(candidates) == 0 {
		return nil
	}

	targetHost := hostOf(targetURL)
	if targetHost != "" {
		for i := range candidates {
			if hostOf(candidates[i].WebsiteURI) == targetHost {
				return &candidates[i]
			}
		}
		// A website mismatch on every candidate means the query likely hit
		// a different business; trusting the first result would poison the
		// record with high-confidence wrong values.
		for i := range candidates {
			if candidates[i].WebsiteURI != "" {
				return nil
			}
		}
	}
	return &candidates[0]
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
}
