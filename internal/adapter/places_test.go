package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/pkg/places"
)

func testCalc() *cost.Calculator {
	return cost.NewCalculator(cost.DefaultRates())
}

func TestPlacesAdapter_Extract(t *testing.T) {
	client := &fakePlacesClient{resp: &places.TextSearchResponse{Places: []places.Place{{
		DisplayName:        places.DisplayName{Text: "Luciano's Trattoria"},
		FormattedAddress:   "12 Mott St, New York, NY 10013, USA",
		InternationalPhone: "+1 212-555-0142",
		WebsiteURI:         "https://www.lucianos.example",
		OpeningHours:       &places.OpeningHours{WeekdayDescriptions: []string{"Monday: 11 AM – 10 PM", "Tuesday: 11 AM – 10 PM"}},
	}}}}
	a := NewPlacesAdapter(client, testCalc())

	target := model.Target{URL: "https://lucianos.example", Name: "Luciano's Trattoria", Address: "New York"}
	partial, spent, err := a.Extract(context.Background(), target, model.NewRestaurantRecord(target.URL))
	require.NoError(t, err)

	require.Len(t, client.queries, 1)
	assert.Equal(t, "Luciano's Trattoria New York", client.queries[0])

	require.NotNil(t, partial.Name)
	assert.Equal(t, "Luciano's Trattoria", partial.Name.Value)
	assert.InDelta(t, 0.90, partial.Name.Confidence, 0.001)
	require.NotNil(t, partial.Phone)
	assert.Equal(t, "+1 212-555-0142", partial.Phone.Value)
	require.NotNil(t, partial.Hours)
	assert.Contains(t, partial.Hours.Value, "Monday")
	assert.InDelta(t, testCalc().PlacesQuery(), spent, 1e-9)
}

func TestPlacesAdapter_NoNameHintSkips(t *testing.T) {
	client := &fakePlacesClient{}
	a := NewPlacesAdapter(client, testCalc())

	partial, spent, err := a.Extract(context.Background(), model.Target{URL: "https://lucianos.example"}, model.NewRestaurantRecord("https://lucianos.example"))
	require.NoError(t, err)
	assert.True(t, partial.IsEmpty())
	assert.Zero(t, spent)
	assert.Empty(t, client.queries)
}

func TestPlacesAdapter_WebsiteMismatchYieldsNothing(t *testing.T) {
	client := &fakePlacesClient{resp: &places.TextSearchResponse{Places: []places.Place{{
		DisplayName: places.DisplayName{Text: "Some Other Luciano's"},
		WebsiteURI:  "https://different-restaurant.example",
	}}}}
	a := NewPlacesAdapter(client, testCalc())

	target := model.Target{URL: "https://lucianos.example", Name: "Luciano's"}
	partial, _, err := a.Extract(context.Background(), target, model.NewRestaurantRecord(target.URL))
	require.NoError(t, err)
	assert.True(t, partial.IsEmpty())
}

func TestPickPlace_PrefersWebsiteMatch(t *testing.T) {
	candidates := []places.Place{
		{DisplayName: places.DisplayName{Text: "Wrong"}, WebsiteURI: "https://wrong.example"},
		{DisplayName: places.DisplayName{Text: "Right"}, WebsiteURI: "https://www.lucianos.example/"},
	}
	p := pickPlace(candidates, "https://lucianos.example")
	require.NotNil(t, p)
	assert.Equal(t, "Right", p.DisplayName.Text)
}
