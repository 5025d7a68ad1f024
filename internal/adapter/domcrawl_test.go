package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableiq/research-cli/internal/model"
)

const homeHTML = `<html><body>
<p>Call us at (212) 555-0142 or write to info@lucianos.example</p>
<a href="https://www.instagram.com/lucianos/">Instagram</a>
<a href="https://facebook.com/lucianos">Facebook</a>
</body></html>`

const menuHTML = `<html><body>
<h2>Appetizers</h2>
<p>Bruschetta $8</p>
<p>Caesar Salad $12.00</p>
<h2>Entrees</h2>
<p>Margherita Pizza $15</p>
<p>Our chef recommends pairing with wine.</p>
</body></html>`

func TestDOMCrawlAdapter_Extract(t *testing.T) {
	b := &fakeBrowser{html: map[string]string{
		"https://lucianos.example":      homeHTML,
		"https://lucianos.example/menu": menuHTML,
	}}
	a := NewDOMCrawlAdapter(b, testCalc())

	rec := model.NewRestaurantRecord("https://lucianos.example")
	rec.Pages = []model.DiscoveredPage{{URL: "https://lucianos.example/menu", PageType: model.PageTypeMenu}}

	partial, spent, err := a.Extract(context.Background(), model.Target{URL: "https://lucianos.example"}, rec)
	require.NoError(t, err)
	assert.Greater(t, spent, 0.0)

	require.NotNil(t, partial.Phone)
	assert.Equal(t, "(212) 555-0142", partial.Phone.Value)
	require.NotNil(t, partial.Email)
	assert.Equal(t, "info@lucianos.example", partial.Email.Value)
	assert.Contains(t, partial.SocialLinks, "https://www.instagram.com/lucianos")
	assert.Contains(t, partial.SocialLinks, "https://facebook.com/lucianos")

	var names []string
	var headers []string
	for _, item := range partial.MenuItems {
		if item.IsHeader {
			headers = append(headers, item.Name)
		} else {
			names = append(names, item.Name)
		}
	}
	assert.ElementsMatch(t, []string{"Bruschetta", "Caesar Salad", "Margherita Pizza"}, names)
	assert.ElementsMatch(t, []string{"appetizers", "entrees"}, headers)

	for _, item := range partial.MenuItems {
		if item.Name == "Margherita Pizza" {
			assert.Equal(t, "$15", item.Price)
			assert.Equal(t, "entrees", item.Category)
		}
	}

	// homepage and menu page both screenshotted
	assert.ElementsMatch(t, []string{"https://lucianos.example", "https://lucianos.example/menu"}, b.screenshots)
	require.Len(t, partial.Screenshots, 2)
	assert.Contains(t, partial.Screenshots[0].StorageURL, "base64,")
}

func TestDOMCrawlAdapter_RenderFailureIsNotFatal(t *testing.T) {
	b := &fakeBrowser{html: map[string]string{}}
	a := NewDOMCrawlAdapter(b, testCalc())

	rec := model.NewRestaurantRecord("https://lucianos.example")
	partial, spent, err := a.Extract(context.Background(), model.Target{URL: "https://lucianos.example"}, rec)
	require.NoError(t, err)
	assert.True(t, partial.IsEmpty())
	assert.Zero(t, spent)
}

func TestDOMCrawlAdapter_PageCap(t *testing.T) {
	b := &fakeBrowser{html: map[string]string{"https://x.example": "<html></html>"}}
	a := NewDOMCrawlAdapter(b, testCalc())

	rec := model.NewRestaurantRecord("https://x.example")
	for i := 0; i < 10; i++ {
		rec.Pages = append(rec.Pages, model.DiscoveredPage{
			URL:      "https://x.example/menu-" + string(rune('a'+i)),
			PageType: model.PageTypeMenu,
		})
	}

	_, _, err := a.Extract(context.Background(), model.Target{URL: "https://x.example"}, rec)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(b.rendered), 1+maxCrawlPages)
}

func TestParseMenu_SkipsJunkLines(t *testing.T) {
	a := NewDOMCrawlAdapter(&fakeBrowser{}, testCalc())
	items := a.parseMenu("# Menu\n\nReservations recommended\n\nTiramisu ... $9\n")
	var named []string
	for _, it := range items {
		if !it.IsHeader {
			named = append(named, it.Name)
		}
	}
	assert.Equal(t, []string{"Tiramisu"}, named)
	assert.Equal(t, "$9", items[len(items)-1].Price)
}
