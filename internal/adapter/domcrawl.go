package adapter

import (
	"context"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/cost"
	"github.com/tableiq/research-cli/internal/model"
	"github.com/tableiq/research-cli/pkg/browser"
)

// maxCrawlPages bounds how many pages one crawl renders beyond the
// homepage.
const maxCrawlPages = 4

var (
	phoneRe  = regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}`)
	emailRe  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	priceRe  = regexp.MustCompile(`[$€£]\s?\d+(?:[.,]\d{2})?`)
	socialRe = regexp.MustCompile(`https?://(?:www\.)?(?:facebook|instagram|tiktok|yelp|twitter|x)\.com/[A-Za-z0-9_.\-/]+`)
	imgExtRe = regexp.MustCompile(`\.(?:png|jpe?g|gif|webp|svg)$`)
)

// DOMCrawlAdapter renders the homepage and the highest-value discovered
// pages in the headless browser, then mines the rendered DOM for contact
// details, menu items, and social links. It also captures screenshots of
// the homepage and menu pages for the vision phase.
type DOMCrawlAdapter struct {
	browser browser.Client
	calc    *cost.Calculator
}

// NewDOMCrawlAdapter creates the DOM crawl adapter.
func NewDOMCrawlAdapter(client browser.Client, calc *cost.Calculator) *DOMCrawlAdapter {
	return &DOMCrawlAdapter{browser: client, calc: calc}
}

func (a *DOMCrawlAdapter) Name() string       { return "domcrawl" }
func (a *DOMCrawlAdapter) Phase() model.Phase { return model.PhaseDOMCrawl }

func (a *DOMCrawlAdapter) Fields() []model.FieldCapability {
	return []model.FieldCapability{
		{Field: model.FieldPhone, BaseConfidence: 0.70},
		{Field: model.FieldEmail, BaseConfidence: 0.75},
		{Field: model.FieldHours, BaseConfidence: 0.60},
		{Field: model.FieldMenu, BaseConfidence: 0.65},
		{Field: model.FieldSocial, BaseConfidence: 0.75},
		{Field: model.FieldScreenshots, BaseConfidence: 0.70},
	}
}

func (a *DOMCrawlAdapter) CostEstimate() float64 {
	renders := float64(1 + maxCrawlPages)
	return renders*a.calc.BrowserRender() + 2*a.calc.BrowserScreenshot()
}

func (a *DOMCrawlAdapter) Extract(ctx context.Context, target model.Target, rec *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	partial := &model.PartialRecord{Source: a.Name()}
	var spent float64

	pages := a.selectPages(target, rec)
	for _, page := range pages {
		resp, err := a.browser.Render(ctx, &browser.RenderRequest{URL: page.URL, WaitMS: 500})
		if err != nil {
			zap.L().Warn("page render failed",
				zap.String("page", page.URL),
				zap.Error(err))
			continue
		}
		spent += a.calc.BrowserRender()

		a.minePage(page, resp.HTML, partial)

		if page.PageType == model.PageTypeHome || page.PageType == model.PageTypeMenu {
			shot, err := a.browser.Screenshot(ctx, &browser.ScreenshotRequest{URL: page.URL, FullPage: true})
			if err != nil {
				zap.L().Warn("screenshot failed", zap.String("page", page.URL), zap.Error(err))
				continue
			}
			spent += a.calc.BrowserScreenshot()
			partial.Screenshots = append(partial.Screenshots, model.Screenshot{
				SourceURL:    page.URL,
				StorageURL:   "data:" + shot.MIMEType + ";base64," + shot.Data,
				PageType:     page.PageType,
				QualityScore: BaseConfidence(a, model.FieldScreenshots),
			})
		}
	}

	return partial, spent, nil
}

// selectPages orders the crawl frontier: homepage first, then menu pages,
// then contact pages, capped at maxCrawlPages beyond the homepage.
func (a *DOMCrawlAdapter) selectPages(target model.Target, rec *model.RestaurantRecord) []model.DiscoveredPage {
	pages := []model.DiscoveredPage{{URL: target.URL, PageType: model.PageTypeHome}}
	seen := map[string]bool{target.URL: true}

	for _, pageType := range []string{model.PageTypeMenu, model.PageTypeContact, model.PageTypeAbout} {
		for _, p := range rec.PagesOfType(pageType) {
			if seen[p.URL] || len(pages) > maxCrawlPages {
				continue
			}
			seen[p.URL] = true
			pages = append(pages, p)
		}
	}
	return pages
}

func (a *DOMCrawlAdapter) minePage(page model.DiscoveredPage, html string, partial *model.PartialRecord) {
	if partial.Phone == nil {
		if m := phoneRe.FindString(html); m != "" {
			partial.Phone = model.Str(strings.TrimSpace(m), BaseConfidence(a, model.FieldPhone))
		}
	}
	if partial.Email == nil {
		for _, m := range emailRe.FindAllString(html, 10) {
			// image filenames match the email pattern inside srcset blocks
			if !imgExtRe.MatchString(strings.ToLower(m)) {
				partial.Email = model.Str(m, BaseConfidence(a, model.FieldEmail))
				break
			}
		}
	}
	for _, link := range socialRe.FindAllString(html, 20) {
		partial.SocialLinks = append(partial.SocialLinks, strings.TrimRight(link, "/"))
	}

	if page.PageType == model.PageTypeMenu {
		markdown, err := htmltomarkdown.ConvertString(html)
		if err != nil {
			zap.L().Warn("markdown conversion failed", zap.String("page", page.URL), zap.Error(err))
			return
		}
		partial.MenuItems = append(partial.MenuItems, a.parseMenu(markdown)...)
	}
}

// parseMenu walks markdown line by line. Headings open a category; lines
// carrying a price become items named by the text before the price.
func (a *DOMCrawlAdapter) parseMenu(markdown string) []model.MenuItem {
	conf := BaseConfidence(a, model.FieldMenu)
	var items []model.MenuItem
	var category string

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if heading, ok := strings.CutPrefix(line, "#"); ok {
			category = strings.ToLower(strings.TrimSpace(strings.TrimLeft(heading, "# ")))
			if category != "" {
				items = append(items, model.MenuItem{Name: category, Category: category, IsHeader: true, Confidence: conf})
			}
			continue
		}

		price := priceRe.FindString(line)
		if price == "" {
			continue
		}
		name := strings.TrimSpace(strings.Replace(line, price, "", 1))
		name = strings.Trim(name, " .-–—*|")
		if name == "" || len(name) > 120 {
			continue
		}
		items = append(items, model.MenuItem{
			Name:       name,
			Price:      strings.ReplaceAll(price, " ", ""),
			Category:   category,
			Confidence: conf,
		})
	}
	return items
}
