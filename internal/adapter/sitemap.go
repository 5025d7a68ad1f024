package adapter

import (
	"bufio"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/tableiq/research-cli/internal/model"
)

// maxSitemapPages caps how many classified pages one site can contribute;
// chain restaurants publish sitemaps with thousands of location URLs.
const maxSitemapPages = 40

// SitemapAdapter discovers site pages through robots.txt and sitemap.xml
// and classifies them by URL path. It never renders anything; its output
// feeds the browser-bound phases.
type SitemapAdapter struct {
	http *http.Client
}

// NewSitemapAdapter creates the sitemap adapter. httpClient may be nil to
// use a default.
func NewSitemapAdapter(httpClient *http.Client) *SitemapAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &SitemapAdapter{http: httpClient}
}

func (a *SitemapAdapter) Name() string       { return "sitemap" }
func (a *SitemapAdapter) Phase() model.Phase { return model.PhaseStructured }

// Fields is empty: discovered pages carry no confidence and are not
// scored, but they are merged into the record for later phases.
func (a *SitemapAdapter) Fields() []model.FieldCapability { return nil }

func (a *SitemapAdapter) CostEstimate() float64 { return 0 }

func (a *SitemapAdapter) Extract(ctx context.Context, target model.Target, _ *model.RestaurantRecord) (*model.PartialRecord, float64, error) {
	base, err := url.Parse(target.URL)
	if err != nil || base.Host == "" {
		return nil, 0, eris.Errorf("sitemap: invalid seed url %q", target.URL)
	}

	sitemaps := a.sitemapsFromRobots(ctx, base)
	if len(sitemaps) == 0 {
		sitemaps = []string{base.Scheme + "://" + base.Host + "/sitemap.xml"}
	}

	partial := &model.PartialRecord{Source: a.Name()}
	seen := map[string]bool{}
	for _, sm := range sitemaps {
		urls, err := a.fetchSitemap(ctx, sm, 0)
		if err != nil {
			zap.L().Debug("sitemap fetch failed", zap.String("sitemap", sm), zap.Error(err))
			continue
		}
		for _, u := range urls {
			if seen[u] || len(partial.Pages) >= maxSitemapPages {
				continue
			}
			seen[u] = true
			if pageType := ClassifyPageURL(u); pageType != model.PageTypeOther {
				partial.Pages = append(partial.Pages, model.DiscoveredPage{URL: u, PageType: pageType})
			}
		}
	}

	return partial, 0, nil
}

func (a *SitemapAdapter) sitemapsFromRobots(ctx context.Context, base *url.URL) []string {
	body, err := a.get(ctx, base.Scheme+"://"+base.Host+"/robots.txt")
	if err != nil {
		return nil
	}
	defer body.Close() //nolint:errcheck

	var sitemaps []string
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if rest, ok := strings.CutPrefix(strings.ToLower(line), "sitemap:"); ok {
			// preserve original casing of the URL
			sm := strings.TrimSpace(line[len(line)-len(rest):])
			if sm != "" {
				sitemaps = append(sitemaps, sm)
			}
		}
	}
	return sitemaps
}

type sitemapDoc struct {
	XMLName  xml.Name     `xml:""`
	URLs     []sitemapURL `xml:"url"`
	Sitemaps []sitemapURL `xml:"sitemap"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// fetchSitemap parses a urlset or a sitemapindex, following nested
// sitemaps one level deep.
func (a *SitemapAdapter) fetchSitemap(ctx context.Context, sitemapURLStr string, depth int) ([]string, error) {
	body, err := a.get(ctx, sitemapURLStr)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	var doc sitemapDoc
	if err := xml.NewDecoder(io.LimitReader(body, 8<<20)).Decode(&doc); err != nil {
		return nil, eris.Wrap(err, "sitemap: decode xml")
	}

	var urls []string
	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			urls = append(urls, loc)
		}
	}

	if depth == 0 {
		for _, nested := range doc.Sitemaps {
			loc := strings.TrimSpace(nested.Loc)
			if loc == "" {
				continue
			}
			nestedURLs, err := a.fetchSitemap(ctx, loc, depth+1)
			if err != nil {
				zap.L().Debug("nested sitemap fetch failed", zap.String("sitemap", loc), zap.Error(err))
				continue
			}
			urls = append(urls, nestedURLs...)
			if len(urls) >= maxSitemapPages*4 {
				break
			}
		}
	}
	return urls, nil
}

func (a *SitemapAdapter) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sitemap: create request")
	}
	req.Header.Set("User-Agent", crawlerUserAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "sitemap: fetch")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close() //nolint:errcheck
		return nil, eris.Errorf("sitemap: status %d for %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// pathKeywords maps URL path fragments to page types, checked in order so
// menu beats contact when both appear.
var pathKeywords = []struct {
	keyword  string
	pageType string
}{
	{"menu", model.PageTypeMenu},
	{"carte", model.PageTypeMenu},
	{"food", model.PageTypeMenu},
	{"dinner", model.PageTypeMenu},
	{"lunch", model.PageTypeMenu},
	{"brunch", model.PageTypeMenu},
	{"drink", model.PageTypeMenu},
	{"contact", model.PageTypeContact},
	{"location", model.PageTypeContact},
	{"find-us", model.PageTypeContact},
	{"visit", model.PageTypeContact},
	{"about", model.PageTypeAbout},
	{"story", model.PageTypeAbout},
	{"gallery", model.PageTypeGallery},
	{"photos", model.PageTypeGallery},
}

// ClassifyPageURL assigns a page type from the URL path. The site root is
// the homepage; unknown paths are PageTypeOther.
func ClassifyPageURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return model.PageTypeOther
	}
	path := strings.ToLower(strings.Trim(u.Path, "/"))
	if path == "" || path == "index.html" || path == "home" {
		return model.PageTypeHome
	}
	for _, pk := range pathKeywords {
		if strings.Contains(path, pk.keyword) {
			return pk.pageType
		}
	}
	return model.PageTypeOther
}
