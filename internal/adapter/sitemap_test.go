package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableiq/research-cli/internal/model"
)

func sitemapXML(urls ...string) string {
	out := `<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`
	for _, u := range urls {
		out += "<url><loc>" + u + "</loc></url>"
	}
	return out + "</urlset>"
}

func TestSitemapAdapter_RobotsAndClassification(t *testing.T) {
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprintf(w, "User-agent: *\nDisallow: /admin\nSitemap: %s/custom-sitemap.xml\n", base)
		case "/custom-sitemap.xml":
			_, _ = w.Write([]byte(sitemapXML(
				base+"/",
				base+"/menu",
				base+"/contact-us",
				base+"/our-story",
				base+"/photos",
				base+"/blog/2024/new-chef",
			)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	base = srv.URL

	a := NewSitemapAdapter(srv.Client())
	partial, spent, err := a.Extract(context.Background(), model.Target{URL: srv.URL}, model.NewRestaurantRecord(srv.URL))
	require.NoError(t, err)
	assert.Zero(t, spent)

	types := map[string]string{}
	for _, p := range partial.Pages {
		types[p.URL] = p.PageType
	}
	assert.Equal(t, model.PageTypeHome, types[base+"/"])
	assert.Equal(t, model.PageTypeMenu, types[base+"/menu"])
	assert.Equal(t, model.PageTypeContact, types[base+"/contact-us"])
	assert.Equal(t, model.PageTypeAbout, types[base+"/our-story"])
	assert.Equal(t, model.PageTypeGallery, types[base+"/photos"])
	assert.NotContains(t, types, base+"/blog/2024/new-chef", "unclassified pages dropped")
}

func TestSitemapAdapter_FallsBackToDefaultPath(t *testing.T) {
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/sitemap.xml" {
			_, _ = w.Write([]byte(sitemapXML(base + "/menu")))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()
	base = srv.URL

	a := NewSitemapAdapter(srv.Client())
	partial, _, err := a.Extract(context.Background(), model.Target{URL: srv.URL}, model.NewRestaurantRecord(srv.URL))
	require.NoError(t, err)
	require.Len(t, partial.Pages, 1)
	assert.Equal(t, model.PageTypeMenu, partial.Pages[0].PageType)
}

func TestSitemapAdapter_SitemapIndex(t *testing.T) {
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sitemap.xml":
			fmt.Fprintf(w, `<?xml version="1.0"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9"><sitemap><loc>%s/pages.xml</loc></sitemap></sitemapindex>`, base)
		case "/pages.xml":
			_, _ = w.Write([]byte(sitemapXML(base+"/menu", base+"/contact")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	base = srv.URL

	a := NewSitemapAdapter(srv.Client())
	partial, _, err := a.Extract(context.Background(), model.Target{URL: srv.URL}, model.NewRestaurantRecord(srv.URL))
	require.NoError(t, err)
	assert.Len(t, partial.Pages, 2)
}

func TestSitemapAdapter_NoSitemapYieldsNothing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	a := NewSitemapAdapter(srv.Client())
	partial, _, err := a.Extract(context.Background(), model.Target{URL: srv.URL}, model.NewRestaurantRecord(srv.URL))
	require.NoError(t, err)
	assert.Empty(t, partial.Pages)
}

func TestClassifyPageURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://x.example/", model.PageTypeHome},
		{"https://x.example/dinner-menu", model.PageTypeMenu},
		{"https://x.example/la-carte", model.PageTypeMenu},
		{"https://x.example/contact", model.PageTypeContact},
		{"https://x.example/about-us", model.PageTypeAbout},
		{"https://x.example/gallery", model.PageTypeGallery},
		{"https://x.example/careers", model.PageTypeOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyPageURL(tt.url), tt.url)
	}
}
