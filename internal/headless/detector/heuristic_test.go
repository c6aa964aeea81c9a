package detector

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func TestHeuristic_IsChallenge_CloudflareHeader(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusForbidden,
		Headers:    http.Header{"Cf-Mitigated": {"challenge"}},
	}
	require.True(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_InterstitialBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusServiceUnavailable,
		Headers:    http.Header{"Server": {"cloudflare"}},
		Body:       []byte(`<html><head><title>Just a moment...</title></head><body></body></html>`),
	}
	require.True(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_DDoSGuard(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusForbidden,
		Headers:    http.Header{},
		Body:       []byte(`<html><body>DDoS-Guard checking</body></html>`),
	}
	require.True(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_MetaRefresh(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusOK,
		Headers:    http.Header{},
		Body:       []byte(`<html><head><meta http-equiv="refresh" content="0;url=/search?q=x"></head><body></body></html>`),
	}
	require.True(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_PlainNotFound(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusNotFound,
		Headers:    http.Header{},
		Body:       []byte("not found"),
	}
	require.False(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_RegularListing(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Server": {"cloudflare"}},
		Body:       []byte(`<html><body><span class="posting-total">12</span><ul class="jobs"></ul></body></html>`),
	}
	require.False(t, h.IsChallenge(page))
}

const jsdBeacon = `<script>(function(){function c(){var b=a.contentDocument||a.contentWindow.document;` +
	`if(b){var d=b.createElement('script');d.innerHTML="window.__CF$cv$params={r:'8f1c',t:'MTcy'};` +
	`var a=document.createElement('script');a.src='/cdn-cgi/challenge-platform/scripts/jsd/main.js';` +
	`document.getElementsByTagName('head')[0].appendChild(a);";b.getElementsByTagName('head')[0].appendChild(d)}}` +
	`var a=document.createElement('iframe');a.height=1;a.width=1;document.body.appendChild(a);c()})();</script>`

func TestHeuristic_IsChallenge_CloudflareFrontedListingWithBeacon(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Server": {"cloudflare"}, "Cf-Ray": {"8f1c-YYZ"}},
		Body: []byte(`<html><head><title>Nurse jobs in Toronto | SimplyHired</title></head><body>` +
			`<span class="posting-total">47</span><ul class="jobs"></ul>` + jsdBeacon + `</body></html>`),
	}
	require.False(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_OKStatusStrongSignals(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	cases := map[string]string{
		"title":      `<html><head><title> Just a moment... </title></head><body><p>loading</p></body></html>`,
		"cf_chl_opt": `<html><body><script>window._cf_chl_opt={cvId:'3'};</script></body></html>`,
		"cf-chl":     `<html><body><form id="challenge-form" action="/?__cf_chl_f_tk=x" class="cf-chl-widget"></form></body></html>`,
	}
	for name, body := range cases {
		page := crawler.Page{
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Server": {"cloudflare"}},
			Body:       []byte(body),
		}
		require.True(t, h.IsChallenge(page), name)
	}
}

func TestHeuristic_IsChallenge_OKStatusWeakMarkersIgnored(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	page := crawler.Page{
		StatusCode: http.StatusOK,
		Headers:    http.Header{"Server": {"cloudflare"}},
		Body:       []byte(`<html><body><p>Checking your browser settings helps applications load faster.</p><a href="/job/1">Job</a></body></html>`),
	}
	require.False(t, h.IsChallenge(page))
}

func TestHeuristic_IsChallenge_ShieldErrorPage(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0)
	blocked := crawler.Page{
		StatusCode: http.StatusForbidden,
		Headers:    http.Header{"Server": {"cloudflare"}},
		Body:       []byte(`<html><body><h1>Sorry, you have been blocked</h1><p>Cloudflare Ray ID: 8f1c</p></body></html>`),
	}
	require.True(t, h.IsChallenge(blocked))

	origin404 := crawler.Page{
		StatusCode: http.StatusNotFound,
		Headers:    http.Header{"Server": {"cloudflare"}},
		Body:       []byte(`<html><body>not found` + jsdBeacon + `</body></html>`),
	}
	require.False(t, h.IsChallenge(origin404))
}
