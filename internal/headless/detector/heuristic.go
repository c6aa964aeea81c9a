// Package detector recognises anti-bot interstitials that must be cleared by a browser.
package detector

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Heuristic implements rule-based challenge detection over status, headers and body.
type Heuristic struct {
	// MaxInspectBytes bounds how much of the body is scanned for markers.
	MaxInspectBytes int
}

var _ crawler.ChallengeDetector = (*Heuristic)(nil)

// NewHeuristic creates a new detector.
func NewHeuristic(maxInspect int) *Heuristic {
	if maxInspect <= 0 {
		maxInspect = 256 << 10
	}
	return &Heuristic{MaxInspectBytes: maxInspect}
}

var challengeMarkers = [][]byte{
	[]byte("just a moment..."),
	[]byte("checking your browser"),
	[]byte("cf-chl"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
	[]byte("ddos-guard"),
	[]byte("sucuri website firewall"),
	[]byte("attention required! | cloudflare"),
}

// strongMarkers only appear on interstitials. challenge-platform is not one: the jsd
// beacon Cloudflare injects into ordinary pages references it.
var strongMarkers = [][]byte{
	[]byte("cf_chl_opt"),
	[]byte("cf-chl"),
}

var interstitialTitles = []string{
	"just a moment...",
	"attention required! | cloudflare",
}

// IsChallenge reports whether page is an interstitial rather than real content.
func (h *Heuristic) IsChallenge(page crawler.Page) bool {
	if strings.EqualFold(page.Headers.Get("cf-mitigated"), "challenge") {
		return true
	}
	body := page.Body
	if len(body) > h.MaxInspectBytes {
		body = body[:h.MaxInspectBytes]
	}
	lower := bytes.ToLower(body)
	if page.StatusCode >= 200 && page.StatusCode <= 299 {
		for _, marker := range strongMarkers {
			if bytes.Contains(lower, marker) {
				return true
			}
		}
		return interstitialTitle(lower) || metaRefreshGauntlet(body)
	}
	if suspiciousStatus(page.StatusCode) {
		for _, marker := range challengeMarkers {
			if bytes.Contains(lower, marker) {
				return true
			}
		}
		// Error pages generated by the shield itself carry its ray id.
		if serverIsShield(page.Headers) && bytes.Contains(lower, []byte("ray id")) {
			return true
		}
	}
	return metaRefreshGauntlet(body)
}

// interstitialTitle matches the <title> text of known interstitials.
func interstitialTitle(lower []byte) bool {
	_, rest, ok := bytes.Cut(lower, []byte("<title"))
	if !ok {
		return false
	}
	_, rest, ok = bytes.Cut(rest, []byte(">"))
	if !ok {
		return false
	}
	title, _, ok := bytes.Cut(rest, []byte("</title>"))
	if !ok {
		return false
	}
	text := strings.TrimSpace(string(title))
	for _, want := range interstitialTitles {
		if text == want {
			return true
		}
	}
	return false
}

func suspiciousStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func serverIsShield(h http.Header) bool {
	server := strings.ToLower(h.Get("Server"))
	return strings.Contains(server, "cloudflare") ||
		strings.Contains(server, "ddos-guard") ||
		h.Get("X-Sucuri-ID") != ""
}

// metaRefreshGauntlet flags tiny documents whose only job is an immediate meta refresh.
func metaRefreshGauntlet(body []byte) bool {
	if len(body) == 0 || len(body) > 8<<10 {
		return false
	}
	if !bytes.Contains(bytes.ToLower(body), []byte("http-equiv")) {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return false
	}
	refresh := false
	doc.Find("meta[http-equiv]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		equiv, _ := s.Attr("http-equiv")
		if !strings.EqualFold(equiv, "refresh") {
			return true
		}
		content, _ := s.Attr("content")
		delay, _, _ := strings.Cut(content, ";")
		if secs, err := strconv.Atoi(strings.TrimSpace(delay)); err == nil && secs <= 5 {
			refresh = true
			return false
		}
		return true
	})
	if !refresh {
		return false
	}
	return strings.TrimSpace(doc.Find("body").Text()) == "" || doc.Find("a").Length() == 0
}
