// Package identity rotates the browser fingerprint attached to each outbound request.
package identity

import (
	"maps"
	"math/rand/v2"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// DefaultUserAgents is the built-in agent pool. It keeps a spread of older and
// current desktop browsers so consecutive requests do not share a fingerprint.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/89.0.4389.90 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3",
	"Mozilla/5.0 (Windows NT 6.1; WOW64; rv:54.0) Gecko/20100101 Firefox/54.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_2) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/79.0.3945.88 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:72.0) Gecko/20100101 Firefox/72.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/129.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.6 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0",
}

// BaselineHeaders are sent with every request alongside the rotated User-Agent.
var BaselineHeaders = map[string]string{
	"Connection":                "keep-alive",
	"Cache-Control":             "max-age=0",
	"Upgrade-Insecure-Requests": "1",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
	"Accept-Language":           "en-GB,en-US;q=0.9,en;q=0.8",
	"Accept-Encoding":           "gzip",
	"Sec-Fetch-Site":            "none",
	"Sec-Fetch-Mode":            "navigate",
	"Sec-Fetch-User":            "?1",
	"Sec-Fetch-Dest":            "document",
}

// Config customises the provider.
type Config struct {
	UserAgents []string
	// Intn returns a value in [0, n). It must be safe for concurrent use.
	Intn func(n int) int
}

// Provider hands out identities. It holds no mutable state and is safe to share.
type Provider struct {
	agents []string
	intn   func(n int) int
}

var _ crawler.IdentitySource = (*Provider)(nil)

// New builds a Provider, falling back to the built-in pool and math/rand/v2.
func New(cfg Config) *Provider {
	agents := make([]string, 0, len(cfg.UserAgents))
	for _, ua := range cfg.UserAgents {
		if ua != "" {
			agents = append(agents, ua)
		}
	}
	if len(agents) == 0 {
		agents = append(agents, DefaultUserAgents...)
	}
	intn := cfg.Intn
	if intn == nil {
		intn = rand.IntN
	}
	return &Provider{agents: agents, intn: intn}
}

// Next returns a freshly built identity with a uniformly chosen agent.
func (p *Provider) Next() crawler.RequestIdentity {
	headers := maps.Clone(BaselineHeaders)
	ua := p.agents[p.intn(len(p.agents))]
	headers["User-Agent"] = ua
	return crawler.RequestIdentity{UserAgent: ua, Headers: headers}
}
