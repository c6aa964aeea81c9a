// Package listing parses search-result pages into summary records.
package listing

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Selectors locate page elements. Card-relative selectors are evaluated inside Card.
type Selectors struct {
	TotalCount string `mapstructure:"total_count"`
	Card       string `mapstructure:"card"`
	Title      string `mapstructure:"title"`
	Link       string `mapstructure:"link"`
	LinkAttr   string `mapstructure:"link_attr"`
	Company    string `mapstructure:"company"`
	Location   string `mapstructure:"location"`
	Snippet    string `mapstructure:"snippet"`
	PostedDate string `mapstructure:"posted_date"`
}

// DefaultSelectors match the SimplyHired listing markup.
func DefaultSelectors() Selectors {
	return Selectors{
		TotalCount: "span.posting-total",
		Card:       "ul.jobs div.SerpJob-jobCard",
		Title:      "h3.jobposting-title",
		Link:       "a[data-mdref]",
		LinkAttr:   "data-mdref",
		Company:    "span.jobposting-company",
		Location:   "span.jobposting-location",
		Snippet:    "p.jobposting-snippet",
		PostedDate: "time[datetime]",
	}
}

func (s Selectors) withDefaults() Selectors {
	d := DefaultSelectors()
	fill := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	fill(&s.TotalCount, d.TotalCount)
	fill(&s.Card, d.Card)
	fill(&s.Title, d.Title)
	fill(&s.Link, d.Link)
	fill(&s.LinkAttr, d.LinkAttr)
	fill(&s.Company, d.Company)
	fill(&s.Location, d.Location)
	fill(&s.Snippet, d.Snippet)
	fill(&s.PostedDate, d.PostedDate)
	return s
}

// Extractor implements crawler.ListingExtractor. It is stateless apart from configuration.
type Extractor struct {
	base      *url.URL
	selectors Selectors
	logger    *zap.Logger
}

var _ crawler.ListingExtractor = (*Extractor)(nil)

// New builds an Extractor resolving links against baseURL.
func New(baseURL string, selectors Selectors, logger *zap.Logger) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if !base.IsAbs() {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{base: base, selectors: selectors.withDefaults(), logger: logger}, nil
}

var countPattern = regexp.MustCompile(`\d[\d,.\s\x{00a0}]*`)

// ExtractListingPage parses one listing page. Cards missing a title or link are skipped.
func (e *Extractor) ExtractListingPage(markup string, isFirstPage bool) (crawler.ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return crawler.ListingPage{}, &crawler.MalformedPageError{Reason: "unparseable markup: " + err.Error()}
	}

	var page crawler.ListingPage
	if isFirstPage {
		total, ok := ParseCount(doc.Find(e.selectors.TotalCount).First().Text())
		if !ok {
			return crawler.ListingPage{}, &crawler.MalformedPageError{Reason: "missing total count"}
		}
		page.TotalCount = total
		page.HasTotal = true
	}

	doc.Find(e.selectors.Card).Each(func(i int, card *goquery.Selection) {
		rec, reason := e.extractCard(card)
		if reason != "" {
			e.logger.Debug("skipping job card", zap.Int("card", i), zap.String("reason", reason))
			return
		}
		page.Records = append(page.Records, rec)
	})
	return page, nil
}

func (e *Extractor) extractCard(card *goquery.Selection) (crawler.SummaryRecord, string) {
	titleSel := card.Find(e.selectors.Title).First()
	title := cleanText(titleSel.Text())
	if title == "" {
		return crawler.SummaryRecord{}, "missing title"
	}

	href := e.linkFor(card, titleSel)
	if href == "" {
		return crawler.SummaryRecord{}, "missing detail link"
	}
	detailURL, err := crawler.NormalizeDetailURL(e.base, href)
	if err != nil {
		return crawler.SummaryRecord{}, err.Error()
	}

	posted, _ := card.Find(e.selectors.PostedDate).First().Attr("datetime")
	return crawler.SummaryRecord{
		PostedDate: strings.TrimSpace(posted),
		Title:      title,
		Location:   cleanText(card.Find(e.selectors.Location).First().Text()),
		Company:    cleanText(card.Find(e.selectors.Company).First().Text()),
		DetailURL:  detailURL,
		Snippet:    cleanText(card.Find(e.selectors.Snippet).First().Text()),
	}, ""
}

// linkFor prefers the configured attribute inside the title, then anywhere in the card,
// then falls back to a plain href.
func (e *Extractor) linkFor(card, title *goquery.Selection) string {
	for _, scope := range []*goquery.Selection{title, card} {
		if v, ok := scope.Find(e.selectors.Link).First().Attr(e.selectors.LinkAttr); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	for _, scope := range []*goquery.Selection{title, card} {
		if v, ok := scope.Find("a[href]").First().Attr("href"); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// ParseCount extracts an integer from text such as "1,234" or "2 048 jobs". When the
// text holds a range like "Showing 1-20 of 47" the last number is the total.
func ParseCount(text string) (int, bool) {
	matches := countPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return 0, false
	}
	match := matches[len(matches)-1]
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, match)
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
