// Package detail parses job detail pages into enrichment fields.
package detail

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Selectors locate the detail fields. Field selectors are evaluated inside Container.
type Selectors struct {
	Container      string `mapstructure:"container"`
	EmploymentType string `mapstructure:"employment_type"`
	Qualification  string `mapstructure:"qualification"`
	Description    string `mapstructure:"description"`
}

// DefaultSelectors match the SimplyHired detail markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Container:      "div.viewjob-content",
		EmploymentType: "span.viewjob-jobType",
		Qualification:  "li.viewjob-qualification",
		Description:    `[data-testid="VJ-section-content-jobDescription"]`,
	}
}

// Parser implements crawler.DetailParser.
type Parser struct {
	selectors Selectors
}

var _ crawler.DetailParser = (*Parser)(nil)

// New builds a Parser, filling blank selectors with defaults.
func New(selectors Selectors) *Parser {
	d := DefaultSelectors()
	if strings.TrimSpace(selectors.Container) == "" {
		selectors.Container = d.Container
	}
	if strings.TrimSpace(selectors.EmploymentType) == "" {
		selectors.EmploymentType = d.EmploymentType
	}
	if strings.TrimSpace(selectors.Qualification) == "" {
		selectors.Qualification = d.Qualification
	}
	if strings.TrimSpace(selectors.Description) == "" {
		selectors.Description = d.Description
	}
	return &Parser{selectors: selectors}
}

// Parse extracts the enrichment fields. A page without the content container is malformed;
// individual missing fields are left empty.
func (p *Parser) Parse(markup string) (crawler.DetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return crawler.DetailRecord{}, &crawler.MalformedPageError{Reason: "unparseable markup: " + err.Error()}
	}
	content := doc.Find(p.selectors.Container).First()
	if content.Length() == 0 {
		return crawler.DetailRecord{}, &crawler.MalformedPageError{Reason: "missing detail container"}
	}

	var rec crawler.DetailRecord
	rec.EmploymentType = collapse(content.Find(p.selectors.EmploymentType).First().Text())
	content.Find(p.selectors.Qualification).Each(func(_ int, s *goquery.Selection) {
		if q := collapse(s.Text()); q != "" {
			rec.Qualifications = append(rec.Qualifications, q)
		}
	})
	rec.Description = strings.TrimSpace(content.Find(p.selectors.Description).First().Text())
	return rec, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
