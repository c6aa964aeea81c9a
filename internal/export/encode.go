// Package export encodes enriched records as CSV or JSON Lines and writes them to a
// blob store.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Format names an output encoding.
type Format string

// Supported formats.
const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a configured format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSONL:
		return f, nil
	case "":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// Extension is the file suffix for f.
func (f Format) Extension() string {
	return string(f)
}

// ContentType is the MIME type for f.
func (f Format) ContentType() string {
	if f == FormatJSONL {
		return "application/x-ndjson"
	}
	return "text/csv; charset=utf-8"
}

// Columns is the CSV header.
var Columns = []string{
	"date_of_job_post",
	"title",
	"job_location",
	"company_name",
	"job_link",
	"job_summary",
	"job_type",
	"job_qualifications",
	"job_description",
	"search_role",
	"search_location",
}

// QualificationSeparator joins qualifications inside one CSV cell.
const QualificationSeparator = "; "

// Encode writes records to w in format f.
func Encode(w io.Writer, f Format, records []crawler.EnrichedRecord) error {
	switch f {
	case FormatCSV:
		return WriteCSV(w, records)
	case FormatJSONL:
		return WriteJSONL(w, records)
	default:
		return fmt.Errorf("unsupported output format %q", f)
	}
}

// WriteCSV writes a header row and one row per record.
func WriteCSV(w io.Writer, records []crawler.EnrichedRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, rec := range records {
		s, d := rec.Summary, rec.Detail
		row := []string{
			s.PostedDate,
			s.Title,
			s.Location,
			s.Company,
			s.DetailURL,
			s.Snippet,
			d.EmploymentType,
			strings.Join(d.Qualifications, QualificationSeparator),
			d.Description,
			s.Search.Role,
			s.Search.Location,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// jsonRecord flattens a record using the CSV column names.
type jsonRecord struct {
	PostedDate     string   `json:"date_of_job_post"`
	Title          string   `json:"title"`
	Location       string   `json:"job_location"`
	Company        string   `json:"company_name"`
	DetailURL      string   `json:"job_link"`
	Snippet        string   `json:"job_summary"`
	EmploymentType string   `json:"job_type"`
	Qualifications []string `json:"job_qualifications"`
	Description    string   `json:"job_description"`
	SearchRole     string   `json:"search_role"`
	SearchLocation string   `json:"search_location"`
}

// WriteJSONL writes one JSON object per line.
func WriteJSONL(w io.Writer, records []crawler.EnrichedRecord) error {
	enc := json.NewEncoder(w)
	for i, rec := range records {
		s, d := rec.Summary, rec.Detail
		quals := d.Qualifications
		if quals == nil {
			quals = []string{}
		}
		if err := enc.Encode(jsonRecord{
			PostedDate:     s.PostedDate,
			Title:          s.Title,
			Location:       s.Location,
			Company:        s.Company,
			DetailURL:      s.DetailURL,
			Snippet:        s.Snippet,
			EmploymentType: d.EmploymentType,
			Qualifications: quals,
			Description:    d.Description,
			SearchRole:     s.Search.Role,
			SearchLocation: s.Search.Location,
		}); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}
