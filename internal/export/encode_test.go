package export

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func sampleRecords() []crawler.EnrichedRecord {
	q := crawler.SearchQuery{Role: "data analyst", Location: "Toronto, ON"}
	return []crawler.EnrichedRecord{
		{
			Summary: crawler.SummaryRecord{
				PostedDate: "2024-03-01",
				Title:      "Data Analyst, Risk",
				Location:   "Toronto, ON",
				Company:    "Acme \"Analytics\"",
				DetailURL:  "https://www.simplyhired.ca/job/abc",
				Snippet:    "Build dashboards\nand reports",
				Search:     q,
			},
			Detail: crawler.DetailRecord{
				EmploymentType: "Full-time",
				Qualifications: []string{"SQL", "Python"},
				Description:    "Own the reporting stack.",
			},
		},
		{
			Summary: crawler.SummaryRecord{Title: "Junior Analyst", DetailURL: "https://www.simplyhired.ca/job/def", Search: q},
		},
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	f, err := ParseFormat(" JSONL ")
	require.NoError(t, err)
	require.Equal(t, FormatJSONL, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatCSV, f)
	_, err = ParseFormat("xlsx")
	require.Error(t, err)
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatCSV, sampleRecords()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, Columns, rows[0])
	require.Equal(t, []string{
		"2024-03-01",
		"Data Analyst, Risk",
		"Toronto, ON",
		"Acme \"Analytics\"",
		"https://www.simplyhired.ca/job/abc",
		"Build dashboards\nand reports",
		"Full-time",
		"SQL; Python",
		"Own the reporting stack.",
		"data analyst",
		"Toronto, ON",
	}, rows[1])
	require.Equal(t, "", rows[2][6], "missing detail leaves empty cells")
	require.Equal(t, "", rows[2][7])
}

func TestWriteCSVEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	require.Equal(t, strings.Join(Columns, ",")+"\n", buf.String())
}

func TestWriteJSONL(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, FormatJSONL, sampleRecords()))

	scanner := bufio.NewScanner(&buf)
	var lines []map[string]any
	for scanner.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	require.Equal(t, "Data Analyst, Risk", lines[0]["title"])
	require.Equal(t, []any{"SQL", "Python"}, lines[0]["job_qualifications"])
	require.Equal(t, []any{}, lines[1]["job_qualifications"])
	require.Equal(t, "data analyst", lines[1]["search_role"])
}

func TestEncodeUnknownFormat(t *testing.T) {
	t.Parallel()

	require.Error(t, Encode(&bytes.Buffer{}, Format("xml"), nil))
}
