package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

func sampleRun() crawler.RunResult {
	q := crawler.SearchQuery{Role: "data analyst", Location: "Toronto, ON"}
	start := time.Unix(1700000000, 0).UTC()
	return crawler.RunResult{
		RunID:      "run-1",
		Queries:    []crawler.SearchQuery{q},
		StartedAt:  start,
		FinishedAt: start.Add(time.Minute),
		Records: []crawler.EnrichedRecord{
			{
				Summary: crawler.SummaryRecord{Title: "Analyst", DetailURL: "https://www.simplyhired.ca/job/a", Search: q},
				Detail:  crawler.DetailRecord{EmploymentType: "Full-time", Qualifications: []string{"SQL"}},
			},
			{Summary: crawler.SummaryRecord{Title: "Junior Analyst", DetailURL: "https://www.simplyhired.ca/job/b", Search: q}},
		},
		DetailFailures: []crawler.DetailFailure{{Index: 1, URL: "https://www.simplyhired.ca/job/b", Err: "404"}},
	}
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *RecordStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	return mock, store
}

func TestStoreRunWritesRunAndPostings(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	run := sampleRun()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_runs").
		WithArgs("run-1", crawler.RunPartial, pgxmock.AnyArg(), pgxmock.AnyArg(), 1, 2, 1, 0, 0, 1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM job_postings").
		WithArgs("run-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"job_postings"}, postingColumns).
		WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, store.StoreRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRunWithoutRecordsSkipsCopy(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	run := sampleRun()
	run.Records = nil
	run.DetailFailures = nil

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM job_postings").WithArgs("run-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	require.NoError(t, store.StoreRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRunRollsBackOnCopyFailure(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO crawl_runs").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("DELETE FROM job_postings").WithArgs("run-1").WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"job_postings"}, postingColumns).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.StoreRun(context.Background(), sampleRun())
	require.ErrorContains(t, err, "copy postings: disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRunRequiresRunID(t *testing.T) {
	t.Parallel()

	_, store := newMockStore(t)
	require.Error(t, store.StoreRun(context.Background(), crawler.RunResult{}))
}

func TestLoadSummary(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	start := time.Unix(1700000000, 0).UTC()
	cols := []string{
		"run_id", "status", "started_at", "finished_at", "queries", "records", "enriched",
		"query_failures", "page_failures", "detail_failures",
	}
	mock.ExpectQuery("SELECT run_id, status").
		WithArgs("run-1").
		WillReturnRows(mock.NewRows(cols).AddRow("run-1", "partial", start, start.Add(time.Minute), 1, 2, 1, 0, 0, 1))
	mock.ExpectQuery("SELECT run_id, status").
		WithArgs("run-2").
		WillReturnError(pgx.ErrNoRows)

	sum, err := store.LoadSummary(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "partial", sum.Status)
	require.Equal(t, 2, sum.Records)
	require.Equal(t, start, sum.StartedAt)

	_, err = store.LoadSummary(context.Background(), "run-2")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, store := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS crawl_runs").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "", "")
	require.Error(t, err)
	_, err = NewWithPool(mock, "postings; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")
	_, err = New(context.Background(), Config{})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	require.NoError(t, store.Ping(context.Background()))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres: connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
