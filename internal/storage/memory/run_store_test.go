package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	q := crawler.SearchQuery{Role: "nurse", Location: "Ottawa, ON"}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.CreateRun(ctx, "run-1", []crawler.SearchQuery{q}, now))
	require.ErrorIs(t, store.CreateRun(ctx, "run-1", nil, now), ErrRunExists)

	run, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunQueued, run.Status)
	require.False(t, run.Terminal())

	require.NoError(t, store.MarkRunning(ctx, "run-1", now.Add(time.Second)))
	require.NoError(t, store.AddProgress(ctx, "run-1", progress.Counters{PagesDone: 2, Summaries: 25}))
	require.NoError(t, store.AddProgress(ctx, "run-1", progress.Counters{DetailsDone: 22, DetailsFailed: 3}))

	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunRunning, run.Status)
	require.Equal(t, 2, run.Progress.PagesDone)
	require.Equal(t, 22, run.Progress.DetailsDone)

	result := crawler.RunResult{
		RunID:          "run-1",
		Queries:        []crawler.SearchQuery{q},
		FinishedAt:     now.Add(time.Minute),
		Records:        []crawler.EnrichedRecord{{Summary: crawler.SummaryRecord{Title: "RN"}}},
		DetailFailures: []crawler.DetailFailure{{Index: 0, URL: "u", Err: "404"}},
	}
	require.NoError(t, store.Complete(ctx, "run-1", result, "memory://runs/run-1/records.csv", nil))

	run, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, crawler.RunPartial, run.Status)
	require.True(t, run.Terminal())
	require.Equal(t, "memory://runs/run-1/records.csv", run.ExportURI)
	require.Equal(t, 1, run.Summary.Records)
	require.Len(t, run.DetailFailures, 1)

	records, err := store.ListRecords(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	records[0].Summary.Title = "changed"
	again, _ := store.ListRecords(ctx, "run-1")
	require.Equal(t, "RN", again[0].Summary.Title)
}

func TestRunStoreCompleteWithError(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	require.NoError(t, store.CreateRun(ctx, "a", nil, time.Now()))
	require.NoError(t, store.CreateRun(ctx, "b", nil, time.Now()))

	require.NoError(t, store.Complete(ctx, "a", crawler.RunResult{RunID: "a"}, "", fmt.Errorf("run a interrupted: %w", context.Canceled)))
	require.NoError(t, store.Complete(ctx, "b", crawler.RunResult{RunID: "b"}, "", errors.New("export failed")))

	a, _ := store.GetRun(ctx, "a")
	b, _ := store.GetRun(ctx, "b")
	require.Equal(t, crawler.RunCanceled, a.Status)
	require.Equal(t, crawler.RunFailed, b.Status)
	require.Equal(t, "export failed", b.Error)
}

func TestRunStoreUnknownRun(t *testing.T) {
	t.Parallel()

	store := NewRunStore()
	ctx := context.Background()
	_, err := store.GetRun(ctx, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
	_, err = store.ListRecords(ctx, "nope")
	require.ErrorIs(t, err, ErrRunNotFound)
	require.ErrorIs(t, store.AddProgress(ctx, "nope", progress.Counters{}), ErrRunNotFound)
	require.ErrorIs(t, store.Fail(ctx, "nope", time.Now(), "x"), ErrRunNotFound)
}
