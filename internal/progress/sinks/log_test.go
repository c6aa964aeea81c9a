package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: "r", TS: now, Stage: progress.StagePageDone, Page: 2, Records: 20, Query: "nurse @ Toronto"},
		{RunID: "r", TS: now, Stage: progress.StageDetailDone, URL: "https://x/job/1"},
		{RunID: "r", TS: now, Stage: progress.StagePageError, Page: 3, Note: "status 503"},
		{RunID: "r", TS: now, Stage: progress.StageSearchError, Query: "nurse @ Toronto"},
	}))

	entries := logs.All()
	require.Len(t, entries, 4)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, int64(2), entries[0].ContextMap()["page"])
	require.Equal(t, zapcore.DebugLevel, entries[1].Level)
	require.Equal(t, zapcore.WarnLevel, entries[2].Level)
	require.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}
