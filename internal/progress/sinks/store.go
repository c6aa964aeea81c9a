package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobboard-crawler/internal/progress"
)

// ProgressRecorder persists per-run progress counters.
type ProgressRecorder interface {
	AddProgress(ctx context.Context, runID string, delta progress.Counters) error
}

// StoreSink folds each batch into per-run counter deltas and forwards them to a
// ProgressRecorder, so status reads see live counts without one write per event.
type StoreSink struct {
	recorder ProgressRecorder
	logger   *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided recorder.
func NewStoreSink(recorder ProgressRecorder, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{recorder: recorder, logger: logger}
}

// Consume collapses the batch and writes one delta per run.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	deltas := make(map[string]*progress.Counters)
	order := make([]string, 0, 1)
	for _, evt := range batch {
		delta, ok := deltas[evt.RunID]
		if !ok {
			delta = &progress.Counters{}
			deltas[evt.RunID] = delta
			order = append(order, evt.RunID)
		}
		delta.Add(evt)
	}
	for _, runID := range order {
		if err := s.recorder.AddProgress(ctx, runID, *deltas[runID]); err != nil {
			return fmt.Errorf("record progress for run %s: %w", runID, err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
