package progress

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stage denotes the milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunDone     Stage = "RUN_DONE"
	StageRunError    Stage = "RUN_ERROR"
	StageSearchStart Stage = "SEARCH_START"
	StageSearchDone  Stage = "SEARCH_DONE"
	StageSearchError Stage = "SEARCH_ERROR"
	StagePageDone    Stage = "PAGE_DONE"
	StagePageError   Stage = "PAGE_ERROR"
	StageDetailDone  Stage = "DETAIL_DONE"
	StageDetailError Stage = "DETAIL_ERROR"
)

// Event captures a single crawl milestone.
type Event struct {
	// RunID ties the event to one orchestrated run.
	RunID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// Query is the rendered search query for search and page events.
	Query string
	// Page is the one-based listing page number for page events.
	Page int
	URL  string
	// Records counts summaries (page/search events) or records (run events).
	Records int
	Dur     time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StageSearchStart, StageSearchDone, StageSearchError:
		if e.Query == "" {
			return errors.New("search events require a query")
		}
	case StagePageDone, StagePageError:
		if e.Page < 1 {
			return errors.New("page events require a page number")
		}
	case StageDetailDone, StageDetailError:
		if e.URL == "" {
			return errors.New("detail events require a url")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

type runIDKey struct{}

// WithRunID returns a context that tags emitted events with runID.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID stored by WithRunID.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Emit sends evt through emitter, stamping the run ID from ctx and the current time
// when they are unset. Events outside a run are dropped.
func Emit(ctx context.Context, emitter Emitter, evt Event) {
	if emitter == nil {
		return
	}
	if evt.RunID == "" {
		evt.RunID = RunIDFromContext(ctx)
	}
	if evt.RunID == "" {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	emitter.Emit(evt)
}

// Counters accumulates per-run progress for status reporting.
type Counters struct {
	SearchesDone   int `json:"searches_done"`
	SearchesFailed int `json:"searches_failed"`
	PagesDone      int `json:"pages_done"`
	PagesFailed    int `json:"pages_failed"`
	Summaries      int `json:"summaries"`
	DetailsDone    int `json:"details_done"`
	DetailsFailed  int `json:"details_failed"`
}

// Add folds evt into c.
func (c *Counters) Add(evt Event) {
	switch evt.Stage {
	case StageSearchDone:
		c.SearchesDone++
	case StageSearchError:
		c.SearchesFailed++
	case StagePageDone:
		c.PagesDone++
		c.Summaries += evt.Records
	case StagePageError:
		c.PagesFailed++
	case StageDetailDone:
		c.DetailsDone++
	case StageDetailError:
		c.DetailsFailed++
	}
}

// Merge adds other into c.
func (c *Counters) Merge(other Counters) {
	c.SearchesDone += other.SearchesDone
	c.SearchesFailed += other.SearchesFailed
	c.PagesDone += other.PagesDone
	c.PagesFailed += other.PagesFailed
	c.Summaries += other.Summaries
	c.DetailsDone += other.DetailsDone
	c.DetailsFailed += other.DetailsFailed
}
