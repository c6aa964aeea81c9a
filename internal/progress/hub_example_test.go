package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	pages int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	for _, evt := range batch {
		if evt.Stage == StagePageDone {
			s.pages++
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting run-scoped events and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	ctx := WithRunID(context.Background(), "example-run")
	Emit(ctx, hub, Event{Stage: StagePageDone, Page: 1, Records: 20})
	Emit(ctx, hub, Event{Stage: StagePageDone, Page: 2, Records: 7})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("pages reported: %d\n", sink.pages)
	// Output:
	// pages reported: 2
}
