// Package progress carries crawl lifecycle events from the pagination driver and the
// detail enricher to pluggable sinks. Events are batched on a background goroutine so
// emitters never block on logging, metrics, or run-status bookkeeping.
package progress
