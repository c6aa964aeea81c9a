// Package crawler defines the records, failures, and collaborator interfaces shared by the
// listing crawl, the detail enricher, and the orchestrating engine.
package crawler
