// Package system provides the wall clock used to stamp runs.
package system

import (
	"time"

	"github.com/JakeFAU/jobboard-crawler/internal/crawler"
)

// Clock implements crawler.Clock using time.Now.
type Clock struct{}

var _ crawler.Clock = Clock{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current time in UTC.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
