package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite busy handler; 0 means default
}

// JobResultRecord is one job run attempt. Append-only.
type JobResultRecord struct {
	JobID     string
	Success   bool
	Duration  time.Duration
	Error     string
	Timestamp time.Time
}

// PostRecord archives a post that reached a terminal publish state.
type PostRecord struct {
	ID            string
	OwnerID       string
	Platforms     string // comma-joined platform kinds
	Status        string
	ScheduledTime time.Time
	PublishedAt   time.Time
	FailureReason string
}

// AnalyticsRecord is the one-shot engagement snapshot for a published post.
type AnalyticsRecord struct {
	PostID      string
	Reach       int64
	Engagement  int64
	Clicks      int64
	CollectedAt time.Time
}
