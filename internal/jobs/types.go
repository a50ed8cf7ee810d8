package jobs

import (
	"context"
	"time"
)

// Kind distinguishes how a job gets triggered.
type Kind string

const (
	// KindScheduled jobs run on their own timer once the service starts.
	KindScheduled Kind = "scheduled"
	// KindTriggered jobs only run when something calls RunJob.
	KindTriggered Kind = "triggered"
	// KindWebhook jobs are triggered jobs fired by an external callback.
	KindWebhook Kind = "webhook"
)

// Handler is the unit of work a job runs. Errors drive the retry path;
// panics are contained and treated as errors.
type Handler func(ctx context.Context) error

// Job is a registered unit of recurring or on-demand work.
type Job struct {
	ID         string
	Name       string
	Kind       Kind
	Schedule   string
	Handler    Handler
	Enabled    bool
	MaxRetries int

	LastRun    time.Time
	NextRun    time.Time
	RetryCount int
}

// Result is one run's outcome, kept in a bounded append-only history.
type Result struct {
	JobID     string
	Success   bool
	Duration  time.Duration
	Error     string
	Timestamp time.Time
}

// Well-known job identifiers kept stable for dashboards and alerts.
const (
	PublisherJobID  = "social-media-publisher"
	RecurringJobID  = "recurring-posts-generator"
	AnalyticsJobID  = "social-media-analytics"
	QueueDrainJobID = "queue-auto-publish"
)
