package posts

import (
	"time"

	"postflow/internal/platform"
)

// Status is the lifecycle state of a scheduled post. All transitions out of
// StatusScheduled are terminal.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Content is the platform-independent payload of a post.
type Content struct {
	Text  string
	Media []string
}

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Recurrence regenerates a post after each successful publish.
type Recurrence struct {
	Frequency Frequency
	Interval  int // every N days/weeks/months; 0 means 1
	EndDate   *time.Time
}

// Analytics is the one-shot engagement snapshot for a published post.
// It is captured once and never refreshed.
type Analytics struct {
	Reach       int64
	Engagement  int64
	Clicks      int64
	CollectedAt time.Time
}

// PublishOutcome is the per-platform result of a publish fan-out.
type PublishOutcome struct {
	ExternalID string
	Error      string
}

// Post is a committed unit of content with a concrete publish instant.
type Post struct {
	ID            string
	OwnerID       string
	Platforms     []platform.Kind
	Content       Content
	ScheduledTime time.Time
	Timezone      string
	Status        Status
	Recurrence    *Recurrence
	CampaignID    string
	CreatedAt     time.Time
	PublishedAt   time.Time

	// FailureReason is set when Status is StatusFailed.
	FailureReason string

	// PlatformResults records the outcome of each platform call, including
	// partial successes on an otherwise failed publish.
	PlatformResults map[platform.Kind]PublishOutcome

	Analytics *Analytics

	inflight          bool
	analyticsAttempts int
}

// Draft is the input to SchedulePost; the service assigns identity and state.
type Draft struct {
	OwnerID       string
	Platforms     []platform.Kind
	Content       Content
	ScheduledTime time.Time
	Timezone      string
	Recurrence    *Recurrence
	CampaignID    string
}

// snapshot returns a caller-safe copy.
func (p *Post) snapshot() Post {
	cp := *p
	cp.Platforms = append([]platform.Kind(nil), p.Platforms...)
	cp.Content.Media = append([]string(nil), p.Content.Media...)
	if p.Recurrence != nil {
		r := *p.Recurrence
		if p.Recurrence.EndDate != nil {
			end := *p.Recurrence.EndDate
			r.EndDate = &end
		}
		cp.Recurrence = &r
	}
	if p.Analytics != nil {
		a := *p.Analytics
		cp.Analytics = &a
	}
	if p.PlatformResults != nil {
		m := make(map[platform.Kind]PublishOutcome, len(p.PlatformResults))
		for k, v := range p.PlatformResults {
			m[k] = v
		}
		cp.PlatformResults = m
	}
	return cp
}

func sharesPlatform(a, b []platform.Kind) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
