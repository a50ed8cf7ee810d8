package queue

import (
	"fmt"
	"time"

	"postflow/internal/platform"
	"postflow/internal/posts"
)

// Priority orders queued posts; higher publishes first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return PriorityLow, fmt.Errorf("unknown priority %q", s)
	}
}

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Template is a queue's posting-time pattern: which weekdays, which
// clock times, and how many posts a single day may absorb.
type Template struct {
	Weekdays       []time.Weekday
	Times          []string // "15:04" clock strings
	MaxPostsPerDay int
}

// Spec is the input to CreateQueue.
type Spec struct {
	Name             string
	OwnerID          string
	Platforms        []platform.Kind
	Schedule         Template
	AutoPublish      bool
	ApprovalRequired bool
}

// Queue holds candidate posts awaiting approval and conversion into
// concrete scheduled posts.
type Queue struct {
	ID               string
	Name             string
	OwnerID          string
	Platforms        []platform.Kind
	Schedule         Template
	AutoPublish      bool
	ApprovalRequired bool

	posts []*QueuedPost
}

// Submission is the input to AddToQueue.
type Submission struct {
	Content    posts.Content
	Priority   Priority
	TargetTime time.Time
}

// QueuedPost is a content draft waiting in a queue. Position is the FIFO
// tie-break inside one priority band.
type QueuedPost struct {
	ID           string
	QueueID      string
	Content      posts.Content
	Priority     Priority
	Status       ApprovalStatus
	RejectReason string
	Position     int
	TargetTime   time.Time
	CreatedAt    time.Time
}

// Skipped pairs a queued post with the reason scheduling it failed.
// The post stays in the queue.
type Skipped struct {
	Post   QueuedPost
	Reason string
}

// Result is what one ProcessQueue pass produced.
type Result struct {
	Scheduled []posts.Post
	Skipped   []Skipped
}

// Stats is a read-only projection of a queue's contents.
type Stats struct {
	Total      int
	ByApproval map[ApprovalStatus]int
	ByPriority map[Priority]int
}

func (q *Queue) snapshot() Queue {
	cp := *q
	cp.Platforms = append([]platform.Kind(nil), q.Platforms...)
	cp.posts = nil
	return cp
}
