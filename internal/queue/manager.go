package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"postflow/internal/eventbus"
	"postflow/internal/metrics"
	"postflow/internal/posts"
	"postflow/pkg/logx"
)

var (
	ErrQueueNotFound = errors.New("queue not found")
	ErrPostNotFound  = errors.New("queued post not found")
)

// PostScheduler is the slice of the post service the manager needs.
type PostScheduler interface {
	SchedulePost(ctx context.Context, d posts.Draft) (posts.Post, error)
}

// Manager owns all content queues and drains approved posts into the
// scheduler against each queue's posting template.
type Manager struct {
	log   logx.Logger
	sched PostScheduler
	met   *metrics.Metrics
	bus   eventbus.Bus
	now   func() time.Time

	mu     sync.Mutex
	queues map[string]*Queue
}

func NewManager(sched PostScheduler, log logx.Logger) *Manager {
	return &Manager{
		log:    log,
		sched:  sched,
		now:    time.Now,
		queues: make(map[string]*Queue),
	}
}

// SetMetrics attaches the prometheus collectors. Optional.
func (m *Manager) SetMetrics(met *metrics.Metrics) { m.met = met }

// SetBus attaches the event bus. Optional.
func (m *Manager) SetBus(bus eventbus.Bus) { m.bus = bus }

func (m *Manager) CreateQueue(spec Spec) (Queue, error) {
	if len(spec.Platforms) == 0 {
		return Queue{}, errors.New("queue needs at least one platform")
	}
	for _, ts := range spec.Schedule.Times {
		if _, err := parseClock(ts); err != nil {
			return Queue{}, err
		}
	}
	q := &Queue{
		ID:               uuid.NewString(),
		Name:             spec.Name,
		OwnerID:          spec.OwnerID,
		Platforms:        spec.Platforms,
		Schedule:         spec.Schedule,
		AutoPublish:      spec.AutoPublish,
		ApprovalRequired: spec.ApprovalRequired,
	}

	m.mu.Lock()
	m.queues[q.ID] = q
	m.mu.Unlock()

	m.log.Info("queue created", logx.String("queue_id", q.ID), logx.String("name", q.Name))
	return q.snapshot(), nil
}

// AddToQueue appends a submission at the tail: position is the current
// queue length, so insertion order is the FIFO tie-break.
func (m *Manager) AddToQueue(queueID string, sub Submission) (QueuedPost, error) {
	if sub.Content.Text == "" && len(sub.Content.Media) == 0 {
		return QueuedPost{}, errors.New("submission needs text or media")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueID]
	if !ok {
		return QueuedPost{}, ErrQueueNotFound
	}
	p := &QueuedPost{
		ID:         uuid.NewString(),
		QueueID:    queueID,
		Content:    sub.Content,
		Priority:   sub.Priority,
		Status:     ApprovalPending,
		Position:   len(q.posts),
		TargetTime: sub.TargetTime,
		CreatedAt:  m.now(),
	}
	q.posts = append(q.posts, p)
	m.met.SetQueueDepth(queueID, len(q.posts))
	return *p, nil
}

func (m *Manager) findLocked(queueID, postID string) (*Queue, *QueuedPost, error) {
	q, ok := m.queues[queueID]
	if !ok {
		return nil, nil, ErrQueueNotFound
	}
	for _, p := range q.posts {
		if p.ID == postID {
			return q, p, nil
		}
	}
	return nil, nil, ErrPostNotFound
}

func (m *Manager) ApprovePost(queueID, postID string) (QueuedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, p, err := m.findLocked(queueID, postID)
	if err != nil {
		return QueuedPost{}, err
	}
	p.Status = ApprovalApproved
	p.RejectReason = ""
	return *p, nil
}

// RejectPost marks a post rejected. The reason is free text carried for
// operators; nothing interprets it.
func (m *Manager) RejectPost(queueID, postID, reason string) (QueuedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, p, err := m.findLocked(queueID, postID)
	if err != nil {
		return QueuedPost{}, err
	}
	p.Status = ApprovalRejected
	p.RejectReason = reason
	return *p, nil
}

// ReorderQueue rewrites queue order to match ids. Posts omitted from ids are
// appended after the reordered set in their previous relative order.
func (m *Manager) ReorderQueue(queueID string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueID]
	if !ok {
		return ErrQueueNotFound
	}

	byID := make(map[string]*QueuedPost, len(q.posts))
	for _, p := range q.posts {
		byID[p.ID] = p
	}
	reordered := make([]*QueuedPost, 0, len(q.posts))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrPostNotFound, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		reordered = append(reordered, p)
	}
	for _, p := range q.posts {
		if !seen[p.ID] {
			reordered = append(reordered, p)
		}
	}
	q.posts = reordered
	renumberLocked(q)
	return nil
}

func renumberLocked(q *Queue) {
	for i, p := range q.posts {
		p.Position = i
	}
}

func (m *Manager) QueueStats(queueID string) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueID]
	if !ok {
		return Stats{}, ErrQueueNotFound
	}
	st := Stats{
		Total:      len(q.posts),
		ByApproval: make(map[ApprovalStatus]int),
		ByPriority: make(map[Priority]int),
	}
	for _, p := range q.posts {
		st.ByApproval[p.Status]++
		st.ByPriority[p.Priority]++
	}
	return st, nil
}

// Posts returns copies of the queue's posts in queue order.
func (m *Manager) Posts(queueID string) ([]QueuedPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[queueID]
	if !ok {
		return nil, ErrQueueNotFound
	}
	out := make([]QueuedPost, 0, len(q.posts))
	for _, p := range q.posts {
		out = append(out, *p)
	}
	return out, nil
}

// ProcessQueue drains eligible posts into the scheduler. Eligible posts are
// sorted by priority descending with position as the tie-break, paired
// positionally against the template's slots for the next seven days, and
// scheduled one pair at a time. A post whose schedule attempt fails goes to
// Skipped and stays queued; posts beyond the slot supply stay queued
// untouched.
func (m *Manager) ProcessQueue(ctx context.Context, queueID string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueID]
	if !ok {
		return Result{}, ErrQueueNotFound
	}

	var eligible []*QueuedPost
	for _, p := range q.posts {
		if p.Status == ApprovalRejected {
			continue
		}
		if p.Status == ApprovalApproved || !q.ApprovalRequired {
			eligible = append(eligible, p)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].Position < eligible[j].Position
	})

	now := m.now()
	slots := expandSlots(q.Schedule, now)

	n := len(eligible)
	if len(slots) < n {
		n = len(slots)
	}

	var res Result
	scheduled := make(map[string]bool)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		p := eligible[i]
		at := slots[i]
		if !p.TargetTime.IsZero() && p.TargetTime.After(now) {
			at = p.TargetTime
		}
		post, err := m.sched.SchedulePost(ctx, posts.Draft{
			OwnerID:       q.OwnerID,
			Platforms:     q.Platforms,
			Content:       p.Content,
			ScheduledTime: at,
		})
		if err != nil {
			res.Skipped = append(res.Skipped, Skipped{Post: *p, Reason: err.Error()})
			m.log.Warn("queue drain skipped post",
				logx.String("queue_id", queueID),
				logx.String("post_id", p.ID),
				logx.Err(err))
			continue
		}
		scheduled[p.ID] = true
		res.Scheduled = append(res.Scheduled, post)
	}

	if len(scheduled) > 0 {
		kept := q.posts[:0]
		for _, p := range q.posts {
			if !scheduled[p.ID] {
				kept = append(kept, p)
			}
		}
		q.posts = kept
		renumberLocked(q)
	}
	m.met.SetQueueDepth(queueID, len(q.posts))
	if m.bus != nil {
		m.bus.Publish(eventbus.Event{Type: eventbus.TypeQueueProcessed, Time: now, Data: queueID})
	}

	m.log.Debug("queue processed",
		logx.String("queue_id", queueID),
		logx.Int("scheduled", len(res.Scheduled)),
		logx.Int("skipped", len(res.Skipped)))
	return res, nil
}

// ProcessAll drains every auto-publish queue. Queues requiring a manual
// ProcessQueue call are left alone.
func (m *Manager) ProcessAll(ctx context.Context) (Result, error) {
	m.mu.Lock()
	var ids []string
	for id, q := range m.queues {
		if q.AutoPublish {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var total Result
	for _, id := range ids {
		res, err := m.ProcessQueue(ctx, id)
		total.Scheduled = append(total.Scheduled, res.Scheduled...)
		total.Skipped = append(total.Skipped, res.Skipped...)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
