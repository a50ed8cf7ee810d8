package posts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"postflow/internal/eventbus"
	"postflow/internal/metrics"
	"postflow/internal/platform"
	"postflow/internal/storage"
	"postflow/pkg/logx"
)

var ErrNotFound = errors.New("post not found")

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	ConflictWindow       time.Duration
	DailyLimits          map[platform.Kind]int
	MaxAnalyticsAttempts int
}

const defaultMaxAnalyticsAttempts = 3

// Service owns the in-memory post table and every transition on it.
// The sqlite store, when present, is a write-behind archive only.
type Service struct {
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	reg  *platform.Registry
	st   storage.Store
	met  *metrics.Metrics
	now  func() time.Time

	mu    sync.Mutex
	posts map[string]*Post
	dead  []DeadLetter
}

func New(cfg Config, reg *platform.Registry, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.ConflictWindow <= 0 {
		cfg.ConflictWindow = ConflictWindow
	}
	if cfg.DailyLimits == nil {
		cfg.DailyLimits = DefaultDailyLimits()
	}
	if cfg.MaxAnalyticsAttempts <= 0 {
		cfg.MaxAnalyticsAttempts = defaultMaxAnalyticsAttempts
	}
	return &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		reg:   reg,
		now:   time.Now,
		posts: make(map[string]*Post),
	}
}

// ApplyConfig swaps conflict tuning live; the new window and ceilings apply
// from the next scheduling decision on.
func (s *Service) ApplyConfig(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.ConflictWindow > 0 {
		s.cfg.ConflictWindow = cfg.ConflictWindow
	}
	if cfg.DailyLimits != nil {
		s.cfg.DailyLimits = cfg.DailyLimits
	}
	if cfg.MaxAnalyticsAttempts > 0 {
		s.cfg.MaxAnalyticsAttempts = cfg.MaxAnalyticsAttempts
	}
}

// SetStore attaches the archive sink. Optional.
func (s *Service) SetStore(st storage.Store) { s.st = st }

// SetMetrics attaches the prometheus collectors. Optional.
func (s *Service) SetMetrics(m *metrics.Metrics) { s.met = m }

func (s *Service) validate(d Draft) error {
	if len(d.Platforms) == 0 {
		return errors.New("post needs at least one platform")
	}
	for _, k := range d.Platforms {
		switch k {
		case platform.Facebook, platform.Instagram, platform.Twitter, platform.WhatsApp:
		default:
			return fmt.Errorf("unknown platform %q", k)
		}
	}
	if d.Content.Text == "" && len(d.Content.Media) == 0 {
		return errors.New("post needs text or media")
	}
	if d.ScheduledTime.IsZero() {
		return errors.New("post needs a scheduled time")
	}
	return nil
}

// SchedulePost validates the draft, checks conflicts, and commits the post.
// The conflict check and the insert run under one lock so two concurrent
// callers cannot both pass the check and land inside each other's window.
func (s *Service) SchedulePost(ctx context.Context, d Draft) (Post, error) {
	if err := s.validate(d); err != nil {
		return Post{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conflicts := s.conflictsLocked(d.Platforms, d.ScheduledTime, ""); len(conflicts) > 0 {
		for _, c := range conflicts {
			s.met.Conflict(string(c.Type))
		}
		return Post{}, &ConflictError{Conflicts: conflicts}
	}

	p := &Post{
		ID:            uuid.NewString(),
		OwnerID:       d.OwnerID,
		Platforms:     append([]platform.Kind(nil), d.Platforms...),
		Content:       Content{Text: d.Content.Text, Media: append([]string(nil), d.Content.Media...)},
		ScheduledTime: d.ScheduledTime,
		Timezone:      d.Timezone,
		Status:        StatusScheduled,
		Recurrence:    d.Recurrence,
		CampaignID:    d.CampaignID,
		CreatedAt:     s.now(),
	}
	s.posts[p.ID] = p

	for _, k := range p.Platforms {
		s.met.PostScheduled(string(k))
	}
	s.publish(eventbus.TypePostScheduled, p.ID)
	s.log.Debug("post scheduled",
		logx.String("post_id", p.ID),
		logx.Time("at", p.ScheduledTime),
		logx.Int("platforms", len(p.Platforms)))

	return p.snapshot(), nil
}

// CancelPost moves a scheduled post to cancelled. Terminal states are immutable.
func (s *Service) CancelPost(ctx context.Context, id string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	if p.Status != StatusScheduled || p.inflight {
		return Post{}, fmt.Errorf("post %s is %s, only scheduled posts can be cancelled", id, p.Status)
	}
	p.Status = StatusCancelled
	s.archiveLocked(ctx, p)
	s.publish(eventbus.TypePostCancelled, p.ID)
	return p.snapshot(), nil
}

// Update carries the mutable fields of UpdatePost; nil means keep.
type Update struct {
	Content       *Content
	ScheduledTime *time.Time
	Platforms     []platform.Kind
	Timezone      *string
}

// UpdatePost mutates a scheduled post, re-running conflict detection against
// the merged values with the post itself excluded.
func (s *Service) UpdatePost(ctx context.Context, id string, u Update) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return Post{}, ErrNotFound
	}
	if p.Status != StatusScheduled || p.inflight {
		return Post{}, fmt.Errorf("post %s is %s, only scheduled posts can be updated", id, p.Status)
	}

	platforms := p.Platforms
	if u.Platforms != nil {
		platforms = u.Platforms
	}
	at := p.ScheduledTime
	if u.ScheduledTime != nil {
		at = *u.ScheduledTime
	}
	if conflicts := s.conflictsLocked(platforms, at, id); len(conflicts) > 0 {
		for _, c := range conflicts {
			s.met.Conflict(string(c.Type))
		}
		return Post{}, &ConflictError{Conflicts: conflicts}
	}

	if u.Platforms != nil {
		p.Platforms = append([]platform.Kind(nil), u.Platforms...)
	}
	if u.ScheduledTime != nil {
		p.ScheduledTime = *u.ScheduledTime
	}
	if u.Content != nil {
		p.Content = Content{Text: u.Content.Text, Media: append([]string(nil), u.Content.Media...)}
	}
	if u.Timezone != nil {
		p.Timezone = *u.Timezone
	}
	return p.snapshot(), nil
}

// Get returns a copy of the post.
func (s *Service) Get(id string) (Post, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return Post{}, false
	}
	return p.snapshot(), true
}

// List returns copies of every post in the given status, oldest schedule first.
// An empty status returns everything.
func (s *Service) List(status Status) []Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Post, 0, len(s.posts))
	for _, p := range s.posts {
		if status != "" && p.Status != status {
			continue
		}
		out = append(out, p.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledTime.Before(out[j].ScheduledTime) })
	return out
}

// BulkResult partitions a bulk request; one bad draft never aborts the rest.
type BulkResult struct {
	Scheduled []Post
	Conflicts []BulkConflict
	Failed    []BulkFailure
}

type BulkConflict struct {
	Draft     Draft
	Conflicts []Conflict
}

type BulkFailure struct {
	Draft Draft
	Err   string
}

// BulkSchedule runs SchedulePost for each draft in order, so earlier drafts
// in the batch can conflict later ones out.
func (s *Service) BulkSchedule(ctx context.Context, drafts []Draft) BulkResult {
	var res BulkResult
	for _, d := range drafts {
		p, err := s.SchedulePost(ctx, d)
		switch {
		case err == nil:
			res.Scheduled = append(res.Scheduled, p)
		default:
			if ce, ok := AsConflict(err); ok {
				res.Conflicts = append(res.Conflicts, BulkConflict{Draft: d, Conflicts: ce.Conflicts})
			} else {
				res.Failed = append(res.Failed, BulkFailure{Draft: d, Err: err.Error()})
			}
		}
	}
	return res
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

// archiveLocked mirrors the post into the sqlite archive when one is attached.
// Call with s.mu held.
func (s *Service) archiveLocked(ctx context.Context, p *Post) {
	if s.st == nil {
		return
	}
	kinds := make([]string, 0, len(p.Platforms))
	for _, k := range p.Platforms {
		kinds = append(kinds, string(k))
	}
	rec := storage.PostRecord{
		ID:            p.ID,
		OwnerID:       p.OwnerID,
		Platforms:     strings.Join(kinds, ","),
		Status:        string(p.Status),
		ScheduledTime: p.ScheduledTime,
		PublishedAt:   p.PublishedAt,
		FailureReason: p.FailureReason,
	}
	if err := s.st.ArchivePost(ctx, rec); err != nil {
		s.log.Warn("archive post", logx.String("post_id", p.ID), logx.Err(err))
	}
}
