package posts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"postflow/internal/eventbus"
	"postflow/internal/platform"
	"postflow/pkg/logx"
)

// ProcessScheduledPosts publishes every scheduled post whose time has come,
// sequentially in schedule order. Returns how many posts were attempted.
func (s *Service) ProcessScheduledPosts(ctx context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	var due []*Post
	for _, p := range s.posts {
		if p.Status == StatusScheduled && !p.inflight && !p.ScheduledTime.After(now) {
			p.inflight = true
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledTime.Before(due[j].ScheduledTime) })
	ids := make([]string, 0, len(due))
	for _, p := range due {
		ids = append(ids, p.ID)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			s.clearInflight(ids)
			return len(ids), err
		}
		s.publishOne(ctx, id)
	}
	return len(ids), nil
}

func (s *Service) clearInflight(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			p.inflight = false
		}
	}
}

type platformResult struct {
	kind  platform.Kind
	extID string
	err   error
}

// publishOne fans out to every target platform concurrently and aggregates
// the outcomes. One platform failing marks the whole post failed; the
// successes stay recorded in PlatformResults and are never retried or
// rolled back.
func (s *Service) publishOne(ctx context.Context, id string) {
	s.mu.Lock()
	p, ok := s.posts[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	kinds := append([]platform.Kind(nil), p.Platforms...)
	content := Content{Text: p.Content.Text, Media: append([]string(nil), p.Content.Media...)}
	s.mu.Unlock()

	results := make([]platformResult, len(kinds))
	var wg sync.WaitGroup
	for i, k := range kinds {
		wg.Add(1)
		go func(i int, k platform.Kind) {
			defer wg.Done()
			msg := platform.Shape(k, content.Text, content.Media)
			extID, err := s.reg.Publish(ctx, k, msg)
			results[i] = platformResult{kind: k, extID: extID, err: err}
		}(i, k)
	}
	wg.Wait()

	outcomes := make(map[platform.Kind]PublishOutcome, len(results))
	var failures []string
	for _, r := range results {
		o := PublishOutcome{ExternalID: r.extID}
		if r.err != nil {
			o.Error = r.err.Error()
			failures = append(failures, fmt.Sprintf("%s: %v", r.kind, r.err))
		}
		outcomes[r.kind] = o
	}

	now := s.now()

	s.mu.Lock()
	p.inflight = false
	p.PlatformResults = outcomes
	if len(failures) > 0 {
		p.Status = StatusFailed
		p.FailureReason = strings.Join(failures, "; ")
	} else {
		p.Status = StatusPublished
		p.PublishedAt = now
	}
	s.archiveLocked(ctx, p)
	status := p.Status
	reason := p.FailureReason
	s.mu.Unlock()

	for _, r := range results {
		if r.err != nil {
			s.met.PostFailed(string(r.kind))
		} else {
			s.met.PostPublished(string(r.kind))
		}
	}

	if status == StatusFailed {
		s.publish(eventbus.TypePostFailed, id)
		s.log.Warn("post publish failed", logx.String("post_id", id), logx.String("reason", reason))
	} else {
		s.publish(eventbus.TypePostPublished, id)
		s.log.Info("post published", logx.String("post_id", id), logx.Int("platforms", len(kinds)))
	}
}
