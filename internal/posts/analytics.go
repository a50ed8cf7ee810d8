package posts

import (
	"context"
	"fmt"

	"postflow/internal/platform"
	"postflow/internal/storage"
	"postflow/pkg/logx"
)

// CollectAnalytics captures the engagement snapshot for every published post
// that does not have one yet. A post's snapshot is fetched once and frozen;
// after MaxAnalyticsAttempts consecutive failures the post is dead-lettered
// and never retried.
func (s *Service) CollectAnalytics(ctx context.Context) (int, error) {
	type target struct {
		id        string
		externals map[platform.Kind]string
	}

	s.mu.Lock()
	var targets []target
	for _, p := range s.posts {
		if p.Status != StatusPublished || p.Analytics != nil {
			continue
		}
		if p.analyticsAttempts >= s.cfg.MaxAnalyticsAttempts {
			continue
		}
		ext := make(map[platform.Kind]string)
		for k, o := range p.PlatformResults {
			if o.Error == "" && o.ExternalID != "" {
				ext[k] = o.ExternalID
			}
		}
		if len(ext) == 0 {
			continue
		}
		targets = append(targets, target{id: p.ID, externals: ext})
	}
	s.mu.Unlock()

	collected := 0
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return collected, err
		}

		var sum Analytics
		var fetchErr error
		for kind, extID := range t.externals {
			m, err := s.reg.FetchAnalytics(ctx, kind, extID)
			if err != nil {
				fetchErr = fmt.Errorf("%s: %w", kind, err)
				break
			}
			sum.Reach += m.Reach
			sum.Engagement += m.Engagement
			sum.Clicks += m.Clicks
		}

		s.mu.Lock()
		p, ok := s.posts[t.id]
		if !ok {
			s.mu.Unlock()
			continue
		}
		if fetchErr != nil {
			p.analyticsAttempts++
			attempts := p.analyticsAttempts
			if attempts >= s.cfg.MaxAnalyticsAttempts {
				s.deadLetterLocked(DeadLetterAnalytics, t.id, fetchErr.Error())
			}
			s.mu.Unlock()
			s.log.Warn("analytics fetch failed",
				logx.String("post_id", t.id),
				logx.Int("attempt", attempts),
				logx.Err(fetchErr))
			continue
		}
		if p.Analytics != nil {
			s.mu.Unlock()
			continue
		}
		sum.CollectedAt = s.now()
		p.Analytics = &sum
		s.mu.Unlock()
		collected++

		if s.st != nil {
			if err := s.st.SaveAnalytics(ctx, storage.AnalyticsRecord{
				PostID:      t.id,
				Reach:       sum.Reach,
				Engagement:  sum.Engagement,
				Clicks:      sum.Clicks,
				CollectedAt: sum.CollectedAt,
			}); err != nil {
				s.log.Warn("persist analytics", logx.String("post_id", t.id), logx.Err(err))
			}
		}
	}
	return collected, nil
}
