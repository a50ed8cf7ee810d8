package posts

import (
	"context"
	"time"

	"postflow/pkg/logx"
)

// nextOccurrence advances from the last successful publish by one rule step.
func nextOccurrence(last time.Time, r Recurrence) time.Time {
	n := r.Interval
	if n < 1 {
		n = 1
	}
	switch r.Frequency {
	case Weekly:
		return last.AddDate(0, 0, 7*n)
	case Monthly:
		return last.AddDate(0, n, 0)
	default:
		return last.AddDate(0, 0, n)
	}
}

// GenerateRecurringPosts creates the next occurrence for every published post
// that carries a recurrence rule. Running it again before anything else
// publishes is a no-op: the freshly created occurrence sits exactly on the
// candidate slot, so the duplicate is rejected as a conflict and dropped.
func (s *Service) GenerateRecurringPosts(ctx context.Context) (int, error) {
	type candidate struct {
		src  Post
		next time.Time
	}

	s.mu.Lock()
	var cands []candidate
	for _, p := range s.posts {
		if p.Status != StatusPublished || p.Recurrence == nil {
			continue
		}
		next := nextOccurrence(p.PublishedAt, *p.Recurrence)
		if p.Recurrence.EndDate != nil && next.After(*p.Recurrence.EndDate) {
			continue
		}
		cands = append(cands, candidate{src: p.snapshot(), next: next})
	}
	s.mu.Unlock()

	created := 0
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		d := Draft{
			OwnerID:       c.src.OwnerID,
			Platforms:     c.src.Platforms,
			Content:       c.src.Content,
			ScheduledTime: c.next,
			Timezone:      c.src.Timezone,
			Recurrence:    c.src.Recurrence,
			CampaignID:    c.src.CampaignID,
		}
		if _, err := s.SchedulePost(ctx, d); err != nil {
			if _, ok := AsConflict(err); ok {
				s.log.Debug("recurring occurrence already covered",
					logx.String("post_id", c.src.ID),
					logx.Time("next", c.next))
				continue
			}
			s.log.Warn("recurring generation failed",
				logx.String("post_id", c.src.ID), logx.Err(err))
			s.mu.Lock()
			s.deadLetterLocked(DeadLetterRecurrence, c.src.ID, err.Error())
			s.mu.Unlock()
			continue
		}
		created++
	}
	return created, nil
}
