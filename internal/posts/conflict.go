package posts

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"postflow/internal/platform"
)

// ConflictWindow is the minimum separation between two scheduled posts that
// share a platform.
const ConflictWindow = 5 * time.Minute

// suggestedRetryOffset is added to the candidate's requested time, not the
// blocking post's time, to produce the suggested retry slot.
const suggestedRetryOffset = 10 * time.Minute

type ConflictType string

const (
	ConflictTimeOverlap   ConflictType = "time_overlap"
	ConflictPlatformLimit ConflictType = "platform_limit"
)

// Conflict is one detected scheduling violation. Transient; never persisted.
type Conflict struct {
	Type          ConflictType
	Platform      platform.Kind
	Message       string
	SuggestedTime *time.Time
}

// ConflictError carries every violation found for a candidate post.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if e == nil || len(e.Conflicts) == 0 {
		return "scheduling conflict"
	}
	msgs := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		msgs = append(msgs, c.Message)
	}
	return fmt.Sprintf("scheduling conflict: %s", strings.Join(msgs, "; "))
}

// AsConflict unwraps err into a *ConflictError if it is one.
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// DefaultDailyLimits are the per-platform scheduled-post ceilings per UTC day.
func DefaultDailyLimits() map[platform.Kind]int {
	return map[platform.Kind]int{
		platform.Facebook:  25,
		platform.Instagram: 25,
		platform.Twitter:   300,
		platform.WhatsApp:  1000,
	}
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// conflictsLocked evaluates both rules against all currently scheduled posts.
// Call with s.mu held; excludeID skips the post being updated.
func (s *Service) conflictsLocked(platforms []platform.Kind, at time.Time, excludeID string) []Conflict {
	var out []Conflict

	window := s.cfg.ConflictWindow
	if window <= 0 {
		window = ConflictWindow
	}

	for _, p := range s.posts {
		if p.ID == excludeID || p.Status != StatusScheduled {
			continue
		}
		if !sharesPlatform(p.Platforms, platforms) {
			continue
		}
		d := at.Sub(p.ScheduledTime)
		if d < 0 {
			d = -d
		}
		if d < window {
			suggested := at.Add(suggestedRetryOffset)
			out = append(out, Conflict{
				Type:          ConflictTimeOverlap,
				Message:       fmt.Sprintf("post %s is scheduled at %s, within %s of the requested time", p.ID, p.ScheduledTime.Format(time.RFC3339), window),
				SuggestedTime: &suggested,
			})
		}
	}

	day := dayKey(at)
	for _, kind := range platforms {
		limit, ok := s.cfg.DailyLimits[kind]
		if !ok || limit <= 0 {
			continue
		}
		count := 0
		for _, p := range s.posts {
			if p.ID == excludeID || p.Status != StatusScheduled {
				continue
			}
			if dayKey(p.ScheduledTime) != day {
				continue
			}
			for _, k := range p.Platforms {
				if k == kind {
					count++
					break
				}
			}
		}
		if count >= limit {
			out = append(out, Conflict{
				Type:     ConflictPlatformLimit,
				Platform: kind,
				Message:  fmt.Sprintf("%s already has %d posts scheduled on %s (limit %d)", kind, count, day, limit),
			})
		}
	}

	return out
}
