package posts

import "time"

type DeadLetterKind string

const (
	DeadLetterRecurrence DeadLetterKind = "recurrence"
	DeadLetterAnalytics  DeadLetterKind = "analytics"
)

// deadLetterMax bounds the list; oldest entries are evicted first.
const deadLetterMax = 256

// DeadLetter records a background task the system gave up on, so operators
// can inspect failures that would otherwise vanish into logs.
type DeadLetter struct {
	Kind   DeadLetterKind
	PostID string
	Reason string
	At     time.Time
}

func (s *Service) deadLetterLocked(kind DeadLetterKind, postID, reason string) {
	s.dead = append(s.dead, DeadLetter{Kind: kind, PostID: postID, Reason: reason, At: s.now()})
	if len(s.dead) > deadLetterMax {
		s.dead = s.dead[len(s.dead)-deadLetterMax:]
	}
}

// DeadLetters returns a copy of the dead-letter list, oldest first.
func (s *Service) DeadLetters() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetter(nil), s.dead...)
}
