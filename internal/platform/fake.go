package platform

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory adapter used by tests and local runs.
//
// PublishErr / AnalyticsErr, when set, are returned by every call.
type Fake struct {
	kind Kind

	mu           sync.Mutex
	seq          int
	Published    []Message
	PublishErr   error
	AnalyticsErr error
	Analytics    Metrics
}

func NewFake(kind Kind) *Fake { return &Fake{kind: kind} }

func (f *Fake) Kind() Kind { return f.kind }

func (f *Fake) Authenticate(ctx context.Context, creds Credentials) error { return nil }

func (f *Fake) Publish(ctx context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishErr != nil {
		return "", f.PublishErr
	}
	f.seq++
	f.Published = append(f.Published, msg)
	return fmt.Sprintf("%s-ext-%d", f.kind, f.seq), nil
}

func (f *Fake) FetchAnalytics(ctx context.Context, externalID string) (Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AnalyticsErr != nil {
		return Metrics{}, f.AnalyticsErr
	}
	return f.Analytics, nil
}

// PublishCount reports how many messages this adapter has accepted.
func (f *Fake) PublishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published)
}
