package platform

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	logx "postflow/pkg/logx"
)

const defaultRatePerSec = 5

type entry struct {
	adapter Adapter
	limiter *rate.Limiter
}

// Registry holds the configured adapters and paces calls to each platform so
// bursts of due posts don't hammer an external API.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]*entry
	log     logx.Logger
}

func NewRegistry(log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{entries: map[Kind]*entry{}, log: log}
}

// Register installs an adapter. ratePerSec <= 0 applies the default pacing.
func (r *Registry) Register(a Adapter, ratePerSec int) {
	if a == nil {
		return
	}
	rps := ratePerSec
	if rps <= 0 {
		rps = defaultRatePerSec
	}
	r.mu.Lock()
	r.entries[a.Kind()] = &entry{
		adapter: a,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
	r.mu.Unlock()
	r.log.Debug("platform registered", logx.String("platform", string(a.Kind())), logx.Int("rps", rps))
}

func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ks := make([]Kind, 0, len(r.entries))
	for k := range r.entries {
		ks = append(ks, k)
	}
	return ks
}

func (r *Registry) lookup(kind Kind) (*entry, error) {
	r.mu.RLock()
	e := r.entries[kind]
	r.mu.RUnlock()
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, kind)
	}
	return e, nil
}

// Publish waits for the platform's pacing limiter, then forwards to the adapter.
func (r *Registry) Publish(ctx context.Context, kind Kind, msg Message) (string, error) {
	e, err := r.lookup(kind)
	if err != nil {
		return "", err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return e.adapter.Publish(ctx, msg)
}

// FetchAnalytics waits for the platform's pacing limiter, then forwards to the adapter.
func (r *Registry) FetchAnalytics(ctx context.Context, kind Kind, externalID string) (Metrics, error) {
	e, err := r.lookup(kind)
	if err != nil {
		return Metrics{}, err
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return Metrics{}, err
	}
	return e.adapter.FetchAnalytics(ctx, externalID)
}
