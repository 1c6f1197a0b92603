package gateway

import (
	"context"
	"sync"

	"agentgate/internal/metrics"
)

// Leases hands out exclusive per-resource leases. Actions naming the same
// resource run one at a time; everything else runs in parallel.
type Leases struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func NewLeases() *Leases {
	return &Leases{slots: make(map[string]chan struct{})}
}

func (l *Leases) slot(resource string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[resource]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[resource] = ch
	}
	return ch
}

// Acquire blocks until resource is free or ctx is done. The returned release
// function must be called exactly once.
func (l *Leases) Acquire(ctx context.Context, resource string) (func(), error) {
	ch := l.slot(resource)
	select {
	case ch <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	gauge := metrics.LeaseHeld(resource)
	gauge.Set(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			gauge.Set(0)
			<-ch
		})
	}, nil
}

// Held reports whether resource is currently leased.
func (l *Leases) Held(resource string) bool {
	return len(l.slot(resource)) == 1
}
