package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

const idleCheckFrequency = 50 * time.Millisecond

// idleTracker counts in-flight requests so navigation can wait for the
// network to go quiet.
type idleTracker struct {
	mu           sync.Mutex
	inflight     map[network.RequestID]struct{}
	lastActivity time.Time
	now          func() time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight:     make(map[network.RequestID]struct{}),
		lastActivity: time.Now(),
		now:          time.Now,
	}
}

func (t *idleTracker) HandleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.start(e.RequestID)
	case *network.EventLoadingFinished:
		t.finish(e.RequestID)
	case *network.EventLoadingFailed:
		t.finish(e.RequestID)
	}
}

func (t *idleTracker) start(id network.RequestID) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.lastActivity = t.now()
	t.mu.Unlock()
}

func (t *idleTracker) finish(id network.RequestID) {
	t.mu.Lock()
	if _, ok := t.inflight[id]; ok {
		delete(t.inflight, id)
		t.lastActivity = t.now()
	}
	t.mu.Unlock()
}

// Inflight returns the number of requests that have not finished loading.
func (t *idleTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

func (t *idleTracker) quietFor() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inflight) > 0 {
		return 0, false
	}
	return t.now().Sub(t.lastActivity), true
}

// Wait blocks until nothing has been in flight for the quiet period.
func (t *idleTracker) Wait(ctx context.Context, quiet time.Duration) error {
	ticker := time.NewTicker(idleCheckFrequency)
	defer ticker.Stop()
	for {
		if d, idle := t.quietFor(); idle && d >= quiet {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
