package extract

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// observedTraffic is one entry of the ordered traffic log.
type observedTraffic struct {
	seq      int
	kind     TrafficKind
	url      string
	method   string
	status   int
	headers  map[string]string
	body     *Body
	fetchErr error
}

// trafficRecorder appends marker-matching events to an ordered log. The
// sequence number is taken in browser event order, so the reduction does not
// depend on how long body fetches take.
type trafficRecorder struct {
	ctx         context.Context
	marker      string
	bodyTimeout time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	seq     int
	seen    map[TrafficKind]bool
	entries []observedTraffic
	wg      sync.WaitGroup
}

func newTrafficRecorder(ctx context.Context, marker string, bodyTimeout time.Duration, logger *slog.Logger) *trafficRecorder {
	return &trafficRecorder{
		ctx:         ctx,
		marker:      marker,
		bodyTimeout: bodyTimeout,
		logger:      logger,
		seen:        make(map[TrafficKind]bool),
	}
}

// observe is installed as the session's network callback. It never panics.
func (r *trafficRecorder) observe(ev TrafficEvent) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("traffic observer recovered", "panic", p, "url", ev.URL)
		}
	}()

	if !strings.Contains(ev.URL, r.marker) {
		return
	}

	entry := observedTraffic{
		kind:    ev.Kind,
		url:     ev.URL,
		method:  ev.Method,
		status:  ev.Status,
		headers: ev.Headers,
	}

	r.mu.Lock()
	entry.seq = r.seq
	r.seq++
	first := !r.seen[ev.Kind]
	r.seen[ev.Kind] = true
	r.entries = append(r.entries, entry)
	r.mu.Unlock()

	r.logger.Debug("verification traffic observed", "kind", ev.Kind.String(), "url", ev.URL, "seq", entry.seq, "first", first)

	// Later matches are logged but never win the reduction, so their bodies
	// are not fetched.
	if !first || ev.Body == nil {
		return
	}

	r.wg.Add(1)
	go func(seq int) {
		defer r.wg.Done()
		defer func() {
			if p := recover(); p != nil {
				r.logger.Debug("body fetch recovered", "panic", p, "url", ev.URL)
			}
		}()

		ctx, cancel := context.WithTimeout(r.ctx, r.bodyTimeout)
		defer cancel()
		body, err := ev.Body(ctx)
		if err != nil {
			r.logger.Debug("verification body unavailable", "kind", ev.Kind.String(), "url", ev.URL, "error", err)
		}
		r.setBody(seq, body, err)
	}(entry.seq)
}

func (r *trafficRecorder) setBody(seq int, body Body, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.entries {
		if r.entries[i].seq != seq {
			continue
		}
		if err != nil {
			r.entries[i].fetchErr = err
		} else {
			r.entries[i].body = &body
		}
		return
	}
}

// drain waits for in-flight body fetches, at most timeout.
func (r *trafficRecorder) drain(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		r.logger.Warn("traffic drain timed out", "timeout_ms", timeout.Milliseconds())
		return false
	}
}

// reduce applies the first-seen-wins policy: the lowest sequence number of
// each kind fills its slot.
func (r *trafficRecorder) reduce() CapturedTraffic {
	r.mu.Lock()
	entries := make([]observedTraffic, len(r.entries))
	copy(entries, r.entries)
	r.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	var out CapturedTraffic
	for _, e := range entries {
		switch e.kind {
		case TrafficRequest:
			if out.Request != nil {
				continue
			}
			snap := &RequestSnapshot{URL: e.url, Method: e.method, Headers: e.headers}
			if snap.Headers == nil {
				snap.Headers = map[string]string{}
			}
			if e.body != nil {
				text := e.body.Text
				snap.PostData = &text
			}
			out.Request = snap
		case TrafficResponse:
			if out.Response != nil {
				continue
			}
			snap := &ResponseSnapshot{URL: e.url, Status: e.status, Text: BodyUnavailable}
			if e.body != nil {
				snap.Text = e.body.Text
				snap.TextBase64 = e.body.Base64
				snap.Truncated = e.body.Truncated
				snap.OriginalSize = e.body.OriginalSize
				snap.SHA256 = e.body.SHA256
			}
			out.Response = snap
		}
	}
	out.XHRFound = out.Request != nil || out.Response != nil
	return out
}

// count returns the number of matching events observed so far.
func (r *trafficRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq
}
