package resolver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/events"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/dgnsrekt/captcha_resolver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubExtractor struct {
	mu    sync.Mutex
	calls []extract.Request
	block chan struct{}
	err   error
	panic bool
}

func (s *stubExtractor) Extract(ctx context.Context, req extract.Request) (*extract.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.panic {
		panic("extractor blew up")
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	res := &extract.Result{
		ID:              "res-1",
		URL:             req.URL,
		Status:          extract.StatusNoXHR,
		ExtractedFields: extract.ExtractedFields{HiddenInputs: map[string]string{}},
		Cookies:         []extract.Cookie{},
		DurationMS:      42,
	}
	if req.IncludeMarkup {
		res.Markup = "<html>page</html>"
	}
	return res, nil
}

func (s *stubExtractor) lastCall(t *testing.T) extract.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

type memJournal struct {
	mu      sync.Mutex
	hosts   []string
	records []Record
	err     error
}

func (j *memJournal) Append(host string, rec Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.hosts = append(j.hosts, host)
	j.records = append(j.records, rec)
	return j.err
}

type memArchive struct {
	host, kind, filename string
	data                 []byte
}

func (a *memArchive) WriteRaw(host, kind, filename string, data []byte) (string, error) {
	a.host, a.kind, a.filename, a.data = host, kind, filename, data
	return "/archive/" + filename, nil
}

type chanNotifier struct {
	got chan *extract.Result
	err error
}

func (n *chanNotifier) Notify(_ context.Context, res *extract.Result) error {
	n.got <- res
	return n.err
}

func intPtr(v int) *int { return &v }

func TestResolveValidation(t *testing.T) {
	svc := NewService(&stubExtractor{}, Options{DefaultWait: time.Second})

	tests := []struct {
		name string
		in   ResolveInput
	}{
		{"empty url", ResolveInput{URL: "  "}},
		{"relative url", ResolveInput{URL: "/file/abc"}},
		{"ftp scheme", ResolveInput{URL: "ftp://example.com/file"}},
		{"missing host", ResolveInput{URL: "https:///file/abc"}},
		{"negative wait", ResolveInput{URL: "https://example.com", WaitSeconds: intPtr(-1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Resolve(context.Background(), tt.in)
			require.Error(t, err)
			assert.True(t, extract.IsCode(err, extract.CodeValidation), "error = %v", err)
		})
	}
}

func TestResolveBuildsRequest(t *testing.T) {
	ex := &stubExtractor{}
	svc := NewService(ex, Options{DefaultWait: 12 * time.Second})

	_, err := svc.Resolve(context.Background(), ResolveInput{URL: " https://example.com/file/abc ", Headful: true})
	require.NoError(t, err)
	req := ex.lastCall(t)
	assert.Equal(t, "https://example.com/file/abc", req.URL)
	assert.Equal(t, 12*time.Second, req.Wait)
	assert.True(t, req.Headful)

	_, err = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com", WaitSeconds: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), ex.lastCall(t).Wait)
}

func TestResolveStripsMarkupUnlessRequested(t *testing.T) {
	svc := NewService(&stubExtractor{}, Options{})

	res, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Empty(t, res.Markup)

	res, err = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com", IncludeMarkup: true})
	require.NoError(t, err)
	assert.Equal(t, "<html>page</html>", res.Markup)
}

func TestResolveRequestsMarkupOnlyWhenNeeded(t *testing.T) {
	ex := &stubExtractor{}
	svc := NewService(ex, Options{})
	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	require.NoError(t, err)
	assert.False(t, ex.lastCall(t).IncludeMarkup)

	archived := &stubExtractor{}
	archive := &memArchive{}
	svc = NewService(archived, Options{Archive: archive})
	res, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	require.NoError(t, err)
	assert.True(t, archived.lastCall(t).IncludeMarkup, "archive needs the markup")
	assert.Equal(t, "<html>page</html>", string(archive.data))
	assert.Empty(t, res.Markup, "caller did not ask for markup")
}

func TestResolveBusyWhenSlotsExhausted(t *testing.T) {
	ex := &stubExtractor{block: make(chan struct{})}
	svc := NewService(ex, Options{MaxSessions: 1, AdmissionTimeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/a"})
		done <- err
	}()
	require.Eventually(t, func() bool {
		h, _ := svc.DeepHealth(context.Background())
		return h.ActiveSessions == 1
	}, time.Second, 5*time.Millisecond)

	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/b"})
	assert.True(t, extract.IsCode(err, extract.CodeBusy), "error = %v", err)

	close(ex.block)
	require.NoError(t, <-done)

	_, err = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/c"})
	require.NoError(t, err, "slot must be released after the first extraction")
}

func TestResolveBusyWithoutAdmissionWait(t *testing.T) {
	ex := &stubExtractor{block: make(chan struct{})}
	svc := NewService(ex, Options{MaxSessions: 1})
	defer close(ex.block)

	go func() { _, _ = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/a"}) }()
	require.Eventually(t, func() bool {
		h, _ := svc.DeepHealth(context.Background())
		return h.ActiveSessions == 1
	}, time.Second, 5*time.Millisecond)

	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/b"})
	assert.True(t, extract.IsCode(err, extract.CodeBusy), "error = %v", err)
}

func TestResolveCancelledWhileQueued(t *testing.T) {
	ex := &stubExtractor{block: make(chan struct{})}
	svc := NewService(ex, Options{MaxSessions: 1, AdmissionTimeout: time.Minute})
	defer close(ex.block)

	go func() { _, _ = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/a"}) }()
	require.Eventually(t, func() bool {
		h, _ := svc.DeepHealth(context.Background())
		return h.ActiveSessions == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := svc.Resolve(ctx, ResolveInput{URL: "https://example.com/b"})
	assert.True(t, extract.IsCode(err, extract.CodeUnhandled), "error = %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResolveReleasesSlotOnPanic(t *testing.T) {
	ex := &stubExtractor{panic: true}
	svc := NewService(ex, Options{MaxSessions: 1})

	assert.Panics(t, func() {
		_, _ = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	})
	ex.panic = false
	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	require.NoError(t, err)
}

func TestResolvePropagatesExtractionError(t *testing.T) {
	launch := extract.NewError(extract.CodeLaunch, "no browser", errors.New("exec: not found"))
	journal := &memJournal{}
	svc := NewService(&stubExtractor{err: launch}, Options{Journal: journal})

	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	assert.True(t, extract.IsCode(err, extract.CodeLaunch))
	assert.Empty(t, journal.records, "failed extractions are not journaled")
}

func TestResolveRecordsResult(t *testing.T) {
	journal := &memJournal{}
	archive := &memArchive{}
	notifier := &chanNotifier{got: make(chan *extract.Result, 1)}
	svc := NewService(&stubExtractor{}, Options{Journal: journal, Archive: archive, Notifier: notifier})

	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://Example.com:8443/file/abc"})
	require.NoError(t, err)

	require.Len(t, journal.records, 1)
	rec := journal.records[0]
	assert.Equal(t, "example.com_8443", journal.hosts[0])
	assert.Equal(t, "res-1", rec.ID)
	assert.Equal(t, "/archive/res-1.html", rec.MarkupPath)
	assert.Empty(t, rec.Result.Markup, "journal keeps markup out of the record")

	assert.Equal(t, "markup", archive.kind)
	assert.Equal(t, "<html>page</html>", string(archive.data))

	select {
	case got := <-notifier.got:
		assert.Equal(t, "res-1", got.ID)
	case <-time.After(time.Second):
		t.Fatal("webhook not notified")
	}
	svc.Close()
}

func TestResolveSideEffectFailuresAreNotFatal(t *testing.T) {
	journal := &memJournal{err: errors.New("disk full")}
	notifier := &chanNotifier{got: make(chan *extract.Result, 1), err: errors.New("503")}
	svc := NewService(&stubExtractor{}, Options{Journal: journal, Notifier: notifier})

	res, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, extract.StatusNoXHR, res.Status)
	svc.Close()
}

func TestJournalWritesThroughRegistry(t *testing.T) {
	dir := t.TempDir()
	reg := storage.NewWriterRegistry(dir, "journal", 8, 1)
	svc := NewService(&stubExtractor{}, Options{Journal: NewJournal(reg)})

	_, err := svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/file/abc"})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "*", "example.com", "extractions", "journal.jsonl"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	f, err := os.Open(matches[0])
	require.NoError(t, err)
	defer f.Close()
	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var rec Record
	require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
	assert.Equal(t, "res-1", rec.ID)
	assert.Equal(t, extract.StatusNoXHR, rec.Status)
}

func TestDeepHealth(t *testing.T) {
	svc := NewService(&stubExtractor{}, Options{MaxSessions: 3})
	h, err := svc.DeepHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "local", h.BrowserMode)
	assert.Equal(t, 3, h.MaxSessions)

	probeErr := errors.New("connection refused")
	remote := NewService(&stubExtractor{}, Options{
		BrowserMode:  "remote",
		RemoteCDPURL: "http://chrome:9222",
		Prober: func(context.Context, string) (string, error) {
			return "", probeErr
		},
	})
	h, err = remote.DeepHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.RemoteError, "connection refused")

	healthy := NewService(&stubExtractor{}, Options{
		RemoteCDPURL: "http://chrome:9222",
		Prober: func(_ context.Context, endpoint string) (string, error) {
			return "HeadlessChrome/128 @ " + endpoint, nil
		},
	})
	h, err = healthy.DeepHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "HeadlessChrome/128 @ http://chrome:9222", h.RemoteBrowser)
}

func TestResolvePublishesLifecycleEvents(t *testing.T) {
	broker := events.NewBroker()
	_, ch, err := broker.Subscribe()
	require.NoError(t, err)
	defer broker.Close()

	svc := NewService(&stubExtractor{}, Options{MaxSessions: 1, Events: broker})
	_, err = svc.Resolve(context.Background(), ResolveInput{URL: "https://example.com/file/1"})
	require.NoError(t, err)

	admitted := <-ch
	assert.Equal(t, events.KindAdmitted, admitted.Kind)
	completed := <-ch
	assert.Equal(t, events.KindCompleted, completed.Kind)
	var summary struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(completed.Data, &summary))
	assert.Equal(t, "res-1", summary.ID)
	assert.Equal(t, string(extract.StatusNoXHR), summary.Status)

	failing := NewService(&stubExtractor{err: extract.NewError(extract.CodeLaunch, "no browser", nil)}, Options{MaxSessions: 1, Events: broker})
	_, err = failing.Resolve(context.Background(), ResolveInput{URL: "https://example.com"})
	require.Error(t, err)
	<-ch
	failed := <-ch
	assert.Equal(t, events.KindFailed, failed.Kind)
	assert.JSONEq(t, `{"url":"https://example.com","code":"LAUNCH_FAILED","message":"no browser"}`, string(failed.Data))
}
