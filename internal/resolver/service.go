package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/events"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/dgnsrekt/captcha_resolver/internal/notify"
	"github.com/dgnsrekt/captcha_resolver/internal/storage"
	"golang.org/x/sync/semaphore"
)

const webhookTimeout = 10 * time.Second

// Extractor runs one extraction.
type Extractor interface {
	Extract(ctx context.Context, req extract.Request) (*extract.Result, error)
}

// Journal persists finished extractions.
type Journal interface {
	Append(host string, rec Record) error
}

// Archive stores raw artifacts.
type Archive interface {
	WriteRaw(host, kind, filename string, data []byte) (string, error)
}

// Notifier is told about every finished extraction.
type Notifier interface {
	Notify(ctx context.Context, res *extract.Result) error
}

// Publisher receives lifecycle events for live subscribers.
type Publisher interface {
	Publish(evt events.Event)
}

// Prober checks a DevTools endpoint and returns the browser product string.
type Prober func(ctx context.Context, endpoint string) (string, error)

// Record is one journal line.
type Record struct {
	ID         string          `json:"id"`
	URL        string          `json:"url"`
	Status     extract.Status  `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	MarkupPath string          `json:"markup_path,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
	Result     *extract.Result `json:"result"`
}

// ResolveInput is a validated-on-entry extraction request.
type ResolveInput struct {
	URL string
	// WaitSeconds nil means the configured default.
	WaitSeconds   *int
	Headful       bool
	IncludeMarkup bool
}

// Options configure a Service. Journal, Archive, Notifier, Events and Prober
// are optional.
type Options struct {
	MaxSessions      int
	AdmissionTimeout time.Duration
	DefaultWait      time.Duration
	BrowserMode      string
	RemoteCDPURL     string

	Journal  Journal
	Archive  Archive
	Notifier Notifier
	Events   Publisher
	Prober   Prober
}

// Service admits extraction requests and records their results.
type Service struct {
	extractor Extractor
	opts      Options
	sem       *semaphore.Weighted

	mu     sync.Mutex
	active int64

	notifyWG sync.WaitGroup
}

func NewService(extractor Extractor, opts Options) *Service {
	if opts.MaxSessions < 1 {
		opts.MaxSessions = 1
	}
	if opts.DefaultWait < 0 {
		opts.DefaultWait = extract.DefaultWait
	}
	if opts.BrowserMode == "" {
		opts.BrowserMode = "local"
	}
	return &Service{
		extractor: extractor,
		opts:      opts,
		sem:       semaphore.NewWeighted(int64(opts.MaxSessions)),
	}
}

func requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return extract.NewError(extract.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

func validateTargetURL(raw string) (string, error) {
	if err := requireNonEmpty(raw, "url"); err != nil {
		return "", err
	}
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", extract.NewError(extract.CodeValidation, "url is not parseable", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", extract.NewError(extract.CodeValidation, "url must be an absolute http(s) URL", nil)
	}
	if u.Host == "" {
		return "", extract.NewError(extract.CodeValidation, "url has no host", nil)
	}
	return raw, nil
}

func (s *Service) buildRequest(in ResolveInput) (extract.Request, error) {
	target, err := validateTargetURL(in.URL)
	if err != nil {
		return extract.Request{}, err
	}
	req := extract.NewRequest(target)
	req.Wait = s.opts.DefaultWait
	if in.WaitSeconds != nil {
		if *in.WaitSeconds < 0 {
			return extract.Request{}, extract.NewError(extract.CodeValidation, "wait_seconds must be >= 0", nil)
		}
		req.Wait = time.Duration(*in.WaitSeconds) * time.Second
	}
	req.Headful = in.Headful
	// The archive needs the markup even when the caller does not.
	req.IncludeMarkup = in.IncludeMarkup || s.opts.Archive != nil
	return req, nil
}

// admit reserves a session slot, waiting at most AdmissionTimeout.
func (s *Service) admit(ctx context.Context) error {
	if s.opts.AdmissionTimeout <= 0 {
		if !s.sem.TryAcquire(1) {
			return extract.NewError(extract.CodeBusy, "all browser sessions are in use", nil)
		}
		return nil
	}
	actx, cancel := context.WithTimeout(ctx, s.opts.AdmissionTimeout)
	defer cancel()
	if err := s.sem.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil {
			return extract.NewError(extract.CodeUnhandled, "request cancelled while queued", ctx.Err())
		}
		return extract.NewError(extract.CodeBusy, fmt.Sprintf("no browser session free within %s", s.opts.AdmissionTimeout), err)
	}
	return nil
}

// Resolve validates in, waits for a session slot and runs the extraction.
// The returned result carries markup only when IncludeMarkup is set.
func (s *Service) Resolve(ctx context.Context, in ResolveInput) (*extract.Result, error) {
	req, err := s.buildRequest(in)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx); err != nil {
		s.publish(events.KindFailed, failure(req.URL, err))
		return nil, err
	}
	s.publish(events.KindAdmitted, map[string]string{"url": req.URL})
	res, err := s.run(ctx, req)
	if err != nil {
		s.publish(events.KindFailed, failure(req.URL, err))
		return nil, err
	}

	s.record(res)
	s.publish(events.KindCompleted, notify.Summarize(res))

	if in.IncludeMarkup || res.Markup == "" {
		return res, nil
	}
	out := *res
	out.Markup = ""
	return &out, nil
}

func (s *Service) run(ctx context.Context, req extract.Request) (*extract.Result, error) {
	s.track(1)
	defer func() {
		s.track(-1)
		s.sem.Release(1)
	}()
	return s.extractor.Extract(ctx, req)
}

type failureEvent struct {
	URL     string `json:"url"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func failure(target string, err error) failureEvent {
	ev := failureEvent{URL: target, Code: extract.CodeUnhandled, Message: err.Error()}
	var coded *extract.CodedError
	if errors.As(err, &coded) {
		ev.Code = coded.Code
		ev.Message = coded.Message
	}
	return ev
}

func (s *Service) publish(kind string, payload any) {
	if s.opts.Events != nil {
		s.opts.Events.Publish(events.NewEvent(kind, payload))
	}
}

func (s *Service) track(delta int64) {
	s.mu.Lock()
	s.active += delta
	s.mu.Unlock()
}

// record archives markup, journals the result and fires the webhook. None of
// these can fail the request.
func (s *Service) record(res *extract.Result) {
	host := storage.HostSegment(res.URL)
	logger := slog.With("extraction_id", res.ID, "host", host)

	var markupPath string
	if s.opts.Archive != nil && res.Markup != "" {
		path, err := s.opts.Archive.WriteRaw(host, "markup", res.ID+".html", []byte(res.Markup))
		if err != nil {
			logger.Warn("markup archive failed", "error", err)
		} else {
			markupPath = path
		}
	}

	if s.opts.Journal != nil {
		journaled := *res
		journaled.Markup = ""
		rec := Record{
			ID:         res.ID,
			URL:        res.URL,
			Status:     res.Status,
			DurationMS: res.DurationMS,
			MarkupPath: markupPath,
			RecordedAt: time.Now().UTC(),
			Result:     &journaled,
		}
		if err := s.opts.Journal.Append(host, rec); err != nil {
			logger.Warn("journal append failed", "error", err)
		}
	}

	if s.opts.Notifier != nil {
		s.notifyWG.Add(1)
		go func() {
			defer s.notifyWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
			defer cancel()
			if err := s.opts.Notifier.Notify(ctx, res); err != nil {
				logger.Warn("result webhook failed", "error", err)
			}
		}()
	}
}

// Health is the deep health report.
type Health struct {
	Status         string `json:"status"`
	BrowserMode    string `json:"browser_mode"`
	RemoteCDPURL   string `json:"remote_cdp_url,omitempty"`
	RemoteBrowser  string `json:"remote_browser,omitempty"`
	RemoteError    string `json:"remote_error,omitempty"`
	MaxSessions    int    `json:"max_sessions"`
	ActiveSessions int64  `json:"active_sessions"`
}

// DeepHealth reports admission state and, in remote mode, whether the
// DevTools endpoint answers.
func (s *Service) DeepHealth(ctx context.Context) (Health, error) {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()

	h := Health{
		Status:         "ok",
		BrowserMode:    s.opts.BrowserMode,
		RemoteCDPURL:   s.opts.RemoteCDPURL,
		MaxSessions:    s.opts.MaxSessions,
		ActiveSessions: active,
	}
	if s.opts.RemoteCDPURL != "" && s.opts.Prober != nil {
		product, err := s.opts.Prober(ctx, s.opts.RemoteCDPURL)
		if err != nil {
			h.Status = "degraded"
			h.RemoteError = err.Error()
		} else {
			h.RemoteBrowser = product
		}
	}
	return h, nil
}

// Close waits for in-flight webhook deliveries.
func (s *Service) Close() {
	s.notifyWG.Wait()
}

// journal adapts a storage.WriterRegistry to Journal.
type journal struct {
	reg *storage.WriterRegistry
}

// NewJournal appends records under <host>/extractions in reg.
func NewJournal(reg *storage.WriterRegistry) Journal {
	return &journal{reg: reg}
}

func (j *journal) Append(host string, rec Record) error {
	if j.reg == nil {
		return errors.New("journal registry is nil")
	}
	return j.reg.Writer(host, "extractions").Write(rec)
}
