package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSession is an in-memory Session. Events in traffic are delivered to the
// observer while Navigate runs, the way the browser delivers them.
type fakeSession struct {
	mu sync.Mutex

	markup     string
	markupErr  error
	cookies    []Cookie
	cookiesErr error
	hidden     []HiddenInput
	hiddenErr  error
	texts      map[string]string
	attrs      map[string]map[string]string
	queryErr   error

	traffic       []TrafficEvent
	navErr        error
	navPanic      bool
	contentPanic  bool
	navBlock      bool
	releaseErr    error
	observer      func(TrafficEvent)
	observedFirst bool
	navTimeout    time.Duration
	navigations   int
	releases      int
}

func (s *fakeSession) Observe(fn func(TrafficEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observer = fn
}

func (s *fakeSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	s.mu.Lock()
	s.navigations++
	s.navTimeout = timeout
	s.observedFirst = s.observer != nil
	obs := s.observer
	s.mu.Unlock()

	if s.navPanic {
		panic("renderer crashed")
	}
	for _, ev := range s.traffic {
		if obs != nil {
			obs(ev)
		}
	}
	if s.navBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.navErr
}

func (s *fakeSession) Content(context.Context) (string, error) {
	if s.contentPanic {
		panic("content evaluation crashed")
	}
	return s.markup, s.markupErr
}

func (s *fakeSession) Cookies(context.Context) ([]Cookie, error) {
	return s.cookies, s.cookiesErr
}

func (s *fakeSession) HiddenInputs(context.Context) ([]HiddenInput, error) {
	return s.hidden, s.hiddenErr
}

func (s *fakeSession) TextContent(_ context.Context, selector string) (string, bool, error) {
	if s.queryErr != nil {
		return "", false, s.queryErr
	}
	v, ok := s.texts[selector]
	return v, ok, nil
}

func (s *fakeSession) Attribute(_ context.Context, selector, attr string) (string, bool, error) {
	if s.queryErr != nil {
		return "", false, s.queryErr
	}
	el, ok := s.attrs[selector]
	if !ok {
		return "", false, nil
	}
	v, ok := el[attr]
	return v, ok, nil
}

func (s *fakeSession) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases++
	return s.releaseErr
}

type fakeController struct {
	mu       sync.Mutex
	session  *fakeSession
	err      error
	acquires int
	headful  bool
}

func (c *fakeController) Acquire(_ context.Context, headful bool) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquires++
	c.headful = headful
	if c.err != nil {
		return nil, c.err
	}
	return c.session, nil
}

func textBody(text string) BodyFunc {
	return func(context.Context) (Body, error) {
		return Body{Text: text}, nil
	}
}

func failingBody(context.Context) (Body, error) {
	return Body{}, errors.New("No resource with given identifier found")
}

func newTestEngine(c Controller) *Engine {
	return NewEngine(c, Options{
		NavigationTimeout: 2 * time.Second,
		BodyTimeout:       time.Second,
		DrainTimeout:      time.Second,
	})
}

func quickRequest(url string) Request {
	return Request{URL: url}
}
