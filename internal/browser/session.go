package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/captcha_resolver/internal/capture"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
)

const hiddenInputsJS = `Array.from(document.querySelectorAll('input[type=hidden]')).map(n => ({
	name: n.name || n.getAttribute('name') || '',
	value: n.value || n.getAttribute('value') || ''
}))`

// Session is one page inside an isolated browser context.
type Session struct {
	allocCancel      context.CancelFunc
	browserCtx       context.Context
	browserCancel    context.CancelFunc
	tabCtx           context.Context
	tabCancel        context.CancelFunc
	browserContextID cdp.BrowserContextID

	capture    *capture.HTTPCapture
	idle       *idleTracker
	idleWindow time.Duration

	releaseOnce sync.Once
	releaseErr  error
}

func (s *Session) handleEvent(ev any) {
	s.idle.HandleEvent(ev)
	s.capture.HandleEvent(ev)
}

// Observe routes the page's network traffic to fn.
func (s *Session) Observe(fn func(extract.TrafficEvent)) {
	s.capture.SetObserver(fn)
}

// run executes actions on the page, honouring both ctx and the session.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for network quiescence, bounded by timeout.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return extract.NewError(extract.CodeNavigationTimeout, "page load did not finish in time", err)
		}
		return extract.NewError(extract.CodeNavigation, "navigate", err)
	}

	if err := s.idle.Wait(ctx, s.idleWindow); err != nil {
		return extract.NewError(extract.CodeNavigationTimeout, "network never went idle", err)
	}
	return nil
}

func (s *Session) Content(ctx context.Context) (string, error) {
	var html string
	err := s.run(ctx, chromedp.Evaluate(`document.documentElement ? document.documentElement.outerHTML : ''`, &html))
	return html, err
}

// Cookies returns every cookie in the session's browser context, falling
// back to the page's cookies when the storage domain is unavailable.
func (s *Session) Cookies(ctx context.Context) ([]extract.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) (err error) {
		cmd := storage.GetCookies()
		if s.browserContextID != "" {
			cmd = cmd.WithBrowserContextID(s.browserContextID)
		}
		raw, err = cmd.Do(c)
		return err
	}))
	if err != nil {
		slog.Debug("storage cookies unavailable, using page cookies", "error", err)
		err = s.run(ctx, chromedp.ActionFunc(func(c context.Context) (err error) {
			raw, err = network.GetCookies().Do(c)
			return err
		}))
		if err != nil {
			return nil, err
		}
	}
	return convertCookies(raw), nil
}

func (s *Session) HiddenInputs(ctx context.Context) ([]extract.HiddenInput, error) {
	var out []extract.HiddenInput
	err := s.run(ctx, chromedp.Evaluate(hiddenInputsJS, &out))
	return out, err
}

type elementProbe struct {
	Found bool   `json:"found"`
	Value string `json:"value"`
}

func (s *Session) TextContent(ctx context.Context, selector string) (string, bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", false, err
	}
	js := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	return el ? {found: true, value: el.textContent || ''} : {found: false, value: ''};
})()`, sel)
	var probe elementProbe
	if err := s.run(ctx, chromedp.Evaluate(js, &probe)); err != nil {
		return "", false, err
	}
	return probe.Value, probe.Found, nil
}

func (s *Session) Attribute(ctx context.Context, selector, attr string) (string, bool, error) {
	sel, err := json.Marshal(selector)
	if err != nil {
		return "", false, err
	}
	name, err := json.Marshal(attr)
	if err != nil {
		return "", false, err
	}
	js := fmt.Sprintf(`(() => {
	const el = document.querySelector(%s);
	if (!el || !el.hasAttribute(%s)) return {found: false, value: ''};
	return {found: true, value: el.getAttribute(%s)};
})()`, sel, name, name)
	var probe elementProbe
	if err := s.run(ctx, chromedp.Evaluate(js, &probe)); err != nil {
		return "", false, err
	}
	return probe.Value, probe.Found, nil
}

// ResponseBody implements capture.Fetcher.
func (s *Session) ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) (err error) {
		body, err = network.GetResponseBody(id).Do(c)
		return err
	}))
	return body, err
}

// PostData implements capture.Fetcher.
func (s *Session) PostData(ctx context.Context, id network.RequestID) (string, error) {
	var data string
	err := s.run(ctx, chromedp.ActionFunc(func(c context.Context) (err error) {
		data, err = network.GetRequestPostData(id).Do(c)
		return err
	}))
	return data, err
}

// Release closes the page, disposes the browser context and stops the
// browser. Only the first call does any work.
func (s *Session) Release() error {
	s.releaseOnce.Do(func() {
		s.capture.SetObserver(nil)
		s.tabCancel()
		if err := chromedp.Cancel(s.browserCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.releaseErr = err
		}
		s.browserCancel()
		s.allocCancel()
		slog.Debug("browser session released", "browser_context_id", s.browserContextID)
	})
	return s.releaseErr
}

func convertCookies(raw []*network.Cookie) []extract.Cookie {
	out := make([]extract.Cookie, 0, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		out = append(out, extract.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Size:     c.Size,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			Session:  c.Session,
			SameSite: c.SameSite.String(),
		})
	}
	return out
}
