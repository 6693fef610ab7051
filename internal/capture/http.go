package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
)

var errRedirectBody = errors.New("redirect responses carry no body")

// Fetcher reads payloads back from the browser after an event has been seen.
type Fetcher interface {
	ResponseBody(ctx context.Context, id network.RequestID) ([]byte, error)
	PostData(ctx context.Context, id network.RequestID) (string, error)
}

type pendingResponse struct {
	url     string
	status  int
	headers map[string]string
}

// HTTPCapture correlates CDP network events for one page and hands them to
// an observer as extract.TrafficEvent values. A response is reported once its
// body has finished loading, or failed to.
type HTTPCapture struct {
	fetcher      Fetcher
	maxBodyBytes int

	observer   func(extract.TrafficEvent)
	observerMu sync.RWMutex

	pending   map[network.RequestID]*pendingResponse
	pendingMu sync.Mutex
}

func NewHTTPCapture(fetcher Fetcher, maxBodyBytes int) *HTTPCapture {
	return &HTTPCapture{
		fetcher:      fetcher,
		maxBodyBytes: maxBodyBytes,
		pending:      make(map[network.RequestID]*pendingResponse),
	}
}

// SetObserver replaces the receiver of traffic events.
func (h *HTTPCapture) SetObserver(fn func(extract.TrafficEvent)) {
	h.observerMu.Lock()
	h.observer = fn
	h.observerMu.Unlock()
}

func (h *HTTPCapture) emit(ev extract.TrafficEvent) {
	h.observerMu.RLock()
	fn := h.observer
	h.observerMu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

// HandleEvent dispatches a chromedp target event.
func (h *HTTPCapture) HandleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		h.OnRequestWillBeSent(e)
	case *network.EventResponseReceived:
		h.OnResponseReceived(e)
	case *network.EventLoadingFinished:
		h.OnLoadingFinished(e)
	case *network.EventLoadingFailed:
		h.OnLoadingFailed(e)
	}
}

func (h *HTTPCapture) OnRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil {
		return
	}

	if ev.RedirectResponse != nil {
		h.emit(extract.TrafficEvent{
			Kind:    extract.TrafficResponse,
			URL:     ev.RedirectResponse.URL,
			Status:  int(ev.RedirectResponse.Status),
			Headers: headerMapToStringMap(ev.RedirectResponse.Headers),
			Body: func(context.Context) (extract.Body, error) {
				return extract.Body{}, errRedirectBody
			},
		})
	}

	var body extract.BodyFunc
	if ev.Request.HasPostData {
		if len(ev.Request.PostDataEntries) > 0 {
			raw := decodePostDataEntries(ev.Request.PostDataEntries)
			body = func(context.Context) (extract.Body, error) {
				return h.encodeBody(raw), nil
			}
		} else {
			id := ev.RequestID
			body = func(ctx context.Context) (extract.Body, error) {
				data, err := h.fetcher.PostData(ctx, id)
				if err != nil {
					return extract.Body{}, fmt.Errorf("request post data: %w", err)
				}
				return h.encodeBody([]byte(data)), nil
			}
		}
	}

	h.emit(extract.TrafficEvent{
		Kind:    extract.TrafficRequest,
		URL:     ev.Request.URL,
		Method:  ev.Request.Method,
		Headers: headerMapToStringMap(ev.Request.Headers),
		Body:    body,
	})
}

func (h *HTTPCapture) OnResponseReceived(ev *network.EventResponseReceived) {
	if ev.Response == nil {
		return
	}
	h.pendingMu.Lock()
	h.pending[ev.RequestID] = &pendingResponse{
		url:     ev.Response.URL,
		status:  int(ev.Response.Status),
		headers: headerMapToStringMap(ev.Response.Headers),
	}
	h.pendingMu.Unlock()
}

func (h *HTTPCapture) OnLoadingFinished(ev *network.EventLoadingFinished) {
	p, ok := h.take(ev.RequestID)
	if !ok {
		return
	}
	id := ev.RequestID
	h.emit(extract.TrafficEvent{
		Kind:    extract.TrafficResponse,
		URL:     p.url,
		Status:  p.status,
		Headers: p.headers,
		Body: func(ctx context.Context) (extract.Body, error) {
			data, err := h.fetcher.ResponseBody(ctx, id)
			if err != nil {
				return extract.Body{}, fmt.Errorf("response body: %w", err)
			}
			return h.encodeBody(data), nil
		},
	})
}

func (h *HTTPCapture) OnLoadingFailed(ev *network.EventLoadingFailed) {
	p, ok := h.take(ev.RequestID)
	if !ok {
		return
	}
	reason := ev.ErrorText
	h.emit(extract.TrafficEvent{
		Kind:    extract.TrafficResponse,
		URL:     p.url,
		Status:  p.status,
		Headers: p.headers,
		Body: func(context.Context) (extract.Body, error) {
			return extract.Body{}, fmt.Errorf("loading failed: %s", reason)
		},
	})
}

// Pending reports responses still waiting for their body to finish loading.
func (h *HTTPCapture) Pending() int {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	return len(h.pending)
}

func (h *HTTPCapture) take(id network.RequestID) (*pendingResponse, bool) {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	p, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	return p, ok
}

func (h *HTTPCapture) encodeBody(data []byte) extract.Body {
	return clipBody(data, h.maxBodyBytes)
}

func decodePostDataEntries(entries []*network.PostDataEntry) []byte {
	var decoded []byte
	for _, entry := range entries {
		if entry == nil || entry.Bytes == "" {
			continue
		}
		part, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			decoded = append(decoded, []byte(entry.Bytes)...)
		} else {
			decoded = append(decoded, part...)
		}
	}
	return decoded
}

func headerMapToStringMap(headers map[string]any) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if s, ok := v.(string); ok {
			result[k] = s
		}
	}
	return result
}
