package extract

import (
	"context"
	"time"
)

const (
	DefaultWait              = 12 * time.Second
	DefaultNavigationTimeout = 120 * time.Second
	DefaultBodyTimeout       = 10 * time.Second
	DefaultDrainTimeout      = 5 * time.Second

	// BodyUnavailable replaces a response body that could not be read.
	BodyUnavailable = "<no text>"
)

// Status summarises whether verification traffic was observed.
type Status string

const (
	StatusXHRSeen Status = "xhr_seen"
	StatusNoXHR   Status = "no_xhr"
)

// Request describes one extraction.
type Request struct {
	URL           string
	Wait          time.Duration
	Headful bool
	// IncludeMarkup keeps the final page markup on the Result. The markup is
	// always read for the fallback scan.
	IncludeMarkup bool
}

// NewRequest returns a Request for url with the default settle wait.
func NewRequest(url string) Request {
	return Request{URL: url, Wait: DefaultWait}
}

// Markers identify the page elements and traffic the engine harvests.
type Markers struct {
	VerificationPath   string `yaml:"verification_path"`
	DownloadPath       string `yaml:"download_path"`
	DownloadIDSelector string `yaml:"download_id_selector"`
	SiteKeySelector    string `yaml:"site_key_selector"`
	SiteKeyAttribute   string `yaml:"site_key_attribute"`
	SecretKeyField     string `yaml:"secret_key_field"`
	SessionIDField     string `yaml:"session_id_field"`
}

// DefaultMarkers returns the markers of the Cloudflare-fronted download flow.
func DefaultMarkers() Markers {
	return Markers{
		VerificationPath:   "/cfnl",
		DownloadPath:       "/file/",
		DownloadIDSelector: "#down-id",
		SiteKeySelector:    ".cf-turnstile",
		SiteKeyAttribute:   "data-sitekey",
		SecretKeyField:     "secret_key",
		SessionIDField:     "SessionID",
	}
}

// withDefaults fills empty fields from DefaultMarkers.
func (m Markers) withDefaults() Markers {
	d := DefaultMarkers()
	if m.VerificationPath == "" {
		m.VerificationPath = d.VerificationPath
	}
	if m.DownloadPath == "" {
		m.DownloadPath = d.DownloadPath
	}
	if m.DownloadIDSelector == "" {
		m.DownloadIDSelector = d.DownloadIDSelector
	}
	if m.SiteKeySelector == "" {
		m.SiteKeySelector = d.SiteKeySelector
	}
	if m.SiteKeyAttribute == "" {
		m.SiteKeyAttribute = d.SiteKeyAttribute
	}
	if m.SecretKeyField == "" {
		m.SecretKeyField = d.SecretKeyField
	}
	if m.SessionIDField == "" {
		m.SessionIDField = d.SessionIDField
	}
	return m
}

// Options configure an Engine. Zero values take documented defaults.
type Options struct {
	NavigationTimeout time.Duration
	BodyTimeout       time.Duration
	DrainTimeout      time.Duration
	Markers           Markers
}

func (o Options) withDefaults() Options {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.BodyTimeout <= 0 {
		o.BodyTimeout = DefaultBodyTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	o.Markers = o.Markers.withDefaults()
	return o
}

// RequestSnapshot is the first verification request observed.
type RequestSnapshot struct {
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	PostData *string           `json:"post_data"`
	Headers  map[string]string `json:"headers"`
}

// ResponseSnapshot is the first verification response observed.
type ResponseSnapshot struct {
	URL          string `json:"url"`
	Status       int    `json:"status"`
	Text         string `json:"text"`
	TextBase64   string `json:"text_base64,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
	OriginalSize int    `json:"original_size,omitempty"`
	SHA256       string `json:"sha256,omitempty"`
}

type CapturedTraffic struct {
	XHRFound bool              `json:"xhr_found"`
	Request  *RequestSnapshot  `json:"request"`
	Response *ResponseSnapshot `json:"response"`
}

type ExtractedFields struct {
	DownloadID   *string           `json:"download_id"`
	SiteKey      *string           `json:"site_key"`
	SecretKey    *string           `json:"secret_key"`
	SessionID    *string           `json:"session_id"`
	HiddenInputs map[string]string `json:"hidden_inputs"`
}

// Cookie mirrors what the browsing context reports.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Size     int64   `json:"size"`
	HTTPOnly bool    `json:"http_only"`
	Secure   bool    `json:"secure"`
	Session  bool    `json:"session"`
	SameSite string  `json:"same_site,omitempty"`
}

// HiddenInput is one input[type=hidden] element.
type HiddenInput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Result is the outcome of one extraction. It is not modified after Extract returns.
type Result struct {
	ID              string          `json:"id"`
	URL             string          `json:"url"`
	Status          Status          `json:"status"`
	CapturedTraffic CapturedTraffic `json:"captured_traffic"`
	ExtractedFields ExtractedFields `json:"extracted_fields"`
	Cookies         []Cookie        `json:"cookies"`
	StartedAt       time.Time       `json:"started_at"`
	DurationMS      int64           `json:"duration_ms"`
	Markup          string          `json:"markup,omitempty"`
}

// TrafficKind distinguishes requests from responses.
type TrafficKind int

const (
	TrafficRequest TrafficKind = iota
	TrafficResponse
)

func (k TrafficKind) String() string {
	if k == TrafficResponse {
		return "response"
	}
	return "request"
}

// Body is a captured payload after truncation.
type Body struct {
	Text         string
	Base64       string
	Truncated    bool
	OriginalSize int
	SHA256       string
}

// BodyFunc fetches a payload lazily. It must not be called from the
// browser's event callback.
type BodyFunc func(ctx context.Context) (Body, error)

// TrafficEvent is one network request or completed response.
type TrafficEvent struct {
	Kind    TrafficKind
	URL     string
	Method  string
	Status  int
	Headers map[string]string
	Body    BodyFunc
}

// Page is the harvesting surface of a loaded document.
type Page interface {
	Content(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	HiddenInputs(ctx context.Context) ([]HiddenInput, error)
	// TextContent returns the text of the first element matching selector.
	TextContent(ctx context.Context, selector string) (string, bool, error)
	// Attribute returns attr of the first element matching selector.
	Attribute(ctx context.Context, selector, attr string) (string, bool, error)
}

// Session is one isolated browser page.
type Session interface {
	Page
	// Observe registers fn for every network event of the page. It must be
	// called before Navigate.
	Observe(fn func(TrafficEvent))
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Release() error
}

// Controller acquires isolated sessions.
type Controller interface {
	Acquire(ctx context.Context, headful bool) (Session, error)
}
