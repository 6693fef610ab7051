package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/dgnsrekt/captcha_resolver/internal/capture"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
)

// Config holds browser launch configuration.
type Config struct {
	// BrowserPath overrides binary detection.
	BrowserPath string
	// RemoteCDPURL attaches to an already running browser instead of
	// launching one per session.
	RemoteCDPURL  string
	WindowSize    string
	UserAgent     string
	IdleWindow    time.Duration
	MaxBodyBytes  int
	LaunchTimeout time.Duration
}

// Launcher starts one browser per acquired session.
type Launcher struct {
	cfg Config
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1920,1080"
	}
	if cfg.IdleWindow <= 0 {
		cfg.IdleWindow = 500 * time.Millisecond
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	if cfg.BrowserPath == "" && cfg.RemoteCDPURL == "" {
		if path, err := detectBrowser(); err == nil {
			cfg.BrowserPath = path
		} else {
			slog.Debug("no browser on PATH, leaving lookup to chromedp", "error", err)
		}
	}
	return &Launcher{cfg: cfg}
}

// Remote reports whether sessions attach to a shared remote browser.
func (l *Launcher) Remote() bool {
	return l.cfg.RemoteCDPURL != ""
}

// RemoteCDPURL returns the configured remote endpoint, if any.
func (l *Launcher) RemoteCDPURL() string {
	return l.cfg.RemoteCDPURL
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable", "headless-shell"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %s)", strings.Join(candidates, ", "))
}

// allocatorOptions builds the exec allocator flags. Sandboxing is disabled
// because the service typically runs unprivileged in a container.
func (l *Launcher) allocatorOptions(headful bool) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", !headful),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("window-size", l.cfg.WindowSize),
	)
	if l.cfg.BrowserPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.BrowserPath))
	}
	if l.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.cfg.UserAgent))
	}
	return opts
}

// Acquire launches a browser (or attaches to the remote one), opens a fresh
// browser context and one page in it.
func (l *Launcher) Acquire(ctx context.Context, headful bool) (extract.Session, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if l.Remote() {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), l.cfg.RemoteCDPURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), l.allocatorOptions(headful)...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run binds the browser lifetime to browserCtx, so the launch is
	// bounded by cancelling the allocator rather than by a derived context.
	timer := time.AfterFunc(l.cfg.LaunchTimeout, allocCancel)
	stop := context.AfterFunc(ctx, allocCancel)
	defer func() {
		timer.Stop()
		stop()
	}()

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, extract.NewError(extract.CodeLaunch, "browser could not start", err)
	}

	// A tab created from a running browser gets its own browser context.
	tabCtx, tabCancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())
	s := &Session{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		tabCtx:        tabCtx,
		tabCancel:     tabCancel,
		idle:          newIdleTracker(),
		idleWindow:    l.cfg.IdleWindow,
	}
	s.capture = capture.NewHTTPCapture(s, l.cfg.MaxBodyBytes)

	chromedp.ListenTarget(tabCtx, s.handleEvent)
	if err := chromedp.Run(tabCtx, network.Enable(), page.Enable()); err != nil {
		_ = s.Release()
		return nil, extract.NewError(extract.CodeLaunch, "browser session could not start", err)
	}

	if c := chromedp.FromContext(tabCtx); c != nil {
		s.browserContextID = c.BrowserContextID
	}
	slog.Debug("browser session acquired", "headful", headful, "remote", l.Remote(), "browser_context_id", s.browserContextID)
	return s, nil
}
