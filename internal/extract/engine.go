package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/captcha_resolver/internal/telemetry"
	"github.com/google/uuid"
)

// Engine drives one browser session per extraction.
type Engine struct {
	controller Controller
	opts       Options
	harvester  *harvester
}

// NewEngine returns an Engine that acquires sessions from controller.
func NewEngine(controller Controller, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		controller: controller,
		opts:       opts,
		harvester:  newHarvester(opts.Markers),
	}
}

// Options returns the effective options after defaults.
func (e *Engine) Options() Options {
	return e.opts
}

// Extract acquires a session, observes verification traffic while the page
// loads and settles, harvests the page and releases the session. Only launch
// failures, cancellation and unexpected panics are returned as errors.
func (e *Engine) Extract(ctx context.Context, req Request) (result *Result, err error) {
	id := uuid.NewString()
	started := time.Now().UTC()
	logger := slog.Default().With("extraction_id", id)

	ctx, span := telemetry.StartSpan(ctx, "extract",
		telemetry.AttrExtractionID.String(id),
		telemetry.AttrTargetURL.String(req.URL),
		telemetry.AttrHeadful.Bool(req.Headful),
		telemetry.AttrWaitMS.Int64(req.Wait.Milliseconds()),
	)
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = NewError(CodeUnhandled, "extraction aborted", fmt.Errorf("panic: %v", p))
		}
		if err != nil {
			telemetry.RecordError(ctx, err)
			logger.Error("extraction failed", "url", req.URL, "error", err)
		}
	}()

	if req.Wait < 0 {
		return nil, NewError(CodeValidation, "wait must not be negative", nil)
	}

	session, err := e.controller.Acquire(ctx, req.Headful)
	if err != nil {
		launchFailures.Inc()
		if !IsCode(err, CodeLaunch) {
			err = NewError(CodeLaunch, "browser session could not start", err)
		}
		return nil, err
	}
	sessionsActive.Inc()
	defer func() {
		sessionsActive.Dec()
		if rerr := session.Release(); rerr != nil {
			logger.Warn("session release failed", "error", rerr)
		}
	}()

	recorder := newTrafficRecorder(ctx, e.opts.Markers.VerificationPath, e.opts.BodyTimeout, logger)
	session.Observe(recorder.observe)

	e.navigate(ctx, logger, session, req.URL)

	if err := e.settle(ctx, req.Wait); err != nil {
		recorder.drain(e.opts.DrainTimeout)
		return nil, NewError(CodeUnhandled, "extraction cancelled while settling", err)
	}

	hctx, hspan := telemetry.StartSpan(ctx, "harvest")
	h := e.harvester.harvest(hctx, logger, session, req.URL)
	hspan.End()

	recorder.drain(e.opts.DrainTimeout)
	traffic := recorder.reduce()

	status := StatusNoXHR
	if traffic.XHRFound {
		status = StatusXHRSeen
	}

	result = &Result{
		ID:              id,
		URL:             req.URL,
		Status:          status,
		CapturedTraffic: traffic,
		ExtractedFields: h.fields,
		Cookies:         h.cookies,
		StartedAt:       started,
		DurationMS:      time.Since(started).Milliseconds(),
	}
	if req.IncludeMarkup {
		result.Markup = h.markup
	}

	extractionsTotal.WithLabelValues(string(status)).Inc()
	extractionDuration.Observe(time.Since(started).Seconds())
	span.SetAttributes(telemetry.AttrStatus.String(string(status)))
	logger.Info("extraction complete",
		"url", req.URL,
		"status", status,
		"matches", recorder.count(),
		"hidden_inputs", len(h.fields.HiddenInputs),
		"cookies", len(h.cookies),
		"duration_ms", result.DurationMS,
	)
	return result, nil
}

// navigate loads url and absorbs every navigation failure.
func (e *Engine) navigate(ctx context.Context, logger *slog.Logger, session Session, url string) {
	ctx, span := telemetry.StartSpan(ctx, "navigate")
	defer span.End()

	nctx, cancel := context.WithTimeout(ctx, e.opts.NavigationTimeout)
	defer cancel()
	err := session.Navigate(nctx, url, e.opts.NavigationTimeout)
	if err == nil {
		return
	}
	telemetry.RecordError(ctx, err)

	code := CodeNavigation
	var coded *CodedError
	if errors.As(err, &coded) {
		code = coded.Code
	} else if errors.Is(err, context.DeadlineExceeded) {
		code = CodeNavigationTimeout
	}
	navigationErrors.WithLabelValues(code).Inc()
	logger.Warn("navigation incomplete, continuing with current page state", "url", url, "code", code, "error", err)
}

// settle waits a fixed duration, returning early only if ctx ends.
func (e *Engine) settle(ctx context.Context, d time.Duration) error {
	_, span := telemetry.StartSpan(ctx, "settle")
	defer span.End()

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
