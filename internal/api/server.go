package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/captcha_resolver/internal/events"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/dgnsrekt/captcha_resolver/internal/resolver"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Service interface {
	Resolve(ctx context.Context, in resolver.ResolveInput) (*extract.Result, error)
	DeepHealth(ctx context.Context) (resolver.Health, error)
}

// Options tune the HTTP surface. A zero RateLimitRPS disables limiting and a
// nil Events broker leaves /api/v1/events unmounted.
type Options struct {
	Version        string
	RateLimitRPS   float64
	RateLimitBurst int
	Events         *events.Broker
}

func NewServer(svc Service, opts Options) http.Handler {
	if opts.Version == "" {
		opts.Version = "1.0.0"
	}

	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	if opts.RateLimitRPS > 0 {
		router.Use(rateLimit(resolvePath, opts.RateLimitRPS, opts.RateLimitBurst))
	}

	cfg := huma.DefaultConfig("Captcha Resolver API", opts.Version)
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Handle("/metrics", promhttp.Handler())
	if opts.Events != nil {
		router.Get("/api/v1/events", events.SSEHandler(opts.Events))
	}

	registerResolveHandlers(api, svc)
	registerHealthHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *extract.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case extract.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case extract.CodeBusy:
			return huma.Error503ServiceUnavailable(coded.Message)
		case extract.CodeLaunch:
			return huma.Error502BadGateway(coded.Error())
		default:
			return huma.Error500InternalServerError(coded.Error())
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
