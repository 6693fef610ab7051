package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/captcha_resolver/internal/extract"
	"github.com/dgnsrekt/captcha_resolver/internal/resolver"
)

const resolvePath = "/resolve"

type resolveInput struct {
	Body struct {
		URL           string `json:"url" doc:"Absolute http(s) URL of the protected page" example:"https://example.com/file/abc123"`
		WaitSeconds   *int   `json:"wait_seconds,omitempty" minimum:"0" doc:"Settle time after navigation, in seconds. Defaults to the server setting (12)."`
		Headful       bool   `json:"headful,omitempty" doc:"Show the browser window"`
		IncludeMarkup bool   `json:"include_markup,omitempty" doc:"Echo the final page markup in the result"`
	}
}

type resolveOutput struct {
	Body *extract.Result
}

func registerResolveHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{
		OperationID: "resolve",
		Method:      http.MethodPost,
		Path:        resolvePath,
		Summary:     "Extract anti-bot artifacts from a page",
		Description: "Loads the URL in a fresh isolated browser context, waits for client-side scripts to settle and returns the verification traffic, hidden fields, keys and cookies found.",
		Tags:        []string{"Resolve"},
	}, func(ctx context.Context, input *resolveInput) (*resolveOutput, error) {
		res, err := svc.Resolve(ctx, resolver.ResolveInput{
			URL:           input.Body.URL,
			WaitSeconds:   input.Body.WaitSeconds,
			Headful:       input.Body.Headful,
			IncludeMarkup: input.Body.IncludeMarkup,
		})
		if err != nil {
			return nil, mapErr(err)
		}
		return &resolveOutput{Body: res}, nil
	})
}
