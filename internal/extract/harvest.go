package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// fieldResult carries either a harvested value or the error that replaced it.
type fieldResult[T any] struct {
	value T
	err   error
}

func (r fieldResult[T]) ok() bool { return r.err == nil }

// valueOr returns the harvested value, or def when the step failed.
func (r fieldResult[T]) valueOr(def T) T {
	if r.err != nil {
		return def
	}
	return r.value
}

// attempt runs one harvest step, converting errors and panics into a
// HARVEST_FIELD_FAILED result.
func attempt[T any](ctx context.Context, logger *slog.Logger, field string, fn func(context.Context) (T, error)) (res fieldResult[T]) {
	defer func() {
		if p := recover(); p != nil {
			res = fieldResult[T]{err: NewError(CodeHarvestField, field, fmt.Errorf("panic: %v", p))}
		}
		if res.err != nil {
			harvestFailures.WithLabelValues(field).Inc()
			logger.Debug("harvest step failed", "field", field, "error", res.err)
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		return fieldResult[T]{err: NewError(CodeHarvestField, field, err)}
	}
	return fieldResult[T]{value: v}
}

// fallbackPattern matches `<field>: "token"` or `<field>='token'` assignments.
func fallbackPattern(field string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(field) + `\s*[:=]\s*['"]([A-Za-z0-9_\-]{6,300})['"]`)
}

// harvester holds the compiled form of a Markers set.
type harvester struct {
	markers  Markers
	patterns map[string]*regexp.Regexp
}

func newHarvester(m Markers) *harvester {
	m = m.withDefaults()
	return &harvester{
		markers: m,
		patterns: map[string]*regexp.Regexp{
			m.SecretKeyField: fallbackPattern(m.SecretKeyField),
			m.SessionIDField: fallbackPattern(m.SessionIDField),
		},
	}
}

// scanMarkup returns the first fallback match for each known field.
func (h *harvester) scanMarkup(html string) map[string]string {
	found := make(map[string]string, len(h.patterns))
	for field, re := range h.patterns {
		if m := re.FindStringSubmatch(html); len(m) > 1 {
			found[field] = m[1]
		}
	}
	return found
}

// mergeFallback adds recovered values for keys the DOM did not provide.
func mergeFallback(inputs map[string]string, recovered map[string]string) {
	for k, v := range recovered {
		if _, ok := inputs[k]; ok {
			continue
		}
		inputs[k] = v
	}
}

// downloadIDFromURL returns what follows the last occurrence of marker in
// rawURL, without query or fragment.
func downloadIDFromURL(rawURL, marker string) (string, bool) {
	idx := strings.LastIndex(rawURL, marker)
	if marker == "" || idx < 0 {
		return "", false
	}
	id := rawURL[idx+len(marker):]
	if i := strings.IndexAny(id, "?#"); i >= 0 {
		id = id[:i]
	}
	id = strings.TrimRight(id, "/")
	if id == "" {
		return "", false
	}
	return id, true
}

// harvested is everything collected from a loaded page.
type harvested struct {
	markup  string
	fields  ExtractedFields
	cookies []Cookie
}

func (h *harvester) harvest(ctx context.Context, logger *slog.Logger, page Page, requestURL string) harvested {
	markup := attempt(ctx, logger, "markup", page.Content)
	cookies := attempt(ctx, logger, "cookies", page.Cookies)
	hidden := attempt(ctx, logger, "hidden_inputs", func(ctx context.Context) (map[string]string, error) {
		list, err := page.HiddenInputs(ctx)
		if err != nil {
			return nil, err
		}
		out := make(map[string]string, len(list))
		for _, in := range list {
			if in.Name == "" {
				continue
			}
			out[in.Name] = in.Value
		}
		return out, nil
	})
	recovered := attempt(ctx, logger, "fallback_scan", func(context.Context) (map[string]string, error) {
		if !markup.ok() {
			return nil, fmt.Errorf("markup unavailable")
		}
		return h.scanMarkup(markup.value), nil
	})
	domID := attempt(ctx, logger, "download_id", func(ctx context.Context) (string, error) {
		text, found, err := page.TextContent(ctx, h.markers.DownloadIDSelector)
		if err != nil || !found {
			return "", err
		}
		return strings.TrimSpace(text), nil
	})
	siteKey := attempt(ctx, logger, "site_key", func(ctx context.Context) (*string, error) {
		v, found, err := page.Attribute(ctx, h.markers.SiteKeySelector, h.markers.SiteKeyAttribute)
		if err != nil || !found {
			return nil, err
		}
		return &v, nil
	})

	inputs := hidden.valueOr(map[string]string{})
	if inputs == nil {
		inputs = map[string]string{}
	}
	mergeFallback(inputs, recovered.valueOr(nil))

	fields := ExtractedFields{
		HiddenInputs: inputs,
		SiteKey:      siteKey.valueOr(nil),
		SecretKey:    lookup(inputs, h.markers.SecretKeyField),
		SessionID:    lookup(inputs, h.markers.SessionIDField),
	}
	if id := domID.valueOr(""); id != "" {
		fields.DownloadID = &id
	} else if id, ok := downloadIDFromURL(requestURL, h.markers.DownloadPath); ok {
		fields.DownloadID = &id
	}

	list := cookies.valueOr(nil)
	if list == nil {
		list = []Cookie{}
	}

	return harvested{
		markup:  markup.valueOr(""),
		fields:  fields,
		cookies: list,
	}
}

func lookup(m map[string]string, key string) *string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	return &v
}

// Harvest runs the harvesting steps against an already loaded page. It never
// fails; unavailable sources leave their fields empty.
func Harvest(ctx context.Context, page Page, requestURL string, markers Markers) (ExtractedFields, []Cookie) {
	h := newHarvester(markers)
	out := h.harvest(ctx, slog.Default(), page, requestURL)
	return out.fields, out.cookies
}
