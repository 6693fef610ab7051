package extract

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestDownloadIDFromURL(t *testing.T) {
	cases := []struct {
		url    string
		want   string
		wantOK bool
	}{
		{url: "https://example.com/file/42", want: "42", wantOK: true},
		{url: "https://example.com/file/42/", want: "42", wantOK: true},
		{url: "https://example.com/file/abc-DEF_9?ref=home#top", want: "abc-DEF_9", wantOK: true},
		{url: "https://example.com/file/one/file/two", want: "two", wantOK: true},
		{url: "https://example.com/file/", wantOK: false},
		{url: "https://example.com/files/42", wantOK: false},
		{url: "https://example.com/", wantOK: false},
	}
	for _, tc := range cases {
		got, ok := downloadIDFromURL(tc.url, "/file/")
		if ok != tc.wantOK || got != tc.want {
			t.Fatalf("downloadIDFromURL(%q) = (%q, %v); want (%q, %v)", tc.url, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestScanMarkup(t *testing.T) {
	h := newHarvester(DefaultMarkers())

	cases := []struct {
		name   string
		markup string
		want   map[string]string
	}{
		{name: "colon_double_quotes", markup: `{secret_key: "xyz789"}`, want: map[string]string{"secret_key": "xyz789"}},
		{name: "equals_single_quotes", markup: `SessionID='abc_DEF-12'`, want: map[string]string{"SessionID": "abc_DEF-12"}},
		{name: "spaces_around_operator", markup: `secret_key   =   "aaaaaa"`, want: map[string]string{"secret_key": "aaaaaa"}},
		{name: "too_short", markup: `secret_key: "abc"`, want: map[string]string{}},
		{name: "invalid_chars", markup: `secret_key: "abc def"`, want: map[string]string{}},
		{name: "first_match_wins", markup: `secret_key:"first1" secret_key:"second2"`, want: map[string]string{"secret_key": "first1"}},
		{name: "both_fields", markup: `secret_key="k123456" SessionID="s123456"`, want: map[string]string{"secret_key": "k123456", "SessionID": "s123456"}},
		{name: "too_long", markup: `secret_key="` + strings.Repeat("a", 301) + `"`, want: map[string]string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := h.scanMarkup(tc.markup)
			if len(got) != len(tc.want) {
				t.Fatalf("scanMarkup() = %v; want %v", got, tc.want)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("scanMarkup()[%q] = %q; want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestMergeFallbackKeepsDOMValues(t *testing.T) {
	inputs := map[string]string{"secret_key": "dom", "SessionID": ""}
	mergeFallback(inputs, map[string]string{"secret_key": "regex1", "SessionID": "regex2", "other": "x"})

	if inputs["secret_key"] != "dom" {
		t.Fatalf("secret_key = %q; want dom value", inputs["secret_key"])
	}
	if inputs["SessionID"] != "" {
		t.Fatalf("SessionID = %q; want present empty DOM value kept", inputs["SessionID"])
	}
	if inputs["other"] != "x" {
		t.Fatalf("other = %q; want merged value", inputs["other"])
	}
}

func TestAttemptConvertsPanics(t *testing.T) {
	res := attempt(context.Background(), slog.Default(), "site_key", func(context.Context) (string, error) {
		panic("boom")
	})
	if res.ok() {
		t.Fatalf("attempt() ok = true; want false")
	}
	if !IsCode(res.err, CodeHarvestField) {
		t.Fatalf("attempt() err = %v; want %s", res.err, CodeHarvestField)
	}
	if got := res.valueOr("fallback"); got != "fallback" {
		t.Fatalf("valueOr() = %q; want fallback", got)
	}
	if Fatal(res.err) {
		t.Fatalf("harvest field errors must not be fatal")
	}
}

func TestAttemptWrapsErrors(t *testing.T) {
	cause := errors.New("selector evaluation failed")
	res := attempt(context.Background(), slog.Default(), "hidden_inputs", func(context.Context) (int, error) {
		return 0, cause
	})
	if !errors.Is(res.err, cause) {
		t.Fatalf("attempt() err = %v; want wrapping %v", res.err, cause)
	}
}

func TestHarvestOfflinePage(t *testing.T) {
	markup := `<!doctype html>
<html><body>
<form>
  <input type="hidden" name="secret_key" value="domsecret">
  <input type="hidden" value="no-name">
  <input type="text" name="visible" value="ignored">
</form>
<div id="down-id"> 991 </div>
<div class="cf-turnstile" data-sitekey="0x4AAAAAAAB"></div>
<script>window.SessionID = "scriptsession1";</script>
</body></html>`

	page, err := NewHTMLPage(strings.NewReader(markup))
	if err != nil {
		t.Fatalf("NewHTMLPage() error = %v", err)
	}

	fields, cookies := Harvest(context.Background(), page, "https://example.com/file/42", DefaultMarkers())

	if fields.DownloadID == nil || *fields.DownloadID != "991" {
		t.Fatalf("DownloadID = %v; want 991", fields.DownloadID)
	}
	if fields.SiteKey == nil || *fields.SiteKey != "0x4AAAAAAAB" {
		t.Fatalf("SiteKey = %v; want 0x4AAAAAAAB", fields.SiteKey)
	}
	if fields.SecretKey == nil || *fields.SecretKey != "domsecret" {
		t.Fatalf("SecretKey = %v; want domsecret", fields.SecretKey)
	}
	if fields.SessionID == nil || *fields.SessionID != "scriptsession1" {
		t.Fatalf("SessionID = %v; want scriptsession1", fields.SessionID)
	}
	if _, ok := fields.HiddenInputs["visible"]; ok {
		t.Fatalf("visible input must not be harvested")
	}
	if len(fields.HiddenInputs) != 2 {
		t.Fatalf("HiddenInputs = %v; want 2 entries", fields.HiddenInputs)
	}
	if cookies == nil || len(cookies) != 0 {
		t.Fatalf("cookies = %v; want empty list", cookies)
	}
}

func TestHTMLPageMissingElements(t *testing.T) {
	page, err := NewHTMLPage(strings.NewReader(`<html><body><p>nothing</p></body></html>`))
	if err != nil {
		t.Fatalf("NewHTMLPage() error = %v", err)
	}
	if _, found, err := page.TextContent(context.Background(), "#down-id"); err != nil || found {
		t.Fatalf("TextContent() found=%v err=%v; want not found", found, err)
	}
	if _, found, err := page.Attribute(context.Background(), ".cf-turnstile", "data-sitekey"); err != nil || found {
		t.Fatalf("Attribute() found=%v err=%v; want not found", found, err)
	}

	fields, _ := Harvest(context.Background(), page, "https://example.com/", DefaultMarkers())
	if fields.DownloadID != nil || fields.SiteKey != nil || fields.SecretKey != nil {
		t.Fatalf("fields = %+v; want all null", fields)
	}
}

func TestHTMLPageAttributeAbsentOnElement(t *testing.T) {
	page, err := NewHTMLPage(strings.NewReader(`<div class="cf-turnstile"></div>`))
	if err != nil {
		t.Fatalf("NewHTMLPage() error = %v", err)
	}
	fields, _ := Harvest(context.Background(), page, "https://example.com/", DefaultMarkers())
	if fields.SiteKey != nil {
		t.Fatalf("SiteKey = %q; want nil when attribute missing", *fields.SiteKey)
	}
}
