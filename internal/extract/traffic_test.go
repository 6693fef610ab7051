package extract

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestTrafficRecorderFirstSeenWinsRegardlessOfBodyLatency(t *testing.T) {
	r := newTrafficRecorder(context.Background(), "/cfnl", time.Second, slog.Default())

	release := make(chan struct{})
	slow := func(ctx context.Context) (Body, error) {
		<-release
		return Body{Text: "slow-first"}, nil
	}

	r.observe(TrafficEvent{Kind: TrafficResponse, URL: "https://a/cfnl?1", Status: 200, Body: slow})
	r.observe(TrafficEvent{Kind: TrafficResponse, URL: "https://a/cfnl?2", Status: 500, Body: textBody("fast-second")})
	close(release)

	if !r.drain(time.Second) {
		t.Fatalf("drain() = false; want true")
	}
	got := r.reduce()
	if got.Response == nil {
		t.Fatalf("Response = nil; want first response")
	}
	if got.Response.URL != "https://a/cfnl?1" || got.Response.Text != "slow-first" {
		t.Fatalf("Response = %+v; want first observed response", got.Response)
	}
	if r.count() != 2 {
		t.Fatalf("count() = %d; want 2", r.count())
	}
}

func TestTrafficRecorderIgnoresOtherURLs(t *testing.T) {
	r := newTrafficRecorder(context.Background(), "/cfnl", time.Second, slog.Default())
	r.observe(TrafficEvent{Kind: TrafficRequest, URL: "https://a/api/cf", Method: "GET"})
	r.drain(time.Second)

	got := r.reduce()
	if got.XHRFound || got.Request != nil || got.Response != nil {
		t.Fatalf("reduce() = %+v; want empty", got)
	}
}

func TestTrafficRecorderDrainTimeoutKeepsSlot(t *testing.T) {
	r := newTrafficRecorder(context.Background(), "/cfnl", 20*time.Millisecond, slog.Default())
	r.observe(TrafficEvent{Kind: TrafficResponse, URL: "https://a/cfnl", Status: 200, Body: func(ctx context.Context) (Body, error) {
		<-ctx.Done()
		return Body{}, ctx.Err()
	}})

	r.drain(time.Second)
	got := r.reduce()
	if got.Response == nil || got.Response.Text != BodyUnavailable {
		t.Fatalf("Response = %+v; want sentinel body", got.Response)
	}
}

func TestTrafficRecorderCarriesTruncation(t *testing.T) {
	r := newTrafficRecorder(context.Background(), "/cfnl", time.Second, slog.Default())
	r.observe(TrafficEvent{Kind: TrafficResponse, URL: "https://a/cfnl", Status: 200, Body: func(context.Context) (Body, error) {
		return Body{Base64: "AAEC", Truncated: true, OriginalSize: 9000, SHA256: "abc"}, nil
	}})
	r.drain(time.Second)

	got := r.reduce().Response
	if got == nil || got.TextBase64 != "AAEC" || !got.Truncated || got.OriginalSize != 9000 || got.SHA256 != "abc" {
		t.Fatalf("Response = %+v; want truncation metadata", got)
	}
}

func TestTrafficRecorderRequestWithoutBody(t *testing.T) {
	r := newTrafficRecorder(context.Background(), "/cfnl", time.Second, slog.Default())
	r.observe(TrafficEvent{Kind: TrafficRequest, URL: "https://a/cfnl", Method: "GET"})
	r.drain(time.Second)

	got := r.reduce()
	if got.Request == nil || got.Request.PostData != nil {
		t.Fatalf("Request = %+v; want request with null post data", got.Request)
	}
	if got.Request.Headers == nil {
		t.Fatalf("Request.Headers = nil; want empty map")
	}
}
