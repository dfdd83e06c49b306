package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vinayprograms/pulsekit/event"
	"github.com/vinayprograms/pulsekit/logging"
)

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetOutput(io.Discard)
	return log
}

// testServer returns an unstarted webhook server wired to a fresh
// dispatcher, plus an httptest server around its routes.
func testServer(t *testing.T, cfg Config) (*Server, *event.Dispatcher, *httptest.Server) {
	t.Helper()
	d, err := event.NewDispatcher(event.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher error: %v", err)
	}
	cfg.Dispatcher = d
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	s, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}
	ts := httptest.NewServer(s.routes())
	t.Cleanup(ts.Close)
	return s, d, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

// --- Unit Tests ---

func TestNewServer_RequiresDispatcher(t *testing.T) {
	if _, err := NewServer(Config{}); err != ErrNilDispatcher {
		t.Errorf("NewServer = %v, want ErrNilDispatcher", err)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	good := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !verifySignature(body, good, "s3cret") {
		t.Error("valid signature rejected")
	}
	if verifySignature(body, good, "other") {
		t.Error("signature accepted with wrong secret")
	}
	if verifySignature(body, "sha256=deadbeef", "s3cret") {
		t.Error("bogus signature accepted")
	}
	if verifySignature(body, "", "s3cret") {
		t.Error("missing signature accepted")
	}
}

// --- Endpoint Tests ---

func TestMentions_QueuesHighPriorityEvent(t *testing.T) {
	_, d, ts := testServer(t, Config{})

	resp := postJSON(t, ts.URL+"/webhooks/mentions", map[string]any{
		"tweet_id":       "t1",
		"user_id":        "u1",
		"username":       "fan",
		"text":           "@papito love the album",
		"follower_count": 500,
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["event_type"] != "mention" || body["priority"] != "high" {
		t.Errorf("response = %v, want mention/high", body)
	}
	if d.Stats().QueueSize != 1 {
		t.Errorf("queue size = %d, want 1", d.Stats().QueueSize)
	}
}

func TestMentions_ClassifiesQuoteReplyAndVIP(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	tests := []struct {
		name     string
		extra    map[string]any
		wantType string
		wantPrio string
	}{
		{"quote", map[string]any{"is_quote": true}, "quote", "high"},
		{"reply", map[string]any{"in_reply_to": "t0"}, "reply", "high"},
		{"vip", map[string]any{"follower_count": 50000}, "mention", "critical"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := map[string]any{
				"tweet_id": "t2",
				"user_id":  "u1",
				"username": "fan",
				"text":     "hello",
			}
			for k, v := range tt.extra {
				payload[k] = v
			}
			body := decodeBody(t, postJSON(t, ts.URL+"/webhooks/mentions", payload))
			if body["event_type"] != tt.wantType || body["priority"] != tt.wantPrio {
				t.Errorf("response = %v, want %s/%s", body, tt.wantType, tt.wantPrio)
			}
		})
	}
}

func TestMentions_RejectsIncompletePayload(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	resp := postJSON(t, ts.URL+"/webhooks/mentions", map[string]any{"text": "no ids"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMentions_RejectsMalformedJSON(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	resp, err := http.Post(ts.URL+"/webhooks/mentions", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTrends_IgnoresLowRelevance(t *testing.T) {
	_, d, ts := testServer(t, Config{})

	resp := postJSON(t, ts.URL+"/webhooks/trends", map[string]any{
		"trend_name":      "#afrobeat",
		"relevance_score": 0.2,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "ignored" {
		t.Errorf("response = %v, want ignored", body)
	}
	if d.Stats().QueueSize != 0 {
		t.Error("low-relevance trend must not queue an event")
	}
}

func TestTrends_HighRelevanceGetsHighPriority(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	body := decodeBody(t, postJSON(t, ts.URL+"/webhooks/trends", map[string]any{
		"trend_name":      "#afrobeat",
		"relevance_score": 0.9,
	}))
	if body["event_type"] != "trending" || body["priority"] != "high" {
		t.Errorf("response = %v, want trending/high", body)
	}
}

func TestMusic_QueuesRelease(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	body := decodeBody(t, postJSON(t, ts.URL+"/webhooks/music", map[string]any{
		"platform":   "spotify",
		"track_id":   "trk1",
		"track_name": "Blessings",
	}))
	if body["event_type"] != "music_release" || body["priority"] != "high" {
		t.Errorf("response = %v, want music_release/high", body)
	}
}

func TestCustom_UnknownTypeRejected(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	resp := postJSON(t, ts.URL+"/webhooks/custom", map[string]any{
		"event_type": "nonsense",
		"content":    "hello",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCustom_ExplicitTypeAndPriority(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	body := decodeBody(t, postJSON(t, ts.URL+"/webhooks/custom", map[string]any{
		"event_type": "collab",
		"priority":   "critical",
		"content":    "studio session request",
	}))
	if body["event_type"] != "collab" || body["priority"] != "critical" {
		t.Errorf("response = %v, want collab/critical", body)
	}
}

func TestSignature_EnforcedWhenSecretSet(t *testing.T) {
	_, _, ts := testServer(t, Config{Secret: "s3cret"})

	payload := []byte(`{"event_type":"webhook","content":"hi"}`)

	// Unsigned request is rejected.
	resp, err := http.Post(ts.URL+"/webhooks/custom", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("POST error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unsigned status = %d, want 401", resp.StatusCode)
	}

	// Correctly signed request is accepted.
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(payload)
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/webhooks/custom", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, "sha256="+hex.EncodeToString(mac.Sum(nil)))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("signed POST error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("signed status = %d, want 202", resp.StatusCode)
	}
}

func TestHealthAndStats(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "healthy" {
		t.Errorf("health = %v", body)
	}

	postJSON(t, ts.URL+"/webhooks/music", map[string]any{"platform": "spotify", "track_id": "t"})

	resp, err = http.Get(ts.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats: %v", err)
	}
	defer resp.Body.Close()
	body := decodeBody(t, resp)
	server := body["server"].(map[string]any)
	if server["requests_received"].(float64) < 1 {
		t.Errorf("stats = %v, want requests counted", server)
	}
	if server["events_emitted"].(float64) != 1 {
		t.Errorf("stats = %v, want 1 event emitted", server)
	}
	if _, ok := body["dispatcher"].(map[string]any); !ok {
		t.Error("stats missing dispatcher section")
	}
}

func TestRecentEvents_FilterAndValidation(t *testing.T) {
	_, d, ts := testServer(t, Config{})

	for i := 0; i < 3; i++ {
		e := event.New(event.TypeMention, event.WithContent(fmt.Sprintf("m%d", i)))
		d.Dispatch(context.Background(), e)
	}
	d.Dispatch(context.Background(), event.New(event.TypeTrending))

	resp, err := http.Get(ts.URL + "/events/recent?limit=2&type=mention")
	if err != nil {
		t.Fatalf("GET /events/recent: %v", err)
	}
	defer resp.Body.Close()
	body := decodeBody(t, resp)
	events := body["events"].([]any)
	if len(events) != 2 {
		t.Errorf("events = %d, want 2", len(events))
	}
	for _, raw := range events {
		if e := raw.(map[string]any); e["type"] != "mention" {
			t.Errorf("event type = %v, want mention", e["type"])
		}
	}

	resp, err = http.Get(ts.URL + "/events/recent?type=bogus")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus type status = %d, want 400", resp.StatusCode)
	}
}

func TestStatus_WithoutDaemon(t *testing.T) {
	_, _, ts := testServer(t, Config{})

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

// --- Lifecycle Tests ---

func TestStartStop_Lifecycle(t *testing.T) {
	d, err := event.NewDispatcher(event.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher error: %v", err)
	}
	s, err := NewServer(Config{
		Addr:       "127.0.0.1:0",
		Dispatcher: d,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := s.Start(ctx); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
	if !s.Healthy(ctx) {
		t.Error("server should be healthy after start")
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health over listener: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := s.Stop(stopCtx); err != ErrNotStarted {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
	if s.Healthy(ctx) {
		t.Error("server should be unhealthy after stop")
	}
}

func TestRestart_ServesAgain(t *testing.T) {
	d, err := event.NewDispatcher(event.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher error: %v", err)
	}
	s, err := NewServer(Config{
		Addr:       "127.0.0.1:0",
		Dispatcher: d,
		Logger:     quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer error: %v", err)
	}

	ctx := context.Background()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("first Start error: %v", err)
	}
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop error: %v", err)
	}

	// A supervisor restart must yield a server that answers requests, not
	// one that only claims health.
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second Start error: %v", err)
	}
	defer s.Stop(context.Background())

	if !s.Healthy(ctx) {
		t.Error("server should be healthy after restart")
	}
	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health after restart: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status after restart = %d, want 200", resp.StatusCode)
	}
}
