package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
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

type recorder struct {
	mu     sync.Mutex
	events []*event.Event
}

func (r *recorder) handler() event.Handler {
	return event.NewHandler("recorder", func(ctx context.Context, e *event.Event) (string, error) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
		return "ok", nil
	})
}

func (r *recorder) snapshot() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// testDispatcher returns a running dispatcher feeding all events into the
// returned recorder.
func testDispatcher(t *testing.T) (*event.Dispatcher, *recorder) {
	t.Helper()
	d, err := event.NewDispatcher(event.Config{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewDispatcher error: %v", err)
	}
	rec := &recorder{}
	d.RegisterHandlerAll(rec.handler())
	if err := d.Start(); err != nil {
		t.Fatalf("dispatcher Start error: %v", err)
	}
	t.Cleanup(func() { d.Stop() })
	return d, rec
}

// okRules is a rules endpoint that accepts everything and reports no
// existing rules.
func okRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"data":[]}`)
}

func tweetLine(id, text, authorID, username string, followers int, refs ...string) string {
	refJSON := ""
	if len(refs) > 0 {
		parts := make([]string, len(refs))
		for i, r := range refs {
			parts[i] = fmt.Sprintf(`{"type":%q,"id":"t0"}`, r)
		}
		refJSON = fmt.Sprintf(`,"referenced_tweets":[%s]`, strings.Join(parts, ","))
	}
	return fmt.Sprintf(
		`{"data":{"id":%q,"text":%q,"author_id":%q,"conversation_id":"c1"%s},`+
			`"includes":{"users":[{"id":%q,"username":%q,"name":"Display","public_metrics":{"followers_count":%d}}]},`+
			`"matching_rules":[{"tag":"mentions"}]}`,
		id, text, authorID, refJSON, authorID, username, followers,
	)
}

// --- Unit Tests ---

func TestConfig_Validate(t *testing.T) {
	d := &event.Dispatcher{}
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid", Config{BearerToken: "tok", Username: "papito", Dispatcher: d}, false},
		{"no token", Config{Username: "papito", Dispatcher: d}, true},
		{"no username", Config{BearerToken: "tok", Dispatcher: d}, true},
		{"no dispatcher", Config{BearerToken: "tok", Username: "papito"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPriorityForFollowers(t *testing.T) {
	tests := []struct {
		followers int
		want      event.Priority
	}{
		{500000, event.PriorityCritical},
		{100001, event.PriorityCritical},
		{50000, event.PriorityHigh},
		{5000, event.PriorityHigh},
		{500, event.PriorityNormal},
		{0, event.PriorityNormal},
	}

	for _, tt := range tests {
		if got := priorityForFollowers(tt.followers); got != tt.want {
			t.Errorf("priorityForFollowers(%d) = %v, want %v", tt.followers, got, tt.want)
		}
	}
}

func TestProcessLine_Classification(t *testing.T) {
	d, rec := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken: "tok",
		Username:    "papito",
		Dispatcher:  d,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	l.processLine([]byte(tweetLine("1", "@papito love it", "u1", "fan", 500)))
	l.processLine([]byte(tweetLine("2", "answering you", "u2", "bigfan", 200000, "replied_to")))
	l.processLine([]byte(tweetLine("3", "look at this", "u3", "curator", 50000, "quoted")))

	waitFor(t, func() bool { return len(rec.snapshot()) >= 4 }, "events not dispatched")

	byID := map[string]*event.Event{}
	for _, e := range rec.snapshot() {
		if e.SourceID != "" {
			byID[e.SourceID] = e
		}
	}

	if e := byID["1"]; e.Type != event.TypeMention || e.Priority != event.PriorityNormal {
		t.Errorf("tweet 1 = %v/%v, want mention/normal", e.Type, e.Priority)
	}
	if e := byID["2"]; e.Type != event.TypeReply || e.Priority != event.PriorityCritical {
		t.Errorf("tweet 2 = %v/%v, want reply/critical", e.Type, e.Priority)
	}
	if e := byID["3"]; e.Type != event.TypeQuote || e.Priority != event.PriorityHigh {
		t.Errorf("tweet 3 = %v/%v, want quote/high", e.Type, e.Priority)
	}

	e := byID["1"]
	if e.UserName != "fan" || e.Content != "@papito love it" {
		t.Errorf("tweet 1 user/content = %q/%q", e.UserName, e.Content)
	}
	if got := e.Metadata["follower_count"]; got != 500 {
		t.Errorf("follower_count = %v, want 500", got)
	}
	if got := e.Metadata["conversation_id"]; got != "c1" {
		t.Errorf("conversation_id = %v, want c1", got)
	}

	stats := l.Stats()
	if stats.TweetsReceived != 3 || stats.EventsEmitted != 3 {
		t.Errorf("stats = %d received / %d emitted, want 3/3", stats.TweetsReceived, stats.EventsEmitted)
	}
	if stats.LastTweetAt == nil {
		t.Error("LastTweetAt not set")
	}
}

func TestProcessLine_IgnoresGarbage(t *testing.T) {
	d, _ := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken: "tok",
		Username:    "papito",
		Dispatcher:  d,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	l.processLine([]byte("not json at all"))
	l.processLine([]byte(`{"errors":[{"title":"operational-disconnect"}]}`))
	l.processLine([]byte(`{"data":{}}`))

	if got := l.Stats().EventsEmitted; got != 0 {
		t.Errorf("EventsEmitted = %d, want 0", got)
	}
}

// --- Integration Tests ---

func TestSetupRules_ReplacesExisting(t *testing.T) {
	var mu sync.Mutex
	var posts []map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			fmt.Fprint(w, `{"data":[{"id":"old1"},{"id":"old2"}]}`)
			return
		}
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		mu.Lock()
		posts = append(posts, payload)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken: "tok",
		Username:    "papito",
		Dispatcher:  d,
		RulesURL:    srv.URL,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	if err := l.setupRules(context.Background()); err != nil {
		t.Fatalf("setupRules error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(posts) != 2 {
		t.Fatalf("posts = %d, want delete then add", len(posts))
	}
	del, ok := posts[0]["delete"].(map[string]any)
	if !ok {
		t.Fatalf("first post = %v, want delete payload", posts[0])
	}
	if ids := del["ids"].([]any); len(ids) != 2 {
		t.Errorf("deleted ids = %v, want old1 and old2", ids)
	}
	add, ok := posts[1]["add"].([]any)
	if !ok || len(add) != 2 {
		t.Fatalf("second post = %v, want two added rules", posts[1])
	}
	first := add[0].(map[string]any)
	if first["value"] != "@papito -is:retweet" {
		t.Errorf("mention rule = %v", first["value"])
	}
}

func TestStartStop_StreamsTweets(t *testing.T) {
	var served sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/rules", okRules)
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		first := false
		served.Do(func() { first = true })
		if !first {
			// Later connections idle until the client disconnects.
			<-r.Context().Done()
			return
		}
		f := w.(http.Flusher)
		fmt.Fprintln(w) // keep-alive
		f.Flush()
		fmt.Fprintln(w, tweetLine("9", "@papito blessings", "u9", "fan", 5))
		f.Flush()
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, rec := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken: "tok",
		Username:    "papito",
		Dispatcher:  d,
		RulesURL:    srv.URL + "/rules",
		StreamURL:   srv.URL + "/stream",
		InitBackoff: time.Millisecond,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if err := l.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}

	waitFor(t, func() bool {
		for _, e := range rec.snapshot() {
			if e.SourceID == "9" {
				return true
			}
		}
		return false
	}, "tweet never dispatched")

	if !l.Healthy(context.Background()) {
		t.Error("listener should be healthy while streaming")
	}

	if err := l.Stop(context.Background()); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
	if err := l.Stop(context.Background()); err != ErrNotStarted {
		t.Errorf("second Stop = %v, want ErrNotStarted", err)
	}
	if l.Stats().Running {
		t.Error("Stats should report stopped")
	}
}

func TestHealthy_FalseAfterReconnectsExhausted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rules", okRules)
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, _ := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken:   "tok",
		Username:      "papito",
		Dispatcher:    d,
		RulesURL:      srv.URL + "/rules",
		StreamURL:     srv.URL + "/stream",
		MaxReconnects: 2,
		InitBackoff:   time.Millisecond,
		MaxBackoff:    2 * time.Millisecond,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer l.Stop(context.Background())

	waitFor(t, func() bool { return !l.Healthy(context.Background()) },
		"listener never reported unhealthy")
	if got := l.Stats().ReconnectAttempts; got < 2 {
		t.Errorf("ReconnectAttempts = %d, want >= 2", got)
	}
}

func TestHealthy_FalseImmediatelyOnAuthFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rules", okRules)
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d, _ := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken:   "expired",
		Username:      "papito",
		Dispatcher:    d,
		RulesURL:      srv.URL + "/rules",
		StreamURL:     srv.URL + "/stream",
		MaxReconnects: 10,
		InitBackoff:   time.Millisecond,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer l.Stop(context.Background())

	waitFor(t, func() bool { return !l.Healthy(context.Background()) },
		"listener never gave up on bad credentials")
	// No backoff cycle: credentials do not heal with time.
	if got := l.Stats().ReconnectAttempts; got > 1 {
		t.Errorf("ReconnectAttempts = %d, want at most 1", got)
	}
}

func TestStart_FailsWhenRulesUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	d, _ := testDispatcher(t)
	l, err := NewListener(Config{
		BearerToken: "tok",
		Username:    "papito",
		Dispatcher:  d,
		RulesURL:    srv.URL,
		StreamURL:   srv.URL,
		Logger:      quietLogger(),
	})
	if err != nil {
		t.Fatalf("NewListener error: %v", err)
	}

	if err := l.Start(context.Background()); err == nil {
		t.Fatal("Start should fail when rules cannot be configured")
	}
	if l.Stats().Running {
		t.Error("listener must not be running after failed start")
	}
}
