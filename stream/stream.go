package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	rterrors "github.com/vinayprograms/pulsekit/errors"
	"github.com/vinayprograms/pulsekit/event"
	"github.com/vinayprograms/pulsekit/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("listener already started")
	ErrNotStarted     = errors.New("listener not started")
	ErrNoBearerToken  = errors.New("bearer token is required")
	ErrNilDispatcher  = errors.New("dispatcher is required")
)

// X API v2 endpoints.
const (
	DefaultRulesURL  = "https://api.twitter.com/2/tweets/search/stream/rules"
	DefaultStreamURL = "https://api.twitter.com/2/tweets/search/stream"
)

// Config configures a Listener.
type Config struct {
	// BearerToken authenticates against the X API. Required.
	BearerToken string

	// Username is the handle whose mentions are monitored. Required.
	Username string

	// Dispatcher receives the emitted events. Required.
	Dispatcher *event.Dispatcher

	// RulesURL and StreamURL override the X API endpoints, mainly for
	// tests.
	RulesURL  string
	StreamURL string

	// MaxReconnects caps consecutive reconnect attempts before the
	// listener gives up and reports unhealthy.
	// Default: 10
	MaxReconnects int

	// InitBackoff and MaxBackoff bound the reconnect backoff.
	// Defaults: 1 second, 60 seconds
	InitBackoff time.Duration
	MaxBackoff  time.Duration

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	// Logger for listener output. Defaults to a new root logger.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BearerToken == "" {
		return ErrNoBearerToken
	}
	if c.Dispatcher == nil {
		return ErrNilDispatcher
	}
	if c.Username == "" {
		return errors.New("username is required")
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults. Token,
// username and dispatcher must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		RulesURL:      DefaultRulesURL,
		StreamURL:     DefaultStreamURL,
		MaxReconnects: 10,
		InitBackoff:   time.Second,
		MaxBackoff:    60 * time.Second,
	}
}

// Stats is a point-in-time snapshot of listener counters.
type Stats struct {
	Running           bool       `json:"running"`
	TweetsReceived    int64      `json:"tweets_received"`
	EventsEmitted     int64      `json:"events_emitted"`
	LastTweetAt       *time.Time `json:"last_tweet_at,omitempty"`
	ReconnectAttempts int        `json:"reconnect_attempts"`
}

// Listener consumes the X filtered stream and turns matching tweets into
// dispatcher events. It implements the daemon Component and HealthReporter
// contracts: a listener that has exhausted its reconnect budget reports
// unhealthy so the supervisor restarts it.
type Listener struct {
	bearerToken   string
	username      string
	dispatcher    *event.Dispatcher
	rulesURL      string
	streamURL     string
	maxReconnects int
	initBackoff   time.Duration
	maxBackoff    time.Duration
	client        *http.Client
	log           *logging.Logger

	running   atomic.Bool
	exhausted atomic.Bool
	cancel    context.CancelFunc
	doneCh    chan struct{}

	tweetsReceived atomic.Int64
	eventsEmitted  atomic.Int64
	reconnects     atomic.Int32

	mu          sync.Mutex
	lastTweetAt *time.Time
}

// NewListener creates a listener from the given configuration.
func NewListener(cfg Config) (*Listener, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if cfg.RulesURL == "" {
		cfg.RulesURL = def.RulesURL
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = def.StreamURL
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = def.MaxReconnects
	}
	if cfg.InitBackoff == 0 {
		cfg.InitBackoff = def.InitBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	return &Listener{
		bearerToken:   cfg.BearerToken,
		username:      cfg.Username,
		dispatcher:    cfg.Dispatcher,
		rulesURL:      cfg.RulesURL,
		streamURL:     cfg.StreamURL,
		maxReconnects: cfg.MaxReconnects,
		initBackoff:   cfg.InitBackoff,
		maxBackoff:    cfg.MaxBackoff,
		client:        cfg.HTTPClient,
		log:           log.WithComponent("stream"),
	}, nil
}

// Start replaces the filter rules and begins consuming the stream in the
// background.
func (l *Listener) Start(ctx context.Context) error {
	if l.running.Swap(true) {
		return ErrAlreadyStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := l.setupRules(ctx); err != nil {
		l.running.Store(false)
		return fmt.Errorf("setup stream rules: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.doneCh = make(chan struct{})
	l.exhausted.Store(false)
	l.reconnects.Store(0)

	go l.run(runCtx)

	l.log.Info("stream_started", map[string]any{"username": l.username})
	return nil
}

// Stop disconnects the stream and waits for the consume loop to exit.
func (l *Listener) Stop(ctx context.Context) error {
	if !l.running.Swap(false) {
		return ErrNotStarted
	}
	l.cancel()
	<-l.doneCh
	l.log.Info("stream_stopped")
	return nil
}

// Healthy reports stream health: running and not out of reconnects.
func (l *Listener) Healthy(ctx context.Context) bool {
	return l.running.Load() && !l.exhausted.Load()
}

// Stats returns a snapshot of listener counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	last := l.lastTweetAt
	l.mu.Unlock()

	return Stats{
		Running:           l.running.Load(),
		TweetsReceived:    l.tweetsReceived.Load(),
		EventsEmitted:     l.eventsEmitted.Load(),
		LastTweetAt:       last,
		ReconnectAttempts: int(l.reconnects.Load()),
	}
}

// setupRules replaces any existing filter rules with the mention and
// hashtag rules for the configured username.
func (l *Listener) setupRules(ctx context.Context) error {
	existing, err := l.getRules(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		if err := l.postRules(ctx, map[string]any{
			"delete": map[string]any{"ids": existing},
		}); err != nil {
			return fmt.Errorf("delete existing rules: %w", err)
		}
	}

	rules := []map[string]string{
		{"value": fmt.Sprintf("@%s -is:retweet", l.username), "tag": "mentions"},
		{"value": fmt.Sprintf("#%s -is:retweet", l.username), "tag": "hashtags"},
	}
	if err := l.postRules(ctx, map[string]any{"add": rules}); err != nil {
		return fmt.Errorf("add rules: %w", err)
	}

	l.log.Info("stream_rules_configured", map[string]any{"rules": len(rules)})
	return nil
}

// getRules returns the IDs of currently installed filter rules.
func (l *Listener) getRules(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.rulesURL, nil)
	if err != nil {
		return nil, err
	}
	l.authorize(req)

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rules request returned %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(body.Data))
	for _, r := range body.Data {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

// postRules posts a rule add or delete payload.
func (l *Listener) postRules(ctx context.Context, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.rulesURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	l.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("rules request returned %d", resp.StatusCode)
	}
	return nil
}

// authorize sets the bearer token header.
func (l *Listener) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+l.bearerToken)
}

// run is the consume loop with exponential-backoff reconnection. It exits
// when the context is cancelled or the reconnect budget is spent.
func (l *Listener) run(ctx context.Context) {
	defer close(l.doneCh)

	backoff := l.initBackoff
	attempts := 0

	for {
		connected, err := l.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			l.log.Warn("stream_disconnected", map[string]any{
				"error": err.Error(),
				"code":  string(rterrors.CodeOf(err)),
			})
			var re rterrors.RuntimeError
			if errors.As(err, &re) && !re.Retryable() {
				l.exhausted.Store(true)
				l.log.Error("stream_gave_up", map[string]any{"error": err.Error()})
				return
			}
		}
		if connected {
			attempts = 0
			backoff = l.initBackoff
		}

		attempts++
		l.reconnects.Store(int32(attempts))
		if attempts > l.maxReconnects {
			l.exhausted.Store(true)
			l.log.Error("stream_reconnects_exhausted", map[string]any{
				"attempts": l.maxReconnects,
			})
			return
		}

		l.log.Info("stream_reconnecting", map[string]any{
			"attempt": attempts,
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// consume opens the filtered stream and processes line-delimited tweets
// until the connection ends. The connected return is true once a 200
// response was established, so the caller can reset its backoff.
func (l *Listener) consume(ctx context.Context) (connected bool, err error) {
	u, err := url.Parse(l.streamURL)
	if err != nil {
		return false, err
	}
	q := u.Query()
	q.Set("tweet.fields", "created_at,author_id,conversation_id,referenced_tweets")
	q.Set("user.fields", "username,name,public_metrics")
	q.Set("expansions", "author_id")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	l.authorize(req)

	resp, err := l.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return false, rterrors.New(rterrors.CodeStreamRateLimited, "stream rate limited")
		case http.StatusUnauthorized, http.StatusForbidden:
			// Bad credentials never recover by retrying.
			return false, rterrors.New(rterrors.CodeStreamDisconnected,
				fmt.Sprintf("stream returned %d", resp.StatusCode),
				rterrors.WithRetryable(false))
		default:
			return false, rterrors.Newf(rterrors.CodeStreamDisconnected,
				"stream returned %d", resp.StatusCode)
		}
	}

	l.log.Info("stream_connected")

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue // keep-alive
		}
		l.processLine(line)
	}
	return true, scanner.Err()
}

// tweetPayload is the filtered-stream wire format.
type tweetPayload struct {
	Data struct {
		ID               string `json:"id"`
		Text             string `json:"text"`
		AuthorID         string `json:"author_id"`
		ConversationID   string `json:"conversation_id"`
		CreatedAt        string `json:"created_at"`
		ReferencedTweets []struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"referenced_tweets"`
	} `json:"data"`
	Includes struct {
		Users []struct {
			ID            string `json:"id"`
			Username      string `json:"username"`
			Name          string `json:"name"`
			PublicMetrics struct {
				FollowersCount int `json:"followers_count"`
			} `json:"public_metrics"`
		} `json:"users"`
	} `json:"includes"`
	MatchingRules []struct {
		Tag string `json:"tag"`
	} `json:"matching_rules"`
	Errors []map[string]any `json:"errors"`
}

// processLine parses one stream line and emits the matching event.
func (l *Listener) processLine(line []byte) {
	var payload tweetPayload
	if err := json.Unmarshal(line, &payload); err != nil {
		l.log.Warn("stream_invalid_json", map[string]any{"error": err.Error()})
		return
	}
	if len(payload.Errors) > 0 {
		l.log.Error("stream_error_payload", map[string]any{"errors": len(payload.Errors)})
		return
	}
	if payload.Data.ID == "" {
		return
	}

	l.tweetsReceived.Add(1)
	now := time.Now().UTC()
	l.mu.Lock()
	l.lastTweetAt = &now
	l.mu.Unlock()

	eventType := event.TypeMention
	for _, ref := range payload.Data.ReferencedTweets {
		if ref.Type == "replied_to" {
			eventType = event.TypeReply
			break
		}
		if ref.Type == "quoted" {
			eventType = event.TypeQuote
			break
		}
	}

	authorName := "unknown"
	displayName := ""
	followers := 0
	for _, u := range payload.Includes.Users {
		if u.ID == payload.Data.AuthorID {
			authorName = u.Username
			displayName = u.Name
			followers = u.PublicMetrics.FollowersCount
			break
		}
	}

	tags := make([]string, 0, len(payload.MatchingRules))
	for _, r := range payload.MatchingRules {
		tags = append(tags, r.Tag)
	}

	e := event.New(eventType,
		event.WithPriority(priorityForFollowers(followers)),
		event.WithSource("x"),
		event.WithSourceID(payload.Data.ID),
		event.WithUser(payload.Data.AuthorID, authorName),
		event.WithContent(payload.Data.Text),
		event.WithMetadata("platform", "x"),
		event.WithMetadata("display_name", displayName),
		event.WithMetadata("follower_count", followers),
		event.WithMetadata("matching_rules", tags),
		event.WithMetadata("conversation_id", payload.Data.ConversationID),
	)
	if payload.Data.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Data.CreatedAt); err == nil {
			e.CreatedAt = ts
		}
	}

	if err := l.dispatcher.Emit(e); err != nil {
		l.log.Error("stream_emit_failed", map[string]any{"error": err.Error()})
		return
	}
	l.eventsEmitted.Add(1)
}

// priorityForFollowers maps audience size to event priority: big accounts
// jump the queue, small ones wait their turn.
func priorityForFollowers(followers int) event.Priority {
	switch {
	case followers > 100000:
		return event.PriorityCritical
	case followers > 10000:
		return event.PriorityHigh
	case followers < 1000:
		return event.PriorityNormal
	default:
		return event.PriorityHigh
	}
}
