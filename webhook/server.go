package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/pulsekit/daemon"
	rterrors "github.com/vinayprograms/pulsekit/errors"
	"github.com/vinayprograms/pulsekit/event"
	"github.com/vinayprograms/pulsekit/logging"
)

// Common errors.
var (
	ErrAlreadyStarted = errors.New("server already started")
	ErrNotStarted     = errors.New("server not started")
	ErrNilDispatcher  = errors.New("dispatcher is required")
)

// signatureHeader carries the HMAC-SHA256 payload signature.
const signatureHeader = "X-Hub-Signature-256"

// maxBodySize bounds webhook payloads.
const maxBodySize = 1 << 20 // 1 MiB

// Config configures a Server.
type Config struct {
	// Addr is the listen address. Default: ":8080"
	Addr string

	// Secret enables HMAC-SHA256 signature verification of webhook
	// payloads. Empty disables verification.
	Secret string

	// Dispatcher receives the emitted events. Required.
	Dispatcher *event.Dispatcher

	// Daemon backs the /status endpoint. Optional; /status returns 404
	// without it.
	Daemon *daemon.Daemon

	// Logger for server output. Defaults to a new root logger.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Dispatcher == nil {
		return ErrNilDispatcher
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults. The
// Dispatcher must still be set by the caller.
func DefaultConfig() Config {
	return Config{Addr: ":8080"}
}

// Server is the HTTP ingress: it translates inbound webhooks into
// dispatcher events and exposes health, stats and status endpoints. It
// implements the daemon Component and HealthReporter contracts.
type Server struct {
	addr       string
	secret     string
	dispatcher *event.Dispatcher
	daemon     *daemon.Daemon
	log        *logging.Logger

	handler  http.Handler
	srv      *http.Server
	listener net.Listener

	running       atomic.Bool
	startedAt     time.Time
	requests      atomic.Int64
	eventsEmitted atomic.Int64
}

// NewServer creates a server from the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultConfig().Addr
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	s := &Server{
		addr:       cfg.Addr,
		secret:     cfg.Secret,
		dispatcher: cfg.Dispatcher,
		daemon:     cfg.Daemon,
		log:        log.WithComponent("webhook"),
	}
	s.handler = s.routes()
	return s, nil
}

// Start binds the listen address and serves in the background. Bind
// errors are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Swap(true) {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.startedAt = time.Now().UTC()

	// http.Server cannot serve again after Shutdown, so each start gets a
	// fresh one. Restarts come through the daemon supervisor.
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv = srv

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server_failed", map[string]any{"error": err.Error()})
			s.running.Store(false)
		}
	}()

	s.log.Info("webhook_started", map[string]any{"addr": ln.Addr().String()})
	return nil
}

// Stop shuts the server down, waiting for in-flight requests up to the
// context deadline.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.Swap(false) {
		return ErrNotStarted
	}
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown webhook server: %w", err)
	}
	s.log.Info("webhook_stopped")
	return nil
}

// Healthy reports whether the server is accepting requests.
func (s *Server) Healthy(ctx context.Context) bool {
	return s.running.Load()
}

// Addr returns the bound listen address, useful when the configured
// address was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// routes builds the request mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks/mentions", s.handleMentions)
	mux.HandleFunc("POST /webhooks/trends", s.handleTrends)
	mux.HandleFunc("POST /webhooks/music", s.handleMusic)
	mux.HandleFunc("POST /webhooks/custom", s.handleCustom)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /events/recent", s.handleRecentEvents)
	mux.HandleFunc("GET /status", s.handleStatus)
	return mux
}

// readPayload reads the request body, verifies its signature and decodes
// it into v. It writes the error response itself and reports success.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request, v any) bool {
	s.requests.Add(1)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return false
	}

	if s.secret != "" {
		if !verifySignature(body, r.Header.Get(signatureHeader), s.secret) {
			s.log.Warn("webhook_unauthorized", map[string]any{
				"path":   r.URL.Path,
				"remote": r.RemoteAddr,
				"code":   string(rterrors.CodeWebhookUnauthorized),
			})
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return false
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		s.log.Warn("webhook_bad_payload", map[string]any{
			"path": r.URL.Path,
			"code": string(rterrors.CodeWebhookBadPayload),
		})
		writeError(w, http.StatusBadRequest, "malformed JSON")
		return false
	}
	return true
}

// verifySignature checks an HMAC-SHA256 signature in "sha256=<hex>" form
// using a constant-time compare.
func verifySignature(body []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// emit queues the event and answers with the standard accepted response.
func (s *Server) emit(w http.ResponseWriter, e *event.Event) {
	if err := s.dispatcher.Emit(e); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.eventsEmitted.Add(1)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":     "queued",
		"event_id":   e.ID,
		"event_type": e.Type.String(),
		"priority":   e.Priority.String(),
	})
}

// mentionPayload is an inbound mention, reply or quote notification.
type mentionPayload struct {
	TweetID       string         `json:"tweet_id"`
	UserID        string         `json:"user_id"`
	Username      string         `json:"username"`
	DisplayName   string         `json:"display_name"`
	Text          string         `json:"text"`
	CreatedAt     string         `json:"created_at"`
	InReplyTo     string         `json:"in_reply_to"`
	IsQuote       bool           `json:"is_quote"`
	FollowerCount int            `json:"follower_count"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *Server) handleMentions(w http.ResponseWriter, r *http.Request) {
	var p mentionPayload
	if !s.readPayload(w, r, &p) {
		return
	}
	if p.TweetID == "" || p.Username == "" {
		writeError(w, http.StatusBadRequest, "tweet_id and username are required")
		return
	}

	eventType := event.TypeMention
	if p.IsQuote {
		eventType = event.TypeQuote
	} else if p.InReplyTo != "" {
		eventType = event.TypeReply
	}

	priority := event.PriorityHigh
	if p.FollowerCount > 10000 {
		priority = event.PriorityCritical
	}

	opts := []event.Option{
		event.WithPriority(priority),
		event.WithSource("x"),
		event.WithSourceID(p.TweetID),
		event.WithUser(p.UserID, p.Username),
		event.WithContent(p.Text),
		event.WithMetadata("display_name", p.DisplayName),
		event.WithMetadata("in_reply_to", p.InReplyTo),
		event.WithMetadata("is_quote", p.IsQuote),
		event.WithMetadata("follower_count", p.FollowerCount),
		event.WithMetadata("tweet_created_at", p.CreatedAt),
	}
	for k, v := range p.Metadata {
		opts = append(opts, event.WithMetadata(k, v))
	}

	s.emit(w, event.New(eventType, opts...))
}

// trendPayload is an inbound trending-topic alert.
type trendPayload struct {
	TrendName        string  `json:"trend_name"`
	Volume           int     `json:"volume"`
	Location         string  `json:"location"`
	Category         string  `json:"category"`
	RelevanceScore   float64 `json:"relevance_score"`
	SuggestedContent string  `json:"suggested_content"`
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	var p trendPayload
	if !s.readPayload(w, r, &p) {
		return
	}
	if p.TrendName == "" {
		writeError(w, http.StatusBadRequest, "trend_name is required")
		return
	}

	// Low-relevance trends are acknowledged but never queued.
	if p.RelevanceScore < 0.5 {
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ignored",
			"reason": "relevance_score too low",
			"score":  p.RelevanceScore,
		})
		return
	}

	priority := event.PriorityNormal
	if p.RelevanceScore >= 0.8 {
		priority = event.PriorityHigh
	}

	content := p.SuggestedContent
	if content == "" {
		content = "Trending: " + p.TrendName
	}

	s.emit(w, event.New(event.TypeTrending,
		event.WithPriority(priority),
		event.WithSource("x_trends"),
		event.WithSourceID(p.TrendName),
		event.WithContent(content),
		event.WithMetadata("trend_name", p.TrendName),
		event.WithMetadata("volume", p.Volume),
		event.WithMetadata("location", p.Location),
		event.WithMetadata("category", p.Category),
		event.WithMetadata("relevance_score", p.RelevanceScore),
	))
}

// musicPayload is an inbound release notification.
type musicPayload struct {
	Platform    string `json:"platform"`
	TrackID     string `json:"track_id"`
	TrackName   string `json:"track_name"`
	ArtistName  string `json:"artist_name"`
	ReleaseType string `json:"release_type"`
	URL         string `json:"url"`
}

func (s *Server) handleMusic(w http.ResponseWriter, r *http.Request) {
	var p musicPayload
	if !s.readPayload(w, r, &p) {
		return
	}
	if p.Platform == "" || p.TrackID == "" {
		writeError(w, http.StatusBadRequest, "platform and track_id are required")
		return
	}
	if p.ReleaseType == "" {
		p.ReleaseType = "track"
	}

	s.emit(w, event.New(event.TypeMusicRelease,
		event.WithPriority(event.PriorityHigh),
		event.WithSource(p.Platform),
		event.WithSourceID(p.TrackID),
		event.WithContent(fmt.Sprintf("New %s: %s by %s", p.ReleaseType, p.TrackName, p.ArtistName)),
		event.WithMetadata("platform", p.Platform),
		event.WithMetadata("track_name", p.TrackName),
		event.WithMetadata("artist_name", p.ArtistName),
		event.WithMetadata("release_type", p.ReleaseType),
		event.WithMetadata("url", p.URL),
	))
}

// customPayload is a generic webhook with explicit type and priority.
type customPayload struct {
	EventType string         `json:"event_type"`
	Source    string         `json:"source"`
	SourceID  string         `json:"source_id"`
	UserID    string         `json:"user_id"`
	UserName  string         `json:"user_name"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
	Priority  string         `json:"priority"`
}

func (s *Server) handleCustom(w http.ResponseWriter, r *http.Request) {
	var p customPayload
	if !s.readPayload(w, r, &p) {
		return
	}

	eventType, err := event.ParseType(p.EventType)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown event_type: "+p.EventType)
		return
	}

	source := p.Source
	if source == "" {
		source = "webhook"
	}

	opts := []event.Option{
		event.WithPriority(event.ParsePriority(p.Priority)),
		event.WithSource(source),
		event.WithSourceID(p.SourceID),
		event.WithUser(p.UserID, p.UserName),
		event.WithContent(p.Content),
	}
	for k, v := range p.Metadata {
		opts = append(opts, event.WithMetadata(k, v))
	}

	s.emit(w, event.New(eventType, opts...))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"timestamp":      now.Format(time.RFC3339),
		"uptime_seconds": now.Sub(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"dispatcher": s.dispatcher.Stats(),
		"server": map[string]any{
			"uptime_seconds":    time.Since(s.startedAt).Seconds(),
			"requests_received": s.requests.Load(),
			"events_emitted":    s.eventsEmitted.Load(),
		},
	})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	var types []event.Type
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, err := event.ParseType(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unknown type: "+raw)
			return
		}
		types = append(types, t)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":           s.dispatcher.RecentEvents(limit, types...),
		"total_in_history": s.dispatcher.Stats().HistorySize,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.daemon == nil {
		writeError(w, http.StatusNotFound, "no daemon attached")
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
