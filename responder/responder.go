package responder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	rterrors "github.com/vinayprograms/pulsekit/errors"
	"github.com/vinayprograms/pulsekit/event"
	"github.com/vinayprograms/pulsekit/llm"
	"github.com/vinayprograms/pulsekit/logging"
	"github.com/vinayprograms/pulsekit/ratelimit"
)

// Common errors.
var (
	ErrNilProvider = errors.New("provider is required")
)

// RateLimitedResult is recorded when a per-user reply budget is spent.
const RateLimitedResult = "rate_limited"

// ReviewResultPrefix marks responses withheld for human review.
const ReviewResultPrefix = "queued_for_review"

// DefaultPersona is the artist voice used when no persona is configured.
const DefaultPersona = `You are Papito Mamito, an AI Afrobeat artist and the Lifetime Entertainment Minister of the Value Adders Empire. You speak with warmth, wisdom, and exuberance.

Your core traits:
- GRATEFUL: Always acknowledge blessings and express thankfulness
- EMPOWERING: Lift others up, affirm their worth and potential
- AUTHENTIC: Stay rooted in African culture while embracing innovation
- SPIRITUAL: View music as ministry, performances as service
- UNIFYING: Break borders with rhythm, connect through celebration

Your speaking style:
- Use affirmations and uplifting language
- Include occasional African proverbs or wisdom
- Express gratitude freely ("Blessings!", "I appreciate you!")
- Use emojis sparingly but effectively
- Keep responses warm but concise
- Never be negative, preachy, or condescending`

// maxLengths caps response length per platform.
var maxLengths = map[string]int{
	"instagram": 500,
	"x":         280,
	"tiktok":    250,
	"dm":        1000,
}

// defaultMaxLength applies to unknown platforms.
const defaultMaxLength = 500

// Context describes one fan interaction to respond to.
type Context struct {
	Message         string
	SenderName      string
	Platform        string // x, instagram, tiktok, dm
	InteractionType string // mention, reply, dm
	PostContext     string // caption of the post being commented on, if any
}

// Response is a generated reply with classification metadata.
type Response struct {
	Text      string    `json:"text"`
	Sentiment Sentiment `json:"sentiment"`
}

// Config configures a Responder.
type Config struct {
	// Provider generates the reply text. Required.
	Provider llm.Provider

	// Limiter enforces per-user reply budgets. Optional; nil disables
	// throttling.
	Limiter ratelimit.Limiter

	// Persona is the system prompt. Defaults to DefaultPersona.
	Persona string

	// MaxTokens bounds the generation. Default: 200
	MaxTokens int

	// ReplyLimit and ReplyWindow define the per-user budget, e.g. 3
	// replies per hour. Zero disables throttling.
	ReplyLimit  int
	ReplyWindow time.Duration

	// Logger for responder output. Defaults to a new root logger.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Provider == nil {
		return ErrNilProvider
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults. The
// Provider must still be set by the caller.
func DefaultConfig() Config {
	return Config{
		Persona:     DefaultPersona,
		MaxTokens:   200,
		ReplyLimit:  3,
		ReplyWindow: time.Hour,
	}
}

// Responder turns fan interactions into in-character replies: classify
// the message, screen for sensitive topics, generate with the provider
// and post-process for the platform.
type Responder struct {
	provider    llm.Provider
	limiter     ratelimit.Limiter
	persona     string
	maxTokens   int
	replyLimit  int
	replyWindow time.Duration
	log         *logging.Logger
}

// New creates a responder from the given configuration.
func New(cfg Config) (*Responder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	log := cfg.Logger
	if log == nil {
		log = logging.New()
	}

	return &Responder{
		provider:    cfg.Provider,
		limiter:     cfg.Limiter,
		persona:     cfg.Persona,
		maxTokens:   cfg.MaxTokens,
		replyLimit:  cfg.ReplyLimit,
		replyWindow: cfg.ReplyWindow,
		log:         log.WithComponent("responder"),
	}, nil
}

// Respond generates a reply for one interaction. Callers are expected to
// have screened for sensitive topics already; Handler does both.
func (r *Responder) Respond(ctx context.Context, rc Context) (*Response, error) {
	sentiment := DetectSentiment(rc.Message)

	req := llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: r.persona},
			{Role: "user", Content: r.buildPrompt(rc, sentiment)},
		},
		MaxTokens: r.maxTokens,
	}

	resp, err := r.provider.Chat(ctx, req)
	if err != nil {
		return nil, rterrors.Wrap(err, rterrors.CodeProviderFailed, "generate response")
	}

	return &Response{
		Text:      PostProcess(resp.Content, rc.Platform),
		Sentiment: sentiment,
	}, nil
}

// buildPrompt assembles the generation prompt with platform and sentiment
// guidance.
func (r *Responder) buildPrompt(rc Context, sentiment Sentiment) string {
	platformNote := map[string]string{
		"instagram": "Keep it warm and use appropriate emojis. Max 500 characters.",
		"x":         "Be concise - max 280 characters. Can include relevant hashtag.",
		"tiktok":    "Keep it short and playful. Max 250 characters.",
		"dm":        "Be personal and helpful. Can be longer if needed.",
	}[rc.Platform]
	if platformNote == "" {
		platformNote = "Keep it conversational and warm."
	}

	sentimentGuidance := map[Sentiment]string{
		SentimentPositive: "They're expressing appreciation - acknowledge and thank them!",
		SentimentNegative: "They seem unhappy - respond with empathy and positivity.",
		SentimentQuestion: "They're asking something - provide a helpful answer.",
		SentimentRequest:  "They're requesting something - be helpful and direct.",
		SentimentNeutral:  "Keep it engaging and positive.",
	}[sentiment]

	var b strings.Builder
	fmt.Fprintf(&b, "Generate a response to this %s on %s:\n\n", rc.InteractionType, rc.Platform)
	fmt.Fprintf(&b, "From: %s\n", rc.SenderName)
	fmt.Fprintf(&b, "Message: %q\n", rc.Message)
	if rc.PostContext != "" {
		fmt.Fprintf(&b, "Post context: %q\n", rc.PostContext)
	}
	fmt.Fprintf(&b, "\nGuidance:\n- %s\n- %s\n", platformNote, sentimentGuidance)
	b.WriteString("- Stay in character\n- Be authentic and warm\n- Add value with your response\n\n")
	b.WriteString("Respond directly without any preamble or explanation - just the response text.")
	return b.String()
}

var (
	preambleRe  = regexp.MustCompile(`(?i)^(As [^,\n]{1,60},?|Here's my response:?)\s*`)
	bracketedRe = regexp.MustCompile(`\[.*?\]`)
)

// PostProcess cleans generated text for a platform: strips preambles and
// bracketed artifacts, then truncates at a sentence boundary under the
// platform cap.
func PostProcess(text, platform string) string {
	text = preambleRe.ReplaceAllString(text, "")
	text = bracketedRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	maxLen := maxLengths[platform]
	if maxLen == 0 {
		maxLen = defaultMaxLength
	}

	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}

	head := string(runes[:maxLen-10])
	truncated := head
	if i := strings.LastIndex(head, "."); i > 0 {
		truncated = head[:i]
	}
	// A period very early means we cut too much; fall back to word break.
	if len([]rune(truncated)) < maxLen/2 {
		if i := strings.LastIndex(head, " "); i > 0 {
			truncated = head[:i]
		}
	}
	return strings.TrimSpace(truncated) + "..."
}

// Handler returns an event handler for mention, reply and DM events. The
// flow per event: sensitive screen, per-user throttle, generate. Provider
// errors are returned so the dispatcher records the failure.
func (r *Responder) Handler() event.Handler {
	return event.NewHandler("responder", func(ctx context.Context, e *event.Event) (string, error) {
		if ok, topic := CheckSensitive(e.Content); ok {
			r.log.Warn("response_withheld", map[string]any{
				"topic": topic,
				"user":  e.UserName,
			})
			return fmt.Sprintf("%s: contains sensitive topic: %s", ReviewResultPrefix, topic), nil
		}

		platform := platformOf(e)
		if r.limiter != nil && r.replyLimit > 0 && e.UserID != "" {
			key := fmt.Sprintf("reply.%s.%s", platform, e.UserID)
			if r.limiter.GetCapacity(key) == nil {
				r.limiter.SetCapacity(key, r.replyLimit, r.replyWindow)
			}
			if !r.limiter.TryAcquire(key) {
				r.log.Info("reply_throttled", map[string]any{
					"user":     e.UserName,
					"platform": platform,
				})
				return RateLimitedResult, nil
			}
		}

		resp, err := r.Respond(ctx, Context{
			Message:         e.Content,
			SenderName:      e.UserName,
			Platform:        platform,
			InteractionType: e.Type.String(),
		})
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}

// Attach registers the responder for the interaction event types.
func (r *Responder) Attach(d *event.Dispatcher) {
	h := r.Handler()
	d.RegisterHandler(event.TypeMention, h)
	d.RegisterHandler(event.TypeReply, h)
	d.RegisterHandler(event.TypeDM, h)
}

// platformOf resolves the platform for an event: explicit metadata first,
// then the event source, with DMs forced onto the DM budget.
func platformOf(e *event.Event) string {
	if e.Type == event.TypeDM {
		return "dm"
	}
	if p, ok := e.Metadata["platform"].(string); ok && p != "" {
		return p
	}
	if e.Source != "" {
		return e.Source
	}
	return "x"
}
