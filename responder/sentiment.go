package responder

import "strings"

// Sentiment classifies the tone of an incoming message.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentQuestion Sentiment = "question"
	SentimentRequest  Sentiment = "request"
)

// String returns the sentiment name.
func (s Sentiment) String() string {
	return string(s)
}

var questionWords = []string{"who", "what", "when", "where", "why", "how"}

var requestPhrases = []string{"please", "can you", "could you", "would you", "help me"}

var positiveWords = []string{
	"love", "amazing", "great", "awesome", "fire", "🔥", "❤️", "💯",
	"beautiful", "incredible", "best", "goat", "blessed",
}

var negativeWords = []string{
	"hate", "bad", "trash", "terrible", "worst", "ugly", "boring", "mid",
}

// DetectSentiment classifies a message with keyword rules. Questions win
// over requests, requests over polarity; polarity is decided by counting
// positive versus negative markers.
func DetectSentiment(message string) Sentiment {
	lower := strings.ToLower(message)

	if strings.Contains(message, "?") || containsWord(lower, questionWords) {
		return SentimentQuestion
	}
	if containsAny(lower, requestPhrases) {
		return SentimentRequest
	}

	positive := countMatches(lower, positiveWords)
	negative := countMatches(lower, negativeWords)
	switch {
	case positive > negative:
		return SentimentPositive
	case negative > positive:
		return SentimentNegative
	default:
		return SentimentNeutral
	}
}

// sensitiveTopics lists content that is never answered automatically.
var sensitiveTopics = []string{
	"suicide", "self-harm", "violence", "illegal",
	"personal meeting", "phone number", "address",
}

// CheckSensitive reports whether a message touches a topic that must be
// routed to a human, and which one.
func CheckSensitive(message string) (bool, string) {
	lower := strings.ToLower(message)
	for _, topic := range sensitiveTopics {
		if strings.Contains(lower, topic) {
			return true, topic
		}
	}
	return false, ""
}

// containsWord reports whether any of words appears as a whole word.
func containsWord(text string, words []string) bool {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '!' || r == '?' || r == '\n'
	})
	for _, f := range fields {
		for _, w := range words {
			if f == w {
				return true
			}
		}
	}
	return false
}

// containsAny reports whether text contains any of the patterns.
func containsAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// countMatches counts how many of the patterns appear in text.
func countMatches(text string, patterns []string) int {
	n := 0
	for _, p := range patterns {
		if strings.Contains(text, p) {
			n++
		}
	}
	return n
}
