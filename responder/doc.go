// Package responder generates in-character replies to fan interactions.
//
// # Overview
//
// The responder sits behind the dispatcher as a handler for mention,
// reply and DM events. Each message is classified (question, request,
// positive, negative, neutral), screened against a sensitive-topic list,
// throttled per user, and only then sent to the configured llm.Provider
// with the persona prompt. Generated text is post-processed for the
// target platform: length caps, sentence-boundary truncation and removal
// of model artifacts.
//
// # Safety
//
// Messages touching sensitive topics are never answered automatically;
// the handler records a "queued_for_review" result so a human can pick
// them up from event history or the archive. Throttled users get a
// "rate_limited" result. Neither path counts as a handler failure.
package responder
