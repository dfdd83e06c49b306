// Package stream connects to the X filtered stream and feeds matching
// tweets into the event dispatcher.
//
// # Overview
//
// On start the Listener replaces the account's filter rules with a
// mention rule and a hashtag rule, then holds a long-lived streaming
// connection that delivers line-delimited JSON. Each tweet is classified
// as a mention, reply or quote, prioritised by the author's follower
// count, and emitted as an event. Blank keep-alive lines are tolerated.
//
// # Reconnection
//
// Disconnects trigger exponential-backoff reconnects. After the budget
// of consecutive failures is spent the listener stops and reports
// unhealthy, which lets the supervising daemon restart it from scratch.
package stream
