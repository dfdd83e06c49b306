// Package webhook is the HTTP ingress for external triggers.
//
// # Overview
//
// The server accepts webhook notifications (mentions, trend alerts,
// music releases, generic custom payloads) and translates them into
// dispatcher events. It also exposes read-only operational endpoints:
// /health, /stats, /events/recent and /status when a daemon is attached.
//
// # Authentication
//
// When a secret is configured, every webhook POST must carry an
// HMAC-SHA256 signature of the raw body in the X-Hub-Signature-256
// header ("sha256=<hex>"). Signatures are compared in constant time and
// mismatches get a 401.
package webhook
