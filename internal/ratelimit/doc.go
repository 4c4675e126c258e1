// Package ratelimit implements the three throttling layers of the service:
// per-connection inbound sliding windows, tiered sliding windows backed by
// Redis sorted sets (with an in-process fallback when Redis is down), and
// the outbound vendor throttle guarding third-party quote APIs.
package ratelimit
