// Package ratelimit throttles per-peer and per-IP actions using Redis
// INCR + EXPIRE fixed windows. Every check fails open: a Redis outage
// degrades abuse protection, it never blocks legitimate traffic.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy: a Redis key prefix, the maximum number
// of events allowed inside the window, and the window length.
type Rule struct {
	Name   string        // label for metrics and error payloads
	Prefix string        // Redis key prefix
	Limit  int           // max events per window
	Window time.Duration // window length
}

var (
	// RuleMessage caps chat messages at 5 per 10 seconds per peer.
	RuleMessage = Rule{Name: "message", Prefix: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleSearch caps partner searches at 10 per minute per peer.
	RuleSearch = Rule{Name: "search", Prefix: "rl:search:", Limit: 10, Window: time.Minute}

	// RuleConnect caps new WebSocket connections at 5 per minute per IP.
	RuleConnect = Rule{Name: "connect", Prefix: "rl:conn:", Limit: 5, Window: time.Minute}
)

// Limiter runs rate limit checks against Redis.
type Limiter struct {
	client *redis.Client
}

// NewLimiter returns a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the counter for id under the rule and reports whether
// the event is within the limit. The window TTL is set on the first
// increment. A nil Limiter allows everything.
func (l *Limiter) Allow(ctx context.Context, id string, rule Rule) bool {
	if l == nil || l.client == nil {
		return true
	}
	key := rule.Prefix + id

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] INCR %s: %v (failing open)", key, err)
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] EXPIRE %s: %v (failing open)", key, err)
			// The counter has no TTL and would throttle the id forever.
			// Best effort: drop it.
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}

// Remaining reports how many events id has left in the current window.
// A missing key means the full limit is available.
func (l *Limiter) Remaining(ctx context.Context, id string, rule Rule) int {
	if l == nil || l.client == nil {
		return rule.Limit
	}
	key := rule.Prefix + id

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit
	}
	if err != nil {
		log.Printf("[ratelimit] GET %s: %v (failing open)", key, err)
		return rule.Limit
	}

	if rem := rule.Limit - count; rem > 0 {
		return rem
	}
	return 0
}

// Reset clears the counter for id, reopening the window immediately.
func (l *Limiter) Reset(ctx context.Context, id string, rule Rule) {
	if l == nil || l.client == nil {
		return
	}
	l.client.Del(ctx, rule.Prefix+id)
}
