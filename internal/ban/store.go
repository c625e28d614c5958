// Package ban keeps fingerprint bans in Redis. A ban is a plain key
// holding the reason with a TTL equal to the ban duration, so expiry
// needs no sweeper:
//
//	ban:<fingerprint>      -> <reason>      (TTL = ban length)
//	offenses:<fingerprint> -> <count>       (TTL = 24h counting window)
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for active bans.
	BanPrefix = "ban:"

	// OffensePrefix is the Redis key prefix for the rolling offense counter.
	OffensePrefix = "offenses:"

	// Escalating ban durations by offense count.
	BanFirst  = 15 * time.Minute
	BanSecond = time.Hour
	BanRepeat = 24 * time.Hour

	// OffenseWindow is how long the offense counter lives. A fingerprint
	// with no new offenses for this long starts over at zero.
	OffenseWindow = 24 * time.Hour

	// AutoBanThreshold is the number of reports inside OffenseWindow that
	// triggers an automatic ban.
	AutoBanThreshold = 3
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore returns a ban store using the given Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned reports whether a fingerprint is currently banned, with the
// remaining seconds and the stored reason. Redis errors are returned so
// the caller chooses the policy; the connection hub fails open.
func (s *Store) IsBanned(ctx context.Context, fingerprint string) (bool, int, string, error) {
	key := BanPrefix + fingerprint

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	// The ban exists even if the TTL read fails. Report 0 remaining
	// rather than dropping the ban.
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		return true, 0, reason, nil
	}
	return true, int(ttl.Seconds()), reason, nil
}

// Ban bans a fingerprint for the given duration. The record expires on
// its own.
func (s *Store) Ban(ctx context.Context, fingerprint string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BanPrefix+fingerprint, reason, duration).Err()
}

// Unban lifts a ban immediately.
func (s *Store) Unban(ctx context.Context, fingerprint string) error {
	return s.client.Del(ctx, BanPrefix+fingerprint).Err()
}

// escalationDuration maps an offense count to a ban length.
func escalationDuration(offenses int) time.Duration {
	switch {
	case offenses <= 1:
		return BanFirst
	case offenses == 2:
		return BanSecond
	default:
		return BanRepeat
	}
}

// OffenseCount returns the current offense counter for a fingerprint,
// or 0 when none is recorded (or the window expired).
func (s *Store) OffenseCount(ctx context.Context, fingerprint string) (int, error) {
	val, err := s.client.Get(ctx, OffensePrefix+fingerprint).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// bumpOffenses increments the offense counter and sets the window TTL on
// the first increment only, so the window doesn't slide.
func (s *Store) bumpOffenses(ctx context.Context, fingerprint string) (int, error) {
	key := OffensePrefix + fingerprint
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ban: offense incr: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, OffenseWindow).Err(); err != nil {
			return 0, fmt.Errorf("ban: offense expire: %w", err)
		}
	}
	return int(count), nil
}

// Escalate records one offense and applies a ban whose duration grows
// with the offense count: 15 minutes, then 1 hour, then 24 hours for
// every further offense. Returns the duration applied.
func (s *Store) Escalate(ctx context.Context, fingerprint string, reason string) (time.Duration, error) {
	count, err := s.bumpOffenses(ctx, fingerprint)
	if err != nil {
		return 0, err
	}
	duration := escalationDuration(count)
	if err := s.Ban(ctx, fingerprint, duration, reason); err != nil {
		return 0, fmt.Errorf("ban: escalate: %w", err)
	}
	return duration, nil
}

// ReportAndCheck records one abuse report against a fingerprint and
// applies an automatic ban once AutoBanThreshold reports accumulate
// inside the window. Returns whether a ban was applied and its duration.
func (s *Store) ReportAndCheck(ctx context.Context, fingerprint string) (bool, time.Duration, error) {
	count, err := s.bumpOffenses(ctx, fingerprint)
	if err != nil {
		return false, 0, err
	}
	if count < AutoBanThreshold {
		return false, 0, nil
	}

	duration := escalationDuration(count)
	if err := s.Ban(ctx, fingerprint, duration, "multiple_reports"); err != nil {
		return false, 0, fmt.Errorf("ban: auto-ban: %w", err)
	}
	return true, duration, nil
}
