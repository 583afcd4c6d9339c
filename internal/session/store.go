package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
)

const (
	blacklistPrefix   = "hookrelay:session:blacklist:"
	invalidatedPrefix = "hookrelay:session:invalidated:"
	trackPrefix       = "hookrelay:session:account:"
)

// Store revokes sessions and tokens in redis. Reads fail open: when redis is
// unreachable a token is treated as valid, so an infrastructure outage
// degrades auth freshness instead of blocking all traffic. Writes fail
// closed: a revocation that cannot be recorded is an error the caller must
// surface or retry.
type Store struct {
	rdb   *redis.Client
	br    *breaker.Breaker
	clock clock.Clock
	log   *zap.Logger
	ttl   time.Duration
}

func NewStore(rdb *redis.Client, br *breaker.Breaker, clk clock.Clock, log *zap.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		rdb:   rdb,
		br:    br,
		clock: clk,
		log:   log.Named("session"),
		ttl:   ttl,
	}
}

// hashToken keeps raw bearer tokens out of redis.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// BlacklistEntry is the stored revocation record, so operators can tell who
// revoked a token and why.
type BlacklistEntry struct {
	AccountID string    `json:"account_id"`
	Reason    string    `json:"reason"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Blacklist revokes a single token until its natural expiry window passes.
func (s *Store) Blacklist(ctx context.Context, token, accountID, reason string) error {
	key := blacklistPrefix + hashToken(token)
	entry, err := json.Marshal(BlacklistEntry{
		AccountID: accountID,
		Reason:    reason,
		RevokedAt: s.clock.Now(),
	})
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	err = s.br.Execute(ctx, func(ctx context.Context) error {
		return s.rdb.Set(ctx, key, entry, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether the token has been revoked. Unreachable
// redis reads as not revoked.
func (s *Store) IsBlacklisted(ctx context.Context, token string) bool {
	key := blacklistPrefix + hashToken(token)
	var revoked bool
	err := s.br.ExecuteWithFallback(ctx, func(ctx context.Context) error {
		n, err := s.rdb.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		revoked = n > 0
		return nil
	}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		s.log.Warn("blacklist check degraded, allowing token", zap.Error(err))
		return false
	}
	return revoked
}

// InvalidateAllSessions stamps an account-wide revocation cutoff. Sessions
// issued before the stamp are rejected by IsAccountInvalidated.
func (s *Store) InvalidateAllSessions(ctx context.Context, accountID string) error {
	key := invalidatedPrefix + accountID
	stamp := strconv.FormatInt(s.clock.Now().Unix(), 10)
	err := s.br.Execute(ctx, func(ctx context.Context) error {
		return s.rdb.Set(ctx, key, stamp, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("invalidate account sessions: %w", err)
	}
	s.log.Info("account sessions invalidated", zap.String("account_id", accountID))
	return nil
}

// IsAccountInvalidated reports whether a session issued at issuedAt predates
// an account-wide revocation. Unreachable redis reads as not invalidated.
func (s *Store) IsAccountInvalidated(ctx context.Context, accountID string, issuedAt time.Time) bool {
	key := invalidatedPrefix + accountID
	var invalidated bool
	err := s.br.ExecuteWithFallback(ctx, func(ctx context.Context) error {
		val, err := s.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return err
		}
		cutoff, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil
		}
		invalidated = issuedAt.Unix() <= cutoff
		return nil
	}, func(ctx context.Context) error {
		return nil
	})
	if err != nil {
		s.log.Warn("invalidation check degraded, allowing session", zap.Error(err))
		return false
	}
	return invalidated
}

// TrackSession remembers a live token hash for an account so operators can
// enumerate active sessions.
func (s *Store) TrackSession(ctx context.Context, accountID, token string) error {
	key := trackPrefix + accountID
	err := s.br.Execute(ctx, func(ctx context.Context) error {
		pipe := s.rdb.Pipeline()
		pipe.SAdd(ctx, key, hashToken(token))
		pipe.Expire(ctx, key, s.ttl)
		_, err := pipe.Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("track session: %w", err)
	}
	return nil
}

// AccountSessions lists tracked token hashes for an account.
func (s *Store) AccountSessions(ctx context.Context, accountID string) ([]string, error) {
	key := trackPrefix + accountID
	var hashes []string
	err := s.br.Execute(ctx, func(ctx context.Context) error {
		var err error
		hashes, err = s.rdb.SMembers(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list account sessions: %w", err)
	}
	return hashes, nil
}

// NormalizeTTLs walks session keys and re-arms any that lost their expiry,
// which can happen after a restore from an RDB snapshot taken mid-write.
func (s *Store) NormalizeTTLs(ctx context.Context) (int, error) {
	fixed := 0
	for _, pattern := range []string{blacklistPrefix + "*", invalidatedPrefix + "*", trackPrefix + "*"} {
		err := s.br.Execute(ctx, func(ctx context.Context) error {
			iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
			for iter.Next(ctx) {
				key := iter.Val()
				ttl, err := s.rdb.TTL(ctx, key).Result()
				if err != nil {
					return err
				}
				if ttl <= 0 && ttl != -2 {
					if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
						return err
					}
					fixed++
				}
			}
			return iter.Err()
		})
		if err != nil {
			return fixed, err
		}
	}
	if fixed > 0 {
		s.log.Info("re-armed session key ttls", zap.Int("count", fixed))
	}
	return fixed, nil
}
