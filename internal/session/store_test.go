package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/hookrelay/internal/breaker"
	"github.com/smallbiznis/hookrelay/internal/clock"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *clock.FakeClock) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	br := breaker.New(breaker.Settings{Name: "redis", FailureThreshold: 5, ResetTimeout: 10 * time.Second}, clk, zap.NewNop())
	return NewStore(rdb, br, clk, zap.NewNop(), 24*time.Hour), mr, clk
}

func TestBlacklistRoundTrip(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	assert.False(t, s.IsBlacklisted(ctx, "tok_1"))
	require.NoError(t, s.Blacklist(ctx, "tok_1", "acc_1", "account_suspended"))
	assert.True(t, s.IsBlacklisted(ctx, "tok_1"))
	assert.False(t, s.IsBlacklisted(ctx, "tok_2"))

	// Raw tokens never appear as keys.
	for _, key := range mr.Keys() {
		assert.NotContains(t, key, "tok_1")
	}

	// The stored record attributes the revocation.
	stored, err := mr.Get(blacklistPrefix + hashToken("tok_1"))
	require.NoError(t, err)
	var entry BlacklistEntry
	require.NoError(t, json.Unmarshal([]byte(stored), &entry))
	assert.Equal(t, "acc_1", entry.AccountID)
	assert.Equal(t, "account_suspended", entry.Reason)

	// Revocations age out with the session TTL.
	mr.FastForward(25 * time.Hour)
	assert.False(t, s.IsBlacklisted(ctx, "tok_1"))
}

func TestInvalidateAllSessionsCutoff(t *testing.T) {
	s, _, clk := newTestStore(t)
	ctx := context.Background()

	issuedBefore := clk.Now().Add(-time.Hour)
	require.NoError(t, s.InvalidateAllSessions(ctx, "acc_1"))
	issuedAfter := clk.Now().Add(time.Minute)

	assert.True(t, s.IsAccountInvalidated(ctx, "acc_1", issuedBefore))
	assert.False(t, s.IsAccountInvalidated(ctx, "acc_1", issuedAfter))
	assert.False(t, s.IsAccountInvalidated(ctx, "acc_2", issuedBefore))
}

func TestReadsFailOpenWritesFailClosed(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Blacklist(ctx, "tok_1", "acc_1", "account_suspended"))
	mr.Close()

	// Reads degrade to allow.
	assert.False(t, s.IsBlacklisted(ctx, "tok_1"))
	assert.False(t, s.IsAccountInvalidated(ctx, "acc_1", time.Now()))

	// Writes surface the failure.
	assert.Error(t, s.Blacklist(ctx, "tok_2", "acc_1", "account_suspended"))
	assert.Error(t, s.InvalidateAllSessions(ctx, "acc_1"))
	assert.Error(t, s.TrackSession(ctx, "acc_1", "tok_3"))
}

func TestReadsFailOpenWhileBreakerOpen(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Blacklist(ctx, "tok_1", "acc_1", "account_suspended"))
	mr.Close()
	for i := 0; i < 5; i++ {
		_ = s.Blacklist(ctx, "tok_x", "acc_1", "manual_revoke")
	}

	// Breaker is open now; the fallback answers without touching redis.
	assert.False(t, s.IsBlacklisted(ctx, "tok_1"))
}

func TestTrackAndListSessions(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.TrackSession(ctx, "acc_1", "tok_1"))
	require.NoError(t, s.TrackSession(ctx, "acc_1", "tok_2"))
	require.NoError(t, s.TrackSession(ctx, "acc_1", "tok_1"))

	hashes, err := s.AccountSessions(ctx, "acc_1")
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Contains(t, hashes, hashToken("tok_1"))
}

func TestNormalizeTTLs(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Blacklist(ctx, "tok_1", "acc_1", "account_suspended"))
	// Keys that lost their expiry read back with no TTL at all.
	require.NoError(t, mr.Set(blacklistPrefix+hashToken("tok_2"), "1"))
	require.NoError(t, mr.Set(invalidatedPrefix+"acc_1", "1777000000"))

	fixed, err := s.NormalizeTTLs(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, fixed)

	fixed, err = s.NormalizeTTLs(ctx)
	require.NoError(t, err)
	assert.Zero(t, fixed)
}
