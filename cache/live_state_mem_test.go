package cache_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"lane-battle/cache"
	"lane-battle/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMemLive runs LiveState against miniredis, which can fast-forward TTLs.
func newMemLive(t *testing.T) (*cache.LiveState, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{
		Addr:            s.Addr(),
		Protocol:        2,
		DisableIdentity: true,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return cache.NewLiveState(rdb), s
}

func TestLiveStateExpiry(t *testing.T) {
	ctx := context.Background()

	t.Run("abandoned keys expire but the due entry stays", func(t *testing.T) {
		live, s := newMemLive(t)
		endsAt := time.Now().Add(30 * time.Second)
		require.NoError(t, live.StartMatch(ctx, 7, 3, endsAt, time.Minute))

		s.FastForward(2 * time.Minute)

		snap, err := live.Snapshot(ctx, 7, 3)
		require.NoError(t, err)
		assert.False(t, snap.Live)
		assert.Len(t, snap.Lanes, 3)

		outcome, err := live.ApplyInput(ctx, cache.Input{
			MatchID: 7, UserID: 1, Team: models.TeamA,
			Lane: 0, Power: 1, LaneCount: 3, Limit: 20, At: time.Now(),
		})
		require.NoError(t, err)
		assert.Equal(t, cache.InputNotLive, outcome)

		due, err := live.PopDue(ctx, endsAt, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{7}, due)
	})

	t.Run("rate counters expire after their window", func(t *testing.T) {
		live, s := newMemLive(t)
		require.NoError(t, live.StartMatch(ctx, 8, 3, time.Now().Add(30*time.Second), time.Minute))

		at := time.Unix(1_700_000_000, 0)
		in := cache.Input{
			MatchID: 8, UserID: 1, Team: models.TeamB,
			Lane: 2, Power: 3, LaneCount: 3, Limit: 2, At: at,
		}
		for i := 0; i < 2; i++ {
			outcome, err := live.ApplyInput(ctx, in)
			require.NoError(t, err)
			require.Equal(t, cache.InputAccepted, outcome)
		}
		outcome, err := live.ApplyInput(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, cache.InputRateLimited, outcome)

		var counter string
		for _, k := range s.Keys() {
			if strings.Contains(k, ":rl:") {
				counter = k
			}
		}
		require.NotEmpty(t, counter)
		assert.Equal(t, 2*time.Second, s.TTL(counter))

		s.FastForward(3 * time.Second)
		assert.False(t, s.Exists(counter))

		outcome, err = live.ApplyInput(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, cache.InputAccepted, outcome)

		snap, err := live.Snapshot(ctx, 8, 3)
		require.NoError(t, err)
		assert.Equal(t, int64(9), snap.Lanes[2].B)
		assert.Equal(t, int64(3), snap.TeamInputs[models.TeamB])
	})

	t.Run("clear drops keys and the due entry", func(t *testing.T) {
		live, _ := newMemLive(t)
		require.NoError(t, live.StartMatch(ctx, 9, 3, time.Now(), time.Minute))
		require.NoError(t, live.Clear(ctx, 9))

		snap, err := live.Snapshot(ctx, 9, 3)
		require.NoError(t, err)
		assert.False(t, snap.Live)
		n, err := live.DueCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestPresence(t *testing.T) {
	ctx := context.Background()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), Protocol: 2, DisableIdentity: true})
	t.Cleanup(func() { _ = rdb.Close() })
	presence := cache.NewPresence(rdb, time.Minute)
	live := cache.NewLiveState(rdb)

	teams, err := presence.ConnectedTeams(ctx, 7)
	require.NoError(t, err)
	assert.Empty(t, teams)

	require.NoError(t, presence.Join(ctx, 7, 10, models.TeamA, "s1"))
	require.NoError(t, presence.Join(ctx, 7, 11, models.TeamB, "s2"))
	assert.Equal(t, time.Minute, s.TTL("battle:{7}:presence"))

	teams, err = presence.ConnectedTeams(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, map[models.Team]bool{models.TeamA: true, models.TeamB: true}, teams)

	// player 10 reconnects elsewhere; the old session cannot release the seat
	require.NoError(t, presence.Join(ctx, 7, 10, models.TeamA, "s3"))
	left, err := presence.Leave(ctx, 7, 10, models.TeamA, "s1")
	require.NoError(t, err)
	assert.False(t, left)
	ok, err := presence.Connected(ctx, 7, 10)
	require.NoError(t, err)
	assert.True(t, ok)

	left, err = presence.Leave(ctx, 7, 10, models.TeamA, "s3")
	require.NoError(t, err)
	assert.True(t, left)
	ok, err = presence.Connected(ctx, 7, 10)
	require.NoError(t, err)
	assert.False(t, ok)

	teams, err = presence.ConnectedTeams(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, map[models.Team]bool{models.TeamB: true}, teams)

	require.NoError(t, live.Clear(ctx, 7))
	assert.False(t, s.Exists("battle:{7}:presence"))
}
