package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"lane-battle/events"
	"lane-battle/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	count := func(t *testing.T, f *fixture, model any, matchID int64) int64 {
		t.Helper()
		var n int64
		require.NoError(t, f.db.Model(model).Where("match_id = ?", matchID).Count(&n).Error)
		return n
	}

	t.Run("full ranked match", func(t *testing.T) {
		f := e.fresh(t)
		id := f.ranked(t, 1, 2)

		fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		f.inputs.Now = func() time.Time { return fixed }

		for i := 0; i < 20; i++ {
			ok, err := f.inputs.Submit(ctx, id, 1, 0, 5)
			require.NoError(t, err, "input %d", i)
			require.True(t, ok)
		}
		ok, err := f.inputs.Submit(ctx, id, 1, 0, 5)
		assert.ErrorIs(t, err, ErrRateLimitExceeded)
		assert.False(t, ok)

		for i := 0; i < 3; i++ {
			_, err := f.inputs.Submit(ctx, id, 2, 1, 2)
			require.NoError(t, err)
		}

		_, err = f.inputs.Submit(ctx, id, 2, 1, 11)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = f.inputs.Submit(ctx, id, 2, 3, 1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = f.inputs.Submit(ctx, id, 9, 0, 1)
		assert.ErrorIs(t, err, ErrNotParticipant)

		snap, err := f.live.Snapshot(ctx, id, 3)
		require.NoError(t, err)
		assert.Equal(t, []models.LaneScore{{Lane: 0, A: 100}, {Lane: 1, B: 6}, {Lane: 2}}, snap.Lanes)
		assert.Equal(t, int64(20), snap.TeamInputs[models.TeamA])
		assert.Equal(t, int64(3), snap.TeamInputs[models.TeamB])

		due, err := f.live.PopDue(ctx, time.Now().Add(time.Minute), 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{id}, due)

		settled, err := f.settle.FinishFromLive(ctx, id, models.ReasonTimeout, "")
		require.NoError(t, err)
		assert.True(t, settled)
		settled, err = f.settle.FinishFromLive(ctx, id, models.ReasonTimeout, "")
		require.NoError(t, err)
		assert.False(t, settled)

		m := f.match(t, id)
		assert.Equal(t, models.StatusFinished, m.Status)
		assert.NotNil(t, m.EndedAt)

		var result models.MatchResult
		require.NoError(t, f.db.Where("match_id = ?", id).Take(&result).Error)
		assert.Equal(t, models.WinnerA, result.Winner)
		assert.Equal(t, models.ReasonTimeout, result.EndReason)
		assert.Equal(t, map[string]int64{"A": 20, "B": 3}, result.InputTotals)

		assert.Equal(t, 1512, f.ratingOf(t, 1).Rating)
		assert.Equal(t, 1488, f.ratingOf(t, 2).Rating)
		assert.Equal(t, int64(2), count(t, f, &models.RatingHistory{}, id))

		outcomes := f.rec.finished()
		require.Len(t, outcomes, 1)
		assert.Equal(t, id, outcomes[0].MatchID)
		assert.Equal(t, map[string]int64{"A": 100, "B": 6}, outcomes[0].TeamScores)
		assert.Len(t, outcomes[0].Ratings, 2)
		assert.ElementsMatch(t, []string{events.RoomTopic(id), events.FinishedTopic}, f.rec.topicsOf(events.Finished))

		snap, err = f.live.Snapshot(ctx, id, 3)
		require.NoError(t, err)
		assert.False(t, snap.Live)

		_, err = f.inputs.Submit(ctx, id, 1, 0, 1)
		assert.ErrorIs(t, err, ErrNotRunning)

		stats, err := f.stats.PlayerStats(ctx, 1, 5)
		require.NoError(t, err)
		assert.Equal(t, 1512, stats.Rating)
		assert.Equal(t, "Silver", stats.Tier)
		assert.Equal(t, 1, stats.Wins)
		require.Len(t, stats.Recent, 1)
		assert.Equal(t, models.OutcomeWin, stats.Recent[0].Outcome)

		board, err := f.stats.Leaderboard(ctx, 10)
		require.NoError(t, err)
		require.Len(t, board, 2)
		assert.Equal(t, int64(1), board[0].UserID)
		assert.Equal(t, 2, board[1].Rank)

		// the seat is free again
		next, err := f.rooms.AutoMatch(ctx, 1, AutoMatchRequest{})
		require.NoError(t, err)
		assert.NotEqual(t, id, next.MatchID)
	})

	t.Run("inputs outside a running match", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 3, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.inputs.Submit(ctx, room.ID, 3, 0, 1)
		assert.ErrorIs(t, err, ErrNotRunning)
		_, err = f.inputs.Submit(ctx, 4242, 3, 0, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent finishes settle once", func(t *testing.T) {
		f := e.fresh(t)
		id := f.ranked(t, 1, 2)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			settled int
		)
		finish := func(reason models.EndReason, forced models.Winner) {
			defer wg.Done()
			ok, err := f.settle.FinishFromLive(ctx, id, reason, forced)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}
		for i := 0; i < 4; i++ {
			wg.Add(2)
			go finish(models.ReasonTimeout, "")
			go finish(models.ReasonForfeit, models.WinnerB)
		}
		wg.Wait()

		assert.Equal(t, 1, settled)
		assert.Equal(t, int64(1), count(t, f, &models.MatchResult{}, id))
		assert.Equal(t, int64(2), count(t, f, &models.RatingHistory{}, id))
		assert.Len(t, f.rec.finished(), 1)
	})

	t.Run("draw keeps equal ratings", func(t *testing.T) {
		f := e.fresh(t)
		id := f.ranked(t, 1, 2)

		settled, err := f.settle.FinishFromLive(ctx, id, models.ReasonTimeout, "")
		require.NoError(t, err)
		require.True(t, settled)

		r := f.ratingOf(t, 1)
		assert.Equal(t, 1500, r.Rating)
		assert.Equal(t, 1, r.Draws)
		assert.Equal(t, 1, r.Matches)
	})

	t.Run("abandoned match is not rated", func(t *testing.T) {
		f := e.fresh(t)
		id := f.ranked(t, 1, 2)

		settled, err := f.settle.FinishFromLive(ctx, id, models.ReasonAbandoned, models.WinnerDraw)
		require.NoError(t, err)
		require.True(t, settled)

		var ratings int64
		require.NoError(t, f.db.Model(&models.Rating{}).Count(&ratings).Error)
		assert.Zero(t, ratings)
		assert.Zero(t, count(t, f, &models.RatingHistory{}, id))
		assert.Equal(t, models.ReasonAbandoned, f.rec.finished()[0].Reason)
	})

	t.Run("custom match is not rated", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)
		_, err = f.rooms.SetReady(ctx, 1, room.ID, true)
		require.NoError(t, err)
		_, err = f.rooms.SetReady(ctx, 2, room.ID, true)
		require.NoError(t, err)

		settled, err := f.settle.FinishFromLive(ctx, room.ID, models.ReasonForfeit, models.WinnerA)
		require.NoError(t, err)
		require.True(t, settled)
		assert.Zero(t, count(t, f, &models.RatingHistory{}, room.ID))
	})

	t.Run("finish rejects bad input and non-running matches", func(t *testing.T) {
		f := e.fresh(t)
		_, err := f.settle.Finish(ctx, FinishRequest{MatchID: 1, Winner: "C", Reason: models.ReasonTimeout})
		assert.ErrorIs(t, err, ErrInvalidArgument)

		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		settled, err := f.settle.Finish(ctx, FinishRequest{MatchID: room.ID, Winner: models.WinnerA, Reason: models.ReasonManual})
		require.NoError(t, err)
		assert.False(t, settled)

		_, err = f.settle.FinishFromLive(ctx, 4242, models.ReasonTimeout, "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("overdue matches are finalized", func(t *testing.T) {
		f := e.fresh(t)
		id := f.ranked(t, 1, 2)

		n, err := f.settle.FinalizeOverdue(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		f.settle.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
		n, err = f.settle.FinalizeOverdue(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, models.StatusFinished, f.match(t, id).Status)
		assert.Equal(t, models.ReasonTimeout, f.rec.finished()[0].Reason)
	})
}
