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

func TestRoomLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	t.Run("create seats owner on team A", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{Title: "Friday Night Lanes"})
		require.NoError(t, err)

		assert.Equal(t, models.StatusWaiting, room.Status)
		assert.Equal(t, models.MatchTypeCustom, room.MatchType)
		assert.Equal(t, "LANES_3", room.Mode)
		require.NotNil(t, room.OwnerUserID)
		assert.Equal(t, int64(1), *room.OwnerUserID)
		assert.Contains(t, room.Slug, "friday-night-lanes-")
		require.Len(t, room.Participants, 1)
		assert.Equal(t, models.TeamA, room.Participants[0].Team)
		assert.Equal(t, []string{events.Joined, events.RoomCreated}, f.rec.types())
	})

	t.Run("user cannot sit in two rooms", func(t *testing.T) {
		f := e.fresh(t)
		_, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		assert.ErrorIs(t, err, ErrAlreadyInMatch)

		other, err := f.rooms.CreateCustom(ctx, 2, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 1, other.ID, nil)
		assert.ErrorIs(t, err, ErrAlreadyInMatch)
	})

	t.Run("invalid input is rejected", func(t *testing.T) {
		f := e.fresh(t)
		bad := int64(999)
		_, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{CharacterID: &bad})
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.rooms.Join(ctx, 1, 12345, nil)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = f.rooms.AutoMatch(ctx, 1, AutoMatchRequest{MatchType: "BLITZ"})
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("concurrent joins never exceed capacity", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			joined  int
			rejects int
		)
		for user := int64(2); user <= 11; user++ {
			wg.Add(1)
			go func(user int64) {
				defer wg.Done()
				_, err := f.rooms.Join(ctx, user, room.ID, nil)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					joined++
				} else if assert.ErrorIs(t, err, ErrMatchFull) {
					rejects++
				}
			}(user)
		}
		wg.Wait()

		assert.Equal(t, 1, joined)
		assert.Equal(t, 9, rejects)
		seats := f.activeSeats(t, room.ID)
		require.Len(t, seats, 2)
		assert.NotEqual(t, seats[0].Team, seats[1].Team)
	})

	t.Run("concurrent auto-match keeps every room within capacity", func(t *testing.T) {
		f := e.fresh(t)
		var wg sync.WaitGroup
		for user := int64(1); user <= 12; user++ {
			wg.Add(1)
			go func(user int64) {
				defer wg.Done()
				_, err := f.rooms.AutoMatch(ctx, user, AutoMatchRequest{MatchType: models.MatchTypeRanked})
				assert.NoError(t, err)
			}(user)
		}
		wg.Wait()

		type seatCount struct {
			MatchID int64
			N       int
		}
		var counts []seatCount
		require.NoError(t, f.db.Raw(`SELECT match_id, COUNT(*) AS n FROM battle_participants
			WHERE left_at IS NULL GROUP BY match_id`).Scan(&counts).Error)
		total := 0
		for _, c := range counts {
			assert.LessOrEqual(t, c.N, 2, "match %d", c.MatchID)
			total += c.N
			if c.N == 2 {
				assert.Equal(t, models.StatusRunning, f.match(t, c.MatchID).Status)
			}
		}
		assert.Equal(t, 12, total)

		var perUser []struct {
			UserID int64
			N      int
		}
		require.NoError(t, f.db.Raw(`SELECT user_id, COUNT(*) AS n FROM battle_participants
			WHERE left_at IS NULL GROUP BY user_id HAVING COUNT(*) > 1`).Scan(&perUser).Error)
		assert.Empty(t, perUser)
	})

	t.Run("auto-match returns the existing seat", func(t *testing.T) {
		f := e.fresh(t)
		first, err := f.rooms.AutoMatch(ctx, 1, AutoMatchRequest{})
		require.NoError(t, err)
		again, err := f.rooms.AutoMatch(ctx, 1, AutoMatchRequest{})
		require.NoError(t, err)
		assert.Equal(t, first.MatchID, again.MatchID)
		assert.False(t, again.Created)

		_, err = f.rooms.AutoMatch(ctx, 1, AutoMatchRequest{MatchType: models.MatchTypeCustom})
		assert.ErrorIs(t, err, ErrAlreadyInMatch)
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)

		require.NoError(t, f.rooms.Leave(ctx, 2, room.ID))
		require.NoError(t, f.rooms.Leave(ctx, 2, room.ID))
		require.NoError(t, f.rooms.Leave(ctx, 3, room.ID))

		assert.Len(t, f.activeSeats(t, room.ID), 1)
		assert.Equal(t, models.StatusWaiting, f.match(t, room.ID).Status)

		// a left player can come back
		back, err := f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)
		assert.Len(t, back.Participants, 2)
	})

	t.Run("owner leaving hands over, last leave cancels", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)

		require.NoError(t, f.rooms.Leave(ctx, 1, room.ID))
		m := f.match(t, room.ID)
		require.NotNil(t, m.OwnerUserID)
		assert.Equal(t, int64(2), *m.OwnerUserID)

		require.NoError(t, f.rooms.Leave(ctx, 2, room.ID))
		m = f.match(t, room.ID)
		assert.Equal(t, models.StatusCanceled, m.Status)
		assert.Nil(t, m.OwnerUserID)
		assert.NotNil(t, m.EndedAt)
		assert.Contains(t, f.rec.types(), events.Canceled)
		assert.Contains(t, f.rec.types(), events.RoomRemoved)

		_, err = f.rooms.Join(ctx, 3, room.ID, nil)
		assert.ErrorIs(t, err, ErrNotJoinable)
	})

	t.Run("owner transfer", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)

		_, err = f.rooms.TransferOwner(ctx, 2, room.ID, 1)
		assert.ErrorIs(t, err, ErrOwnerTransferNotAllowed)
		_, err = f.rooms.TransferOwner(ctx, 1, room.ID, 3)
		assert.ErrorIs(t, err, ErrNotParticipant)

		view, err := f.rooms.TransferOwner(ctx, 1, room.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(2), *view.OwnerUserID)
	})

	t.Run("ready by both starts and schedules exactly once", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)

		_, err = f.rooms.Start(ctx, 1, room.ID)
		assert.ErrorIs(t, err, ErrStartConditionNotMet)

		view, err := f.rooms.SetReady(ctx, 1, room.ID, true)
		require.NoError(t, err)
		assert.Equal(t, models.StatusWaiting, view.Status)
		view, err = f.rooms.SetReady(ctx, 2, room.ID, true)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRunning, view.Status)
		require.NotNil(t, view.EndsAt)

		// an explicit start on a running match is a silent success
		_, err = f.rooms.Start(ctx, 1, room.ID)
		require.NoError(t, err)

		due, err := f.live.DueCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), due)

		snap, err := f.live.Snapshot(ctx, room.ID, 3)
		require.NoError(t, err)
		assert.True(t, snap.Live)
		assert.WithinDuration(t, *view.EndsAt, snap.EndsAt, time.Millisecond)

		_, err = f.rooms.SetReady(ctx, 1, room.ID, false)
		assert.ErrorIs(t, err, ErrReadyNotAllowed)
		assert.ErrorIs(t, f.rooms.Leave(ctx, 1, room.ID), ErrNotLeavable)
	})

	t.Run("team change moves or swaps", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)

		view, err := f.rooms.ChangeTeam(ctx, 1, room.ID)
		require.NoError(t, err)
		assert.Equal(t, models.TeamB, view.Participants[0].Team)

		view, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)
		teams := map[int64]models.Team{}
		for _, p := range view.Participants {
			teams[p.UserID] = p.Team
		}
		assert.Equal(t, map[int64]models.Team{1: models.TeamB, 2: models.TeamA}, teams)

		view, err = f.rooms.ChangeTeam(ctx, 2, room.ID)
		require.NoError(t, err)
		for _, p := range view.Participants {
			teams[p.UserID] = p.Team
		}
		assert.Equal(t, map[int64]models.Team{1: models.TeamA, 2: models.TeamB}, teams)

		_, err = f.rooms.SetReady(ctx, 1, room.ID, true)
		require.NoError(t, err)
		_, err = f.rooms.ChangeTeam(ctx, 2, room.ID)
		assert.ErrorIs(t, err, ErrTeamChangeNotAllowed)
		_, err = f.rooms.ChangeTeam(ctx, 1, room.ID)
		assert.ErrorIs(t, err, ErrTeamChangeNotAllowed)
	})

	t.Run("character change snapshots version", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)

		var ranger models.Character
		require.NoError(t, f.db.Where("code = ?", "RANGER").Take(&ranger).Error)
		view, err := f.rooms.ChangeCharacter(ctx, 1, room.ID, ranger.ID)
		require.NoError(t, err)
		assert.Equal(t, ranger.ID, view.Participants[0].CharacterID)
		assert.Equal(t, ranger.Version, view.Participants[0].CharacterVersion)

		_, err = f.rooms.ChangeCharacter(ctx, 2, room.ID, ranger.ID)
		assert.ErrorIs(t, err, ErrNotParticipant)
	})

	t.Run("kick", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.Join(ctx, 2, room.ID, nil)
		require.NoError(t, err)

		_, err = f.rooms.Kick(ctx, 2, room.ID, 1)
		assert.ErrorIs(t, err, ErrKickNotAllowed)
		_, err = f.rooms.Kick(ctx, 1, room.ID, 1)
		assert.ErrorIs(t, err, ErrKickNotAllowed)

		view, err := f.rooms.Kick(ctx, 1, room.ID, 2)
		require.NoError(t, err)
		assert.Len(t, view.Participants, 1)
		assert.Contains(t, f.rec.types(), events.Kicked)
	})

	t.Run("reads", func(t *testing.T) {
		f := e.fresh(t)
		room, err := f.rooms.CreateCustom(ctx, 1, CreateRoomRequest{})
		require.NoError(t, err)
		_, err = f.rooms.AutoMatch(ctx, 5, AutoMatchRequest{})
		require.NoError(t, err)

		rooms, total, err := f.rooms.ListWaiting(ctx, 1, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, rooms, 1)
		assert.Equal(t, room.ID, rooms[0].ID)

		mine, err := f.rooms.MyLobby(ctx, 1)
		require.NoError(t, err)
		require.NotNil(t, mine)
		assert.Equal(t, room.ID, mine.ID)

		none, err := f.rooms.MyLobby(ctx, 99)
		require.NoError(t, err)
		assert.Nil(t, none)

		seat, err := f.rooms.SeatFor(ctx, room.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, models.TeamA, seat.Team)
		_, err = f.rooms.SeatFor(ctx, room.ID, 2)
		assert.ErrorIs(t, err, ErrNotParticipant)

		chars, err := f.rooms.Characters(ctx)
		require.NoError(t, err)
		assert.Len(t, chars, len(models.DefaultCharacters))
	})
}
