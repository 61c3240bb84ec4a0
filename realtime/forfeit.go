package realtime

import (
	"context"
	"sync"
	"time"

	"lane-battle/logging"
	"lane-battle/models"

	"go.uber.org/zap"
)

// Finisher settles a running match from its live state.
type Finisher interface {
	FinishFromLive(ctx context.Context, matchID int64, reason models.EndReason, forced models.Winner) (bool, error)
}

// Presence is the view of connected players shared by every instance. The
// hub writes it and forfeit resolution reads it, so a player whose socket
// lives on another instance still counts as connected.
type Presence interface {
	Join(ctx context.Context, matchID, userID int64, team models.Team, sessionID string) error
	Leave(ctx context.Context, matchID, userID int64, team models.Team, sessionID string) (bool, error)
	Connected(ctx context.Context, matchID, userID int64) (bool, error)
	ConnectedTeams(ctx context.Context, matchID int64) (map[models.Team]bool, error)
}

type seatKey struct {
	matchID int64
	userID  int64
}

type pendingForfeit struct {
	team     models.Team
	deadline time.Time
}

// ForfeitTracker holds a grace timer per disconnected player. Timers are
// evaluated by Sweep, which the scheduler runs on a fixed interval.
type ForfeitTracker struct {
	Grace    time.Duration
	Now      func() time.Time
	Finisher Finisher
	Presence Presence

	mu      sync.Mutex
	pending map[seatKey]pendingForfeit
}

func NewForfeitTracker(grace time.Duration, finisher Finisher, presence Presence) *ForfeitTracker {
	return &ForfeitTracker{
		Grace:    grace,
		Now:      time.Now,
		Finisher: finisher,
		Presence: presence,
		pending:  make(map[seatKey]pendingForfeit),
	}
}

// Disconnected starts the grace timer. A second disconnect keeps the
// original deadline.
func (f *ForfeitTracker) Disconnected(matchID, userID int64, team models.Team) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := seatKey{matchID, userID}
	if _, ok := f.pending[key]; ok {
		return
	}
	f.pending[key] = pendingForfeit{team: team, deadline: f.Now().Add(f.Grace)}
}

func (f *ForfeitTracker) Connected(matchID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, seatKey{matchID, userID})
}

// Forget drops every timer of a finished match.
func (f *ForfeitTracker) Forget(matchID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key := range f.pending {
		if key.matchID == matchID {
			delete(f.pending, key)
		}
	}
}

func (f *ForfeitTracker) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// Sweep resolves every expired timer and returns how many matches it ended.
// Failed settlements stay pending and are retried on the next sweep.
func (f *ForfeitTracker) Sweep(ctx context.Context) int {
	now := f.Now()
	due := make(map[seatKey]pendingForfeit)
	f.mu.Lock()
	for key, p := range f.pending {
		if !now.Before(p.deadline) {
			due[key] = p
			delete(f.pending, key)
		}
	}
	f.mu.Unlock()

	finished := 0
	settled := make(map[int64]bool)
	for key, p := range due {
		if settled[key.matchID] {
			continue
		}
		ok, err := f.resolve(ctx, key, p)
		if err != nil {
			logging.Error("forfeit resolution failed",
				zap.Int64("match_id", key.matchID),
				zap.Int64("user_id", key.userID),
				zap.Error(err),
			)
			f.mu.Lock()
			if _, again := f.pending[key]; !again {
				f.pending[key] = p
			}
			f.mu.Unlock()
			continue
		}
		if ok {
			settled[key.matchID] = true
			finished++
		}
	}
	return finished
}

func (f *ForfeitTracker) resolve(ctx context.Context, key seatKey, p pendingForfeit) (bool, error) {
	back, err := f.Presence.Connected(ctx, key.matchID, key.userID)
	if err != nil {
		return false, err
	}
	if back {
		return false, nil
	}
	teams, err := f.Presence.ConnectedTeams(ctx, key.matchID)
	if err != nil {
		return false, err
	}
	switch {
	case len(teams) == 0:
		logging.Info("match abandoned", zap.Int64("match_id", key.matchID))
		return f.Finisher.FinishFromLive(ctx, key.matchID, models.ReasonAbandoned, models.WinnerDraw)
	case teams[p.team]:
		// a teammate is still connected
		return false, nil
	default:
		winner := models.WinnerFor(p.team.Opponent())
		logging.Info("match forfeited",
			zap.Int64("match_id", key.matchID),
			zap.Int64("user_id", key.userID),
			zap.String("winner", string(winner)),
		)
		return f.Finisher.FinishFromLive(ctx, key.matchID, models.ReasonForfeit, winner)
	}
}
