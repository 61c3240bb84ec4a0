package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"lane-battle/cache"
	"lane-battle/config"
	"lane-battle/models"

	"gorm.io/gorm"
)

// InputApplier is the live-cache half of input handling.
type InputApplier interface {
	ApplyInput(ctx context.Context, in cache.Input) (cache.InputOutcome, error)
}

// roster is the seat map of a running match. Seats cannot change while a match
// runs, so it is safe to keep for the life of the match.
type roster struct {
	laneCount int
	teams     map[int64]models.Team
}

// InputService validates lane inputs and folds them into the live state.
type InputService struct {
	DB     *gorm.DB
	Live   InputApplier
	Config config.BattleConfig
	Now    func() time.Time

	rosters sync.Map // match id -> *roster
}

func NewInputService(db *gorm.DB, live InputApplier, cfg config.BattleConfig) *InputService {
	return &InputService{
		DB:     db,
		Live:   live,
		Config: cfg,
		Now:    time.Now,
	}
}

// Submit applies one input. It returns true when accepted; a rate-limited input
// returns false with ErrRateLimitExceeded and leaves the lanes untouched.
func (s *InputService) Submit(ctx context.Context, matchID, userID int64, lane, power int) (bool, error) {
	if power < 1 || power > s.Config.MaxPower {
		return false, ErrInvalidArgument.WithMessage("power must be between 1 and %d", s.Config.MaxPower)
	}
	if lane < 0 || lane >= s.Config.LaneCount {
		return false, ErrInvalidArgument.WithMessage("lane must be between 0 and %d", s.Config.LaneCount-1)
	}

	r, err := s.roster(ctx, matchID)
	if err != nil {
		return false, err
	}
	team, ok := r.teams[userID]
	if !ok {
		return false, ErrNotParticipant
	}
	if lane >= r.laneCount {
		return false, ErrInvalidArgument.WithMessage("lane must be between 0 and %d", r.laneCount-1)
	}

	outcome, err := s.Live.ApplyInput(ctx, cache.Input{
		MatchID:   matchID,
		UserID:    userID,
		Team:      team,
		Lane:      lane,
		Power:     power,
		LaneCount: r.laneCount,
		Limit:     s.Config.InputLimit,
		At:        s.Now(),
	})
	if err != nil {
		return false, internal("apply input", err)
	}
	switch outcome {
	case cache.InputAccepted:
		return true, nil
	case cache.InputRateLimited:
		return false, ErrRateLimitExceeded
	case cache.InputBadLane:
		return false, ErrInvalidArgument.WithMessage("lane out of range")
	default:
		// live keys are gone: the match finished or never got scheduled
		s.Forget(matchID)
		return false, ErrNotRunning
	}
}

// Forget drops the cached roster of a match.
func (s *InputService) Forget(matchID int64) {
	s.rosters.Delete(matchID)
}

func (s *InputService) roster(ctx context.Context, matchID int64) (*roster, error) {
	if v, ok := s.rosters.Load(matchID); ok {
		return v.(*roster), nil
	}

	var m models.Match
	err := s.DB.WithContext(ctx).
		Preload("Participants", activeSeats).
		Where("id = ?", matchID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internal("load match", err)
	}
	if m.Status != models.StatusRunning {
		return nil, ErrNotRunning
	}

	r := &roster{laneCount: m.LaneCount, teams: make(map[int64]models.Team, len(m.Participants))}
	for _, p := range m.Participants {
		r.teams[p.UserID] = p.Team
	}
	actual, _ := s.rosters.LoadOrStore(matchID, r)
	return actual.(*roster), nil
}

// MatchFinished releases the roster once settlement completes.
func (s *InputService) MatchFinished(o Outcome) {
	s.Forget(o.MatchID)
}
