package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"lane-battle/cache"
	"lane-battle/config"
	"lane-battle/database"
	"lane-battle/events"
	"lane-battle/logging"
	"lane-battle/models"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LiveReader is the read-and-clear half of the live cache used at settlement.
type LiveReader interface {
	Snapshot(ctx context.Context, matchID int64, laneCount int) (cache.Snapshot, error)
	Clear(ctx context.Context, matchID int64) error
}

// FinishNotifier is told about every match this process settles.
type FinishNotifier interface {
	MatchFinished(o Outcome)
}

// ResultArchiver stores a finished match outside the database.
type ResultArchiver interface {
	PutJSON(ctx context.Context, key string, v any) error
}

type FinishRequest struct {
	MatchID     int64
	Winner      models.Winner
	Reason      models.EndReason
	LaneScores  []models.LaneScore
	InputTotals map[string]int64
	Extra       map[string]any
}

type RatingChange struct {
	UserID int64       `json:"user_id"`
	Team   models.Team `json:"team"`
	Before int         `json:"before"`
	After  int         `json:"after"`
	Delta  int         `json:"delta"`
}

// Outcome is what the rest of the system learns about a settled match.
type Outcome struct {
	MatchID     int64              `json:"match_id"`
	SeasonID    int64              `json:"season_id"`
	MatchType   models.MatchType   `json:"match_type"`
	Winner      models.Winner      `json:"winner"`
	Reason      models.EndReason   `json:"reason"`
	LaneScores  []models.LaneScore `json:"lane_scores"`
	TeamScores  map[string]int64   `json:"team_scores"`
	InputTotals map[string]int64   `json:"input_totals"`
	Ratings     []RatingChange     `json:"ratings,omitempty"`
	FinishedAt  time.Time          `json:"finished_at"`
}

var errAlreadySettled = errors.New("match already settled")

// SettlementService finishes running matches exactly once and applies Elo.
type SettlementService struct {
	DB        *gorm.DB
	Live      LiveReader
	Events    events.Publisher
	Archive   ResultArchiver
	Notifiers []FinishNotifier
	Config    config.BattleConfig
	Now       func() time.Time
}

func NewSettlementService(db *gorm.DB, live LiveReader, pub events.Publisher, cfg config.BattleConfig) *SettlementService {
	return &SettlementService{
		DB:     db,
		Live:   live,
		Events: pub,
		Config: cfg,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *SettlementService) AddNotifier(n FinishNotifier) {
	s.Notifiers = append(s.Notifiers, n)
}

// Finish settles a running match. It returns false, without error, when the
// match was not running or another caller settled it first.
func (s *SettlementService) Finish(ctx context.Context, req FinishRequest) (bool, error) {
	if !req.Winner.Valid() || !req.Reason.Valid() {
		return false, ErrInvalidArgument.WithMessage("invalid winner %q or reason %q", req.Winner, req.Reason)
	}

	var outcome Outcome
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, req.MatchID)
		if err != nil {
			return err
		}
		if m.Status != models.StatusRunning {
			return errAlreadySettled
		}

		now := s.Now()
		ok, err := flipStatus(tx, m.ID, models.StatusRunning, models.StatusFinished, map[string]any{"ended_at": now})
		if err != nil {
			return err
		}
		if !ok {
			return errAlreadySettled
		}

		var existing int64
		if err := tx.Model(&models.MatchResult{}).Where("match_id = ?", m.ID).Count(&existing).Error; err != nil {
			return internal("check result", err)
		}
		if existing > 0 {
			return errAlreadySettled
		}

		result := &models.MatchResult{
			MatchID:     m.ID,
			Winner:      req.Winner,
			EndReason:   req.Reason,
			LaneScores:  req.LaneScores,
			InputTotals: req.InputTotals,
			Extra:       req.Extra,
		}
		if err := tx.Create(result).Error; err != nil {
			if database.IsUniqueViolation(err) {
				return errAlreadySettled
			}
			return internal("insert result", err)
		}

		a, b := models.TeamTotals(req.LaneScores)
		outcome = Outcome{
			MatchID:     m.ID,
			SeasonID:    m.SeasonID,
			MatchType:   m.MatchType,
			Winner:      req.Winner,
			Reason:      req.Reason,
			LaneScores:  req.LaneScores,
			TeamScores:  map[string]int64{string(models.TeamA): a, string(models.TeamB): b},
			InputTotals: req.InputTotals,
			FinishedAt:  now,
		}

		if m.MatchType != models.MatchTypeRanked || req.Reason == models.ReasonAbandoned {
			return nil
		}
		players, err := activeParticipants(tx, m.ID)
		if err != nil {
			return err
		}
		if !humanVersusHuman(players) {
			return nil
		}
		outcome.Ratings, err = s.settleRatings(tx, m, players, req.Winner)
		return err
	})
	if errors.Is(err, errAlreadySettled) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.afterFinish(ctx, outcome)
	return true, nil
}

// FinishFromLive reads the live snapshot once and settles from it. An empty
// forced winner means the lane totals decide.
func (s *SettlementService) FinishFromLive(ctx context.Context, matchID int64, reason models.EndReason, forced models.Winner) (bool, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).Where("id = ?", matchID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, internal("load match", err)
	}
	if m.Status != models.StatusRunning {
		return false, nil
	}

	snap, err := s.Live.Snapshot(ctx, m.ID, m.LaneCount)
	if err != nil {
		return false, internal("read live state", err)
	}
	winner := forced
	if winner == "" {
		winner = snap.Winner()
	}

	extra := map[string]any{}
	if !snap.Live {
		extra["live_state_missing"] = true
	}
	return s.Finish(ctx, FinishRequest{
		MatchID:    m.ID,
		Winner:     winner,
		Reason:     reason,
		LaneScores: snap.Lanes,
		InputTotals: map[string]int64{
			string(models.TeamA): snap.TeamInputs[models.TeamA],
			string(models.TeamB): snap.TeamInputs[models.TeamB],
		},
		Extra: extra,
	})
}

// FinalizeOverdue settles running matches whose end time passed without the
// due index firing, e.g. after a cache restart.
func (s *SettlementService) FinalizeOverdue(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.Config.OverdueSlack)
	var ids []int64
	err := s.DB.WithContext(ctx).Model(&models.Match{}).
		Where("status = ? AND started_at IS NOT NULL", models.StatusRunning).
		Where("started_at + make_interval(secs => duration_sec) < ?", cutoff).
		Order("started_at").
		Limit(s.Config.SweepBatch).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, internal("find overdue matches", err)
	}

	finished := 0
	for _, id := range ids {
		ok, err := s.FinishFromLive(ctx, id, models.ReasonTimeout, "")
		if err != nil {
			logging.Error("failed to finalize overdue match", zap.Int64("match_id", id), zap.Error(err))
			continue
		}
		if ok {
			finished++
		}
	}
	return finished, nil
}

// humanVersusHuman is true for exactly one distinct player on each team.
func humanVersusHuman(ps []models.Participant) bool {
	if len(ps) != 2 {
		return false
	}
	return ps[0].Team != ps[1].Team && ps[0].UserID != ps[1].UserID
}

// settleRatings locks both rating rows in ascending user id order, so two
// settlements sharing a player cannot deadlock.
func (s *SettlementService) settleRatings(tx *gorm.DB, m *models.Match, players []models.Participant, winner models.Winner) ([]RatingChange, error) {
	sorted := append([]models.Participant(nil), players...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	seed := make([]models.Rating, 0, len(sorted))
	for _, p := range sorted {
		seed = append(seed, models.Rating{SeasonID: m.SeasonID, UserID: p.UserID, Rating: s.Config.DefaultRating})
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return nil, internal("ensure ratings", err)
	}

	ratings := make(map[models.Team]*models.Rating, 2)
	userOf := make(map[models.Team]int64, 2)
	for _, p := range sorted {
		var r models.Rating
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("season_id = ? AND user_id = ?", m.SeasonID, p.UserID).
			Take(&r).Error
		if err != nil {
			return nil, internal("lock rating", err)
		}
		ratings[p.Team] = &r
		userOf[p.Team] = p.UserID
	}

	ra, rb := ratings[models.TeamA], ratings[models.TeamB]
	newA, newB := RatePair(ra.Rating, rb.Rating, winner.Score(models.TeamA), s.Config.EloK)
	next := map[models.Team]int{models.TeamA: newA, models.TeamB: newB}

	changes := make([]RatingChange, 0, 2)
	for _, p := range sorted {
		r := ratings[p.Team]
		after := next[p.Team]
		counter := outcomeColumn(models.OutcomeFor(winner, p.Team))
		err := tx.Model(r).Updates(map[string]any{
			"rating":  after,
			"matches": gorm.Expr("matches + 1"),
			counter:   gorm.Expr(counter + " + 1"),
		}).Error
		if err != nil {
			return nil, internal("update rating", err)
		}

		h := models.RatingHistory{
			SeasonID:   m.SeasonID,
			UserID:     p.UserID,
			MatchID:    m.ID,
			OpponentID: userOf[p.Team.Opponent()],
			Outcome:    models.OutcomeFor(winner, p.Team),
			Before:     r.Rating,
			After:      after,
			Delta:      after - r.Rating,
		}
		if err := tx.Create(&h).Error; err != nil {
			return nil, internal("append rating history", err)
		}
		changes = append(changes, RatingChange{
			UserID: p.UserID,
			Team:   p.Team,
			Before: r.Rating,
			After:  after,
			Delta:  after - r.Rating,
		})
	}
	return changes, nil
}

func outcomeColumn(outcome string) string {
	switch outcome {
	case models.OutcomeWin:
		return "wins"
	case models.OutcomeLoss:
		return "losses"
	}
	return "draws"
}

func (s *SettlementService) afterFinish(ctx context.Context, o Outcome) {
	logging.Info("match finished",
		zap.Int64("match_id", o.MatchID),
		zap.String("winner", string(o.Winner)),
		zap.String("reason", string(o.Reason)),
		zap.Int("rating_changes", len(o.Ratings)),
	)

	if s.Live != nil {
		if err := s.Live.Clear(ctx, o.MatchID); err != nil {
			logging.Warn("failed to clear live state", zap.Int64("match_id", o.MatchID), zap.Error(err))
		}
	}
	for _, n := range s.Notifiers {
		n.MatchFinished(o)
	}
	if s.Events != nil {
		ev := events.Event{Type: events.Finished, MatchID: o.MatchID, Data: o}
		s.Events.Publish(events.RoomTopic(o.MatchID), ev)
		s.Events.Publish(events.FinishedTopic, ev)
	}
	if s.Archive != nil {
		go s.archive(o)
	}
}

func (s *SettlementService) archive(o Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	key := fmt.Sprintf("results/%d/%d.json", o.SeasonID, o.MatchID)
	if err := s.Archive.PutJSON(ctx, key, o); err != nil {
		logging.Warn("failed to archive result", zap.Int64("match_id", o.MatchID), zap.Error(err))
	}
}
