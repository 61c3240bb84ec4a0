package services

import (
	"context"
	"time"

	"lane-battle/events"
	"lane-battle/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AutoMatchRequest struct {
	MatchType   models.MatchType `json:"match_type"`
	Mode        string           `json:"mode"`
	CharacterID *int64           `json:"character_id"`
}

// AutoMatch seats the user in the oldest waiting room of the requested type and
// mode, or opens a new one. Rooms locked by a concurrent allocator are skipped
// rather than waited on. A room that becomes full starts immediately.
func (s *RoomService) AutoMatch(ctx context.Context, userID int64, req AutoMatchRequest) (*AutoMatchResult, error) {
	if req.MatchType == "" {
		req.MatchType = models.MatchTypeRanked
	}
	if !req.MatchType.Valid() {
		return nil, ErrInvalidArgument.WithMessage("unknown match type %q", req.MatchType)
	}
	mode, err := s.normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}

	var (
		result *AutoMatchResult
		change roomChange
	)
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		season, err := activeSeason(tx)
		if err != nil {
			return err
		}
		char, err := resolveCharacter(tx, req.CharacterID)
		if err != nil {
			return err
		}

		if cur, err := currentMembership(tx, userID); err != nil {
			return err
		} else if cur != nil {
			if cur.MatchType != req.MatchType || cur.Mode != mode {
				return ErrAlreadyInMatch
			}
			result = &AutoMatchResult{MatchID: cur.MatchID, Status: cur.Status, Team: cur.Team}
			return nil
		}

		m, err := s.claimWaitingRoom(tx, season.ID, req.MatchType, mode)
		if err != nil {
			return err
		}
		created := m == nil
		if created {
			m = s.newMatch(season.ID, req.MatchType, mode, userID)
			if err := tx.Create(m).Error; err != nil {
				return internal("create match", err)
			}
		}

		p, err := s.seat(tx, m, userID, char)
		if err != nil {
			return err
		}
		change = roomChange{matchID: m.ID, event: events.Joined, actor: userID, created: created}

		if !created {
			active, err := activeParticipants(tx, m.ID)
			if err != nil {
				return err
			}
			if len(active) >= s.Config.Capacity {
				if err := s.start(tx, m); err != nil {
					return err
				}
				change.event = events.Started
				change.started = m
			}
		}
		result = &AutoMatchResult{MatchID: m.ID, Status: m.Status, Team: p.Team, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.event != "" {
		if _, err := s.afterCommit(ctx, change); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// claimWaitingRoom locks the oldest joinable room, skipping rows other
// transactions hold. It returns nil when there is none.
func (s *RoomService) claimWaitingRoom(tx *gorm.DB, seasonID int64, matchType models.MatchType, mode string) (*models.Match, error) {
	var rooms []models.Match
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ? AND match_type = ? AND mode = ? AND season_id = ?",
			models.StatusWaiting, matchType, mode, seasonID).
		Where(`(SELECT COUNT(*) FROM battle_participants p
			WHERE p.match_id = battle_matches.id AND p.left_at IS NULL) < ?`, s.Config.Capacity).
		Order("created_at, id").
		Limit(1).
		Find(&rooms).Error
	if err != nil {
		return nil, internal("claim waiting room", err)
	}
	if len(rooms) == 0 {
		return nil, nil
	}
	return &rooms[0], nil
}

func (s *RoomService) newMatch(seasonID int64, matchType models.MatchType, mode string, userID int64) *models.Match {
	m := &models.Match{
		SeasonID:    seasonID,
		MatchType:   matchType,
		Mode:        mode,
		Status:      models.StatusWaiting,
		LaneCount:   s.Config.LaneCount,
		DurationSec: int(s.Config.Duration / time.Second),
	}
	if matchType == models.MatchTypeCustom {
		owner := userID
		m.OwnerUserID = &owner
		m.Title = defaultTitle
		m.Slug = roomSlug(defaultTitle)
	}
	return m
}
