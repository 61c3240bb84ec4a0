package services

import (
	"errors"
	"time"

	"lane-battle/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row-level helpers shared by the room, matchmaking and settlement paths.
// All of them expect to run inside a transaction.

func lockMatch(tx *gorm.DB, matchID int64) (*models.Match, error) {
	var m models.Match
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", matchID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internal("lock match", err)
	}
	return &m, nil
}

// lockUser serializes match-entry operations of one user (create, join, auto-match)
// so the one-active-match rule cannot be raced.
func lockUser(tx *gorm.DB, userID int64) error {
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", userID).Error; err != nil {
		return internal("lock user", err)
	}
	return nil
}

func activeSeats(db *gorm.DB) *gorm.DB {
	return db.Where("left_at IS NULL").Order("joined_at, id")
}

func activeParticipants(tx *gorm.DB, matchID int64) ([]models.Participant, error) {
	var ps []models.Participant
	if err := tx.Where("match_id = ?", matchID).Scopes(activeSeats).Find(&ps).Error; err != nil {
		return nil, internal("load participants", err)
	}
	return ps, nil
}

// findParticipant returns the user's row in the match, active or not, or nil.
func findParticipant(tx *gorm.DB, matchID, userID int64) (*models.Participant, error) {
	var ps []models.Participant
	if err := tx.Where("match_id = ? AND user_id = ?", matchID, userID).Limit(1).Find(&ps).Error; err != nil {
		return nil, internal("load participant", err)
	}
	if len(ps) == 0 {
		return nil, nil
	}
	return &ps[0], nil
}

func activeParticipant(tx *gorm.DB, matchID, userID int64) (*models.Participant, error) {
	p, err := findParticipant(tx, matchID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil || !p.Active() {
		return nil, ErrNotParticipant
	}
	return p, nil
}

// flipStatus is the guarded transition: it only updates a row still in from.
func flipStatus(tx *gorm.DB, matchID int64, from, to models.MatchStatus, extra map[string]any) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.Match{}).
		Where("id = ? AND status = ?", matchID, from).
		Updates(updates)
	if res.Error != nil {
		return false, internal("update match status", res.Error)
	}
	return res.RowsAffected == 1, nil
}

type membership struct {
	MatchID   int64
	Team      models.Team
	Status    models.MatchStatus
	MatchType models.MatchType
	Mode      string
}

// currentMembership finds the user's active seat in a WAITING or RUNNING match.
func currentMembership(tx *gorm.DB, userID int64) (*membership, error) {
	var rows []membership
	err := tx.Table("battle_participants AS p").
		Select("p.match_id, p.team, m.status, m.match_type, m.mode").
		Joins("JOIN battle_matches AS m ON m.id = p.match_id").
		Where("p.user_id = ? AND p.left_at IS NULL AND m.status IN ?", userID,
			[]string{string(models.StatusWaiting), string(models.StatusRunning)}).
		Order("m.created_at DESC").
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, internal("load membership", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func activeSeason(tx *gorm.DB) (*models.Season, error) {
	var s models.Season
	err := tx.Where("active = ?", true).Order("starts_at DESC, id DESC").Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound.WithMessage("no active season")
	}
	if err != nil {
		return nil, internal("load season", err)
	}
	return &s, nil
}

// resolveCharacter loads an explicit character or falls back to the default one.
func resolveCharacter(tx *gorm.DB, id *int64) (*models.Character, error) {
	var c models.Character
	q := tx.Where("active = ?", true)
	if id != nil {
		q = q.Where("id = ?", *id)
	} else {
		q = q.Where("is_default = ?", true).Order("id")
	}
	err := q.Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if id != nil {
			return nil, ErrNotFound.WithMessage("character %d not found", *id)
		}
		return nil, ErrNotFound.WithMessage("no default character")
	}
	if err != nil {
		return nil, internal("load character", err)
	}
	return &c, nil
}

// pickTeam returns the first free team in seating order.
func pickTeam(active []models.Participant) (models.Team, bool) {
	taken := make(map[models.Team]bool, len(active))
	for _, p := range active {
		taken[p.Team] = true
	}
	for _, t := range models.Teams {
		if !taken[t] {
			return t, true
		}
	}
	return "", false
}

func countReady(ps []models.Participant) int {
	n := 0
	for i := range ps {
		if ps[i].Ready() {
			n++
		}
	}
	return n
}

func markLeft(tx *gorm.DB, p *models.Participant, now time.Time) error {
	err := tx.Model(p).Updates(map[string]any{"left_at": now, "ready_at": nil}).Error
	if err != nil {
		return internal("mark participant left", err)
	}
	p.LeftAt = &now
	p.ReadyAt = nil
	return nil
}
