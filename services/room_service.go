package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"lane-battle/config"
	"lane-battle/events"
	"lane-battle/logging"
	"lane-battle/models"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	maxTitleLen  = 64
	maxModeLen   = 32
	defaultTitle = "Custom room"
)

// LiveScheduler is the part of the live cache the lifecycle needs.
type LiveScheduler interface {
	StartMatch(ctx context.Context, matchID int64, laneCount int, endsAt time.Time, ttl time.Duration) error
}

// RoomService owns the match lifecycle: rooms, seats, readiness and start.
// Every mutation locks the match row, so operations on one match are serialized.
type RoomService struct {
	DB     *gorm.DB
	Live   LiveScheduler
	Events events.Publisher
	Config config.BattleConfig
	Now    func() time.Time
}

func NewRoomService(db *gorm.DB, live LiveScheduler, pub events.Publisher, cfg config.BattleConfig) *RoomService {
	return &RoomService{
		DB:     db,
		Live:   live,
		Events: pub,
		Config: cfg,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

// roomChange describes a committed mutation for after-commit side effects.
type roomChange struct {
	matchID int64
	event   string
	actor   int64
	target  int64
	created bool
	started *models.Match
}

type CreateRoomRequest struct {
	Mode        string `json:"mode"`
	Title       string `json:"title"`
	CharacterID *int64 `json:"character_id"`
}

// CreateCustom opens a WAITING custom room owned by userID, seated on team A.
func (s *RoomService) CreateCustom(ctx context.Context, userID int64, req CreateRoomRequest) (*RoomView, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = defaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLen {
		return nil, ErrInvalidArgument.WithMessage("title must be at most %d characters", maxTitleLen)
	}
	mode, err := s.normalizeMode(req.Mode)
	if err != nil {
		return nil, err
	}

	var change roomChange
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		if cur, err := currentMembership(tx, userID); err != nil {
			return err
		} else if cur != nil {
			return ErrAlreadyInMatch
		}
		season, err := activeSeason(tx)
		if err != nil {
			return err
		}
		char, err := resolveCharacter(tx, req.CharacterID)
		if err != nil {
			return err
		}

		owner := userID
		m := &models.Match{
			SeasonID:    season.ID,
			MatchType:   models.MatchTypeCustom,
			Mode:        mode,
			Status:      models.StatusWaiting,
			LaneCount:   s.Config.LaneCount,
			DurationSec: int(s.Config.Duration / time.Second),
			OwnerUserID: &owner,
			Title:       title,
			Slug:        roomSlug(title),
		}
		if err := tx.Create(m).Error; err != nil {
			return internal("create room", err)
		}
		if _, err := s.seat(tx, m, userID, char); err != nil {
			return err
		}
		change = roomChange{matchID: m.ID, event: events.Joined, actor: userID, created: true}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterCommit(ctx, change)
}

// Join seats userID in a waiting room. Joining a room the user is already in is a no-op.
func (s *RoomService) Join(ctx context.Context, userID, matchID int64, characterID *int64) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUser(tx, userID); err != nil {
			return err
		}
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if p, err := findParticipant(tx, matchID, userID); err != nil {
			return err
		} else if p != nil && p.Active() {
			return nil
		}
		if m.Status != models.StatusWaiting {
			return ErrNotJoinable
		}
		if cur, err := currentMembership(tx, userID); err != nil {
			return err
		} else if cur != nil {
			return ErrAlreadyInMatch
		}
		char, err := resolveCharacter(tx, characterID)
		if err != nil {
			return err
		}
		if _, err := s.seat(tx, m, userID, char); err != nil {
			return err
		}
		change = roomChange{matchID: matchID, event: events.Joined, actor: userID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.event == "" {
		return s.GetRoom(ctx, matchID)
	}
	return s.afterCommit(ctx, change)
}

// Leave frees the user's seat in a waiting room. An empty room is canceled;
// a departing owner hands the room to the earliest remaining participant.
func (s *RoomService) Leave(ctx context.Context, userID, matchID int64) error {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		p, err := findParticipant(tx, matchID, userID)
		if err != nil {
			return err
		}
		if p == nil || !p.Active() {
			return nil
		}
		if m.Status != models.StatusWaiting {
			return ErrNotLeavable
		}

		now := s.Now()
		if err := markLeft(tx, p, now); err != nil {
			return err
		}
		change = roomChange{matchID: matchID, event: events.Left, actor: userID}

		remaining, err := activeParticipants(tx, matchID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return s.cancel(tx, m, now, &change)
		}
		if m.IsOwner(userID) {
			next := remaining[0].UserID
			if err := tx.Model(m).Update("owner_user_id", next).Error; err != nil {
				return internal("transfer owner", err)
			}
			change.target = next
		}
		return nil
	})
	if err != nil || change.event == "" {
		return err
	}
	_, err = s.afterCommit(ctx, change)
	return err
}

func (s *RoomService) cancel(tx *gorm.DB, m *models.Match, now time.Time, change *roomChange) error {
	ok, err := flipStatus(tx, m.ID, models.StatusWaiting, models.StatusCanceled, map[string]any{
		"ended_at":      now,
		"owner_user_id": nil,
	})
	if err != nil {
		return err
	}
	if ok {
		change.event = events.Canceled
	}
	return nil
}

// SetReady toggles readiness. A full room where everyone is ready starts immediately.
func (s *RoomService) SetReady(ctx context.Context, userID, matchID int64, ready bool) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.StatusWaiting {
			return ErrReadyNotAllowed
		}
		p, err := activeParticipant(tx, matchID, userID)
		if err != nil {
			return err
		}

		var readyAt any
		if ready {
			readyAt = s.Now()
		}
		if err := tx.Model(p).Update("ready_at", readyAt).Error; err != nil {
			return internal("update ready", err)
		}
		change = roomChange{matchID: matchID, event: events.ReadyChanged, actor: userID}

		if !ready {
			return nil
		}
		active, err := activeParticipants(tx, matchID)
		if err != nil {
			return err
		}
		if len(active) == s.Config.Capacity && countReady(active) == s.Config.Capacity {
			if err := s.start(tx, m); err != nil {
				return err
			}
			change.event = events.Started
			change.started = m
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterCommit(ctx, change)
}

// Start is the owner's explicit start. Starting a running match is a silent success.
func (s *RoomService) Start(ctx context.Context, userID, matchID int64) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsOwner(userID) {
			return ErrStartNotAllowed
		}
		switch m.Status {
		case models.StatusRunning:
			return nil
		case models.StatusWaiting:
		default:
			return ErrStartNotAllowed
		}
		active, err := activeParticipants(tx, matchID)
		if err != nil {
			return err
		}
		if len(active) != s.Config.Capacity || countReady(active) != s.Config.Capacity {
			return ErrStartConditionNotMet
		}
		if err := s.start(tx, m); err != nil {
			return err
		}
		change = roomChange{matchID: matchID, event: events.Started, actor: userID, started: m}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.event == "" {
		return s.GetRoom(ctx, matchID)
	}
	return s.afterCommit(ctx, change)
}

// ChangeCharacter swaps the user's character and snapshots its current version.
func (s *RoomService) ChangeCharacter(ctx context.Context, userID, matchID, characterID int64) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.StatusWaiting {
			return ErrCharacterChangeNotAllowed
		}
		p, err := activeParticipant(tx, matchID, userID)
		if err != nil {
			return err
		}
		char, err := resolveCharacter(tx, &characterID)
		if err != nil {
			return err
		}
		err = tx.Model(p).Updates(map[string]any{
			"character_id":      char.ID,
			"character_version": char.Version,
		}).Error
		if err != nil {
			return internal("update character", err)
		}
		change = roomChange{matchID: matchID, event: events.CharacterChanged, actor: userID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterCommit(ctx, change)
}

// ChangeTeam moves the user to the other team, or swaps both players when it is taken.
// Nobody in the room may be ready.
func (s *RoomService) ChangeTeam(ctx context.Context, userID, matchID int64) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != models.StatusWaiting {
			return ErrTeamChangeNotAllowed
		}
		p, err := activeParticipant(tx, matchID, userID)
		if err != nil {
			return err
		}
		if p.Ready() {
			return ErrTeamChangeNotAllowed.WithMessage("unready before changing team")
		}

		active, err := activeParticipants(tx, matchID)
		if err != nil {
			return err
		}
		target := p.Team.Opponent()
		occupied := false
		for _, other := range active {
			if other.Team == target {
				occupied = true
				break
			}
		}

		if !occupied {
			if err := tx.Model(p).Update("team", target).Error; err != nil {
				return internal("update team", err)
			}
		} else {
			swapped, err := swapTeams(tx, matchID)
			if err != nil {
				return err
			}
			if swapped == 0 {
				return ErrTeamChangeNotAllowed.WithMessage("both players must be unready to swap")
			}
		}
		change = roomChange{matchID: matchID, event: events.TeamChanged, actor: userID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterCommit(ctx, change)
}

// swapTeams exchanges A and B for every active seat in one statement.
// It touches nothing if anyone in the room is ready.
func swapTeams(tx *gorm.DB, matchID int64) (int64, error) {
	res := tx.Exec(`
		UPDATE battle_participants
		SET team = CASE team WHEN 'A' THEN 'B' ELSE 'A' END, updated_at = NOW()
		WHERE match_id = ? AND left_at IS NULL AND ready_at IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM battle_participants r
			WHERE r.match_id = ? AND r.left_at IS NULL AND r.ready_at IS NOT NULL
		)`, matchID, matchID)
	if res.Error != nil {
		return 0, internal("swap teams", res.Error)
	}
	return res.RowsAffected, nil
}

// Kick removes another participant. Owner only, waiting rooms only.
func (s *RoomService) Kick(ctx context.Context, ownerID, matchID, targetID int64) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsOwner(ownerID) {
			return ErrKickNotAllowed.WithMessage("only the owner can kick")
		}
		if m.Status != models.StatusWaiting {
			return ErrKickNotAllowed.WithMessage("players can only be kicked while waiting")
		}
		if targetID == ownerID {
			return ErrKickNotAllowed.WithMessage("owner cannot kick themselves")
		}
		p, err := activeParticipant(tx, matchID, targetID)
		if err != nil {
			return err
		}
		if err := markLeft(tx, p, s.Now()); err != nil {
			return err
		}
		change = roomChange{matchID: matchID, event: events.Kicked, actor: ownerID, target: targetID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.afterCommit(ctx, change)
}

// TransferOwner hands a waiting room to another active participant.
func (s *RoomService) TransferOwner(ctx context.Context, ownerID, matchID, targetID int64) (*RoomView, error) {
	var change roomChange
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := lockMatch(tx, matchID)
		if err != nil {
			return err
		}
		if !m.IsOwner(ownerID) {
			return ErrOwnerTransferNotAllowed.WithMessage("only the owner can transfer ownership")
		}
		if m.Status != models.StatusWaiting {
			return ErrOwnerTransferNotAllowed.WithMessage("ownership can only change while waiting")
		}
		if targetID == ownerID {
			return nil
		}
		if _, err := activeParticipant(tx, matchID, targetID); err != nil {
			return err
		}
		if err := tx.Model(m).Update("owner_user_id", targetID).Error; err != nil {
			return internal("transfer owner", err)
		}
		change = roomChange{matchID: matchID, event: events.OwnerChanged, actor: ownerID, target: targetID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if change.event == "" {
		return s.GetRoom(ctx, matchID)
	}
	return s.afterCommit(ctx, change)
}

// seat assigns the first free team and creates or reactivates the user's row.
func (s *RoomService) seat(tx *gorm.DB, m *models.Match, userID int64, char *models.Character) (*models.Participant, error) {
	active, err := activeParticipants(tx, m.ID)
	if err != nil {
		return nil, err
	}
	if len(active) >= s.Config.Capacity {
		return nil, ErrMatchFull
	}
	team, ok := pickTeam(active)
	if !ok {
		return nil, ErrMatchFull
	}

	now := s.Now()
	existing, err := findParticipant(tx, m.ID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		err := tx.Model(existing).Updates(map[string]any{
			"team":              team,
			"character_id":      char.ID,
			"character_version": char.Version,
			"joined_at":         now,
			"left_at":           nil,
			"ready_at":          nil,
		}).Error
		if err != nil {
			return nil, internal("rejoin", err)
		}
		existing.Team, existing.JoinedAt, existing.LeftAt, existing.ReadyAt = team, now, nil, nil
		return existing, nil
	}

	p := &models.Participant{
		MatchID:          m.ID,
		UserID:           userID,
		Team:             team,
		CharacterID:      char.ID,
		CharacterVersion: char.Version,
		JoinedAt:         now,
	}
	if err := tx.Create(p).Error; err != nil {
		return nil, internal("join", err)
	}
	return p, nil
}

// start flips WAITING to RUNNING. The caller holds the match lock.
func (s *RoomService) start(tx *gorm.DB, m *models.Match) error {
	now := s.Now()
	ok, err := flipStatus(tx, m.ID, models.StatusWaiting, models.StatusRunning, map[string]any{"started_at": now})
	if err != nil {
		return err
	}
	if !ok {
		return internal("start match", errors.New("status changed under lock"))
	}
	m.Status = models.StatusRunning
	m.StartedAt = &now
	return nil
}

// afterCommit schedules the live state of a started match and publishes events.
func (s *RoomService) afterCommit(ctx context.Context, change roomChange) (*RoomView, error) {
	if change.started != nil {
		s.scheduleLive(ctx, change.started)
	}
	view, err := s.GetRoom(ctx, change.matchID)
	if err != nil {
		return nil, err
	}
	s.publish(view, change)
	return view, nil
}

// scheduleLive failures are logged only; the overdue reconciler settles such matches.
func (s *RoomService) scheduleLive(ctx context.Context, m *models.Match) {
	endsAt := m.EndsAt()
	if endsAt == nil || s.Live == nil {
		return
	}
	if err := s.Live.StartMatch(ctx, m.ID, m.LaneCount, *endsAt, s.Config.KeySafetyTTL); err != nil {
		logging.Error("failed to schedule live match",
			zap.Int64("match_id", m.ID),
			zap.Time("ends_at", *endsAt),
			zap.Error(err),
		)
		return
	}
	logging.Info("match started",
		zap.Int64("match_id", m.ID),
		zap.String("mode", m.Mode),
		zap.Time("ends_at", *endsAt),
	)
}

func (s *RoomService) publish(view *RoomView, change roomChange) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(events.RoomTopic(view.ID), events.Event{
		Type:     change.event,
		MatchID:  view.ID,
		UserID:   change.actor,
		TargetID: change.target,
		Data:     view,
	})
	if view.MatchType != models.MatchTypeCustom {
		return
	}
	s.Events.Publish(events.LobbyTopic, events.Event{
		Type:    lobbyEventType(view, change.created),
		MatchID: view.ID,
		Data:    view,
	})
}

func lobbyEventType(view *RoomView, created bool) string {
	switch {
	case created:
		return events.RoomCreated
	case view.Status != models.StatusWaiting:
		return events.RoomRemoved
	case view.Full():
		return events.RoomFilled
	}
	return events.RoomUpdated
}

func (s *RoomService) normalizeMode(m string) (string, error) {
	m = strings.ToUpper(strings.TrimSpace(m))
	if m == "" {
		return s.Config.DefaultMode, nil
	}
	if len(m) > maxModeLen {
		return "", ErrInvalidArgument.WithMessage("mode must be at most %d characters", maxModeLen)
	}
	return m, nil
}

func roomSlug(title string) string {
	base := slug.Make(title)
	if base == "" {
		base = "room"
	}
	return base + "-" + uuid.NewString()[:8]
}
