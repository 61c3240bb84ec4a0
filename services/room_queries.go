package services

import (
	"context"
	"errors"

	"lane-battle/models"

	"gorm.io/gorm"
)

const maxPageSize = 50

// GetRoom returns a match with its active participants.
func (s *RoomService) GetRoom(ctx context.Context, matchID int64) (*RoomView, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).
		Preload("Participants", activeSeats).
		Where("id = ?", matchID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internal("load room", err)
	}
	return newRoomView(&m, s.Config.Capacity), nil
}

// MatchDetail is GetRoom plus the stored result once the match has finished.
func (s *RoomService) MatchDetail(ctx context.Context, matchID int64) (*MatchDetail, error) {
	view, err := s.GetRoom(ctx, matchID)
	if err != nil {
		return nil, err
	}
	detail := &MatchDetail{RoomView: view}
	if view.Status != models.StatusFinished {
		return detail, nil
	}

	var results []models.MatchResult
	if err := s.DB.WithContext(ctx).Where("match_id = ?", matchID).Limit(1).Find(&results).Error; err != nil {
		return nil, internal("load result", err)
	}
	if len(results) > 0 {
		detail.Result = &results[0]
	}
	return detail, nil
}

// ListWaiting pages through custom rooms that still accept players, newest first.
func (s *RoomService) ListWaiting(ctx context.Context, page, size int) ([]*RoomView, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > maxPageSize {
		size = 20
	}
	waiting := func() *gorm.DB {
		return s.DB.WithContext(ctx).Model(&models.Match{}).
			Where("status = ? AND match_type = ?", models.StatusWaiting, models.MatchTypeCustom)
	}

	var total int64
	if err := waiting().Count(&total).Error; err != nil {
		return nil, 0, internal("count rooms", err)
	}

	var matches []models.Match
	err := waiting().
		Preload("Participants", activeSeats).
		Order("created_at DESC, id DESC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&matches).Error
	if err != nil {
		return nil, 0, internal("list rooms", err)
	}

	views := make([]*RoomView, 0, len(matches))
	for i := range matches {
		views = append(views, newRoomView(&matches[i], s.Config.Capacity))
	}
	return views, total, nil
}

// MyLobby returns the room the user currently sits in, or nil.
func (s *RoomService) MyLobby(ctx context.Context, userID int64) (*RoomView, error) {
	cur, err := currentMembership(s.DB.WithContext(ctx), userID)
	if err != nil || cur == nil {
		return nil, err
	}
	return s.GetRoom(ctx, cur.MatchID)
}

// SeatFor authorizes a realtime connection: the user must hold an active seat
// in a waiting or running match.
func (s *RoomService) SeatFor(ctx context.Context, matchID, userID int64) (*Seat, error) {
	var m models.Match
	err := s.DB.WithContext(ctx).Where("id = ?", matchID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, internal("load match", err)
	}
	if m.Status.Terminal() {
		return nil, ErrNotRunning
	}
	p, err := activeParticipant(s.DB.WithContext(ctx), matchID, userID)
	if err != nil {
		return nil, err
	}
	return &Seat{
		MatchID:   m.ID,
		UserID:    userID,
		Team:      p.Team,
		Status:    m.Status,
		LaneCount: m.LaneCount,
		EndsAt:    m.EndsAt(),
	}, nil
}

// Characters lists the characters players may pick.
func (s *RoomService) Characters(ctx context.Context) ([]models.Character, error) {
	var chars []models.Character
	if err := s.DB.WithContext(ctx).Where("active = ?", true).Order("id").Find(&chars).Error; err != nil {
		return nil, internal("list characters", err)
	}
	return chars, nil
}
