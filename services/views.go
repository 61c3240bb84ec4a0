package services

import (
	"time"

	"lane-battle/models"
)

type ParticipantView struct {
	UserID           int64       `json:"user_id"`
	Team             models.Team `json:"team"`
	CharacterID      int64       `json:"character_id"`
	CharacterVersion int         `json:"character_version"`
	Ready            bool        `json:"ready"`
	JoinedAt         time.Time   `json:"joined_at"`
}

// RoomView is the shape returned by room reads and carried by stream events.
type RoomView struct {
	ID           int64              `json:"id"`
	SeasonID     int64              `json:"season_id"`
	MatchType    models.MatchType   `json:"match_type"`
	Mode         string             `json:"mode"`
	Status       models.MatchStatus `json:"status"`
	Title        string             `json:"title,omitempty"`
	Slug         string             `json:"slug,omitempty"`
	OwnerUserID  *int64             `json:"owner_user_id,omitempty"`
	LaneCount    int                `json:"lane_count"`
	DurationSec  int                `json:"duration_sec"`
	Capacity     int                `json:"capacity"`
	Participants []ParticipantView  `json:"participants"`
	CreatedAt    time.Time          `json:"created_at"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	EndsAt       *time.Time         `json:"ends_at,omitempty"`
	EndedAt      *time.Time         `json:"ended_at,omitempty"`
}

func (v *RoomView) Full() bool {
	return len(v.Participants) >= v.Capacity
}

// newRoomView expects m.Participants to hold only active seats.
func newRoomView(m *models.Match, capacity int) *RoomView {
	v := &RoomView{
		ID:           m.ID,
		SeasonID:     m.SeasonID,
		MatchType:    m.MatchType,
		Mode:         m.Mode,
		Status:       m.Status,
		Title:        m.Title,
		Slug:         m.Slug,
		OwnerUserID:  m.OwnerUserID,
		LaneCount:    m.LaneCount,
		DurationSec:  m.DurationSec,
		Capacity:     capacity,
		Participants: make([]ParticipantView, 0, len(m.Participants)),
		CreatedAt:    m.CreatedAt,
		StartedAt:    m.StartedAt,
		EndsAt:       m.EndsAt(),
		EndedAt:      m.EndedAt,
	}
	for _, p := range m.Participants {
		if !p.Active() {
			continue
		}
		v.Participants = append(v.Participants, ParticipantView{
			UserID:           p.UserID,
			Team:             p.Team,
			CharacterID:      p.CharacterID,
			CharacterVersion: p.CharacterVersion,
			Ready:            p.Ready(),
			JoinedAt:         p.JoinedAt,
		})
	}
	return v
}

// MatchDetail adds the stored result, if any.
type MatchDetail struct {
	*RoomView
	Result *models.MatchResult `json:"result,omitempty"`
}

type AutoMatchResult struct {
	MatchID int64              `json:"match_id"`
	Status  models.MatchStatus `json:"status"`
	Team    models.Team        `json:"team"`
	Created bool               `json:"created"`
}

// Seat identifies a connected player for the realtime layer.
type Seat struct {
	MatchID   int64
	UserID    int64
	Team      models.Team
	Status    models.MatchStatus
	LaneCount int
	EndsAt    *time.Time
}
