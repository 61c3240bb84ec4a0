package models

import (
	"time"
)

// Match is a single lane battle, from the waiting room to its final result.
type Match struct {
	ID          int64       `gorm:"primaryKey" json:"id"`
	SeasonID    int64       `gorm:"index;not null" json:"season_id"`
	MatchType   MatchType   `gorm:"type:varchar(16);not null" json:"match_type"`
	Mode        string      `gorm:"type:varchar(32);not null" json:"mode"`
	Status      MatchStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	LaneCount   int         `gorm:"not null" json:"lane_count"`
	DurationSec int         `gorm:"not null" json:"duration_sec"`
	OwnerUserID *int64      `gorm:"index" json:"owner_user_id,omitempty"`

	// Custom rooms only
	Title string `gorm:"type:varchar(64)" json:"title,omitempty"`
	Slug  string `gorm:"type:varchar(96);index" json:"slug,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`

	Participants []Participant `gorm:"foreignKey:MatchID" json:"participants,omitempty"`

	Timestamps
}

func (Match) TableName() string { return "battle_matches" }

func (m *Match) Duration() time.Duration {
	return time.Duration(m.DurationSec) * time.Second
}

// EndsAt is nil until the match has started.
func (m *Match) EndsAt() *time.Time {
	if m.StartedAt == nil {
		return nil
	}
	t := m.StartedAt.Add(m.Duration())
	return &t
}

func (m *Match) IsOwner(userID int64) bool {
	return m.OwnerUserID != nil && *m.OwnerUserID == userID
}

// Participant is one seat in a match. A user has at most one row per match;
// rejoining reactivates it.
type Participant struct {
	ID               int64      `gorm:"primaryKey" json:"id"`
	MatchID          int64      `gorm:"uniqueIndex:ux_participant_match_user;not null" json:"match_id"`
	UserID           int64      `gorm:"uniqueIndex:ux_participant_match_user;index;not null" json:"user_id"`
	Team             Team       `gorm:"type:varchar(1);not null" json:"team"`
	CharacterID      int64      `gorm:"not null" json:"character_id"`
	CharacterVersion int        `gorm:"not null" json:"character_version"`
	JoinedAt         time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt           *time.Time `json:"left_at,omitempty"`
	ReadyAt          *time.Time `json:"ready_at,omitempty"`

	Timestamps
}

func (Participant) TableName() string { return "battle_participants" }

func (p *Participant) Active() bool { return p.LeftAt == nil }
func (p *Participant) Ready() bool  { return p.ReadyAt != nil }

// LaneScore is the accumulated power per team on one lane.
type LaneScore struct {
	Lane int   `json:"lane"`
	A    int64 `json:"A"`
	B    int64 `json:"B"`
}

// TeamTotals sums lane scores per team.
func TeamTotals(lanes []LaneScore) (a, b int64) {
	for _, l := range lanes {
		a += l.A
		b += l.B
	}
	return a, b
}

// DecideWinner compares the summed lane scores. Equal sums are a draw.
func DecideWinner(lanes []LaneScore) Winner {
	a, b := TeamTotals(lanes)
	switch {
	case a > b:
		return WinnerA
	case b > a:
		return WinnerB
	}
	return WinnerDraw
}

// MatchResult is written exactly once, when a match finishes.
type MatchResult struct {
	ID          int64            `gorm:"primaryKey" json:"id"`
	MatchID     int64            `gorm:"uniqueIndex;not null" json:"match_id"`
	Winner      Winner           `gorm:"type:varchar(8);not null" json:"winner"`
	EndReason   EndReason        `gorm:"type:varchar(16);not null" json:"end_reason"`
	LaneScores  []LaneScore      `gorm:"serializer:json;type:jsonb" json:"lane_scores"`
	InputTotals map[string]int64 `gorm:"serializer:json;type:jsonb" json:"input_totals"`
	Extra       map[string]any   `gorm:"serializer:json;type:jsonb" json:"extra,omitempty"`
	CreatedAt   time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (MatchResult) TableName() string { return "battle_results" }
