package models

import "time"

// Rating is the per-season Elo standing of a user.
type Rating struct {
	ID       int64 `gorm:"primaryKey" json:"id"`
	SeasonID int64 `gorm:"uniqueIndex:ux_rating_season_user;not null" json:"season_id"`
	UserID   int64 `gorm:"uniqueIndex:ux_rating_season_user;not null" json:"user_id"`
	Rating   int   `gorm:"not null;default:1500" json:"rating"`
	Matches  int   `gorm:"not null;default:0" json:"matches"`
	Wins     int   `gorm:"not null;default:0" json:"wins"`
	Losses   int   `gorm:"not null;default:0" json:"losses"`
	Draws    int   `gorm:"not null;default:0" json:"draws"`

	Timestamps
}

func (Rating) TableName() string { return "battle_ratings" }

// RatingHistory is append-only, one row per player per rated match.
type RatingHistory struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	SeasonID   int64     `gorm:"uniqueIndex:ux_rating_history_entry;not null" json:"season_id"`
	UserID     int64     `gorm:"uniqueIndex:ux_rating_history_entry;index;not null" json:"user_id"`
	MatchID    int64     `gorm:"uniqueIndex:ux_rating_history_entry;not null" json:"match_id"`
	OpponentID int64     `gorm:"not null" json:"opponent_id"`
	Outcome    string    `gorm:"type:varchar(8);not null" json:"outcome"` // WIN, LOSS, DRAW
	Before     int       `gorm:"not null" json:"before"`
	After      int       `gorm:"not null" json:"after"`
	Delta      int       `gorm:"not null" json:"delta"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (RatingHistory) TableName() string { return "battle_rating_history" }

const (
	OutcomeWin  = "WIN"
	OutcomeLoss = "LOSS"
	OutcomeDraw = "DRAW"
)

func OutcomeFor(w Winner, t Team) string {
	switch w.Score(t) {
	case 1:
		return OutcomeWin
	case 0:
		return OutcomeLoss
	}
	return OutcomeDraw
}
