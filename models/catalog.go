package models

import "time"

// Season scopes ratings. Exactly one season is expected to be active.
type Season struct {
	ID       int64      `gorm:"primaryKey" json:"id"`
	Name     string     `gorm:"uniqueIndex;not null" json:"name"`
	StartsAt time.Time  `gorm:"not null" json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
	Active   bool       `gorm:"index;not null;default:false" json:"active"`

	Timestamps
}

func (Season) TableName() string { return "battle_seasons" }

// Character is owned by the content service; matches snapshot its version.
type Character struct {
	ID        int64  `gorm:"primaryKey" json:"id"`
	Code      string `gorm:"uniqueIndex;not null" json:"code"`
	Name      string `gorm:"not null" json:"name"`
	Version   int    `gorm:"not null;default:1" json:"version"`
	IsDefault bool   `gorm:"not null;default:false" json:"is_default"`
	Active    bool   `gorm:"not null;default:true" json:"active"`

	Timestamps
}

func (Character) TableName() string { return "battle_characters" }

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Seed rows inserted at startup when missing.
var (
	DefaultSeason = Season{
		Name:   "Season 1",
		Active: true,
	}

	DefaultCharacters = []Character{
		{Code: "VANGUARD", Name: "Vanguard", Version: 1, IsDefault: true, Active: true},
		{Code: "RANGER", Name: "Ranger", Version: 1, Active: true},
		{Code: "ARCANIST", Name: "Arcanist", Version: 1, Active: true},
	}
)

// All lists every table the engine owns, in migration order.
func All() []any {
	return []any{
		&Season{},
		&Character{},
		&Match{},
		&Participant{},
		&MatchResult{},
		&Rating{},
		&RatingHistory{},
	}
}
