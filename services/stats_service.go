package services

import (
	"context"

	"lane-battle/config"
	"lane-battle/models"

	"gorm.io/gorm"
)

// TierThresholds: minimum rating for each tier, highest first.
var TierThresholds = []struct {
	Name      string
	MinRating int
}{
	{"Diamond", 2000},
	{"Platinum", 1800},
	{"Gold", 1600},
	{"Silver", 1400},
	{"Bronze", 0},
}

func TierFor(rating int) string {
	for _, t := range TierThresholds {
		if rating >= t.MinRating {
			return t.Name
		}
	}
	return TierThresholds[len(TierThresholds)-1].Name
}

type PlayerStats struct {
	SeasonID int64                  `json:"season_id"`
	UserID   int64                  `json:"user_id"`
	Rating   int                    `json:"rating"`
	Tier     string                 `json:"tier"`
	Matches  int                    `json:"matches"`
	Wins     int                    `json:"wins"`
	Losses   int                    `json:"losses"`
	Draws    int                    `json:"draws"`
	Recent   []models.RatingHistory `json:"recent"`
}

type LeaderboardEntry struct {
	Rank    int    `json:"rank"`
	UserID  int64  `json:"user_id"`
	Rating  int    `json:"rating"`
	Tier    string `json:"tier"`
	Matches int    `json:"matches"`
	Wins    int    `json:"wins"`
}

// StatsService reads ratings for the active season.
type StatsService struct {
	DB     *gorm.DB
	Config config.BattleConfig
}

func NewStatsService(db *gorm.DB, cfg config.BattleConfig) *StatsService {
	return &StatsService{DB: db, Config: cfg}
}

// PlayerStats returns the user's standing. A user who never played a rated
// match gets the default rating rather than an error.
func (s *StatsService) PlayerStats(ctx context.Context, userID int64, recent int) (*PlayerStats, error) {
	db := s.DB.WithContext(ctx)
	season, err := activeSeason(db)
	if err != nil {
		return nil, err
	}

	stats := &PlayerStats{SeasonID: season.ID, UserID: userID, Rating: s.Config.DefaultRating}
	var ratings []models.Rating
	if err := db.Where("season_id = ? AND user_id = ?", season.ID, userID).Limit(1).Find(&ratings).Error; err != nil {
		return nil, internal("load rating", err)
	}
	if len(ratings) > 0 {
		r := ratings[0]
		stats.Rating, stats.Matches, stats.Wins, stats.Losses, stats.Draws = r.Rating, r.Matches, r.Wins, r.Losses, r.Draws
	}
	stats.Tier = TierFor(stats.Rating)

	if recent < 1 || recent > maxPageSize {
		recent = 10
	}
	err = db.Where("season_id = ? AND user_id = ?", season.ID, userID).
		Order("created_at DESC, id DESC").
		Limit(recent).
		Find(&stats.Recent).Error
	if err != nil {
		return nil, internal("load rating history", err)
	}
	return stats, nil
}

// Leaderboard lists the top rated players of the active season.
func (s *StatsService) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	db := s.DB.WithContext(ctx)
	season, err := activeSeason(db)
	if err != nil {
		return nil, err
	}
	if limit < 1 || limit > maxPageSize {
		limit = maxPageSize
	}

	var ratings []models.Rating
	err = db.Where("season_id = ? AND matches > 0", season.ID).
		Order("rating DESC, wins DESC, user_id").
		Limit(limit).
		Find(&ratings).Error
	if err != nil {
		return nil, internal("load leaderboard", err)
	}

	board := make([]LeaderboardEntry, 0, len(ratings))
	for i, r := range ratings {
		board = append(board, LeaderboardEntry{
			Rank:    i + 1,
			UserID:  r.UserID,
			Rating:  r.Rating,
			Tier:    TierFor(r.Rating),
			Matches: r.Matches,
			Wins:    r.Wins,
		})
	}
	return board, nil
}
