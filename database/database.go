package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lane-battle/models"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Open connects to PostgreSQL through gorm with the zap-backed logger.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  newGormLogger(200 * time.Millisecond),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// indexes gorm tags cannot express.
var extraIndexes = []string{
	`CREATE INDEX IF NOT EXISTS ix_battle_matches_waiting
		ON battle_matches (match_type, mode, created_at, id) WHERE status = 'WAITING'`,
	`CREATE INDEX IF NOT EXISTS ix_battle_matches_running
		ON battle_matches (started_at) WHERE status = 'RUNNING'`,
	`CREATE INDEX IF NOT EXISTS ix_battle_participants_active_user
		ON battle_participants (user_id) WHERE left_at IS NULL`,
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, stmt := range extraIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Seed inserts the default season and characters when missing. Safe to run on every start.
func Seed(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Season{}).Where("active = ?", true).Count(&active).Error; err != nil {
			return err
		}
		if active == 0 {
			season := models.DefaultSeason
			season.StartsAt = time.Now().UTC()
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&season).Error; err != nil {
				return fmt.Errorf("seed season: %w", err)
			}
		}

		chars := make([]models.Character, len(models.DefaultCharacters))
		copy(chars, models.DefaultCharacters)
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoNothing: true,
		}).Create(&chars).Error; err != nil {
			return fmt.Errorf("seed characters: %w", err)
		}
		return nil
	})
}

// IsUniqueViolation reports a PostgreSQL unique_violation (23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

