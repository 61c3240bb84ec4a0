package database_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"lane-battle/database"
	"lane-battle/logging"
	"lane-battle/models"
	"lane-battle/testutils"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "ux_participant_match_user"}

	assert.True(t, database.IsUniqueViolation(dup))
	assert.True(t, database.IsUniqueViolation(fmt.Errorf("insert result: %w", dup)))
	assert.False(t, database.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, database.IsUniqueViolation(errors.New("23505")))
	assert.False(t, database.IsUniqueViolation(nil))
}

func TestMigrateAndSeed(t *testing.T) {
	db := testutils.SetupPostgres(t)
	ctx := context.Background()

	// both are run once by SetupPostgres; a restart runs them again
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.Seed(ctx, db))

	var seasons int64
	require.NoError(t, db.Model(&models.Season{}).Where("active = ?", true).Count(&seasons).Error)
	assert.Equal(t, int64(1), seasons)

	var chars []models.Character
	require.NoError(t, db.Order("id").Find(&chars).Error)
	require.Len(t, chars, len(models.DefaultCharacters))
	assert.True(t, chars[0].IsDefault)

	err := db.Create(&models.Character{Code: chars[0].Code, Name: "Copy", Version: 1}).Error
	require.Error(t, err)
	assert.True(t, database.IsUniqueViolation(err))
}

func TestQueryLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logging.Set(zap.New(core))
	t.Cleanup(func() { logging.Set(zap.NewNop()) })

	db := testutils.SetupPostgres(t)
	logs.TakeAll()

	var m models.Match
	err := db.Where("id = ?", 1).Take(&m).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Zero(t, logs.FilterMessage("query failed").Len(), "not found is not an error")

	err = db.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	failed := logs.FilterMessage("query failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "gorm", failed[0].ContextMap()["component"])

	require.NoError(t, db.Exec("SELECT pg_sleep(0.25)").Error)
	assert.Equal(t, 1, logs.FilterMessage("slow query").Len())

	verbose := db.Session(&gorm.Session{Logger: db.Logger.LogMode(gormlogger.Info)})
	require.NoError(t, verbose.Exec("SELECT 1").Error)
	assert.NotZero(t, logs.FilterMessage("query").Len())
}
