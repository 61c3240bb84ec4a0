package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port           string
	DatabaseURL    string
	GatewayToken   string
	AllowedOrigins []string
	LogLevel       string
	LogFormat      string

	Redis   RedisConfig
	NATSURL string
	Archive ArchiveConfig
	Battle  BattleConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ArchiveConfig points at an S3-compatible bucket. An empty Bucket disables archiving.
type ArchiveConfig struct {
	AccountID       string
	AccessKeyID     string
	AccessKeySecret string
	Bucket          string
	Endpoint        string
	Region          string
}

func (a ArchiveConfig) Enabled() bool {
	return a.Bucket != ""
}

// BattleConfig holds the tuning knobs of the match engine.
type BattleConfig struct {
	Capacity          int
	Duration          time.Duration
	LaneCount         int
	MaxPower          int
	InputLimit        int
	EloK              float64
	DefaultRating     int
	DefaultMode       string
	ForfeitGrace      time.Duration
	BroadcastInterval time.Duration
	WatchdogInterval  time.Duration
	SweepInterval     time.Duration
	SweepBatch        int
	ReconcileInterval time.Duration
	OverdueSlack      time.Duration
	KeySafetyTTL      time.Duration
	SSEKeepAlive      time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "5200")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ARCHIVE_REGION", "auto")

	v.SetDefault("BATTLE_CAPACITY", 2)
	v.SetDefault("BATTLE_DURATION", 30*time.Second)
	v.SetDefault("BATTLE_LANE_COUNT", 3)
	v.SetDefault("BATTLE_MAX_POWER", 10)
	v.SetDefault("BATTLE_INPUT_LIMIT", 20)
	v.SetDefault("BATTLE_ELO_K", 24)
	v.SetDefault("BATTLE_DEFAULT_RATING", 1500)
	v.SetDefault("BATTLE_DEFAULT_MODE", "LANES_3")
	v.SetDefault("BATTLE_FORFEIT_GRACE", 10*time.Second)
	v.SetDefault("BATTLE_BROADCAST_INTERVAL", 100*time.Millisecond)
	v.SetDefault("BATTLE_WATCHDOG_INTERVAL", time.Second)
	v.SetDefault("BATTLE_SWEEP_INTERVAL", time.Second)
	v.SetDefault("BATTLE_SWEEP_BATCH", 100)
	v.SetDefault("BATTLE_RECONCILE_INTERVAL", 30*time.Second)
	v.SetDefault("BATTLE_OVERDUE_SLACK", 5*time.Second)
	v.SetDefault("BATTLE_KEY_SAFETY_TTL", 10*time.Minute)
	v.SetDefault("BATTLE_SSE_KEEPALIVE", 15*time.Second)
}

// Load reads .env (when present) and the process environment.
func Load() (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Port:           v.GetString("PORT"),
		DatabaseURL:    v.GetString("DATABASE_URL"),
		GatewayToken:   v.GetString("GAME_SERVICE_TOKEN"),
		AllowedOrigins: splitList(v.GetString("ALLOWED_ORIGINS")),
		LogLevel:       v.GetString("LOG_LEVEL"),
		LogFormat:      v.GetString("LOG_FORMAT"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		NATSURL: v.GetString("NATS_URL"),
		Archive: ArchiveConfig{
			AccountID:       v.GetString("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     v.GetString("R2_ACCESS_KEY_ID"),
			AccessKeySecret: v.GetString("R2_ACCESS_KEY_SECRET"),
			Bucket:          v.GetString("ARCHIVE_BUCKET"),
			Endpoint:        v.GetString("ARCHIVE_ENDPOINT"),
			Region:          v.GetString("ARCHIVE_REGION"),
		},
		Battle: BattleConfig{
			Capacity:          v.GetInt("BATTLE_CAPACITY"),
			Duration:          v.GetDuration("BATTLE_DURATION"),
			LaneCount:         v.GetInt("BATTLE_LANE_COUNT"),
			MaxPower:          v.GetInt("BATTLE_MAX_POWER"),
			InputLimit:        v.GetInt("BATTLE_INPUT_LIMIT"),
			EloK:              v.GetFloat64("BATTLE_ELO_K"),
			DefaultRating:     v.GetInt("BATTLE_DEFAULT_RATING"),
			DefaultMode:       v.GetString("BATTLE_DEFAULT_MODE"),
			ForfeitGrace:      v.GetDuration("BATTLE_FORFEIT_GRACE"),
			BroadcastInterval: v.GetDuration("BATTLE_BROADCAST_INTERVAL"),
			WatchdogInterval:  v.GetDuration("BATTLE_WATCHDOG_INTERVAL"),
			SweepInterval:     v.GetDuration("BATTLE_SWEEP_INTERVAL"),
			SweepBatch:        v.GetInt("BATTLE_SWEEP_BATCH"),
			ReconcileInterval: v.GetDuration("BATTLE_RECONCILE_INTERVAL"),
			OverdueSlack:      v.GetDuration("BATTLE_OVERDUE_SLACK"),
			KeySafetyTTL:      v.GetDuration("BATTLE_KEY_SAFETY_TTL"),
			SSEKeepAlive:      v.GetDuration("BATTLE_SSE_KEEPALIVE"),
		},
	}
	return cfg, nil
}

// Validate reports settings the service cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.GatewayToken == "" {
		errs = append(errs, errors.New("GAME_SERVICE_TOKEN is not set"))
	}
	if err := c.Battle.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b BattleConfig) Validate() error {
	switch {
	case b.Capacity != 2:
		return fmt.Errorf("battle capacity must be 2, got %d", b.Capacity)
	case b.LaneCount < 1:
		return fmt.Errorf("battle lane count must be positive, got %d", b.LaneCount)
	case b.Duration <= 0:
		return fmt.Errorf("battle duration must be positive, got %s", b.Duration)
	case b.InputLimit < 1:
		return fmt.Errorf("battle input limit must be positive, got %d", b.InputLimit)
	case b.MaxPower < 1:
		return fmt.Errorf("battle max power must be positive, got %d", b.MaxPower)
	case b.SweepBatch < 1:
		return fmt.Errorf("battle sweep batch must be positive, got %d", b.SweepBatch)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
