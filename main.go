package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lane-battle/archive"
	"lane-battle/cache"
	"lane-battle/config"
	"lane-battle/database"
	"lane-battle/events"
	"lane-battle/handlers"
	"lane-battle/logging"
	"lane-battle/middleware"
	"lane-battle/realtime"
	"lane-battle/services"
	"lane-battle/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logging.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		panic(err)
	}
	defer logging.Sync()
	if err := cfg.Validate(); err != nil {
		logging.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		logging.Fatal("failed to migrate database", zap.Error(err))
	}
	if err := database.Seed(ctx, db); err != nil {
		logging.Fatal("failed to seed catalog", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	live := cache.NewLiveState(rdb)
	if err := live.Ping(ctx); err != nil {
		logging.Fatal("failed to connect to redis", zap.Error(err), zap.String("addr", cfg.Redis.Addr))
	}

	broker := events.NewBroker(64)
	var publisher events.Publisher = broker
	if cfg.NATSURL != "" {
		relay, err := events.NewNATSRelay(cfg.NATSURL, broker)
		if err != nil {
			logging.Fatal("failed to connect to nats", zap.Error(err))
		}
		defer relay.Close()
		publisher = relay
		logging.Info("relaying battle events through nats", zap.String("url", cfg.NATSURL))
	}

	rooms := services.NewRoomService(db, live, publisher, cfg.Battle)
	inputs := services.NewInputService(db, live, cfg.Battle)
	stats := services.NewStatsService(db, cfg.Battle)
	settlement := services.NewSettlementService(db, live, publisher, cfg.Battle)
	if cfg.Archive.Enabled() {
		store, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			logging.Fatal("failed to initialize result archive", zap.Error(err))
		}
		settlement.Archive = store
		logging.Info("archiving results", zap.String("bucket", cfg.Archive.Bucket))
	}

	presence := cache.NewPresence(rdb, cfg.Battle.Duration+cfg.Battle.KeySafetyTTL)
	forfeits := realtime.NewForfeitTracker(cfg.Battle.ForfeitGrace, settlement, presence)
	hub := realtime.NewHub(realtime.NewRegistry(), presence, inputs, forfeits)
	settlement.AddNotifier(inputs)
	settlement.AddNotifier(hub)
	// matches settled by other instances arrive through the relay
	hub.Follow(ctx, broker)

	sched, err := workers.NewScheduler(ctx, cfg.Battle,
		realtime.NewBroadcaster(hub, live),
		forfeits,
		workers.NewDeadlineSweeper(live, settlement, cfg.Battle.SweepBatch),
	)
	if err != nil {
		logging.Fatal("failed to start scheduler", zap.Error(err))
	}
	sched.Start()

	app := fiber.New(fiber.Config{
		AppName:               "lane-battle",
		DisableStartupMessage: true,
		ReadTimeout:           15 * time.Second,
	})
	app.Use(recover.New())
	app.Use(middleware.RequestLogger())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, Cache-Control",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupHealthRoutes(app, map[string]handlers.HealthCheck{
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": live.Ping,
	})

	battle := app.Group("/battle", middleware.GatewayAuthMiddleware(cfg.GatewayToken), middleware.UserContextMiddleware())
	handlers.SetupBattleRoutes(battle, &handlers.BattleAPI{
		Rooms:     rooms,
		Inputs:    inputs,
		Stats:     stats,
		Events:    broker,
		Hub:       hub,
		KeepAlive: cfg.Battle.SSEKeepAlive,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			logging.Error("server error", zap.Error(err))
			stop()
		}
	}()
	logging.Info("lane battle server running",
		zap.String("port", cfg.Port),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
	)

	<-ctx.Done()
	logging.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logging.Warn("http shutdown", zap.Error(err))
	}
	if err := sched.Shutdown(); err != nil {
		logging.Warn("scheduler shutdown", zap.Error(err))
	}
}
