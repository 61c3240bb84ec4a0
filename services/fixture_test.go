package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"lane-battle/cache"
	"lane-battle/config"
	"lane-battle/events"
	"lane-battle/models"
	"lane-battle/testutils"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testBattleConfig() config.BattleConfig {
	return config.BattleConfig{
		Capacity:          2,
		Duration:          30 * time.Second,
		LaneCount:         3,
		MaxPower:          10,
		InputLimit:        20,
		EloK:              24,
		DefaultRating:     1500,
		DefaultMode:       "LANES_3",
		ForfeitGrace:      10 * time.Second,
		BroadcastInterval: 100 * time.Millisecond,
		WatchdogInterval:  time.Second,
		SweepInterval:     time.Second,
		SweepBatch:        100,
		ReconcileInterval: 30 * time.Second,
		OverdueSlack:      5 * time.Second,
		KeySafetyTTL:      10 * time.Minute,
		SSEKeepAlive:      15 * time.Second,
	}
}

// recorder captures published events and settlement notifications.
type recorder struct {
	mu       sync.Mutex
	events   []events.Event
	topics   []string
	outcomes []Outcome
}

func (r *recorder) Publish(topic string, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.topics = append(r.topics, topic)
}

// topicsOf lists the topics events of type typ went to.
func (r *recorder) topicsOf(typ string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for i, ev := range r.events {
		if ev.Type == typ {
			out = append(out, r.topics[i])
		}
	}
	return out
}

func (r *recorder) MatchFinished(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func (r *recorder) finished() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome(nil), r.outcomes...)
}

type fixture struct {
	db     *gorm.DB
	rdb    *redis.Client
	live   *cache.LiveState
	rec    *recorder
	rooms  *RoomService
	inputs *InputService
	settle *SettlementService
	stats  *StatsService
}

// env starts one postgres and one redis for a top-level test.
type env struct {
	db  *gorm.DB
	rdb *redis.Client
}

func newEnv(t *testing.T) *env {
	return &env{db: testutils.SetupPostgres(t), rdb: testutils.SetupRedis(t)}
}

// fresh empties both stores and wires new services around them.
func (e *env) fresh(t *testing.T) *fixture {
	t.Helper()
	testutils.TruncateBattleTables(t, e.db)
	testutils.FlushRedis(t, e.rdb)

	cfg := testBattleConfig()
	live := cache.NewLiveState(e.rdb)
	rec := &recorder{}
	f := &fixture{
		db:     e.db,
		rdb:    e.rdb,
		live:   live,
		rec:    rec,
		rooms:  NewRoomService(e.db, live, rec, cfg),
		inputs: NewInputService(e.db, live, cfg),
		settle: NewSettlementService(e.db, live, rec, cfg),
		stats:  NewStatsService(e.db, cfg),
	}
	f.settle.AddNotifier(f.inputs)
	f.settle.AddNotifier(rec)
	return f
}

func (f *fixture) match(t *testing.T, id int64) models.Match {
	t.Helper()
	var m models.Match
	require.NoError(t, f.db.Where("id = ?", id).Take(&m).Error)
	return m
}

func (f *fixture) activeSeats(t *testing.T, id int64) []models.Participant {
	t.Helper()
	ps, err := activeParticipants(f.db, id)
	require.NoError(t, err)
	return ps
}

// ranked seats two users through auto-match and returns the running match.
func (f *fixture) ranked(t *testing.T, a, b int64) int64 {
	t.Helper()
	ctx := context.Background()
	first, err := f.rooms.AutoMatch(ctx, a, AutoMatchRequest{})
	require.NoError(t, err)
	require.True(t, first.Created)
	second, err := f.rooms.AutoMatch(ctx, b, AutoMatchRequest{})
	require.NoError(t, err)
	require.Equal(t, first.MatchID, second.MatchID)
	require.Equal(t, models.StatusRunning, second.Status)
	return first.MatchID
}

// ratingOf reads a user's rating row in the active season, or the default.
func (f *fixture) ratingOf(t *testing.T, userID int64) models.Rating {
	t.Helper()
	var rows []models.Rating
	require.NoError(t, f.db.Where("user_id = ?", userID).Find(&rows).Error)
	if len(rows) == 0 {
		return models.Rating{UserID: userID, Rating: 1500}
	}
	return rows[0]
}
