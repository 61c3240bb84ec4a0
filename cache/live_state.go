// Package cache holds the live, per-match battle state in Redis.
//
// Keys of one match share a hash tag so they land in the same cluster slot:
//
//	battle:{<id>}:lanes          hash  "<lane>:<team>" -> accumulated power
//	battle:{<id>}:inputs         hash  "<team>" -> accepted inputs
//	battle:{<id>}:ends_at        string, unix millis
//	battle:{<id>}:rl:<user>:<s>  per-second input counter
//	battle:{<id>}:presence       hash  "<user>" -> "<team>:<session id>"
//	battle:due                   zset  match id scored by end time (unix millis)
//
// Redis is never the system of record; everything here can be rebuilt or dropped.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lane-battle/models"

	"github.com/redis/go-redis/v9"
)

const dueKey = "battle:due"

// rate counters outlive their second by one so a late EXPIRE never leaks them.
const rateWindowTTL = 2

func lanesKey(matchID int64) string  { return fmt.Sprintf("battle:{%d}:lanes", matchID) }
func inputsKey(matchID int64) string { return fmt.Sprintf("battle:{%d}:inputs", matchID) }
func endsAtKey(matchID int64) string { return fmt.Sprintf("battle:{%d}:ends_at", matchID) }
func rateKey(matchID, userID, second int64) string {
	return fmt.Sprintf("battle:{%d}:rl:%d:%d", matchID, userID, second)
}

// KEYS[1] lanes, KEYS[2] inputs, KEYS[3] rate counter
// ARGV lane, lane count, team, power, limit, rate ttl
// returns 1 accepted, 0 rate limited, -1 bad lane, -2 match not live
var inputScript = redis.NewScript(`
local lane = tonumber(ARGV[1])
local lane_count = tonumber(ARGV[2])
if lane == nil or lane < 0 or lane >= lane_count then
	return -1
end
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -2
end
local hits = redis.call('INCR', KEYS[3])
if hits == 1 then
	redis.call('EXPIRE', KEYS[3], tonumber(ARGV[6]))
end
if hits > tonumber(ARGV[5]) then
	return 0
end
redis.call('HINCRBY', KEYS[1], ARGV[1] .. ':' .. ARGV[3], tonumber(ARGV[4]))
redis.call('HINCRBY', KEYS[2], ARGV[3], 1)
return 1
`)

// KEYS[1] due index; ARGV now millis, limit
var popDueScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
if #ids > 0 then
	redis.call('ZREM', KEYS[1], unpack(ids))
end
return ids
`)

type InputOutcome int

const (
	InputAccepted InputOutcome = iota
	InputRateLimited
	InputBadLane
	InputNotLive
)

func (o InputOutcome) String() string {
	switch o {
	case InputAccepted:
		return "accepted"
	case InputRateLimited:
		return "rate_limited"
	case InputBadLane:
		return "bad_lane"
	case InputNotLive:
		return "not_live"
	}
	return "unknown"
}

type Input struct {
	MatchID   int64
	UserID    int64
	Team      models.Team
	Lane      int
	Power     int
	LaneCount int
	Limit     int
	At        time.Time
}

// Snapshot is a point-in-time read of one match.
type Snapshot struct {
	MatchID    int64
	Live       bool
	EndsAt     time.Time
	Lanes      []models.LaneScore
	TeamInputs map[models.Team]int64
}

func (s Snapshot) TeamScores() map[models.Team]int64 {
	a, b := models.TeamTotals(s.Lanes)
	return map[models.Team]int64{models.TeamA: a, models.TeamB: b}
}

func (s Snapshot) Winner() models.Winner {
	return models.DecideWinner(s.Lanes)
}

type LiveState struct {
	client redis.UniversalClient
}

func NewLiveState(client redis.UniversalClient) *LiveState {
	return &LiveState{client: client}
}

func (l *LiveState) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// StartMatch zeroes every lane, records the end time and adds the match to the due index.
// ttl bounds how long abandoned keys survive.
func (l *LiveState) StartMatch(ctx context.Context, matchID int64, laneCount int, endsAt time.Time, ttl time.Duration) error {
	fields := make(map[string]any, laneCount*2)
	for lane := 0; lane < laneCount; lane++ {
		for _, team := range models.Teams {
			fields[laneField(lane, team)] = 0
		}
	}
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, lanesKey(matchID), fields)
		pipe.HSet(ctx, inputsKey(matchID), string(models.TeamA), 0, string(models.TeamB), 0)
		pipe.Set(ctx, endsAtKey(matchID), endsAt.UnixMilli(), 0)
		for _, key := range []string{lanesKey(matchID), inputsKey(matchID), endsAtKey(matchID)} {
			pipe.ExpireAt(ctx, key, endsAt.Add(ttl))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("init live state for match %d: %w", matchID, err)
	}
	return l.Schedule(ctx, matchID, endsAt)
}

// Schedule puts (or moves) the match in the due index.
func (l *LiveState) Schedule(ctx context.Context, matchID int64, at time.Time) error {
	err := l.client.ZAdd(ctx, dueKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: strconv.FormatInt(matchID, 10),
	}).Err()
	if err != nil {
		return fmt.Errorf("schedule match %d: %w", matchID, err)
	}
	return nil
}

// ApplyInput runs rate limiting and accumulation as one atomic script.
func (l *LiveState) ApplyInput(ctx context.Context, in Input) (InputOutcome, error) {
	keys := []string{
		lanesKey(in.MatchID),
		inputsKey(in.MatchID),
		rateKey(in.MatchID, in.UserID, in.At.Unix()),
	}
	res, err := inputScript.Run(ctx, l.client, keys,
		in.Lane, in.LaneCount, string(in.Team), in.Power, in.Limit, rateWindowTTL,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("apply input for match %d: %w", in.MatchID, err)
	}
	switch res {
	case 1:
		return InputAccepted, nil
	case 0:
		return InputRateLimited, nil
	case -1:
		return InputBadLane, nil
	case -2:
		return InputNotLive, nil
	}
	return 0, fmt.Errorf("apply input for match %d: unexpected script result %d", in.MatchID, res)
}

// Snapshot reads lanes, inputs and end time in one round trip.
func (l *LiveState) Snapshot(ctx context.Context, matchID int64, laneCount int) (Snapshot, error) {
	var (
		lanesCmd  *redis.MapStringStringCmd
		inputsCmd *redis.MapStringStringCmd
		endsCmd   *redis.StringCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		lanesCmd = pipe.HGetAll(ctx, lanesKey(matchID))
		inputsCmd = pipe.HGetAll(ctx, inputsKey(matchID))
		endsCmd = pipe.Get(ctx, endsAtKey(matchID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return Snapshot{}, fmt.Errorf("snapshot match %d: %w", matchID, err)
	}

	snap := Snapshot{
		MatchID:    matchID,
		Lanes:      make([]models.LaneScore, laneCount),
		TeamInputs: map[models.Team]int64{models.TeamA: 0, models.TeamB: 0},
	}
	for i := range snap.Lanes {
		snap.Lanes[i].Lane = i
	}

	lanes := lanesCmd.Val()
	snap.Live = len(lanes) > 0
	for field, raw := range lanes {
		lane, team, ok := parseLaneField(field)
		if !ok || lane >= laneCount {
			continue
		}
		v, _ := strconv.ParseInt(raw, 10, 64)
		if team == models.TeamA {
			snap.Lanes[lane].A = v
		} else {
			snap.Lanes[lane].B = v
		}
	}
	for field, raw := range inputsCmd.Val() {
		v, _ := strconv.ParseInt(raw, 10, 64)
		snap.TeamInputs[models.Team(field)] = v
	}
	if ms, err := endsCmd.Int64(); err == nil {
		snap.EndsAt = time.UnixMilli(ms)
	}
	return snap, nil
}

// PopDue atomically removes and returns up to limit matches whose end time has passed.
func (l *LiveState) PopDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	raw, err := popDueScript.Run(ctx, l.client, []string{dueKey}, now.UnixMilli(), limit).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("pop due matches: %w", err)
	}
	ids := make([]int64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Clear drops all live keys of a finished match.
func (l *LiveState) Clear(ctx context.Context, matchID int64) error {
	if err := l.client.Del(ctx, lanesKey(matchID), inputsKey(matchID), endsAtKey(matchID), presenceKey(matchID)).Err(); err != nil {
		return fmt.Errorf("clear match %d: %w", matchID, err)
	}
	if err := l.client.ZRem(ctx, dueKey, strconv.FormatInt(matchID, 10)).Err(); err != nil {
		return fmt.Errorf("unschedule match %d: %w", matchID, err)
	}
	return nil
}

// DueCount is the number of matches in the due index, running or overdue.
func (l *LiveState) DueCount(ctx context.Context) (int64, error) {
	return l.client.ZCard(ctx, dueKey).Result()
}

func laneField(lane int, team models.Team) string {
	return strconv.Itoa(lane) + ":" + string(team)
}

func parseLaneField(field string) (int, models.Team, bool) {
	laneStr, teamStr, ok := strings.Cut(field, ":")
	if !ok {
		return 0, "", false
	}
	lane, err := strconv.Atoi(laneStr)
	team := models.Team(teamStr)
	if err != nil || lane < 0 || !team.Valid() {
		return 0, "", false
	}
	return lane, team, true
}
