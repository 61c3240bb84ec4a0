package cache

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"lane-battle/models"

	"github.com/redis/go-redis/v9"
)

func presenceKey(matchID int64) string { return fmt.Sprintf("battle:{%d}:presence", matchID) }

// KEYS[1] presence hash; ARGV user, expected member
// deletes the seat only if it still belongs to the expected session
var leaveScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) == ARGV[2] then
	return redis.call('HDEL', KEYS[1], ARGV[1])
end
return 0
`)

// Presence records which players hold a socket for a match, across every
// instance. Each seat stores "<team>:<session id>", so a session replaced on
// another instance cannot clear its successor.
type Presence struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewPresence keeps each match hash for ttl after the last join.
func NewPresence(client redis.UniversalClient, ttl time.Duration) *Presence {
	return &Presence{client: client, ttl: ttl}
}

func presenceMember(team models.Team, sessionID string) string {
	return string(team) + ":" + sessionID
}

func (p *Presence) Join(ctx context.Context, matchID, userID int64, team models.Team, sessionID string) error {
	key := presenceKey(matchID)
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, strconv.FormatInt(userID, 10), presenceMember(team, sessionID))
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("join presence of match %d: %w", matchID, err)
	}
	return nil
}

// Leave reports whether the seat was released. It is false when a newer
// session of the same player took the seat.
func (p *Presence) Leave(ctx context.Context, matchID, userID int64, team models.Team, sessionID string) (bool, error) {
	n, err := leaveScript.Run(ctx, p.client, []string{presenceKey(matchID)},
		strconv.FormatInt(userID, 10), presenceMember(team, sessionID),
	).Int()
	if err != nil {
		return false, fmt.Errorf("leave presence of match %d: %w", matchID, err)
	}
	return n == 1, nil
}

func (p *Presence) Connected(ctx context.Context, matchID, userID int64) (bool, error) {
	ok, err := p.client.HExists(ctx, presenceKey(matchID), strconv.FormatInt(userID, 10)).Result()
	if err != nil {
		return false, fmt.Errorf("read presence of match %d: %w", matchID, err)
	}
	return ok, nil
}

// ConnectedTeams reports which teams have at least one connected player.
func (p *Presence) ConnectedTeams(ctx context.Context, matchID int64) (map[models.Team]bool, error) {
	seats, err := p.client.HGetAll(ctx, presenceKey(matchID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence of match %d: %w", matchID, err)
	}
	teams := make(map[models.Team]bool, 2)
	for _, member := range seats {
		raw, _, _ := strings.Cut(member, ":")
		if team := models.Team(raw); team.Valid() {
			teams[team] = true
		}
	}
	return teams, nil
}
