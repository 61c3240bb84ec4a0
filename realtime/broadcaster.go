package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"lane-battle/cache"
	"lane-battle/logging"

	"go.uber.org/zap"
)

// SnapshotReader reads the live state of one match.
type SnapshotReader interface {
	Snapshot(ctx context.Context, matchID int64, laneCount int) (cache.Snapshot, error)
}

// Broadcaster pushes a STATE frame to every connected session of every
// live match on each tick.
type Broadcaster struct {
	Hub  *Hub
	Live SnapshotReader
}

func NewBroadcaster(hub *Hub, live SnapshotReader) *Broadcaster {
	return &Broadcaster{Hub: hub, Live: live}
}

// Tick runs one broadcast round and returns how many frames were written.
func (b *Broadcaster) Tick(ctx context.Context) int {
	sent := 0
	for _, matchID := range b.Hub.Registry.Matches() {
		n, err := b.broadcast(ctx, matchID)
		if err != nil {
			logging.Warn("broadcast failed", zap.Int64("match_id", matchID), zap.Error(err))
			continue
		}
		sent += n
	}
	return sent
}

func (b *Broadcaster) broadcast(ctx context.Context, matchID int64) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("broadcast panic: %v", r)
		}
	}()

	sessions := b.Hub.Registry.Sessions(matchID)
	if len(sessions) == 0 {
		return 0, nil
	}
	snap, err := b.Live.Snapshot(ctx, matchID, sessions[0].LaneCount)
	if err != nil {
		return 0, err
	}
	// waiting rooms have no live state yet
	if !snap.Live {
		return 0, nil
	}
	data, err := json.Marshal(stateFrame(snap))
	if err != nil {
		return 0, err
	}

	for _, s := range sessions {
		if err := s.Send(data); err != nil {
			logging.Debug("dropping dead session",
				zap.Int64("match_id", matchID),
				zap.Int64("user_id", s.UserID),
				zap.Error(err),
			)
			b.Hub.Disconnect(ctx, s)
			continue
		}
		n++
	}
	return n, nil
}
