// Package events fans lobby and room notifications out to stream subscribers.
package events

import (
	"strconv"
	"sync"
	"time"
)

const LobbyTopic = "lobby"

// FinishedTopic carries one Finished event per settled match, whatever room
// it was. Every instance's hub listens on it.
const FinishedTopic = "matches.finished"

func RoomTopic(matchID int64) string {
	return "room." + strconv.FormatInt(matchID, 10)
}

// Lobby event types
const (
	RoomCreated = "ROOM_CREATED"
	RoomUpdated = "ROOM_UPDATED"
	RoomFilled  = "ROOM_FILLED"
	RoomRemoved = "ROOM_REMOVED"
)

// Room event types
const (
	Joined           = "JOIN"
	Left             = "LEAVE"
	ReadyChanged     = "READY"
	TeamChanged      = "TEAM"
	CharacterChanged = "CHARACTER"
	Kicked           = "KICK"
	OwnerChanged     = "OWNER"
	Started          = "START"
	Canceled         = "CANCEL"
	Finished         = "FINISHED"
)

type Event struct {
	Type     string    `json:"type"`
	MatchID  int64     `json:"match_id"`
	UserID   int64     `json:"user_id,omitempty"`
	TargetID int64     `json:"target_id,omitempty"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher is what services depend on; both Broker and NATSRelay satisfy it.
type Publisher interface {
	Publish(topic string, ev Event)
}

// Broker is an in-process pub/sub. Slow subscribers lose events rather than
// blocking publishers.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[uint64]chan Event
	nextID uint64
	buffer int
}

func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 16
	}
	return &Broker{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: buffer,
	}
}

func (b *Broker) Publish(topic string, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events for topic and a cancel func that
// must be called once the caller is done.
func (b *Broker) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]chan Event)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
