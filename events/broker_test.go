package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerFanOut(t *testing.T) {
	b := NewBroker(4)
	lobby1, cancel1 := b.Subscribe(LobbyTopic)
	defer cancel1()
	lobby2, cancel2 := b.Subscribe(LobbyTopic)
	defer cancel2()
	room, cancelRoom := b.Subscribe(RoomTopic(7))
	defer cancelRoom()

	b.Publish(LobbyTopic, Event{Type: RoomCreated, MatchID: 7})

	for _, ch := range []<-chan Event{lobby1, lobby2} {
		select {
		case ev := <-ch:
			assert.Equal(t, RoomCreated, ev.Type)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("lobby subscriber did not receive event")
		}
	}
	select {
	case ev := <-room:
		t.Fatalf("room subscriber got lobby event %v", ev)
	default:
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("room.1")
	defer cancel()

	b.Publish("room.1", Event{Type: Joined})
	b.Publish("room.1", Event{Type: Left})

	ev := <-ch
	assert.Equal(t, Joined, ev.Type)
	select {
	case extra := <-ch:
		t.Fatalf("expected drop, got %v", extra)
	default:
	}
}

func TestBrokerCancel(t *testing.T) {
	b := NewBroker(1)
	ch, cancel := b.Subscribe("room.2")
	require.Equal(t, 1, b.Subscribers("room.2"))

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Zero(t, b.Subscribers("room.2"))
	b.Publish("room.2", Event{Type: Joined})
}

func TestRoomTopic(t *testing.T) {
	assert.Equal(t, "room.42", RoomTopic(42))
}
