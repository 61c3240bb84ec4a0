package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"lane-battle/events"
	"lane-battle/logging"
	"lane-battle/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const lobbySnapshotSize = 50

func setupStreamRoutes(router fiber.Router, api *BattleAPI) {
	router.Get("/lobby/stream", middleware.SSEHeaders(), api.lobbyStream)
	router.Get("/rooms/:id/stream", middleware.SSEHeaders(), api.roomStream)
}

// lobbyStream sends the waiting rooms once, then every lobby event.
func (a *BattleAPI) lobbyStream(c *fiber.Ctx) error {
	// subscribe first so no event between the read and the subscription is lost
	ch, cancel := a.Events.Subscribe(events.LobbyTopic)
	rooms, _, err := a.Rooms.ListWaiting(c.UserContext(), 1, lobbySnapshotSize)
	if err != nil {
		cancel()
		return writeError(c, err)
	}
	userID := middleware.UserID(c)
	keepAlive := a.keepAlive()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := writeEvent(w, "snapshot", rooms); err != nil {
			return
		}
		pump(w, "lobby", ch, keepAlive, nil)
		logging.Debug("lobby stream closed", zap.Int64("user_id", userID))
	})
	return nil
}

// roomStream sends the room once, then its events until it finishes or is
// canceled.
func (a *BattleAPI) roomStream(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	// subscribe first so no event between the read and the subscription is lost
	ch, cancel := a.Events.Subscribe(events.RoomTopic(id))
	room, err := a.Rooms.GetRoom(c.UserContext(), id)
	if err != nil {
		cancel()
		return writeError(c, err)
	}
	keepAlive := a.keepAlive()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := writeEvent(w, "snapshot", room); err != nil || room.Status.Terminal() {
			return
		}
		pump(w, "room", ch, keepAlive, func(ev events.Event) bool {
			return ev.Type == events.Finished || ev.Type == events.Canceled
		})
	})
	return nil
}

func (a *BattleAPI) keepAlive() time.Duration {
	if a.KeepAlive <= 0 {
		return 15 * time.Second
	}
	return a.KeepAlive
}

// pump forwards events until the channel closes, the client goes away (a
// write fails) or last reports the final event.
func pump(w *bufio.Writer, name string, ch <-chan events.Event, keepAlive time.Duration, last func(events.Event) bool) {
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := writeEvent(w, name, ev); err != nil {
				return
			}
			if last != nil && last(ev) {
				return
			}
		case <-ticker.C:
			if _, err := w.WriteString(":\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func writeEvent(w *bufio.Writer, name string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		logging.Error("failed to encode stream event", zap.String("event", name), zap.Error(err))
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}
