package handlers

import (
	"context"
	"time"

	"lane-battle/logging"
	"lane-battle/middleware"
	"lane-battle/realtime"
	"lane-battle/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	socketReadTimeout = 60 * time.Second
	frameTimeout      = 2 * time.Second
	seatKey           = "battle_seat"
)

func setupSocketRoutes(router fiber.Router, api *BattleAPI) {
	router.Get("/matches/:id/ws", middleware.RequireWebSocket(), api.authorizeSocket, websocket.New(api.matchSocket))
}

// authorizeSocket checks the seat before the upgrade so rejected clients get
// a normal JSON error.
func (a *BattleAPI) authorizeSocket(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid match id")
	}
	seat, err := a.Rooms.SeatFor(c.UserContext(), id, middleware.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	c.Locals(seatKey, seat)
	return c.Next()
}

func (a *BattleAPI) matchSocket(conn *websocket.Conn) {
	seat, ok := conn.Locals(seatKey).(*services.Seat)
	if !ok {
		conn.Close()
		return
	}
	session := realtime.NewSession(seat.MatchID, seat.UserID, seat.Team, seat.LaneCount, conn)
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	err := a.Hub.Connect(ctx, session, seat)
	cancel()
	if err != nil {
		logging.Warn("socket connect failed", zap.Int64("match_id", seat.MatchID), zap.Int64("user_id", seat.UserID), zap.Error(err))
		a.disconnect(session)
		return
	}
	defer a.disconnect(session)

	for {
		conn.SetReadDeadline(time.Now().Add(socketReadTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("socket read failed", zap.Int64("match_id", seat.MatchID), zap.Int64("user_id", seat.UserID), zap.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
		err = a.Hub.HandleFrame(ctx, session, data)
		cancel()
		if err != nil {
			return
		}
	}
}

func (a *BattleAPI) disconnect(s *realtime.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	a.Hub.Disconnect(ctx, s)
}
