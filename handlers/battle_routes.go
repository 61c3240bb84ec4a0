package handlers

import (
	"context"
	"time"

	"lane-battle/events"
	"lane-battle/middleware"
	"lane-battle/models"
	"lane-battle/realtime"
	"lane-battle/services"

	"github.com/gofiber/fiber/v2"
)

// Rooms covers room lifecycle, matchmaking and room reads.
type Rooms interface {
	CreateCustom(ctx context.Context, userID int64, req services.CreateRoomRequest) (*services.RoomView, error)
	Join(ctx context.Context, userID, matchID int64, characterID *int64) (*services.RoomView, error)
	Leave(ctx context.Context, userID, matchID int64) error
	SetReady(ctx context.Context, userID, matchID int64, ready bool) (*services.RoomView, error)
	Start(ctx context.Context, userID, matchID int64) (*services.RoomView, error)
	ChangeCharacter(ctx context.Context, userID, matchID, characterID int64) (*services.RoomView, error)
	ChangeTeam(ctx context.Context, userID, matchID int64) (*services.RoomView, error)
	Kick(ctx context.Context, ownerID, matchID, targetID int64) (*services.RoomView, error)
	TransferOwner(ctx context.Context, ownerID, matchID, targetID int64) (*services.RoomView, error)
	AutoMatch(ctx context.Context, userID int64, req services.AutoMatchRequest) (*services.AutoMatchResult, error)

	GetRoom(ctx context.Context, matchID int64) (*services.RoomView, error)
	MatchDetail(ctx context.Context, matchID int64) (*services.MatchDetail, error)
	ListWaiting(ctx context.Context, page, size int) ([]*services.RoomView, int64, error)
	MyLobby(ctx context.Context, userID int64) (*services.RoomView, error)
	SeatFor(ctx context.Context, matchID, userID int64) (*services.Seat, error)
	Characters(ctx context.Context) ([]models.Character, error)
}

type Inputs interface {
	Submit(ctx context.Context, matchID, userID int64, lane, power int) (bool, error)
}

type Stats interface {
	PlayerStats(ctx context.Context, userID int64, recent int) (*services.PlayerStats, error)
	Leaderboard(ctx context.Context, limit int) ([]services.LeaderboardEntry, error)
}

// Subscriber hands out event streams for SSE clients.
type Subscriber interface {
	Subscribe(topic string) (<-chan events.Event, func())
}

// BattleAPI bundles what the battle routes need.
type BattleAPI struct {
	Rooms     Rooms
	Inputs    Inputs
	Stats     Stats
	Events    Subscriber
	Hub       *realtime.Hub
	KeepAlive time.Duration
}

type userTarget struct {
	UserID int64 `json:"user_id"`
}

// SetupBattleRoutes mounts every battle endpoint on router, which is
// expected to carry the gateway and user context middleware.
func SetupBattleRoutes(router fiber.Router, api *BattleAPI) {
	router.Get("/characters", api.listCharacters)
	router.Get("/leaderboard", api.leaderboard)
	router.Get("/me/stats", api.myStats)
	router.Get("/me/lobby", api.myLobby)

	router.Get("/rooms", api.listRooms)
	router.Post("/rooms", api.createRoom)
	router.Get("/rooms/:id", api.getRoom)
	router.Post("/rooms/:id/join", api.joinRoom)
	router.Post("/rooms/:id/leave", api.leaveRoom)
	router.Patch("/rooms/:id/character", api.changeCharacter)
	router.Patch("/rooms/:id/team", api.changeTeam)
	router.Patch("/rooms/:id/ready", api.setReady)
	router.Post("/rooms/:id/kick", api.kick)
	router.Post("/rooms/:id/owner", api.transferOwner)
	router.Post("/rooms/:id/start", api.startRoom)

	router.Post("/matchmaking", api.autoMatch)
	router.Get("/matches/:id", api.matchDetail)
	router.Post("/matches/:id/inputs", api.submitInput)

	setupStreamRoutes(router, api)
	if api.Hub != nil {
		setupSocketRoutes(router, api)
	}
}

func (a *BattleAPI) listCharacters(c *fiber.Ctx) error {
	chars, err := a.Rooms.Characters(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"characters": chars})
}

func (a *BattleAPI) leaderboard(c *fiber.Ctx) error {
	board, err := a.Stats.Leaderboard(c.UserContext(), c.QueryInt("limit", 20))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"leaderboard": board})
}

func (a *BattleAPI) myStats(c *fiber.Ctx) error {
	stats, err := a.Stats.PlayerStats(c.UserContext(), middleware.UserID(c), c.QueryInt("recent", 10))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(stats)
}

func (a *BattleAPI) myLobby(c *fiber.Ctx) error {
	room, err := a.Rooms.MyLobby(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"room": room})
}

func (a *BattleAPI) listRooms(c *fiber.Ctx) error {
	page := c.QueryInt("page", 1)
	size := c.QueryInt("size", 20)
	rooms, total, err := a.Rooms.ListWaiting(c.UserContext(), page, size)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"rooms": rooms,
		"total": total,
		"page":  page,
		"size":  size,
	})
}

func (a *BattleAPI) createRoom(c *fiber.Ctx) error {
	var req services.CreateRoomRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	room, err := a.Rooms.CreateCustom(c.UserContext(), middleware.UserID(c), req)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(room)
}

func (a *BattleAPI) getRoom(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	room, err := a.Rooms.GetRoom(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) joinRoom(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	var body struct {
		CharacterID *int64 `json:"character_id"`
	}
	if err := parseBody(c, &body); err != nil {
		return writeError(c, err)
	}
	room, err := a.Rooms.Join(c.UserContext(), middleware.UserID(c), id, body.CharacterID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) leaveRoom(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	if err := a.Rooms.Leave(c.UserContext(), middleware.UserID(c), id); err != nil {
		return writeError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (a *BattleAPI) changeCharacter(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	var body struct {
		CharacterID int64 `json:"character_id"`
	}
	if err := parseBody(c, &body); err != nil {
		return writeError(c, err)
	}
	if body.CharacterID <= 0 {
		return invalid(c, "character_id is required")
	}
	room, err := a.Rooms.ChangeCharacter(c.UserContext(), middleware.UserID(c), id, body.CharacterID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) changeTeam(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	room, err := a.Rooms.ChangeTeam(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) setReady(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	var body struct {
		Ready *bool `json:"ready"`
	}
	if err := parseBody(c, &body); err != nil {
		return writeError(c, err)
	}
	ready := true
	if body.Ready != nil {
		ready = *body.Ready
	}
	room, err := a.Rooms.SetReady(c.UserContext(), middleware.UserID(c), id, ready)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) kick(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	var body userTarget
	if err := parseBody(c, &body); err != nil {
		return writeError(c, err)
	}
	if body.UserID <= 0 {
		return invalid(c, "user_id is required")
	}
	room, err := a.Rooms.Kick(c.UserContext(), middleware.UserID(c), id, body.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) transferOwner(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	var body userTarget
	if err := parseBody(c, &body); err != nil {
		return writeError(c, err)
	}
	if body.UserID <= 0 {
		return invalid(c, "user_id is required")
	}
	room, err := a.Rooms.TransferOwner(c.UserContext(), middleware.UserID(c), id, body.UserID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) startRoom(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid room id")
	}
	room, err := a.Rooms.Start(c.UserContext(), middleware.UserID(c), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(room)
}

func (a *BattleAPI) autoMatch(c *fiber.Ctx) error {
	var req services.AutoMatchRequest
	if err := parseBody(c, &req); err != nil {
		return writeError(c, err)
	}
	res, err := a.Rooms.AutoMatch(c.UserContext(), middleware.UserID(c), req)
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusOK
	if res.Created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(res)
}

func (a *BattleAPI) matchDetail(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid match id")
	}
	detail, err := a.Rooms.MatchDetail(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(detail)
}

func (a *BattleAPI) submitInput(c *fiber.Ctx) error {
	id, ok := paramID(c)
	if !ok {
		return invalid(c, "invalid match id")
	}
	var body struct {
		Lane  *int `json:"lane"`
		Power *int `json:"power"`
	}
	if err := parseBody(c, &body); err != nil {
		return writeError(c, err)
	}
	if body.Lane == nil || body.Power == nil {
		return invalid(c, "lane and power are required")
	}
	accepted, err := a.Inputs.Submit(c.UserContext(), id, middleware.UserID(c), *body.Lane, *body.Power)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"accepted": accepted})
}
