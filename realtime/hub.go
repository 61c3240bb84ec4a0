package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lane-battle/events"
	"lane-battle/logging"
	"lane-battle/services"

	"go.uber.org/zap"
)

// InputSubmitter accepts a lane input on behalf of a connected player.
type InputSubmitter interface {
	Submit(ctx context.Context, matchID, userID int64, lane, power int) (bool, error)
}

// Subscriber is satisfied by events.Broker.
type Subscriber interface {
	Subscribe(topic string) (<-chan events.Event, func())
}

// Hub owns the session registry and routes frames between players and the
// battle services.
type Hub struct {
	Registry *Registry
	Presence Presence
	Inputs   InputSubmitter
	Forfeits *ForfeitTracker
}

func NewHub(registry *Registry, presence Presence, inputs InputSubmitter, forfeits *ForfeitTracker) *Hub {
	return &Hub{Registry: registry, Presence: presence, Inputs: inputs, Forfeits: forfeits}
}

// Connect registers s for its seat and greets it. An older session of the
// same player is closed without starting a forfeit timer.
func (h *Hub) Connect(ctx context.Context, s *Session, seat *services.Seat) error {
	if err := h.Presence.Join(ctx, s.MatchID, s.UserID, s.Team, s.ID); err != nil {
		return fmt.Errorf("connect user %d to match %d: %w", s.UserID, s.MatchID, err)
	}
	if prev := h.Registry.Add(s); prev != nil {
		prev.Close()
	}
	if h.Forfeits != nil {
		h.Forfeits.Connected(s.MatchID, s.UserID)
	}

	frame := ConnectedFrame{
		Type:    FrameConnected,
		MatchID: seat.MatchID,
		Team:    seat.Team,
		Status:  seat.Status,
	}
	if seat.EndsAt != nil {
		frame.EndsAt = seat.EndsAt.UnixMilli()
	}
	logging.Debug("session connected",
		zap.Int64("match_id", s.MatchID),
		zap.Int64("user_id", s.UserID),
		zap.String("session_id", s.ID),
	)
	return s.SendJSON(frame)
}

// Disconnect closes s. If s was still the player's current session, here
// and in the shared presence, the forfeit grace timer starts.
func (h *Hub) Disconnect(ctx context.Context, s *Session) {
	s.Close()
	if !h.Registry.Remove(s) {
		return
	}
	logging.Debug("session disconnected",
		zap.Int64("match_id", s.MatchID),
		zap.Int64("user_id", s.UserID),
		zap.String("session_id", s.ID),
	)
	left, err := h.Presence.Leave(ctx, s.MatchID, s.UserID, s.Team, s.ID)
	if err != nil {
		// the seat stays marked until the key expires; the deadline still ends the match
		logging.Warn("failed to release presence",
			zap.Int64("match_id", s.MatchID),
			zap.Int64("user_id", s.UserID),
			zap.Error(err),
		)
		return
	}
	if !left {
		// reconnected on another instance
		return
	}
	if h.Forfeits != nil {
		h.Forfeits.Disconnected(s.MatchID, s.UserID, s.Team)
	}
}

// HandleFrame processes one client message. Rejections go back to the
// sender as ERROR frames; only write failures are returned.
func (h *Hub) HandleFrame(ctx context.Context, s *Session, data []byte) error {
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return s.SendJSON(ErrorFrame{Type: FrameError, Code: services.ErrInvalidArgument.Code, Message: "malformed frame"})
	}

	switch frame.Type {
	case FramePing:
		return s.SendJSON(simpleFrame{Type: FramePong})
	case FrameInput:
		if _, err := h.Inputs.Submit(ctx, s.MatchID, s.UserID, frame.Lane, frame.Power); err != nil {
			if be := services.AsBattleError(err); be.Kind == services.KindInternal {
				logging.Error("input failed", zap.Int64("match_id", s.MatchID), zap.Int64("user_id", s.UserID), zap.Error(err))
			}
			return s.SendJSON(errorFrame(err))
		}
		return nil
	default:
		return s.SendJSON(ErrorFrame{Type: FrameError, Code: services.ErrInvalidArgument.Code, Message: "unknown frame type"})
	}
}

// MatchFinished sends the final frame to every session of the match and
// closes them. A repeated call finds no sessions and does nothing.
func (h *Hub) MatchFinished(o services.Outcome) {
	if h.Forfeits != nil {
		h.Forfeits.Forget(o.MatchID)
	}
	sessions := h.Registry.RemoveMatch(o.MatchID)
	if len(sessions) == 0 {
		return
	}
	data, err := json.Marshal(finishedFrame(o))
	if err != nil {
		logging.Error("failed to encode finished frame", zap.Int64("match_id", o.MatchID), zap.Error(err))
	}
	for _, s := range sessions {
		if data != nil {
			if err := s.Send(data); err != nil {
				logging.Debug("finished frame not delivered", zap.Int64("user_id", s.UserID), zap.Error(err))
			}
		}
		s.Close()
	}
}

// Follow subscribes to match finishes and closes this instance's sessions of
// each finished match, whichever instance settled it. The subscription is
// live when Follow returns and ends with ctx.
func (h *Hub) Follow(ctx context.Context, sub Subscriber) {
	ch, cancel := sub.Subscribe(events.FinishedTopic)
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				o, err := decodeOutcome(ev)
				if err != nil {
					logging.Warn("drop malformed finish event", zap.Int64("match_id", ev.MatchID), zap.Error(err))
					continue
				}
				h.MatchFinished(o)
			}
		}
	}()
}

// decodeOutcome accepts the outcome as published locally or as decoded JSON
// after a relay hop.
func decodeOutcome(ev events.Event) (services.Outcome, error) {
	if o, ok := ev.Data.(services.Outcome); ok {
		return o, nil
	}
	var o services.Outcome
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(raw, &o); err != nil {
		return o, err
	}
	if o.MatchID == 0 {
		o.MatchID = ev.MatchID
	}
	if o.MatchID == 0 {
		return o, errors.New("finish event without match id")
	}
	return o, nil
}

// Connections is the number of live sessions.
func (h *Hub) Connections() int {
	return h.Registry.Count()
}
