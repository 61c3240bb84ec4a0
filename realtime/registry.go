// Package realtime tracks connected players and pushes match frames to them.
package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"lane-battle/models"

	"github.com/google/uuid"
)

// textMessage matches the websocket text opcode.
const textMessage = 1

var ErrSessionClosed = errors.New("session closed")

// FrameWriter is the subset of a websocket connection a session writes to.
type FrameWriter interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one player's connection to one match. Writes are serialized
// because the broadcast job and the connection's read loop both write.
type Session struct {
	ID        string
	MatchID   int64
	UserID    int64
	Team      models.Team
	LaneCount int

	mu     sync.Mutex
	conn   FrameWriter
	closed bool
}

func NewSession(matchID, userID int64, team models.Team, laneCount int, conn FrameWriter) *Session {
	return &Session{
		ID:        uuid.NewString(),
		MatchID:   matchID,
		UserID:    userID,
		Team:      team,
		LaneCount: laneCount,
		conn:      conn,
	}
}

func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	return s.conn.WriteMessage(textMessage, data)
}

func (s *Session) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(data)
}

// Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Registry maps match id -> user id -> session. A user has at most one
// session per match; a newer connection replaces the older one.
type Registry struct {
	mu      sync.RWMutex
	matches map[int64]map[int64]*Session
}

func NewRegistry() *Registry {
	return &Registry{matches: make(map[int64]map[int64]*Session)}
}

// Add registers s and returns the session it replaced, if any.
func (r *Registry) Add(s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := r.matches[s.MatchID]
	if users == nil {
		users = make(map[int64]*Session)
		r.matches[s.MatchID] = users
	}
	prev := users[s.UserID]
	users[s.UserID] = s
	return prev
}

// Remove unregisters s only if it is still the current session of its user.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := r.matches[s.MatchID]
	if users == nil || users[s.UserID] != s {
		return false
	}
	delete(users, s.UserID)
	if len(users) == 0 {
		delete(r.matches, s.MatchID)
	}
	return true
}

// RemoveMatch drops every session of a match and returns them.
func (r *Registry) RemoveMatch(matchID int64) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := r.matches[matchID]
	delete(r.matches, matchID)
	out := make([]*Session, 0, len(users))
	for _, s := range users {
		out = append(out, s)
	}
	return out
}

// Sessions returns a copy, so callers can write without holding the lock.
func (r *Registry) Sessions(matchID int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := r.matches[matchID]
	out := make([]*Session, 0, len(users))
	for _, s := range users {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Matches() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int64, 0, len(r.matches))
	for id := range r.matches {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, users := range r.matches {
		n += len(users)
	}
	return n
}
