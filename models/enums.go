package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// ErrCorruptValue is returned when a persisted enum column holds a value
// this build does not know about.
var ErrCorruptValue = errors.New("corrupt persisted value")

type MatchType string

const (
	MatchTypeRanked MatchType = "RANKED"
	MatchTypeCustom MatchType = "CUSTOM"
)

func (t MatchType) Valid() bool {
	return t == MatchTypeRanked || t == MatchTypeCustom
}

func (t *MatchType) Scan(src any) error {
	return scanEnum(src, "match type", func(s string) bool {
		*t = MatchType(s)
		return t.Valid()
	})
}

func (t MatchType) Value() (driver.Value, error) { return string(t), nil }

type MatchStatus string

const (
	StatusWaiting  MatchStatus = "WAITING"
	StatusRunning  MatchStatus = "RUNNING"
	StatusFinished MatchStatus = "FINISHED"
	StatusCanceled MatchStatus = "CANCELED"
)

func (s MatchStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusFinished, StatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s MatchStatus) Terminal() bool {
	return s == StatusFinished || s == StatusCanceled
}

func (s *MatchStatus) Scan(src any) error {
	return scanEnum(src, "match status", func(v string) bool {
		*s = MatchStatus(v)
		return s.Valid()
	})
}

func (s MatchStatus) Value() (driver.Value, error) { return string(s), nil }

type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// Teams is the seating order.
var Teams = []Team{TeamA, TeamB}

func (t Team) Valid() bool {
	return t == TeamA || t == TeamB
}

func (t Team) Opponent() Team {
	if t == TeamA {
		return TeamB
	}
	return TeamA
}

func (t *Team) Scan(src any) error {
	return scanEnum(src, "team", func(s string) bool {
		*t = Team(s)
		return t.Valid()
	})
}

func (t Team) Value() (driver.Value, error) { return string(t), nil }

type Winner string

const (
	WinnerA    Winner = "A"
	WinnerB    Winner = "B"
	WinnerDraw Winner = "DRAW"
)

func WinnerFor(t Team) Winner {
	return Winner(t)
}

func (w Winner) Valid() bool {
	return w == WinnerA || w == WinnerB || w == WinnerDraw
}

// Score is the Elo actual score for team t: 1 win, 0.5 draw, 0 loss.
func (w Winner) Score(t Team) float64 {
	switch w {
	case WinnerDraw:
		return 0.5
	case WinnerFor(t):
		return 1
	}
	return 0
}

func (w *Winner) Scan(src any) error {
	return scanEnum(src, "winner", func(s string) bool {
		*w = Winner(s)
		return w.Valid()
	})
}

func (w Winner) Value() (driver.Value, error) { return string(w), nil }

type EndReason string

const (
	ReasonTimeout   EndReason = "TIMEOUT"
	ReasonForfeit   EndReason = "FORFEIT"
	ReasonAbandoned EndReason = "ABANDONED"
	ReasonManual    EndReason = "MANUAL"
)

func (r EndReason) Valid() bool {
	switch r {
	case ReasonTimeout, ReasonForfeit, ReasonAbandoned, ReasonManual:
		return true
	}
	return false
}

func (r *EndReason) Scan(src any) error {
	return scanEnum(src, "end reason", func(s string) bool {
		*r = EndReason(s)
		return r.Valid()
	})
}

func (r EndReason) Value() (driver.Value, error) { return string(r), nil }

func scanEnum(src any, name string, set func(string) bool) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		return fmt.Errorf("%w: %s is null", ErrCorruptValue, name)
	default:
		return fmt.Errorf("%w: %s has type %T", ErrCorruptValue, name, src)
	}
	if !set(s) {
		return fmt.Errorf("%w: unknown %s %q", ErrCorruptValue, name, s)
	}
	return nil
}
