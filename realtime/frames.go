package realtime

import (
	"lane-battle/cache"
	"lane-battle/models"
	"lane-battle/services"
)

// Server frame types
const (
	FrameConnected = "CONNECTED"
	FrameState     = "STATE"
	FrameFinished  = "FINISHED"
	FrameError     = "ERROR"
	FramePong      = "PONG"
)

// Client frame types
const (
	FrameInput = "INPUT"
	FramePing  = "PING"
)

type ClientFrame struct {
	Type  string `json:"type"`
	Lane  int    `json:"lane"`
	Power int    `json:"power"`
}

type ConnectedFrame struct {
	Type    string             `json:"type"`
	MatchID int64              `json:"matchId"`
	Team    models.Team        `json:"team"`
	Status  models.MatchStatus `json:"status"`
	EndsAt  int64              `json:"endsAt,omitempty"`
}

type StateFrame struct {
	Type       string             `json:"type"`
	MatchID    int64              `json:"matchId"`
	EndsAt     int64              `json:"endsAt"`
	Lanes      []models.LaneScore `json:"lanes"`
	TeamScores map[string]int64   `json:"teamScores"`
	TeamInputs map[string]int64   `json:"teamInputs"`
}

type FinishedFrame struct {
	Type        string             `json:"type"`
	MatchID     int64              `json:"matchId"`
	Winner      models.Winner      `json:"winner"`
	Reason      models.EndReason   `json:"reason"`
	FinalScores []models.LaneScore `json:"finalScores"`
	TeamScores  map[string]int64   `json:"teamScores"`
	InputTotals map[string]int64   `json:"inputTotals"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type simpleFrame struct {
	Type string `json:"type"`
}

func stateFrame(snap cache.Snapshot) StateFrame {
	scores := snap.TeamScores()
	return StateFrame{
		Type:    FrameState,
		MatchID: snap.MatchID,
		EndsAt:  snap.EndsAt.UnixMilli(),
		Lanes:   snap.Lanes,
		TeamScores: map[string]int64{
			string(models.TeamA): scores[models.TeamA],
			string(models.TeamB): scores[models.TeamB],
		},
		TeamInputs: map[string]int64{
			string(models.TeamA): snap.TeamInputs[models.TeamA],
			string(models.TeamB): snap.TeamInputs[models.TeamB],
		},
	}
}

func finishedFrame(o services.Outcome) FinishedFrame {
	return FinishedFrame{
		Type:        FrameFinished,
		MatchID:     o.MatchID,
		Winner:      o.Winner,
		Reason:      o.Reason,
		FinalScores: o.LaneScores,
		TeamScores:  o.TeamScores,
		InputTotals: o.InputTotals,
	}
}

func errorFrame(err error) ErrorFrame {
	be := services.AsBattleError(err)
	msg := be.Message
	if be.Kind == services.KindInternal {
		msg = services.ErrInternal.Message
	}
	return ErrorFrame{Type: FrameError, Code: be.Code, Message: msg}
}
