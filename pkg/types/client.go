package types

import (
	"encoding/json"
	"fmt"
)

// Client action names.
const (
	ActionHeartbeat   = "heartbeat"
	ActionStartMatch  = "startMatch"
	ActionCancelGame  = "cancelGame"
	ActionBanChart    = "banChart"
	ActionPlayerReady = "playerReady"
	ActionUpdateScore = "updateScore"
	ActionDonePlaying = "donePlaying"
	ActionGameIsOver  = "gameIsOver"
)

// ClientEnvelope is the JSON shape of every client frame once decrypted.
type ClientEnvelope struct {
	Action    string          `json:"action"`
	Timestamp int64           `json:"timestamp,omitempty"`
	Nonce     string          `json:"nonce,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// ClientMessage is the closed set of actions a client can send. The concrete
// types below are the only implementations.
type ClientMessage interface {
	Action() string
	clientMessage()
}

type Heartbeat struct{}

type StartMatch struct {
	IsHiddenInfo   bool `json:"isHiddenInfo"`
	IsHiddenRating bool `json:"isHiddenRating"`
	PlayerLevel    int  `json:"playerLevel"`
}

type CancelGame struct{}

type BanChart struct {
	ChartIndex int `json:"chartIndex"`
}

type PlayerReady struct{}

// ScoreData is a live score sample. The same shape goes out as
// opponentScoreUpdate.
type ScoreData struct {
	Score     int  `json:"score"`
	TotalNote int  `json:"totalNote"`
	Near      int  `json:"near"`
	Received  int  `json:"received"`
	Lost      int  `json:"lost"`
	HasMiss   bool `json:"hasMiss"`
}

type UpdateScore struct {
	ScoreData
}

type DonePlaying struct {
	ResultID     string `json:"resultId"`
	JudgeDetails [4]int `json:"judgeDetails"`

	// Result is set when the play result was already resolved by the
	// instance that owns the player's socket. Never read from the wire.
	Result *PlayResult `json:"-"`
}

type GameIsOver struct{}

func (Heartbeat) Action() string   { return ActionHeartbeat }
func (StartMatch) Action() string  { return ActionStartMatch }
func (CancelGame) Action() string  { return ActionCancelGame }
func (BanChart) Action() string    { return ActionBanChart }
func (PlayerReady) Action() string { return ActionPlayerReady }
func (UpdateScore) Action() string { return ActionUpdateScore }
func (DonePlaying) Action() string { return ActionDonePlaying }
func (GameIsOver) Action() string  { return ActionGameIsOver }

func (Heartbeat) clientMessage()   {}
func (StartMatch) clientMessage()  {}
func (CancelGame) clientMessage()  {}
func (BanChart) clientMessage()    {}
func (PlayerReady) clientMessage() {}
func (UpdateScore) clientMessage() {}
func (DonePlaying) clientMessage() {}
func (GameIsOver) clientMessage()  {}

// DecodeClientMessage builds the typed message for action from its data
// payload. An unknown action yields ErrUnknownAction.
func DecodeClientMessage(action string, data json.RawMessage) (ClientMessage, error) {
	var msg ClientMessage
	switch action {
	case ActionHeartbeat:
		return Heartbeat{}, nil
	case ActionCancelGame:
		return CancelGame{}, nil
	case ActionPlayerReady:
		return PlayerReady{}, nil
	case ActionGameIsOver:
		return GameIsOver{}, nil
	case ActionStartMatch:
		var m StartMatch
		if err := unmarshalData(data, &m); err != nil {
			return nil, err
		}
		msg = m
	case ActionBanChart:
		var m BanChart
		if err := unmarshalData(data, &m); err != nil {
			return nil, err
		}
		msg = m
	case ActionUpdateScore:
		var m UpdateScore
		if err := unmarshalData(data, &m.ScoreData); err != nil {
			return nil, err
		}
		msg = m
	case ActionDonePlaying:
		var m DonePlaying
		if err := unmarshalData(data, &m); err != nil {
			return nil, err
		}
		msg = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return msg, nil
}

// ParseClientMessage decodes a decrypted client frame.
func ParseClientMessage(raw []byte) (ClientMessage, error) {
	var env ClientEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return DecodeClientMessage(env.Action, env.Data)
}

// MarshalClientData returns the data payload of msg.
func MarshalClientData(msg ClientMessage) (json.RawMessage, error) {
	if s, ok := msg.(UpdateScore); ok {
		return json.Marshal(s.ScoreData)
	}
	return json.Marshal(msg)
}

func unmarshalData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
