package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want ClientMessage
	}{
		{"heartbeat", `{"action":"heartbeat","timestamp":1,"nonce":"x","data":{}}`, Heartbeat{}},
		{"start match", `{"action":"startMatch","data":{"isHiddenInfo":true,"playerLevel":20}}`, StartMatch{IsHiddenInfo: true, PlayerLevel: 20}},
		{"start match without data", `{"action":"startMatch"}`, StartMatch{}},
		{"ban", `{"action":"banChart","data":{"chartIndex":4}}`, BanChart{ChartIndex: 4}},
		{"score", `{"action":"updateScore","data":{"score":1234,"totalNote":500,"near":3,"received":2,"lost":1,"hasMiss":true}}`,
			UpdateScore{ScoreData{Score: 1234, TotalNote: 500, Near: 3, Received: 2, Lost: 1, HasMiss: true}}},
		{"done", `{"action":"donePlaying","data":{"resultId":"r9","judgeDetails":[1,2,3,4]}}`, DonePlaying{ResultID: "r9", JudgeDetails: [4]int{1, 2, 3, 4}}},
		{"game over", `{"action":"gameIsOver","data":null}`, GameIsOver{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClientMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseClientMessage_Errors(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"action":"teleport","data":{}}`))
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = ParseClientMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseClientMessage([]byte(`{"action":"banChart","data":{"chartIndex":"two"}}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDonePlaying_ResultStaysOffTheWire(t *testing.T) {
	data, err := MarshalClientData(DonePlaying{ResultID: "r1", Result: &PlayResult{Score: 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resultId":"r1","judgeDetails":[0,0,0,0]}`, string(data))

	msg, err := DecodeClientMessage(ActionDonePlaying, json.RawMessage(`{"resultId":"r1","Result":{"score":5}}`))
	require.NoError(t, err)
	assert.Nil(t, msg.(DonePlaying).Result)
}

func TestServerEnvelope_DecodeData(t *testing.T) {
	typed := &ServerEnvelope{Action: ActionGameOver, Data: GameOver{IsWin: true, OpponentScore: ScoreSummary{Score: 7, Grade: "D"}}}
	var got GameOver
	require.NoError(t, typed.DecodeData(&got))
	assert.True(t, got.IsWin)
	assert.Equal(t, 7, got.OpponentScore.Score)

	raw := &ServerEnvelope{Action: ActionAllPlayerReady, Data: json.RawMessage(`{}`)}
	var ready AllPlayerReady
	assert.NoError(t, raw.DecodeData(&ready))
}
