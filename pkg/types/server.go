package types

import "encoding/json"

// Server action names.
const (
	ActionMatchConfirm        = "matchConfirm"
	ActionMatchSuccess        = "matchSuccess"
	ActionAnnounceFinalChart  = "annoFinnalChart"
	ActionAllPlayerReady      = "allPlayerReady"
	ActionOpponentScoreUpdate = "opponentScoreUpdate"
	ActionGameOver            = "gameOver"
)

const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// ServerEnvelope is what goes out to a client. Data is either a typed
// ServerPayload or a json.RawMessage passed through from the linker.
type ServerEnvelope struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Nonce  string `json:"nonce,omitempty"`
	Data   any    `json:"data"`
}

// ServerPayload is the closed set of typed server messages.
type ServerPayload interface {
	Action() string
	serverPayload()
}

type MatchConfirm struct{}

type ChartInfo struct {
	TrackList              []string `json:"trackList"`
	DiffList               []int    `json:"diffList"`
	ChartSpecialEffectList []any    `json:"chartSpecialEffectList"`
}

type MatchSuccess struct {
	RoomID               string    `json:"roomId"`
	ChartInfo            ChartInfo `json:"chartInfo"`
	OpponentID           string    `json:"opponentId"`
	OpponentRating       float64   `json:"opponentRating"`
	OpponentBattleRating float64   `json:"opponentBattleRating"`
	OpponentStyle        Style     `json:"opponentStyle"`
	OpponentUsername     string    `json:"opponentUsername"`
	OpponentUsernameMask string    `json:"opponentUsernameMask"`
	OpponentLevel        int       `json:"opponentLevel"`
}

type AnnounceFinalChart struct {
	BanChartIndex      [2]int `json:"banChartIndex"`
	TrackID            string `json:"trackId"`
	ChartDiff          int    `json:"chartDiff"`
	ChartSpecialEffect any    `json:"chartSpecialEffect"`
}

type AllPlayerReady struct{}

type OpponentScoreUpdate struct {
	ScoreData
}

type ScoreSummary struct {
	Score         int    `json:"score"`
	DecryptedPlus int    `json:"decryptedPlus"`
	Decrypted     int    `json:"decrypted"`
	Received      int    `json:"received"`
	Lost          int    `json:"lost"`
	Grade         string `json:"grade"`
}

type GameOver struct {
	IsWin                bool         `json:"isWin"`
	BeforeRating         float64      `json:"beforeRating"`
	RatingChanges        float64      `json:"ratingChanges"`
	AfterRating          float64      `json:"afterRating"`
	OpponentRating       float64      `json:"opponentRating"`
	OpponentScore        ScoreSummary `json:"opponentScore"`
	OpponentJudgeDetails [4]int       `json:"opponentJudgeDetails"`
}

func (MatchConfirm) Action() string        { return ActionMatchConfirm }
func (MatchSuccess) Action() string        { return ActionMatchSuccess }
func (AnnounceFinalChart) Action() string  { return ActionAnnounceFinalChart }
func (AllPlayerReady) Action() string      { return ActionAllPlayerReady }
func (OpponentScoreUpdate) Action() string { return ActionOpponentScoreUpdate }
func (GameOver) Action() string            { return ActionGameOver }

func (MatchConfirm) serverPayload()        {}
func (MatchSuccess) serverPayload()        {}
func (AnnounceFinalChart) serverPayload()  {}
func (AllPlayerReady) serverPayload()      {}
func (OpponentScoreUpdate) serverPayload() {}
func (GameOver) serverPayload()            {}

// DecodeData unmarshals env.Data into v, whether it still holds the typed
// payload or arrived as raw JSON.
func (env *ServerEnvelope) DecodeData(v any) error {
	raw, ok := env.Data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(env.Data)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, v)
}
