package types

import "errors"

// Style is the cosmetic loadout shown to the opponent.
type Style struct {
	Skin  string `json:"skin"`
	Bg    string `json:"bg"`
	Title string `json:"title"`
}

// PlayerInfo is the match-relevant snapshot of a player. It is what a Room
// shows the opponent and what the linker sends along with startMatch.
type PlayerInfo struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	UsernameMask string  `json:"usernameMask"`
	Level        int     `json:"level"`
	Rating       float64 `json:"rating"`
	BattleRating float64 `json:"battleRating"`
	Style        Style   `json:"style"`
}

// Profile is the account record the ingress reads on connect.
type Profile struct {
	ID             string
	Username       string
	UsernameCode   int
	Rating         float64
	BattleRating   float64
	Background     string
	Title          string
	BattleBanned   bool
	BattleBanUntil int64 // unix seconds
}

type PlayStats struct {
	DecryptedPlus int `json:"decrypted_plus"`
	Decrypted     int `json:"decrypted"`
	Received      int `json:"received"`
	Lost          int `json:"lost"`
}

// PlayResult is a stored chart play as returned by the result lookup.
type PlayResult struct {
	Score    int       `json:"score"`
	Grade    int       `json:"grade"`
	Combo    int       `json:"combo"`
	MaxCombo int       `json:"maxCombo"`
	Stats    PlayStats `json:"stats"`
}

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMalformed     = errors.New("malformed message")
)
