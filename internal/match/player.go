package match

import (
	"errors"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/yourname/battle-server/pkg/types"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is the live connection behind a Player. It is either a local
// websocket or a relay route to another process.
type Transport interface {
	// Deliver writes env to the remote end. It returns ErrTransportClosed
	// once the transport is closed.
	Deliver(env *types.ServerEnvelope) error
	// Close is idempotent.
	Close() error
}

// Player is one connected session plus the profile facts a Room needs.
type Player struct {
	ID           string
	Username     string
	UsernameMask string
	Rating       float64
	BattleRating float64
	Style        types.Style

	level atomic.Int64
	tr    Transport
}

func NewPlayer(info types.PlayerInfo, tr Transport) *Player {
	p := &Player{
		ID:           info.ID,
		Username:     info.Username,
		UsernameMask: info.UsernameMask,
		Rating:       info.Rating,
		BattleRating: info.BattleRating,
		Style:        info.Style,
		tr:           tr,
	}
	p.level.Store(int64(info.Level))
	return p
}

// Level is reported by the client with startMatch.
func (p *Player) Level() int       { return int(p.level.Load()) }
func (p *Player) SetLevel(lvl int) { p.level.Store(int64(lvl)) }

func (p *Player) Info() types.PlayerInfo {
	return types.PlayerInfo{
		ID:           p.ID,
		Username:     p.Username,
		UsernameMask: p.UsernameMask,
		Level:        p.Level(),
		Rating:       p.Rating,
		BattleRating: p.BattleRating,
		Style:        p.Style,
	}
}

// Send stamps a fresh nonce and status ok on msg and writes it out.
func (p *Player) Send(msg types.ServerPayload) error {
	return p.tr.Deliver(&types.ServerEnvelope{
		Action: msg.Action(),
		Status: types.StatusOK,
		Nonce:  uuid.NewString(),
		Data:   msg,
	})
}

func (p *Player) Disconnect() {
	_ = p.tr.Close()
}

// Transport returns the connection behind p.
func (p *Player) Transport() Transport { return p.tr }
