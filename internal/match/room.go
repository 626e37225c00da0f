package match

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/pkg/types"
)

// Phase of a Room.
type Phase int

const (
	PhaseForming Phase = iota
	PhaseBanning
	PhaseInGame
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseForming:
		return "forming"
	case PhaseBanning:
		return "banning"
	case PhaseInGame:
		return "ingame"
	case PhaseFinished:
		return "finished"
	}
	return "unknown"
}

// Slot identifies one of the two seats of a room.
type Slot int

const (
	Slot0 Slot = iota
	Slot1
)

func (s Slot) Other() Slot { return 1 - s }

// PlayResults resolves a submitted result id. A missing record is (nil, nil).
type PlayResults interface {
	PlayResult(ctx context.Context, id string) (*types.PlayResult, error)
}

type seat struct {
	player *Player

	ban          int
	banned       bool
	ready        bool
	finished     bool
	disconnected bool

	resultID string
	result   *types.PlayResult
	judge    [4]int
}

type event struct {
	slot Slot
	msg  types.ClientMessage // nil means the player disconnected
}

// Room runs one duel. All state below is owned by the run goroutine; other
// goroutines talk to it through post.
type Room struct {
	ID     string
	Roster Roster

	seats     [2]seat
	phase     Phase
	announced bool

	results       PlayResults
	lookupTimeout time.Duration
	log           *zap.SugaredLogger

	events chan event
	done   chan struct{}
}

// NewRoom seats a and b. It does not contact either player until Start.
func NewRoom(a, b *Player, roster Roster, results PlayResults, lookupTimeout time.Duration, log *zap.SugaredLogger) (*Room, error) {
	if a == nil || b == nil {
		return nil, errors.New("room needs two players")
	}
	if a.ID == b.ID {
		return nil, errors.New("room players must be distinct")
	}
	r := &Room{
		ID:            uuid.NewString(),
		Roster:        roster,
		results:       results,
		lookupTimeout: lookupTimeout,
		events:        make(chan event, 32),
		done:          make(chan struct{}),
	}
	r.log = log.With("room", r.ID)
	r.seats[Slot0] = seat{player: a, ban: -1}
	r.seats[Slot1] = seat{player: b, ban: -1}
	return r, nil
}

// Start confirms the match to both players, announces the roster and enters
// the ban phase.
func (r *Room) Start() {
	r.broadcast(types.MatchConfirm{})
	for _, s := range []Slot{Slot0, Slot1} {
		opp := r.seats[s.Other()].player
		tracks, diffs := r.Roster.ChartInfo()
		r.send(s, types.MatchSuccess{
			RoomID: r.ID,
			ChartInfo: types.ChartInfo{
				TrackList:              tracks,
				DiffList:               diffs,
				ChartSpecialEffectList: make([]any, len(tracks)),
			},
			OpponentID:           opp.ID,
			OpponentRating:       opp.Rating,
			OpponentBattleRating: opp.BattleRating,
			OpponentStyle:        opp.Style,
			OpponentUsername:     opp.Username,
			OpponentUsernameMask: opp.UsernameMask,
			OpponentLevel:        opp.Level(),
		})
	}
	r.phase = PhaseBanning
	r.log.Infow("room started", "p0", r.seats[Slot0].player.Username, "p1", r.seats[Slot1].player.Username)
	go r.run()
}

// Players returns both seated players, slot order.
func (r *Room) Players() [2]*Player {
	return [2]*Player{r.seats[Slot0].player, r.seats[Slot1].player}
}

// Seats reports whether p is one of the room's two sessions.
func (r *Room) Seats(p *Player) bool {
	_, ok := r.slotOf(p)
	return ok
}

func (r *Room) slotOf(p *Player) (Slot, bool) {
	for _, s := range []Slot{Slot0, Slot1} {
		if r.seats[s].player == p {
			return s, true
		}
	}
	return 0, false
}

// Handle queues msg from p. Messages from anyone not seated are dropped.
func (r *Room) Handle(p *Player, msg types.ClientMessage) {
	if s, ok := r.slotOf(p); ok {
		r.post(event{slot: s, msg: msg})
	}
}

// Disconnect tells the room p's connection is gone.
func (r *Room) Disconnect(p *Player) {
	if s, ok := r.slotOf(p); ok {
		r.post(event{slot: s})
	}
}

// Done is closed once the room stops processing events.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) post(ev event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *Room) run() {
	defer close(r.done)
	for ev := range r.events {
		if ev.msg == nil {
			r.onDisconnect(ev.slot)
		} else {
			r.onMessage(ev.slot, ev.msg)
		}
		if r.phase == PhaseFinished {
			return
		}
	}
}

func (r *Room) onMessage(s Slot, msg types.ClientMessage) {
	st := &r.seats[s]
	switch m := msg.(type) {
	case types.BanChart:
		if r.phase != PhaseBanning || st.banned || m.ChartIndex < 0 || m.ChartIndex >= RosterSize {
			return
		}
		st.banned, st.ban = true, m.ChartIndex
	case types.PlayerReady:
		if r.phase != PhaseBanning {
			return
		}
		st.ready = true
	case types.UpdateScore:
		if r.phase == PhaseInGame {
			r.send(s.Other(), types.OpponentScoreUpdate{ScoreData: m.ScoreData})
		}
		return
	case types.DonePlaying:
		if r.phase != PhaseInGame || st.finished {
			return
		}
		st.finished = true
		st.resultID, st.judge, st.result = m.ResultID, m.JudgeDetails, m.Result
	default:
		return
	}
	r.advance()
}

// advance re-checks every gate for the current phase. It is safe to call
// after any event; a gate that already opened is not reopened.
func (r *Room) advance() {
	a, b := &r.seats[Slot0], &r.seats[Slot1]
	if r.phase == PhaseBanning && !r.announced && a.banned && b.banned {
		r.announceFinal()
	}
	if r.phase == PhaseBanning && r.announced && a.ready && b.ready {
		r.phase = PhaseInGame
		r.broadcast(types.AllPlayerReady{})
	}
	if r.phase == PhaseInGame && a.finished && b.finished {
		r.finish()
	}
}

func (r *Room) announceFinal() {
	bans := [2]int{r.seats[Slot0].ban, r.seats[Slot1].ban}
	idx := pickFinal(bans)
	r.announced = true
	r.broadcast(types.AnnounceFinalChart{
		BanChartIndex: bans,
		TrackID:       r.Roster.Tracks[idx],
		ChartDiff:     r.Roster.Diffs[idx],
	})
	r.log.Debugw("final chart", "bans", bans, "track", r.Roster.Tracks[idx])
}

func (r *Room) finish() {
	r.phase = PhaseFinished
	var scores [2]types.ScoreSummary
	var resolved [2]bool
	for _, s := range []Slot{Slot0, Slot1} {
		res := r.resolve(s)
		resolved[s] = res != nil
		if res == nil {
			res = &types.PlayResult{}
		}
		scores[s] = types.ScoreSummary{
			Score:         res.Score,
			DecryptedPlus: res.Stats.DecryptedPlus,
			Decrypted:     res.Stats.Decrypted,
			Received:      res.Stats.Received,
			Lost:          res.Stats.Lost,
			Grade:         Grade(res.Score),
		}
	}
	winner, ok := decideWinner(scores, resolved)
	for _, s := range []Slot{Slot0, Slot1} {
		o := s.Other()
		// Rating fields stay zero: rating adjustment lives outside this server.
		r.send(s, types.GameOver{
			IsWin:                ok && winner == s,
			OpponentScore:        scores[o],
			OpponentJudgeDetails: r.seats[o].judge,
		})
	}
	r.log.Infow("room finished", "score0", scores[Slot0].Score, "score1", scores[Slot1].Score)
}

// decideWinner returns the winning slot. A resolved result beats a missing
// one; ties and two missing results have no winner.
func decideWinner(scores [2]types.ScoreSummary, resolved [2]bool) (Slot, bool) {
	switch {
	case resolved[Slot0] && !resolved[Slot1]:
		return Slot0, true
	case resolved[Slot1] && !resolved[Slot0]:
		return Slot1, true
	case !resolved[Slot0]:
		return 0, false
	case scores[Slot0].Score > scores[Slot1].Score:
		return Slot0, true
	case scores[Slot1].Score > scores[Slot0].Score:
		return Slot1, true
	}
	return 0, false
}

func (r *Room) resolve(s Slot) *types.PlayResult {
	st := &r.seats[s]
	if st.result != nil {
		return st.result
	}
	if st.resultID == "" || r.results == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.lookupTimeout)
	defer cancel()
	res, err := r.results.PlayResult(ctx, st.resultID)
	if err != nil {
		r.log.Warnw("play result lookup failed", "player", st.player.ID, "result", st.resultID, "err", err)
		return nil
	}
	return res
}

func (r *Room) onDisconnect(s Slot) {
	r.seats[s].disconnected = true
	r.log.Infow("player disconnected", "player", r.seats[s].player.ID, "phase", r.phase)
	if r.phase == PhaseFinished {
		return
	}
	if o := s.Other(); !r.seats[o].disconnected && (r.phase == PhaseBanning || r.phase == PhaseInGame) {
		r.send(o, types.GameOver{IsWin: true, OpponentScore: types.ScoreSummary{Grade: Grade(0)}})
	}
	r.phase = PhaseFinished
	r.seats[Slot0].player.Disconnect()
	r.seats[Slot1].player.Disconnect()
}

func (r *Room) send(s Slot, msg types.ServerPayload) {
	p := r.seats[s].player
	if err := p.Send(msg); err != nil && !errors.Is(err, ErrTransportClosed) {
		r.log.Warnw("send failed", "player", p.ID, "action", msg.Action(), "err", err)
	}
}

func (r *Room) broadcast(msg types.ServerPayload) {
	r.send(Slot0, msg)
	r.send(Slot1, msg)
}
