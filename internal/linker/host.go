package linker

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/internal/metrics"
	"github.com/yourname/battle-server/pkg/types"
)

// Dispatcher is the match side of the host, normally a *match.Manager.
type Dispatcher interface {
	Dispatch(p *match.Player, msg types.ClientMessage)
	RemovePlayer(p *match.Player)
}

// Host is the linker endpoint on the elected process. Instances connect to
// it, identify with the shared token and relay their players' actions; the
// host runs matchmaking and rooms for those players and addresses replies
// back by player id.
type Host struct {
	token    string
	timeout  time.Duration
	dispatch Dispatcher
	log      *zap.SugaredLogger
	upgrade  websocket.Upgrader
}

func NewHost(token string, identifyTimeout time.Duration, d Dispatcher, log *zap.SugaredLogger) *Host {
	if identifyTimeout <= 0 {
		identifyTimeout = 10 * time.Second
	}
	return &Host{
		token:    token,
		timeout:  identifyTimeout,
		dispatch: d,
		log:      log.Named("linker-host"),
		upgrade:  websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrade.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	instanceID, err := h.handshake(conn)
	if err != nil {
		h.log.Warnw("instance refused", "remote", r.RemoteAddr, "err", err)
		return
	}
	inst := &instance{
		id:      instanceID,
		conn:    conn,
		log:     h.log.With("instance", instanceID),
		players: map[string]*match.Player{},
		closed:  h.dispatch.RemovePlayer,
	}
	metrics.LinkerInstances.Inc()
	defer metrics.LinkerInstances.Dec()
	inst.log.Infow("instance attached")
	h.serve(inst)
}

func (h *Host) handshake(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(h.timeout))
	var env types.RelayEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		return "", err
	}
	if !env.Linker || env.Action != types.LinkerActionIdentify {
		return "", errors.New("expected identify")
	}
	if subtle.ConstantTimeCompare([]byte(env.Token), []byte(h.token)) != 1 {
		return "", errors.New("bad token")
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Now().Add(h.timeout))
	err := conn.WriteJSON(types.RelayDelivery{Linker: true, Action: types.LinkerActionIdentified})
	conn.SetWriteDeadline(time.Time{})
	return env.InstanceID, err
}

func (h *Host) serve(inst *instance) {
	defer func() {
		for _, p := range inst.detachAll() {
			h.dispatch.RemovePlayer(p)
		}
		inst.log.Infow("instance detached")
	}()

	for {
		_, raw, err := inst.conn.ReadMessage()
		if err != nil {
			return
		}
		var env types.RelayEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			inst.log.Warnw("bad relay envelope", "err", err)
			continue
		}
		if !env.Linker || env.PlayerID == "" {
			continue
		}
		msg, err := types.DecodeClientMessage(env.Action, env.Data)
		if err != nil {
			inst.log.Debugw("ignoring relayed action", "player", env.PlayerID, "err", err)
			continue
		}
		p := inst.player(env)
		if p == nil {
			continue
		}
		if done, ok := msg.(types.DonePlaying); ok && env.PlayResult != nil {
			done.Result = env.PlayResult
			msg = done
		}
		h.dispatch.Dispatch(p, msg)
	}
}

type instance struct {
	id   string
	conn *websocket.Conn
	log  *zap.SugaredLogger
	// closed is told about sessions the host closed itself, so the match
	// side drops them the same way a closed local socket would be dropped.
	closed func(p *match.Player)

	writeMu sync.Mutex

	mu      sync.Mutex
	players map[string]*match.Player
}

// player returns the session for env's player, creating it when the
// envelope carries a profile snapshot.
func (inst *instance) player(env types.RelayEnvelope) *match.Player {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if p, ok := inst.players[env.PlayerID]; ok {
		return p
	}
	if env.PlayerInfo == nil || env.PlayerInfo.ID != env.PlayerID {
		return nil
	}
	tr := &relayTransport{inst: inst, playerID: env.PlayerID}
	p := match.NewPlayer(*env.PlayerInfo, tr)
	tr.player = p
	inst.players[env.PlayerID] = p
	return p
}

// forget drops the session behind tr. It reports false when the session was
// already detached.
func (inst *instance) forget(id string, tr *relayTransport) bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if p, ok := inst.players[id]; ok && p.Transport() == tr {
		delete(inst.players, id)
		return true
	}
	return false
}

func (inst *instance) detachAll() []*match.Player {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]*match.Player, 0, len(inst.players))
	for id, p := range inst.players {
		out = append(out, p)
		delete(inst.players, id)
	}
	return out
}

func (inst *instance) write(d types.RelayDelivery) error {
	inst.writeMu.Lock()
	defer inst.writeMu.Unlock()
	inst.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return inst.conn.WriteJSON(d)
}

// relayTransport routes a remote player's messages back through the
// instance that holds the socket.
type relayTransport struct {
	inst     *instance
	playerID string
	player   *match.Player

	mu     sync.Mutex
	closed bool
}

func (t *relayTransport) Deliver(env *types.ServerEnvelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return match.ErrTransportClosed
	}
	data, err := json.Marshal(env.Data)
	if err != nil {
		return err
	}
	return t.inst.write(types.RelayDelivery{
		Linker:         true,
		TargetPlayerID: t.playerID,
		Action:         env.Action,
		Status:         env.Status,
		Nonce:          env.Nonce,
		Data:           data,
	})
}

// Close asks the instance to close the player's socket.
func (t *relayTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	if t.inst.forget(t.playerID, t) && t.inst.closed != nil {
		// Close can run under the match manager's lock; report it later.
		go t.inst.closed(t.player)
	}
	err := t.inst.write(types.RelayDelivery{
		Linker:         true,
		TargetPlayerID: t.playerID,
		Action:         types.LinkerActionCloseSession,
	})
	if err != nil {
		t.inst.log.Debugw("close session not delivered", "player", t.playerID, "err", err)
	}
	return nil
}
