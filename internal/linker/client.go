package linker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/internal/metrics"
	"github.com/yourname/battle-server/pkg/types"
)

var ErrNotConnected = errors.New("linker not connected")

type Config struct {
	URL        string
	Token      string
	InstanceID string

	HeartbeatInterval time.Duration
	ReconnectDelay    time.Duration
	ScoreInterval     time.Duration
	IdentifyTimeout   time.Duration
	LookupTimeout     time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.ScoreInterval <= 0 {
		c.ScoreInterval = 300 * time.Millisecond
	}
	if c.IdentifyTimeout <= 0 {
		c.IdentifyTimeout = 10 * time.Second
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = 5 * time.Second
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
}

type localUser struct {
	player  *match.Player
	pending *types.ScoreData
	ticking bool
	stop    chan struct{}
}

// Client forwards local players' actions to the linker host and delivers the
// host's replies to their sockets. It satisfies the ingress Dispatcher.
type Client struct {
	cfg     Config
	results match.PlayResults
	log     *zap.SugaredLogger
	dialer  *websocket.Dialer

	mu           sync.Mutex
	conn         *websocket.Conn
	heartbeat    chan struct{}
	users        map[string]*localUser
	timer        *time.Timer
	reconnecting bool
	stopped      bool

	writeMu sync.Mutex
}

func NewClient(cfg Config, results match.PlayResults, log *zap.SugaredLogger) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		results: results,
		log:     log.Named("linker"),
		dialer:  &websocket.Dialer{HandshakeTimeout: cfg.IdentifyTimeout},
		users:   map[string]*localUser{},
	}
}

// Start makes the first connection attempt. On failure a reconnect is
// scheduled and the error returned for logging.
func (c *Client) Start() error {
	if err := c.connect(); err != nil {
		c.scheduleReconnect()
		return err
	}
	return nil
}

// Stop closes the relay connection and cancels any pending reconnect.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) connect() error {
	c.log.Infow("connecting to linker", "url", c.cfg.URL)
	conn, _, err := c.dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial linker: %w", err)
	}
	if err := c.identify(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		conn.Close()
		return errors.New("linker client stopped")
	}
	c.conn = conn
	c.reconnecting = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.heartbeat = make(chan struct{})
	hb := c.heartbeat
	c.mu.Unlock()

	// A relay that stops answering pings is treated as gone.
	conn.SetReadDeadline(time.Now().Add(c.readWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readWait()))
	})

	metrics.LinkerConnected.Set(1)
	c.log.Infow("connected to linker", "instance", c.cfg.InstanceID)
	go c.pingLoop(conn, hb)
	go c.readLoop(conn)
	return nil
}

func (c *Client) identify(conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.IdentifyTimeout)
	conn.SetWriteDeadline(deadline)
	err := conn.WriteJSON(types.RelayEnvelope{
		Linker:     true,
		Action:     types.LinkerActionIdentify,
		InstanceID: c.cfg.InstanceID,
		Token:      c.cfg.Token,
	})
	if err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	conn.SetReadDeadline(deadline)
	var ack types.RelayDelivery
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("read identify ack: %w", err)
	}
	if !ack.Linker || ack.Action != types.LinkerActionIdentified {
		return fmt.Errorf("linker refused identify: %q", ack.Action)
	}
	conn.SetReadDeadline(time.Time{})
	conn.SetWriteDeadline(time.Time{})
	return nil
}

func (c *Client) readWait() time.Duration { return 2 * c.cfg.HeartbeatInterval }

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				c.log.Warnw("linker ping failed", "err", err)
			}
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.log.Warnw("linker connection lost", "err", err)
			c.dropConnection(conn)
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.readWait()))
		var d types.RelayDelivery
		if err := json.Unmarshal(raw, &d); err != nil {
			c.log.Warnw("bad linker message", "err", err)
			continue
		}
		if d.Linker && d.TargetPlayerID != "" {
			c.deliver(d)
		}
	}
}

// dropConnection closes every local player socket and schedules a
// reconnect. In-flight matches for those players are void.
func (c *Client) dropConnection(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	close(c.heartbeat)
	users := c.users
	c.users = map[string]*localUser{}
	c.mu.Unlock()

	conn.Close()
	metrics.LinkerConnected.Set(0)
	c.log.Infow("linker disconnected, closing local players", "players", len(users))
	for _, u := range users {
		close(u.stop)
		u.player.Disconnect()
	}
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.reconnecting || c.timer != nil || c.conn != nil {
		return
	}
	c.log.Infow("scheduling linker reconnect", "delay", c.cfg.ReconnectDelay)
	c.timer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.timer = nil
		if c.stopped || c.conn != nil {
			c.mu.Unlock()
			return
		}
		c.reconnecting = true
		c.mu.Unlock()

		metrics.LinkerReconnects.Inc()
		if err := c.connect(); err != nil {
			c.log.Warnw("linker reconnect failed", "err", err)
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			c.scheduleReconnect()
		}
	})
}

func (c *Client) deliver(d types.RelayDelivery) {
	c.mu.Lock()
	u := c.users[d.TargetPlayerID]
	if u != nil && d.Action == types.LinkerActionCloseSession {
		delete(c.users, d.TargetPlayerID)
		close(u.stop)
	}
	c.mu.Unlock()

	if u == nil {
		c.log.Infow("target player not connected", "player", d.TargetPlayerID, "action", d.Action)
		return
	}
	if d.Action == types.LinkerActionCloseSession {
		u.player.Disconnect()
		return
	}
	data := d.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	err := u.player.Transport().Deliver(&types.ServerEnvelope{
		Action: d.Action,
		Status: types.StatusOK,
		Nonce:  uuid.NewString(),
		Data:   data,
	})
	if err != nil {
		c.log.Infow("dropping message for player", "player", d.TargetPlayerID, "action", d.Action, "err", err)
	}
}

// Dispatch forwards msg from a local player. Score samples are cached and
// flushed on the player's score ticker instead.
func (c *Client) Dispatch(p *match.Player, msg types.ClientMessage) {
	switch m := msg.(type) {
	case types.Heartbeat:
		return
	case types.StartMatch:
		p.SetLevel(m.PlayerLevel)
	case types.UpdateScore:
		c.cacheScore(p, m.ScoreData)
		return
	}
	if _, ok := c.addUser(p); !ok {
		c.log.Infow("rejecting second connection", "player", p.ID)
		p.Disconnect()
		return
	}

	if err := c.forward(p, msg); err != nil {
		metrics.LinkerDropped.Inc()
		c.log.Infow("cannot forward to linker", "player", p.ID, "action", msg.Action(), "err", err)
	}

	switch msg.(type) {
	case types.CancelGame, types.GameIsOver:
		c.removeUser(p)
		p.Disconnect()
	}
}

// RemovePlayer is called when a local socket closes. The host is told the
// player cancelled.
func (c *Client) RemovePlayer(p *match.Player) {
	if !c.removeUser(p) {
		return
	}
	if c.IsConnected() {
		if err := c.forward(p, types.CancelGame{}); err != nil {
			c.log.Infow("forward cancel failed", "player", p.ID, "err", err)
		}
	}
}

// addUser registers p as the live session for its user id. It reports
// false when another session already holds the id.
func (c *Client) addUser(p *match.Player) (*localUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addUserLocked(p)
}

func (c *Client) addUserLocked(p *match.Player) (*localUser, bool) {
	u, ok := c.users[p.ID]
	if !ok {
		u = &localUser{player: p, stop: make(chan struct{})}
		c.users[p.ID] = u
	}
	return u, u.player == p
}

func (c *Client) removeUser(p *match.Player) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.users[p.ID]
	if !ok || u.player != p {
		return false
	}
	delete(c.users, p.ID)
	close(u.stop)
	return true
}

// forward wraps msg in a relay envelope tagged with p.
func (c *Client) forward(p *match.Player, msg types.ClientMessage) error {
	c.mu.Lock()
	connected := c.conn != nil
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	data, err := types.MarshalClientData(msg)
	if err != nil {
		return err
	}
	env := types.RelayEnvelope{
		Linker:    true,
		PlayerID:  p.ID,
		Action:    msg.Action(),
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
	switch m := msg.(type) {
	case types.StartMatch:
		info := p.Info()
		env.PlayerInfo = &info
	case types.DonePlaying:
		env.PlayResult = c.lookupResult(m.ResultID)
	}
	return c.send(env)
}

func (c *Client) lookupResult(id string) *types.PlayResult {
	if c.results == nil || id == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.LookupTimeout)
	defer cancel()
	res, err := c.results.PlayResult(ctx, id)
	if err != nil {
		c.log.Warnw("play result lookup failed", "result", id, "err", err)
		return nil
	}
	return res
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}
