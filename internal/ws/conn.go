package ws

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/codec"
	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/pkg/types"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = 30 * time.Second
	maxFrameSize = 16 << 10
	sendBuffer   = 64
)

// Conn is a player's websocket. It implements match.Transport: outbound
// envelopes are JSON encoded, encrypted and written as base64 text frames by
// a single writer goroutine.
type Conn struct {
	ws    *websocket.Conn
	codec *codec.Codec
	log   *zap.SugaredLogger

	send chan []byte
	quit chan struct{}
	once sync.Once
}

func newConn(ws *websocket.Conn, c *codec.Codec, log *zap.SugaredLogger) *Conn {
	return &Conn{
		ws:    ws,
		codec: c,
		log:   log,
		send:  make(chan []byte, sendBuffer),
		quit:  make(chan struct{}),
	}
}

func (c *Conn) Deliver(env *types.ServerEnvelope) error {
	select {
	case <-c.quit:
		return match.ErrTransportClosed
	default:
	}
	plain, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Action, err)
	}
	frame, err := c.codec.EncodeFrame(plain)
	if err != nil {
		return err
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.quit:
		return match.ErrTransportClosed
	default:
		return fmt.Errorf("send buffer full, dropping %s", env.Action)
	}
}

// Close flushes queued frames and closes the socket. Safe to call more than
// once and from any goroutine.
func (c *Conn) Close() error {
	c.once.Do(func() { close(c.quit) })
	return nil
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.quit:
			for {
				select {
				case frame := <-c.send:
					if err := c.write(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *Conn) write(kind int, payload []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(kind, payload)
}
