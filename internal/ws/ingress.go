package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/codec"
	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/internal/metrics"
	"github.com/yourname/battle-server/pkg/types"
)

// SessionHeader carries the battle token on the upgrade request.
const SessionHeader = "X-Session"

const (
	defaultCharacter = "para"
	defaultSkin      = "para/default"
)

// Authenticator turns a bearer token into a user id.
type Authenticator interface {
	Verify(token string) (string, error)
}

// Profiles is the account and save-data lookup.
type Profiles interface {
	Profile(ctx context.Context, userID string) (*types.Profile, error)
	SaveValue(ctx context.Context, userID, path string) (string, bool, error)
}

// Dispatcher receives decoded actions. It is the match.Manager in a
// standalone or host process and the linker client on an instance.
type Dispatcher interface {
	Dispatch(p *match.Player, msg types.ClientMessage)
	RemovePlayer(p *match.Player)
}

// Ingress upgrades battle connections and pumps their frames into a
// Dispatcher.
type Ingress struct {
	codec    *codec.Codec
	auth     Authenticator
	profiles Profiles
	dispatch Dispatcher
	timeout  time.Duration
	log      *zap.SugaredLogger
	upgrade  websocket.Upgrader
}

func NewIngress(c *codec.Codec, auth Authenticator, profiles Profiles, d Dispatcher, lookupTimeout time.Duration, log *zap.SugaredLogger) *Ingress {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &Ingress{
		codec:    c,
		auth:     auth,
		profiles: profiles,
		dispatch: d,
		timeout:  lookupTimeout,
		log:      log.Named("ingress"),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (in *Ingress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := in.auth.Verify(r.Header.Get(SessionHeader))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), in.timeout)
	profile, err := in.profiles.Profile(ctx, userID)
	cancel()
	if err != nil || profile == nil {
		in.log.Warnw("profile lookup failed", "user", userID, "err", err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := in.upgrade.Upgrade(w, r, nil)
	if err != nil {
		in.log.Warnw("upgrade failed", "user", userID, "err", err)
		return
	}
	conn := newConn(ws, in.codec, in.log.With("user", userID))
	go conn.writePump()

	if profile.BattleBanned && profile.BattleBanUntil > time.Now().Unix() {
		in.log.Infow("refusing banned player", "user", userID)
		conn.Close()
		return
	}
	in.readPump(conn, profile)
}

func (in *Ingress) readPump(c *Conn, profile *types.Profile) {
	var player *match.Player
	defer func() {
		c.Close()
		if player != nil {
			in.dispatch.RemovePlayer(player)
		}
	}()

	c.ws.SetReadLimit(maxFrameSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				in.log.Debugw("read failed", "user", profile.ID, "err", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := in.decode(frame)
		if errors.Is(err, types.ErrUnknownAction) {
			in.log.Debugw("ignoring frame", "user", profile.ID, "err", err)
			continue
		}
		if err != nil {
			metrics.FramesRejected.Inc()
			in.log.Warnw("dropping malformed frame", "user", profile.ID, "err", err)
			continue
		}

		// The session is built here rather than on upgrade so the first
		// startMatch is not held up by the save lookup.
		if player == nil {
			player = match.NewPlayer(in.playerInfo(profile), c)
		}
		in.dispatch.Dispatch(player, msg)
	}
}

func (in *Ingress) decode(frame []byte) (types.ClientMessage, error) {
	plain, err := in.codec.DecodeFrame(frame)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return types.ParseClientMessage(plain)
}

// playerInfo resolves the live loadout from save data. Lookup failures fall
// back to the default character skin.
func (in *Ingress) playerInfo(profile *types.Profile) types.PlayerInfo {
	ctx, cancel := context.WithTimeout(context.Background(), in.timeout)
	defer cancel()

	character := in.saveValue(ctx, profile.ID, "/dict/currentCharacter", defaultCharacter)
	skin := in.saveValue(ctx, profile.ID, "/dict/skin/active/"+character, defaultSkin)
	return types.PlayerInfo{
		ID:           profile.ID,
		Username:     profile.Username,
		UsernameMask: strconv.Itoa(profile.UsernameCode),
		Rating:       profile.Rating,
		BattleRating: profile.BattleRating,
		Style: types.Style{
			Skin:  skin,
			Bg:    profile.Background,
			Title: profile.Title,
		},
	}
}

func (in *Ingress) saveValue(ctx context.Context, userID, path, def string) string {
	v, ok, err := in.profiles.SaveValue(ctx, userID, path)
	if err != nil {
		in.log.Warnw("save lookup failed", "user", userID, "path", path, "err", err)
		return def
	}
	if !ok || v == "" {
		return def
	}
	return v
}
