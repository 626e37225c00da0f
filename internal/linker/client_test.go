package linker_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/linker"
	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/internal/match/matchtest"
	"github.com/yourname/battle-server/pkg/types"
)

// fakeRelay accepts instance connections and records what they send.
type fakeRelay struct {
	srv        *httptest.Server
	envs       chan types.RelayEnvelope
	conns      chan *websocket.Conn
	identifies atomic.Int32
}

func newFakeRelay(t *testing.T) *fakeRelay {
	t.Helper()
	r := &fakeRelay{
		envs:  make(chan types.RelayEnvelope, 64),
		conns: make(chan *websocket.Conn, 4),
	}
	up := websocket.Upgrader{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var id types.RelayEnvelope
		if err := conn.ReadJSON(&id); err != nil || id.Token != "secret" {
			return
		}
		r.identifies.Add(1)
		if err := conn.WriteJSON(types.RelayDelivery{Linker: true, Action: types.LinkerActionIdentified}); err != nil {
			return
		}
		r.conns <- conn
		for {
			var env types.RelayEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			r.envs <- env
		}
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *fakeRelay) url() string { return "ws" + strings.TrimPrefix(r.srv.URL, "http") }

func (r *fakeRelay) next(t *testing.T) types.RelayEnvelope {
	t.Helper()
	select {
	case env := <-r.envs:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("relay received nothing")
	}
	return types.RelayEnvelope{}
}

func (r *fakeRelay) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case env := <-r.envs:
		t.Fatalf("unexpected relay envelope %q", env.Action)
	case <-time.After(d):
	}
}

func startClient(t *testing.T, cfg linker.Config, results match.PlayResults) *linker.Client {
	t.Helper()
	c := linker.NewClient(cfg, results, zap.NewNop().Sugar())
	require.NoError(t, c.Start())
	t.Cleanup(c.Stop)
	return c
}

func TestClient_ForwardsWithPlayerInfo(t *testing.T) {
	relay := newFakeRelay(t)
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret"}, nil)
	<-relay.conns

	a, _ := matchtest.NewPlayer("a")
	c.Dispatch(a, types.Heartbeat{})
	c.Dispatch(a, types.StartMatch{PlayerLevel: 10})

	env := relay.next(t)
	assert.True(t, env.Linker)
	assert.Equal(t, "a", env.PlayerID)
	assert.Equal(t, types.ActionStartMatch, env.Action)
	require.NotNil(t, env.PlayerInfo)
	assert.Equal(t, 10, env.PlayerInfo.Level)
	assert.Equal(t, "bg-a", env.PlayerInfo.Style.Bg)
	assert.JSONEq(t, `{"isHiddenInfo":false,"isHiddenRating":false,"playerLevel":10}`, string(env.Data))

	c.Dispatch(a, types.BanChart{ChartIndex: 3})
	env = relay.next(t)
	assert.Equal(t, types.ActionBanChart, env.Action)
	assert.Nil(t, env.PlayerInfo)
	assert.JSONEq(t, `{"chartIndex":3}`, string(env.Data))
}

func TestClient_DonePlayingCarriesResult(t *testing.T) {
	relay := newFakeRelay(t)
	res := matchtest.NewResults()
	res.Put("r1", &types.PlayResult{Score: 950000, Combo: 3, MaxCombo: 400, Stats: types.PlayStats{DecryptedPlus: 10}})
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret"}, res)
	<-relay.conns

	a, _ := matchtest.NewPlayer("a")
	c.Dispatch(a, types.DonePlaying{ResultID: "r1", JudgeDetails: [4]int{1, 2, 3, 4}})
	env := relay.next(t)
	require.NotNil(t, env.PlayResult)
	assert.Equal(t, 950000, env.PlayResult.Score)
	assert.Equal(t, 10, env.PlayResult.Stats.DecryptedPlus)

	c.Dispatch(a, types.DonePlaying{ResultID: "missing"})
	env = relay.next(t)
	assert.Equal(t, types.ActionDonePlaying, env.Action)
	assert.Nil(t, env.PlayResult)
}

func TestClient_CoalescesScoreUpdates(t *testing.T) {
	relay := newFakeRelay(t)
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret", ScoreInterval: 300 * time.Millisecond}, nil)
	<-relay.conns

	a, _ := matchtest.NewPlayer("a")
	for i := 1; i <= 10; i++ {
		c.Dispatch(a, types.UpdateScore{ScoreData: types.ScoreData{Score: i * 1000, TotalNote: 100}})
	}
	relay.none(t, 200*time.Millisecond)

	env := relay.next(t)
	assert.Equal(t, types.ActionUpdateScore, env.Action)
	var got types.ScoreData
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 10000, got.Score)

	// Nothing new, nothing sent.
	relay.none(t, 400*time.Millisecond)

	c.Dispatch(a, types.UpdateScore{ScoreData: types.ScoreData{Score: 42}})
	env = relay.next(t)
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 42, got.Score)
}

func TestClient_DeliversToLocalPlayer(t *testing.T) {
	relay := newFakeRelay(t)
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret"}, nil)
	conn := <-relay.conns

	a, ta := matchtest.NewPlayer("a")
	c.Dispatch(a, types.StartMatch{})
	relay.next(t)

	require.NoError(t, conn.WriteJSON(types.RelayDelivery{Linker: true, TargetPlayerID: "nobody", Action: types.ActionAllPlayerReady}))
	require.NoError(t, conn.WriteJSON(types.RelayDelivery{
		Linker:         true,
		TargetPlayerID: "a",
		Action:         types.ActionAnnounceFinalChart,
		Data:           json.RawMessage(`{"banChartIndex":[1,2],"trackId":"t9","chartDiff":2,"chartSpecialEffect":null}`),
	}))
	env := ta.Next(t, types.ActionAnnounceFinalChart)
	assert.Equal(t, types.StatusOK, env.Status)
	assert.NotEmpty(t, env.Nonce)
	var ann types.AnnounceFinalChart
	require.NoError(t, env.DecodeData(&ann))
	assert.Equal(t, "t9", ann.TrackID)

	require.NoError(t, conn.WriteJSON(types.RelayDelivery{Linker: true, TargetPlayerID: "a", Action: types.LinkerActionCloseSession}))
	require.Eventually(t, ta.Closed, time.Second, 5*time.Millisecond)

	// The host already knows; closing the socket must not forward a cancel.
	c.RemovePlayer(a)
	relay.none(t, 50*time.Millisecond)
}

func TestClient_RemovePlayerForwardsCancel(t *testing.T) {
	relay := newFakeRelay(t)
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret"}, nil)
	<-relay.conns

	a, ta := matchtest.NewPlayer("a")
	c.Dispatch(a, types.StartMatch{})
	relay.next(t)

	c.RemovePlayer(a)
	env := relay.next(t)
	assert.Equal(t, types.ActionCancelGame, env.Action)
	assert.Equal(t, "a", env.PlayerID)
	assert.False(t, ta.Closed())

	c.RemovePlayer(a)
	relay.none(t, 50*time.Millisecond)
}

func TestClient_RejectsSecondConnection(t *testing.T) {
	relay := newFakeRelay(t)
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret"}, nil)
	<-relay.conns

	a, ta := matchtest.NewPlayer("a")
	c.Dispatch(a, types.StartMatch{})
	relay.next(t)

	dup, tDup := matchtest.NewPlayer("a")
	c.Dispatch(dup, types.StartMatch{})
	c.Dispatch(dup, types.UpdateScore{ScoreData: types.ScoreData{Score: 7}})
	assert.True(t, tDup.Closed())

	// The rejected socket closing says nothing about the first one.
	c.RemovePlayer(dup)
	relay.none(t, 400*time.Millisecond)
	assert.False(t, ta.Closed())

	c.RemovePlayer(a)
	env := relay.next(t)
	assert.Equal(t, types.ActionCancelGame, env.Action)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	relay := newFakeRelay(t)
	c := startClient(t, linker.Config{URL: relay.url(), Token: "secret", ReconnectDelay: 50 * time.Millisecond}, nil)
	conn := <-relay.conns

	a, ta := matchtest.NewPlayer("a")
	c.Dispatch(a, types.StartMatch{})
	relay.next(t)

	conn.Close()
	require.Eventually(t, ta.Closed, time.Second, 5*time.Millisecond)

	// Forwards while down are dropped, not queued.
	b, _ := matchtest.NewPlayer("b")
	c.Dispatch(b, types.BanChart{ChartIndex: 1})

	<-relay.conns
	require.Eventually(t, c.IsConnected, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, relay.identifies.Load())
	relay.none(t, 50*time.Millisecond)
}

func TestClient_RetriesUntilLinkerUp(t *testing.T) {
	c := linker.NewClient(linker.Config{URL: "ws://127.0.0.1:1/linker", Token: "secret", ReconnectDelay: 20 * time.Millisecond}, nil, zap.NewNop().Sugar())
	assert.Error(t, c.Start())
	assert.False(t, c.IsConnected())
	time.Sleep(60 * time.Millisecond)
	c.Stop()
	assert.False(t, c.IsConnected())
}

func TestClient_DropsUnresponsiveLinker(t *testing.T) {
	var identifies atomic.Int32
	hold := make(chan struct{})
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := up.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var id types.RelayEnvelope
		if err := conn.ReadJSON(&id); err != nil {
			return
		}
		identifies.Add(1)
		if err := conn.WriteJSON(types.RelayDelivery{Linker: true, Action: types.LinkerActionIdentified}); err != nil {
			return
		}
		// Never read again, so pings go unanswered.
		<-hold
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(hold) })

	cfg := linker.Config{
		URL:               "ws" + strings.TrimPrefix(srv.URL, "http"),
		Token:             "secret",
		HeartbeatInterval: 50 * time.Millisecond,
		ReconnectDelay:    50 * time.Millisecond,
	}
	c := startClient(t, cfg, nil)

	a, ta := matchtest.NewPlayer("a")
	c.Dispatch(a, types.StartMatch{})
	require.Eventually(t, ta.Closed, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return identifies.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
}
