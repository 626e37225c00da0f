// Package matchtest has in-memory stand-ins for the match package's
// collaborators.
package matchtest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/yourname/battle-server/internal/match"
	"github.com/yourname/battle-server/pkg/types"
)

// Transport records delivered envelopes on a channel.
type Transport struct {
	Out chan *types.ServerEnvelope

	mu     sync.Mutex
	closed bool
}

func NewTransport() *Transport {
	return &Transport{Out: make(chan *types.ServerEnvelope, 64)}
}

func (t *Transport) Deliver(env *types.ServerEnvelope) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return match.ErrTransportClosed
	}
	t.Out <- env
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Next waits for the next envelope and checks its action.
func (t *Transport) Next(tb testing.TB, action string) *types.ServerEnvelope {
	tb.Helper()
	select {
	case env := <-t.Out:
		if env.Action != action {
			tb.Fatalf("got action %q, want %q", env.Action, action)
		}
		return env
	case <-time.After(2 * time.Second):
		tb.Fatalf("timed out waiting for %q", action)
	}
	return nil
}

// None asserts nothing arrives within d.
func (t *Transport) None(tb testing.TB, d time.Duration) {
	tb.Helper()
	select {
	case env := <-t.Out:
		tb.Fatalf("unexpected %q", env.Action)
	case <-time.After(d):
	}
}

// NewPlayer builds a player with a recording transport.
func NewPlayer(id string) (*match.Player, *Transport) {
	tr := NewTransport()
	return match.NewPlayer(types.PlayerInfo{
		ID:           id,
		Username:     "user-" + id,
		UsernameMask: "0001",
		Rating:       10.5,
		BattleRating: 1200,
		Style:        types.Style{Skin: "para/default", Bg: "bg-" + id, Title: "title-" + id},
	}, tr), tr
}

// Catalog is a fixed song list.
type Catalog []string

func (c Catalog) Songs(context.Context) ([]string, error) { return c, nil }

// DefaultCatalog has more than a roster's worth of tracks.
var DefaultCatalog = Catalog{"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7"}

// Results serves play results from a map.
type Results struct {
	mu   sync.Mutex
	byID map[string]*types.PlayResult
}

func NewResults() *Results { return &Results{byID: map[string]*types.PlayResult{}} }

func (r *Results) Put(id string, res *types.PlayResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = res
}

func (r *Results) PlayResult(_ context.Context, id string) (*types.PlayResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id == "broken" {
		return nil, fmt.Errorf("lookup %s: unavailable", id)
	}
	return r.byID[id], nil
}
