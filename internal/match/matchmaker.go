package match

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourname/battle-server/internal/metrics"
	"github.com/yourname/battle-server/pkg/types"
)

// Catalog lists the tracks a roster can be drawn from.
type Catalog interface {
	Songs(ctx context.Context) ([]string, error)
}

// Manager pairs queued players first-in first-out and keeps the room
// registry. One Manager exists per process.
type Manager struct {
	catalog       Catalog
	results       PlayResults
	lookupTimeout time.Duration
	log           *zap.SugaredLogger

	mu       sync.Mutex
	queue    []*Player
	rooms    map[string]*Room
	byPlayer map[string]*Room
}

func NewManager(catalog Catalog, results PlayResults, lookupTimeout time.Duration, log *zap.SugaredLogger) *Manager {
	if lookupTimeout <= 0 {
		lookupTimeout = 5 * time.Second
	}
	return &Manager{
		catalog:       catalog,
		results:       results,
		lookupTimeout: lookupTimeout,
		log:           log.Named("match"),
		rooms:         map[string]*Room{},
		byPlayer:      map[string]*Room{},
	}
}

// AddPlayer queues p. A player already queued or seated is disconnected
// instead. Rooms formed by the join are started after the lock is released,
// so a slow transport never stalls matchmaking.
func (m *Manager) AddPlayer(p *Player) {
	m.mu.Lock()
	if _, ok := m.byPlayer[p.ID]; ok || m.queuedLocked(p.ID) >= 0 {
		m.mu.Unlock()
		m.log.Infow("rejecting duplicate join", "player", p.ID)
		p.Disconnect()
		return
	}
	m.queue = append(m.queue, p)
	m.log.Infow("player queued", "player", p.ID, "queue", len(m.queue))
	formed, failed := m.tryMakeMatchLocked()
	metrics.QueueSize.Set(float64(len(m.queue)))
	m.mu.Unlock()

	for _, fp := range failed {
		fp.Disconnect()
	}
	for _, room := range formed {
		room.Start()
		go m.reap(room)
	}
}

// tryMakeMatchLocked pairs the queue head and registers the new rooms. The
// caller starts them.
func (m *Manager) tryMakeMatchLocked() (formed []*Room, failed []*Player) {
	for len(m.queue) >= 2 {
		a, b := m.queue[0], m.queue[1]
		m.queue = m.queue[2:]

		room, err := m.newRoom(a, b)
		if err != nil {
			m.log.Errorw("create room", "p0", a.ID, "p1", b.ID, "err", err)
			failed = append(failed, a, b)
			continue
		}
		m.rooms[room.ID] = room
		m.byPlayer[a.ID] = room
		m.byPlayer[b.ID] = room
		formed = append(formed, room)

		metrics.MatchesTotal.Inc()
		metrics.RoomsActive.Set(float64(len(m.rooms)))
	}
	return formed, failed
}

func (m *Manager) newRoom(a, b *Player) (*Room, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.lookupTimeout)
	defer cancel()
	songs, err := m.catalog.Songs(ctx)
	if err != nil {
		return nil, err
	}
	roster, err := NewRoster(songs)
	if err != nil {
		return nil, err
	}
	return NewRoom(a, b, roster, m.results, m.lookupTimeout, m.log)
}

// reap drops a room from the registry once it has concluded on its own.
func (m *Manager) reap(room *Room) {
	<-room.Done()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(room)
}

func (m *Manager) dropLocked(room *Room) {
	if _, ok := m.rooms[room.ID]; !ok {
		return
	}
	for _, rp := range room.Players() {
		if m.byPlayer[rp.ID] == room {
			delete(m.byPlayer, rp.ID)
		}
	}
	delete(m.rooms, room.ID)
	metrics.RoomsActive.Set(float64(len(m.rooms)))
}

func (m *Manager) GetRoomByPlayerID(id string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byPlayer[id]
}

// RemovePlayer drops p from the queue, or tears down the room it sits in.
// Only the session itself counts: a rejected second connection for the same
// user leaves the queued or seated one alone.
func (m *Manager) RemovePlayer(p *Player) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, q := range m.queue {
		if q == p {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			m.log.Infow("player left queue", "player", p.ID)
			metrics.QueueSize.Set(float64(len(m.queue)))
			return
		}
	}
	room, ok := m.byPlayer[p.ID]
	if !ok || !room.Seats(p) {
		return
	}
	room.Disconnect(p)
	m.dropLocked(room)
}

func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

func (m *Manager) queuedLocked(id string) int {
	for i, q := range m.queue {
		if q.ID == id {
			return i
		}
	}
	return -1
}

// Dispatch routes one client action from p. Room actions are ignored while
// p has no room, and from any session other than the seated one.
func (m *Manager) Dispatch(p *Player, msg types.ClientMessage) {
	switch msg := msg.(type) {
	case types.Heartbeat:
	case types.StartMatch:
		p.SetLevel(msg.PlayerLevel)
		m.AddPlayer(p)
	case types.CancelGame, types.GameIsOver:
		m.RemovePlayer(p)
		p.Disconnect()
	default:
		if room := m.GetRoomByPlayerID(p.ID); room != nil {
			room.Handle(p, msg)
		}
	}
}
