package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"satwallet/internal/domain"
)

// DefaultTTL is how long a peer stays listed after its last heartbeat.
const DefaultTTL = 30 * time.Second

// ErrEmptyID is returned when room or user id is blank.
var ErrEmptyID = errors.New("room and user id are required")

// Option configures a Memory.
type Option func(*Memory)

// WithTTL sets the heartbeat expiry.
func WithTTL(d time.Duration) Option { return func(m *Memory) { m.ttl = d } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(m *Memory) { m.now = now } }

// Memory is an in-process domain.Presence.
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]map[string]domain.Peer
}

// NewMemory returns an empty presence table.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		ttl:   DefaultTTL,
		now:   time.Now,
		rooms: make(map[string]map[string]domain.Peer),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Heartbeat marks userID alive in room.
func (m *Memory) Heartbeat(_ context.Context, room, userID string) error {
	if room == "" || userID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.peerLocked(room, userID)
	p.LastSeen = m.now()
	m.rooms[room][userID] = p
	return nil
}

// UpdateCursor records a cursor position. It also counts as a heartbeat.
func (m *Memory) UpdateCursor(_ context.Context, room, userID string, x, y float64) error {
	if room == "" || userID == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.peerLocked(room, userID)
	p.CursorX, p.CursorY = x, y
	p.LastSeen = m.now()
	m.rooms[room][userID] = p
	return nil
}

// Disconnect removes userID from room.
func (m *Memory) Disconnect(_ context.Context, room, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers, ok := m.rooms[room]
	if !ok {
		return nil
	}
	delete(peers, userID)
	if len(peers) == 0 {
		delete(m.rooms, room)
	}
	return nil
}

// List returns the live peers in room ordered by user id. Expired entries
// are pruned.
func (m *Memory) List(_ context.Context, room string) ([]domain.Peer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	peers := m.rooms[room]
	cutoff := m.now().Add(-m.ttl)
	out := make([]domain.Peer, 0, len(peers))
	for id, p := range peers {
		if p.LastSeen.Before(cutoff) {
			delete(peers, id)
			continue
		}
		out = append(out, p)
	}
	if len(peers) == 0 {
		delete(m.rooms, room)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *Memory) peerLocked(room, userID string) domain.Peer {
	peers, ok := m.rooms[room]
	if !ok {
		peers = make(map[string]domain.Peer)
		m.rooms[room] = peers
	}
	p, ok := peers[userID]
	if !ok {
		p = domain.Peer{UserID: userID, Room: room}
	}
	return p
}

var _ domain.Presence = (*Memory)(nil)
