package store

import (
	"context"
	"sort"
	"sync"

	"satwallet/internal/domain"
)

// MemoryTradeStore keeps trades and trade requests in process memory.
type MemoryTradeStore struct {
	mu       sync.Mutex
	sessions map[string]domain.TradeSession
	requests map[string]domain.TradeRequest
}

// NewMemoryTradeStore returns an empty store.
func NewMemoryTradeStore() *MemoryTradeStore {
	return &MemoryTradeStore{
		sessions: make(map[string]domain.TradeSession),
		requests: make(map[string]domain.TradeRequest),
	}
}

func (s *MemoryTradeStore) CreateRequest(_ context.Context, req domain.TradeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return domain.ErrConflict
	}
	s.requests[req.ID] = req
	return nil
}

func (s *MemoryTradeStore) GetRequest(_ context.Context, id string) (domain.TradeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.TradeRequest{}, domain.ErrNotFound
	}
	return req, nil
}

func (s *MemoryTradeStore) ListRequests(_ context.Context, f domain.RequestFilter) ([]domain.TradeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRequest
	for _, req := range s.requests {
		if f.FromUserID != "" && req.FromUserID != f.FromUserID {
			continue
		}
		if f.ToUserID != "" && req.ToUserID != f.ToUserID {
			continue
		}
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryTradeStore) AcceptRequest(_ context.Context, id string, sess domain.TradeSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return domain.ErrConflict
	}
	if _, exists := s.sessions[sess.SessionID]; exists {
		return domain.ErrConflict
	}
	req.Status = domain.RequestAccepted
	req.SessionID = sess.SessionID
	req.UpdatedAt = sess.CreatedAt
	s.requests[id] = req
	s.sessions[sess.SessionID] = sess.Clone()
	return nil
}

func (s *MemoryTradeStore) DeclineRequest(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return domain.ErrNotFound
	}
	if req.Status != domain.RequestPending {
		return domain.ErrConflict
	}
	req.Status = domain.RequestDeclined
	s.requests[id] = req
	return nil
}

func (s *MemoryTradeStore) GetSession(_ context.Context, id string) (domain.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return domain.TradeSession{}, domain.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *MemoryTradeStore) ListSessions(_ context.Context, f domain.SessionFilter) ([]domain.TradeSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeSession
	for _, sess := range s.sessions {
		if f.UserID != "" && sess.InitiatorID != f.UserID && sess.ParticipantID != f.UserID {
			continue
		}
		if f.Status != "" && sess.Status != f.Status {
			continue
		}
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryTradeStore) UpdateSession(_ context.Context, next domain.TradeSession, expected uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[next.SessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Revision != expected {
		return domain.ErrConflict
	}
	s.sessions[next.SessionID] = next.Clone()
	return nil
}

var _ domain.TradeStore = (*MemoryTradeStore)(nil)
