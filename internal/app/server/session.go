package server

import (
	"context"
	"sync"

	"github.com/chess-vn/slduel/internal/domains/dtos"
)

// sessions holds the connections open on this process. It delivers
// coordinator notifications and answers liveness checks.
type sessions struct {
	players map[string]*player
	mu      sync.RWMutex
}

func newSessions() *sessions {
	return &sessions{players: make(map[string]*player)}
}

func (s *sessions) add(p *player) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players[p.ref] = p
}

func (s *sessions) remove(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.players, ref)
}

func (s *sessions) get(ref string) (*player, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.players[ref]
	return p, ok
}

func (s *sessions) has(ref string) bool {
	_, ok := s.get(ref)
	return ok
}

func (s *sessions) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.players)
}

func (s *sessions) closeAll() {
	s.mu.RLock()
	players := make([]*player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}
	s.mu.RUnlock()
	for _, p := range players {
		p.close()
	}
}

func (s *sessions) Notify(_ context.Context, connectionRef string, notification dtos.Notification) error {
	p, ok := s.get(connectionRef)
	if !ok {
		return ErrConnectionGone
	}
	return p.writeJson(notification)
}

func (s *sessions) IsLive(_ context.Context, connectionRef string) (bool, error) {
	return s.has(connectionRef), nil
}
