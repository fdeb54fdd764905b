package server

import (
	"context"
	"sync"
	"time"

	"github.com/chess-vn/slduel/internal/domains/entities"
)

type openMatchLister interface {
	ListOpenMatches(ctx context.Context) ([]entities.Match, error)
}

// registry indexes connections and matches both ways. It is rebuilt from
// the store at startup so that connections lost in a restart can still be
// resolved to their matches.
type registry struct {
	matchesByConn map[string]map[string]struct{}
	connsByMatch  map[string]map[string]struct{}
	boundAt       map[string]time.Time
	now           func() time.Time
	mu            sync.Mutex
}

func newRegistry(now func() time.Time) *registry {
	return &registry{
		matchesByConn: make(map[string]map[string]struct{}),
		connsByMatch:  make(map[string]map[string]struct{}),
		boundAt:       make(map[string]time.Time),
		now:           now,
	}
}

func (r *registry) bind(connectionRef, matchId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindLocked(connectionRef, matchId)
}

func (r *registry) bindLocked(connectionRef, matchId string) {
	if connectionRef == "" || matchId == "" {
		return
	}
	if r.matchesByConn[connectionRef] == nil {
		r.matchesByConn[connectionRef] = make(map[string]struct{})
	}
	r.matchesByConn[connectionRef][matchId] = struct{}{}
	if r.connsByMatch[matchId] == nil {
		r.connsByMatch[matchId] = make(map[string]struct{})
	}
	r.connsByMatch[matchId][connectionRef] = struct{}{}
	r.boundAt[connectionRef] = r.now()
}

// unbind drops connectionRef and returns the matches it was bound to.
func (r *registry) unbind(connectionRef string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	matchIds := keys(r.matchesByConn[connectionRef])
	for _, matchId := range matchIds {
		conns := r.connsByMatch[matchId]
		delete(conns, connectionRef)
		if len(conns) == 0 {
			delete(r.connsByMatch, matchId)
		}
	}
	delete(r.matchesByConn, connectionRef)
	delete(r.boundAt, connectionRef)
	return matchIds
}

func (r *registry) has(connectionRef string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.matchesByConn[connectionRef]
	return ok
}

func (r *registry) matchesOf(connectionRef string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.matchesByConn[connectionRef])
}

// release forgets matches that are no longer open, for every connection
// bound to them. Connections left without matches are dropped, so a peer of
// a forfeited match is not swept as an orphan later. It returns the
// connections that were dropped.
func (r *registry) release(matchIds []string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var dropped []string
	for _, matchId := range matchIds {
		for ref := range r.connsByMatch[matchId] {
			matches := r.matchesByConn[ref]
			delete(matches, matchId)
			if len(matches) == 0 {
				delete(r.matchesByConn, ref)
				delete(r.boundAt, ref)
				dropped = append(dropped, ref)
			}
		}
		delete(r.connsByMatch, matchId)
	}
	return dropped
}

// rebuild indexes the connections of every open match and returns how many
// connections were added.
func (r *registry) rebuild(ctx context.Context, store openMatchLister) (int, error) {
	matches, err := store.ListOpenMatches(ctx)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.matchesByConn)
	for _, m := range matches {
		r.bindLocked(m.Player1.ConnectionRef, m.MatchId)
		if p2, ok := m.Player2.Player(); ok {
			r.bindLocked(p2.ConnectionRef, m.MatchId)
		}
	}
	return len(r.matchesByConn) - before, nil
}

// orphans lists indexed connections that are not live and were last bound
// before cutoff.
func (r *registry) orphans(live func(string) bool, cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []string
	for ref, at := range r.boundAt {
		if at.Before(cutoff) && !live(ref) {
			refs = append(refs, ref)
		}
	}
	return refs
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
