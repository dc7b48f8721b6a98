// Process-local presence tracking for connected users.
package server

import (
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Presence tracks which users currently hold at least one open
// connection. It is process-local and rebuilt empty on every restart.
//
// A per-user connection count is kept so that closing one of several
// simultaneous connections does not flip a still-connected user offline;
// MarkOnline and MarkOffline report whether the call crossed the
// offline/online boundary so callers broadcast at most once per real
// transition.
type Presence struct {
	mu    sync.Mutex
	conns map[string]int
}

// NewPresence creates an empty presence registry.
func NewPresence() *Presence {
	return &Presence{conns: make(map[string]int)}
}

// MarkOnline records one more open connection for user and reports
// whether the user just transitioned from offline to online.
func (p *Presence) MarkOnline(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[user]++
	return p.conns[user] == 1
}

// MarkOffline records one closed connection for user and reports whether
// the user just transitioned from online to offline. Marking a user with
// no recorded connections is a no-op.
func (p *Presence) MarkOffline(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.conns[user]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(p.conns, user)
		return true
	}
	p.conns[user] = n - 1
	return false
}

// IsOnline reports whether user has at least one open connection.
func (p *Presence) IsOnline(user string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conns[user] > 0
}

// Snapshot returns the sorted usernames currently online.
func (p *Presence) Snapshot() []string {
	p.mu.Lock()
	users := lo.Keys(p.conns)
	p.mu.Unlock()
	sort.Strings(users)
	return users
}
