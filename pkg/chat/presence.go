package chat

import (
	"sort"
	"sync"

	"github.com/agencydesk/deskchat/pkg/wire"
)

// PresenceTracker maintains the set of currently online peers. It is purely
// event-driven: a full ONLINE_USERS snapshot replaces the set wholesale,
// USER_ONLINE/USER_OFFLINE adjust single entries. No client-side liveness
// timers exist; the server's accounting is trusted.
type PresenceTracker struct {
	mu     sync.Mutex
	online map[string]struct{}
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{online: map[string]struct{}{}}
}

// Handle applies a presence-related event; other event types are ignored.
func (p *PresenceTracker) Handle(ev wire.Event) {
	if p == nil {
		return
	}
	switch ev.Type {
	case wire.EventOnlineUsers:
		p.snapshot(ev.Users)
	case wire.EventUserOnline:
		p.set(ev.UserID, true)
	case wire.EventUserOffline:
		p.set(ev.UserID, false)
	}
}

func (p *PresenceTracker) snapshot(ids []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		p.online[id] = struct{}{}
	}
}

func (p *PresenceTracker) set(id string, online bool) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.online[id] = struct{}{}
	} else {
		delete(p.online, id)
	}
}

// IsOnline reports whether the given user is currently online.
func (p *PresenceTracker) IsOnline(id string) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[id]
	return ok
}

// Online returns the online user ids, sorted for stable display.
func (p *PresenceTracker) Online() []string {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
