package ws

import (
	"sync"
	"time"

	"github.com/spf13/viper"
)

// sink is the delivery end of a connection as the registry sees it.
type sink interface {
	deliver(payload []byte)
}

// Registry is the process-local room index: which connections are attached to
// which rooms. It is owned by one gateway process; cross-process fan-out flows
// through the shared pub/sub channel, never through the registry.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]map[sink]struct{}
	seen  *dedupCache
}

func NewRegistry() *Registry {
	ttl := viper.GetDuration("gateway.dedup_ttl")
	if ttl == 0 {
		ttl = 2 * time.Minute
	}

	return &Registry{
		rooms: map[string]map[sink]struct{}{},
		seen:  newDedupCache(ttl),
	}
}

// Join attaches the connection to the room and reports whether it is the
// room's first local member, so the caller knows to open the room's channel
// subscription.
func (r *Registry) Join(roomID string, c sink) (first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.rooms[roomID]
	if !ok {
		conns = map[sink]struct{}{}
		r.rooms[roomID] = conns
	}
	conns[c] = struct{}{}

	return len(conns) == 1
}

// Leave detaches the connection from the room and reports whether the room is
// now empty locally.
func (r *Registry) Leave(roomID string, c sink) (last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.leaveLocked(roomID, c)
}

func (r *Registry) leaveLocked(roomID string, c sink) (last bool) {
	conns, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, member := conns[c]; !member {
		return false
	}

	delete(conns, c)
	if len(conns) == 0 {
		delete(r.rooms, roomID)
		return true
	}

	return false
}

// Drop detaches the connection from every room it holds and returns the rooms
// left without local members.
func (r *Registry) Drop(c sink, rooms []string) (emptied []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, roomID := range rooms {
		if r.leaveLocked(roomID, c) {
			emptied = append(emptied, roomID)
		}
	}

	return emptied
}

// Broadcast fans the payload out to every local member of the room. A non-empty
// eventKey is checked against the short-TTL dedup cache so a redelivered event
// reaches each connection at most once per TTL window.
func (r *Registry) Broadcast(roomID, eventKey string, payload []byte) (delivered int) {
	r.mu.Lock()
	if eventKey != "" && !r.seen.mark(eventKey) {
		r.mu.Unlock()
		return 0
	}
	targets := make([]sink, 0, len(r.rooms[roomID]))
	for c := range r.rooms[roomID] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	for _, c := range targets {
		c.deliver(payload)
	}

	return len(targets)
}

// dedupCache remembers event keys for a bounded window. The channel is
// at-least-once, so the same event can reach a gateway twice; the cache keeps
// the second copy off the wire.
type dedupCache struct {
	ttl     time.Duration
	entries map[string]time.Time
	nextGC  time.Time
	now     func() time.Time
}

func newDedupCache(ttl time.Duration) *dedupCache {
	return &dedupCache{
		ttl:     ttl,
		entries: map[string]time.Time{},
		now:     time.Now,
	}
}

// mark records the key and reports whether it was unseen within the TTL.
// Callers hold the registry lock.
func (d *dedupCache) mark(key string) bool {
	now := d.now()
	if now.After(d.nextGC) {
		for k, exp := range d.entries {
			if now.After(exp) {
				delete(d.entries, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	if exp, ok := d.entries[key]; ok && now.Before(exp) {
		return false
	}
	d.entries[key] = now.Add(d.ttl)

	return true
}
