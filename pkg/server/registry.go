package server

import (
	"sort"
	"sync"
)

// Room is a live broadcast group. The member set has its own lock so
// traffic in one room never contends with another.
type Room struct {
	name string

	mu      sync.RWMutex
	members map[*Session]struct{}
}

func newRoom(name string) *Room {
	return &Room{name: name, members: make(map[*Session]struct{})}
}

// Name returns the room name.
func (r *Room) Name() string { return r.name }

func (r *Room) add(s *Session) {
	r.mu.Lock()
	r.members[s] = struct{}{}
	r.mu.Unlock()
}

func (r *Room) remove(s *Session) {
	r.mu.Lock()
	delete(r.members, s)
	r.mu.Unlock()
}

func (r *Room) has(s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[s]
	return ok
}

// snapshot returns the current members except skip.
func (r *Room) snapshot(skip *Session) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.members))
	for s := range r.members {
		if s != skip {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of live members.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Registry holds the two pieces of shared live state: which session serves
// each online username, and which sessions are in each room. Both maps are
// keyed so that unrelated users and rooms never share a lock.
type Registry struct {
	users sync.Map // username -> *Session
	rooms sync.Map // room name -> *Room
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register makes s the live session for username and returns the session it
// replaced, if any.
func (r *Registry) Register(username string, s *Session) (previous *Session) {
	old, loaded := r.users.Swap(username, s)
	if !loaded {
		return nil
	}
	prev := old.(*Session)
	if prev == s {
		return nil
	}
	return prev
}

// Unregister removes username only while it still maps to s, so a stale
// session cannot evict a newer login.
func (r *Registry) Unregister(username string, s *Session) bool {
	return r.users.CompareAndDelete(username, s)
}

// Lookup returns the live session for username.
func (r *Registry) Lookup(username string) (*Session, bool) {
	v, ok := r.users.Load(username)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// OnlineCount returns the number of registered usernames.
func (r *Registry) OnlineCount() int {
	n := 0
	r.users.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// EnsureRoom returns the room with this name, creating it if absent.
func (r *Registry) EnsureRoom(name string) *Room {
	if v, ok := r.rooms.Load(name); ok {
		return v.(*Room)
	}
	v, _ := r.rooms.LoadOrStore(name, newRoom(name))
	return v.(*Room)
}

// Room returns an existing room.
func (r *Registry) Room(name string) (*Room, bool) {
	v, ok := r.rooms.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*Room), true
}

// RoomNames returns a sorted snapshot of every known room.
func (r *Registry) RoomNames() []string {
	var names []string
	r.rooms.Range(func(k, _ any) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}
