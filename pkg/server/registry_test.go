package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistrySupersede(t *testing.T) {
	srv, _ := newTestServer(t)
	reg := NewRegistry()
	first := newTestClient(srv).sess
	second := newTestClient(srv).sess

	if prev := reg.Register("alice", first); prev != nil {
		t.Fatalf("first Register returned %v, want nil", prev)
	}
	if prev := reg.Register("alice", first); prev != nil {
		t.Fatalf("re-registering the same session returned %v, want nil", prev)
	}
	if prev := reg.Register("alice", second); prev != first {
		t.Fatalf("Register returned %v, want first session", prev)
	}

	// The stale session must not evict the newer login.
	if reg.Unregister("alice", first) {
		t.Fatalf("stale Unregister succeeded")
	}
	if got, ok := reg.Lookup("alice"); !ok || got != second {
		t.Fatalf("Lookup = %v, %v; want second session", got, ok)
	}
	if !reg.Unregister("alice", second) {
		t.Fatalf("Unregister of current session failed")
	}
	if _, ok := reg.Lookup("alice"); ok {
		t.Fatalf("alice still online")
	}
}

func TestRegistryRooms(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid", "alpha"} {
		reg.EnsureRoom(name)
	}
	if diff := cmp.Diff([]string{"alpha", "mid", "zeta"}, reg.RoomNames()); diff != "" {
		t.Fatalf("RoomNames mismatch (-want +got):\n%s", diff)
	}
	if reg.EnsureRoom("alpha") != reg.EnsureRoom("alpha") {
		t.Fatalf("EnsureRoom returned different rooms for the same name")
	}
	if _, ok := reg.Room("missing"); ok {
		t.Fatalf("Room(missing) reported ok")
	}
}

func TestRegistryConcurrent(t *testing.T) {
	srv, _ := newTestServer(t)
	reg := NewRegistry()
	room := reg.EnsureRoom("general")

	const workers = 32
	sessions := make([]*Session, workers)
	for i := range sessions {
		sessions[i] = newTestClient(srv).sess
	}

	var wg sync.WaitGroup
	for i, s := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("user%d", i)
			reg.Register(name, s)
			reg.EnsureRoom("general").add(s)
			_ = room.snapshot(nil)
			if i%2 == 0 {
				room.remove(s)
				reg.Unregister(name, s)
			}
		}()
	}
	wg.Wait()

	if got, want := reg.OnlineCount(), workers/2; got != want {
		t.Fatalf("OnlineCount = %d, want %d", got, want)
	}
	if got, want := room.Len(), workers/2; got != want {
		t.Fatalf("room.Len = %d, want %d", got, want)
	}
	for i, s := range sessions {
		if want := i%2 == 1; room.has(s) != want {
			t.Fatalf("session %d membership = %v, want %v", i, !want, want)
		}
	}
	if got := len(room.snapshot(sessions[1])); got != workers/2-1 {
		t.Fatalf("snapshot skipping one member has %d entries", got)
	}
}
