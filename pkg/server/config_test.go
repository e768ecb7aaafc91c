package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
)

func TestImportRoomsFromYAML(t *testing.T) {
	ctx := context.Background()
	st := datastore.NewMemory()

	data := []byte(`
rooms:
  - name: general
  - name: random
    members: [ignored]
  - name: "   "
`)
	names, err := ImportRoomsFromYAML(ctx, data, st)
	if err != nil {
		t.Fatalf("ImportRoomsFromYAML: %v", err)
	}
	if diff := cmp.Diff([]string{"general", "random"}, names); diff != "" {
		t.Fatalf("accepted rooms mismatch (-want +got):\n%s", diff)
	}
	members, err := st.ListRoomMembers(ctx, "random")
	if err != nil {
		t.Fatalf("ListRoomMembers: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("import created memberships: %v", members)
	}

	if _, err := ImportRoomsFromYAML(ctx, []byte("rooms: [: bad"), st); err == nil {
		t.Fatalf("malformed YAML: expected error")
	}
}

func TestLoadRoomsFromYAMLFile(t *testing.T) {
	ctx := context.Background()
	st := datastore.NewMemory()
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	if err := os.WriteFile(path, []byte("rooms:\n  - name: lobby\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	names, err := LoadRoomsFromYAML(ctx, path, st)
	if err != nil {
		t.Fatalf("LoadRoomsFromYAML: %v", err)
	}
	if diff := cmp.Diff([]string{"lobby"}, names); diff != "" {
		t.Fatalf("rooms mismatch (-want +got):\n%s", diff)
	}
	if _, err := LoadRoomsFromYAML(ctx, filepath.Join(t.TempDir(), "missing.yaml"), st); err == nil {
		t.Fatalf("missing file: expected error")
	}
}

func TestExportRoomsYAML(t *testing.T) {
	ctx := context.Background()
	st := datastore.NewMemory()
	for _, name := range []string{"bob", "alice"} {
		if _, err := st.CreateUser(ctx, name, "hash"); err != nil {
			t.Fatal(err)
		}
	}
	for _, room := range []string{"random", "general"} {
		if err := st.EnsureRoom(ctx, room); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.AddMembership(ctx, "bob", "general"); err != nil {
		t.Fatal(err)
	}
	if err := st.AddMembership(ctx, "alice", "general"); err != nil {
		t.Fatal(err)
	}

	data, err := ExportRoomsYAML(ctx, st)
	if err != nil {
		t.Fatalf("ExportRoomsYAML: %v", err)
	}
	var got RoomsConfig
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("exported YAML does not parse: %v", err)
	}
	want := RoomsConfig{Rooms: []RoomYAML{
		{Name: "general", Members: []string{"alice", "bob"}},
		{Name: "random"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("export mismatch (-want +got):\n%s", diff)
	}

	// An export can seed a fresh store.
	fresh := datastore.NewMemory()
	if _, err := ImportRoomsFromYAML(ctx, data, fresh); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	rooms, err := fresh.ListRooms(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 2 {
		t.Fatalf("re-import created %d rooms, want 2", len(rooms))
	}
}
