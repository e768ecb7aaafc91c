package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/roomchat/pkg/datastore"
)

// RoomYAML represents a room in YAML config. Members is informational on
// export and ignored on import.
type RoomYAML struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members,omitempty"`
}

// RoomsConfig is the top-level YAML document for rooms.
type RoomsConfig struct {
	Rooms []RoomYAML `yaml:"rooms"`
}

// LoadRoomsFromYAML reads a rooms YAML file and creates any missing rooms.
func LoadRoomsFromYAML(ctx context.Context, path string, st datastore.RoomProvider) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return nil, fmt.Errorf("read rooms config: %w", err)
	}
	return ImportRoomsFromYAML(ctx, data, st)
}

// ImportRoomsFromYAML parses YAML data, creates the rooms it lists and returns
// the names that were accepted. Invalid entries are logged and skipped.
func ImportRoomsFromYAML(ctx context.Context, data []byte, st datastore.RoomProvider) ([]string, error) {
	var cfg RoomsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse rooms config: %w", err)
	}

	var names []string
	for _, r := range cfg.Rooms {
		if err := st.EnsureRoom(ctx, r.Name); err != nil {
			slog.Error("failed to create room from config", "room", r.Name, "err", err)
			continue
		}
		names = append(names, r.Name)
	}

	slog.Info("imported rooms from YAML", "count", len(names))
	return names, nil
}

// ExportRoomsYAML exports every stored room with its persisted members.
func ExportRoomsYAML(ctx context.Context, st datastore.RoomProvider) ([]byte, error) {
	rooms, err := st.ListRooms(ctx)
	if err != nil {
		return nil, err
	}

	cfg := RoomsConfig{Rooms: make([]RoomYAML, 0, len(rooms))}
	for _, r := range rooms {
		members, err := st.ListRoomMembers(ctx, r.Name)
		if err != nil {
			return nil, err
		}
		cfg.Rooms = append(cfg.Rooms, RoomYAML{Name: r.Name, Members: members})
	}
	return yaml.Marshal(&cfg)
}
