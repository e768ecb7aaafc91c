package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommand(t *testing.T) {
	type tcase struct {
		record  string
		want    *Command
		wantErr error
	}

	tcases := map[string]tcase{
		"register": {
			record: `{"cmd":"register","username":"alice","password":"p1","token":"tok1"}`,
			want:   &Command{Cmd: CmdRegister, Username: "alice", Password: "p1", Token: "tok1"},
		},
		"upper_case_cmd": {
			record: `{"cmd":"JOIN","room":"general"}`,
			want:   &Command{Cmd: CmdJoin, Room: "general"},
		},
		"history_with_limit": {
			record: `{"cmd":"history","target":"general","limit":2}`,
			want:   &Command{Cmd: CmdHistory, Target: "general", Limit: NewLimit(2)},
		},
		"pm": {
			record: `{"cmd":"pm","to":"bob","text":"hey"}`,
			want:   &Command{Cmd: CmdPM, To: "bob", Text: "hey"},
		},
		"unknown_fields_ignored": {
			record: `{"cmd":"rooms","extra":true}`,
			want:   &Command{Cmd: CmdRooms},
		},
		"not_json": {
			record:  `hello`,
			wantErr: ErrInvalidJSON,
		},
		"float_limit": {
			record: `{"cmd":"history","target":"x","limit":10.0}`,
			want:   &Command{Cmd: CmdHistory, Target: "x", Limit: limitOf("10.0")},
		},
		"quoted_limit": {
			record: `{"cmd":"history","target":"x","limit":"two"}`,
			want:   &Command{Cmd: CmdHistory, Target: "x", Limit: limitOf("two")},
		},
		"null_limit": {
			record: `{"cmd":"history","target":"x","limit":null}`,
			want:   &Command{Cmd: CmdHistory, Target: "x"},
		},
		"wrong_type": {
			record:  `{"cmd":{"nested":true}}`,
			wantErr: ErrInvalidJSON,
		},
		"missing_cmd": {
			record:  `{"room":"general"}`,
			wantErr: ErrMissingCmd,
		},
		"blank_cmd": {
			record:  `{"cmd":"  "}`,
			wantErr: ErrMissingCmd,
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseCommand([]byte(tc.record))
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("ParseCommand err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCommand: unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParseCommand mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func limitOf(raw string) *Limit {
	l := Limit(raw)
	return &l
}

func TestLimitInt(t *testing.T) {
	tests := []struct {
		record  string
		want    int
		wantErr bool
	}{
		{record: `7`, want: 7},
		{record: `10.0`, want: 10},
		{record: `2.9`, want: 2},
		{record: `-3`, want: -3},
		{record: `"5"`, want: 5},
		{record: `" 12 "`, want: 12},
		{record: `1e12`, want: math.MaxInt32},
		{record: `"two"`, wantErr: true},
		{record: `true`, wantErr: true},
		{record: `[1]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.record, func(t *testing.T) {
			var l Limit
			if err := json.Unmarshal([]byte(tt.record), &l); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			got, err := l.Int()
			if tt.wantErr {
				if !errors.Is(err, ErrBadLimit) {
					t.Fatalf("Int err = %v, want ErrBadLimit", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("Int = %d, %v; want %d", got, err, tt.want)
			}
		})
	}
}

func TestEncodeCommandLimit(t *testing.T) {
	data, err := EncodeCommand(&Command{Cmd: CmdHistory, Target: "bob", Limit: NewLimit(5)})
	if err != nil {
		t.Fatalf("EncodeCommand: %v", err)
	}
	if want := `{"cmd":"history","target":"bob","limit":5}`; string(data) != want {
		t.Fatalf("EncodeCommand = %s, want %s", data, want)
	}
}

func TestFitHistory(t *testing.T) {
	long := strings.Repeat("x", 3900)
	entries := make([]HistoryEntry, 40)
	for i := range entries {
		entries[i] = HistoryEntry{Sender: "alice", Receiver: "general", Text: fmt.Sprintf("%02d%s", i, long), TS: "2026-01-02 03:04:05"}
	}

	h, kept := FitHistory("general", entries)
	if kept == 0 || kept >= len(entries) {
		t.Fatalf("kept %d of %d entries", kept, len(entries))
	}
	if diff := cmp.Diff(entries[:kept], h.Messages); diff != "" {
		t.Fatalf("kept entries are not the newest prefix (-want +got):\n%s", diff)
	}
	data, err := EncodeEvent(h)
	if err != nil {
		t.Fatalf("fitted history does not encode: %v", err)
	}
	// One more entry would not have fit.
	more, _ := json.Marshal(entries[kept])
	if len(data)+1+len(more) <= MaxRecordSize {
		t.Fatalf("dropped an entry that fits: record %d bytes, next entry %d bytes", len(data), len(more))
	}

	small, kept := FitHistory("general", entries[:3])
	if kept != 3 || len(small.Messages) != 3 {
		t.Fatalf("small history trimmed to %d", kept)
	}
}

func TestEncodeEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"ok", OK("Logged in"), `{"type":"ok","msg":"Logged in"}`},
		{"error", Error("Not in room"), `{"type":"error","msg":"Not in room"}`},
		{"notice", Notice("[general] bob has joined"), `{"type":"server_msg","text":"[general] bob has joined"}`},
		{"empty rooms", Rooms(nil), `{"type":"rooms","rooms":[]}`},
		{"rooms", Rooms([]string{"a", "b"}), `{"type":"rooms","rooms":["a","b"]}`},
		{"empty history", NewHistory("bob", nil), `{"type":"history","target":"bob","messages":[]}`},
		{
			"history",
			NewHistory("general", []HistoryEntry{{Sender: "a", Receiver: "general", Text: "hi", TS: "2026-01-02 03:04:05"}}),
			`{"type":"history","target":"general","messages":[{"sender":"a","receiver":"general","text":"hi","ts":"2026-01-02 03:04:05"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeEvent(tt.ev)
			if err != nil {
				t.Fatalf("EncodeEvent: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeEvent = %s, want %s", got, tt.want)
			}
			if strings.Contains(string(got), "\n") {
				t.Errorf("encoded record contains a newline")
			}
		})
	}
}

func TestEncodeEventTooLarge(t *testing.T) {
	_, err := EncodeEvent(Notice(strings.Repeat("x", MaxRecordSize)))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("EncodeEvent err = %v, want ErrTooLarge", err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	data, err := EncodeEvent(NewHistory("bob", []HistoryEntry{{Sender: "alice", Receiver: "bob", Text: "yo", TS: "x"}}))
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	got, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	want := &RawEvent{Type: TypeHistory, Target: "bob", Messages: []HistoryEntry{{Sender: "alice", Receiver: "bob", Text: "yo", TS: "x"}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseEvent mismatch (-want +got):\n%s", diff)
	}
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.FixedZone("X", 3600))
	if got := FormatTime(ts); got != "2026-03-04 04:06:07" {
		t.Fatalf("FormatTime = %q", got)
	}
}
