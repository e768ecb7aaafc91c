// Package protocol defines the newline-delimited JSON records exchanged
// between chat clients and the server.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// MaxRecordSize is the maximum encoded record size (64KB), newline excluded.
const MaxRecordSize = 65536

// TimeLayout is the timestamp format used in history entries.
const TimeLayout = "2006-01-02 15:04:05"

// Client command names.
const (
	CmdRegister = "register"
	CmdLogin    = "login"
	CmdJoin     = "join"
	CmdLeave    = "leave"
	CmdRooms    = "rooms"
	CmdMsg      = "msg"
	CmdPM       = "pm"
	CmdHistory  = "history"
	CmdQuit     = "quit"
)

// Server event types.
const (
	TypeOK        = "ok"
	TypeError     = "error"
	TypeServerMsg = "server_msg"
	TypeRooms     = "rooms"
	TypeHistory   = "history"
)

var (
	ErrInvalidJSON = errors.New("protocol: invalid JSON")
	ErrMissingCmd  = errors.New("protocol: missing cmd")
	ErrTooLarge    = errors.New("protocol: record too large")
	ErrBadLimit    = errors.New("protocol: limit is not a number")
)

// Command is a client to server record. Only the fields relevant to Cmd are set.
type Command struct {
	Cmd      string `json:"cmd"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
	Room     string `json:"room,omitempty"`
	To       string `json:"to,omitempty"`
	Text     string `json:"text,omitempty"`
	Target   string `json:"target,omitempty"`
	Limit    *Limit `json:"limit,omitempty"`
}

// Limit is the history limit as the client sent it. Any JSON number is
// accepted, fractions are truncated and a quoted number is read like a bare
// one. Other values decode without error and fail in Int, so a bad limit is
// reported on its own rather than as an unreadable record.
type Limit string

// NewLimit returns a limit holding n.
func NewLimit(n int) *Limit {
	l := Limit(strconv.Itoa(n))
	return &l
}

func (l *Limit) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if strings.HasPrefix(raw, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		raw = strings.TrimSpace(str)
	}
	*l = Limit(raw)
	return nil
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if n, err := l.Int(); err == nil {
		return []byte(strconv.Itoa(n)), nil
	}
	return json.Marshal(string(l))
}

// Int returns the limit truncated toward zero and bounded to the int32 range.
func (l Limit) Int() (int, error) {
	f, err := strconv.ParseFloat(string(l), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadLimit, string(l))
	}
	switch {
	case f > math.MaxInt32:
		return math.MaxInt32, nil
	case f < math.MinInt32:
		return math.MinInt32, nil
	}
	return int(f), nil
}

// Event is a server to client record.
type Event interface {
	EventType() string
}

// Reply answers a command: type "ok" or "error".
type Reply struct {
	Type string `json:"type"`
	Msg  string `json:"msg"`
}

func (r *Reply) EventType() string { return r.Type }

// ServerMsg is an asynchronous notification (join notices, room and private messages).
type ServerMsg struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (m *ServerMsg) EventType() string { return m.Type }

// RoomList answers the rooms command.
type RoomList struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

func (r *RoomList) EventType() string { return r.Type }

// HistoryEntry is one stored message in a history reply.
type HistoryEntry struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
}

// History answers the history command, newest message first.
type History struct {
	Type     string         `json:"type"`
	Target   string         `json:"target"`
	Messages []HistoryEntry `json:"messages"`
}

func (h *History) EventType() string { return h.Type }

// OK builds an "ok" reply.
func OK(msg string) *Reply { return &Reply{Type: TypeOK, Msg: msg} }

// Error builds an "error" reply.
func Error(msg string) *Reply { return &Reply{Type: TypeError, Msg: msg} }

// Notice builds a "server_msg" event.
func Notice(text string) *ServerMsg { return &ServerMsg{Type: TypeServerMsg, Text: text} }

// Rooms builds a "rooms" reply. A nil slice is encoded as [].
func Rooms(names []string) *RoomList {
	if names == nil {
		names = []string{}
	}
	return &RoomList{Type: TypeRooms, Rooms: names}
}

// NewHistory builds a "history" reply. A nil slice is encoded as [].
func NewHistory(target string, entries []HistoryEntry) *History {
	if entries == nil {
		entries = []HistoryEntry{}
	}
	return &History{Type: TypeHistory, Target: target, Messages: entries}
}

// FitHistory builds a history reply holding as many of entries as fit in one
// record. Entries are newest first, so the oldest ones are dropped. The
// second result is the number of entries kept.
func FitHistory(target string, entries []HistoryEntry) (*History, int) {
	full := NewHistory(target, entries)
	if data, err := json.Marshal(full); err == nil && len(data) <= MaxRecordSize {
		return full, len(entries)
	}

	empty, err := json.Marshal(NewHistory(target, nil))
	if err != nil {
		return NewHistory(target, nil), 0
	}
	size := len(empty)
	kept := 0
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			break
		}
		add := len(data)
		if kept > 0 {
			add++ // separating comma
		}
		if size+add > MaxRecordSize {
			break
		}
		size += add
		kept++
	}
	return NewHistory(target, entries[:kept]), kept
}

// FormatTime renders a timestamp the way history entries carry it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// EncodeEvent marshals an event into a single record (no trailing newline).
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}

// EncodeCommand marshals a command into a single record (no trailing newline).
func EncodeCommand(cmd *Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal: %w", err)
	}
	if len(data) > MaxRecordSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, nil
}

// ParseCommand decodes one client record. Cmd is lower-cased.
func ParseCommand(record []byte) (*Command, error) {
	cmd := &Command{}
	if err := json.Unmarshal(record, cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	cmd.Cmd = strings.ToLower(strings.TrimSpace(cmd.Cmd))
	if cmd.Cmd == "" {
		return nil, ErrMissingCmd
	}
	return cmd, nil
}

// RawEvent is a decoded server record of any type, used by clients.
type RawEvent struct {
	Type     string         `json:"type"`
	Msg      string         `json:"msg,omitempty"`
	Text     string         `json:"text,omitempty"`
	Rooms    []string       `json:"rooms,omitempty"`
	Target   string         `json:"target,omitempty"`
	Messages []HistoryEntry `json:"messages,omitempty"`
}

// ParseEvent decodes one server record.
func ParseEvent(record []byte) (*RawEvent, error) {
	ev := &RawEvent{}
	if err := json.Unmarshal(record, ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return ev, nil
}
