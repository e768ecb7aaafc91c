package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// ErrUnknownCommand is returned for input that is not a known slash command.
var ErrUnknownCommand = errors.New("unknown command")

// UsageError reports a known command with missing arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string { return "Usage: " + e.Usage }

// Help lists the slash commands, one per line.
const Help = `Commands:
/register <user> <pass> <token>
/login <user> <pass>
/join <room>
/leave <room>
/rooms
/msg <room> <text>
/pm <user> <text>
/history <target> [limit]
/quit`

// ParseLine turns one line of user input into a protocol command. Blank
// input yields a nil command and nil error.
func ParseLine(line string) (*protocol.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimLeft(rest, " ")

	switch name {
	case "/quit":
		return &protocol.Command{Cmd: protocol.CmdQuit}, nil
	case "/rooms":
		return &protocol.Command{Cmd: protocol.CmdRooms}, nil
	case "/register":
		f := fields(rest, 3)
		if len(f) < 3 {
			return nil, &UsageError{Usage: "/register <user> <pass> <token>"}
		}
		return &protocol.Command{Cmd: protocol.CmdRegister, Username: f[0], Password: f[1], Token: f[2]}, nil
	case "/login":
		f := fields(rest, 2)
		if len(f) < 2 {
			return nil, &UsageError{Usage: "/login <user> <pass>"}
		}
		return &protocol.Command{Cmd: protocol.CmdLogin, Username: f[0], Password: f[1]}, nil
	case "/join":
		if rest == "" {
			return nil, &UsageError{Usage: "/join <room>"}
		}
		return &protocol.Command{Cmd: protocol.CmdJoin, Room: rest}, nil
	case "/leave":
		if rest == "" {
			return nil, &UsageError{Usage: "/leave <room>"}
		}
		return &protocol.Command{Cmd: protocol.CmdLeave, Room: rest}, nil
	case "/msg":
		f := fields(rest, 2)
		if len(f) < 2 {
			return nil, &UsageError{Usage: "/msg <room> <text>"}
		}
		return &protocol.Command{Cmd: protocol.CmdMsg, Room: f[0], Text: f[1]}, nil
	case "/pm":
		f := fields(rest, 2)
		if len(f) < 2 {
			return nil, &UsageError{Usage: "/pm <user> <text>"}
		}
		return &protocol.Command{Cmd: protocol.CmdPM, To: f[0], Text: f[1]}, nil
	case "/history":
		f := strings.Fields(rest)
		if len(f) == 0 || len(f) > 2 {
			return nil, &UsageError{Usage: "/history <target> [limit]"}
		}
		cmd := &protocol.Command{Cmd: protocol.CmdHistory, Target: f[0]}
		if len(f) == 2 {
			n, err := strconv.Atoi(f[1])
			if err != nil {
				return nil, fmt.Errorf("%w: limit %q is not a number", &UsageError{Usage: "/history <target> [limit]"}, f[1])
			}
			cmd.Limit = protocol.NewLimit(n)
		}
		return cmd, nil
	default:
		return nil, ErrUnknownCommand
	}
}

// fields splits s on single spaces into at most n parts; the last part keeps
// the remainder verbatim.
func fields(s string, n int) []string {
	if s == "" {
		return nil
	}
	return strings.SplitN(s, " ", n)
}
