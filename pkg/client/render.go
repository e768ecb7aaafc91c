package client

import (
	"fmt"
	"strings"

	"github.com/NicolasHaas/roomchat/pkg/protocol"
)

// Render formats a server event for the terminal. The result has no
// trailing newline; history replies span several lines.
func Render(ev *protocol.RawEvent) string {
	switch ev.Type {
	case protocol.TypeServerMsg:
		return ev.Text
	case protocol.TypeOK:
		return "[OK] " + ev.Msg
	case protocol.TypeError:
		return "[ERR] " + ev.Msg
	case protocol.TypeRooms:
		return "Rooms: [" + strings.Join(ev.Rooms, ", ") + "]"
	case protocol.TypeHistory:
		var b strings.Builder
		fmt.Fprintf(&b, "--- history %s ---\n", ev.Target)
		for _, m := range ev.Messages {
			fmt.Fprintf(&b, "[%s] %s -> %s: %s\n", m.TS, m.Sender, m.Receiver, m.Text)
		}
		b.WriteString("--- end ---")
		return b.String()
	default:
		return fmt.Sprintf("%+v", *ev)
	}
}
