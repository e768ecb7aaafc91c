package transport

import (
	"errors"
	"io"
	"net"
)

// IsClosed reports whether err means the peer or the local side closed the
// connection, as opposed to a protocol or network fault worth logging.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isWSClose(err)
}
