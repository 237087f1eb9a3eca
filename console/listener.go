// Package console - Operator console side of the relay: receives detection
// datagrams and fans them out to websocket viewers.
package console

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/nvr-ai/go-vision-relay/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Listener receives detection datagrams on a UDP port.
type Listener struct {
	conn net.PacketConn
	log  *logrus.Entry
}

// Listen binds addr, e.g. ":5810".
//
// Arguments:
//   - addr: The local UDP address.
//   - log: The logger for rejected datagrams.
//
// Returns:
//   - *Listener: The bound listener.
//   - error: An error if the port cannot be bound.
func Listen(addr string, log *logrus.Entry) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "bind %s", addr)
	}
	return &Listener{conn: conn, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Run hands every valid datagram to handle until ctx is done. Datagrams of
// the wrong size or magic are logged and skipped.
//
// Returns:
//   - error: nil when ctx ends, otherwise the receive error.
func (l *Listener) Run(ctx context.Context, handle func(wire.Datagram)) error {
	stop := context.AfterFunc(ctx, func() { l.conn.Close() })
	defer stop()

	// One spare byte detects oversized datagrams.
	buf := make([]byte, wire.DatagramSize+1)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "receive datagram")
		}

		d, err := wire.Decode(buf[:n])
		if err != nil {
			l.log.WithFields(logrus.Fields{"from": from.String(), "bytes": n}).
				WithError(err).Warn("rejected datagram")
			continue
		}
		handle(d)
	}
}

// Close releases the socket.
func (l *Listener) Close() error {
	return l.conn.Close()
}

// Format renders a datagram the way the console prints it: a header line and
// one line per object.
func Format(d wire.Datagram) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Received frame %d sent at %d\n", d.Frame, d.Timestamp)
	for _, o := range d.Objects.Objects() {
		fmt.Fprintf(&b, "OBJECT FOUND in frame #%d: %s @ %.02f x %.02f [ %.02f x %.02f ], %.02f%%\n",
			d.Frame, o.Type, o.X, o.Y, o.Width, o.Height, o.Probability*100)
	}
	return b.String()
}
