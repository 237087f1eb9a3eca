package notifier

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// DefaultSendTimeout bounds a single datagram send.
const DefaultSendTimeout = 100 * time.Millisecond

// Destination receives one encoded datagram per processed frame.
type Destination interface {
	// Name identifies the destination in logs.
	Name() string
	// Send delivers payload without waiting on the peer beyond a short bound.
	// A failure affects only this destination.
	Send(ctx context.Context, payload []byte) error
	// Close releases the destination.
	Close() error
}

// UDPDestination sends datagrams to one host:port without acknowledgement.
type UDPDestination struct {
	addr    string
	conn    net.Conn
	timeout time.Duration
}

// DialUDP resolves addr and prepares a connected UDP socket to it.
//
// Arguments:
//   - addr: The destination in host:port form.
//
// Returns:
//   - *UDPDestination: The destination.
//   - error: An error if addr cannot be resolved or the socket cannot be created.
func DialUDP(addr string) (*UDPDestination, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial udp %s", addr)
	}
	return &UDPDestination{addr: addr, conn: conn, timeout: DefaultSendTimeout}, nil
}

// Name implements Destination.
func (u *UDPDestination) Name() string {
	return "udp://" + u.addr
}

// Send implements Destination.
func (u *UDPDestination) Send(ctx context.Context, payload []byte) error {
	deadline := time.Now().Add(u.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := u.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	n, err := u.conn.Write(payload)
	if err != nil {
		return errors.Wrapf(err, "send to %s", u.addr)
	}
	if n != len(payload) {
		return errors.Errorf("short write to %s: %d of %d bytes", u.addr, n, len(payload))
	}
	return nil
}

// Close implements Destination.
func (u *UDPDestination) Close() error {
	return u.conn.Close()
}
