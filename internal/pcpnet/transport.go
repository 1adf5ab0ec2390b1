// Package pcpnet implements the PCP client's UDP transport: a fixed-size
// datagram Send/Receive abstraction that also recovers the true local
// destination address of every received packet, because the client
// engine identifies mappings by that address rather than anything
// carried in the PCP payload itself.
package pcpnet

import (
	"context"
	"net"

	"github.com/pcpforward/controller/internal/pcp/wire"
	"github.com/pcpforward/controller/internal/pcperr"
)

// Transport abstracts the PCP client's UDP socket so the client engine
// can be tested against a fake without binding a real port.
type Transport interface {
	// Send writes buf, which must be exactly wire.PacketLen bytes, to
	// dest.
	Send(ctx context.Context, buf *[wire.PacketLen]byte, dest *net.UDPAddr) error

	// Receive waits for the next inbound datagram. localAddr is the
	// address the packet actually arrived on, recovered from the
	// kernel's per-packet control message rather than assumed from how
	// the socket was bound — the only way to support a socket bound to
	// the wildcard address. ok is false if the datagram was not exactly
	// wire.PacketLen bytes; datagrams of any other length are dropped.
	Receive(ctx context.Context) (buf *[wire.PacketLen]byte, localAddr net.IP, ok bool, err error)

	// Close releases the underlying socket.
	Close() error
}

// LocalPort is the well-known client listen port; the socket also
// sends from here.
const LocalPort = int(wire.ClientPort)
