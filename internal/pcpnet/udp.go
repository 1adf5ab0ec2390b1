package pcpnet

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/pcpforward/controller/internal/pcp/wire"
	"github.com/pcpforward/controller/internal/pcperr"
)

// UDPTransport is the production Transport, backed by a single UDP
// socket wrapped in an ipv4 or ipv6 PacketConn so the destination
// control message is available on every Receive.
//
// Only one address family is active per instance. The bootstrap binds
// a single instance, for the family of its bind address.
type UDPTransport struct {
	conn     net.PacketConn
	ipv4Conn *ipv4.PacketConn
	ipv6Conn *ipv6.PacketConn
}

// NewUDPTransport binds network ("udp4" or "udp6") on bindAddr and
// enables destination-address control messages.
func NewUDPTransport(network string, bindAddr *net.UDPAddr) (*UDPTransport, error) {
	conn, err := net.ListenUDP(network, bindAddr)
	if err != nil {
		return nil, pcperr.Newf(pcperr.Transport, "listen", err, "bind %s on %s", network, bindAddr)
	}

	if err := conn.SetReadBuffer(wire.PacketLen * 64); err != nil {
		_ = conn.Close()
		return nil, pcperr.New(pcperr.Transport, "configure read buffer", err)
	}

	t := &UDPTransport{conn: conn}
	switch network {
	case "udp4":
		t.ipv4Conn = ipv4.NewPacketConn(conn)
		if err := t.ipv4Conn.SetControlMessage(ipv4.FlagDst, true); err != nil {
			_ = conn.Close()
			return nil, pcperr.New(pcperr.Transport, "enable destination control messages", err)
		}
		if err := enableLinuxPktInfo(conn); err != nil {
			_ = conn.Close()
			return nil, pcperr.New(pcperr.Transport, "enable IP_PKTINFO", err)
		}
	case "udp6":
		t.ipv6Conn = ipv6.NewPacketConn(conn)
		if err := t.ipv6Conn.SetControlMessage(ipv6.FlagDst, true); err != nil {
			_ = conn.Close()
			return nil, pcperr.New(pcperr.Transport, "enable destination control messages", err)
		}
		if err := enableLinuxRecvPktInfo6(conn); err != nil {
			_ = conn.Close()
			return nil, pcperr.New(pcperr.Transport, "enable IPV6_RECVPKTINFO", err)
		}
	default:
		_ = conn.Close()
		return nil, pcperr.New(pcperr.Transport, "bind", fmt.Errorf("unsupported network %q", network))
	}

	return t, nil
}

// Send implements Transport.
func (t *UDPTransport) Send(ctx context.Context, buf *[wire.PacketLen]byte, dest *net.UDPAddr) error {
	select {
	case <-ctx.Done():
		return pcperr.New(pcperr.Transport, "send", ctx.Err())
	default:
	}

	n, err := t.conn.WriteTo(buf[:], dest)
	if err != nil {
		return pcperr.Newf(pcperr.Transport, "send", err, "write to %s", dest)
	}
	if n != len(buf) {
		return pcperr.Newf(pcperr.Transport, "send", fmt.Errorf("partial write: %d/%d bytes", n, len(buf)), "write to %s", dest)
	}
	return nil
}

// Receive implements Transport. A datagram whose length is not exactly
// wire.PacketLen is silently dropped: it is reported with ok == false
// rather than an error, since a malformed or foreign datagram is not a
// transport failure.
func (t *UDPTransport) Receive(ctx context.Context) (*[wire.PacketLen]byte, net.IP, bool, error) {
	select {
	case <-ctx.Done():
		return nil, nil, false, pcperr.New(pcperr.Transport, "receive", ctx.Err())
	default:
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, false, pcperr.New(pcperr.Transport, "set read deadline", err)
		}
	}

	// Oversized on purpose: a datagram longer than PacketLen must still
	// be read off the socket (and then dropped) rather than truncated in
	// a way that makes it look like a valid, shorter packet.
	raw := make([]byte, wire.PacketLen+1)

	var n int
	var dst net.IP
	var err error
	switch {
	case t.ipv4Conn != nil:
		var cm *ipv4.ControlMessage
		n, cm, _, err = t.ipv4Conn.ReadFrom(raw)
		if cm != nil {
			dst = cm.Dst
		}
	case t.ipv6Conn != nil:
		var cm *ipv6.ControlMessage
		n, cm, _, err = t.ipv6Conn.ReadFrom(raw)
		if cm != nil {
			dst = cm.Dst
		}
	default:
		return nil, nil, false, pcperr.New(pcperr.Transport, "receive", fmt.Errorf("transport not bound to an address family"))
	}
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, nil, false, pcperr.New(pcperr.Transport, "receive", err)
		}
		return nil, nil, false, pcperr.New(pcperr.Transport, "receive", err)
	}

	if n != wire.PacketLen {
		return nil, dst, false, nil
	}

	var buf [wire.PacketLen]byte
	copy(buf[:], raw[:n])
	return &buf, dst, true, nil
}

// Close implements Transport.
func (t *UDPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	if err := t.conn.Close(); err != nil {
		return pcperr.New(pcperr.Transport, "close", err)
	}
	return nil
}
