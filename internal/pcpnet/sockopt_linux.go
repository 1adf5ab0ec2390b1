//go:build linux

package pcpnet

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// enableLinuxPktInfo turns on IP_PKTINFO so the kernel attaches the
// packet's true destination address to every received datagram's
// control message, even when the socket is bound to the wildcard
// address. golang.org/x/net/ipv4's SetControlMessage(FlagDst, true)
// already requests this on Linux; setting it directly too is a
// defensive fallback some older kernels need.
func enableLinuxPktInfo(conn net.PacketConn) error {
	return setSockopt(conn, unix.IPPROTO_IP, unix.IP_PKTINFO)
}

// enableLinuxRecvPktInfo6 is the IPv6 counterpart of enableLinuxPktInfo.
func enableLinuxRecvPktInfo6(conn net.PacketConn) error {
	return setSockopt(conn, unix.IPPROTO_IPV6, unix.IPV6_RECVPKTINFO)
}

func setSockopt(conn net.PacketConn, level, opt int) error {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), level, opt, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
