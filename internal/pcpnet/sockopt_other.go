//go:build !linux

package pcpnet

import "net"

// enableLinuxPktInfo is a no-op off Linux: golang.org/x/net/ipv4's
// SetControlMessage already requests whatever destination-address
// control message the platform supports (IP_RECVDSTADDR on BSD/macOS),
// and there is no equivalent raw-socket fallback worth hand-rolling per
// platform here.
func enableLinuxPktInfo(conn net.PacketConn) error {
	return nil
}

func enableLinuxRecvPktInfo6(conn net.PacketConn) error {
	return nil
}
