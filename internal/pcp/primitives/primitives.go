// Package primitives defines the scalar wire types shared across the PCP
// (Port Control Protocol, RFC 6887) packages.
//
// RFC 6887 §3: Requests and Responses
package primitives

import "net/netip"

// Protocol identifies an IANA transport protocol number. Zero means "any".
type Protocol uint8

// Well-known protocol numbers accepted by the PCPMap CRD's symbolic names.
//
// RFC 6887 §11.1: IANA Allocation Guidelines For PCP
const (
	ProtocolAny  Protocol = 0
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
	ProtocolDCCP Protocol = 33
	ProtocolSCTP Protocol = 132
)

// Port is a 16-bit TCP/UDP/SCTP/DCCP port number. Zero means "any" in a
// mapping request and "let the server choose" for a suggested external port.
type Port uint16

// LifetimeSeconds is the requested or granted mapping lifetime. Zero means
// the mapping is a cleanup (deletion) request.
type LifetimeSeconds uint32

// EpochTime is the server-reported monotonic counter used to detect a
// server restart (RFC 6887 §8.5).
type EpochTime uint32

// ResultCode is one of the RFC 6887 §7.4 result codes.
type ResultCode uint8

// OptionCode is an 8-bit PCP option code; its MSB is the "optional to
// process" bit (RFC 6887 §7.3).
type OptionCode uint8

// PcpVersion is the 8-bit version byte at the start of every packet.
type PcpVersion uint8

// Nonce is the 96-bit client-chosen value that disambiguates two mappings
// which otherwise share the same exposed resource (protocol, internal IP,
// internal port).
type Nonce [12]byte

// Address is a unified IPv4/IPv6 address. IPv4 addresses are represented
// in their IPv4-mapped IPv6 form so a single type covers both families,
// matching the wire representation PCP itself uses.
type Address = netip.Addr

// UnifyAddress converts an arbitrary netip.Addr into its IPv4-mapped-IPv6
// form when it is an IPv4 address, leaving IPv6 addresses untouched.
func UnifyAddress(addr netip.Addr) Address {
	if addr.Is4() {
		return netip.AddrFrom16(addr.As16())
	}
	return addr
}

// SplitAddress returns the most natural representation of addr: the
// unmapped IPv4 address if addr is an IPv4-mapped IPv6 address, or addr
// itself otherwise.
func SplitAddress(addr Address) netip.Addr {
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

// AddrFrom16 builds an Address from its raw 16-byte wire representation.
func AddrFrom16(octets [16]byte) Address {
	return netip.AddrFrom16(octets)
}
