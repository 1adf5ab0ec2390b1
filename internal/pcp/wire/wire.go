// Package wire defines the fixed-size PCP packet layout and the protocol
// constants from RFC 6887.
//
// RFC 6887 §7: Protocol Header
package wire

import "github.com/pcpforward/controller/internal/pcp/primitives"

// Version is the only PCP version this client speaks.
//
// RFC 6887 §7: "Version: PCP version used by this request; MUST be set to
// 2 by the requester."
const Version primitives.PcpVersion = 2

// Well-known UDP ports (RFC 6887 §7).
const (
	ServerPort uint16 = 5351
	ClientPort uint16 = 5350
)

// Opcode identifies the PCP operation. Only MAP is implemented; PEER and
// ANNOUNCE are explicitly out of scope (see spec Non-goals).
type Opcode uint8

const (
	OpcodeAnnounce Opcode = 0
	OpcodeMap      Opcode = 1
	OpcodePeer     Opcode = 2
)

// ResultCode values, RFC 6887 §7.4.
const (
	ResultSuccess               primitives.ResultCode = 0
	ResultUnsuppVersion         primitives.ResultCode = 1
	ResultNotAuthorized         primitives.ResultCode = 2
	ResultMalformedRequest      primitives.ResultCode = 3
	ResultUnsuppOpcode          primitives.ResultCode = 4
	ResultUnsuppOption          primitives.ResultCode = 5
	ResultMalformedOption       primitives.ResultCode = 6
	ResultNetworkFailure        primitives.ResultCode = 7
	ResultNoResources           primitives.ResultCode = 8
	ResultUnsuppProtocol        primitives.ResultCode = 9
	ResultUserExQuota           primitives.ResultCode = 10
	ResultCannotProvideExternal primitives.ResultCode = 11
	ResultAddressMismatch       primitives.ResultCode = 12
	ResultExcessiveRemotePeers  primitives.ResultCode = 13
)

// LifetimeClass buckets a result code's implied retry pacing.
//
// Per RFC 6887 §8.1.1/§15, some failures imply the server granted a short
// lifetime so the client's next renewal attempt, paced by the keepalive
// timer, naturally retries soon; others imply a long lifetime
// suppression.
type LifetimeClass int

const (
	LifetimeClassLong LifetimeClass = iota
	LifetimeClassShort
)

// ResultLifetimeClass reports whether result implies a short or long
// server-granted lifetime.
func ResultLifetimeClass(result primitives.ResultCode) LifetimeClass {
	switch result {
	case ResultNetworkFailure, ResultNoResources, ResultUserExQuota:
		return LifetimeClassShort
	default:
		return LifetimeClassLong
	}
}

// Option codes used by the core protocol path. Only PREFER_FAILURE is
// ever encoded; third-party, filter, and authentication options are
// explicitly out of scope.
const (
	OptionPreferFailure primitives.OptionCode = 2
)

// optionOptionalBit is the MSB of an option code: when set, a server that
// doesn't recognize the option may ignore it instead of rejecting the
// whole packet with UNSUPP_OPTION.
const optionOptionalBit primitives.OptionCode = 0b1000_0000

// WithOptionalBit sets or clears the "optional to process" bit on an
// option code per RFC 6887 §7.3.
func WithOptionalBit(code primitives.OptionCode, optional bool) primitives.OptionCode {
	if optional {
		return code | optionOptionalBit
	}
	return code &^ optionOptionalBit
}

// Packet size constants.
//
// PCP fixes every MAP packet at 1100 bytes to bound UDP fragmentation
// risk; the codec must both send and receive exactly that size.
const (
	PacketLen = 1100

	// rowSize is the 4-byte alignment every field in the RFC 6887 packet
	// diagrams is drawn against.
	rowSize = 4

	HeaderLen       = rowSize * 6 // 24 bytes: common request/response header.
	MapOpcodeLen    = rowSize * 9 // 36 bytes: MAP opcode-specific body.
	OptionHeaderLen = rowSize * 1 // 4 bytes: option_code/reserved/length.
)

// isResponseBit is the high bit of the second packet byte, disambiguating
// a request from a response for a given opcode.
const isResponseBit uint8 = 0b1000_0000

// RAndOpcode packs the R (request/response) bit and the 7-bit opcode into
// a single wire byte.
type RAndOpcode uint8

// NewRAndOpcode builds a RAndOpcode, refusing any opcode that would
// collide with the R bit.
func NewRAndOpcode(isResponse bool, opcode Opcode) (RAndOpcode, bool) {
	if uint8(opcode) >= isResponseBit {
		return 0, false
	}
	val := uint8(opcode)
	if isResponse {
		val |= isResponseBit
	}
	return RAndOpcode(val), true
}

// Opcode extracts the 7-bit opcode, discarding the R bit.
func (v RAndOpcode) Opcode() Opcode {
	return Opcode(uint8(v) &^ isResponseBit)
}

// IsResponse reports whether the R bit is set.
func (v RAndOpcode) IsResponse() bool {
	return uint8(v)&isResponseBit != 0
}
