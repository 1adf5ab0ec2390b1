// Package packet implements the bit-exact PCP (RFC 6887) MAP packet codec.
//
// RFC 6887 §7: Protocol Header
// RFC 6887 §11: MAP Opcode
//
// Every PCP packet on the wire is exactly [wire.PacketLen] bytes,
// zero-padded, big-endian. The encoder is a staged, type-checked
// builder: pick a direction, then an opcode body, then zero or more
// options, then Finish. The decoder is tolerant: a
// buffer that doesn't match the expected direction/opcode is reported as
// "not this kind of packet" rather than an error, so callers can try
// another decoder.
package packet

import (
	"encoding/binary"
	"fmt"

	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcp/wire"
)

// Buffer is a single fixed-size PCP wire frame.
type Buffer = [wire.PacketLen]byte

// RequestHeader is the 24-byte common request header.
type RequestHeader struct {
	RequestedLifetime primitives.LifetimeSeconds
	ClientIP          primitives.Address
}

// ResponseHeader is the 24-byte common response header.
type ResponseHeader struct {
	ResultCode primitives.ResultCode
	Lifetime   primitives.LifetimeSeconds
	EpochTime  primitives.EpochTime
}

// MapRequest is the 36-byte MAP opcode request body.
type MapRequest struct {
	Nonce                      primitives.Nonce
	Protocol                   primitives.Protocol
	InternalPort               primitives.Port
	SuggestedExternalPort      primitives.Port
	SuggestedExternalIPAddress primitives.Address
}

// MapResponse is the 36-byte MAP opcode response body.
type MapResponse struct {
	Nonce                     primitives.Nonce
	Protocol                  primitives.Protocol
	InternalPort              primitives.Port
	AssignedExternalPort      primitives.Port
	AssignedExternalIPAddress primitives.Address
}

// ---- Encoder ----

// Encoder begins a staged packet build. Obtain one with NewEncoder, pick a
// direction, then an opcode body, then finish.
type Encoder struct {
	buf *Buffer
}

// NewEncoder returns an Encoder writing into a freshly zeroed buf. Any
// prior contents of buf are discarded.
func NewEncoder(buf *Buffer) Encoder {
	*buf = Buffer{}
	return Encoder{buf: buf}
}

// Request selects the request direction (R=0).
func (e Encoder) Request() RequestEncoder {
	return RequestEncoder{buf: e.buf}
}

// Response selects the response direction (R=1).
func (e Encoder) Response() ResponseEncoder {
	return ResponseEncoder{buf: e.buf}
}

// RequestEncoder is staged to accept exactly one opcode-specific body.
type RequestEncoder struct {
	buf *Buffer
}

// Map writes the common request header and the MAP opcode body, and
// returns an OptionsEncoder ready to append zero or more options.
//
// Returns an error if opcode ≥ 128, which would collide with the R bit
// that distinguishes a request from a response.
func (r RequestEncoder) Map(header RequestHeader, body MapRequest) (OptionsEncoder, error) {
	rAndOpcode, ok := wire.NewRAndOpcode(false, wire.OpcodeMap)
	if !ok {
		return OptionsEncoder{}, fmt.Errorf("packet: opcode %d collides with the R bit", wire.OpcodeMap)
	}

	buf := r.buf
	buf[0] = byte(wire.Version)
	buf[1] = byte(rAndOpcode)
	// buf[2:4] reserved, already zero.
	binary.BigEndian.PutUint32(buf[4:8], uint32(header.RequestedLifetime))
	copyAddress(buf[8:24], header.ClientIP)

	off := wire.HeaderLen
	copy(buf[off:off+12], body.Nonce[:])
	buf[off+12] = byte(body.Protocol)
	// buf[off+13:off+16] reserved, already zero.
	binary.BigEndian.PutUint16(buf[off+16:off+18], uint16(body.InternalPort))
	binary.BigEndian.PutUint16(buf[off+18:off+20], uint16(body.SuggestedExternalPort))
	copyAddress(buf[off+20:off+36], body.SuggestedExternalIPAddress)

	return OptionsEncoder{buf: buf, offset: wire.HeaderLen + wire.MapOpcodeLen}, nil
}

// ResponseEncoder is staged to accept exactly one opcode-specific body.
type ResponseEncoder struct {
	buf *Buffer
}

// Map writes the common response header and the MAP opcode body, and
// returns an OptionsEncoder ready to append zero or more options.
func (r ResponseEncoder) Map(header ResponseHeader, body MapResponse) (OptionsEncoder, error) {
	rAndOpcode, ok := wire.NewRAndOpcode(true, wire.OpcodeMap)
	if !ok {
		return OptionsEncoder{}, fmt.Errorf("packet: opcode %d collides with the R bit", wire.OpcodeMap)
	}

	buf := r.buf
	buf[0] = byte(wire.Version)
	buf[1] = byte(rAndOpcode)
	// buf[2] reserved, already zero.
	buf[3] = byte(header.ResultCode)
	binary.BigEndian.PutUint32(buf[4:8], uint32(header.Lifetime))
	binary.BigEndian.PutUint32(buf[8:12], uint32(header.EpochTime))
	// buf[12:24] reserved, already zero.

	off := wire.HeaderLen
	copy(buf[off:off+12], body.Nonce[:])
	buf[off+12] = byte(body.Protocol)
	binary.BigEndian.PutUint16(buf[off+16:off+18], uint16(body.InternalPort))
	binary.BigEndian.PutUint16(buf[off+18:off+20], uint16(body.AssignedExternalPort))
	copyAddress(buf[off+20:off+36], body.AssignedExternalIPAddress)

	return OptionsEncoder{buf: buf, offset: wire.HeaderLen + wire.MapOpcodeLen}, nil
}

// OptionsEncoder accumulates zero or more PCP options before Finish.
type OptionsEncoder struct {
	buf    *Buffer
	offset int
}

// AddOption appends one option (RFC 6887 §7.3). code's MSB marks it
// optional-to-process; callers pass wire.WithOptionalBit(code, ...) to
// set it.
func (o OptionsEncoder) AddOption(code primitives.OptionCode, data []byte) (OptionsEncoder, error) {
	need := wire.OptionHeaderLen + len(data)
	if o.offset+need > len(o.buf) {
		return o, fmt.Errorf("packet: option does not fit remaining %d bytes", len(o.buf)-o.offset)
	}

	buf := o.buf
	buf[o.offset] = byte(code)
	// buf[o.offset+1] reserved, already zero.
	binary.BigEndian.PutUint16(buf[o.offset+2:o.offset+4], uint16(len(data)))
	copy(buf[o.offset+wire.OptionHeaderLen:o.offset+need], data)

	return OptionsEncoder{buf: buf, offset: o.offset + need}, nil
}

// Finish yields the completed buffer.
func (o OptionsEncoder) Finish() *Buffer {
	return o.buf
}

func copyAddress(dst []byte, addr primitives.Address) {
	octets := primitives.UnifyAddress(addr).As16()
	copy(dst, octets[:])
}

// ---- Decoder ----

// Decoder inspects a received buffer without assuming its direction or
// opcode up front.
type Decoder struct {
	buf *Buffer
}

// NewDecoder wraps buf for decoding.
func NewDecoder(buf *Buffer) Decoder {
	return Decoder{buf: buf}
}

func (d Decoder) version() primitives.PcpVersion {
	return primitives.PcpVersion(d.buf[0])
}

func (d Decoder) rAndOpcode() wire.RAndOpcode {
	return wire.RAndOpcode(d.buf[1])
}

func (d Decoder) matches(isResponse bool, opcode wire.Opcode) bool {
	return d.version() == wire.Version &&
		d.rAndOpcode().IsResponse() == isResponse &&
		d.rAndOpcode().Opcode() == opcode
}

// MapRequest decodes buf as a MAP request. ok is false (not an error) if
// buf is not a MAP request, e.g. it is a response or another opcode.
func (d Decoder) MapRequest() (header RequestHeader, body MapRequest, ok bool) {
	if !d.matches(false, wire.OpcodeMap) {
		return RequestHeader{}, MapRequest{}, false
	}

	buf := d.buf
	header = RequestHeader{
		RequestedLifetime: primitives.LifetimeSeconds(binary.BigEndian.Uint32(buf[4:8])),
		ClientIP:          readAddress(buf[8:24]),
	}

	off := wire.HeaderLen
	var nonce primitives.Nonce
	copy(nonce[:], buf[off:off+12])
	body = MapRequest{
		Nonce:                      nonce,
		Protocol:                   primitives.Protocol(buf[off+12]),
		InternalPort:               primitives.Port(binary.BigEndian.Uint16(buf[off+16 : off+18])),
		SuggestedExternalPort:      primitives.Port(binary.BigEndian.Uint16(buf[off+18 : off+20])),
		SuggestedExternalIPAddress: readAddress(buf[off+20 : off+36]),
	}

	return header, body, true
}

// MapResponse decodes buf as a MAP response. ok is false (not an error) if
// buf is not a MAP response.
func (d Decoder) MapResponse() (header ResponseHeader, body MapResponse, ok bool) {
	if !d.matches(true, wire.OpcodeMap) {
		return ResponseHeader{}, MapResponse{}, false
	}

	buf := d.buf
	header = ResponseHeader{
		ResultCode: primitives.ResultCode(buf[3]),
		Lifetime:   primitives.LifetimeSeconds(binary.BigEndian.Uint32(buf[4:8])),
		EpochTime:  primitives.EpochTime(binary.BigEndian.Uint32(buf[8:12])),
	}

	off := wire.HeaderLen
	var nonce primitives.Nonce
	copy(nonce[:], buf[off:off+12])
	body = MapResponse{
		Nonce:                     nonce,
		Protocol:                  primitives.Protocol(buf[off+12]),
		InternalPort:              primitives.Port(binary.BigEndian.Uint16(buf[off+16 : off+18])),
		AssignedExternalPort:      primitives.Port(binary.BigEndian.Uint16(buf[off+18 : off+20])),
		AssignedExternalIPAddress: readAddress(buf[off+20 : off+36]),
	}

	return header, body, true
}

func readAddress(src []byte) primitives.Address {
	var octets [16]byte
	copy(octets[:], src)
	return primitives.AddrFrom16(octets)
}
