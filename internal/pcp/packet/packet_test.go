package packet

import (
	"net/netip"
	"testing"

	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcp/wire"
)

func TestMapRequestRoundTrip(t *testing.T) {
	var buf Buffer
	nonce := primitives.Nonce{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	clientIP := netip.MustParseAddr("192.168.1.5")
	internalIP := netip.MustParseAddr("10.0.0.9")

	enc, err := NewEncoder(&buf).Request().Map(
		RequestHeader{RequestedLifetime: 7200, ClientIP: clientIP},
		MapRequest{
			Nonce:                      nonce,
			Protocol:                   primitives.ProtocolTCP,
			InternalPort:               8080,
			SuggestedExternalPort:      0,
			SuggestedExternalIPAddress: internalIP,
		},
	)
	if err != nil {
		t.Fatalf("encode map request: %v", err)
	}
	out := enc.Finish()
	if len(out) != wire.PacketLen {
		t.Fatalf("buffer length = %d, want %d", len(out), wire.PacketLen)
	}

	header, body, ok := NewDecoder(out).MapRequest()
	if !ok {
		t.Fatalf("decoder did not recognize buffer as a MAP request")
	}
	if header.RequestedLifetime != 7200 {
		t.Errorf("RequestedLifetime = %d, want 7200", header.RequestedLifetime)
	}
	if header.ClientIP != primitives.UnifyAddress(clientIP) {
		t.Errorf("ClientIP = %v, want %v", header.ClientIP, clientIP)
	}
	if body.Nonce != nonce {
		t.Errorf("Nonce = %v, want %v", body.Nonce, nonce)
	}
	if body.Protocol != primitives.ProtocolTCP {
		t.Errorf("Protocol = %d, want %d", body.Protocol, primitives.ProtocolTCP)
	}
	if body.InternalPort != 8080 {
		t.Errorf("InternalPort = %d, want 8080", body.InternalPort)
	}
	if body.SuggestedExternalIPAddress != primitives.UnifyAddress(internalIP) {
		t.Errorf("SuggestedExternalIPAddress = %v, want %v", body.SuggestedExternalIPAddress, internalIP)
	}

	if _, _, ok := NewDecoder(out).MapResponse(); ok {
		t.Errorf("decoder recognized a request buffer as a response")
	}
}

func TestMapResponseRoundTrip(t *testing.T) {
	var buf Buffer
	nonce := primitives.Nonce{9, 9, 9}
	externalIP := netip.MustParseAddr("203.0.113.7")

	enc, err := NewEncoder(&buf).Response().Map(
		ResponseHeader{ResultCode: wire.ResultSuccess, Lifetime: 3600, EpochTime: 42},
		MapResponse{
			Nonce:                     nonce,
			Protocol:                  primitives.ProtocolUDP,
			InternalPort:              53,
			AssignedExternalPort:      11053,
			AssignedExternalIPAddress: externalIP,
		},
	)
	if err != nil {
		t.Fatalf("encode map response: %v", err)
	}
	out := enc.Finish()

	header, body, ok := NewDecoder(out).MapResponse()
	if !ok {
		t.Fatalf("decoder did not recognize buffer as a MAP response")
	}
	if header.ResultCode != wire.ResultSuccess {
		t.Errorf("ResultCode = %d, want %d", header.ResultCode, wire.ResultSuccess)
	}
	if header.Lifetime != 3600 {
		t.Errorf("Lifetime = %d, want 3600", header.Lifetime)
	}
	if header.EpochTime != 42 {
		t.Errorf("EpochTime = %d, want 42", header.EpochTime)
	}
	if body.AssignedExternalPort != 11053 {
		t.Errorf("AssignedExternalPort = %d, want 11053", body.AssignedExternalPort)
	}
	if body.AssignedExternalIPAddress != primitives.UnifyAddress(externalIP) {
		t.Errorf("AssignedExternalIPAddress = %v, want %v", body.AssignedExternalIPAddress, externalIP)
	}

	if _, _, ok := NewDecoder(out).MapRequest(); ok {
		t.Errorf("decoder recognized a response buffer as a request")
	}
}

func TestAddOptionPreferFailure(t *testing.T) {
	var buf Buffer
	enc, err := NewEncoder(&buf).Request().Map(
		RequestHeader{RequestedLifetime: 1800, ClientIP: netip.MustParseAddr("10.1.1.1")},
		MapRequest{Protocol: primitives.ProtocolTCP, InternalPort: 443},
	)
	if err != nil {
		t.Fatalf("encode map request: %v", err)
	}

	withOption, err := enc.AddOption(wire.OptionPreferFailure, nil)
	if err != nil {
		t.Fatalf("add PREFER_FAILURE option: %v", err)
	}
	out := withOption.Finish()

	offset := wire.HeaderLen + wire.MapOpcodeLen
	if out[offset] != byte(wire.OptionPreferFailure) {
		t.Fatalf("option code at offset %d = %d, want %d", offset, out[offset], wire.OptionPreferFailure)
	}
	if out[offset+2] != 0 || out[offset+3] != 0 {
		t.Errorf("option length bytes = %d,%d, want 0,0", out[offset+2], out[offset+3])
	}
}

func TestAddOptionOverflowRejected(t *testing.T) {
	var buf Buffer
	enc, err := NewEncoder(&buf).Request().Map(
		RequestHeader{RequestedLifetime: 1800, ClientIP: netip.MustParseAddr("10.1.1.1")},
		MapRequest{Protocol: primitives.ProtocolTCP, InternalPort: 443},
	)
	if err != nil {
		t.Fatalf("encode map request: %v", err)
	}

	tooBig := make([]byte, wire.PacketLen)
	if _, err := enc.AddOption(wire.OptionPreferFailure, tooBig); err == nil {
		t.Fatalf("expected error adding an option larger than the remaining buffer")
	}
}

func TestUnrecognizedVersionRejected(t *testing.T) {
	var buf Buffer
	enc, err := NewEncoder(&buf).Request().Map(
		RequestHeader{RequestedLifetime: 60, ClientIP: netip.MustParseAddr("10.1.1.1")},
		MapRequest{Protocol: primitives.ProtocolUDP, InternalPort: 9},
	)
	if err != nil {
		t.Fatalf("encode map request: %v", err)
	}
	out := enc.Finish()
	out[0] = 1 // PCPv1, never supported.

	if _, _, ok := NewDecoder(out).MapRequest(); ok {
		t.Errorf("decoder accepted an unsupported PCP version")
	}
}
