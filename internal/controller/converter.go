// Package controller implements the reconciler bridge: it translates
// the declarative PCPMap resource into a (mapping.Id, mapping.Params)
// pair and drives the client engine through its command channel.
package controller

import (
	"fmt"
	"math"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/util/intstr"

	pcpforwardv1alpha1 "github.com/pcpforward/controller/api/v1alpha1"
	"github.com/pcpforward/controller/internal/pcp/mapping"
	"github.com/pcpforward/controller/internal/pcp/primitives"
	"github.com/pcpforward/controller/internal/pcperr"
)

// symbolicProtocols maps the PCPMapSpec.Protocol string form to its
// IANA protocol number.
var symbolicProtocols = map[string]primitives.Protocol{
	"any":  primitives.ProtocolAny,
	"tcp":  primitives.ProtocolTCP,
	"udp":  primitives.ProtocolUDP,
	"sctp": primitives.ProtocolSCTP,
	"dccp": primitives.ProtocolDCCP,
}

// Converter turns PCPMap specs into (mapping.Id, mapping.Params) pairs.
// Nonce is a controller-wide constant: every mapping this controller
// creates shares it, since nonces exist to disambiguate concurrent
// clients, not resources within one controller.
type Converter struct {
	Nonce             primitives.Nonce
	KeepaliveInterval float64 // seconds; lifetime derives from 2x this, clamped to uint32 max.
}

// Convert translates spec into a mapping identity and parameters.
// Returns a *pcperr.Error of kind Conversion on an unknown protocol
// name or an out-of-range internal address/port.
func (c Converter) Convert(spec pcpforwardv1alpha1.PCPMapSpec) (mapping.Id, mapping.Params, error) {
	protocol, err := c.convertProtocol(spec.Protocol)
	if err != nil {
		return mapping.Id{}, mapping.Params{}, err
	}

	internalIP, internalPort, err := c.convertSocketAddr(spec.To)
	if err != nil {
		return mapping.Id{}, mapping.Params{}, err
	}

	id := mapping.Id{
		Protocol:     protocol,
		InternalIP:   internalIP,
		InternalPort: internalPort,
		Nonce:        c.Nonce,
	}

	lifetime := c.lifetime()
	params := mapping.Params{
		Lifetime:     lifetime,
		ExternalPort: primitives.Port(spec.From),
		ExternalIP:   primitives.UnifyAddress(netip.IPv6Unspecified()),
	}

	return id, params, nil
}

func (c Converter) lifetime() primitives.LifetimeSeconds {
	seconds := c.KeepaliveInterval * 2
	if seconds > math.MaxUint32 {
		return primitives.LifetimeSeconds(math.MaxUint32)
	}
	if seconds < 0 {
		return 0
	}
	return primitives.LifetimeSeconds(uint32(seconds))
}

func (c Converter) convertProtocol(value intstr.IntOrString) (primitives.Protocol, error) {
	if value.Type == intstr.Int {
		n := value.IntValue()
		if n < 0 || n > math.MaxUint8 {
			return 0, pcperr.Newf(pcperr.Conversion, "convert protocol", fmt.Errorf("protocol number %d out of range", n), "valid range is 0-255")
		}
		return primitives.Protocol(n), nil
	}

	name := strings.ToLower(value.StrVal)
	protocol, ok := symbolicProtocols[name]
	if !ok {
		return 0, pcperr.Newf(pcperr.Conversion, "convert protocol", fmt.Errorf("unrecognized protocol name %q", value.StrVal), "expected one of any, tcp, udp, sctp, dccp")
	}
	return protocol, nil
}

func (c Converter) convertSocketAddr(to string) (primitives.Address, primitives.Port, error) {
	host, portStr, err := net.SplitHostPort(to)
	if err != nil {
		return primitives.Address{}, 0, pcperr.Newf(pcperr.Conversion, "convert socket address", err, "%q must be host:port", to)
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		return primitives.Address{}, 0, pcperr.Newf(pcperr.Conversion, "convert socket address", err, "%q is not a valid IP address", host)
	}

	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return primitives.Address{}, 0, pcperr.Newf(pcperr.Conversion, "convert socket address", err, "%q is not a valid port", portStr)
	}

	return primitives.UnifyAddress(addr), primitives.Port(port), nil
}
