// Package dissector implements the composable dissector chain described
// in spec.md §4.2: link-layer framing, IPv4/IPv6, and UDP/TCP, dispatching
// by payload content to SIP, RTP, RTCP, and (over TCP) TLS/reassembly.
//
// Grounded on DynamEq6388-netcap's decoder registry pattern (an ordered
// set of stages each handed the same frame, generalized here from
// netcap's layer-type switch in its gopacket collector into an explicit
// small chain matching spec.md's narrower protocol set) and on
// github.com/dreadl0ck/gopacket/layers for header decode instead of
// hand-rolled parsing, per SPEC_FULL.md §5.
package dissector

import (
	"github.com/pkg/errors"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"
)

// ErrUnsupportedLinkType is returned when a frame's link type has no
// decoder wired, per spec.md §7 (ParseError group).
var ErrUnsupportedLinkType = errors.New("dissector: unsupported link type")

// decodeLink strips the link-layer header, returning the IP-layer
// payload and the gopacket.LayerType to decode it as.
func decodeLink(linkType layers.LinkType, data []byte) ([]byte, gopacket.LayerType, error) {
	switch linkType {
	case layers.LinkTypeEthernet:
		var eth layers.Ethernet
		if err := eth.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, 0, errors.Wrap(err, "decode ethernet")
		}

		return eth.Payload, eth.NextLayerType(), nil

	case layers.LinkTypeLinuxSLL:
		var sll layers.LinuxSLL
		if err := sll.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, 0, errors.Wrap(err, "decode linux sll")
		}

		return sll.Payload, sll.NextLayerType(), nil

	case layers.LinkTypeRaw, layers.LinkTypeIPv4, layers.LinkTypeIPv6:
		// raw IP capture (no link-layer header at all); sniff the version
		// nibble rather than trusting the DLT, since DLT_RAW doesn't say
		// which IP version follows.
		if len(data) > 0 && data[0]>>4 == 6 {
			return data, layers.LayerTypeIPv6, nil
		}

		return data, layers.LayerTypeIPv4, nil

	default:
		return nil, 0, errors.Wrapf(ErrUnsupportedLinkType, "link type %v", linkType)
	}
}
