package dissector

import (
	"github.com/pkg/errors"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/sipflow/sipflow/packet"
)

// decodeIP decodes an IPv4 or IPv6 header, appends the resulting
// packet.IPInfo layer, and returns the transport payload plus the next
// layer to decode it as (TCP or UDP).
func decodeIP(pk *packet.Packet, layerType gopacket.LayerType, data []byte) ([]byte, layers.IPProtocol, error) {
	switch layerType {
	case layers.LayerTypeIPv4:
		var ip layers.IPv4
		if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, 0, errors.Wrap(err, "decode ipv4")
		}

		pk.AddLayer(packet.ProtoIPv4, &packet.IPInfo{SrcIP: ip.SrcIP.String(), DstIP: ip.DstIP.String()})

		return ip.Payload, ip.Protocol, nil

	case layers.LayerTypeIPv6:
		var ip layers.IPv6
		if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
			return nil, 0, errors.Wrap(err, "decode ipv6")
		}

		pk.AddLayer(packet.ProtoIPv6, &packet.IPInfo{SrcIP: ip.SrcIP.String(), DstIP: ip.DstIP.String()})

		return ip.Payload, ip.NextHeader, nil

	default:
		return nil, 0, errors.New("dissector: not an IP layer")
	}
}
