package dissector

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/packet"
	"github.com/sipflow/sipflow/rtcp"
	"github.com/sipflow/sipflow/rtp"
	"github.com/sipflow/sipflow/sip"
)

func decodeUDP(pk *packet.Packet, data []byte) (*packet.UDPInfo, error) {
	var udp layers.UDP
	if err := udp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(err, "decode udp")
	}

	info := &packet.UDPInfo{SrcPort: uint16(udp.SrcPort), DstPort: uint16(udp.DstPort), Payload: udp.Payload}
	pk.AddLayer(packet.ProtoUDP, info)

	return info, nil
}

// looksTextShaped is the spec.md §4.2 heuristic for trying SIP parsing
// first: a SIP message starts with an uppercase ASCII method name or the
// "SIP/2.0" status line, never with a binary RTP/RTCP version-2 header
// byte (0x80-0xBF as the first byte for RTP, 0xC0-0xDF for RTCP).
func looksTextShaped(data []byte) bool {
	if len(data) == 0 {
		return false
	}

	b := data[0]

	return (b >= 'A' && b <= 'Z') || b == '\r' || b == '\n'
}

// dispatchUDPPayload tries SIP first on text-shaped payloads, then RTCP
// before RTP on the remainder, per spec.md §4.2's declared dissector
// order.
func (e *Engine) dispatchUDPPayload(pk *packet.Packet, src, dst address.Address, payload []byte) {
	if looksTextShaped(payload) {
		if msg, err := sip.Parse(payload); err == nil {
			msg.Timestamp = pk.Timestamp
			pk.AddLayer(packet.ProtoSIP, msg)
			e.storage.HandleMessage(msg)

			return
		}
	}

	if rtcp.LooksLikeRTCP(payload) {
		report := rtcp.Parse(payload)
		pk.AddLayer(packet.ProtoRTCP, report)

		ssrc := uint32(0)
		if report.SR != nil {
			ssrc = report.SR.SSRC
		}

		e.storage.AttachRTCP(src, dst, pk.Timestamp, len(payload), ssrc, report)

		return
	}

	if rtp.LooksLikeRTP(payload) {
		p, err := rtp.Parse(payload)
		if err != nil {
			log.Debug("rtp parse failed", zap.Error(err))
			return
		}

		pk.AddLayer(packet.ProtoRTP, p)
		e.storage.AttachRTP(src, dst, pk.Timestamp, len(payload), p)
	}
}
