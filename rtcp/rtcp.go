// Package rtcp implements the RTCP quality-report dissector described
// in spec.md §4.6: Sender Report sender-packet-count tracking and
// Extended Report (XR) VoIP Metrics extraction.
//
// Grounded on original_source/src/packet/packet_rtcp.c's SR/XR walk.
package rtcp

import "encoding/binary"

// Packet types, per RFC 3550/3611.
const (
	TypeSenderReport   = 200
	TypeReceiverReport = 201
	TypeExtendedReport = 207

	xrBlockVoIPMetrics = 7
)

// SenderReport holds the fields spec.md §4.6 asks for: the sender
// packet count (SPC), used as a loss-rate cross-check baseline.
type SenderReport struct {
	SSRC              uint32
	SenderPacketCount uint32
}

// VoIPMetrics is one RFC 3611 §4.7 VoIP Metrics XR block, reduced to the
// fields spec.md §4.6 names.
type VoIPMetrics struct {
	SourceSSRC  uint32
	LossRate    uint8
	DiscardRate uint8
	MOSLQ       uint8 // fixed-point, value/10 = MOS
	MOSCQ       uint8
}

// Report is the parsed result of one RTCP compound packet: the first
// Sender Report seen, if any, plus every VoIP Metrics XR block found.
type Report struct {
	SR   *SenderReport
	VoIP []VoIPMetrics
}

// LooksLikeRTCP applies the packet-type/version heuristic from spec.md
// §4.6: version 2 and a packet type in 192-223. Per spec.md §9's open
// question, a valid match returns true (the positive case), not the
// source's inverted always-false behavior.
func LooksLikeRTCP(data []byte) bool {
	if len(data) < 2 {
		return false
	}

	version := data[0] >> 6
	pt := data[1]

	return version == 2 && pt >= 192 && pt <= 223
}

// Parse walks a compound RTCP packet (one or more stacked records),
// extracting the first Sender Report and every VoIP Metrics XR block.
// Malformed individual reports truncate the walk without failing the
// overall parse, per spec.md §4.6.
func Parse(data []byte) *Report {
	report := &Report{}

	for len(data) >= 4 {
		length := binary.BigEndian.Uint16(data[2:4])
		recordLen := (int(length) + 1) * 4

		if recordLen > len(data) {
			break
		}

		pt := data[1]
		record := data[:recordLen]

		switch pt {
		case TypeSenderReport:
			if report.SR == nil {
				if sr := parseSenderReport(record); sr != nil {
					report.SR = sr
				}
			}
		case TypeExtendedReport:
			report.VoIP = append(report.VoIP, parseXR(record)...)
		}

		data = data[recordLen:]
	}

	return report
}

func parseSenderReport(record []byte) *SenderReport {
	// header(4) + SSRC(4) + NTP(8) + RTP ts(4) + packet count(4) + octet count(4)
	if len(record) < 24 {
		return nil
	}

	return &SenderReport{
		SSRC:              binary.BigEndian.Uint32(record[4:8]),
		SenderPacketCount: binary.BigEndian.Uint32(record[20:24]),
	}
}

// parseXR walks the report blocks of an Extended Report packet,
// extracting VoIP Metrics (block type 7) blocks.
func parseXR(record []byte) []VoIPMetrics {
	if len(record) < 8 {
		return nil
	}

	blocks := record[8:] // skip header(4) + reporter SSRC(4)

	var out []VoIPMetrics

	for len(blocks) >= 4 {
		blockType := blocks[0]
		blockLen := binary.BigEndian.Uint16(blocks[2:4])

		if blockLen == 0 {
			// len=0 terminates the walk without error, per spec.md §8.
			break
		}

		size := 4 + int(blockLen)*4
		if size > len(blocks) {
			break
		}

		if blockType == xrBlockVoIPMetrics {
			if vm, ok := parseVoIPMetrics(blocks[:size]); ok {
				out = append(out, vm)
			}
		}

		blocks = blocks[size:]
	}

	return out
}

func parseVoIPMetrics(block []byte) (VoIPMetrics, bool) {
	// header(4) + SSRC(4) + 28 bytes of metrics = 36 bytes minimum.
	if len(block) < 36 {
		return VoIPMetrics{}, false
	}

	data := block[4:]

	return VoIPMetrics{
		SourceSSRC:  binary.BigEndian.Uint32(data[0:4]),
		LossRate:    data[4],
		DiscardRate: data[5],
		MOSLQ:       data[22],
		MOSCQ:       data[23],
	}, true
}
