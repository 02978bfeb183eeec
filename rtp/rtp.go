// Package rtp implements the RTP media dissector described in spec.md
// §4.6: stream identity (src, dst, ssrc) plus the payload type used as
// the codec id, treating the codec itself as an opaque decode function
// per spec.md §1 (out of scope).
package rtp

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// ErrTooShort is returned when a buffer is too small to carry a valid
// RTP fixed header.
var ErrTooShort = errors.New("rtp: packet shorter than fixed header")

const fixedHeaderLen = 12

// Packet is a parsed RTP packet.
type Packet struct {
	Version        uint8
	Padding        bool
	Extension      bool
	CSRCCount      uint8
	Marker         bool
	PayloadType    uint8 // also used as the codec id, per spec.md §8 scenario 6
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	Payload        []byte
}

// LooksLikeRTP applies the second-byte heuristic spec.md §4.6
// describes: RTP is distinguished from RTCP by the payload/packet type
// byte; RTCP types occupy 192-223 with version 2, so anything outside
// that range (or not version 2) is treated as RTP here. Callers should
// try the RTCP sniff first, per spec.md §4.2's declared dissector order.
func LooksLikeRTP(data []byte) bool {
	if len(data) < 2 {
		return false
	}

	version := data[0] >> 6
	pt := data[1]

	return version == 2 && !(pt >= 192 && pt <= 223)
}

// Parse parses an RTP packet's fixed header and payload.
func Parse(data []byte) (*Packet, error) {
	if len(data) < fixedHeaderLen {
		return nil, ErrTooShort
	}

	p := &Packet{
		Version:        data[0] >> 6,
		Padding:        data[0]&0x20 != 0,
		Extension:      data[0]&0x10 != 0,
		CSRCCount:      data[0] & 0x0F,
		Marker:         data[1]&0x80 != 0,
		PayloadType:    data[1] & 0x7F,
		SequenceNumber: binary.BigEndian.Uint16(data[2:4]),
		Timestamp:      binary.BigEndian.Uint32(data[4:8]),
		SSRC:           binary.BigEndian.Uint32(data[8:12]),
	}

	off := fixedHeaderLen + int(p.CSRCCount)*4
	if off > len(data) {
		return nil, errors.New("rtp: truncated csrc list")
	}

	p.Payload = data[off:]

	return p, nil
}
