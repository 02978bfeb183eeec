package dissector

import (
	"bytes"
	"encoding/binary"

	"go.uber.org/zap"

	"github.com/sipflow/sipflow/packet"
	"github.com/sipflow/sipflow/reassembly"
)

// wsState is the per-flow WebSocket classification and buffering state,
// per spec.md §2's data-flow diagram (WebSocket as a terminal dissector
// alongside SIP/RTP/RTCP) and RFC 7118 (SIP over WebSocket).
type wsState struct {
	upgraded bool
	buf      []byte // unclassified bytes, or undelivered WS frame bytes once upgraded
	message  []byte // accumulated payload of a fragmented WS message (continuation frames)
}

// wsOpcode is an RFC 6455 frame opcode.
type wsOpcode byte

const (
	wsOpcodeContinuation wsOpcode = 0x0
	wsOpcodeText         wsOpcode = 0x1
	wsOpcodeBinary       wsOpcode = 0x2
	wsOpcodeClose        wsOpcode = 0x8
	wsOpcodePing         wsOpcode = 0x9
	wsOpcodePong         wsOpcode = 0xA
)

// wsFrame is one parsed RFC 6455 frame, payload already unmasked.
type wsFrame struct {
	fin     bool
	opcode  wsOpcode
	payload []byte
}

// feedApplicationStream is the entry point for reassembled TCP/TLS stream
// bytes, trying a WebSocket upgrade classification before falling back to
// plain SIP stream framing, per spec.md §2's data-flow diagram.
func (e *Engine) feedApplicationStream(pk *packet.Packet, key reassembly.FlowKey, data []byte) {
	st, ok := e.ws[key]
	if !ok {
		st = &wsState{}
		e.ws[key] = st
	}

	st.buf = append(st.buf, data...)

	if !st.upgraded {
		if !looksLikeWSUpgradeRequest(st.buf) {
			pending := st.buf
			delete(e.ws, key)
			e.feedSIPStream(pk, key, pending)

			return
		}

		headerEnd, ok := httpHeadersComplete(st.buf)
		if !ok {
			// still waiting for the rest of the handshake request.
			return
		}

		st.upgraded = true
		st.buf = st.buf[headerEnd:]

		log.Debug("classified tcp flow as websocket transport", zap.String("flow", key.LowAddr+":"+key.HighAddr))
	}

	e.drainWSFrames(pk, key, st)
}

// looksLikeWSUpgradeRequest is the heuristic for trying WebSocket
// classification: an HTTP/1.1 request line, checked before the headers
// are necessarily complete.
func looksLikeWSUpgradeRequest(buf []byte) bool {
	return bytes.HasPrefix(buf, []byte("GET "))
}

// httpHeadersComplete reports whether buf holds a full CRLFCRLF-terminated
// HTTP header block, returning the index just past it.
func httpHeadersComplete(buf []byte) (int, bool) {
	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		return 0, false
	}

	return idx + 4, true
}

// drainWSFrames parses as many complete RFC 6455 frames as are buffered,
// reassembling fragmented messages across continuation frames and handing
// each completed message's payload to SIP framing per RFC 7118 (one
// WebSocket message carries exactly one SIP message).
func (e *Engine) drainWSFrames(pk *packet.Packet, key reassembly.FlowKey, st *wsState) {
	for {
		frame, consumed, ok := parseWSFrame(st.buf)
		if !ok {
			break
		}

		st.buf = st.buf[consumed:]

		switch frame.opcode {
		case wsOpcodeText, wsOpcodeBinary, wsOpcodeContinuation:
			st.message = append(st.message, frame.payload...)

			if frame.fin {
				pk.AddLayer(packet.ProtoWebSocket, frame)
				e.feedSIPStream(pk, key, st.message)
				st.message = nil
			}

		case wsOpcodeClose:
			delete(e.ws, key)
			return

		default:
			// ping/pong: control frames carry no SIP payload.
		}
	}
}

// parseWSFrame parses one RFC 6455 frame off the front of buf, unmasking
// its payload if the MASK bit is set. It returns ok=false if buf doesn't
// yet hold a complete frame.
func parseWSFrame(buf []byte) (wsFrame, int, bool) {
	if len(buf) < 2 {
		return wsFrame{}, 0, false
	}

	fin := buf[0]&0x80 != 0
	opcode := wsOpcode(buf[0] & 0x0F)
	masked := buf[1]&0x80 != 0
	length := int(buf[1] & 0x7F)

	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return wsFrame{}, 0, false
		}

		length = int(binary.BigEndian.Uint16(buf[offset : offset+2]))
		offset += 2

	case 127:
		if len(buf) < offset+8 {
			return wsFrame{}, 0, false
		}

		length = int(binary.BigEndian.Uint64(buf[offset : offset+8]))
		offset += 8
	}

	var maskKey [4]byte

	if masked {
		if len(buf) < offset+4 {
			return wsFrame{}, 0, false
		}

		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	if len(buf) < offset+length {
		return wsFrame{}, 0, false
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:offset+length])

	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return wsFrame{fin: fin, opcode: opcode, payload: payload}, offset + length, true
}
