package dissector

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/packet"
	"github.com/sipflow/sipflow/reassembly"
	"github.com/sipflow/sipflow/sip"
	"github.com/sipflow/sipflow/tlsdissect"
)

func decodeTCP(pk *packet.Packet, data []byte) (*packet.TCPInfo, error) {
	var tcp layers.TCP
	if err := tcp.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return nil, errors.Wrap(err, "decode tcp")
	}

	info := &packet.TCPInfo{
		SrcPort: uint16(tcp.SrcPort), DstPort: uint16(tcp.DstPort),
		Seq: tcp.Seq, Ack: tcp.Ack,
		SYN: tcp.SYN, ACK: tcp.ACK, FIN: tcp.FIN, RST: tcp.RST,
		Payload: tcp.Payload,
	}
	pk.AddLayer(packet.ProtoTCP, info)

	return info, nil
}

// tlsRecordHeaderLen is the standard 5-byte TLS record header: content
// type(1), version major/minor(1+1), length(2).
const tlsRecordHeaderLen = 5

// dispatchTCPSegment feeds one TCP segment through reassembly and, once
// an in-order prefix is available, through the TLS-candidate-first
// chain (tlsdissect, falling back to direct SIP framing), per spec.md
// §4.2/§4.3. A TLS connection is only tried for flows a SYN started
// while the configured server filter (if any) matched.
func (e *Engine) dispatchTCPSegment(pk *packet.Packet, src, dst address.Address, info *packet.TCPInfo) {
	key := reassembly.NewFlowKey(src, dst)

	if info.SYN && !info.ACK {
		e.tls.OnSYN(src, dst)
	}

	fresh := e.reassembly.Insert(src, dst, info.Seq, info.Payload)

	if len(fresh) > 0 {
		e.feedStream(pk, key, src, dst, fresh)
	}

	if info.FIN || info.RST {
		e.tls.OnFIN(src, dst)
		e.reassembly.Close(key)
		delete(e.sipBuffers, key)
		delete(e.tlsPending, key)
		delete(e.ws, key)
	}
}

func (e *Engine) feedStream(pk *packet.Packet, key reassembly.FlowKey, src, dst address.Address, fresh []byte) {
	conn, hasConn := e.tls.Get(src, dst)

	// A SYN makes a flow a TLS candidate; if the bytes at a record
	// boundary are neither a TLS record header (content type 20-23, major
	// version 3) nor an SSLv2 hello, the session is dropped and the flow
	// falls back to plain stream framing.
	if hasConn && len(e.tlsPending[key]) == 0 && len(fresh) >= 2 && !looksLikeSSLv2ClientHello(fresh) &&
		(fresh[0] < 20 || fresh[0] > 23 || fresh[1] != 3) {
		e.tls.Drop(conn.Client, conn.Server)
		hasConn = false
	}

	if !hasConn {
		e.feedApplicationStream(pk, key, fresh)
		return
	}

	fromClient := conn.Client.Equal(src)
	e.feedTLS(pk, key, conn, fromClient, fresh)
}

func (e *Engine) feedTLS(pk *packet.Packet, key reassembly.FlowKey, conn *tlsdissect.Connection, fromClient bool, fresh []byte) {
	buf := append(e.tlsPending[key], fresh...)

	if looksLikeSSLv2ClientHello(buf) {
		conn.ProcessSSLv2ClientHello()
		delete(e.tlsPending, key)

		return
	}

	for len(buf) >= tlsRecordHeaderLen {
		recordType := buf[0]
		major := int(buf[1])
		minor := int(buf[2])
		length := binary.BigEndian.Uint16(buf[3:5])
		total := tlsRecordHeaderLen + int(length)

		if total > len(buf) {
			break
		}

		plaintext, err := conn.ProcessRecord(recordType, major, minor, buf[tlsRecordHeaderLen:total], fromClient)
		if err != nil {
			log.Warn("tls record processing failed, dropping session", zap.Error(err))
			e.tls.Drop(conn.Client, conn.Server)
			delete(e.tlsPending, key)

			return
		}

		if len(plaintext) > 0 {
			pk.AddLayer(packet.ProtoTLS, conn)
			e.feedApplicationStream(pk, key, plaintext)
		}

		buf = buf[total:]
	}

	e.tlsPending[key] = buf
}

// looksLikeSSLv2ClientHello recognizes the legacy 2-byte-length SSLv2
// record framing (high bit of the first byte set, no content-type byte),
// per SPEC_FULL.md §6.
func looksLikeSSLv2ClientHello(buf []byte) bool {
	return len(buf) >= 2 && buf[0]&0x80 != 0
}

// feedSIPStream accumulates stream bytes (plain TCP or decrypted TLS)
// per flow and extracts every complete, Content-Length-delimited SIP
// message available, per spec.md §4.5.
func (e *Engine) feedSIPStream(pk *packet.Packet, key reassembly.FlowKey, data []byte) {
	buf := append(e.sipBuffers[key], data...)

	for {
		msgBytes, rest, ok := sip.TryExtract(buf)
		if !ok {
			break
		}

		msg, err := sip.Parse(msgBytes)
		if err != nil {
			log.Debug("sip: dropping unparsable streamed message", zap.Error(err))
		} else {
			msg.Timestamp = pk.Timestamp
			pk.AddLayer(packet.ProtoSIP, msg)
			e.storage.HandleMessage(msg)
		}

		buf = rest
	}

	e.sipBuffers[key] = buf
}
