package dissector

import (
	"crypto/rsa"

	"go.uber.org/zap"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/capture"
	"github.com/sipflow/sipflow/packet"
	"github.com/sipflow/sipflow/reassembly"
	"github.com/sipflow/sipflow/storage"
	"github.com/sipflow/sipflow/tlsdissect"
)

var log = zap.NewNop()

// SetLogger installs the logger used by this package.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// Engine is the dissector chain described in spec.md §4.2: an ordered
// set of stages (link, IP, UDP/TCP) each handed the same frame, with
// dynamic dispatch on payload content for the application-layer
// protocols. It is not a registry of polymorphic Dissector values (the
// protocol set spec.md names is small and fixed); it is the same
// iterative "first stage that consumes the frame wins" idea applied
// directly, matching DynamEq6388-netcap's decoder loop.
type Engine struct {
	storage    *storage.Table
	reassembly *reassembly.Table
	tls        *tlsdissect.Table

	sipBuffers map[reassembly.FlowKey][]byte
	tlsPending map[reassembly.FlowKey][]byte
	ws         map[reassembly.FlowKey]*wsState
}

// New builds a dissector Engine. serverKey may be nil to disable TLS
// decryption (handshakes are still observed); serverFilter may be nil to
// consider every TCP SYN a TLS candidate.
func New(st *storage.Table, serverKey *rsa.PrivateKey, serverFilter *address.Address) *Engine {
	return &Engine{
		storage:    st,
		reassembly: reassembly.NewTable(),
		tls:        tlsdissect.NewTable(serverKey, serverFilter),
		sipBuffers: make(map[reassembly.FlowKey][]byte),
		tlsPending: make(map[reassembly.FlowKey][]byte),
		ws:         make(map[reassembly.FlowKey]*wsState),
	}
}

// ProcessFrame runs one captured frame through the full chain: link, IP,
// then UDP or TCP. Errors are logged and the frame is dropped; per
// spec.md §7 per-packet failures never abort the run loop.
func (e *Engine) ProcessFrame(frame capture.Frame) {
	pk := packet.New(frame.TimestampUs, frame.Raw)

	ipPayload, layerType, err := decodeLink(frame.LinkType, frame.Raw)
	if err != nil {
		log.Debug("link decode failed", zap.Error(err))
		return
	}

	e.processIP(pk, layerType, ipPayload)
}

func (e *Engine) processIP(pk *packet.Packet, layerType gopacket.LayerType, data []byte) {
	payload, proto, err := decodeIP(pk, layerType, data)
	if err != nil {
		log.Debug("ip decode failed", zap.Error(err))
		return
	}

	switch proto {
	case layers.IPProtocolUDP:
		info, err := decodeUDP(pk, payload)
		if err != nil {
			log.Debug("udp decode failed", zap.Error(err))
			return
		}

		e.dispatchUDPPayload(pk, pk.Src(), pk.Dst(), info.Payload)

	case layers.IPProtocolTCP:
		info, err := decodeTCP(pk, payload)
		if err != nil {
			log.Debug("tcp decode failed", zap.Error(err))
			return
		}

		e.dispatchTCPSegment(pk, pk.Src(), pk.Dst(), info)

	default:
		// unhandled transport protocol; nothing further to dissect.
	}
}

// Tick ages the reassembly table by one unit; callers should invoke this
// once per capture loop iteration (or on a timer for idle inputs), per
// spec.md §4.3.
func (e *Engine) Tick() {
	for _, key := range e.reassembly.Tick() {
		delete(e.sipBuffers, key)
		delete(e.tlsPending, key)
		delete(e.ws, key)
	}
}
