// Package packet defines the layered packet envelope that flows through
// the dissector chain: a timestamped frame carrying an ordered list of
// decoded protocol layers, plus the raw bytes for later export.
//
// This mirrors DynamEq6388-netcap's decoder/packet connection bookkeeping,
// generalized from a single "Connection" audit record into a generic
// layer stack the dissector chain appends to as each stage consumes the
// frame.
package packet

import "github.com/sipflow/sipflow/address"

// ProtoTag names a protocol a Layer's Payload was decoded as. It plays
// the role gopacket.LayerType plays for the underlying capture library,
// but also spans the application-layer protocols (SIP/RTP/RTCP/TLS) that
// gopacket itself has no opinion about.
type ProtoTag int

const (
	ProtoUnknown ProtoTag = iota
	ProtoEthernet
	ProtoLinuxSLL
	ProtoRawIP
	ProtoIPv4
	ProtoIPv6
	ProtoUDP
	ProtoTCP
	ProtoTLS
	ProtoSIP
	ProtoRTP
	ProtoRTCP
	ProtoWebSocket
)

func (t ProtoTag) String() string {
	switch t {
	case ProtoEthernet:
		return "Ethernet"
	case ProtoLinuxSLL:
		return "LinuxSLL"
	case ProtoRawIP:
		return "RawIP"
	case ProtoIPv4:
		return "IPv4"
	case ProtoIPv6:
		return "IPv6"
	case ProtoUDP:
		return "UDP"
	case ProtoTCP:
		return "TCP"
	case ProtoTLS:
		return "TLS"
	case ProtoSIP:
		return "SIP"
	case ProtoRTP:
		return "RTP"
	case ProtoRTCP:
		return "RTCP"
	case ProtoWebSocket:
		return "WebSocket"
	default:
		return "Unknown"
	}
}

// Layer is one decoded protocol layer within a Packet. Payload is the
// layer-specific decoded value (e.g. *IPInfo, *TCPInfo); dissectors
// type-assert the tag they expect.
type Layer struct {
	Tag     ProtoTag
	Payload any
}

// IPInfo is the decoded payload for ProtoIPv4/ProtoIPv6 layers.
type IPInfo struct {
	SrcIP string
	DstIP string
}

// TCPInfo is the decoded payload for a ProtoTCP layer.
type TCPInfo struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	SYN     bool
	ACK     bool
	FIN     bool
	RST     bool
	Payload []byte
}

// UDPInfo is the decoded payload for a ProtoUDP layer.
type UDPInfo struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// Packet is a single captured frame as it travels down the dissector
// chain. Layers accumulates one entry per stage that successfully
// decoded a piece of it; Raw is retained unmodified for later export by
// out-of-scope collaborators (PCAP writers etc).
type Packet struct {
	Timestamp int64 // microseconds since Unix epoch
	Raw       []byte
	Layers    []Layer
}

// New creates a Packet with the given microsecond timestamp and raw
// bytes.
func New(timestampMicros int64, raw []byte) *Packet {
	return &Packet{Timestamp: timestampMicros, Raw: raw}
}

// AddLayer appends a decoded layer to the packet.
func (p *Packet) AddLayer(tag ProtoTag, payload any) {
	p.Layers = append(p.Layers, Layer{Tag: tag, Payload: payload})
}

// Layer returns the most recently added layer with the given tag, or
// false if none is present.
func (p *Packet) Layer(tag ProtoTag) (Layer, bool) {
	for i := len(p.Layers) - 1; i >= 0; i-- {
		if p.Layers[i].Tag == tag {
			return p.Layers[i], true
		}
	}

	return Layer{}, false
}

// ipInfo returns the highest-indexed IP layer's info, if any.
func (p *Packet) ipInfo() (IPInfo, bool) {
	for i := len(p.Layers) - 1; i >= 0; i-- {
		if tag := p.Layers[i].Tag; tag == ProtoIPv4 || tag == ProtoIPv6 {
			return *p.Layers[i].Payload.(*IPInfo), true
		}
	}

	return IPInfo{}, false
}

// Src resolves the source address from the highest-indexed L3/L4 layers
// present on the packet. Returns the zero Address if no IP layer has
// been decoded yet.
func (p *Packet) Src() address.Address {
	ip, ok := p.ipInfo()
	if !ok {
		return address.Address{}
	}

	return address.New(ip.SrcIP, p.srcPort())
}

// Dst resolves the destination address, symmetric to Src.
func (p *Packet) Dst() address.Address {
	ip, ok := p.ipInfo()
	if !ok {
		return address.Address{}
	}

	return address.New(ip.DstIP, p.dstPort())
}

func (p *Packet) srcPort() uint16 {
	if l, ok := p.Layer(ProtoTCP); ok {
		return l.Payload.(*TCPInfo).SrcPort
	}

	if l, ok := p.Layer(ProtoUDP); ok {
		return l.Payload.(*UDPInfo).SrcPort
	}

	return 0
}

func (p *Packet) dstPort() uint16 {
	if l, ok := p.Layer(ProtoTCP); ok {
		return l.Payload.(*TCPInfo).DstPort
	}

	if l, ok := p.Layer(ProtoUDP); ok {
		return l.Payload.(*UDPInfo).DstPort
	}

	return 0
}
