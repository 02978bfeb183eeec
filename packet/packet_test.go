package packet

import "testing"

func TestSrcDstResolution(t *testing.T) {
	p := New(1000, []byte{1, 2, 3})
	p.AddLayer(ProtoIPv4, &IPInfo{SrcIP: "10.0.0.1", DstIP: "10.0.0.2"})
	p.AddLayer(ProtoUDP, &UDPInfo{SrcPort: 5060, DstPort: 5061, Payload: []byte("x")})

	src := p.Src()
	if src.IP != "10.0.0.1" || src.Port != 5060 {
		t.Errorf("Src() = %+v", src)
	}

	dst := p.Dst()
	if dst.IP != "10.0.0.2" || dst.Port != 5061 {
		t.Errorf("Dst() = %+v", dst)
	}
}

func TestSrcWithoutIPLayer(t *testing.T) {
	p := New(0, nil)
	if !p.Src().IsZero() {
		t.Errorf("expected zero address when no IP layer is present")
	}
}

func TestLayerLookupReturnsMostRecent(t *testing.T) {
	p := New(0, nil)
	p.AddLayer(ProtoIPv4, &IPInfo{SrcIP: "1.1.1.1", DstIP: "2.2.2.2"})
	p.AddLayer(ProtoIPv4, &IPInfo{SrcIP: "3.3.3.3", DstIP: "4.4.4.4"})

	l, ok := p.Layer(ProtoIPv4)
	if !ok {
		t.Fatalf("expected IPv4 layer present")
	}

	info := l.Payload.(*IPInfo)
	if info.SrcIP != "3.3.3.3" {
		t.Errorf("expected most recently added layer, got %+v", info)
	}
}

func TestTCPPortResolution(t *testing.T) {
	p := New(0, nil)
	p.AddLayer(ProtoIPv4, &IPInfo{SrcIP: "10.0.0.1", DstIP: "10.0.0.2"})
	p.AddLayer(ProtoTCP, &TCPInfo{SrcPort: 1234, DstPort: 5060})

	if p.Src().Port != 1234 || p.Dst().Port != 5060 {
		t.Errorf("unexpected ports: src=%v dst=%v", p.Src(), p.Dst())
	}
}
