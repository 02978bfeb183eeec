package dissector

import (
	"net"
	"testing"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/sipflow/sipflow/capture"
	"github.com/sipflow/sipflow/storage"
)

func buildTCPFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, seq uint32, syn, fin bool, payload []byte) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}

	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		SYN:     syn,
		ACK:     !syn,
		FIN:     fin,
		Window:  65535,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer for checksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize layers: %v", err)
	}

	return buf.Bytes()
}

func TestEngineDispatchesTCPSIPInviteAcrossSegments(t *testing.T) {
	st := storage.NewTable(0)
	eng := New(st, nil, nil)

	invite := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
		"Call-ID: tcp-call-1\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")

	syn := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 5060, 1000, true, false, nil)
	eng.ProcessFrame(capture.Frame{Raw: syn, TimestampUs: 1, LinkType: layers.LinkTypeEthernet})

	// Split the INVITE into three segments and deliver the middle one
	// late, leaving a gap the reassembly table must hold open.
	third := len(invite) / 3
	head, mid, tail := invite[:third], invite[third:2*third], invite[2*third:]

	headFrame := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 5060, 1001, false, false, head)
	eng.ProcessFrame(capture.Frame{Raw: headFrame, TimestampUs: 2, LinkType: layers.LinkTypeEthernet})

	tailFrame := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 5060, 1001+uint32(2*third), false, false, tail)
	eng.ProcessFrame(capture.Frame{Raw: tailFrame, TimestampUs: 3, LinkType: layers.LinkTypeEthernet})

	if _, ok := st.Get("tcp-call-1"); ok {
		t.Fatalf("call should not be visible before the gap is filled")
	}

	midFrame := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 5060, 1001+uint32(third), false, false, mid)
	eng.ProcessFrame(capture.Frame{Raw: midFrame, TimestampUs: 4, LinkType: layers.LinkTypeEthernet})

	c, ok := st.Get("tcp-call-1")
	if !ok {
		t.Fatalf("expected call to be created once the stream became contiguous")
	}

	if c.State != storage.StateCallSetup {
		t.Errorf("expected CALL_SETUP, got %s", c.State)
	}

	fin := buildTCPFrame(t, "10.0.0.1", "10.0.0.2", 40000, 5060, 1001+uint32(len(invite)), false, true, nil)
	eng.ProcessFrame(capture.Frame{Raw: fin, TimestampUs: 5, LinkType: layers.LinkTypeEthernet})

	if eng.reassembly.Len() != 0 {
		t.Errorf("expected reassembly flow to be closed on FIN")
	}
	if len(eng.sipBuffers) != 0 {
		t.Errorf("expected sip buffer to be dropped on FIN")
	}
}

func TestLooksLikeSSLv2ClientHello(t *testing.T) {
	cases := []struct {
		name string
		buf  []byte
		want bool
	}{
		{"empty", nil, false},
		{"single byte", []byte{0x80}, false},
		{"high bit set", []byte{0x80, 0x2e, 0x01, 0x00, 0x02}, true},
		{"tls record header", []byte{0x16, 0x03, 0x01, 0x00, 0x2e}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := looksLikeSSLv2ClientHello(tc.buf); got != tc.want {
				t.Errorf("looksLikeSSLv2ClientHello(%x) = %v, want %v", tc.buf, got, tc.want)
			}
		})
	}
}
