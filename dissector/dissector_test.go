package dissector

import (
	"net"
	"strconv"
	"testing"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"

	"github.com/sipflow/sipflow/capture"
	"github.com/sipflow/sipflow/storage"
)

func buildUDPFrame(t *testing.T, srcIP, dstIP string, srcPort, dstPort uint16, payload []byte) []byte {
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
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP(srcIP).To4(),
		DstIP:    net.ParseIP(dstIP).To4(),
	}

	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("set network layer for checksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize layers: %v", err)
	}

	return buf.Bytes()
}

func TestEngineDispatchesUDPSIPInvite(t *testing.T) {
	st := storage.NewTable(0)
	eng := New(st, nil, nil)

	invite := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
		"Call-ID: engine-call-1\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")

	raw := buildUDPFrame(t, "10.0.0.1", "10.0.0.2", 5060, 5060, invite)

	eng.ProcessFrame(capture.Frame{Raw: raw, TimestampUs: 1, LinkType: layers.LinkTypeEthernet})

	c, ok := st.Get("engine-call-1")
	if !ok {
		t.Fatalf("expected call to be created from dispatched INVITE")
	}

	if c.State != storage.StateCallSetup {
		t.Errorf("expected CALL_SETUP, got %s", c.State)
	}
}

func TestEngineDispatchesUDPRTP(t *testing.T) {
	st := storage.NewTable(0)
	eng := New(st, nil, nil)

	sdpBody := "v=0\r\no=- 1 1 IN IP4 10.0.0.2\r\ns=-\r\nc=IN IP4 10.0.0.2\r\nt=0 0\r\nm=audio 40000 RTP/AVP 0\r\n"
	invite := []byte("INVITE sip:bob@biloxi.com SIP/2.0\r\n" +
		"Call-ID: engine-call-2\r\nCSeq: 1 INVITE\r\nContent-Length: " + strconv.Itoa(len(sdpBody)) + "\r\n\r\n" + sdpBody)

	sipFrame := buildUDPFrame(t, "10.0.0.1", "10.0.0.2", 5060, 5060, invite)
	eng.ProcessFrame(capture.Frame{Raw: sipFrame, TimestampUs: 1, LinkType: layers.LinkTypeEthernet})

	rtpPayload := make([]byte, 12)
	rtpPayload[0] = 0x80

	rtpFrame := buildUDPFrame(t, "10.0.0.3", "10.0.0.2", 30000, 40000, rtpPayload)
	eng.ProcessFrame(capture.Frame{Raw: rtpFrame, TimestampUs: 2, LinkType: layers.LinkTypeEthernet})

	c, ok := st.Get("engine-call-2")
	if !ok {
		t.Fatalf("expected call to exist")
	}

	if len(st.CallStreams(c)) != 1 {
		t.Fatalf("expected one attached RTP stream, got %d", len(st.CallStreams(c)))
	}
}

