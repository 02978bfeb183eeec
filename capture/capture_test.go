package capture

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/dreadl0ck/gopacket"
	"github.com/dreadl0ck/gopacket/layers"
	"github.com/dreadl0ck/gopacket/pcapgo"
)

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

func TestOpenOfflinePcapRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w := pcapgo.NewWriter(&buf)
	if err := w.WriteFileHeader(65535, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("write file header: %v", err)
	}

	payload := []byte{1, 2, 3, 4, 5}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(100, 0),
		CaptureLength: len(payload),
		Length:        len(payload),
	}

	if err := w.WritePacket(ci, payload); err != nil {
		t.Fatalf("write packet: %v", err)
	}

	in, err := OpenOffline(nopCloser{bytes.NewReader(buf.Bytes())}, int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenOffline: %v", err)
	}

	defer in.Close()

	frame, err := in.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}

	if !bytes.Equal(frame.Raw, payload) {
		t.Errorf("expected payload %v, got %v", payload, frame.Raw)
	}

	if _, err := in.ReadFrame(); err != io.EOF {
		t.Errorf("expected io.EOF after last frame, got %v", err)
	}
}

func TestIsPcapNgMagic(t *testing.T) {
	if !isPcapNgMagic([]byte{0x0A, 0x0D, 0x0D, 0x0A}) {
		t.Errorf("expected pcapng magic to be recognized")
	}

	if isPcapNgMagic([]byte{0xD4, 0xC3, 0xB2, 0xA1}) {
		t.Errorf("expected classic pcap magic to be rejected as pcapng")
	}
}
