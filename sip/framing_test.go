package sip

import "testing"

func TestTryExtractSplitHeaders(t *testing.T) {
	// Segment 1: everything up through a split "Content-Len" header.
	seg1 := []byte("INVITE sip:bob@example.com SIP/2.0\r\nCall-ID: abc@host\r\nCSeq: 1 INVITE\r\nConte")
	seg2 := []byte("nt-Length: 5\r\n\r\nhello")

	_, _, ok := TryExtract(seg1)
	if ok {
		t.Fatalf("expected no message deliverable from segment 1 alone")
	}

	buf := append(append([]byte{}, seg1...), seg2...)

	msg, rest, ok := TryExtract(buf)
	if !ok {
		t.Fatalf("expected exactly one delivered message after segment 2")
	}

	if len(rest) != 0 {
		t.Errorf("expected no leftover bytes, got %d", len(rest))
	}

	m, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if m.CallID != "abc@host" || string(m.Body) != "hello" {
		t.Errorf("unexpected parse result: %+v body=%q", m, m.Body)
	}
}

func TestTryExtractHoldsOnShortBody(t *testing.T) {
	buf := []byte("INVITE sip:bob@example.com SIP/2.0\r\nCall-ID: a\r\nContent-Length: 10\r\n\r\nhi")

	_, _, ok := TryExtract(buf)
	if ok {
		t.Errorf("expected message held when declared Content-Length exceeds buffered body")
	}
}

func TestTryExtractLeavesTrailingBytesForNextMessage(t *testing.T) {
	one := "INVITE sip:bob@example.com SIP/2.0\r\nCall-ID: a\r\nContent-Length: 0\r\n\r\n"
	two := "BYE sip:bob@example.com SIP/2.0\r\nCall-ID: a\r\nContent-Length: 0\r\n\r\n"

	buf := []byte(one + two)

	msg, rest, ok := TryExtract(buf)
	if !ok {
		t.Fatalf("expected first message extracted")
	}

	if string(msg) != one {
		t.Errorf("msg = %q", msg)
	}

	if string(rest) != two {
		t.Errorf("rest = %q", rest)
	}
}
