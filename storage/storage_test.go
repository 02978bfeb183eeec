package storage

import (
	"strconv"
	"testing"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/rtp"
	"github.com/sipflow/sipflow/sip"
)

func mustParse(t *testing.T, ts int64, raw string) *sip.Message {
	t.Helper()

	msg, err := sip.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	msg.Timestamp = ts

	return msg
}

func TestFullCallLifecycleUDP(t *testing.T) {
	tbl := NewTable(0)

	invite := mustParse(t, 1_000_000, "INVITE sip:bob@biloxi.com SIP/2.0\r\n"+
		"Call-ID: call-1\r\nCSeq: 1 INVITE\r\n"+
		"Content-Length: 0\r\n\r\n")
	c := tbl.HandleMessage(invite)

	if c.State != StateCallSetup {
		t.Fatalf("expected CALL_SETUP after INVITE, got %s", c.State)
	}

	ok200 := mustParse(t, 1_100_000, "SIP/2.0 200 OK\r\n"+
		"Call-ID: call-1\r\nCSeq: 1 INVITE\r\n"+
		"Content-Length: 0\r\n\r\n")
	tbl.HandleMessage(ok200)

	if c.State != StateCallSetup {
		t.Fatalf("200 OK alone should not advance state, got %s", c.State)
	}

	ack := mustParse(t, 1_200_000, "ACK sip:bob@biloxi.com SIP/2.0\r\n"+
		"Call-ID: call-1\r\nCSeq: 1 ACK\r\n"+
		"Content-Length: 0\r\n\r\n")
	tbl.HandleMessage(ack)

	if c.State != StateInCall {
		t.Fatalf("expected IN_CALL after ACK, got %s", c.State)
	}

	if c.InviteCSeq != 1 {
		t.Errorf("expected invite_cseq=1, got %d", c.InviteCSeq)
	}

	bye := mustParse(t, 1_300_000, "BYE sip:bob@biloxi.com SIP/2.0\r\n"+
		"Call-ID: call-1\r\nCSeq: 2 BYE\r\n"+
		"Content-Length: 0\r\n\r\n")
	tbl.HandleMessage(bye)

	if c.State != StateCompleted {
		t.Fatalf("expected COMPLETED after BYE, got %s", c.State)
	}

	if c.StartMessage == nil || c.StartMessage.Message != ack {
		t.Errorf("expected ACK recorded as start message")
	}

	if c.EndMessage == nil || c.EndMessage.Message != bye {
		t.Errorf("expected BYE recorded as end message")
	}

	if len(tbl.CallMessages(c)) != 4 {
		t.Errorf("expected 4 messages recorded, got %d", len(tbl.CallMessages(c)))
	}
}

func TestInviteRejectedGoesBusy(t *testing.T) {
	tbl := NewTable(0)

	invite := mustParse(t, 1, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: call-2\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	c := tbl.HandleMessage(invite)

	busy := mustParse(t, 2, "SIP/2.0 486 Busy Here\r\nCall-ID: call-2\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(busy)

	if c.State != StateBusy {
		t.Fatalf("expected BUSY, got %s", c.State)
	}

	if !c.State.IsTerminal() {
		t.Errorf("expected BUSY to be terminal")
	}
}

func TestInviteDivertedOnRedirect(t *testing.T) {
	tbl := NewTable(0)

	invite := mustParse(t, 1, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: call-3\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	c := tbl.HandleMessage(invite)

	redirect := mustParse(t, 2, "SIP/2.0 302 Moved Temporarily\r\nCall-ID: call-3\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(redirect)

	if c.State != StateDiverted {
		t.Fatalf("expected DIVERTED, got %s", c.State)
	}
}

func TestRTPAttachedViaSDPCorrelation(t *testing.T) {
	tbl := NewTable(0)

	sdpBody := "v=0\r\no=- 1 1 IN IP4 10.0.0.1\r\ns=-\r\nc=IN IP4 10.0.0.1\r\nt=0 0\r\nm=audio 40000 RTP/AVP 0\r\n"
	invite := mustParse(t, 1, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: call-4\r\nCSeq: 1 INVITE\r\n"+
		"Content-Length: "+strconv.Itoa(len(sdpBody))+"\r\n\r\n"+sdpBody)
	c := tbl.HandleMessage(invite)

	rtpData := make([]byte, 12)
	rtpData[0] = 0x80 // version 2
	rtpData[1] = 0     // payload type 0 (PCMU)

	p, err := rtp.Parse(rtpData)
	if err != nil {
		t.Fatalf("rtp.Parse: %v", err)
	}

	src := address.New("10.0.0.2", 30000)
	dst := address.New("10.0.0.1", 40000)

	gotCall, stream, ok := tbl.AttachRTP(src, dst, 2, len(rtpData), p)
	if !ok {
		t.Fatalf("expected RTP attach to match call-4")
	}

	if gotCall != c {
		t.Errorf("expected attach to resolve back to call-4's Call")
	}

	if stream.Codec != 0 {
		t.Errorf("expected codec id 0, got %d", stream.Codec)
	}

	if len(stream.Packets) != 1 {
		t.Errorf("expected one attached packet, got %d", len(stream.Packets))
	}

	if len(tbl.CallStreams(c)) != 1 {
		t.Errorf("expected one stream recorded on the call")
	}
}

func TestLRUEvictionPrefersTerminalCalls(t *testing.T) {
	tbl := NewTable(2)

	active := mustParse(t, 1, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: active\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(active)

	done := mustParse(t, 2, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: done\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(done)

	cancel := mustParse(t, 3, "CANCEL sip:bob@biloxi.com SIP/2.0\r\nCall-ID: done\r\nCSeq: 1 CANCEL\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(cancel)

	third := mustParse(t, 4, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: third\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(third)

	if tbl.Len() != 2 {
		t.Fatalf("expected table capped at 2 calls, got %d", tbl.Len())
	}

	if _, ok := tbl.Get("done"); ok {
		t.Errorf("expected terminal call 'done' to be evicted first")
	}

	if _, ok := tbl.Get("active"); !ok {
		t.Errorf("expected non-terminal call 'active' to survive eviction")
	}

	if _, ok := tbl.Get("third"); !ok {
		t.Errorf("expected most recently added call 'third' to survive")
	}
}

func TestLinkedCallsOnlyResolvesLiveCallIDs(t *testing.T) {
	tbl := NewTable(0)

	other := mustParse(t, 1, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: other-call\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	tbl.HandleMessage(other)

	invite := mustParse(t, 2, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: call-6\r\nCSeq: 1 INVITE\r\n"+
		"X-Call-ID: other-call\r\nContent-Length: 0\r\n\r\n")
	c := tbl.HandleMessage(invite)

	linked := tbl.LinkedCalls(c)
	if len(linked) != 1 || linked[0].CallID != "other-call" {
		t.Fatalf("expected one linked call resolving to other-call, got %v", linked)
	}

	ghost := mustParse(t, 3, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: call-7\r\nCSeq: 1 INVITE\r\n"+
		"X-Call-ID: never-tracked\r\nContent-Length: 0\r\n\r\n")
	c2 := tbl.HandleMessage(ghost)

	if linked := tbl.LinkedCalls(c2); len(linked) != 0 {
		t.Errorf("expected no linked calls for an X-Call-ID naming no live call, got %v", linked)
	}

	if len(c2.LinkedCallIDs) != 0 {
		t.Errorf("expected LinkedCallIDs to never record an X-Call-ID with no live match, got %v", c2.LinkedCallIDs)
	}
}

func TestCallAttributeAndQueryAPI(t *testing.T) {
	tbl := NewTable(0)

	invite := mustParse(t, 1, "INVITE sip:bob@biloxi.com SIP/2.0\r\nCall-ID: call-5\r\nCSeq: 1 INVITE\r\nContent-Length: 0\r\n\r\n")
	c := tbl.HandleMessage(invite)

	if v, ok := tbl.CallAttribute(c, "call-id"); !ok || v != "call-5" {
		t.Errorf("expected call-id attribute, got %q %v", v, ok)
	}

	if v, ok := tbl.CallAttribute(c, "state"); !ok || v != "CALL_SETUP" {
		t.Errorf("expected state attribute CALL_SETUP, got %q %v", v, ok)
	}

	if _, ok := tbl.CallAttribute(c, "nonexistent"); ok {
		t.Errorf("expected unknown attribute to report ok=false")
	}

	calls := tbl.ListCalls()
	if len(calls) != 1 || calls[0] != c {
		t.Errorf("expected ListCalls to return the single registered call")
	}

	if tbl.CallState(c) != StateCallSetup {
		t.Errorf("expected CallState to report CALL_SETUP")
	}
}
