package storage

import (
	"container/list"
	"strconv"

	"go.uber.org/zap"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/rtcp"
	"github.com/sipflow/sipflow/rtp"
	"github.com/sipflow/sipflow/sdp"
	"github.com/sipflow/sipflow/sip"
)

var log = zap.NewNop()

// SetLogger installs the logger used by this package.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// Table is the Call-ID-keyed call table described in spec.md §4.7,
// bounded by a configurable LRU capacity. A capacity of 0 means
// unbounded.
type Table struct {
	capacity int

	entries map[string]*list.Element // CallID -> element holding *Call
	order   *list.List               // front = most recently used

	expectations *sdp.Table
}

// NewTable creates a call table with the given LRU capacity.
func NewTable(capacity int) *Table {
	return &Table{
		capacity:     capacity,
		entries:      make(map[string]*list.Element),
		order:        list.New(),
		expectations: sdp.NewTable(),
	}
}

// Len reports the number of live calls.
func (t *Table) Len() int {
	return len(t.entries)
}

// ListCalls implements the list_calls() query API from spec.md §6, most
// recently used first.
func (t *Table) ListCalls() []*Call {
	calls := make([]*Call, 0, t.order.Len())
	for e := t.order.Front(); e != nil; e = e.Next() {
		calls = append(calls, e.Value.(*Call))
	}

	return calls
}

// CallMessages implements call_messages(call).
func (t *Table) CallMessages(c *Call) []*Message {
	return c.Messages
}

// CallStreams implements call_streams(call).
func (t *Table) CallStreams(c *Call) []*Stream {
	return c.Streams
}

// CallState implements call_state(call).
func (t *Table) CallState(c *Call) DialogState {
	return c.State
}

// CallAttribute implements call_attribute(call, attr) for the small set
// of named attributes a UI layer commonly needs; unknown attributes
// return ("", false), the explicit-absence-variant pattern spec.md §9
// calls for instead of a sentinel value.
func (t *Table) CallAttribute(c *Call, attr string) (string, bool) {
	switch attr {
	case "call-id":
		return c.CallID, true
	case "state":
		return c.State.String(), true
	case "messages":
		return strconv.Itoa(len(c.Messages)), true
	case "streams":
		return strconv.Itoa(len(c.Streams)), true
	default:
		return "", false
	}
}

// LinkedCalls resolves a call's X-Call-ID cross-references against this
// table, per SPEC_FULL.md §6's call_add_xcall-grounded supplement. A
// linked Call-ID evicted from the table since it was recorded is silently
// omitted rather than returned as a dangling reference.
func (t *Table) LinkedCalls(c *Call) []*Call {
	linked := make([]*Call, 0, len(c.LinkedCallIDs))

	for _, id := range c.LinkedCallIDs {
		if other, ok := t.Get(id); ok {
			linked = append(linked, other)
		}
	}

	return linked
}

// Get returns a call by Call-ID without creating it, and without
// touching its LRU position.
func (t *Table) Get(callID string) (*Call, bool) {
	e, ok := t.entries[callID]
	if !ok {
		return nil, false
	}

	return e.Value.(*Call), true
}

// getOrCreate resolves a call by ID, creating and registering it if
// absent, and always moves it to the MRU front, evicting over-capacity
// entries per the policy in spec.md §5/§7 (LRU by last-modified, but
// calls in non-terminal states are preferred survivors).
func (t *Table) getOrCreate(callID string) *Call {
	if e, ok := t.entries[callID]; ok {
		t.order.MoveToFront(e)
		return e.Value.(*Call)
	}

	c := newCall(callID)
	e := t.order.PushFront(c)
	t.entries[callID] = e

	t.evictIfOverCapacity()

	return c
}

func (t *Table) evictIfOverCapacity() {
	if t.capacity <= 0 {
		return
	}

	for len(t.entries) > t.capacity {
		victim := t.pickEvictionVictim()
		if victim == nil {
			return
		}

		call := victim.Value.(*Call)
		t.order.Remove(victim)
		delete(t.entries, call.CallID)

		log.Debug("evicted call from LRU table", zap.String("call_id", call.CallID), zap.String("state", call.State.String()))
	}
}

// pickEvictionVictim scans from the LRU end, preferring a terminal-state
// call; if none is terminal, it falls back to the oldest call overall so
// the capacity bound is still honored, per spec.md §5.
func (t *Table) pickEvictionVictim() *list.Element {
	for e := t.order.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Call).State.IsTerminal() {
			return e
		}
	}

	return t.order.Back()
}

// HandleMessage is the Storage sink SIP hands a parsed message to, per
// spec.md §4.5 ("Parsed messages are handed to Storage"). Messages
// missing a Call-ID are dropped by sip.Parse before reaching here.
func (t *Table) HandleMessage(msg *sip.Message) *Call {
	c := t.getOrCreate(msg.CallID)
	c.addMessage(msg, t)

	if c.State.IsTerminal() {
		t.expectations.MarkCallTerminal(c.CallID, msg.Timestamp)
	}

	if len(msg.Body) > 0 {
		t.registerSDP(c, msg.Body)
	}

	t.expectations.Prune(msg.Timestamp)

	return c
}

// registerSDP extracts m=audio/c= endpoints from a SIP body and
// registers them as expected media endpoints for the call, per
// spec.md §4.8.
func (t *Table) registerSDP(c *Call, body []byte) {
	for _, ep := range sdp.ParseAudioEndpoints(body) {
		t.expectations.Register(address.New(ep.IP, ep.Port), c.CallID)
	}
}

// AttachRTP resolves an arriving RTP packet to its expected call,
// creating the Stream on first sight, per spec.md §3/§4.8.
func (t *Table) AttachRTP(src, dst address.Address, timestamp int64, length int, p *rtp.Packet) (*Call, *Stream, bool) {
	callID, ok := t.expectations.Match(src, dst)
	if !ok {
		return nil, nil, false
	}

	c, ok := t.Get(callID)
	if !ok {
		return nil, nil, false
	}

	t.order.MoveToFront(t.entries[callID])

	stream := c.findOrCreateStream(src, dst, p.SSRC, p.PayloadType)
	stream.Packets = append(stream.Packets, StreamPacket{Timestamp: timestamp, Length: length})
	c.changed = true

	return c, stream, true
}

// AttachRTCP resolves an arriving RTCP packet's stream identity the same
// way AttachRTP does, and folds in the parsed SR/XR report.
func (t *Table) AttachRTCP(src, dst address.Address, timestamp int64, length int, ssrc uint32, report *rtcp.Report) (*Call, *Stream, bool) {
	callID, ok := t.expectations.Match(src, dst)
	if !ok {
		return nil, nil, false
	}

	c, ok := t.Get(callID)
	if !ok {
		return nil, nil, false
	}

	t.order.MoveToFront(t.entries[callID])

	stream := c.findOrCreateStream(src, dst, ssrc, 0)
	stream.Packets = append(stream.Packets, StreamPacket{Timestamp: timestamp, Length: length})
	stream.LastReport = report
	c.changed = true

	return c, stream, true
}

func (c *Call) findOrCreateStream(src, dst address.Address, ssrc uint32, codec uint8) *Stream {
	for _, s := range c.Streams {
		if s.SSRC == ssrc && s.Src.Equal(src) && s.Dst.Equal(dst) {
			return s
		}
	}

	s := &Stream{Src: src, Dst: dst, SSRC: ssrc, Codec: codec}
	c.Streams = append(c.Streams, s)

	return s
}
