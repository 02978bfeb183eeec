// Package storage implements the call table and dialog state machine
// described in spec.md §4.7: a Call-ID-keyed, LRU-bounded table of
// Call aggregates, each owning its Messages and Streams.
//
// Grounded on original_source/src/storage/call.c (Call fields, X-Call-ID
// cross-reference linking) and spec.md §4.7's transition table.
package storage

import (
	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/rtcp"
	"github.com/sipflow/sipflow/sip"
)

// Message wraps a parsed sip.Message with its back-reference to the
// owning Call, per spec.md §3 (Call owns its Messages).
type Message struct {
	*sip.Message
	CallID string
}

// Stream is a media flow owned by a Call, per spec.md §3.
type Stream struct {
	Src, Dst address.Address
	SSRC     uint32
	Codec    uint8
	Packets  []StreamPacket

	// LastReport is the most recently parsed RTCP compound packet for
	// this stream, if any has arrived yet.
	LastReport *rtcp.Report
}

// StreamPacket is one attached RTP/RTCP packet's bookkeeping (payload
// decode itself is an out-of-scope collaborator, per spec.md §1).
type StreamPacket struct {
	Timestamp int64
	Length    int
}

// Call is the Call-ID-keyed aggregate described in spec.md §3.
type Call struct {
	CallID   string
	Messages []*Message
	Streams  []*Stream

	// LinkedCallIDs are other calls cross-referenced via X-Call-ID
	// headers, per spec.md §3 and the sngrep call_add_xcall pairing this
	// is grounded on (SPEC_FULL.md §6).
	LinkedCallIDs []string

	State      DialogState
	InviteCSeq int

	StartMessage *Message
	EndMessage   *Message

	changed bool

	filterMemo    bool
	filterMemoSet bool

	lastTouched int64 // microseconds, last message/stream-attach timestamp
}

// newCall creates an empty Call for a fresh Call-ID.
func newCall(callID string) *Call {
	return &Call{CallID: callID}
}

// Changed reports whether the call has unflushed mutations since the
// last time it was marked clean (the "changed" dirty flag from
// spec.md §3), for a UI layer to decide whether to redraw.
func (c *Call) Changed() bool {
	return c.changed
}

// MarkClean clears the dirty flag.
func (c *Call) MarkClean() {
	c.changed = false
}

// InvalidateFilterMemo clears the cached filter-match memo; called
// whenever the call's content changes in a way that could affect filter
// evaluation. The filter predicate itself is the out-of-scope UI
// layer's concern (spec.md §1); storage only offers the memo slot it
// gets evaluated into.
func (c *Call) InvalidateFilterMemo() {
	c.filterMemoSet = false
}

// FilterMemo returns the cached filter-match result and whether one is
// cached.
func (c *Call) FilterMemo() (matched, ok bool) {
	return c.filterMemo, c.filterMemoSet
}

// SetFilterMemo caches a filter-match result.
func (c *Call) SetFilterMemo(matched bool) {
	c.filterMemo = matched
	c.filterMemoSet = true
}

func (c *Call) addLinkedCall(otherCallID string) {
	if otherCallID == "" || otherCallID == c.CallID {
		return
	}

	for _, id := range c.LinkedCallIDs {
		if id == otherCallID {
			return
		}
	}

	c.LinkedCallIDs = append(c.LinkedCallIDs, otherCallID)
}

func (c *Call) addMessage(msg *sip.Message, t *Table) *Message {
	wrapped := &Message{Message: msg, CallID: c.CallID}
	c.Messages = append(c.Messages, wrapped)
	c.lastTouched = msg.Timestamp
	c.changed = true
	c.InvalidateFilterMemo()

	if msg.XCallID != "" {
		if _, ok := t.Get(msg.XCallID); ok {
			c.addLinkedCall(msg.XCallID)
		}
	}

	isResponse := !msg.IsRequest()

	changed, recordStart, recordEnd := applyTransition(c, msg.Method, isResponse, msg.StatusCode, msg.CSeqNum)
	if changed {
		if recordStart {
			c.StartMessage = wrapped
		}

		if recordEnd {
			c.EndMessage = wrapped
		}
	}

	return wrapped
}
