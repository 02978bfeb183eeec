// Package reassembly implements the per-flow TCP segment reassembly
// engine described in spec.md §4.3: ordered segment insertion, gap
// holding, and age/segment-count bounded eviction.
//
// This is a from-scratch engine shaped like DynamEq6388-netcap's
// decoder/stream/tcpConnection.go (flow identity, per-flow stats,
// zap-logged rejects) but without gopacket/reassembly's generic
// Assembler/ScatterGather machinery: spec.md's eviction rule (age > 3
// ticks OR more than 5 buffered segments with nothing deliverable) is a
// much smaller state machine than a general-purpose TCP reassembler, so
// it is hand-rolled here rather than wedging this eviction rule into
// gopacket/reassembly's generic wiring.
package reassembly

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sipflow/sipflow/address"
)

// Tunable bounds named directly from spec.md §4.3.
const (
	MaxAge      = 3 // ticks of inactivity before a flow is evicted
	MaxSegments = 5 // buffered segments without a deliverable message
)

var log = zap.NewNop()

// SetLogger installs the logger used by this package. Call once at
// startup; defaults to a no-op logger.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// FlowKey is the canonical, direction-independent 4-tuple identity of a
// TCP flow, per spec.md §3's TcpStream key definition.
type FlowKey struct {
	LowAddr, HighAddr string
	LowPort, HighPort uint16
}

// NewFlowKey builds the canonical key for a pair of endpoints, ordering
// them so that (a,b) and (b,a) produce the same key.
func NewFlowKey(a, b address.Address) FlowKey {
	if a.IP > b.IP || (a.IP == b.IP && a.Port > b.Port) {
		a, b = b, a
	}

	return FlowKey{LowAddr: a.IP, HighAddr: b.IP, LowPort: a.Port, HighPort: b.Port}
}

// segment is one arrived TCP payload, ordered by sequence number.
type segment struct {
	seq  uint32
	data []byte
}

// Stream is a TcpStream: the reassembly state for one TCP flow.
type Stream struct {
	Key      FlowKey
	segments []segment
	buffer   []byte
	nextSeq  uint32
	haveSeq  bool
	Age      int
}

// Buffer returns the current reassembled (gap-free) byte buffer.
func (s *Stream) Buffer() []byte {
	return s.buffer
}

// SegmentCount returns the number of buffered (not-yet-contiguous)
// segments.
func (s *Stream) SegmentCount() int {
	return len(s.segments)
}

// Table holds all active Streams, keyed by their canonical FlowKey.
type Table struct {
	streams map[FlowKey]*Stream
}

// NewTable creates an empty reassembly table.
func NewTable() *Table {
	return &Table{streams: make(map[FlowKey]*Stream)}
}

// Len reports the number of tracked flows.
func (t *Table) Len() int {
	return len(t.streams)
}

// Get returns the stream for a flow key without creating it.
func (t *Table) Get(key FlowKey) (*Stream, bool) {
	s, ok := t.streams[key]
	return s, ok
}

// Insert inserts an arriving segment's payload, ordered by sequence
// number, into the stream for (src,dst). It creates the stream on first
// sight; the first segment carrying payload sets the stream's starting
// sequence number. Exact-sequence duplicates are ignored; on an
// equal-sequence overlap the longer copy is kept (per spec.md §4.3's
// tie-break); a segment that starts inside bytes already delivered
// contributes only the bytes past them, so the delivered copy wins. It
// returns the newly available contiguous bytes (the just-grown in-order
// prefix), or nil if the segment didn't extend the prefix.
//
// Age is reset to zero for the touched flow; Tick should be called once
// per arriving packet across the whole table to age every other flow.
func (t *Table) Insert(src, dst address.Address, seq uint32, data []byte) []byte {
	key := NewFlowKey(src, dst)

	s, ok := t.streams[key]
	if !ok {
		s = &Stream{Key: key}
		t.streams[key] = s
	}

	s.Age = 0

	if len(data) == 0 {
		return nil
	}

	s.insertSegment(seq, data)

	return s.drainContiguous()
}

func (s *Stream) insertSegment(seq uint32, data []byte) {
	for i, seg := range s.segments {
		if seg.seq == seq {
			if len(data) > len(seg.data) {
				s.segments[i].data = data
			}

			return
		}
	}

	s.segments = append(s.segments, segment{seq: seq, data: data})
	sort.Slice(s.segments, func(i, j int) bool { return s.segments[i].seq < s.segments[j].seq })
}

// drainContiguous folds any segments that now form a gap-free prefix of
// the stream into buffer and returns the newly appended bytes.
func (s *Stream) drainContiguous() []byte {
	var appended []byte

	for len(s.segments) > 0 {
		next := s.segments[0]

		if !s.haveSeq {
			s.haveSeq = true
			s.nextSeq = next.seq
		}

		if d := int32(next.seq - s.nextSeq); d < 0 {
			// starts inside bytes already delivered: keep the delivered
			// copy and take only what extends past it.
			if overlap := int(-d); overlap < len(next.data) {
				rest := next.data[overlap:]
				s.buffer = append(s.buffer, rest...)
				appended = append(appended, rest...)
				s.nextSeq += uint32(len(rest))
			}

			s.segments = s.segments[1:]

			continue
		}

		if next.seq != s.nextSeq {
			// gap: do not deliver past it.
			break
		}

		s.buffer = append(s.buffer, next.data...)
		appended = append(appended, next.data...)
		s.nextSeq = next.seq + uint32(len(next.data))
		s.segments = s.segments[1:]
	}

	return appended
}

// Tick ages every flow in the table by one and evicts those that exceed
// MaxAge or MaxSegments without producing a deliverable message. It
// returns the FlowKeys that were evicted, for callers that want to log
// or account for them.
func (t *Table) Tick() []FlowKey {
	var evicted []FlowKey

	for key, s := range t.streams {
		s.Age++

		if s.Age > MaxAge || len(s.segments) > MaxSegments {
			delete(t.streams, key)
			evicted = append(evicted, key)

			log.Debug("evicting aged/overfull tcp flow",
				zap.String("flow", key.LowAddr+":"+key.HighAddr),
				zap.Int("age", s.Age),
				zap.Int("segments", len(s.segments)),
			)
		}
	}

	return evicted
}

// Close removes a flow immediately, draining any partial state. Called
// on FIN/RST per spec.md §4.3 step 6, and on shutdown per spec.md §5
// (buffered segments without produced messages are dropped).
func (t *Table) Close(key FlowKey) {
	delete(t.streams, key)
}
