// Package sdp implements the SDP correlator described in spec.md §4.8:
// it extracts m=/c= lines from a SIP body and registers expected media
// endpoints, which storage resolves RTP/RTCP packets against.
//
// Grounded in idiom on other_examples' heplify decoder/correlator.go
// cacheSDPIPPort scan (same c=IN IP/m=audio targets), generalized from a
// byte-offset scan into a line-oriented parser since this spec also
// needs the announced port and both audio/grace-window semantics.
package sdp

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/sipflow/sipflow/address"
)

// GraceWindowMicros is the 10s grace window spec.md §4.8 specifies,
// expressed in microseconds to match Packet.Timestamp's unit.
const GraceWindowMicros = 10_000_000

// Endpoint is one `m=audio PORT`/`c=IN IP4 IP` pairing extracted from an
// SDP body.
type Endpoint struct {
	IP   string
	Port uint16
}

// ParseAudioEndpoints scans an SDP body for `m=audio PORT …` lines,
// pairing each with the most recently seen `c=IN IP4 IP` line (session-
// level c= lines apply until a media-level one overrides them), per
// spec.md §4.8.
func ParseAudioEndpoints(body []byte) []Endpoint {
	var endpoints []Endpoint

	currentIP := ""

	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")

		switch {
		case bytes.HasPrefix(line, []byte("c=IN IP4 ")):
			currentIP = string(bytes.TrimSpace(line[len("c=IN IP4 "):]))
		case bytes.HasPrefix(line, []byte("c=IN IP6 ")):
			currentIP = string(bytes.TrimSpace(line[len("c=IN IP6 "):]))
		case bytes.HasPrefix(line, []byte("m=audio ")):
			fields := strings.Fields(string(line[len("m=audio "):]))
			if len(fields) == 0 {
				continue
			}

			port, err := strconv.ParseUint(fields[0], 10, 16)
			if err != nil || currentIP == "" {
				continue
			}

			endpoints = append(endpoints, Endpoint{IP: currentIP, Port: uint16(port)})
		}
	}

	return endpoints
}

// expectation is one registered (endpoint, call) pairing, with an
// optional expiry once the call has reached a terminal state.
type expectation struct {
	callID     string
	expiresAt  int64
	hasExpires bool
}

// Table holds all pending media expectations, keyed by the announced
// endpoint address.
type Table struct {
	byEndpoint map[address.Address]*expectation
	byCall     map[string][]address.Address
}

// NewTable creates an empty expectation table.
func NewTable() *Table {
	return &Table{
		byEndpoint: make(map[address.Address]*expectation),
		byCall:     make(map[string][]address.Address),
	}
}

// Register records an expectation for an SDP-announced endpoint, per
// spec.md §4.8.
func (t *Table) Register(endpoint address.Address, callID string) {
	t.byEndpoint[endpoint] = &expectation{callID: callID}
	t.byCall[callID] = append(t.byCall[callID], endpoint)
}

// Match looks up the call an arriving RTP/RTCP packet's (src, dst) pair
// should attach to: the first registered expectation whose endpoint
// matches either side, per spec.md §4.8.
func (t *Table) Match(src, dst address.Address) (callID string, ok bool) {
	if e, found := t.byEndpoint[src]; found {
		return e.callID, true
	}

	if e, found := t.byEndpoint[dst]; found {
		return e.callID, true
	}

	return "", false
}

// MarkCallTerminal starts the grace-window countdown for every
// expectation belonging to callID, per spec.md §4.8.
func (t *Table) MarkCallTerminal(callID string, terminalAtMicros int64) {
	for _, ep := range t.byCall[callID] {
		if e, ok := t.byEndpoint[ep]; ok {
			e.expiresAt = terminalAtMicros + GraceWindowMicros
			e.hasExpires = true
		}
	}
}

// Prune removes expectations whose grace window has elapsed as of
// nowMicros.
func (t *Table) Prune(nowMicros int64) {
	for ep, e := range t.byEndpoint {
		if e.hasExpires && nowMicros > e.expiresAt {
			delete(t.byEndpoint, ep)
		}
	}

	for callID, eps := range t.byCall {
		live := eps[:0]

		for _, ep := range eps {
			if _, ok := t.byEndpoint[ep]; ok {
				live = append(live, ep)
			}
		}

		if len(live) == 0 {
			delete(t.byCall, callID)
		} else {
			t.byCall[callID] = live
		}
	}
}

// Len reports the number of live expectations, for tests/telemetry.
func (t *Table) Len() int {
	return len(t.byEndpoint)
}
