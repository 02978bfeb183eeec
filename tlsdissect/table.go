package tlsdissect

import (
	"crypto/rsa"

	"github.com/sipflow/sipflow/address"
)

// flowKey identifies a connection by its unordered client/server pair,
// matching reassembly's canonical flow identity.
type flowKey struct {
	a, b string
}

func newFlowKey(x, y address.Address) flowKey {
	xs, ys := x.String(), y.String()
	if xs > ys {
		xs, ys = ys, xs
	}

	return flowKey{a: xs, b: ys}
}

// Table owns all active Connections, bounded implicitly by the number of
// active TCP flows, per spec.md §5.
type Table struct {
	conns      map[flowKey]*Connection
	serverKey  *rsa.PrivateKey
	serverFilt *address.Address // optional TLS server filter
}

// NewTable creates an empty connection table. serverKey may be nil (no
// decryption, only handshake observation); serverFilter may be nil (any
// SYN may start a new session).
func NewTable(serverKey *rsa.PrivateKey, serverFilter *address.Address) *Table {
	return &Table{conns: make(map[flowKey]*Connection), serverKey: serverKey, serverFilt: serverFilter}
}

// Len reports the number of active connections.
func (t *Table) Len() int {
	return len(t.conns)
}

// Get returns the connection for a client/server pair without creating
// one.
func (t *Table) Get(client, server address.Address) (*Connection, bool) {
	c, ok := t.conns[newFlowKey(client, server)]
	return c, ok
}

// OnSYN is called when a TCP SYN is observed; it creates a new
// Connection if the destination matches the configured server filter
// (or if no filter is set), per spec.md §3's SSLConnection lifetime.
func (t *Table) OnSYN(client, server address.Address) *Connection {
	if t.serverFilt != nil && !server.Equal(*t.serverFilt) {
		return nil
	}

	c := New(client, server, t.serverKey)
	t.conns[newFlowKey(client, server)] = c

	return c
}

// OnFIN removes a connection on FIN, per spec.md §3/§4.4.
func (t *Table) OnFIN(client, server address.Address) {
	key := newFlowKey(client, server)
	if c, ok := t.conns[key]; ok {
		c.Close()
	}

	delete(t.conns, key)
}

// Drop removes a connection on parse failure (SessionError per spec.md
// §7): the session is destroyed silently and a fresh session may be
// established by a future SYN on the same 4-tuple.
func (t *Table) Drop(client, server address.Address) {
	delete(t.conns, newFlowKey(client, server))
}
