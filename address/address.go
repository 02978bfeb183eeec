// Package address implements the Address value type shared by every
// dissector and by storage: an immutable (ip, port) pair with two
// equality flavors, matching sngrep's sng_address_t.
package address

import "strconv"

// Address is an immutable endpoint identity. The zero value is not a
// valid address (empty IP).
type Address struct {
	IP   string
	Port uint16
}

// New builds an Address from an IP string and a port.
func New(ip string, port uint16) Address {
	return Address{IP: ip, Port: port}
}

// IsZero reports whether a is the zero value.
func (a Address) IsZero() bool {
	return a.IP == "" && a.Port == 0
}

// Equal compares both the IP and the port.
func (a Address) Equal(b Address) bool {
	return a.IP == b.IP && a.Port == b.Port
}

// EqualIgnorePort compares only the IP, ignoring the port. Used when
// correlating SDP-announced endpoints where the signalled port may
// differ from the observed media source port (e.g. symmetric RTP).
func (a Address) EqualIgnorePort(b Address) bool {
	return a.IP == b.IP
}

// String renders "ip:port", the form used in log lines and as map keys.
func (a Address) String() string {
	return a.IP + ":" + strconv.FormatUint(uint64(a.Port), 10)
}

// Family reports whether the address looks like an IPv6 literal. This is
// a textual heuristic (presence of ':') sufficient for log formatting and
// expectation bookkeeping; it is not used for routing decisions.
func (a Address) Family() string {
	for i := 0; i < len(a.IP); i++ {
		if a.IP[i] == ':' {
			return "ipv6"
		}
	}

	return "ipv4"
}
