package address

import "testing"

func TestEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b Address
		want bool
	}{
		{"same", New("10.0.0.1", 5060), New("10.0.0.1", 5060), true},
		{"diff port", New("10.0.0.1", 5060), New("10.0.0.1", 5061), false},
		{"diff ip", New("10.0.0.1", 5060), New("10.0.0.2", 5060), false},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.a.Equal(c.b); got != c.want {
				t.Errorf("Equal() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestEqualIgnorePort(t *testing.T) {
	a := New("10.0.0.1", 5060)
	b := New("10.0.0.1", 40000)

	if !a.EqualIgnorePort(b) {
		t.Errorf("expected EqualIgnorePort to match on IP alone")
	}

	c := New("10.0.0.2", 5060)
	if a.EqualIgnorePort(c) {
		t.Errorf("expected EqualIgnorePort to reject different IPs")
	}
}

func TestString(t *testing.T) {
	if got := New("192.168.1.1", 5060).String(); got != "192.168.1.1:5060" {
		t.Errorf("String() = %q", got)
	}
}

func TestFamily(t *testing.T) {
	if New("10.0.0.1", 0).Family() != "ipv4" {
		t.Errorf("expected ipv4")
	}

	if New("::1", 0).Family() != "ipv6" {
		t.Errorf("expected ipv6")
	}
}

func TestIsZero(t *testing.T) {
	var a Address
	if !a.IsZero() {
		t.Errorf("zero value should report IsZero")
	}

	if New("1.1.1.1", 1).IsZero() {
		t.Errorf("non-zero address should not report IsZero")
	}
}
