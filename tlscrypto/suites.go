// Package tlscrypto implements the pure cryptographic primitives needed
// by the passive TLS 1.0-1.2 decryptor described in spec.md §4.4: the
// supported cipher suite table, the TLS PRF (both the TLS 1.0/1.1
// MD5⊕SHA1 construction and the TLS ≥1.2 single-hash construction), and
// CBC/GCM record decryption. It has no notion of a live connection or
// handshake state machine; that lives in tlsdissect, which is the
// stateful consumer of these primitives.
//
// Grounded on original_source/src/packet/packet_tls.c's cipher table and
// packet_tls_prf_function/packet_tls_decrypt_record.
package tlscrypto

import "github.com/pkg/errors"

// Mode names the block cipher mode a suite uses.
type Mode int

const (
	ModeCBC Mode = iota
	ModeGCM
)

// Digest names the PRF/MAC hash a suite uses.
type Digest int

const (
	DigestSHA1 Digest = iota
	DigestSHA384
)

// Suite describes one supported TLS cipher suite, per the table in
// spec.md §4.4.
type Suite struct {
	ID      uint16
	Name    string
	KeyBits int
	IVLen   int // explicit CBC IV length, or GCM salt length
	Digest  Digest
	MACLen  int
	Mode    Mode
}

// KeyLen is the symmetric key length in bytes.
func (s Suite) KeyLen() int {
	return s.KeyBits / 8
}

// Supported is the minimum suite table spec.md §4.4 requires.
var Supported = map[uint16]Suite{
	0x002F: {ID: 0x002F, Name: "TLS_RSA_WITH_AES_128_CBC_SHA", KeyBits: 128, IVLen: 16, Digest: DigestSHA1, MACLen: 20, Mode: ModeCBC},
	0x0035: {ID: 0x0035, Name: "TLS_RSA_WITH_AES_256_CBC_SHA", KeyBits: 256, IVLen: 16, Digest: DigestSHA1, MACLen: 20, Mode: ModeCBC},
	0x009D: {ID: 0x009D, Name: "TLS_RSA_WITH_AES_256_GCM_SHA384", KeyBits: 256, IVLen: 4, Digest: DigestSHA384, MACLen: 0, Mode: ModeGCM},
}

// ErrUnsupportedSuite is returned by Lookup for a cipher ID outside the
// supported table; per spec.md §4.4 the session is dropped in that case.
var ErrUnsupportedSuite = errors.New("tlscrypto: unsupported cipher suite")

// Lookup resolves a cipher suite ID, or ErrUnsupportedSuite.
func Lookup(id uint16) (Suite, error) {
	s, ok := Supported[id]
	if !ok {
		return Suite{}, errors.Wrapf(ErrUnsupportedSuite, "0x%04X", id)
	}

	return s, nil
}

// KeyMaterial holds the split key-expansion output: client/server MAC
// keys (empty for AEAD suites), write keys, and IVs/salts, in the order
// spec.md §4.4 specifies.
type KeyMaterial struct {
	ClientMAC, ServerMAC []byte
	ClientKey, ServerKey []byte
	ClientIV, ServerIV   []byte
}

// Split partitions a key-expansion block into a KeyMaterial per the
// suite's parameters: client-MAC, server-MAC, client-key, server-key,
// client-IV, server-IV, in that order.
func Split(s Suite, block []byte) (KeyMaterial, error) {
	macLen := s.MACLen
	keyLen := s.KeyLen()
	ivLen := s.IVLen

	need := 2*macLen + 2*keyLen + 2*ivLen
	if len(block) < need {
		return KeyMaterial{}, errors.Errorf("tlscrypto: key block too short: have %d need %d", len(block), need)
	}

	var km KeyMaterial
	off := 0

	km.ClientMAC, off = block[off:off+macLen], off+macLen
	km.ServerMAC, off = block[off:off+macLen], off+macLen
	km.ClientKey, off = block[off:off+keyLen], off+keyLen
	km.ServerKey, off = block[off:off+keyLen], off+keyLen
	km.ClientIV, off = block[off:off+ivLen], off+ivLen
	km.ServerIV, _ = block[off:off+ivLen], off+ivLen

	return km, nil
}
