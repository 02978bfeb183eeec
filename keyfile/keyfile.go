// Package keyfile validates a PEM-encoded RSA private key file used for
// passive TLS decryption, per spec.md §6.
//
// Grounded on original_source/src/capture/capture_input.c's
// tls_check_keyfile error taxonomy (NotReadable, Empty, InitFailed,
// LoadFailed, NotRSA), reimplemented with stdlib encoding/pem and
// crypto/x509: no pack library wraps PEM/PKCS1 RSA private key loading
// more idiomatically than stdlib (justified in DESIGN.md).
package keyfile

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
)

// Reason enumerates why a key file failed validation.
type Reason int

const (
	ReasonNotReadable Reason = iota
	ReasonEmpty
	ReasonInitFailed
	ReasonLoadFailed
	ReasonNotRSA
)

func (r Reason) String() string {
	switch r {
	case ReasonNotReadable:
		return "NotReadable"
	case ReasonEmpty:
		return "Empty"
	case ReasonInitFailed:
		return "InitFailed"
	case ReasonLoadFailed:
		return "LoadFailed"
	case ReasonNotRSA:
		return "NotRSA"
	default:
		return "Unknown"
	}
}

// Error wraps a validation Reason with the underlying cause, if any.
type Error struct {
	Reason Reason
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return "keyfile: " + e.Reason.String() + ": " + e.Cause.Error()
	}

	return "keyfile: " + e.Reason.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Validate reads and parses path as a PEM-encoded RSA private key,
// returning the key on success or a *Error naming the specific failure
// reason otherwise.
func Validate(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Reason: ReasonNotReadable, Cause: err}
	}

	if len(data) == 0 {
		return nil, &Error{Reason: ReasonEmpty}
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &Error{Reason: ReasonInitFailed, Cause: errors.New("no PEM block found")}
	}

	key, err := parsePrivateKey(block.Bytes)
	if err != nil {
		return nil, &Error{Reason: ReasonLoadFailed, Cause: err}
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, &Error{Reason: ReasonNotRSA}
	}

	return rsaKey, nil
}

// parsePrivateKey tries PKCS1 first (the common OpenSSL "BEGIN RSA
// PRIVATE KEY" form), falling back to PKCS8 ("BEGIN PRIVATE KEY").
func parsePrivateKey(der []byte) (interface{}, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}

	return x509.ParsePKCS8PrivateKey(der)
}
