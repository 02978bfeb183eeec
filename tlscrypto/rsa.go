package tlscrypto

import (
	"crypto/rand"
	"crypto/rsa"

	"github.com/pkg/errors"
)

// ErrUnpad is returned when the decrypted pre-master secret does not
// carry a well-formed PKCS#1 v1.5 block.
var ErrUnpad = errors.New("tlscrypto: pkcs#1 v1.5 unpad failed")

// DecryptPreMaster RSA-decrypts the ClientKeyExchange's encrypted
// pre-master secret with the server's private key and strips the
// PKCS#1 v1.5 padding (0x00 0x02 <nonzero...> 0x00), per spec.md §4.4.
//
// crypto/rsa's own DecryptPKCS1v15 already performs constant-time
// unpadding; it is used directly here rather than a hand-rolled unpad
// loop, since stdlib is the correct and only reasonable home for RSA
// primitives (no pack library reimplements PKCS#1 decryption).
func DecryptPreMaster(key *rsa.PrivateKey, encrypted []byte) ([]byte, error) {
	pre, err := rsa.DecryptPKCS1v15(rand.Reader, key, encrypted)
	if err != nil {
		return nil, errors.Wrap(ErrUnpad, err.Error())
	}

	if len(pre) != 48 {
		return nil, errors.Wrapf(ErrUnpad, "unexpected pre-master length %d", len(pre))
	}

	return pre, nil
}
