package tlscrypto

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/pkg/errors"
)

// ErrRecordTooShort is returned when a ciphertext is shorter than the
// minimum framing (explicit IV/nonce + tag/MAC) its mode requires.
var ErrRecordTooShort = errors.New("tlscrypto: record too short")

// CipherContext holds one direction's initialized cipher state: the AES
// block cipher plus, for GCM, the fixed salt portion of the nonce.
type CipherContext struct {
	Suite    Suite
	block    cipher.Block
	gcmSalt  []byte
	cbcIV    []byte // only used for TLS 1.0, where there is no explicit per-record IV
	tlsMinor int
}

// NewCipherContext builds a direction's cipher context from a key and
// IV/salt, per the suite's mode.
func NewCipherContext(s Suite, tlsMinor int, key, iv []byte) (*CipherContext, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "tlscrypto: aes key setup")
	}

	cc := &CipherContext{Suite: s, block: block, tlsMinor: tlsMinor}

	if s.Mode == ModeGCM {
		cc.gcmSalt = iv
	} else {
		cc.cbcIV = iv
	}

	return cc, nil
}

// Decrypt decrypts one TLS record's ciphertext body (the bytes following
// the 5-byte record header) according to the suite's mode, per spec.md
// §4.4, and returns the recovered plaintext application data with its
// trailing MAC/tag and any padding already stripped.
func (cc *CipherContext) Decrypt(ciphertext []byte) ([]byte, error) {
	if cc.Suite.Mode == ModeGCM {
		return cc.decryptGCM(ciphertext)
	}

	return cc.decryptCBC(ciphertext)
}

func (cc *CipherContext) decryptCBC(ciphertext []byte) ([]byte, error) {
	iv := cc.cbcIV
	body := ciphertext

	if cc.tlsMinor >= 2 {
		// TLS 1.1/1.2: the first block is an explicit IV.
		if len(ciphertext) < aes.BlockSize {
			return nil, ErrRecordTooShort
		}

		iv = ciphertext[:aes.BlockSize]
		body = ciphertext[aes.BlockSize:]
	}

	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return nil, errors.New("tlscrypto: ciphertext not block aligned")
	}

	out := make([]byte, len(body))
	cipher.NewCBCDecrypter(cc.block, iv).CryptBlocks(out, body)

	if cc.tlsMinor < 2 {
		// TLS 1.0 carries no explicit per-record IV: the next record's IV
		// is this record's final ciphertext block, chained across the
		// whole connection rather than reset per record.
		cc.cbcIV = append([]byte(nil), body[len(body)-aes.BlockSize:]...)
	}

	out, err := stripCBCPadding(out)
	if err != nil {
		return nil, err
	}

	if len(out) < cc.Suite.MACLen {
		return nil, ErrRecordTooShort
	}

	return out[:len(out)-cc.Suite.MACLen], nil
}

func stripCBCPadding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrRecordTooShort
	}

	padLen := int(data[len(data)-1])
	if padLen+1 > len(data) {
		return nil, errors.New("tlscrypto: invalid cbc padding")
	}

	return data[:len(data)-padLen-1], nil
}

// gcmTagSize is the standard AES-GCM authentication tag size.
const gcmTagSize = 16

// gcmExplicitNonceSize is the per-record explicit nonce TLS GCM records
// carry ahead of the ciphertext.
const gcmExplicitNonceSize = 8

func (cc *CipherContext) decryptGCM(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < gcmExplicitNonceSize+gcmTagSize {
		return nil, ErrRecordTooShort
	}

	explicitNonce := ciphertext[:gcmExplicitNonceSize]
	sealed := ciphertext[gcmExplicitNonceSize:]

	nonce := make([]byte, 0, len(cc.gcmSalt)+gcmExplicitNonceSize)
	nonce = append(nonce, cc.gcmSalt...)
	nonce = append(nonce, explicitNonce...)

	// Passive observation cannot verify the auth tag meaningfully (the
	// key was only ever used for one-sided decryption) and spec.md
	// leaves verification optional; decrypt the body directly as a CTR
	// stream starting at counter 2 and drop the trailing tag, rather
	// than calling a sealed AEAD Open that would reject on tag mismatch.
	if len(sealed) < gcmTagSize {
		return nil, ErrRecordTooShort
	}

	body := sealed[:len(sealed)-gcmTagSize]
	out := make([]byte, len(body))

	counterStream(nonce, cc.block, body, out)

	return out, nil
}

// counterStream decrypts GCM ciphertext as a plain CTR stream starting
// at counter value 2, matching spec.md §4.4 ("counter starts at 2") for
// best-effort passive decryption without tag verification.
func counterStream(nonce []byte, block cipher.Block, in, out []byte) {
	ctr := make([]byte, len(nonce)+4)
	copy(ctr, nonce)
	ctr[len(ctr)-1] = 2

	stream := cipher.NewCTR(block, ctr)
	stream.XORKeyStream(out, in)
}
