// Package tlsdissect implements the stateful per-connection side of the
// passive TLS decryptor: the SSLConnection handshake state machine
// described in spec.md §4.4, built on the pure crypto primitives in
// tlscrypto. Grounded on original_source/src/packet/packet_tls.c's
// connection struct and handshake dispatch.
package tlsdissect

import (
	"crypto/rsa"
	"encoding/binary"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/sipflow/sipflow/address"
	"github.com/sipflow/sipflow/tlscrypto"
)

var log = zap.NewNop()

// SetLogger installs the logger used by this package.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// State is the handshake state machine described in spec.md §4.4.
type State int

const (
	StateSYN State = iota
	StateSYNACK
	StateEstablished
	StateCipherChanged
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateSYN:
		return "SYN"
	case StateSYNACK:
		return "SYN_ACK"
	case StateEstablished:
		return "ESTABLISHED"
	case StateCipherChanged:
		return "CIPHER_CHANGED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// TLS record content types, per the wire format.
const (
	recordChangeCipherSpec = 20
	recordAlert            = 21
	recordHandshake        = 22
	recordApplicationData  = 23
)

// Handshake message types within a Handshake record.
const (
	hsClientHello       = 1
	hsServerHello       = 2
	hsClientKeyExchange = 16
)

// ErrUnsupportedVersion is returned when a ClientHello advertises a TLS
// version outside {3.1, 3.2, 3.3} (TLS 1.0/1.1/1.2), per spec.md §4.4.
var ErrUnsupportedVersion = errors.New("tlsdissect: unsupported tls version")

// Connection is the SSLConnection described in spec.md §3/§4.4.
type Connection struct {
	Client, Server address.Address

	VersionMajor, VersionMinor int

	Suite tlscrypto.Suite

	ClientRandom, ServerRandom []byte
	PreMaster, MasterSecret    []byte
	KeyMaterial                tlscrypto.KeyMaterial

	ClientCipher, ServerCipher *tlscrypto.CipherContext

	State     State
	Encrypted bool

	serverKey *rsa.PrivateKey
}

// New creates a fresh Connection born on a TCP SYN to the (possibly
// filtered) TLS server, per spec.md §3's SSLConnection lifetime note.
func New(client, server address.Address, serverKey *rsa.PrivateKey) *Connection {
	return &Connection{Client: client, Server: server, State: StateSYN, serverKey: serverKey}
}

// ProcessRecord handles one TLS record's content, dispatching by record
// type as spec.md §4.4 describes. fromClient indicates the record's
// direction. It returns the decrypted plaintext for ApplicationData
// records once Encrypted is true and both cipher contexts exist, and nil
// for every other record type (handshake records produce no residual
// bytes); ApplicationData arriving before that is an error.
func (c *Connection) ProcessRecord(recordType byte, major, minor int, body []byte, fromClient bool) ([]byte, error) {
	switch recordType {
	case recordHandshake:
		return nil, c.processHandshake(major, minor, body, fromClient)
	case recordChangeCipherSpec:
		c.onChangeCipherSpec()
		return nil, nil
	case recordApplicationData:
		return c.decryptApplicationData(body, fromClient)
	case recordAlert:
		// Alerts are ignored per spec.md §4.4.
		return nil, nil
	default:
		return nil, nil
	}
}

// ProcessSSLv2ClientHello recognizes the legacy SSLv2-framed ClientHello
// record (no standard 5-byte TLS header) purely to advance the state
// machine; no TLS 1.0-1.2 handshake fields are present so no key
// material can be derived from it, per SPEC_FULL.md §6.
func (c *Connection) ProcessSSLv2ClientHello() {
	if c.State == StateSYN {
		c.State = StateSYNACK
	}
}

func (c *Connection) processHandshake(major, minor int, body []byte, fromClient bool) error {
	for len(body) >= 4 {
		htype := body[0]
		length := int(body[1])<<16 | int(body[2])<<8 | int(body[3])

		if 4+length > len(body) {
			return errors.New("tlsdissect: truncated handshake message")
		}

		msg := body[4 : 4+length]

		switch htype {
		case hsClientHello:
			if err := c.handleClientHello(major, minor, msg); err != nil {
				return err
			}
		case hsServerHello:
			if err := c.handleServerHello(msg); err != nil {
				return err
			}
		case hsClientKeyExchange:
			if err := c.handleClientKeyExchange(msg); err != nil {
				return err
			}
		}

		body = body[4+length:]
	}

	return nil
}

func (c *Connection) handleClientHello(major, minor int, msg []byte) error {
	if !validVersion(major, minor) {
		c.State = StateClosed
		return errors.Wrapf(ErrUnsupportedVersion, "%d.%d", major, minor)
	}

	if len(msg) < 2+32 {
		return errors.New("tlsdissect: short client hello")
	}

	c.VersionMajor, c.VersionMinor = major, minor
	c.ClientRandom = append([]byte{}, msg[2:34]...)
	c.State = StateSYNACK

	return nil
}

func validVersion(major, minor int) bool {
	return major == 3 && (minor == 1 || minor == 2 || minor == 3)
}

// serverHelloFixedLen is sizeof(ServerHello) up to and including the
// session_id_len field: 2 (version) + 32 (random) + 1 (session_id_len).
const serverHelloFixedLen = 35

func (c *Connection) handleServerHello(msg []byte) error {
	if len(msg) < 2+32 {
		return errors.New("tlsdissect: short server hello")
	}

	c.ServerRandom = append([]byte{}, msg[2:34]...)

	if len(msg) < serverHelloFixedLen {
		return errors.New("tlsdissect: short server hello (no session id len)")
	}

	sessionIDLen := int(msg[serverHelloFixedLen-1])
	suiteOff := serverHelloFixedLen + sessionIDLen

	if len(msg) < suiteOff+2 {
		return errors.New("tlsdissect: short server hello (no cipher suite)")
	}

	suiteID := binary.BigEndian.Uint16(msg[suiteOff : suiteOff+2])

	suite, err := tlscrypto.Lookup(suiteID)
	if err != nil {
		c.State = StateClosed
		return err
	}

	c.Suite = suite

	return nil
}

func (c *Connection) handleClientKeyExchange(msg []byte) error {
	if c.serverKey == nil {
		return errors.New("tlsdissect: no server private key configured")
	}

	encrypted := msg
	if len(msg) >= 2 {
		// RSA ClientKeyExchange carries an explicit 2-byte length prefix.
		declared := int(msg[0])<<8 | int(msg[1])
		if declared == len(msg)-2 {
			encrypted = msg[2:]
		}
	}

	preMaster, err := tlscrypto.DecryptPreMaster(c.serverKey, encrypted)
	if err != nil {
		log.Warn("pre-master decryption failed", zap.Error(err))
		c.State = StateClosed

		return err
	}

	c.PreMaster = preMaster

	return c.deriveKeys()
}

func (c *Connection) deriveKeys() error {
	c.MasterSecret = tlscrypto.MasterSecret(c.VersionMinor, c.Suite.Digest, c.PreMaster, c.ClientRandom, c.ServerRandom)

	need := 2*c.Suite.MACLen + 2*c.Suite.KeyLen() + 2*c.Suite.IVLen
	block := tlscrypto.KeyExpansion(c.VersionMinor, c.Suite.Digest, c.MasterSecret, c.ClientRandom, c.ServerRandom, need)

	km, err := tlscrypto.Split(c.Suite, block)
	if err != nil {
		return err
	}

	c.KeyMaterial = km

	clientCC, err := tlscrypto.NewCipherContext(c.Suite, c.VersionMinor, km.ClientKey, km.ClientIV)
	if err != nil {
		return err
	}

	serverCC, err := tlscrypto.NewCipherContext(c.Suite, c.VersionMinor, km.ServerKey, km.ServerIV)
	if err != nil {
		return err
	}

	c.ClientCipher = clientCC
	c.ServerCipher = serverCC
	c.State = StateEstablished

	return nil
}

func (c *Connection) onChangeCipherSpec() {
	c.Encrypted = true
	c.State = StateCipherChanged
}

// decryptApplicationData decrypts an ApplicationData record's ciphertext
// using the direction-appropriate cipher context. The cleartext becomes
// the residual bytes handed to the SIP (or WebSocket->SIP) dissector.
func (c *Connection) decryptApplicationData(ciphertext []byte, fromClient bool) ([]byte, error) {
	if !c.Encrypted || c.ClientCipher == nil || c.ServerCipher == nil {
		return nil, errors.New("tlsdissect: application data before cipher change")
	}

	cc := c.ServerCipher
	if fromClient {
		cc = c.ClientCipher
	}

	out, err := cc.Decrypt(ciphertext)
	if err != nil {
		log.Warn("record decryption produced invalid structure", zap.Error(err))
		return nil, err
	}

	return out, nil
}

// Close transitions the connection to CLOSED on FIN, per spec.md §3.
func (c *Connection) Close() {
	c.State = StateClosed
}
