package tlscrypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// hashFor resolves the PRF hash function for TLS >= 1.2: SHA-256 for
// SHA-1/SHA-256 suites, SHA-384 for SHA-384 suites, per spec.md §4.4.
func hashFor(d Digest) func() hash.Hash {
	if d == DigestSHA384 {
		return sha512.New384
	}

	return sha256.New
}

// pHash is the HMAC chain at the core of the TLS PRF: A(0)=seed;
// A(i)=HMAC(secret,A(i-1)); output = HMAC(secret,A(1)||seed) ||
// HMAC(secret,A(2)||seed) || ..., truncated to length.
func pHash(newHash func() hash.Hash, secret, seed []byte, length int) []byte {
	out := make([]byte, 0, length)

	a := seed
	for len(out) < length {
		mac := hmac.New(newHash, secret)
		mac.Write(a)
		a = mac.Sum(nil)

		mac = hmac.New(newHash, secret)
		mac.Write(a)
		mac.Write(seed)
		out = append(out, mac.Sum(nil)...)
	}

	return out[:length]
}

// PRF12 is the TLS >= 1.2 PRF: P_hash(digest, secret, label||seed, len).
func PRF12(digest Digest, secret, label, seed []byte, length int) []byte {
	full := make([]byte, 0, len(label)+len(seed))
	full = append(full, label...)
	full = append(full, seed...)

	return pHash(hashFor(digest), secret, full, length)
}

// PRF1011 is the TLS 1.0/1.1 PRF: P_MD5(S1,seed) XOR P_SHA1(S2,seed),
// where S1/S2 are the (possibly overlapping-by-one-byte) halves of the
// secret.
func PRF1011(secret, label, seed []byte, length int) []byte {
	full := make([]byte, 0, len(label)+len(seed))
	full = append(full, label...)
	full = append(full, seed...)

	half := (len(secret) + 1) / 2
	s1 := secret[:half]
	s2 := secret[len(secret)-half:]

	md5Out := pHash(md5.New, s1, full, length)
	sha1Out := pHash(sha1.New, s2, full, length)

	out := make([]byte, length)
	for i := range out {
		out[i] = md5Out[i] ^ sha1Out[i]
	}

	return out
}

// MasterSecret derives the 48-byte master secret from the pre-master
// secret and the client/server randoms, per spec.md §4.4. TLS 1.0/1.1
// sessions (version < 3.3) use PRF1011; TLS 1.2 (3.3) uses PRF12 with
// the suite's digest.
func MasterSecret(tlsMinor int, digest Digest, preMaster, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, clientRandom...)
	seed = append(seed, serverRandom...)

	if tlsMinor >= 3 {
		return PRF12(digest, preMaster, []byte("master secret"), seed, 48)
	}

	return PRF1011(preMaster, []byte("master secret"), seed, 48)
}

// KeyExpansion derives the key-expansion block used to build the
// KeyMaterial for a suite, per spec.md §4.4: PRF(master_secret,
// "key expansion", server_random||client_random, n).
func KeyExpansion(tlsMinor int, digest Digest, masterSecret, clientRandom, serverRandom []byte, n int) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)

	if tlsMinor >= 3 {
		return PRF12(digest, masterSecret, []byte("key expansion"), seed, n)
	}

	return PRF1011(masterSecret, []byte("key expansion"), seed, n)
}
