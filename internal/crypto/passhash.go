// Package crypto implements server-side password hashing and verification.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Params are Argon2id cost settings.
type Params struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

// Default is tuned for server-side hashing: 3 passes over 64 MiB.
var Default = Params{Time: 3, Memory: 64 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// Hash returns the Argon2id hash of password with the given salt.
func (p Params) Hash(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
}

// NewCredential draws a fresh salt and hashes password with it.
func (p Params) NewCredential(password []byte) (hash, salt []byte, err error) {
	if salt, err = RandBytes(p.SaltLen); err != nil {
		return nil, nil, err
	}
	return p.Hash(password, salt), salt, nil
}

// Verify compares password against an expected hash in constant time.
func (p Params) Verify(password, salt, expected []byte) bool {
	return subtle.ConstantTimeCompare(p.Hash(password, salt), expected) == 1
}
