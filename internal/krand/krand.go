// Package krand provides the injected random-byte capability used by the
// K-Line core. Nonce and challenge generation never reach for crypto/rand
// directly outside this package, so callers can substitute a deterministic
// source in tests.
package krand

import "crypto/rand"

// Source fills buf with random bytes, matching the bus_auth "randombytes"
// callback contract: a capability the core consumes, never implements.
type Source interface {
	Read(buf []byte) error
}

// cryptoSource is the production Source, backed by crypto/rand.
type cryptoSource struct{}

func (cryptoSource) Read(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// Default is the crypto/rand-backed Source used outside of tests.
var Default Source = cryptoSource{}
