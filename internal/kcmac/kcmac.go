// Package kcmac is the thin contract over AES-128-CMAC that the
// authenticator signs and verifies with. It does not implement CMAC
// itself — it wires crypto/aes to github.com/chmike/cmac-go, an
// RFC 4493 / NIST SP 800-38B implementation, and exposes only the
// init/reset/update/finalize shape the core needs.
package kcmac

import (
	"crypto/aes"
	"errors"
	"hash"

	"github.com/chmike/cmac-go"
)

// Size is the full CMAC output size in bytes, before truncation to the
// 8-byte wire signature.
const Size = 16

// KeySize is the required AES-128 key length.
const KeySize = 16

// ErrKeySize is returned when a key of the wrong length is supplied.
var ErrKeySize = errors.New("kcmac: key must be 16 bytes")

// Engine computes AES-128-CMAC over a sequence of updates. It is keyed
// once at construction and may be reset and reused for successive
// messages; it holds no message state across a Finalize call.
type Engine struct {
	h hash.Hash
}

// New keys a fresh Engine with a 16-byte AES key.
func New(key []byte) (*Engine, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}
	h, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, err
	}
	return &Engine{h: h}, nil
}

// Reset clears any partial message state, keeping the key.
func (e *Engine) Reset() {
	e.h.Reset()
}

// Update feeds more bytes into the running CMAC.
func (e *Engine) Update(p []byte) {
	e.h.Write(p)
}

// Finalize returns the 16-byte CMAC over everything written since the
// last Reset, and resets the engine so it is ready for the next message.
func (e *Engine) Finalize() [Size]byte {
	var out [Size]byte
	copy(out[:], e.h.Sum(nil))
	e.h.Reset()
	return out
}

// Equal compares two MAC byte slices without leaking timing information.
// It is a direct re-export of cmac-go's own constant-time comparison.
func Equal(a, b []byte) bool {
	return cmac.Equal(a, b)
}
