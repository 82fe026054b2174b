// Package direction implements DirectionState: the per-direction (tx or
// rx) record of spec.md §4.3 — a CMAC key context plus a 128-bit nonce
// made of an 8-bit counter and a 120-bit challenge.
package direction

import (
	"errors"

	"github.com/klineauth/klineauth/internal/kcmac"
	"github.com/klineauth/klineauth/internal/krand"
)

const (
	// NonceSize is the full nonce width in bytes: 1 counter byte + 15
	// challenge bytes.
	NonceSize = 16
	// ChallengeSize is the width of the 120-bit challenge.
	ChallengeSize = 15
	// KeySize is the CMAC key width (AES-128).
	KeySize = kcmac.KeySize

	// maxCounter is the last value the sender may stamp into a frame;
	// txcnt must never advance to 255 (spec.md §3: "never rolls over").
	maxCounter = 254
)

// Errors returned by DirectionState operations.
var (
	ErrKeySize          = errors.New("direction: key must be 16 bytes")
	ErrChallengeSize    = errors.New("direction: challenge must be 15 bytes")
	ErrNotKeyed         = errors.New("direction: key not paired yet")
	ErrCounterExhausted = errors.New("direction: txcnt exhausted, a fresh challenge is required")
)

// State holds one direction's key and nonce. The zero value is usable but
// unkeyed; call Pair before signing or verifying.
type State struct {
	key   [KeySize]byte
	nonce [NonceSize]byte
	keyed bool
}

// New returns an unkeyed, zero-nonce DirectionState.
func New() *State {
	return &State{}
}

// Pair installs the CMAC key for this direction.
func (s *State) Pair(key []byte) error {
	if len(key) != KeySize {
		return ErrKeySize
	}
	copy(s.key[:], key)
	s.keyed = true
	return nil
}

// RandomizeNonce fills the entire 128-bit nonce (counter and challenge
// alike) with random bytes. Used by Authenticator.Init so that, before
// any challenge has been applied, independent sessions almost certainly
// disagree on counters (spec.md §8).
func (s *State) RandomizeNonce(rng krand.Source) error {
	return rng.Read(s.nonce[:])
}

// SetChallenge installs a fresh 120-bit challenge into nonce bytes 1..15,
// leaving the counter byte untouched. Callers reset the counter
// separately (Authenticator.ApplyChallenge does both together).
func (s *State) SetChallenge(challenge []byte) error {
	if len(challenge) != ChallengeSize {
		return ErrChallengeSize
	}
	copy(s.nonce[1:], challenge)
	return nil
}

// SetCounter forcibly sets the low nonce byte. Exposed for the spec.md §8
// "counter cannot be forced to zero" scenario and for test setup; normal
// operation only reaches the counter through BumpCounterForSend and
// AcceptCounter.
func (s *State) SetCounter(v byte) {
	s.nonce[0] = v
}

// Counter returns the current low nonce byte: on tx, the next value that
// will be stamped; on rx, the last value accepted.
func (s *State) Counter() byte {
	return s.nonce[0]
}

// BumpCounterForSend returns the counter value to stamp into the next
// outgoing frame, then advances it. It refuses to advance once the
// counter has reached its ceiling: txcnt must never roll over, and the
// only way past this is a fresh challenge (ApplyChallenge resets to 1).
func (s *State) BumpCounterForSend() (byte, error) {
	c := s.nonce[0]
	if c > maxCounter {
		return 0, ErrCounterExhausted
	}
	s.nonce[0] = c + 1
	return c, nil
}

// AcceptCounter implements the receive-side replay check: it accepts iff
// received is strictly greater than the last accepted counter and is not
// the sentinel value 255, and on acceptance commits received as the new
// current counter. It returns false without mutating state otherwise.
func (s *State) AcceptCounter(received byte) bool {
	if received > maxCounter {
		return false
	}
	if received <= s.nonce[0] {
		return false
	}
	s.nonce[0] = received
	return true
}

// Nonce returns the current 16-byte nonce (counter in the low byte,
// challenge in the remaining 15), suitable as the first CMAC input block.
func (s *State) Nonce() [NonceSize]byte {
	return s.nonce
}

// NewCMAC returns a freshly keyed CMAC engine for this direction. The
// engine holds no nonce or message state of its own; the caller feeds
// the nonce as the first update.
func (s *State) NewCMAC() (*kcmac.Engine, error) {
	if !s.keyed {
		return nil, ErrNotKeyed
	}
	return kcmac.New(s.key[:])
}

// Zeroize overwrites the key and nonce and marks the state unkeyed. Called
// by Authenticator.Destroy to satisfy spec.md §9's key zeroization
// requirement.
func (s *State) Zeroize() {
	for i := range s.key {
		s.key[i] = 0
	}
	for i := range s.nonce {
		s.nonce[i] = 0
	}
	s.keyed = false
}
