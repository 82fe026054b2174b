// Package kauth implements the Authenticator of spec.md §4.4: the pair
// of DirectionStates forming one K-Line session, exposed through
// pairing, challenge application, authenticated send, and authenticated
// receive.
//
// Authenticator methods are not reentrant; a caller sharing one
// Authenticator across goroutines must serialize access itself — the
// core adds no internal locking, matching spec.md §5.
package kauth

import (
	"errors"

	"github.com/klineauth/klineauth/internal/direction"
	"github.com/klineauth/klineauth/internal/kcmac"
	"github.com/klineauth/klineauth/internal/kframe"
	"github.com/klineauth/klineauth/internal/krand"
)

// State names the Authenticator's lifecycle position, per spec.md §4.4.
type State int

const (
	StateUnpaired State = iota
	StatePaired
	StateChallenged
	StateOperating
)

func (s State) String() string {
	switch s {
	case StateUnpaired:
		return "UNPAIRED"
	case StatePaired:
		return "PAIRED"
	case StateChallenged:
		return "CHALLENGED"
	case StateOperating:
		return "OPERATING"
	default:
		return "UNKNOWN"
	}
}

// ErrChallengeRequired names the "not yet challenged" condition for
// callers that want to distinguish it in logs. No function in this
// package returns it: Authenticate reports every failure through its
// ok-bool result instead — see Authenticate's doc comment.
var ErrChallengeRequired = errors.New("kauth: session has not been challenged yet")

// Authenticator owns the tx and rx DirectionStates for one K-Line
// session between a CEM and a PAKM.
type Authenticator struct {
	tx    *direction.State
	rx    *direction.State
	state State
}

// New returns an Authenticator in the Unpaired state with zero
// DirectionStates. Call Init before use.
func New() *Authenticator {
	return &Authenticator{
		tx:    direction.New(),
		rx:    direction.New(),
		state: StateUnpaired,
	}
}

// Init randomizes both direction nonces. After Init, both tx.counter and
// rx.counter are nonzero with overwhelming probability, and two
// independently-initialized Authenticators will almost certainly
// disagree on their counters — by design, so that a message sent before
// any challenge has been applied cannot accidentally authenticate.
func (a *Authenticator) Init(rng krand.Source) error {
	if err := a.tx.RandomizeNonce(rng); err != nil {
		return err
	}
	if err := a.rx.RandomizeNonce(rng); err != nil {
		return err
	}
	a.state = StateUnpaired
	return nil
}

// PairAsCEM installs pairing.CemToPak as our send key and
// pairing.PakToCem as our receive key — the CEM's view of the pairing.
func (a *Authenticator) PairAsCEM(pairing kframe.Pairing) error {
	if err := a.tx.Pair(pairing.CemToPak); err != nil {
		return err
	}
	if err := a.rx.Pair(pairing.PakToCem); err != nil {
		return err
	}
	a.state = StatePaired
	return nil
}

// PairAsPAKM installs pairing.PakToCem as our send key and
// pairing.CemToPak as our receive key — the PAKM's view of the same
// pairing message.
func (a *Authenticator) PairAsPAKM(pairing kframe.Pairing) error {
	if err := a.tx.Pair(pairing.PakToCem); err != nil {
		return err
	}
	if err := a.rx.Pair(pairing.CemToPak); err != nil {
		return err
	}
	a.state = StatePaired
	return nil
}

// ApplyChallenge installs txChallenge into tx's nonce and rxChallenge
// into rx's nonce, and resets the counters: tx.counter = 1 (the next
// value BumpCounterForSend will hand out), rx.counter = 0 (meaning "no
// counter accepted yet"). In the observed protocol both arguments are
// the same CEM-broadcast challenge value; the interface accepts them
// separately so either side could rotate its own direction
// independently, per spec.md §4.4.
func (a *Authenticator) ApplyChallenge(txChallenge, rxChallenge []byte) error {
	if err := a.tx.SetChallenge(txChallenge); err != nil {
		return err
	}
	if err := a.rx.SetChallenge(rxChallenge); err != nil {
		return err
	}
	a.tx.SetCounter(1)
	a.rx.SetCounter(0)
	a.state = StateOperating
	return nil
}

// State returns the Authenticator's current lifecycle state.
func (a *Authenticator) State() State {
	return a.state
}

// TxCounter returns the tx direction's current counter (the value that
// will be stamped into the next authenticated frame).
func (a *Authenticator) TxCounter() byte { return a.tx.Counter() }

// RxCounter returns the rx direction's current counter (the last value
// accepted from the peer).
func (a *Authenticator) RxCounter() byte { return a.rx.Counter() }

// SetTxCounter forcibly overrides the tx counter. Exposed for the
// "counter cannot be forced to zero" scenario in spec.md §8 and for
// tests; not used in normal operation.
func (a *Authenticator) SetTxCounter(v byte) { a.tx.SetCounter(v) }

// AllocateAuthenticated builds and signs an authenticated frame carrying
// scmd and signedPayload, per spec.md §4.4:
//  1. stamp txcnt from tx.BumpCounterForSend (refusing if exhausted)
//  2. lay out the auth header and signed region
//  3. sign nonce || header || auth-header || signed-region with the tx key
//  4. stamp the frame checksum last
func (a *Authenticator) AllocateAuthenticated(addr, function, scmd byte, signedPayload []byte) (*kframe.Frame, error) {
	txcnt, err := a.tx.BumpCounterForSend()
	if err != nil {
		return nil, err
	}

	f, err := kframe.AllocateAuthFrame(addr, function, txcnt, scmd, signedPayload)
	if err != nil {
		return nil, err
	}

	mac, err := a.tx.NewCMAC()
	if err != nil {
		return nil, err
	}
	nonce := a.tx.Nonce()
	nonce[0] = txcnt // sign under the stamped counter, not the advanced one
	mac.Update(nonce[:])
	mac.Update(f.SignedSpan())
	sig := mac.Finalize()

	f.SetSignature(sig[:])
	f.StampChecksum()
	return f, nil
}

// Authenticate validates an incoming authenticated frame, per spec.md
// §4.4:
//  1. verify the frame checksum
//  2. verify structural consistency of the authenticated body
//  3. require rx.counter < received < 255 (anti-replay, anti-rollover)
//  4. recompute the signature with the rx key under the received counter
//  5. commit the counter only if the signature matches
//
// It returns ok=false — never an error — for every failure mode in
// spec.md §7 (checksum mismatch, structural error, replay/stall,
// signature mismatch); failure never mutates rx state and is never
// fatal to the Authenticator, which stays in StateOperating so the
// caller can trigger a fresh challenge.
func (a *Authenticator) Authenticate(f *kframe.Frame) (bool, *kframe.SignedView) {
	if !f.VerifyChecksum() {
		return false, nil
	}

	fields, scmd, payload, sig, ok := f.ParseAuthStructure()
	if !ok {
		return false, nil
	}

	prevCounter := a.rx.Counter()
	if !a.rx.AcceptCounter(fields.TxCnt) {
		return false, nil
	}

	mac, err := a.rx.NewCMAC()
	if err != nil {
		a.rx.SetCounter(prevCounter)
		return false, nil
	}
	nonce := a.rx.Nonce()
	mac.Update(nonce[:])
	mac.Update(f.SignedSpan())
	expected := mac.Finalize()

	if !kcmac.Equal(expected[:], sig) {
		a.rx.SetCounter(prevCounter)
		return false, nil
	}

	return true, &kframe.SignedView{SCmd: scmd, SPayload: payload}
}

// Destroy zeroizes both direction keys and nonces and returns the
// Authenticator to StateUnpaired, per spec.md §9's key zeroization
// requirement.
func (a *Authenticator) Destroy() {
	a.tx.Zeroize()
	a.rx.Zeroize()
	a.state = StateUnpaired
}
