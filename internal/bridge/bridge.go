// Package bridge orchestrates one kauth.Authenticator over one
// transport.Bus: it is the "application" spec.md §7 refers to when it
// says a failed authentication should make the caller "initiate a
// fresh challenge" — adapted from the teacher's Bridge, which
// coordinated capture+transport+codec the same way this one
// coordinates authenticator+transport.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klineauth/klineauth/internal/direction"
	"github.com/klineauth/klineauth/internal/events"
	"github.com/klineauth/klineauth/internal/kauth"
	"github.com/klineauth/klineauth/internal/kframe"
	"github.com/klineauth/klineauth/internal/krand"
	"github.com/klineauth/klineauth/internal/logging"
	"github.com/klineauth/klineauth/internal/transport"
)

// Function codes this bridge reserves for its three frame kinds. A
// real deployment's function-code assignment is out of spec.md's
// scope; these are local conventions, not part of the wire contract
// the core cares about.
const (
	FunctionPairing   byte = 0xF0
	FunctionChallenge byte = 0xF1
)

// RechallengeBackoff is the pause between an authentication failure and
// the CEM's automatic fresh challenge, so a burst of corrupt frames
// doesn't turn into a challenge storm.
const RechallengeBackoff = 250 * time.Millisecond

// ChannelBufferSize is the buffer depth for the authenticated-payload
// delivery channel.
const ChannelBufferSize = 256

// Role distinguishes which side of the pairing this bridge plays,
// since CEM and PAKM install the pairing's two keys in opposite
// tx/rx slots and only the CEM is expected to originate challenges.
type Role int

const (
	RoleCEM Role = iota
	RolePAKM
)

func (r Role) String() string {
	if r == RoleCEM {
		return "CEM"
	}
	return "PAKM"
}

// Stats holds bridge-level counters, adapted from the teacher's atomic
// Stats but tracking authentication outcomes instead of RTT.
type Stats struct {
	FramesSent     uint64
	FramesReceived uint64
	FramesRejected uint64

	lastFailure atomic.Value // string
}

// RecordFailure stores the most recent rejection reason.
func (s *Stats) RecordFailure(reason string) {
	s.lastFailure.Store(reason)
}

// LastFailure returns the most recent rejection reason, or "" if none.
func (s *Stats) LastFailure() string {
	v, _ := s.lastFailure.Load().(string)
	return v
}

// Config holds bridge configuration.
type Config struct {
	Role           Role
	Addr           byte   // our frame address
	AuthedFunction byte   // function code used for authenticated application frames
	Bus            *transport.Bus
	Logger         *logging.Logger // optional, defaults to a discarding logger
	Emitter        events.Emitter  // optional, defaults to events.NopEmitter
	RNG            krand.Source    // optional, defaults to krand.Default
}

// Bridge owns one session's Authenticator plus the Bus it talks over,
// and drives the recv side: authenticate every inbound frame, dispatch
// the payload of anything that authenticates, and react to failures
// the way spec.md §7 expects an application to.
type Bridge struct {
	auth           *kauth.Authenticator
	bus            *transport.Bus
	logger         *logging.Logger
	emitter        events.Emitter
	rng            krand.Source
	role           Role
	addr           byte
	authedFunction byte

	stats Stats

	stateMu sync.RWMutex
	state   kauth.State

	incoming chan *kframe.SignedView
}

// New constructs a Bridge in kauth.StateUnpaired.
func New(cfg Config) (*Bridge, error) {
	if cfg.Bus == nil {
		return nil, fmt.Errorf("bridge: bus is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger(logging.LevelError)
		logger.SetOutput(io.Discard)
	}
	emitter := cfg.Emitter
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	rng := cfg.RNG
	if rng == nil {
		rng = krand.Default
	}

	b := &Bridge{
		auth:           kauth.New(),
		bus:            cfg.Bus,
		logger:         logger,
		emitter:        emitter,
		rng:            rng,
		role:           cfg.Role,
		addr:           cfg.Addr,
		authedFunction: cfg.AuthedFunction,
		state:          kauth.StateUnpaired,
		incoming:       make(chan *kframe.SignedView, ChannelBufferSize),
	}

	if err := b.auth.Init(rng); err != nil {
		return nil, fmt.Errorf("bridge: init authenticator: %w", err)
	}
	return b, nil
}

// State returns the lifecycle state this bridge has recorded:
// StateUnpaired, StatePaired or StateChallenged. The bridge never
// records StateOperating, although its Authenticator enters that state
// once a challenge is applied.
func (b *Bridge) State() kauth.State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *Bridge) setState(s kauth.State) {
	b.stateMu.Lock()
	from := b.state
	b.state = s
	b.stateMu.Unlock()

	if from != s {
		b.logger.Auth("state %s -> %s", from, s)
		b.emitter.Emit(events.EventStateChanged, events.StateChangedData{From: from.String(), To: s.String()})
	}
}

// Pair installs pairing's two keys into the Authenticator per this
// bridge's Role and transitions to kauth.StatePaired.
func (b *Bridge) Pair(pairing kframe.Pairing) error {
	var err error
	if b.role == RoleCEM {
		err = b.auth.PairAsCEM(pairing)
	} else {
		err = b.auth.PairAsPAKM(pairing)
	}
	if err != nil {
		return err
	}
	b.setState(kauth.StatePaired)
	b.emitter.Emit(events.EventPaired, events.PairedData{Role: b.role.String()})
	return nil
}

// IssueChallenge is called by the CEM to create a fresh 120-bit
// challenge, apply it to its own Authenticator, and write the
// challenge frame to the bus for the PAKM to apply symmetrically.
// Only meaningful for RoleCEM; a PAKM applies a challenge it receives
// over the bus via ApplyChallenge instead.
func (b *Bridge) IssueChallenge() error {
	f, err := kframe.CreateChallenge(b.addr, FunctionChallenge, b.rng)
	if err != nil {
		return fmt.Errorf("bridge: create challenge: %w", err)
	}
	challenge, err := f.AsChallenge()
	if err != nil {
		return err
	}
	if err := b.auth.ApplyChallenge(challenge, challenge); err != nil {
		return err
	}
	if err := b.bus.Send(f); err != nil {
		return fmt.Errorf("bridge: send challenge: %w", err)
	}
	b.setState(kauth.StateChallenged)
	b.emitter.Emit(events.EventChallenged, events.ChallengedData{
		TxCounter: b.auth.TxCounter(),
		RxCounter: b.auth.RxCounter(),
	})
	return nil
}

// ApplyChallenge applies a challenge received from the peer (typically
// the PAKM side, reacting to a FunctionChallenge frame from the CEM).
func (b *Bridge) ApplyChallenge(challenge []byte) error {
	if err := b.auth.ApplyChallenge(challenge, challenge); err != nil {
		return err
	}
	b.setState(kauth.StateChallenged)
	b.emitter.Emit(events.EventChallenged, events.ChallengedData{
		TxCounter: b.auth.TxCounter(),
		RxCounter: b.auth.RxCounter(),
	})
	return nil
}

// Send authenticates and transmits one application payload.
func (b *Bridge) Send(scmd byte, payload []byte) error {
	f, err := b.auth.AllocateAuthenticated(b.addr, b.authedFunction, scmd, payload)
	if err != nil {
		if errors.Is(err, direction.ErrCounterExhausted) {
			b.logger.Auth("tx counter exhausted, a fresh challenge is required")
			b.emitter.Emit(events.EventCounterExhausted, events.CounterExhaustedData{Direction: "tx"})
		}
		return fmt.Errorf("bridge: allocate authenticated frame: %w", err)
	}
	if err := b.bus.Send(f); err != nil {
		return fmt.Errorf("bridge: send: %w", err)
	}
	atomic.AddUint64(&b.stats.FramesSent, 1)
	return nil
}

// Incoming returns the channel of successfully authenticated payloads.
func (b *Bridge) Incoming() <-chan *kframe.SignedView {
	return b.incoming
}

// Stats returns the bridge's counters.
func (b *Bridge) Stats() *Stats {
	return &b.stats
}

// Bus returns the underlying transport.Bus, for callers that need to
// send a frame Bridge has no dedicated method for (e.g. an initial
// out-of-band pairing frame before either side has a session).
func (b *Bridge) Bus() *transport.Bus {
	return b.bus
}

// Run drives the receive loop until ctx is cancelled or the bus
// closes. It dispatches by function code: pairing and challenge
// frames update the Authenticator directly, authenticated frames are
// verified and forwarded on Incoming, and anything else is logged and
// dropped. A RoleCEM bridge automatically issues a fresh challenge
// after an authentication failure, per spec.md §7.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		f, err := b.bus.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Debug("bridge: recv error: %v", err)
			continue
		}

		switch f.Function() {
		case FunctionPairing:
			pairing, err := f.AsPairing()
			if err != nil {
				b.logger.Warn("bridge: malformed pairing frame: %v", err)
				continue
			}
			if err := b.Pair(pairing); err != nil {
				b.logger.Warn("bridge: pairing failed: %v", err)
			}
		case FunctionChallenge:
			challenge, err := f.AsChallenge()
			if err != nil {
				b.logger.Warn("bridge: malformed challenge frame: %v", err)
				continue
			}
			if err := b.ApplyChallenge(challenge); err != nil {
				b.logger.Warn("bridge: apply challenge failed: %v", err)
			}
		case b.authedFunction:
			b.handleAuthenticated(f)
		default:
			b.logger.Debug("bridge: ignoring frame with unknown function %#x", f.Function())
		}
	}
}

func (b *Bridge) handleAuthenticated(f *kframe.Frame) {
	ok, view := b.auth.Authenticate(f)
	if !ok {
		atomic.AddUint64(&b.stats.FramesRejected, 1)
		b.stats.RecordFailure("authentication failed")
		b.logger.Auth("rejected frame from addr %#x", f.Addr())
		b.emitter.Emit(events.EventAuthFailure, events.AuthFailureData{Reason: "authentication failed"})

		if b.role == RoleCEM && b.State() == kauth.StateChallenged {
			go b.rechallengeAfterFailure()
		}
		return
	}

	atomic.AddUint64(&b.stats.FramesReceived, 1)
	b.emitter.Emit(events.EventFrameAuthed, events.FrameAuthedData{
		SCmd:      view.SCmd,
		RxCounter: b.auth.RxCounter(),
	})

	select {
	case b.incoming <- view:
	default:
		b.logger.Debug("bridge: incoming channel full, dropping authenticated payload")
	}
}

func (b *Bridge) rechallengeAfterFailure() {
	time.Sleep(RechallengeBackoff)
	if err := b.IssueChallenge(); err != nil {
		b.logger.Warn("bridge: automatic rechallenge failed: %v", err)
	}
}

// Destroy zeroizes the underlying Authenticator's key material and
// returns the bridge to kauth.StateUnpaired.
func (b *Bridge) Destroy() {
	b.auth.Destroy()
	b.setState(kauth.StateUnpaired)
}
