package kframe

import "github.com/klineauth/klineauth/internal/krand"

// SignedView borrows the signed region of an authenticated frame after a
// successful Authenticate: the scmd byte plus the caller's signed
// payload. It aliases the frame's buffer and is only valid until the
// frame is Released.
type SignedView struct {
	SCmd     byte
	SPayload []byte
}

// AuthFields is the parsed view of an authenticated frame's own header.
type AuthFields struct {
	TxCnt    byte
	SDataLen byte
}

// AllocateAuthFrame builds the frame shell for an authenticated message:
// header + auth header (txcnt, sdata_len) + signed region (scmd +
// signedPayload) + space for an 8-byte signature + checksum. The
// signature is not computed here — the Authenticator fills it in once it
// has signed the frame's SignedSpan — so the checksum is not stamped
// either.
func AllocateAuthFrame(addr, function, txcnt, scmd byte, signedPayload []byte) (*Frame, error) {
	sdataLen := 1 + len(signedPayload)
	if sdataLen > MaxSignedDataLen {
		return nil, ErrSignedDataTooLarge
	}

	bodySize := AuthHeaderSize + sdataLen + AuthFooterSize
	f, err := Allocate(addr, function, bodySize, nil)
	if err != nil {
		return nil, err
	}

	f.buf[authTxCntOffset] = txcnt
	f.buf[authSDataLenOffset] = byte(sdataLen)
	f.buf[authSignedOffset] = scmd
	copy(f.buf[authSignedOffset+1:authSignedOffset+sdataLen], signedPayload)

	return f, nil
}

// SignedSpan returns the frame bytes the signature covers: the frame
// header, the auth header, and the signed region — frame-header start
// through end of signed region, per spec.md §4.4 step 5. It excludes the
// signature field itself and the trailing checksum.
func (f *Frame) SignedSpan() []byte {
	sdataLen := int(f.buf[authSDataLenOffset])
	end := authSignedOffset + sdataLen
	return f.buf[:end]
}

// SetSignature writes an 8-byte (or longer, truncated) signature into
// the frame's signature field, immediately after the signed region.
func (f *Frame) SetSignature(sig []byte) {
	sdataLen := int(f.buf[authSDataLenOffset])
	off := authSignedOffset + sdataLen
	copy(f.buf[off:off+AuthFooterSize], sig[:AuthFooterSize])
}

// ParseAuthStructure validates that the frame is a structurally
// consistent authenticated frame (length field matches the declared
// sdata_len, the buffer is large enough to hold header+auth
// header+signed region+signature+checksum) and, if so, returns the auth
// header fields, the signed-region scmd/payload split, and the
// signature bytes. ok is false on any structural inconsistency —
// callers must treat that the same as an authentication failure.
func (f *Frame) ParseAuthStructure() (fields AuthFields, scmd byte, payload []byte, sig []byte, ok bool) {
	if len(f.buf) < authSignedOffset+1+AuthFooterSize+FooterSize {
		return AuthFields{}, 0, nil, nil, false
	}

	txcnt := f.buf[authTxCntOffset]
	sdataLen := f.buf[authSDataLenOffset]
	if sdataLen == 0 {
		// sdata_len always covers at least the scmd byte.
		return AuthFields{}, 0, nil, nil, false
	}

	expectedTotal := HeaderSize + AuthHeaderSize + int(sdataLen) + AuthFooterSize + FooterSize
	if expectedTotal != len(f.buf) {
		return AuthFields{}, 0, nil, nil, false
	}
	if int(f.Length()) != len(f.buf) {
		return AuthFields{}, 0, nil, nil, false
	}

	signedRegion := f.buf[authSignedOffset : authSignedOffset+int(sdataLen)]
	sigOffset := authSignedOffset + int(sdataLen)

	return AuthFields{TxCnt: txcnt, SDataLen: sdataLen},
		signedRegion[0],
		signedRegion[1:],
		f.buf[sigOffset : sigOffset+AuthFooterSize],
		true
}

// CreatePairing allocates a pairing frame: 32 random bytes (cemToPak ||
// pakToCem) filled by rng, checksum stamped. Builders never touch
// Authenticator state — the caller applies the resulting Pairing to both
// sides of a session.
func CreatePairing(addr, function byte, rng krand.Source) (*Frame, error) {
	f, err := Allocate(addr, function, PairingBodySize, nil)
	if err != nil {
		return nil, err
	}
	if err := rng.Read(f.Body()); err != nil {
		return nil, err
	}
	f.StampChecksum()
	return f, nil
}

// CreateChallenge allocates a challenge frame: 15 random bytes
// (challenge120), checksum stamped.
func CreateChallenge(addr, function byte, rng krand.Source) (*Frame, error) {
	f, err := Allocate(addr, function, ChallengeBodySize, nil)
	if err != nil {
		return nil, err
	}
	if err := rng.Read(f.Body()); err != nil {
		return nil, err
	}
	f.StampChecksum()
	return f, nil
}
