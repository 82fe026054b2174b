package kframe

import (
	"bytes"
	"testing"
)

type fakeRNG struct{ fill byte }

func (f fakeRNG) Read(buf []byte) error {
	for i := range buf {
		buf[i] = f.fill
	}
	return nil
}

func TestCreatePairing(t *testing.T) {
	f, err := CreatePairing(0x01, 0xF0, fakeRNG{fill: 0x55})
	if err != nil {
		t.Fatalf("CreatePairing: %v", err)
	}
	if !f.VerifyChecksum() {
		t.Error("expected stamped checksum to verify")
	}
	pairing, err := f.AsPairing()
	if err != nil {
		t.Fatalf("AsPairing: %v", err)
	}
	if !bytes.Equal(pairing.CemToPak, bytes.Repeat([]byte{0x55}, 16)) {
		t.Errorf("unexpected CemToPak: %x", pairing.CemToPak)
	}
}

func TestCreateChallenge(t *testing.T) {
	f, err := CreateChallenge(0x01, 0xF1, fakeRNG{fill: 0x77})
	if err != nil {
		t.Fatalf("CreateChallenge: %v", err)
	}
	if !f.VerifyChecksum() {
		t.Error("expected stamped checksum to verify")
	}
	challenge, err := f.AsChallenge()
	if err != nil {
		t.Fatalf("AsChallenge: %v", err)
	}
	if !bytes.Equal(challenge, bytes.Repeat([]byte{0x77}, ChallengeBodySize)) {
		t.Errorf("unexpected challenge: %x", challenge)
	}
}

func TestAllocateAuthFrame_LayoutAndParse(t *testing.T) {
	f, err := AllocateAuthFrame(0x01, 0x10, 5, 0x42, []byte("payload"))
	if err != nil {
		t.Fatalf("AllocateAuthFrame: %v", err)
	}

	sig := bytes.Repeat([]byte{0xAB}, AuthFooterSize)
	f.SetSignature(sig)
	f.StampChecksum()

	if !f.VerifyChecksum() {
		t.Fatal("expected checksum to verify after stamping")
	}

	fields, scmd, payload, gotSig, ok := f.ParseAuthStructure()
	if !ok {
		t.Fatal("expected ParseAuthStructure to succeed")
	}
	if fields.TxCnt != 5 {
		t.Errorf("TxCnt = %d, want 5", fields.TxCnt)
	}
	if scmd != 0x42 {
		t.Errorf("scmd = %#x, want 0x42", scmd)
	}
	if string(payload) != "payload" {
		t.Errorf("payload = %q, want %q", payload, "payload")
	}
	if !bytes.Equal(gotSig, sig) {
		t.Errorf("sig = %x, want %x", gotSig, sig)
	}
}

func TestAllocateAuthFrame_RejectsOversizedPayload(t *testing.T) {
	huge := make([]byte, MaxSignedDataLen)
	_, err := AllocateAuthFrame(0x01, 0x10, 1, 0x01, huge)
	if err != ErrSignedDataTooLarge {
		t.Errorf("AllocateAuthFrame(huge) = %v, want ErrSignedDataTooLarge", err)
	}
}

func TestParseAuthStructure_RejectsTruncatedFrame(t *testing.T) {
	// A buffer whose length byte matches its own size but whose declared
	// sdata_len claims more signed-region bytes than actually fit.
	buf := []byte{0x01, 0x08, 0x10, 0x01, 0x7F, 0x00, 0x00, 0x00}
	f, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	_, _, _, _, ok := f.ParseAuthStructure()
	if ok {
		t.Error("expected ParseAuthStructure to reject an inflated sdata_len")
	}
}

func TestParseAuthStructure_RejectsZeroSDataLen(t *testing.T) {
	f, err := AllocateAuthFrame(0x01, 0x10, 1, 0x01, []byte("x"))
	if err != nil {
		t.Fatalf("AllocateAuthFrame: %v", err)
	}
	f.SetSignature(bytes.Repeat([]byte{0}, AuthFooterSize))
	f.buf[authSDataLenOffset] = 0
	f.StampChecksum()

	_, _, _, _, ok := f.ParseAuthStructure()
	if ok {
		t.Error("expected ParseAuthStructure to reject sdata_len == 0")
	}
}

func FuzzParseAuthStructure(f *testing.F) {
	seed, err := AllocateAuthFrame(0x01, 0x10, 1, 0x01, []byte("seed"))
	if err == nil {
		seed.SetSignature(bytes.Repeat([]byte{0x11}, AuthFooterSize))
		seed.StampChecksum()
		f.Add(seed.Bytes())
	}
	f.Add([]byte{0x01, 0x04, 0x02, 0x00})
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		frame, err := Parse(data)
		if err != nil {
			return
		}
		// Must never panic regardless of buffer contents.
		_, _, _, _, _ = frame.ParseAuthStructure()
	})
}
