package kcmac

import (
	"bytes"
	"testing"
)

func testKey() []byte {
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte{1, 2, 3})
	if err != ErrKeySize {
		t.Errorf("New(short key) = %v, want ErrKeySize", err)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	e1, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e2, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e1.Update([]byte("hello world"))
	e2.Update([]byte("hello world"))

	out1 := e1.Finalize()
	out2 := e2.Finalize()

	if out1 != out2 {
		t.Errorf("same key+message produced different MACs: %x vs %x", out1, out2)
	}
}

func TestEngine_DifferentMessagesDiffer(t *testing.T) {
	e, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Update([]byte("message one"))
	out1 := e.Finalize()

	e.Update([]byte("message two"))
	out2 := e.Finalize()

	if out1 == out2 {
		t.Error("different messages produced the same MAC")
	}
}

func TestEngine_ResetAllowsReuse(t *testing.T) {
	e, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Update([]byte("partial"))
	e.Reset()
	e.Update([]byte("full message"))
	out1 := e.Finalize()

	e2, _ := New(testKey())
	e2.Update([]byte("full message"))
	out2 := e2.Finalize()

	if out1 != out2 {
		t.Error("Reset did not fully clear prior message state")
	}
}

func TestEngine_FinalizeResetsForNextMessage(t *testing.T) {
	e, err := New(testKey())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	e.Update([]byte("first"))
	first := e.Finalize()

	e.Update([]byte("first"))
	second := e.Finalize()

	if first != second {
		t.Error("Finalize did not leave the engine ready for an identical next message")
	}
}

func TestEqual(t *testing.T) {
	a := []byte{0x01, 0x02, 0x03, 0x04}
	b := []byte{0x01, 0x02, 0x03, 0x04}
	c := []byte{0x01, 0x02, 0x03, 0x05}

	if !Equal(a, b) {
		t.Error("Equal(a, b) = false, want true for identical slices")
	}
	if Equal(a, c) {
		t.Error("Equal(a, c) = true, want false for differing slices")
	}
	if Equal(a, a[:3]) {
		t.Error("Equal should reject differing lengths")
	}
}

func TestEngine_KeySensitivity(t *testing.T) {
	key1 := testKey()
	key2 := testKey()
	key2[0] ^= 0xFF

	e1, _ := New(key1)
	e2, _ := New(key2)

	e1.Update([]byte("same message"))
	e2.Update([]byte("same message"))

	out1 := e1.Finalize()
	out2 := e2.Finalize()

	if bytes.Equal(out1[:], out2[:]) {
		t.Error("different keys produced the same MAC for the same message")
	}
}
