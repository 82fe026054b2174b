package transport

import (
	"bytes"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/klineauth/klineauth/internal/kframe"
	"github.com/klineauth/klineauth/internal/logging"
)

// pipe implements io.ReadWriter over a pair of io.Pipe halves, good enough to
// drive Bus without a real net.Conn.
type pipe struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipe) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipe) Write(b []byte) (int, error) { return p.w.Write(b) }

func newPipePair() (*pipe, *pipe) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &pipe{r: r1, w: w2}, &pipe{r: r2, w: w1}
}

func testLogger() *logging.Logger {
	l := logging.NewLogger(logging.LevelError)
	l.SetOutput(io.Discard)
	return l
}

func TestBus_SendRecv_Roundtrip(t *testing.T) {
	a, b := newPipePair()
	busA := New(a, testLogger())
	busB := New(b, testLogger())

	f, err := kframe.Allocate(0x10, 0x01, 4, []byte{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	f.StampChecksum()

	errCh := make(chan error, 1)
	go func() { errCh <- busA.Send(f) }()

	got, err := busB.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if sendErr := <-errCh; sendErr != nil {
		t.Fatalf("Send: %v", sendErr)
	}

	if !bytes.Equal(got.Bytes(), f.Bytes()) {
		t.Errorf("roundtrip mismatch: got %x, want %x", got.Bytes(), f.Bytes())
	}
	if !got.VerifyChecksum() {
		t.Error("expected received frame to pass checksum verification")
	}
}

func TestBus_Recv_RejectsImpossibleLength(t *testing.T) {
	a, b := newPipePair()
	busB := New(b, testLogger())

	go func() {
		// length byte of 2 is smaller than header+footer; should be rejected
		// before any attempt to read a body.
		a.Write([]byte{0x01, 0x02, 0x00})
	}()

	_, err := busB.Recv()
	if err != ErrFrameTooBig {
		t.Errorf("expected ErrFrameTooBig, got %v", err)
	}
}

func TestBus_Send_AfterClose(t *testing.T) {
	a, _ := newPipePair()
	busA := New(a, testLogger())

	if err := busA.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, _ := kframe.Allocate(0x10, 0x01, 0, nil)
	f.StampChecksum()

	if err := busA.Send(f); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestBus_Recv_AfterClose(t *testing.T) {
	a, _ := newPipePair()
	busA := New(a, testLogger())
	busA.Close()

	if _, err := busA.Recv(); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestBus_ConcurrentSends(t *testing.T) {
	a, b := newPipePair()
	busA := New(a, testLogger())
	busB := New(b, testLogger())

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, _ := kframe.Allocate(byte(i), 0x01, 0, nil)
			f.StampChecksum()
			_ = busA.Send(f)
		}(i)
	}

	received := 0
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			if _, err := busB.Recv(); err != nil {
				break
			}
			received++
		}
		close(done)
	}()

	wg.Wait()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for receives")
	}

	if received != n {
		t.Errorf("received %d frames, want %d", received, n)
	}
}

func TestBus_OverNetConn(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		bus := New(conn, testLogger())
		_, err = bus.Recv()
		serverDone <- err
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	bus := New(conn, testLogger())
	f, _ := kframe.Allocate(0x10, 0x01, 0, nil)
	f.StampChecksum()
	if err := bus.Send(f); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("server Recv: %v", err)
	}
}
