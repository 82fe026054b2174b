// Package transport provides byte-stream framing for the K-Line bus.
// spec.md scopes physical bus I/O out of the authenticator core; Bus is
// the thin "external collaborator" that turns a raw io.ReadWriter (a
// UART device, a net.Conn, an io.Pipe in tests) into a sequence of
// kframe.Frame values, the same "read the header, learn the body
// length, read the rest" shape the teacher's UDP transport used for
// packet framing, adapted here to a byte stream that has no natural
// packet boundaries of its own.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klineauth/klineauth/internal/kframe"
	"github.com/klineauth/klineauth/internal/logging"
)

// ReadTimeout bounds how long Recv blocks waiting for a frame when the
// underlying connection supports deadlines. It has no effect on
// io.ReadWriters that don't implement net.Conn (e.g. io.Pipe in tests).
const ReadTimeout = 2 * time.Second

// Errors returned by Bus operations.
var (
	ErrClosed      = errors.New("transport: bus closed")
	ErrFrameTooBig = errors.New("transport: peer declared an impossible frame length")
)

// Bus serializes Frame reads and writes over a raw byte stream. Writes
// are serialized against concurrent Send calls; Recv assumes a single
// reader goroutine, matching spec.md §5's "the caller owns concurrency"
// stance for everything outside the core.
type Bus struct {
	rw     io.ReadWriter
	logger *logging.Logger

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

// New wraps rw as a Bus. logger may be nil, in which case Bus logs
// nothing.
func New(rw io.ReadWriter, logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewLogger(logging.LevelError)
		logger.SetOutput(io.Discard)
	}
	return &Bus{rw: rw, logger: logger}
}

// Send writes f's wire bytes to the bus in a single call, serialized
// against other Send calls.
func (b *Bus) Send(f *kframe.Frame) error {
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return ErrClosed
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	b.setDeadline(ReadTimeout)
	_, err := b.rw.Write(f.Bytes())
	if err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Recv reads exactly one frame off the bus: the fixed 3-byte header
// (addr, length, function), then the remainder the header's length
// byte says to expect. It blocks until a full frame arrives, the bus
// is closed, or the underlying connection's read deadline (if any)
// expires.
func (b *Bus) Recv() (*kframe.Frame, error) {
	b.closeMu.Lock()
	closed := b.closed
	b.closeMu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	b.setDeadline(ReadTimeout)

	header := make([]byte, kframe.HeaderSize)
	if _, err := io.ReadFull(b.rw, header); err != nil {
		return nil, fmt.Errorf("transport: read header: %w", err)
	}

	total := int(header[1]) // length byte
	if total < kframe.HeaderSize+kframe.FooterSize || total > kframe.MaxFrameSize {
		return nil, ErrFrameTooBig
	}

	buf := make([]byte, total)
	copy(buf, header)
	if _, err := io.ReadFull(b.rw, buf[kframe.HeaderSize:]); err != nil {
		return nil, fmt.Errorf("transport: read body: %w", err)
	}

	f, err := kframe.Parse(buf)
	if err != nil {
		b.logger.Debug("transport: dropped unparseable frame: %v", err)
		return nil, err
	}
	return f, nil
}

// setDeadline applies ReadTimeout to rw if it implements net.Conn.
// Plain io.ReadWriters (io.Pipe, bytes.Buffer-backed test doubles) are
// left alone.
func (b *Bus) setDeadline(d time.Duration) {
	if conn, ok := b.rw.(net.Conn); ok {
		_ = conn.SetDeadline(time.Now().Add(d))
	}
}

// Close closes the bus. If the underlying io.ReadWriter implements
// io.Closer, it is closed too.
func (b *Bus) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if c, ok := b.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
