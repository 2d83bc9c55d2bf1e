// Package connection owns the link to the controller: dialing, identification,
// keepalive and bounded reconnection.
package connection

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/Xolisakesi/metatrrade-mcp/internal/config"
	"github.com/Xolisakesi/metatrrade-mcp/internal/errs"
)

const (
	maxFrameSize = 1 << 20
	readChunk    = 4096
	// tcpPollWindow bounds how long a non-blocking poll waits on the socket.
	tcpPollWindow = time.Millisecond
)

// Transport moves whole envelopes over an established link.
type Transport interface {
	// Send writes one envelope.
	Send(ctx context.Context, payload []byte) error
	// Poll returns the next complete inbound envelope without blocking.
	Poll() ([]byte, bool, error)
	// Close releases the link.
	Close() error
}

// unframedReader is implemented by transports that can hold plain text not yet
// terminated by a newline.
type unframedReader interface {
	// TakeUnframed returns and drops the buffered plain text when it contains
	// token.
	TakeUnframed(token string) ([]byte, bool)
}

// Dialer opens a new transport.
type Dialer func(ctx context.Context) (Transport, error)

// NewDialer returns the dialer for the configured transport kind.
func NewDialer(cfg Config) Dialer {
	switch cfg.Transport {
	case config.TransportWebsocket:
		return func(ctx context.Context) (Transport, error) {
			return DialWebsocket(ctx, "ws://"+cfg.Address+cfg.Path)
		}
	default:
		return func(ctx context.Context) (Transport, error) {
			return DialTCP(ctx, cfg.Address)
		}
	}
}

// TCPTransport frames envelopes as complete top-level JSON documents on a
// byte stream. Documents may be separated by newlines or nothing at all.
type TCPTransport struct {
	conn   net.Conn
	frames framer
	chunk  []byte
}

// DialTCP connects to address.
func DialTCP(ctx context.Context, address string) (*TCPTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, errs.New("connection/dial", errs.CodeNetwork,
			errs.WithMessage("dial "+address), errs.WithCause(err))
	}
	return NewTCPTransport(conn), nil
}

// NewTCPTransport wraps an established stream connection.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{
		conn:   conn,
		frames: framer{},
		chunk:  make([]byte, readChunk),
	}
}

// Send writes payload followed by a newline.
func (t *TCPTransport) Send(ctx context.Context, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return errs.New("connection/send", errs.CodeNetwork, errs.WithCause(err))
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	if _, err := t.conn.Write(buf); err != nil {
		return errs.New("connection/send", errs.CodeNetwork, errs.WithCause(err))
	}
	return nil
}

// Poll returns a buffered frame if one is complete, otherwise reads whatever
// arrives within a very short window.
func (t *TCPTransport) Poll() ([]byte, bool, error) {
	if frame, ok, err := t.frames.next(); ok || err != nil {
		return frame, ok, err
	}
	if err := t.conn.SetReadDeadline(time.Now().Add(tcpPollWindow)); err != nil {
		return nil, false, errs.New("connection/poll", errs.CodeNetwork, errs.WithCause(err))
	}
	n, err := t.conn.Read(t.chunk)
	if n > 0 {
		t.frames.write(t.chunk[:n])
	}
	if err != nil && !isTimeout(err) {
		return nil, false, errs.New("connection/poll", errs.CodeNetwork, errs.WithCause(err))
	}
	return t.frames.next()
}

// TakeUnframed hands out a plain-text acknowledgement the peer sent without a
// trailing newline.
func (t *TCPTransport) TakeUnframed(token string) ([]byte, bool) {
	return t.frames.takePlain(token)
}

// Close closes the socket.
func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// framer accumulates stream bytes and splits off complete documents. Text
// that does not open with '{' is framed by newline, so plain-text
// acknowledgements still come through.
type framer struct {
	buf []byte
}

func (f *framer) write(p []byte) {
	f.buf = append(f.buf, p...)
}

func (f *framer) next() ([]byte, bool, error) {
	trimmed := bytes.TrimLeft(f.buf, " \t\r\n")
	f.buf = f.buf[len(f.buf)-len(trimmed):]
	if len(f.buf) == 0 {
		return nil, false, nil
	}
	if len(f.buf) > maxFrameSize {
		f.buf = nil
		return nil, false, errs.New("connection/frame", errs.CodeNetwork, errs.WithMessage("inbound frame exceeds size limit"))
	}

	if f.buf[0] != '{' {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			return nil, false, nil
		}
		return f.take(idx, idx+1), true, nil
	}

	depth := 0
	inString := false
	for i := 0; i < len(f.buf); i++ {
		c := f.buf[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return f.take(i+1, i+1), true, nil
			}
		}
	}
	return nil, false, nil
}

// takePlain drains buffered text that does not open a document when it
// contains token.
func (f *framer) takePlain(token string) ([]byte, bool) {
	trimmed := bytes.TrimLeft(f.buf, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] == '{' || !bytes.Contains(trimmed, []byte(token)) {
		return nil, false
	}
	f.buf = f.buf[len(f.buf)-len(trimmed):]
	return f.take(len(f.buf), len(f.buf)), true
}

// take copies out buf[:end] and drops buf[:consume].
func (f *framer) take(end, consume int) []byte {
	frame := make([]byte, end)
	copy(frame, f.buf[:end])
	f.buf = append(f.buf[:0], f.buf[consume:]...)
	return bytes.TrimRight(frame, "\r")
}
