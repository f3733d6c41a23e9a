package link

import (
	"errors"
	"io"
	"net"
	"time"
)

// PipeLink is an in-process Link backed by a net.Pipe connection, used to
// exercise the session and transfer engine without real hardware. Unlike
// io.Pipe, net.Pipe's Conn supports read deadlines, so a timed-out Read
// simply unblocks the one goroutine doing it instead of needing a second,
// abandoned goroutine racing the next call on the same underlying pipe.
type PipeLink struct {
	conn net.Conn
}

// NewPipePair returns two PipeLinks wired to the same net.Pipe connection,
// a loopback cable between two simulated peers: a write on one is readable
// from the other, in both directions.
func NewPipePair() (a, b *PipeLink) {
	ca, cb := net.Pipe()
	a = &PipeLink{conn: ca}
	b = &PipeLink{conn: cb}
	return a, b
}

func (p *PipeLink) Write(buf []byte) (int, error) {
	return p.conn.Write(buf)
}

func (p *PipeLink) Read(buf []byte, timeout time.Duration) (int, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	n, err := p.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, errTimeout("read")
		}
		if errors.Is(err, io.EOF) {
			return n, io.EOF
		}
		return n, err
	}
	return n, nil
}

// Flush is a no-op for an in-memory pipe: there is no hardware transmit
// queue to drain.
func (p *PipeLink) Flush() error { return nil }

// Purge is a no-op: net.Pipe has no internal buffer to discard.
func (p *PipeLink) Purge() error { return nil }

func (p *PipeLink) Close() error {
	return p.conn.Close()
}
