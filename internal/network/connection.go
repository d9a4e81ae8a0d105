package network

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrConnClosed is returned when writing to a closed FrameConn.
var ErrConnClosed = errors.New("network: connection closed")

const writeTimeout = 10 * time.Second

// FrameConn reads and writes whole frames on a net.Conn. Reads are expected
// from a single goroutine; writes are serialized.
type FrameConn struct {
	mu     sync.Mutex
	conn   net.Conn
	framer Framer
	logger zerolog.Logger

	connectedAt  time.Time
	lastActivity atomic.Int64

	frames atomic.Int64
	bytes  atomic.Int64
	closed atomic.Bool
}

// NewFrameConn wraps conn using framer for the wire format.
func NewFrameConn(conn net.Conn, framer Framer) *FrameConn {
	now := time.Now()
	c := &FrameConn{
		conn:        conn,
		framer:      framer,
		connectedAt: now,
		logger: log.With().
			Str("component", "connection").
			Str("remote", conn.RemoteAddr().String()).
			Str("variant", framer.Variant()).
			Logger(),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// ReadFrame blocks until one frame arrives. A positive timeout bounds the
// wait.
func (c *FrameConn) ReadFrame(timeout time.Duration) (Frame, error) {
	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return Frame{}, err
		}
	}

	f, err := c.framer.ReadFrame(c.conn)
	if err != nil {
		return Frame{}, err
	}

	c.touch(c.framer.WireSize(f))
	return f, nil
}

// WriteFrame sends one frame.
func (c *FrameConn) WriteFrame(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrConnClosed
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := c.framer.WriteFrame(c.conn, f); err != nil {
		return err
	}

	c.touch(c.framer.WireSize(f))
	return nil
}

func (c *FrameConn) touch(n int) {
	c.frames.Add(1)
	c.bytes.Add(int64(n))
	c.lastActivity.Store(time.Now().UnixNano())
}

// Close closes the underlying connection. It is safe to call more than once.
func (c *FrameConn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Debug().
		Int64("frames", c.frames.Load()).
		Int64("bytes", c.bytes.Load()).
		Msg("connection closed")
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *FrameConn) IsClosed() bool {
	return c.closed.Load()
}

// Stats returns the frames and bytes moved in both directions.
func (c *FrameConn) Stats() (frames, bytes int64) {
	return c.frames.Load(), c.bytes.Load()
}

// LastActivity returns the time of the last read or write.
func (c *FrameConn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// ConnectedAt returns the time the connection was wrapped.
func (c *FrameConn) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *FrameConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Framer returns the wire format in use.
func (c *FrameConn) Framer() Framer {
	return c.framer
}
