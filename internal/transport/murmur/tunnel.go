package murmur

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Control-channel message types. Voice frames travel inside MsgUDPTunnel
// envelopes on the same connection as the control traffic.
const (
	MsgVersion   = 0
	MsgUDPTunnel = 1
	MsgPing      = 3
)

const envelopeHeaderLen = 6

// maxEnvelopePayload bounds a single envelope so a corrupt length field
// cannot make the read loop allocate without limit.
const maxEnvelopePayload = 8 * 1024 * 1024

// ErrConnClosed is returned by writes after Close.
var ErrConnClosed = errors.New("murmur: connection closed")

// EncodeEnvelope wraps payload in the control-channel envelope: 2-byte
// big-endian message type, 4-byte big-endian payload length, payload.
func EncodeEnvelope(msgType uint16, payload []byte) []byte {
	frame := make([]byte, envelopeHeaderLen+len(payload))
	binary.BigEndian.PutUint16(frame[0:2], msgType)
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(payload)))
	copy(frame[envelopeHeaderLen:], payload)
	return frame
}

// DialConfig carries the connection settings for Dial.
type DialConfig struct {
	Addr          string
	TLSEnabled    bool
	TLSSkipVerify bool
	Timeout       time.Duration
}

// AudioObserver receives each tunneled audio payload as it arrives, before
// any further decoding. Registering one does not disturb the connection's
// handling of other message types.
type AudioObserver func(packet []byte)

// ControlHandler receives non-audio envelope payloads.
type ControlHandler func(msgType uint16, payload []byte)

// Conn is a framed client connection to the voice server's control
// channel. Reads run on an internal goroutine; writes are serialized.
type Conn struct {
	logger *zap.Logger
	conn   net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	observer AudioObserver
	control  ControlHandler
	closed   bool

	done    chan struct{}
	readErr error
}

// Dial connects to the voice server and starts the read loop.
func Dial(ctx context.Context, cfg DialConfig, logger *zap.Logger) (*Conn, error) {
	if cfg.Addr == "" {
		return nil, errors.New("murmur: server address is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	var (
		nc  net.Conn
		err error
	)
	if cfg.TLSEnabled {
		td := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{InsecureSkipVerify: cfg.TLSSkipVerify},
		}
		nc, err = td.DialContext(ctx, "tcp", cfg.Addr)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", cfg.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("murmur: dial %s: %w", cfg.Addr, err)
	}
	return NewConn(nc, logger), nil
}

// NewConn wraps an established connection and starts the read loop.
func NewConn(nc net.Conn, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Conn{
		logger: logger,
		conn:   nc,
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// SetAudioObserver registers the tunneled-audio hook. Passing nil restores
// the default behavior of discarding audio envelopes.
func (c *Conn) SetAudioObserver(fn AudioObserver) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// SetControlHandler registers a handler for non-audio envelopes.
func (c *Conn) SetControlHandler(fn ControlHandler) {
	c.mu.Lock()
	c.control = fn
	c.mu.Unlock()
}

// WriteAudio wraps packet in a tunnel-audio envelope and writes it.
func (c *Conn) WriteAudio(ctx context.Context, packet []byte) error {
	return c.write(ctx, MsgUDPTunnel, packet)
}

// WriteMessage writes an arbitrary control envelope.
func (c *Conn) WriteMessage(ctx context.Context, msgType uint16, payload []byte) error {
	return c.write(ctx, msgType, payload)
}

func (c *Conn) write(ctx context.Context, msgType uint16, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnClosed
	}

	frame := EncodeEnvelope(msgType, payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.conn.Write(frame); err != nil {
		return fmt.Errorf("murmur: write: %w", err)
	}
	return nil
}

// Done is closed when the read loop exits, either from Close or a
// transport error. Err reports the cause afterwards.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the read-loop error once Done is closed; nil after a
// clean Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	return c.readErr
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Conn) readLoop() {
	defer close(c.done)

	header := make([]byte, envelopeHeaderLen)
	for {
		if _, err := io.ReadFull(c.conn, header); err != nil {
			c.finish(err)
			return
		}
		msgType := binary.BigEndian.Uint16(header[0:2])
		length := binary.BigEndian.Uint32(header[2:6])
		if length > maxEnvelopePayload {
			c.finish(fmt.Errorf("murmur: envelope length %d exceeds limit", length))
			return
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(c.conn, payload); err != nil {
			c.finish(err)
			return
		}

		c.mu.Lock()
		observer := c.observer
		control := c.control
		c.mu.Unlock()

		if msgType == MsgUDPTunnel {
			if observer != nil {
				observer(payload)
			}
			continue
		}
		if control != nil {
			control(msgType, payload)
		}
	}
}

func (c *Conn) finish(err error) {
	c.mu.Lock()
	wasClosed := c.closed
	if !wasClosed {
		c.readErr = err
	}
	c.mu.Unlock()
	if !wasClosed && err != nil && !errors.Is(err, io.EOF) {
		c.logger.Warn("murmur connection read failed", zap.Error(err))
	}
	_ = c.conn.Close()
}
