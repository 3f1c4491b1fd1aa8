package websocket

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// readBufferSize is the size of the buffer Serve passes to net.Conn.Read.
// It is independent of any single frame or message size; fragmentation
// and chunking are handled entirely by the parser.
const readBufferSize = 4096

// errConnClosedLocally is the sentinel parser.feed returns from onClose
// once drop has already run, telling Serve to stop reading without
// treating the termination as a protocol error.
var errConnClosedLocally = errors.New("websocket: close handshake completed")

// Conn is one WebSocket connection: a net.Conn paired with a parser and
// the public message API of spec.md §4.5. It owns its transport, its
// parser state, and its reassembly buffer for its lifetime; a host holds
// a shared reference to issue sends and install callbacks, which are
// invoked synchronously from inside Serve's call stack with no lock held
// across the call (spec.md §5).
type Conn struct {
	id          uuid.UUID
	role        Role
	subprotocol string

	nc     net.Conn
	parser *parser

	alive atomic.Bool

	writeMu sync.Mutex
	dropMu  sync.Once

	syncMu     sync.Mutex
	lastSyncAt time.Time

	handlersMu    sync.Mutex
	textHandler   func([]byte)
	binaryHandler func([]byte)
	syncHandler   func(time.Time)
	onEnd         func(appErr error, code CloseCode)

	clock       Clock
	rand        io.Reader
	logger      *zerolog.Logger
	metrics     *Metrics
	idleTimeout time.Duration
}

func newConn(nc net.Conn, role Role, subprotocol string, opts *Options) *Conn {
	c := &Conn{
		id:          uuid.New(),
		role:        role,
		subprotocol: subprotocol,
		nc:          nc,
		clock:       opts.clock(),
		rand:        opts.rand(),
		logger:      opts.logger(),
	}
	if opts != nil {
		c.metrics = opts.Metrics
		c.idleTimeout = opts.IdleTimeout
	}
	c.alive.Store(true)
	c.lastSyncAt = c.clock.Now()
	maxMsg := int64(0)
	if opts != nil {
		maxMsg = opts.MaxMessageBytes
	}
	c.parser = newParser(role, maxMsg, c)
	c.metrics.connOpened()
	return c
}

// ID uniquely identifies this connection for the lifetime of the process;
// it is also the correlating field on every log line Conn emits.
func (c *Conn) ID() uuid.UUID { return c.id }

// Role reports which side of the handshake this Conn played.
func (c *Conn) Role() Role { return c.role }

// Subprotocol returns the subprotocol negotiated during the handshake, or
// "" if none was selected.
func (c *Conn) Subprotocol() string { return c.subprotocol }

// IsOpen reports whether the connection is still alive. It transitions
// true→false exactly once, when drop first runs.
func (c *Conn) IsOpen() bool { return c.alive.Load() }

// LastSyncDate returns the timestamp of the most recent inbound byte.
func (c *Conn) LastSyncDate() time.Time {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.lastSyncAt
}

// OnText installs the handler invoked for each complete text message.
func (c *Conn) OnText(fn func(string)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.textHandler = func(b []byte) { fn(string(b)) }
}

// OnBinary installs the handler invoked for each complete binary message.
func (c *Conn) OnBinary(fn func([]byte)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.binaryHandler = fn
}

// OnSync installs the handler invoked once per inbound transport read,
// before any message/control callback produced by that read.
func (c *Conn) OnSync(fn func(time.Time)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.syncHandler = fn
}

// OnEnd installs the handler invoked exactly once when the connection
// terminates, with the triggering error (nil for a clean close) and the
// close code that was sent or received.
func (c *Conn) OnEnd(fn func(appErr error, code CloseCode)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.onEnd = fn
}

// SendText serializes s as a single unfragmented text frame, masked iff
// this Conn is playing the client role, and writes it to the transport.
func (c *Conn) SendText(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidUTF8
	}
	return c.sendFrame(OpText, []byte(s))
}

// SendBinary is SendText for an opaque binary payload.
func (c *Conn) SendBinary(data []byte) error {
	return c.sendFrame(OpBinary, data)
}

// SendPing writes a ping control frame; payload may be nil or up to 125
// bytes. The peer is expected to reply with a pong echoing payload.
func (c *Conn) SendPing(payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrControlFramePayload
	}
	if len(payload) == 0 {
		return c.writeRaw(c.preformatted(pingFrameMasked, pingFrameUnmasked))
	}
	return c.sendFrame(OpPing, payload)
}

// SendPong writes a pong control frame; payload may be nil or up to 125
// bytes. Used to proactively heartbeat a peer rather than reply to a
// ping (ping replies are sent automatically by the parser dispatch).
func (c *Conn) SendPong(payload []byte) error {
	if len(payload) > maxControlPayload {
		return ErrControlFramePayload
	}
	if len(payload) == 0 {
		return c.writeRaw(c.preformatted(pongFrameMasked, pongFrameUnmasked))
	}
	return c.sendFrame(OpPong, payload)
}

// End initiates a local close with code 1000 (normal closure).
func (c *Conn) End() error {
	return c.drop(CloseNormalClosure, nil)
}

func (c *Conn) preformatted(masked, unmasked []byte) []byte {
	if c.role == RoleClient {
		return masked
	}
	return unmasked
}

func (c *Conn) sendFrame(opcode byte, payload []byte) error {
	frame, err := EncodeFrame(opcode, payload, c.role == RoleClient, c.rand)
	if err != nil {
		return err
	}
	return c.writeRaw(frame)
}

func (c *Conn) writeRaw(frame []byte) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.nc.Write(frame)
	return err
}

// Serve runs the single-threaded read loop: it alternates transport reads
// and parser dispatch until the connection ends, for whatever reason, and
// always funnels that end through drop exactly once before returning.
// Host callbacks registered via On* fire synchronously from within this
// call; re-entrant sends from inside a callback are legal (writeRaw is
// serialized by its own mutex, distinct from the read path).
func (c *Conn) Serve(ctx context.Context) error {
	buf := make([]byte, readBufferSize)

	for {
		if ctx.Err() != nil {
			return c.drop(CloseGoingAway, ctx.Err())
		}

		if c.idleTimeout > 0 {
			_ = c.nc.SetReadDeadline(c.clock.Now().Add(c.idleTimeout))
		}

		n, readErr := c.nc.Read(buf)
		now := c.clock.Now()

		if n > 0 {
			c.metrics.bytes(n)
			if ferr := c.parser.feed(buf[:n], now); ferr != nil {
				if errors.Is(ferr, errConnClosedLocally) {
					return nil
				}
				_ = c.drop(closeCodeFor(ferr), ferr)
				return ferr
			}
		}

		if readErr != nil {
			return c.classifyReadError(readErr)
		}
	}
}

func (c *Conn) classifyReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return c.drop(CloseNormalClosure, nil)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.drop(ClosePolicyViolation, err)
	}
	return c.drop(CloseInternalError, err)
}

// drop is the sole termination path; it is idempotent and safe to call
// from Serve, from a parser callback, or from the host (End). Only the
// first call has any effect.
func (c *Conn) drop(code CloseCode, cause error) error {
	var writeErr error
	c.dropMu.Do(func() {
		c.alive.Store(false)

		frame, encErr := encodeCloseFrame(code, "", c.role == RoleClient, c.rand)
		if encErr == nil {
			c.writeMu.Lock()
			writeErr = ignoreClosedWrite(c.nc.Write(frame))
			c.writeMu.Unlock()
		}

		if cw, ok := c.nc.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		} else {
			_ = c.nc.Close()
		}

		c.metrics.connClosed(code)
		c.logDrop(code, cause)

		c.handlersMu.Lock()
		onEnd := c.onEnd
		c.handlersMu.Unlock()
		if onEnd != nil {
			onEnd(cause, code)
		}
	})
	return writeErr
}

func ignoreClosedWrite(_ int, err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Conn) logDrop(code CloseCode, cause error) {
	ev := c.logger.Info()
	if cause != nil {
		ev = c.logger.Warn().Err(cause)
	}
	ev.Str("conn_id", c.id.String()).
		Str("role", c.role.String()).
		Str("close_code", code.String()).
		Msg("websocket connection closed")
}

// --- parserSink ---

func (c *Conn) onSyncCallback(now time.Time) {
	c.syncMu.Lock()
	c.lastSyncAt = now
	c.syncMu.Unlock()

	c.handlersMu.Lock()
	cb := c.syncHandler
	c.handlersMu.Unlock()
	if cb != nil {
		cb(now)
	}
}

func (c *Conn) onTextCallback(data []byte) error {
	c.metrics.frameOpcode(OpText)
	c.handlersMu.Lock()
	cb := c.textHandler
	c.handlersMu.Unlock()
	if cb != nil {
		cb(data)
	}
	return nil
}

func (c *Conn) onBinaryCallback(data []byte) error {
	c.metrics.frameOpcode(OpBinary)
	c.handlersMu.Lock()
	cb := c.binaryHandler
	c.handlersMu.Unlock()
	if cb != nil {
		cb(data)
	}
	return nil
}

func (c *Conn) onPingCallback(payload []byte) error {
	c.metrics.frameOpcode(OpPing)
	if len(payload) == 0 {
		return c.writeRaw(c.preformatted(pongFrameMasked, pongFrameUnmasked))
	}
	return c.sendFrame(OpPong, payload)
}

func (c *Conn) onPongCallback(_ []byte) error {
	c.metrics.frameOpcode(OpPong)
	return nil
}

func (c *Conn) onCloseCallback(code CloseCode, _ string) error {
	c.metrics.frameOpcode(OpClose)
	sendCode := code
	switch sendCode {
	case CloseNoStatusReceived, CloseAbnormalClosure, 1015:
		sendCode = CloseNormalClosure
	}
	_ = c.drop(sendCode, nil)
	return errConnClosedLocally
}

var (
	_ parserSink = (*Conn)(nil)
)

// the parserSink interface's unqualified names are implemented by these
// thin wrappers so Conn's exported On* API can keep the spec's naming
// (OnText, OnBinary, ...) distinct from the parser's dispatch contract.
func (c *Conn) onSync(now time.Time)                        { c.onSyncCallback(now) }
func (c *Conn) onText(data []byte) error                    { return c.onTextCallback(data) }
func (c *Conn) onBinary(data []byte) error                  { return c.onBinaryCallback(data) }
func (c *Conn) onPing(payload []byte) error                 { return c.onPingCallback(payload) }
func (c *Conn) onPong(payload []byte) error                 { return c.onPongCallback(payload) }
func (c *Conn) onClose(code CloseCode, reason string) error { return c.onCloseCallback(code, reason) }
