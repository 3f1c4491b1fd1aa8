package websocket

import (
	"crypto/rand"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Role distinguishes which side of the handshake a Conn played; it
// governs the masking asymmetry RFC 6455 Section 5.3 requires (clients
// mask their frames, servers never do, and each role rejects a peer that
// gets this backwards).
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// Clock is the injected time source for last-activity tracking, per
// spec.md §9's note that timestamps should use a clock injected at
// construction for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options carries the configuration surface spec.md §9 lists as
// recognized but left to the implementer: message and idle limits, plus
// the injected logging, metrics, clock, and randomness capabilities.
// Both DialOptions and AcceptOptions embed it.
type Options struct {
	// MaxMessageBytes bounds a single reassembled message; exceeding it
	// closes the connection with CloseMessageTooBig. Zero means
	// unlimited.
	MaxMessageBytes int64

	// IdleTimeout, if nonzero, is applied as a read deadline on the
	// underlying net.Conn before every read; a timeout closes the
	// connection with ClosePolicyViolation (1008), and OnEnd receives the
	// read's timeout error.
	IdleTimeout time.Duration

	// Logger receives one structured event per connection termination,
	// carrying the protocol or I/O error that caused it, if any. Handshake
	// rejections are not logged. A nil Logger disables logging
	// (zerolog.Nop()).
	Logger *zerolog.Logger

	// Metrics receives connection and frame counters. A nil Metrics
	// disables instrumentation.
	Metrics *Metrics

	// Clock is the time source for LastSyncDate(). Defaults to the
	// system clock.
	Clock Clock

	// RandSource supplies masking keys and handshake nonces. Defaults to
	// crypto/rand.Reader.
	RandSource io.Reader
}

func (o *Options) logger() *zerolog.Logger {
	if o == nil || o.Logger == nil {
		l := zerolog.Nop()
		return &l
	}
	return o.Logger
}

func (o *Options) clock() Clock {
	if o == nil || o.Clock == nil {
		return realClock{}
	}
	return o.Clock
}

func (o *Options) rand() io.Reader {
	if o == nil || o.RandSource == nil {
		return rand.Reader
	}
	return o.RandSource
}

// AcceptOptions configures the server role's Accept.
type AcceptOptions struct {
	Options

	// SelectProtocol chooses one subprotocol from the client's offered
	// list, or returns "" to select none. The default selects none.
	SelectProtocol func(offered []string) string

	// Header is copied onto the 101 response in addition to the
	// required Upgrade/Connection/Accept/Protocol headers.
	Header http.Header
}

// DialOptions configures the client role's Dial.
type DialOptions struct {
	Options

	// Header is sent on the upgrade request in addition to the required
	// Host/Upgrade/Connection/Key/Version headers.
	Header http.Header

	// Subprotocols is offered to the server via Sec-WebSocket-Protocol.
	Subprotocols []string

	// TLSConfig configures the transport for a wss:// URL. A nil value
	// uses the zero tls.Config.
	TLSConfig *tls.Config

	// DialTimeout bounds establishing the transport. Zero means no
	// timeout beyond whatever the OS applies.
	DialTimeout time.Duration
}
