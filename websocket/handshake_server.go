package websocket

import (
	"crypto/sha1" // #nosec G505 - SHA-1 required by RFC 6455 Section 1.3
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// websocketGUID is the magic GUID from RFC 6455 Section 1.3, appended to
// a client's Sec-WebSocket-Key before hashing to produce
// Sec-WebSocket-Accept.
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Accept performs the server side of the opening handshake (RFC 6455
// Section 4.2) against an in-flight HTTP request, hijacks the underlying
// connection, and returns a Conn ready for Serve. On any validation
// failure it returns one of the distinct ErrXxx sentinels from errors.go
// and leaves the transport untouched for the caller to close; Accept never
// writes an error response body itself. If w does not implement
// http.Hijacker, Accept returns ErrNotHTTPServer after the 101 status and
// headers have already been written to w.
func Accept(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	if opts == nil {
		opts = &AcceptOptions{}
	}

	if r.Method != http.MethodGet {
		return nil, ErrMethod
	}
	if !r.ProtoAtLeast(1, 1) {
		return nil, ErrHTTPVersion
	}
	if !httpguts.HeaderValuesContainsToken(r.Header["Upgrade"], "websocket") {
		return nil, ErrUpgradeHeader
	}
	if !httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade") {
		return nil, ErrConnectionHeader
	}
	if r.Header.Get("Sec-WebSocket-Version") != "13" {
		return nil, ErrWebSocketVersion
	}

	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, ErrWebSocketKey
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return nil, ErrWebSocketKey
	}

	subprotocol := ""
	if opts.SelectProtocol != nil {
		subprotocol = opts.SelectProtocol(offeredProtocols(r.Header.Get("Sec-WebSocket-Protocol")))
	}

	for name, values := range opts.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.Header().Set("Upgrade", "websocket")
	w.Header().Set("Connection", "Upgrade")
	w.Header().Set("Sec-WebSocket-Accept", computeAcceptKey(key))
	if subprotocol != "" {
		w.Header().Set("Sec-WebSocket-Protocol", subprotocol)
	}
	w.WriteHeader(http.StatusSwitchingProtocols)

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return nil, ErrNotHTTPServer
	}
	nc, bufrw, err := hijacker.Hijack()
	if err != nil {
		return nil, err
	}
	if err := bufrw.Flush(); err != nil {
		_ = nc.Close()
		return nil, err
	}
	if bufrw.Reader.Buffered() > 0 {
		// Bytes the client pipelined immediately after the handshake
		// (already past hijack's buffered reader) are the parser's
		// first input; nothing else in this engine reads through
		// bufrw again.
		buffered, _ := bufrw.Reader.Peek(bufrw.Reader.Buffered())
		conn := newConn(nc, RoleServer, subprotocol, &opts.Options)
		if len(buffered) > 0 {
			if ferr := conn.parser.feed(buffered, conn.clock.Now()); ferr != nil {
				_ = conn.drop(closeCodeFor(ferr), ferr)
				return conn, ferr
			}
		}
		return conn, nil
	}

	return newConn(nc, RoleServer, subprotocol, &opts.Options), nil
}

// computeAcceptKey computes Sec-WebSocket-Accept from a client's
// Sec-WebSocket-Key per RFC 6455 Section 1.3:
// base64(SHA-1(key + websocketGUID)).
func computeAcceptKey(key string) string {
	// #nosec G401 - SHA-1 required by RFC 6455 Section 1.3, not used for cryptographic security
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// offeredProtocols splits a Sec-WebSocket-Protocol request header into
// its comma-separated, trimmed tokens.
func offeredProtocols(header string) []string {
	if header == "" {
		return nil
	}
	parts := strings.Split(header, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
