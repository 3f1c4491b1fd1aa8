package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// Dial performs the client side of the opening handshake (RFC 6455
// Section 4.1) against target, establishing the transport itself
// (net.Dial or tls.Dial depending on scheme) and returning a Conn ready
// for Serve along with the server's raw HTTP response. On any
// validation failure it returns the response (if one was received) and
// one of the distinct ErrXxx sentinels; the transport is left open for
// the caller to close.
func Dial(ctx context.Context, target string, opts *DialOptions) (*Conn, *http.Response, error) {
	if opts == nil {
		opts = &DialOptions{}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, nil, err
	}

	var tlsEnabled bool
	switch u.Scheme {
	case "ws":
		tlsEnabled = false
	case "wss":
		tlsEnabled = true
	default:
		return nil, nil, fmt.Errorf("websocket: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if tlsEnabled {
			port = "443"
		} else {
			port = "80"
		}
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: opts.DialTimeout}
	var nc net.Conn
	if tlsEnabled {
		nc, err = tls.DialWithDialer(dialer, "tcp", addr, opts.TLSConfig)
	} else {
		nc, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, err
	}

	keyBytes := make([]byte, 16)
	if _, err := io.ReadFull(opts.rand(), keyBytes); err != nil {
		_ = nc.Close()
		return nil, nil, err
	}
	key := base64.StdEncoding.EncodeToString(keyBytes)

	requestPath := u.RequestURI()
	if requestPath == "" {
		requestPath = "/"
	}

	req := &http.Request{
		Method:     http.MethodGet,
		URL:        u,
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Host:       u.Host,
	}
	for name, values := range opts.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "keep-alive, upgrade")
	req.Header.Set("Sec-WebSocket-Key", key)
	req.Header.Set("Sec-WebSocket-Version", "13")
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ", "))
	}

	if _, err := fmt.Fprintf(nc, "GET %s HTTP/1.1\r\n", requestPath); err != nil {
		_ = nc.Close()
		return nil, nil, err
	}
	if err := req.Header.Write(nc); err != nil {
		_ = nc.Close()
		return nil, nil, err
	}
	if _, err := io.WriteString(nc, "Host: "+u.Host+"\r\n\r\n"); err != nil {
		_ = nc.Close()
		return nil, nil, err
	}

	br := bufio.NewReader(nc)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, err
	}

	if !resp.ProtoAtLeast(1, 1) {
		return nil, resp, ErrHTTPVersion
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, resp, ErrStatusCodeNotUpgraded
	}
	if !httpguts.HeaderValuesContainsToken(resp.Header["Upgrade"], "websocket") {
		return nil, resp, ErrUpgradeHeader
	}
	if !httpguts.HeaderValuesContainsToken(resp.Header["Connection"], "upgrade") {
		return nil, resp, ErrConnectionHeader
	}
	if resp.Header.Get("Sec-WebSocket-Accept") != computeAcceptKey(key) {
		return nil, resp, ErrInvalidAccept
	}

	// The server selects at most one subprotocol; spec.md §9 flags the
	// reference's bug of echoing the caller's own request headers here
	// instead of what the server actually returned.
	subprotocol := resp.Header.Get("Sec-WebSocket-Protocol")

	conn := newConn(nc, RoleClient, subprotocol, &opts.Options)
	if br.Buffered() > 0 {
		buffered, _ := br.Peek(br.Buffered())
		if ferr := conn.parser.feed(buffered, conn.clock.Now()); ferr != nil {
			_ = conn.drop(closeCodeFor(ferr), ferr)
			return conn, resp, ferr
		}
	}

	return conn, resp, nil
}
