package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func validUpgradeRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/ws", http.NoBody)
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Sec-WebSocket-Version", "13")
	return req
}

// TestAccept_Success uses httptest.ResponseRecorder, which does not
// implement http.Hijacker, so a valid request is still expected to fail
// at the hijack step — but only after every validation has passed and
// the 101 headers have been written, which this test verifies.
func TestAccept_Success(t *testing.T) {
	req := validUpgradeRequest()
	w := httptest.NewRecorder()

	_, err := Accept(w, req, nil)
	if err != ErrNotHTTPServer {
		t.Fatalf("expected ErrNotHTTPServer from a non-hijackable ResponseWriter, got: %v", err)
	}

	if w.Code != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101", w.Code)
	}
	if got := w.Header().Get("Upgrade"); got != "websocket" {
		t.Errorf("Upgrade header = %q, want websocket", got)
	}
	if got := w.Header().Get("Connection"); got != "Upgrade" {
		t.Errorf("Connection header = %q, want Upgrade", got)
	}

	const wantAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got := w.Header().Get("Sec-WebSocket-Accept"); got != wantAccept {
		t.Errorf("Sec-WebSocket-Accept = %q, want %q", got, wantAccept)
	}
}

func TestAccept_InvalidMethod(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			req := validUpgradeRequest()
			req.Method = method
			_, err := Accept(httptest.NewRecorder(), req, nil)
			if err != ErrMethod {
				t.Errorf("err = %v, want ErrMethod", err)
			}
		})
	}
}

func TestAccept_MissingUpgradeHeader(t *testing.T) {
	req := validUpgradeRequest()
	req.Header.Del("Upgrade")
	_, err := Accept(httptest.NewRecorder(), req, nil)
	if err != ErrUpgradeHeader {
		t.Errorf("err = %v, want ErrUpgradeHeader", err)
	}
}

func TestAccept_MissingConnectionHeader(t *testing.T) {
	req := validUpgradeRequest()
	req.Header.Set("Connection", "keep-alive")
	_, err := Accept(httptest.NewRecorder(), req, nil)
	if err != ErrConnectionHeader {
		t.Errorf("err = %v, want ErrConnectionHeader", err)
	}
}

func TestAccept_UnsupportedVersion(t *testing.T) {
	req := validUpgradeRequest()
	req.Header.Set("Sec-WebSocket-Version", "8")
	_, err := Accept(httptest.NewRecorder(), req, nil)
	if err != ErrWebSocketVersion {
		t.Errorf("err = %v, want ErrWebSocketVersion", err)
	}
}

func TestAccept_MissingKey(t *testing.T) {
	req := validUpgradeRequest()
	req.Header.Del("Sec-WebSocket-Key")
	_, err := Accept(httptest.NewRecorder(), req, nil)
	if err != ErrWebSocketKey {
		t.Errorf("err = %v, want ErrWebSocketKey", err)
	}
}

func TestAccept_MalformedKey(t *testing.T) {
	req := validUpgradeRequest()
	req.Header.Set("Sec-WebSocket-Key", "not-base64-16-bytes")
	_, err := Accept(httptest.NewRecorder(), req, nil)
	if err != ErrWebSocketKey {
		t.Errorf("err = %v, want ErrWebSocketKey", err)
	}
}

func TestComputeAcceptKey(t *testing.T) {
	got := computeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Errorf("computeAcceptKey = %q, want %q", got, want)
	}
}

func TestOfferedProtocols(t *testing.T) {
	got := offeredProtocols(" chat , superchat ,")
	want := []string{"chat", "superchat"}
	if len(got) != len(want) {
		t.Fatalf("offeredProtocols = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("offeredProtocols[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAccept_SelectProtocol(t *testing.T) {
	req := validUpgradeRequest()
	req.Header.Set("Sec-WebSocket-Protocol", "chat, superchat")

	w := httptest.NewRecorder()
	opts := &AcceptOptions{
		SelectProtocol: func(offered []string) string {
			for _, p := range offered {
				if p == "superchat" {
					return p
				}
			}
			return ""
		},
	}
	_, err := Accept(w, req, opts)
	if err != ErrNotHTTPServer {
		t.Fatalf("err = %v, want ErrNotHTTPServer", err)
	}
	if got := w.Header().Get("Sec-WebSocket-Protocol"); got != "superchat" {
		t.Errorf("Sec-WebSocket-Protocol = %q, want superchat", got)
	}
}
