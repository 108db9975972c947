package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"relay/cmd/identity"
)

func newTestGateway(t *testing.T) (*Gateway, *Registry) {
	t.Helper()

	store := identity.NewMemoryStore()
	seedUser(t, store, "ada@example.com", "user-ada", "hash-ada")
	verifier := &fakeVerifier{wantHash: "hash-ada", wantPassword: "correct horse"}

	reg := NewRegistry(testLogger(), nil)
	d := NewDispatcher(testLogger(), reg, store, verifier, nil, 2)

	cfg := DefaultGatewayConfig()
	cfg.OriginRequired = false
	cfg.ReadIdleTimeout = 5 * time.Second
	return NewGateway(testLogger(), reg, d, cfg), reg
}

func dialTestServer(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func waitForLen(t *testing.T, reg *Registry, want int) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry Len() = %d, want %d", reg.Len(), want)
}

func TestGatewayLifecycleLoginAndChat(t *testing.T) {
	t.Parallel()

	gw, reg := newTestGateway(t)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	waitForLen(t, reg, 1)

	login := `{"LoginWithPassword":{"email":"ada@example.com","password":"correct horse"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(login)); err != nil {
		t.Fatalf("write login: %v", err)
	}

	chat := `{"ChatMessage":{"chat_message":"hello relay"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(chat)); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	mt, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	if mt != websocket.MessageText {
		t.Fatalf("broadcast frame type = %v, want text", mt)
	}
	if !strings.Contains(string(data), "<p>hello relay</p>") {
		t.Fatalf("broadcast payload = %q, want chat fragment", data)
	}
}

func TestGatewayBroadcastReachesOtherConnections(t *testing.T) {
	t.Parallel()

	gw, reg := newTestGateway(t)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sender := dialTestServer(t, ctx, srv)
	defer sender.Close(websocket.StatusNormalClosure, "test done")
	listener := dialTestServer(t, ctx, srv)
	defer listener.Close(websocket.StatusNormalClosure, "test done")
	waitForLen(t, reg, 2)

	login := `{"LoginWithPassword":{"email":"ada@example.com","password":"correct horse"}}`
	if err := sender.Write(ctx, websocket.MessageText, []byte(login)); err != nil {
		t.Fatalf("write login: %v", err)
	}
	chat := `{"ChatMessage":{"chat_message":"fan out"}}`
	if err := sender.Write(ctx, websocket.MessageText, []byte(chat)); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	// The listener never authenticated; delivery is registry-wide anyway.
	_, data, err := listener.Read(ctx)
	if err != nil {
		t.Fatalf("listener read: %v", err)
	}
	if !strings.Contains(string(data), "<p>fan out</p>") {
		t.Fatalf("listener payload = %q, want chat fragment", data)
	}
}

func TestGatewayDisconnectRemovesRegistryEntry(t *testing.T) {
	t.Parallel()

	gw, reg := newTestGateway(t)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv)
	waitForLen(t, reg, 1)

	if err := conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close: %v", err)
	}
	waitForLen(t, reg, 0)
}

func TestGatewaySurvivesMalformedFrames(t *testing.T) {
	t.Parallel()

	gw, reg := newTestGateway(t)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	waitForLen(t, reg, 1)

	// Undecodable application payloads keep the connection open.
	for _, bad := range []string{"not json", `{}`, `{"Unknown":{}}`} {
		if err := conn.Write(ctx, websocket.MessageText, []byte(bad)); err != nil {
			t.Fatalf("write %q: %v", bad, err)
		}
	}

	login := `{"LoginWithPassword":{"email":"ada@example.com","password":"correct horse"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(login)); err != nil {
		t.Fatalf("write login: %v", err)
	}
	chat := `{"ChatMessage":{"chat_message":"still here"}}`
	if err := conn.Write(ctx, websocket.MessageText, []byte(chat)); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read after malformed frames: %v", err)
	}
	if !strings.Contains(string(data), "<p>still here</p>") {
		t.Fatalf("payload = %q, want chat fragment", data)
	}
}

func TestGatewayBinaryFrameTerminatesConnection(t *testing.T) {
	t.Parallel()

	gw, reg := newTestGateway(t)
	srv := httptest.NewServer(gw)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn := dialTestServer(t, ctx, srv)
	defer conn.Close(websocket.StatusNormalClosure, "test done")
	waitForLen(t, reg, 1)

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	waitForLen(t, reg, 0)
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatalf("read after binary frame succeeded, want close")
	}
}

func TestGatewayRejectsDisallowedOrigin(t *testing.T) {
	t.Parallel()

	gw, _ := newTestGateway(t)
	gw.cfg.OriginRequired = true
	gw.cfg.AllowedOrigins = []string{"http://allowed.test"}

	srv := httptest.NewServer(gw)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Origin", "http://evil.test")

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}
}

func TestEnforceOrigin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		required bool
		allowed  []string
		origin   string
		wantErr  bool
	}{
		{"missing origin allowed when not required", false, []string{"http://a.test"}, "", false},
		{"missing origin rejected when required", true, []string{"http://a.test"}, "", true},
		{"exact match", true, []string{"http://a.test"}, "http://a.test", false},
		{"host match across scheme", true, []string{"http://a.test"}, "https://a.test", false},
		{"host match across port", true, []string{"http://a.test:3000"}, "http://a.test:8080", false},
		{"wildcard", true, []string{"*"}, "http://anything.test", false},
		{"no match", true, []string{"http://a.test"}, "http://b.test", true},
		{"empty allowlist", true, nil, "http://a.test", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			g := &Gateway{cfg: GatewayConfig{
				OriginRequired: tc.required,
				AllowedOrigins: tc.allowed,
			}}

			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}

			err := g.enforceOrigin(req)
			if (err != nil) != tc.wantErr {
				t.Fatalf("enforceOrigin(%q) err = %v, wantErr = %v", tc.origin, err, tc.wantErr)
			}
		})
	}
}

func TestOriginHost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost", "localhost"},
		{"https://Example.COM:8443", "example.com"},
		{"localhost:3000", "localhost"},
		{"127.0.0.1", "127.0.0.1"},
		{"", ""},
	}

	for _, tc := range tests {
		if got := originHost(tc.in); got != tc.want {
			t.Fatalf("originHost(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClassifyReadErr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want readErrKind
	}{
		{"context canceled", context.Canceled, readErrCtxDone},
		{"deadline exceeded", context.DeadlineExceeded, readErrCtxDone},
		{"net closed", net.ErrClosed, readErrConnClosed},
		{"eof", io.EOF, readErrConnClosed},
		{"plain error", errors.New("boom"), readErrUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := classifyReadErr(tc.err); got != tc.want {
				t.Fatalf("classifyReadErr = %v, want %v", got, tc.want)
			}
		})
	}
}
